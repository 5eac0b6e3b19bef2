/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/multiformats/go-multibase"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/internal/testutil"
	"github.com/trustbloc/agent-authz/pkg/ld"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

func TestSignCredential(t *testing.T) {
	t.Parallel()

	issuer := testutil.NewIdentity(t, "did:example:issuer")
	resolver, _ := testutil.Resolver(issuer)
	c := New(resolver, testutil.DocumentLoader(t))

	t.Run("test sign vc - success", func(t *testing.T) {
		t.Parallel()

		cred := newCredential(issuer.DID, "did:example:agent-1")

		signedVC, err := c.SignCredential(context.Background(), cred, issuer.Key, issuer.KeyID)
		require.NoError(t, err)
		require.Equal(t, cred.ID, signedVC.ID)
		require.Nil(t, cred.Proof, "input is not modified")
		require.Equal(t, vc.Ed25519Signature2020, signedVC.Proof.Type)
		require.Equal(t, vc.AssertionMethod, signedVC.Proof.ProofPurpose)
		require.Equal(t, issuer.KeyID, signedVC.Proof.VerificationMethod)
		require.NotEmpty(t, signedVC.Proof.Created)
		require.Equal(t, byte('z'), signedVC.Proof.ProofValue[0])

		doc, err := vc.ToMap(signedVC)
		require.NoError(t, err)

		vm, err := c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.NoError(t, err)
		require.Equal(t, issuer.KeyID, vm.ID)
	})

	t.Run("test sign vc - error", func(t *testing.T) {
		t.Parallel()

		cred := newCredential(issuer.DID, "did:example:agent-1")

		// invalid signing key value
		signedVC, err := c.SignCredential(context.Background(), cred, issuer.Key, "invalid_key_format")
		require.Error(t, err)
		require.Contains(t, err.Error(), "sign credential : validate did doc : ")
		require.Nil(t, signedVC)

		// signing key not exists
		signedVC, err = c.SignCredential(context.Background(), cred, issuer.Key, issuer.DID+"#invalidKey")
		require.Error(t, err)
		require.Equal(t, authzerr.VerificationMethodNotFound, authzerr.KindOf(err))
		require.Nil(t, signedVC)

		// did resolve error
		signedVC, err = c.SignCredential(context.Background(), cred, issuer.Key, "did:example:unknown#key-1")
		require.Error(t, err)
		require.Equal(t, authzerr.DidResolutionError, authzerr.KindOf(err))
		require.Nil(t, signedVC)

		// key of another identity
		_, other, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		_, err = c.SignCredential(context.Background(), cred, other, issuer.KeyID)
		require.Error(t, err)
		require.Contains(t, err.Error(), "signing key does not match verification method")

		// truncated key
		_, err = c.SignCredential(context.Background(), cred, issuer.Key[:32], issuer.KeyID)
		require.Equal(t, authzerr.KeyFormatError, authzerr.KindOf(err))
	})

	t.Run("purpose not allowed by did doc", func(t *testing.T) {
		t.Parallel()

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		authOnly := testutil.NewDIDDoc("did:example:auth-only", pub, did.Authentication)
		r, _ := testutil.Resolver(&testutil.Identity{DID: authOnly.ID, Doc: authOnly})

		_, err = New(r, testutil.DocumentLoader(t)).SignCredential(context.Background(),
			newCredential(authOnly.ID, "did:example:agent-1"), priv, authOnly.ID+"#"+testutil.KeyFragment)
		require.Error(t, err)
		require.Equal(t, authzerr.ProofPurposeMismatch, authzerr.KindOf(err))
		require.Contains(t, err.Error(), "unable to find matching assertionMethod key IDs")
	})
}

func TestSignPresentation(t *testing.T) {
	t.Parallel()

	holder := testutil.NewIdentity(t, "did:example:agent-1")
	resolver, _ := testutil.Resolver(holder)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := New(resolver, testutil.DocumentLoader(t))

	vp := &vc.Presentation{
		Context: []string{ld.CredentialsV1Context, ld.Ed25519Signature2020Context},
		ID:      uuid.New().URN(),
		Types:   []string{vc.VerifiablePresentation},
		Holder:  holder.DID,
	}

	t.Run("test sign vp - success", func(t *testing.T) {
		t.Parallel()

		signedVP, err := c.SignPresentation(context.Background(), vp, holder.Key, &vc.SigningOptions{
			VerificationMethod: holder.KeyID,
			Challenge:          "auth_42",
			Domain:             "bookstore",
			Created:            created,
		})
		require.NoError(t, err)
		require.Equal(t, vc.Authentication, signedVP.Proof.ProofPurpose)
		require.Equal(t, "auth_42", signedVP.Proof.Challenge)
		require.Equal(t, "bookstore", signedVP.Proof.Domain)
		require.Equal(t, "2026-03-01T10:00:00Z", signedVP.Proof.Created)

		doc, err := vc.ToMap(signedVP)
		require.NoError(t, err)

		_, err = c.Verify(context.Background(), doc, vc.Authentication)
		require.NoError(t, err)

		// the challenge is covered by the signature
		proof, ok := doc["proof"].(map[string]interface{})
		require.True(t, ok)
		proof["challenge"] = "auth_99"

		_, err = c.Verify(context.Background(), doc, vc.Authentication)
		require.Equal(t, authzerr.SignatureInvalidError, authzerr.KindOf(err))
	})

	t.Run("test sign vp - error", func(t *testing.T) {
		t.Parallel()

		signedVP, err := c.SignPresentation(context.Background(), vp, holder.Key,
			&vc.SigningOptions{VerificationMethod: "invalid_key_format"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "sign presentation")
		require.Nil(t, signedVP)

		_, err = c.SignPresentation(context.Background(), vp, holder.Key,
			&vc.SigningOptions{VerificationMethod: holder.KeyID, Purpose: "capabilityDelegation"})
		require.Equal(t, authzerr.ProofPurposeMismatch, authzerr.KindOf(err))
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()

	issuer := testutil.NewIdentity(t, "did:example:issuer")
	resolver, vdr := testutil.Resolver(issuer)
	c := New(resolver, testutil.DocumentLoader(t))

	signed := func(t *testing.T) map[string]interface{} {
		t.Helper()

		cred, err := c.SignCredential(context.Background(), newCredential(issuer.DID, "did:example:agent-1"),
			issuer.Key, issuer.KeyID)
		require.NoError(t, err)

		doc, err := vc.ToMap(cred)
		require.NoError(t, err)

		return doc
	}

	t.Run("tampered claims", func(t *testing.T) {
		t.Parallel()

		doc := signed(t)
		subject, ok := doc["credentialSubject"].(map[string]interface{})
		require.True(t, ok)
		subject["scopes"] = []interface{}{"search_books", "place_order", "admin"}

		_, err := c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.SignatureInvalidError, authzerr.KindOf(err))
	})

	t.Run("flipped signature bit", func(t *testing.T) {
		t.Parallel()

		doc := signed(t)
		proof, ok := doc["proof"].(map[string]interface{})
		require.True(t, ok)

		_, sig, err := multibase.Decode(proof["proofValue"].(string))
		require.NoError(t, err)

		sig[10] ^= 0x01
		proof["proofValue"], err = multibase.Encode(multibase.Base58BTC, sig)
		require.NoError(t, err)

		_, err = c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.SignatureInvalidError, authzerr.KindOf(err))

		proof["proofValue"] = "not-multibase!"
		_, err = c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.SignatureInvalidError, authzerr.KindOf(err))
	})

	t.Run("wrong purpose", func(t *testing.T) {
		t.Parallel()

		_, err := c.Verify(context.Background(), signed(t), vc.Authentication)
		require.Equal(t, authzerr.ProofPurposeMismatch, authzerr.KindOf(err))
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		doc := signed(t)
		delete(doc, "proof")

		_, err := c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.CredentialMalformedError, authzerr.KindOf(err))
		require.Contains(t, err.Error(), "missing proof")

		doc = signed(t)
		doc["proof"] = []interface{}{doc["proof"]}
		_, err = c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.CredentialMalformedError, authzerr.KindOf(err))

		doc = signed(t)
		doc["proof"].(map[string]interface{})["type"] = "Ed25519Signature2018"
		_, err = c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Contains(t, err.Error(), "unsupported proof type")

		doc = signed(t)
		doc["@context"] = []interface{}{ld.CredentialsV1Context}
		_, err = c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.CredentialMalformedError, authzerr.KindOf(err))

		doc = signed(t)
		doc["@context"] = []interface{}{ld.CredentialsV1Context, ld.Ed25519Signature2020Context,
			"https://example.com/unknown/v1"}
		_, err = c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.CredentialMalformedError, authzerr.KindOf(err))
	})

	t.Run("signer key rotated", func(t *testing.T) {
		doc := signed(t)

		rotated := testutil.NewIdentity(t, issuer.DID)
		vdr.Put(rotated.Doc)
		resolver.Invalidate(issuer.DID)

		defer func() {
			vdr.Put(issuer.Doc)
			resolver.Invalidate(issuer.DID)
		}()

		_, err := c.Verify(context.Background(), doc, vc.AssertionMethod)
		require.Equal(t, authzerr.SignatureInvalidError, authzerr.KindOf(err))
	})
}

func TestValidateProofPurpose(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	t.Run("no relationships allows any method", func(t *testing.T) {
		t.Parallel()

		doc := testutil.NewDIDDoc("did:example:bare", pub)
		require.NoError(t, validateProofPurpose(vc.AssertionMethod, "did:example:bare#key-1", doc))
		require.NoError(t, validateProofPurpose(vc.Authentication, "did:example:bare#key-1", doc))
	})

	t.Run("relative relationship ids", func(t *testing.T) {
		t.Parallel()

		doc := testutil.NewDIDDoc("did:example:rel", pub, did.AssertionMethod)
		doc.AssertionMethod[0].VerificationMethod.ID = "#key-1"

		require.NoError(t, validateProofPurpose(vc.AssertionMethod, "did:example:rel#key-1", doc))
		require.Error(t, validateProofPurpose(vc.Authentication, "did:example:rel#key-1", doc))
	})

	t.Run("unsupported purpose", func(t *testing.T) {
		t.Parallel()

		doc := testutil.NewDIDDoc("did:example:rel", pub, did.AssertionMethod)
		err := validateProofPurpose("keyAgreement", "did:example:rel#key-1", doc)
		require.Error(t, err)
		require.Contains(t, err.Error(), "proof purpose keyAgreement not supported")
	})
}

func newCredential(issuer, holder string) *vc.Credential {
	return &vc.Credential{
		Context:        []string{ld.CredentialsV1Context, ld.Ed25519Signature2020Context, ld.AgentPermissionsContext},
		ID:             uuid.New().URN(),
		Types:          []string{vc.VerifiableCredential, vc.BookOrderingCredentialType},
		Issuer:         issuer,
		IssuanceDate:   "2026-01-01T00:00:00Z",
		ExpirationDate: "2027-01-01T00:00:00Z",
		Subject: &vc.Subject{
			ID:     holder,
			Name:   "Bookstore agent",
			Scopes: []string{"search_books", "place_order"},
			Claims: map[string]interface{}{"maxOrdersPerDay": 5.0},
		},
	}
}
