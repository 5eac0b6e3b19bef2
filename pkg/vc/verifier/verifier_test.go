/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	vccrypto "github.com/trustbloc/agent-authz/pkg/crypto"
	"github.com/trustbloc/agent-authz/pkg/didresolver"
	"github.com/trustbloc/agent-authz/pkg/internal/testutil"
	"github.com/trustbloc/agent-authz/pkg/ld"
	"github.com/trustbloc/agent-authz/pkg/vc"
	"github.com/trustbloc/agent-authz/pkg/vc/holder"
	"github.com/trustbloc/agent-authz/pkg/vc/issuer"
)

type fixture struct {
	issuer   *testutil.Identity
	agent    *testutil.Identity
	other    *testutil.Identity
	crypto   *vccrypto.Crypto
	resolver *didresolver.Resolver
	builder  *holder.Builder
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		issuer: testutil.NewIdentity(t, "did:example:issuer"),
		agent:  testutil.NewIdentity(t, "did:example:agent-1"),
		other:  testutil.NewIdentity(t, "did:example:agent-2"),
		now:    time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}

	f.resolver, _ = testutil.Resolver(f.issuer, f.agent, f.other)
	f.crypto = vccrypto.New(f.resolver, testutil.DocumentLoader(t))
	f.builder = holder.New(f.resolver, f.crypto)

	return f
}

func (f *fixture) verifier(opts ...Option) *Verifier {
	return New(f.crypto, append([]Option{WithClock(func() time.Time { return f.now })}, opts...)...)
}

func (f *fixture) issue(t *testing.T, holderDID string, issuedAt time.Time, validity time.Duration,
	scopes ...string) *vc.Credential {
	t.Helper()

	cred, err := issuer.New(f.resolver, f.crypto, issuer.WithClock(func() time.Time { return issuedAt })).
		Issue(context.Background(), f.issuer.DID, f.issuer.Key, holderDID, &issuer.Claims{
			Type:             vc.BookOrderingCredentialType,
			Scopes:           scopes,
			ValidityDuration: validity,
		})
	require.NoError(t, err)

	return cred
}

func TestVerifyCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	t.Run("issued credential verifies with its scopes", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "search_books", "place_order")

		r := v.VerifyCredential(context.Background(), cred)
		require.True(t, r.Verified, r.Details)
		require.Empty(t, r.Reason)
		require.NoError(t, r.Err())
		require.Equal(t, f.agent.DID, r.Holder)
		require.Equal(t, []string{"search_books", "place_order"}, r.Credentials[0].Subject.Scopes)

		raw, err := json.Marshal(cred)
		require.NoError(t, err)

		r = v.VerifyCredentialJSON(context.Background(), raw)
		require.True(t, r.Verified, r.Details)
		require.Equal(t, []string{"search_books", "place_order"}, r.Credentials[0].Subject.Scopes)
	})

	t.Run("flipped signature bit", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "search_books")

		_, sig, err := multibase.Decode(cred.Proof.ProofValue)
		require.NoError(t, err)

		sig[0] ^= 0x80
		cred.Proof.ProofValue, err = multibase.Encode(multibase.Base58BTC, sig)
		require.NoError(t, err)

		r := v.VerifyCredential(context.Background(), cred)
		require.False(t, r.Verified)
		require.Equal(t, authzerr.SignatureInvalidError, r.Reason)
		require.Equal(t, authzerr.SignatureInvalidError, authzerr.KindOf(r.Err()))
	})

	t.Run("escalated scopes", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "search_books")
		cred.Subject.Scopes = append(cred.Subject.Scopes, "place_order")

		r := v.VerifyCredential(context.Background(), cred)
		require.Equal(t, authzerr.SignatureInvalidError, r.Reason)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-2*time.Hour), time.Hour, "search_books")

		r := v.VerifyCredential(context.Background(), cred)
		require.False(t, r.Verified)
		require.Equal(t, authzerr.ExpiredCredentialError, r.Reason)

		// independent of signature validity
		cred.Proof.ProofValue = "z1111"

		r = v.VerifyCredential(context.Background(), cred)
		require.Equal(t, authzerr.ExpiredCredentialError, r.Reason)
	})

	t.Run("not yet valid", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(time.Hour), 0, "search_books")

		r := v.VerifyCredential(context.Background(), cred)
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)
		require.Contains(t, r.Details, "is not valid before")
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		r := v.VerifyCredential(context.Background(), nil)
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "search_books")
		cred.Proof = nil

		r = v.VerifyCredential(context.Background(), cred)
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)
		require.Contains(t, r.Details, "no proof")

		r = v.VerifyCredentialJSON(context.Background(), []byte(`not json`))
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		r = v.VerifyCredentialJSON(context.Background(), []byte(`{"type": {"a": 1}}`))
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		r = v.VerifyCredentialJSON(context.Background(), []byte(`{"@context": ["https://example.com/unknown"],
			"type": "VerifiableCredential", "issuer": "did:example:issuer",
			"credentialSubject": {"id": "did:example:agent-1"},
			"proof": {"type": "Ed25519Signature2020", "verificationMethod": "did:example:issuer#key-1",
			"proofPurpose": "assertionMethod", "proofValue": "z1111"}}`))
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)
	})

	t.Run("signed by another identity than the issuer", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "search_books")
		cred.Issuer = f.other.DID
		cred.Proof = nil

		signed, err := f.crypto.SignCredential(context.Background(), cred, f.issuer.Key, f.issuer.KeyID)
		require.NoError(t, err)

		r := v.VerifyCredential(context.Background(), signed)
		require.Equal(t, authzerr.SignatureInvalidError, r.Reason)
		require.Contains(t, r.Details, "not by issuer")
	})

	t.Run("revoked", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "search_books")

		r := f.verifier(WithStatusChecker(statusFunc(func(id string) (bool, error) {
			return id == cred.ID, nil
		}))).VerifyCredential(context.Background(), cred)
		require.Equal(t, authzerr.CredentialRevoked, r.Reason)

		r = f.verifier(WithStatusChecker(statusFunc(func(string) (bool, error) {
			return false, errors.New("store offline")
		}))).VerifyCredential(context.Background(), cred)
		require.False(t, r.Verified)
		require.Equal(t, authzerr.CredentialRevoked, r.Reason)
		require.Contains(t, r.Details, "store offline")
	})
}

func TestVerifyPresentation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.verifier()

	present := func(t *testing.T, challenge, domain string) *vc.Presentation {
		t.Helper()

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "search_books", "place_order")

		vp, err := f.builder.Present(context.Background(), []*vc.Credential{cred}, f.agent.DID, f.agent.Key,
			challenge, domain)
		require.NoError(t, err)

		return vp
	}

	t.Run("book ordering end to end", func(t *testing.T) {
		t.Parallel()

		vp := present(t, "auth_42", "")

		r := v.VerifyPresentation(context.Background(), vp, "auth_42", "")
		require.True(t, r.Verified, r.Details)
		require.Equal(t, f.agent.DID, r.Holder)
		require.True(t, r.Credentials[0].HasType(vc.BookOrderingCredentialType))
		require.True(t, r.Credentials[0].Subject.HasScopes("search_books", "place_order"))

		r = v.VerifyPresentation(context.Background(), vp, "auth_99", "")
		require.False(t, r.Verified)
		require.Equal(t, authzerr.ChallengeMismatchError, r.Reason)

		raw, err := json.Marshal(vp)
		require.NoError(t, err)

		r = v.VerifyPresentationJSON(context.Background(), raw, "auth_42", "")
		require.True(t, r.Verified, r.Details)

		r = v.VerifyPresentationJSON(context.Background(), raw, "auth_99", "")
		require.Equal(t, authzerr.ChallengeMismatchError, r.Reason)
	})

	t.Run("domain binding", func(t *testing.T) {
		t.Parallel()

		vp := present(t, "auth_7", "bookstore.example.com")

		require.True(t, v.VerifyPresentation(context.Background(), vp, "auth_7", "bookstore.example.com").Verified)
		require.True(t, v.VerifyPresentation(context.Background(), vp, "auth_7", "").Verified)

		r := v.VerifyPresentation(context.Background(), vp, "auth_7", "shop.example.com")
		require.Equal(t, authzerr.ChallengeMismatchError, r.Reason)
	})

	t.Run("challenge checked before signature", func(t *testing.T) {
		t.Parallel()

		vp := present(t, "auth_42", "")
		vp.Proof.ProofValue = "z1111"

		r := v.VerifyPresentation(context.Background(), vp, "auth_99", "")
		require.Equal(t, authzerr.ChallengeMismatchError, r.Reason)

		r = v.VerifyPresentation(context.Background(), vp, "auth_42", "")
		require.Equal(t, authzerr.SignatureInvalidError, r.Reason)

		r = v.VerifyPresentation(context.Background(), present(t, "auth_42", ""), "", "")
		require.Equal(t, authzerr.ChallengeMismatchError, r.Reason)
	})

	t.Run("rewritten challenge", func(t *testing.T) {
		t.Parallel()

		vp := present(t, "auth_42", "")
		vp.Proof.Challenge = "auth_99"

		r := v.VerifyPresentation(context.Background(), vp, "auth_99", "")
		require.Equal(t, authzerr.SignatureInvalidError, r.Reason)
	})

	t.Run("injected top-level field", func(t *testing.T) {
		t.Parallel()

		inject := func(t *testing.T, vp *vc.Presentation) []byte {
			t.Helper()

			doc, err := vc.ToMap(vp)
			require.NoError(t, err)

			doc["extraTop"] = "x"

			raw, err := json.Marshal(doc)
			require.NoError(t, err)

			return raw
		}

		r := v.VerifyPresentationJSON(context.Background(), inject(t, present(t, "auth_42", "")), "auth_42", "")
		require.False(t, r.Verified)
		require.Equal(t, authzerr.SignatureInvalidError, r.Reason)

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "place_order")
		bare := &vc.Presentation{
			Context:     []string{ld.CredentialsV1Context, ld.Ed25519Signature2020Context},
			Types:       []string{vc.VerifiablePresentation},
			Holder:      f.agent.DID,
			Credentials: []*vc.Credential{cred},
		}

		signed, err := f.crypto.SignPresentation(context.Background(), bare, f.agent.Key,
			&vc.SigningOptions{VerificationMethod: f.agent.KeyID, Challenge: "auth_1"})
		require.NoError(t, err)
		require.True(t, v.VerifyPresentation(context.Background(), signed, "auth_1", "").Verified)

		r = v.VerifyPresentationJSON(context.Background(), inject(t, signed), "auth_1", "")
		require.False(t, r.Verified)
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)
		require.Contains(t, r.Details, "do not define")
	})

	t.Run("credential of another subject", func(t *testing.T) {
		t.Parallel()

		foreign := f.issue(t, f.other.DID, f.now.Add(-time.Hour), 0, "place_order")
		vp := &vc.Presentation{
			Context:     []string{ld.CredentialsV1Context, ld.Ed25519Signature2020Context},
			ID:          uuid.New().URN(),
			Types:       []string{vc.VerifiablePresentation},
			Holder:      f.agent.DID,
			Credentials: []*vc.Credential{foreign},
		}

		signed, err := f.crypto.SignPresentation(context.Background(), vp, f.agent.Key,
			&vc.SigningOptions{VerificationMethod: f.agent.KeyID, Challenge: "auth_1"})
		require.NoError(t, err)

		r := v.VerifyPresentation(context.Background(), signed, "auth_1", "")
		require.Equal(t, authzerr.SubjectMismatchError, r.Reason)
	})

	t.Run("signed by someone other than the holder", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-time.Hour), 0, "place_order")
		vp := &vc.Presentation{
			Context:     []string{ld.CredentialsV1Context, ld.Ed25519Signature2020Context},
			Types:       []string{vc.VerifiablePresentation},
			Holder:      f.agent.DID,
			Credentials: []*vc.Credential{cred},
		}

		signed, err := f.crypto.SignPresentation(context.Background(), vp, f.other.Key,
			&vc.SigningOptions{VerificationMethod: f.other.KeyID, Challenge: "auth_1"})
		require.NoError(t, err)

		r := v.VerifyPresentation(context.Background(), signed, "auth_1", "")
		require.Equal(t, authzerr.SubjectMismatchError, r.Reason)
		require.Contains(t, r.Details, "not by holder")
	})

	t.Run("expired credential inside", func(t *testing.T) {
		t.Parallel()

		cred := f.issue(t, f.agent.DID, f.now.Add(-48*time.Hour), 24*time.Hour, "place_order")

		vp, err := f.builder.Present(context.Background(), []*vc.Credential{cred}, f.agent.DID, f.agent.Key,
			"auth_5", "")
		require.NoError(t, err)

		r := v.VerifyPresentation(context.Background(), vp, "auth_5", "")
		require.Equal(t, authzerr.ExpiredCredentialError, r.Reason)
		require.Contains(t, r.Details, cred.ID)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		r := v.VerifyPresentation(context.Background(), nil, "auth_1", "")
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		vp := present(t, "auth_1", "")
		vp.Proof = nil
		r = v.VerifyPresentation(context.Background(), vp, "auth_1", "")
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		vp = present(t, "auth_1", "")
		vp.Credentials = nil
		r = v.VerifyPresentation(context.Background(), vp, "auth_1", "")
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		vp = present(t, "auth_1", "")
		vp.Types = []string{"Presentation"}
		r = v.VerifyPresentation(context.Background(), vp, "auth_1", "")
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		r = v.VerifyPresentationJSON(context.Background(), []byte(`[1, 2]`), "auth_1", "")
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)

		r = v.VerifyPresentationJSON(context.Background(), []byte(`{"holder": 7}`), "auth_1", "")
		require.Equal(t, authzerr.CredentialMalformedError, r.Reason)
	})
}

func TestEmbeddedCredentials(t *testing.T) {
	t.Parallel()

	single, err := embeddedCredentials(map[string]interface{}{
		"verifiableCredential": map[string]interface{}{"id": "urn:uuid:1"},
	}, 1)
	require.NoError(t, err)
	require.Equal(t, "urn:uuid:1", single[0]["id"])

	_, err = embeddedCredentials(map[string]interface{}{"verifiableCredential": []interface{}{"urn:uuid:1"}}, 1)
	require.Error(t, err)

	_, err = embeddedCredentials(map[string]interface{}{}, 1)
	require.Error(t, err)
}

type statusFunc func(id string) (bool, error)

func (s statusFunc) IsRevoked(_ context.Context, id string) (bool, error) {
	return s(id)
}
