/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package holder builds challenge-bound presentations of agent credentials.
package holder

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/didresolver"
	"github.com/trustbloc/agent-authz/pkg/ld"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

var logger = log.New("agent-authz/holder")

// DIDResolver resolves the holder's DID document.
type DIDResolver interface {
	Resolve(ctx context.Context, didID string) (*did.Doc, error)
}

// Builder signs presentations on behalf of a holder.
type Builder struct {
	resolver DIDResolver
	crypto   vc.Crypto
}

// New returns a new Builder.
func New(resolver DIDResolver, crypto vc.Crypto) *Builder {
	return &Builder{resolver: resolver, crypto: crypto}
}

// Present wraps credentials into a presentation signed by holderKey with the authentication proof purpose.
// The challenge, and domain when set, are embedded in the proof. Every credential must have been issued
// to holderDID.
func (b *Builder) Present(ctx context.Context, credentials []*vc.Credential, holderDID string,
	holderKey ed25519.PrivateKey, challenge, domain string) (*vc.Presentation, error) {
	if len(credentials) == 0 {
		return nil, authzerr.New(authzerr.CredentialMalformedError, "no credentials to present")
	}

	if challenge == "" {
		return nil, authzerr.New(authzerr.ChallengeMismatchError, "a presentation must be bound to a challenge")
	}

	for _, c := range credentials {
		if c == nil || c.Subject == nil {
			return nil, authzerr.New(authzerr.CredentialMalformedError, "credential without subject")
		}

		if c.Subject.ID != holderDID {
			return nil, authzerr.New(authzerr.SubjectMismatchError, "credential %s is issued to %s, not to holder %s",
				c.ID, c.Subject.ID, holderDID)
		}
	}

	if len(holderKey) != ed25519.PrivateKeySize {
		return nil, authzerr.New(authzerr.KeyFormatError, "holder key must be %d bytes, got %d",
			ed25519.PrivateKeySize, len(holderKey))
	}

	doc, err := b.resolver.Resolve(ctx, holderDID)
	if err != nil {
		return nil, err // nolint:wrapcheck // carries its kind
	}

	pub, _ := holderKey.Public().(ed25519.PublicKey)

	verificationMethod, ok := didresolver.VerificationMethodForKey(doc, did.Authentication, pub)
	if !ok {
		return nil, authzerr.New(authzerr.VerificationMethodNotFound,
			"holder %s has no verification method for the holder key", holderDID)
	}

	vp := &vc.Presentation{
		Context:     []string{baseContext(credentials), ld.Ed25519Signature2020Context, ld.AgentPermissionsContext},
		ID:          uuid.New().URN(),
		Types:       []string{vc.VerifiablePresentation},
		Holder:      holderDID,
		Credentials: credentials,
	}

	signed, err := b.crypto.SignPresentation(ctx, vp, holderKey, &vc.SigningOptions{
		VerificationMethod: verificationMethod,
		Purpose:            vc.Authentication,
		Challenge:          challenge,
		Domain:             domain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign presentation: %w", err)
	}

	logger.Debugf("built presentation %s of %d credentials for %s", signed.ID, len(credentials), holderDID)

	return signed, nil
}

// baseContext follows the data model of the first credential.
func baseContext(credentials []*vc.Credential) string {
	if len(credentials[0].Context) > 0 && credentials[0].Context[0] == ld.CredentialsV2Context {
		return ld.CredentialsV2Context
	}

	return ld.CredentialsV1Context
}
