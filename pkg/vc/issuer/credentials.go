/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package issuer issues agent permission credentials.
package issuer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/didresolver"
	"github.com/trustbloc/agent-authz/pkg/internal/common/adapterutil"
	"github.com/trustbloc/agent-authz/pkg/keycodec"
	"github.com/trustbloc/agent-authz/pkg/ld"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

var logger = log.New("agent-authz/issuer")

// DefaultValidity is used when the claims do not set a validity duration.
const DefaultValidity = 90 * 24 * time.Hour

// DIDResolver resolves the issuer's DID document.
type DIDResolver interface {
	Resolve(ctx context.Context, didID string) (*did.Doc, error)
}

// Option configures the Issuer.
type Option func(i *Issuer)

// WithVerificationMethod pins the issuer verification method to the given fragment instead of
// looking it up by key.
func WithVerificationMethod(fragment string) Option {
	return func(i *Issuer) {
		i.fragment = strings.TrimPrefix(fragment, "#")
	}
}

// WithDataModelV2 issues credentials with the v2 base context and validFrom/validUntil dates.
func WithDataModelV2() Option {
	return func(i *Issuer) {
		i.dataModelV2 = true
	}
}

// WithClock sets the clock used for issuance dates.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// Issuer builds and signs agent credentials.
type Issuer struct {
	resolver    DIDResolver
	crypto      vc.Crypto
	fragment    string
	dataModelV2 bool
	now         func() time.Time
}

// New returns a new Issuer.
func New(resolver DIDResolver, crypto vc.Crypto, opts ...Option) *Issuer {
	i := &Issuer{
		resolver: resolver,
		crypto:   crypto,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Issue signs a credential binding claims to holderDID. issuerKey must be the key of one of the
// issuer's verification methods.
func (i *Issuer) Issue(ctx context.Context, issuerDID string, issuerKey ed25519.PrivateKey, holderDID string,
	claims *Claims) (*vc.Credential, error) {
	scopes, validity, err := validateClaims(holderDID, claims)
	if err != nil {
		return nil, err
	}

	if len(issuerKey) != ed25519.PrivateKeySize {
		return nil, authzerr.New(authzerr.KeyFormatError, "issuer key must be %d bytes, got %d",
			ed25519.PrivateKeySize, len(issuerKey))
	}

	verificationMethod, err := i.verificationMethod(ctx, issuerDID, issuerKey)
	if err != nil {
		return nil, err
	}

	issued := i.now().UTC().Truncate(time.Second)

	cred := &vc.Credential{
		ID:     uuid.New().URN(),
		Types:  []string{vc.VerifiableCredential, claims.Type},
		Issuer: issuerDID,
		Subject: &vc.Subject{
			ID:     holderDID,
			Name:   claims.Name,
			Scopes: scopes,
			Claims: copyConstraints(claims.Constraints),
		},
	}

	if i.dataModelV2 {
		cred.Context = []string{ld.CredentialsV2Context, ld.Ed25519Signature2020Context, ld.AgentPermissionsContext}
		cred.ValidFrom = vc.FormatTime(issued)
		cred.ValidUntil = vc.FormatTime(issued.Add(validity))
	} else {
		cred.Context = []string{ld.CredentialsV1Context, ld.Ed25519Signature2020Context, ld.AgentPermissionsContext}
		cred.IssuanceDate = vc.FormatTime(issued)
		cred.ExpirationDate = vc.FormatTime(issued.Add(validity))
	}

	signed, err := i.crypto.SignCredential(ctx, cred, issuerKey, verificationMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	logger.Debugf("issued %s credential %s to %s", claims.Type, signed.ID, holderDID)

	return signed, nil
}

// verificationMethod finds the issuer method holding the public half of key, preferring assertionMethod
// entries.
func (i *Issuer) verificationMethod(ctx context.Context, issuerDID string, key ed25519.PrivateKey) (string, error) {
	doc, err := i.resolver.Resolve(ctx, issuerDID)
	if err != nil {
		return "", authzerr.Wrap(authzerr.IssuerKeyUnresolvable, err, "resolve issuer %s", issuerDID)
	}

	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return "", authzerr.New(authzerr.KeyFormatError, "issuer key is not ed25519")
	}

	if i.fragment != "" {
		vm, found := didresolver.FindVerificationMethod(doc, didresolver.AbsoluteID(doc.ID, "#"+i.fragment))
		if !found || !didresolver.HoldsKey(vm, pub) {
			return "", authzerr.New(authzerr.IssuerKeyUnresolvable,
				"issuer %s has no verification method #%s holding the issuer key", issuerDID, i.fragment)
		}

		return didresolver.AbsoluteID(doc.ID, vm.ID), nil
	}

	vmID, found := didresolver.VerificationMethodForKey(doc, did.AssertionMethod, pub)
	if !found {
		return "", authzerr.New(authzerr.IssuerKeyUnresolvable,
			"issuer %s has no verification method for key %s", issuerDID, keycodec.String(pub))
	}

	return vmID, nil
}

// nolint:gochecknoglobals // subject fields owned by the credential model
var reservedSubjectFields = []string{"id", "name", "scopes"}

func validateClaims(holderDID string, claims *Claims) ([]string, time.Duration, error) {
	if claims == nil {
		return nil, 0, authzerr.New(authzerr.ClaimValidationError, "claims are required")
	}

	if _, err := did.Parse(holderDID); err != nil {
		return nil, 0, authzerr.Wrap(authzerr.ClaimValidationError, err, "holder %q is not a DID", holderDID)
	}

	if strings.TrimSpace(claims.Type) == "" || claims.Type == vc.VerifiableCredential {
		return nil, 0, authzerr.New(authzerr.ClaimValidationError, "credential type %q is invalid", claims.Type)
	}

	scopes := adapterutil.UniqueStrings(claims.Scopes)
	if len(scopes) == 0 {
		return nil, 0, authzerr.New(authzerr.ClaimValidationError, "at least one scope is required")
	}

	for k := range claims.Constraints {
		if adapterutil.StringsContains(k, reservedSubjectFields) || strings.HasPrefix(k, "@") {
			return nil, 0, authzerr.New(authzerr.ClaimValidationError, "constraint %q shadows a subject field", k)
		}
	}

	validity := claims.ValidityDuration

	switch {
	case validity == 0:
		validity = DefaultValidity
	case validity < time.Second:
		return nil, 0, authzerr.New(authzerr.ClaimValidationError, "validity %s must be at least one second", validity)
	}

	return scopes, validity, nil
}

func copyConstraints(constraints map[string]interface{}) map[string]interface{} {
	if len(constraints) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(constraints))
	for k, v := range constraints {
		out[k] = v
	}

	return out
}
