/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package crypto signs and verifies Ed25519Signature2020 Data Integrity proofs on credentials and
// presentations.
package crypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/multiformats/go-multibase"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/didresolver"
	"github.com/trustbloc/agent-authz/pkg/keycodec"
	"github.com/trustbloc/agent-authz/pkg/ld"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

var logger = log.New("agent-authz/crypto")

const (
	contextField    = "@context"
	proofField      = "proof"
	proofValueField = "proofValue"
)

// DIDResolver resolves the documents and keys behind proof verification methods.
type DIDResolver interface {
	Resolve(ctx context.Context, didID string) (*did.Doc, error)
	ResolveVerificationMethod(ctx context.Context, didURL string) (*did.VerificationMethod, error)
}

// Option configures Crypto.
type Option func(c *Crypto)

// WithClock sets the clock used for proof creation dates.
func WithClock(now func() time.Time) Option {
	return func(c *Crypto) {
		c.now = now
	}
}

// New returns new instance of vc crypto.
func New(resolver DIDResolver, loader *ld.Registry, opts ...Option) *Crypto {
	c := &Crypto{
		resolver: resolver,
		loader:   loader,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Crypto vc crypto.
type Crypto struct {
	resolver DIDResolver
	loader   *ld.Registry
	now      func() time.Time
}

// SignCredential signs a credential with the assertionMethod proof purpose.
func (c *Crypto) SignCredential(ctx context.Context, cred *vc.Credential, key ed25519.PrivateKey,
	verificationMethod string) (*vc.Credential, error) {
	opts := &vc.SigningOptions{VerificationMethod: verificationMethod, Purpose: vc.AssertionMethod}

	if err := c.validateDIDDoc(ctx, key, opts); err != nil {
		return nil, fmt.Errorf("sign credential : %w", err)
	}

	unsigned := *cred
	unsigned.Proof = nil

	doc, err := vc.ToMap(&unsigned)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.CredentialMalformedError, err, "sign credential")
	}

	proof, err := c.Sign(doc, opts, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	unsigned.Proof = proof

	return &unsigned, nil
}

// SignPresentation signs a presentation. The proof purpose defaults to authentication.
func (c *Crypto) SignPresentation(ctx context.Context, p *vc.Presentation, key ed25519.PrivateKey,
	opts *vc.SigningOptions) (*vc.Presentation, error) {
	signOpts := *opts
	if signOpts.Purpose == "" {
		signOpts.Purpose = vc.Authentication
	}

	if err := c.validateDIDDoc(ctx, key, &signOpts); err != nil {
		return nil, fmt.Errorf("sign presentation : %w", err)
	}

	unsigned := *p
	unsigned.Proof = nil

	doc, err := vc.ToMap(&unsigned)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.CredentialMalformedError, err, "sign presentation")
	}

	proof, err := c.Sign(doc, &signOpts, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign presentation: %w", err)
	}

	unsigned.Proof = proof

	return &unsigned, nil
}

// Sign computes an Ed25519Signature2020 proof over doc. The document is not modified and must not carry
// a proof of its own.
func (c *Crypto) Sign(doc map[string]interface{}, opts *vc.SigningOptions, key ed25519.PrivateKey) (*vc.Proof, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, authzerr.New(authzerr.KeyFormatError, "signing key must be %d bytes, got %d",
			ed25519.PrivateKeySize, len(key))
	}

	created := opts.Created
	if created.IsZero() {
		created = c.now()
	}

	proof := &vc.Proof{
		Type:               vc.Ed25519Signature2020,
		Created:            vc.FormatTime(created),
		VerificationMethod: opts.VerificationMethod,
		ProofPurpose:       opts.Purpose,
		Challenge:          opts.Challenge,
		Domain:             opts.Domain,
	}

	config, err := vc.ToMap(proof)
	if err != nil {
		return nil, fmt.Errorf("proof config: %w", err)
	}

	data, err := c.signingInput(doc, config)
	if err != nil {
		return nil, err
	}

	proof.ProofValue, err = multibase.Encode(multibase.Base58BTC, ed25519.Sign(key, data))
	if err != nil {
		return nil, fmt.Errorf("encode proof value: %w", err)
	}

	return proof, nil
}

// Verify checks the proof embedded in doc and returns the verification method that signed it. An
// empty expectedPurpose accepts any purpose the signer's DID document allows.
func (c *Crypto) Verify(ctx context.Context, doc map[string]interface{},
	expectedPurpose string) (*did.VerificationMethod, error) {
	proofMap, proof, err := extractProof(doc)
	if err != nil {
		return nil, err
	}

	if !hasContext(doc[contextField], ld.Ed25519Signature2020Context) {
		return nil, authzerr.New(authzerr.CredentialMalformedError, "@context does not include %s",
			ld.Ed25519Signature2020Context)
	}

	if expectedPurpose != "" && proof.ProofPurpose != expectedPurpose {
		return nil, authzerr.New(authzerr.ProofPurposeMismatch, "proof purpose is %q, expected %q",
			proof.ProofPurpose, expectedPurpose)
	}

	vm, err := c.resolveSigner(ctx, proof.VerificationMethod, proof.ProofPurpose)
	if err != nil {
		return nil, err
	}

	pub, err := keycodec.PublicKeyFromVerificationMethod(vm)
	if err != nil {
		return nil, err // nolint:wrapcheck // carries its kind
	}

	sig, err := decodeProofValue(proof.ProofValue)
	if err != nil {
		return nil, err
	}

	config := make(map[string]interface{}, len(proofMap))

	for k, v := range proofMap {
		if k != proofValueField {
			config[k] = v
		}
	}

	data, err := c.signingInput(doc, config)
	if err != nil {
		return nil, err
	}

	if !ed25519.Verify(pub, data, sig) {
		logger.Debugf("signature by %s does not verify", proof.VerificationMethod)

		return nil, authzerr.New(authzerr.SignatureInvalidError, "signature by %s does not verify",
			proof.VerificationMethod)
	}

	return vm, nil
}

// signingInput is sha256(canon(proof config)) || sha256(canon(document without proof)).
func (c *Crypto) signingInput(doc, config map[string]interface{}) ([]byte, error) {
	unsigned := make(map[string]interface{}, len(doc))

	for k, v := range doc {
		if k != proofField {
			unsigned[k] = v
		}
	}

	config[contextField] = doc[contextField]

	canonConfig, err := c.loader.CanonicalizeStrict(config)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.CredentialMalformedError, err, "canonicalize proof config")
	}

	canonDoc, err := c.loader.CanonicalizeStrict(unsigned)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.CredentialMalformedError, err, "canonicalize document")
	}

	configHash := sha256.Sum256([]byte(canonConfig))
	docHash := sha256.Sum256([]byte(canonDoc))

	return append(configHash[:], docHash[:]...), nil
}

// validateDIDDoc checks that the signing key is the key of the verification method and that the
// method may be used for the proof purpose.
func (c *Crypto) validateDIDDoc(ctx context.Context, key ed25519.PrivateKey, opts *vc.SigningOptions) error {
	if len(key) != ed25519.PrivateKeySize {
		return authzerr.New(authzerr.KeyFormatError, "signing key must be %d bytes, got %d",
			ed25519.PrivateKeySize, len(key))
	}

	vm, err := c.resolveSigner(ctx, opts.VerificationMethod, opts.Purpose)
	if err != nil {
		return fmt.Errorf("validate did doc : %w", err)
	}

	pub, err := keycodec.PublicKeyFromVerificationMethod(vm)
	if err != nil {
		return fmt.Errorf("validate did doc : %w", err)
	}

	signer, ok := key.Public().(ed25519.PublicKey)
	if !ok || !bytes.Equal(signer, pub) {
		return authzerr.New(authzerr.VerificationMethodNotFound,
			"signing key does not match verification method %s", opts.VerificationMethod)
	}

	return nil
}

func (c *Crypto) resolveSigner(ctx context.Context, method, purpose string) (*did.VerificationMethod, error) {
	didID, err := didresolver.GetDIDFromVerificationMethod(method)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.VerificationMethodNotFound, err, "verificationMethod value %s", method)
	}

	vm, err := c.resolver.ResolveVerificationMethod(ctx, method)
	if err != nil {
		return nil, err // nolint:wrapcheck // carries its kind
	}

	didDoc, err := c.resolver.Resolve(ctx, didID)
	if err != nil {
		return nil, err // nolint:wrapcheck // carries its kind
	}

	if err := validateProofPurpose(purpose, didresolver.AbsoluteID(didID, method), didDoc); err != nil {
		return nil, err
	}

	return vm, nil
}

// validateProofPurpose validates the proof purpose. A document that declares no verification
// relationships at all allows every method for every purpose.
func validateProofPurpose(proofPurpose, method string, didDoc *did.Doc) error {
	var rel did.VerificationRelationship

	switch proofPurpose {
	case vc.AssertionMethod:
		rel = did.AssertionMethod
	case vc.Authentication:
		rel = did.Authentication
	default:
		return authzerr.New(authzerr.ProofPurposeMismatch, "proof purpose %s not supported", proofPurpose)
	}

	if !declaresRelationships(didDoc) {
		return nil
	}

	if !isValidVerificationMethod(didDoc.ID, method, didDoc.VerificationMethods(rel)[rel]) {
		return authzerr.New(authzerr.ProofPurposeMismatch,
			"unable to find matching %s key IDs for given verification method %s", proofPurpose, method)
	}

	return nil
}

func declaresRelationships(didDoc *did.Doc) bool {
	return len(didDoc.Authentication)+len(didDoc.AssertionMethod)+
		len(didDoc.CapabilityInvocation)+len(didDoc.CapabilityDelegation) > 0
}

func isValidVerificationMethod(didID, method string, vms []did.Verification) bool {
	for _, vm := range vms {
		if method == didresolver.AbsoluteID(didID, vm.VerificationMethod.ID) {
			return true
		}
	}

	return false
}

func extractProof(doc map[string]interface{}) (map[string]interface{}, *vc.Proof, error) {
	raw, ok := doc[proofField]
	if !ok || raw == nil {
		return nil, nil, authzerr.New(authzerr.CredentialMalformedError, "missing proof")
	}

	proofMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, nil, authzerr.New(authzerr.CredentialMalformedError, "proof must be a single object, got %T", raw)
	}

	b, err := json.Marshal(proofMap)
	if err != nil {
		return nil, nil, authzerr.Wrap(authzerr.CredentialMalformedError, err, "marshal proof")
	}

	proof := &vc.Proof{}

	if err := json.Unmarshal(b, proof); err != nil {
		return nil, nil, authzerr.Wrap(authzerr.CredentialMalformedError, err, "parse proof")
	}

	switch {
	case proof.Type != vc.Ed25519Signature2020:
		return nil, nil, authzerr.New(authzerr.CredentialMalformedError, "unsupported proof type %q", proof.Type)
	case proof.VerificationMethod == "":
		return nil, nil, authzerr.New(authzerr.CredentialMalformedError, "proof has no verificationMethod")
	case proof.ProofValue == "":
		return nil, nil, authzerr.New(authzerr.CredentialMalformedError, "proof has no proofValue")
	}

	return proofMap, proof, nil
}

func decodeProofValue(value string) ([]byte, error) {
	enc, sig, err := multibase.Decode(value)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.SignatureInvalidError, err, "decode proofValue")
	}

	if enc != multibase.Base58BTC || len(sig) != ed25519.SignatureSize {
		return nil, authzerr.New(authzerr.SignatureInvalidError, "proofValue is not a base58btc ed25519 signature")
	}

	return sig, nil
}

func hasContext(value interface{}, iri string) bool {
	switch v := value.(type) {
	case string:
		return v == iri
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok && s == iri {
				return true
			}
		}
	}

	return false
}
