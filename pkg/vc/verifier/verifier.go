/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package verifier checks credentials and challenge-bound presentations.
package verifier

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/didresolver"
	"github.com/trustbloc/agent-authz/pkg/internal/common/adapterutil"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

var logger = log.New("agent-authz/verifier")

// ProofChecker verifies the embedded proof of a JSON-LD document.
type ProofChecker interface {
	Verify(ctx context.Context, doc map[string]interface{}, expectedPurpose string) (*did.VerificationMethod, error)
}

// StatusChecker reports whether a credential has been revoked by its issuer.
type StatusChecker interface {
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// Result is the outcome of a verification. Reason is set when Verified is false.
type Result struct {
	Verified    bool             `json:"verified"`
	Reason      authzerr.Kind    `json:"reason,omitempty"`
	Details     string           `json:"details,omitempty"`
	Holder      string           `json:"holder,omitempty"`
	Credentials []*vc.Credential `json:"credentials,omitempty"`
}

// Err returns the failure as an *authzerr.Error, or nil when verified.
func (r *Result) Err() error {
	if r.Verified {
		return nil
	}

	return authzerr.New(r.Reason, "%s", r.Details)
}

// Option configures the Verifier.
type Option func(v *Verifier)

// WithStatusChecker rejects credentials the checker reports as revoked.
func WithStatusChecker(checker StatusChecker) Option {
	return func(v *Verifier) {
		v.status = checker
	}
}

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// Verifier verifies credentials and presentations.
type Verifier struct {
	proofs ProofChecker
	status StatusChecker
	now    func() time.Time
}

// New returns a new Verifier.
func New(proofs ProofChecker, opts ...Option) *Verifier {
	v := &Verifier{
		proofs: proofs,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// VerifyCredential checks the credential's structure, validity period, assertionMethod proof and status.
func (v *Verifier) VerifyCredential(ctx context.Context, cred *vc.Credential) *Result {
	if cred == nil {
		return failure(authzerr.New(authzerr.CredentialMalformedError, "credential is required"))
	}

	doc, err := vc.ToMap(cred)
	if err != nil {
		return failure(authzerr.Wrap(authzerr.CredentialMalformedError, err, "credential"))
	}

	return v.verifyCredential(ctx, doc, cred)
}

// VerifyCredentialJSON verifies a credential as received on the wire.
func (v *Verifier) VerifyCredentialJSON(ctx context.Context, raw []byte) *Result {
	doc := make(map[string]interface{})

	if err := json.Unmarshal(raw, &doc); err != nil {
		return failure(authzerr.Wrap(authzerr.CredentialMalformedError, err, "credential is not a JSON object"))
	}

	cred, err := vc.ParseCredential(raw)
	if err != nil {
		return failure(authzerr.Wrap(authzerr.CredentialMalformedError, err, "credential"))
	}

	return v.verifyCredential(ctx, doc, cred)
}

// VerifyPresentation checks that the presentation answers expectedChallenge (and expectedDomain when
// set), that it is signed by its holder for authentication, and that every wrapped credential verifies
// and was issued to the holder.
func (v *Verifier) VerifyPresentation(ctx context.Context, vp *vc.Presentation,
	expectedChallenge, expectedDomain string) *Result {
	if vp == nil {
		return failure(authzerr.New(authzerr.CredentialMalformedError, "presentation is required"))
	}

	doc, err := vc.ToMap(vp)
	if err != nil {
		return failure(authzerr.Wrap(authzerr.CredentialMalformedError, err, "presentation"))
	}

	return v.verifyPresentation(ctx, doc, vp, expectedChallenge, expectedDomain)
}

// VerifyPresentationJSON verifies a presentation as received on the wire.
func (v *Verifier) VerifyPresentationJSON(ctx context.Context, raw []byte,
	expectedChallenge, expectedDomain string) *Result {
	doc := make(map[string]interface{})

	if err := json.Unmarshal(raw, &doc); err != nil {
		return failure(authzerr.Wrap(authzerr.CredentialMalformedError, err, "presentation is not a JSON object"))
	}

	vp, err := vc.ParsePresentation(raw)
	if err != nil {
		return failure(authzerr.Wrap(authzerr.CredentialMalformedError, err, "presentation"))
	}

	return v.verifyPresentation(ctx, doc, vp, expectedChallenge, expectedDomain)
}

func (v *Verifier) verifyPresentation(ctx context.Context, doc map[string]interface{}, vp *vc.Presentation,
	expectedChallenge, expectedDomain string) *Result {
	if err := checkPresentationStructure(vp); err != nil {
		return failure(err)
	}

	if err := checkChallenge(vp.Proof, expectedChallenge, expectedDomain); err != nil {
		return failure(err)
	}

	vm, err := v.proofs.Verify(ctx, doc, vc.Authentication)
	if err != nil {
		return failure(err)
	}

	if signer := controllerOf(vm, vp.Proof.VerificationMethod); signer != vp.Holder {
		return failure(authzerr.New(authzerr.SubjectMismatchError, "presentation is signed by %s, not by holder %s",
			signer, vp.Holder))
	}

	for _, c := range vp.Credentials {
		if c.Subject.ID != vp.Holder {
			return failure(authzerr.New(authzerr.SubjectMismatchError, "credential %s is issued to %s, not to holder %s",
				c.ID, c.Subject.ID, vp.Holder))
		}
	}

	credDocs, err := embeddedCredentials(doc, len(vp.Credentials))
	if err != nil {
		return failure(err)
	}

	for i, c := range vp.Credentials {
		if r := v.verifyCredential(ctx, credDocs[i], c); !r.Verified {
			r.Details = fmt.Sprintf("credential %s: %s", c.ID, r.Details)

			return r
		}
	}

	logger.Debugf("presentation %s of %s verified", vp.ID, vp.Holder)

	return &Result{Verified: true, Holder: vp.Holder, Credentials: vp.Credentials}
}

func (v *Verifier) verifyCredential(ctx context.Context, doc map[string]interface{}, cred *vc.Credential) *Result {
	if err := checkCredentialStructure(cred); err != nil {
		return failure(err)
	}

	if err := v.checkValidity(cred); err != nil {
		return failure(err)
	}

	vm, err := v.proofs.Verify(ctx, doc, vc.AssertionMethod)
	if err != nil {
		return failure(err)
	}

	if signer := controllerOf(vm, cred.Proof.VerificationMethod); signer != cred.Issuer {
		return failure(authzerr.New(authzerr.SignatureInvalidError, "credential is signed by %s, not by issuer %s",
			signer, cred.Issuer))
	}

	if v.status != nil && cred.ID != "" {
		revoked, err := v.status.IsRevoked(ctx, cred.ID)
		if err != nil {
			return failure(authzerr.Wrap(authzerr.CredentialRevoked, err, "status of %s is unavailable", cred.ID))
		}

		if revoked {
			return failure(authzerr.New(authzerr.CredentialRevoked, "credential %s is revoked", cred.ID))
		}
	}

	return &Result{Verified: true, Holder: cred.Subject.ID, Credentials: []*vc.Credential{cred}}
}

func (v *Verifier) checkValidity(cred *vc.Credential) error {
	now := v.now()

	exp, ok, err := cred.Expiry()
	if err != nil {
		return authzerr.Wrap(authzerr.CredentialMalformedError, err, "credential %s", cred.ID)
	}

	if ok && !now.Before(exp) {
		return authzerr.New(authzerr.ExpiredCredentialError, "credential %s expired at %s", cred.ID, vc.FormatTime(exp))
	}

	nbf, ok, err := cred.NotBefore()
	if err != nil {
		return authzerr.Wrap(authzerr.CredentialMalformedError, err, "credential %s", cred.ID)
	}

	if ok && now.Before(nbf) {
		return authzerr.New(authzerr.CredentialMalformedError, "credential %s is not valid before %s",
			cred.ID, vc.FormatTime(nbf))
	}

	return nil
}

func checkCredentialStructure(cred *vc.Credential) error {
	switch {
	case len(cred.Context) == 0:
		return authzerr.New(authzerr.CredentialMalformedError, "credential has no @context")
	case !cred.HasType(vc.VerifiableCredential):
		return authzerr.New(authzerr.CredentialMalformedError, "credential type must include %s", vc.VerifiableCredential)
	case cred.Issuer == "":
		return authzerr.New(authzerr.CredentialMalformedError, "credential has no issuer")
	case cred.Subject == nil || cred.Subject.ID == "":
		return authzerr.New(authzerr.CredentialMalformedError, "credential has no subject id")
	case cred.Proof == nil:
		return authzerr.New(authzerr.CredentialMalformedError, "credential has no proof")
	}

	return nil
}

func checkPresentationStructure(vp *vc.Presentation) error {
	switch {
	case len(vp.Context) == 0:
		return authzerr.New(authzerr.CredentialMalformedError, "presentation has no @context")
	case !adapterutil.StringsContains(vc.VerifiablePresentation, vp.Types):
		return authzerr.New(authzerr.CredentialMalformedError, "presentation type must include %s",
			vc.VerifiablePresentation)
	case vp.Holder == "":
		return authzerr.New(authzerr.CredentialMalformedError, "presentation has no holder")
	case vp.Proof == nil:
		return authzerr.New(authzerr.CredentialMalformedError, "presentation has no proof")
	case len(vp.Credentials) == 0:
		return authzerr.New(authzerr.CredentialMalformedError, "presentation carries no credentials")
	}

	for _, c := range vp.Credentials {
		if c == nil {
			return authzerr.New(authzerr.CredentialMalformedError, "presentation carries an empty credential")
		}

		if err := checkCredentialStructure(c); err != nil {
			return err
		}
	}

	return nil
}

// checkChallenge compares the proof bindings with the values the caller issued. An empty expected
// domain accepts any domain.
func checkChallenge(proof *vc.Proof, expectedChallenge, expectedDomain string) error {
	if expectedChallenge == "" {
		return authzerr.New(authzerr.ChallengeMismatchError, "no challenge was issued for this presentation")
	}

	if subtle.ConstantTimeCompare([]byte(proof.Challenge), []byte(expectedChallenge)) != 1 {
		return authzerr.New(authzerr.ChallengeMismatchError, "presentation answers another challenge")
	}

	if expectedDomain != "" && proof.Domain != expectedDomain {
		return authzerr.New(authzerr.ChallengeMismatchError, "presentation domain %q, expected %q",
			proof.Domain, expectedDomain)
	}

	return nil
}

func embeddedCredentials(doc map[string]interface{}, want int) ([]map[string]interface{}, error) {
	var list []interface{}

	switch raw := doc["verifiableCredential"].(type) {
	case []interface{}:
		list = raw
	case map[string]interface{}:
		list = []interface{}{raw}
	}

	if len(list) != want {
		return nil, authzerr.New(authzerr.CredentialMalformedError, "presentation credentials are not JSON objects")
	}

	out := make([]map[string]interface{}, len(list))

	for i, e := range list {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, authzerr.New(authzerr.CredentialMalformedError, "presentation credential %d is not an object", i)
		}

		out[i] = m
	}

	return out, nil
}

func controllerOf(vm *did.VerificationMethod, method string) string {
	if didID, err := didresolver.GetDIDFromVerificationMethod(method); err == nil {
		return didID
	}

	return vm.Controller
}

func failure(err error) *Result {
	kind := authzerr.KindOf(err)
	if kind == "" {
		kind = authzerr.SignatureInvalidError
	}

	logger.Debugf("verification failed: %s", err)

	return &Result{Verified: false, Reason: kind, Details: err.Error()}
}
