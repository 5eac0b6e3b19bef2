/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Proof is an embedded Data Integrity proof.
type Proof struct {
	Type               string                 `json:"type"`
	Created            string                 `json:"created"`
	VerificationMethod string                 `json:"verificationMethod"`
	ProofPurpose       string                 `json:"proofPurpose"`
	Challenge          string                 `json:"challenge,omitempty"`
	Domain             string                 `json:"domain,omitempty"`
	ProofValue         string                 `json:"proofValue,omitempty"`
	CustomFields       map[string]interface{} `json:"-"`
}

// Subject is the credentialSubject of an agent credential. Claims holds every field other than
// id, name and scopes (constraints such as maxOrdersPerDay or allowedDomains).
type Subject struct {
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Scopes []string               `json:"scopes"`
	Claims map[string]interface{} `json:"-"`
}

// Credential is a verifiable credential. Top-level fields it does not model are kept in CustomFields
// so a parsed credential marshals back to the document that was signed.
type Credential struct {
	Context        []string               `json:"@context"`
	ID             string                 `json:"id,omitempty"`
	Types          []string               `json:"type"`
	Issuer         string                 `json:"issuer"`
	IssuanceDate   string                 `json:"issuanceDate,omitempty"`
	ExpirationDate string                 `json:"expirationDate,omitempty"`
	ValidFrom      string                 `json:"validFrom,omitempty"`
	ValidUntil     string                 `json:"validUntil,omitempty"`
	Subject        *Subject               `json:"credentialSubject"`
	Proof          *Proof                 `json:"proof,omitempty"`
	CustomFields   map[string]interface{} `json:"-"`
}

// Presentation is a verifiable presentation wrapping credentials of its holder.
type Presentation struct {
	Context      []string               `json:"@context"`
	ID           string                 `json:"id,omitempty"`
	Types        []string               `json:"type"`
	Holder       string                 `json:"holder"`
	Credentials  []*Credential          `json:"verifiableCredential"`
	Proof        *Proof                 `json:"proof,omitempty"`
	CustomFields map[string]interface{} `json:"-"`
}

// HasType reports whether the credential declares t.
func (c *Credential) HasType(t string) bool {
	for _, v := range c.Types {
		if v == t {
			return true
		}
	}

	return false
}

// Expiry returns the expirationDate (or validUntil) of the credential, and false when it has none.
func (c *Credential) Expiry() (time.Time, bool, error) {
	value := c.ExpirationDate
	if value == "" {
		value = c.ValidUntil
	}

	if value == "" {
		return time.Time{}, false, nil
	}

	t, err := ParseTime(value)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("invalid expiration date: %w", err)
	}

	return t, true, nil
}

// NotBefore returns the issuanceDate (or validFrom) of the credential, and false when it has none.
func (c *Credential) NotBefore() (time.Time, bool, error) {
	value := c.ValidFrom
	if value == "" {
		value = c.IssuanceDate
	}

	if value == "" {
		return time.Time{}, false, nil
	}

	t, err := ParseTime(value)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("invalid issuance date: %w", err)
	}

	return t, true, nil
}

// HasScopes reports whether the subject holds every scope in required.
func (s *Subject) HasScopes(required ...string) bool {
	held := make(map[string]struct{}, len(s.Scopes))
	for _, scope := range s.Scopes {
		held[scope] = struct{}{}
	}

	for _, r := range required {
		if _, ok := held[r]; !ok {
			return false
		}
	}

	return true
}

// ClaimsMap returns every subject field as one map (id, name, scopes and claims).
func (s *Subject) ClaimsMap() map[string]interface{} {
	m := make(map[string]interface{}, len(s.Claims)+3) // nolint:gomnd // id, name, scopes

	for k, v := range s.Claims {
		m[k] = v
	}

	m["id"] = s.ID
	m["name"] = s.Name

	scopes := make([]interface{}, len(s.Scopes))
	for i, scope := range s.Scopes {
		scopes[i] = scope
	}

	m["scopes"] = scopes

	return m
}

// FormatTime formats t the way issuance and proof dates are written.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses an XML schema dateTime as written in credentials.
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err // nolint:wrapcheck // wrapped by callers
	}

	return t, nil
}

// ParseCredential parses a credential document.
func ParseCredential(data []byte) (*Credential, error) {
	c := &Credential{}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}

	return c, nil
}

// ParsePresentation parses a presentation document.
func ParsePresentation(data []byte) (*Presentation, error) {
	p := &Presentation{}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse presentation: %w", err)
	}

	return p, nil
}
