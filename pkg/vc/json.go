/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vc

import (
	"encoding/json"
	"fmt"
)

type (
	rawProof        Proof
	rawSubject      Subject
	rawCredential   Credential
	rawPresentation Presentation
)

// nolint:gochecknoglobals // field sets of the modeled types
var (
	proofFields = fieldSet("type", "created", "verificationMethod", "proofPurpose", "challenge", "domain",
		"proofValue")
	subjectFields    = fieldSet("id", "name", "scopes")
	credentialFields = fieldSet("@context", "id", "type", "issuer", "issuanceDate", "expirationDate",
		"validFrom", "validUntil", "credentialSubject", "proof")
	presentationFields = fieldSet("@context", "id", "type", "holder", "verifiableCredential", "proof")
)

// MarshalJSON keeps custom fields.
func (p Proof) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(rawProof(p), p.CustomFields)
}

// UnmarshalJSON keeps fields not modeled by Proof.
func (p *Proof) UnmarshalJSON(data []byte) error {
	raw := rawProof{}

	extra, err := unmarshalWithExtra(data, &raw, proofFields)
	if err != nil {
		return fmt.Errorf("proof: %w", err)
	}

	*p = Proof(raw)
	p.CustomFields = extra

	return nil
}

// MarshalJSON writes claims inline next to id, name and scopes.
func (s Subject) MarshalJSON() ([]byte, error) {
	if s.Scopes == nil {
		s.Scopes = []string{}
	}

	return marshalWithExtra(rawSubject(s), s.Claims)
}

// UnmarshalJSON collects inline claims.
func (s *Subject) UnmarshalJSON(data []byte) error {
	raw := rawSubject{}

	extra, err := unmarshalWithExtra(data, &raw, subjectFields, "scopes")
	if err != nil {
		return fmt.Errorf("credentialSubject: %w", err)
	}

	*s = Subject(raw)
	s.Claims = extra

	return nil
}

// MarshalJSON keeps custom fields.
func (c Credential) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(rawCredential(c), c.CustomFields)
}

// UnmarshalJSON accepts single-valued @context and type and keeps fields not modeled by Credential.
func (c *Credential) UnmarshalJSON(data []byte) error {
	raw := rawCredential{}

	extra, err := unmarshalWithExtra(data, &raw, credentialFields, "@context", "type")
	if err != nil {
		return err
	}

	*c = Credential(raw)
	c.CustomFields = extra

	return nil
}

// MarshalJSON keeps custom fields.
func (p Presentation) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(rawPresentation(p), p.CustomFields)
}

// UnmarshalJSON accepts single-valued @context, type and verifiableCredential and keeps fields not
// modeled by Presentation.
func (p *Presentation) UnmarshalJSON(data []byte) error {
	raw := rawPresentation{}

	extra, err := unmarshalWithExtra(data, &raw, presentationFields, "@context", "type", "verifiableCredential")
	if err != nil {
		return err
	}

	*p = Presentation(raw)
	p.CustomFields = extra

	return nil
}

// ToMap returns the JSON object form of v, the form that is canonicalized and signed.
func ToMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	m := make(map[string]interface{})

	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}

	return m, nil
}

func fieldSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	return set
}

func marshalWithExtra(v interface{}, extra map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err // nolint:wrapcheck // called from MarshalJSON
	}

	if len(extra) == 0 {
		return b, nil
	}

	m := make(map[string]interface{})

	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err // nolint:wrapcheck // called from MarshalJSON
	}

	for k, val := range extra {
		if _, exists := m[k]; !exists {
			m[k] = val
		}
	}

	return json.Marshal(m)
}

// unmarshalWithExtra decodes the known fields of data into v and returns the others. Fields listed in
// arrays may be given as a single value and are wrapped into an array.
func unmarshalWithExtra(data []byte, v interface{}, known map[string]struct{},
	arrays ...string) (map[string]interface{}, error) {
	fields := make(map[string]json.RawMessage)

	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err // nolint:wrapcheck // called from UnmarshalJSON
	}

	for _, name := range arrays {
		if value, ok := fields[name]; ok && len(value) > 0 && value[0] != '[' && string(value) != "null" {
			fields[name] = append(append(json.RawMessage{'['}, value...), ']')
		}
	}

	var extra map[string]interface{}

	knownFields := make(map[string]json.RawMessage, len(fields))

	for name, value := range fields {
		if _, ok := known[name]; ok {
			knownFields[name] = value

			continue
		}

		var decoded interface{}

		if err := json.Unmarshal(value, &decoded); err != nil {
			return nil, err // nolint:wrapcheck // called from UnmarshalJSON
		}

		if extra == nil {
			extra = make(map[string]interface{})
		}

		extra[name] = decoded
	}

	b, err := json.Marshal(knownFields)
	if err != nil {
		return nil, err // nolint:wrapcheck // called from UnmarshalJSON
	}

	return extra, json.Unmarshal(b, v)
}
