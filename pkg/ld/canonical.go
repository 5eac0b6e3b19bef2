/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ld

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/piprate/json-gold/ld"
)

const (
	formatNQuads       = "application/n-quads"
	algorithmURDNA2015 = "URDNA2015"

	// undefinedVocab sits below every document context, so it only catches terms they leave undefined.
	undefinedVocab = "urn:agent-authz:undefined#"
)

// ErrUndefinedTerm is returned by CanonicalizeStrict when a field or type of the document is not
// defined by its contexts. Such fields are dropped from the canonical form and would go unsigned.
var ErrUndefinedTerm = errors.New("document uses terms its contexts do not define")

// Canonicalize returns the URDNA2015 N-Quads form of doc. Contexts are loaded through the registry.
func (r *Registry) Canonicalize(doc interface{}) (string, error) {
	normalized, err := Normalize(doc)
	if err != nil {
		return "", err
	}

	opts := ld.NewJsonLdOptions("")
	opts.ProcessingMode = ld.JsonLd_1_1
	opts.Format = formatNQuads
	opts.Algorithm = algorithmURDNA2015
	opts.DocumentLoader = r

	out, err := ld.NewJsonLdProcessor().Normalize(normalized, opts)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}

	nquads, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("canonicalize document: unexpected result %T", out)
	}

	return nquads, nil
}

// CanonicalizeStrict is Canonicalize for documents that are about to be signed or verified. It fails
// with ErrUndefinedTerm unless every field of doc survives canonicalization.
func (r *Registry) CanonicalizeStrict(doc map[string]interface{}) (string, error) {
	canon, err := r.Canonicalize(doc)
	if err != nil {
		return "", err
	}

	guarded := make(map[string]interface{}, len(doc))

	for k, v := range doc {
		guarded[k] = v
	}

	guarded["@context"] = append([]interface{}{map[string]interface{}{"@vocab": undefinedVocab}},
		contextList(doc["@context"])...)

	withVocab, err := r.Canonicalize(guarded)
	if err != nil {
		return "", err
	}

	if withVocab != canon {
		return "", ErrUndefinedTerm
	}

	return canon, nil
}

func contextList(value interface{}) []interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}

		return out
	default:
		return []interface{}{v}
	}
}

// Normalize converts doc into plain JSON values (map[string]interface{}, []interface{}, string,
// float64, bool, nil), which is the only input shape json-gold accepts. Structs and typed slices
// are handled here instead of inside the processor.
func Normalize(doc interface{}) (interface{}, error) {
	switch doc.(type) {
	case map[string]interface{}, []interface{}, string, float64, bool, nil:
		if plain(doc) {
			return doc, nil
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}

	var out interface{}

	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}

	return out, nil
}

func plain(v interface{}) bool {
	switch t := v.(type) {
	case map[string]interface{}:
		for _, e := range t {
			if !plain(e) {
				return false
			}
		}

		return true
	case []interface{}:
		for _, e := range t {
			if !plain(e) {
				return false
			}
		}

		return true
	case string, float64, bool, nil:
		return true
	default:
		return false
	}
}
