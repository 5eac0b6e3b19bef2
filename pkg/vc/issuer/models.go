/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import "time"

// Claims are the delegated permissions written into an agent credential.
type Claims struct {
	// Type is the credential type added next to VerifiableCredential, e.g. BookOrderingCredential.
	Type   string   `json:"type"`
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes"`
	// Constraints are written into the credential subject next to the scopes.
	Constraints map[string]interface{} `json:"constraints,omitempty"`
	// ValidityDuration defaults to DefaultValidity when zero.
	ValidityDuration time.Duration `json:"validityDuration,omitempty"`
}
