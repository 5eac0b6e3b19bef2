/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vc

import (
	"context"
	"crypto/ed25519"
	"time"
)

const (
	// VerifiableCredential vc type.
	VerifiableCredential = "VerifiableCredential"

	// VerifiablePresentation vp type.
	VerifiablePresentation = "VerifiablePresentation"

	// Ed25519Signature2020 proof type.
	Ed25519Signature2020 = "Ed25519Signature2020"
)

const (
	// supported proof purpose

	// AssertionMethod assertionMethod
	AssertionMethod = "assertionMethod"

	// Authentication authentication
	Authentication = "authentication"
)

// Credential types issued to agents.
const (
	AgentPermissionCredentialType = "AgentPermissionCredential"
	BookOrderingCredentialType    = "BookOrderingCredential"
	ShoppingCartCredentialType    = "ShoppingCartCredential"
)

// SigningOptions select the key reference and proof bindings of a signature. A zero Created means now.
type SigningOptions struct {
	VerificationMethod string
	Purpose            string
	Challenge          string
	Domain             string
	Created            time.Time
}

// Crypto vc/vp signing apis.
type Crypto interface {
	SignCredential(ctx context.Context, c *Credential, key ed25519.PrivateKey, verificationMethod string) (*Credential, error)
	SignPresentation(ctx context.Context, p *Presentation, key ed25519.PrivateKey,
		opts *SigningOptions) (*Presentation, error)
}
