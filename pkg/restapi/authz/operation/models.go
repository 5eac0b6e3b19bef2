/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import (
	"encoding/json"
	"time"

	"github.com/trustbloc/agent-authz/pkg/store"
)

// OnboardAgentRequest onboards an agent. A key pair and did:key are generated when DID is empty.
type OnboardAgentRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	DID          string `json:"did,omitempty"`
}

// OnboardAgentResponse is the onboarded agent. SecretKey is only set when the key was generated
// by the server and is never stored.
type OnboardAgentResponse struct {
	*store.AgentRecord
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
	SecretKey          string `json:"secretKey,omitempty"`
}

// IssueCredentialRequest issues a credential to a registered agent or to a bare agent DID.
type IssueCredentialRequest struct {
	AgentID      string                 `json:"agentId,omitempty"`
	AgentDID     string                 `json:"agentDid,omitempty"`
	Type         string                 `json:"type"`
	Name         string                 `json:"name,omitempty"`
	Scopes       []string               `json:"scopes"`
	Constraints  map[string]interface{} `json:"constraints,omitempty"`
	ValidityDays int                    `json:"validityDays,omitempty"`
}

// ChallengeRequest asks for a one-time challenge.
type ChallengeRequest struct {
	Domain string `json:"domain,omitempty"`
}

// ChallengeResponse is a one-time challenge.
type ChallengeResponse struct {
	Challenge string    `json:"challenge"`
	Domain    string    `json:"domain,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreatePresentationRequest builds a presentation of a stored credential. The latest active credential
// of the agent is used when VCID is empty; a fresh challenge is issued when Challenge is empty.
type CreatePresentationRequest struct {
	VCID      string `json:"vcId,omitempty"`
	AgentDID  string `json:"agentDid"`
	SecretKey string `json:"secretKey"`
	Challenge string `json:"challenge,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// CreatePresentationResponse is a signed presentation with the challenge it is bound to.
type CreatePresentationResponse struct {
	Presentation json.RawMessage `json:"presentation"`
	Challenge    string          `json:"challenge"`
	Domain       string          `json:"domain,omitempty"`
}

// VerifyPresentationRequest verifies a presentation bound to a challenge issued by this server.
type VerifyPresentationRequest struct {
	Presentation json.RawMessage `json:"presentation"`
	Challenge    string          `json:"challenge"`
	Domain       string          `json:"domain,omitempty"`
}

// VerifyCredentialRequest verifies a credential.
type VerifyCredentialRequest struct {
	Credential json.RawMessage `json:"credential"`
}
