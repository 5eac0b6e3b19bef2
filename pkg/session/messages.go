/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"encoding/json"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/gate"
)

// Message types.
const (
	TypeChallenge             = "challenge"
	TypeInit                  = "init"
	TypeReady                 = "ready"
	TypeInvoke                = "invoke"
	TypeAuthorizationRequest  = "authorization_request"
	TypeAuthorizationResponse = "authorization_response"
	TypeResult                = "result"
	TypeError                 = "error"
)

// Operation result statuses.
const (
	ResultCompleted = "completed"
	ResultDenied    = "denied"
	ResultFailed    = "failed"
)

// Message is the envelope of every frame exchanged on the channel.
type Message struct {
	Type string `json:"type"`

	// challenge, init
	Challenge  string `json:"challenge,omitempty"`
	SubjectDID string `json:"subjectDid,omitempty"`
	Signature  string `json:"signature,omitempty"`
	PublicKey  string `json:"publicKey,omitempty"`

	// ready
	SessionID string `json:"sessionId,omitempty"`

	// invoke
	Operations []gate.Operation `json:"operations,omitempty"`

	// authorization_request
	Requests []*gate.Requirement `json:"requests,omitempty"`

	// authorization_response
	Presentations          map[string]json.RawMessage `json:"presentations,omitempty"`
	AcknowledgedCategories []string                   `json:"acknowledgedCategories,omitempty"`

	// result
	Results []*OperationResult `json:"results,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// OperationResult reports what happened to one invoked operation.
type OperationResult struct {
	ID         string          `json:"id"`
	ActionName string          `json:"actionName"`
	Status     string          `json:"status"`
	Reason     authzerr.Kind   `json:"reason,omitempty"`
	Details    string          `json:"details,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

func errorMessage(msg string) *Message {
	return &Message{Type: TypeError, Message: msg}
}
