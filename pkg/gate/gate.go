/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package gate decides whether pending agent operations may run, based on presentations verified against a
// per-requirement challenge.
package gate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/vc/verifier"
)

var logger = log.New("agent-authz/gate")

// DefaultTimeout bounds the acquisition and verification of one requirement.
const DefaultTimeout = 30 * time.Second

// PresentationVerifier verifies a presentation received on the wire.
type PresentationVerifier interface {
	VerifyPresentationJSON(ctx context.Context, raw []byte, expectedChallenge, expectedDomain string) *verifier.Result
}

// Acquirer obtains a presentation answering a requirement's challenge.
type Acquirer interface {
	Acquire(ctx context.Context, req *Requirement) ([]byte, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, req *Requirement) ([]byte, error)

// Acquire calls f.
func (f AcquirerFunc) Acquire(ctx context.Context, req *Requirement) ([]byte, error) {
	return f(ctx, req)
}

// ChallengeSource issues the challenge a requirement's presentation must answer.
type ChallengeSource interface {
	NewChallenge(ctx context.Context, domain string) (string, error)
}

type uuidChallenges struct{}

func (uuidChallenges) NewChallenge(context.Context, string) (string, error) {
	return uuid.New().String(), nil
}

// Option configures the Gate.
type Option func(g *Gate)

// WithPolicy replaces the default policy table.
func WithPolicy(t *PolicyTable) Option {
	return func(g *Gate) {
		g.policy = t
	}
}

// WithDomain sets the domain every presentation must be bound to.
func WithDomain(domain string) Option {
	return func(g *Gate) {
		g.domain = domain
	}
}

// WithTimeout bounds the resolution of one requirement.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithChallengeSource obtains challenges from the party that verifies presentations.
func WithChallengeSource(c ChallengeSource) Option {
	return func(g *Gate) {
		g.challenges = c
	}
}

// WithMetrics records decisions.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// Gate creates authorization sessions. It holds no per-session state.
type Gate struct {
	verifier   PresentationVerifier
	challenges ChallengeSource
	policy     *PolicyTable
	domain     string
	timeout    time.Duration
	metrics    *Metrics
}

// New returns a new Gate.
func New(v PresentationVerifier, opts ...Option) *Gate {
	g := &Gate{
		verifier:   v,
		challenges: uuidChallenges{},
		timeout:    DefaultTimeout,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.policy == nil {
		g.policy = DefaultPolicyTable()
	}

	return g
}

// Policy returns the policy table of the gate.
func (g *Gate) Policy() *PolicyTable {
	return g.policy
}

// Domain returns the domain presentations are bound to.
func (g *Gate) Domain() string {
	return g.domain
}

// NewSession starts a session for the subject acting over one connection.
func (g *Gate) NewSession(subjectDID string) *Session {
	s := &Session{
		ID:           uuid.New().String(),
		SubjectDID:   subjectDID,
		gate:         g,
		requirements: make(map[string]*Requirement),
		inflight:     make(map[string]struct{}),
		acknowledged: make(map[string]struct{}),
		satisfied:    make(map[string]struct{}),
		closed:       make(chan struct{}),
	}

	logger.Infof("session %s opened for %s", s.ID, subjectDID)

	return s
}
