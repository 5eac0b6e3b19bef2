/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/internal/common/adapterutil"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

// Status is the state of a requirement.
type Status string

// Requirement states. Authorized and Denied are terminal.
const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusDenied     Status = "denied"
)

// Operation is an action an agent wants to run.
type Operation struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Requirement gates one pending operation. Status is written by the session only.
type Requirement struct {
	ID                     string                 `json:"id"`
	ActionName             string                 `json:"actionName"`
	RequiredCredentialType string                 `json:"requiredCredentialType"`
	RequiredScope          string                 `json:"requiredScope"`
	Category               string                 `json:"category,omitempty"`
	RequiresConfirmation   bool                   `json:"requiresConfirmation"`
	Challenge              string                 `json:"challenge"`
	Domain                 string                 `json:"domain,omitempty"`
	Params                 map[string]interface{} `json:"-"`
	Status                 Status                 `json:"status"`
	Reason                 authzerr.Kind          `json:"reason,omitempty"`
	Details                string                 `json:"details,omitempty"`

	policy  *ActionPolicy
	failure error
}

// deny marks a requirement that could not be raised.
func (r *Requirement) deny(err error) *Requirement {
	r.Status = StatusDenied
	r.Reason = authzerr.KindOf(err)
	r.Details = err.Error()
	r.failure = err

	return r
}

// Decision is the outcome of a requirement.
type Decision struct {
	RequirementID string         `json:"id"`
	ActionName    string         `json:"actionName"`
	Status        Status         `json:"status"`
	Reason        authzerr.Kind  `json:"reason,omitempty"`
	Details       string         `json:"details,omitempty"`
	Credential    *vc.Credential `json:"-"`
}

// Authorized reports whether the operation may run.
func (d *Decision) Authorized() bool {
	return d.Status == StatusAuthorized
}

// Session tracks the requirements of one subject over one connection.
type Session struct {
	ID         string
	SubjectDID string

	gate         *Gate
	mu           sync.Mutex
	order        []string
	requirements map[string]*Requirement
	inflight     map[string]struct{}
	acknowledged map[string]struct{}
	satisfied    map[string]struct{}
	closed       chan struct{}
	closeOnce    sync.Once
}

// Raise creates one requirement per operation, each with its own id and challenge. An operation that
// cannot be gated is returned already denied, with the reason set, and does not affect the others.
func (s *Session) Raise(ctx context.Context, ops ...Operation) ([]*Requirement, error) {
	if s.isClosed() {
		return nil, authzerr.New(authzerr.AuthorizationDeniedError, "session %s is closed", s.ID)
	}

	reqs := make([]*Requirement, len(ops))

	for i, op := range ops {
		reqs[i] = s.requirement(ctx, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range reqs {
		if req.Status == StatusDenied {
			logger.Infof("session %s: %s denied on raise (%s): %s", s.ID, req.ActionName, req.Reason, req.Details)
			s.gate.metrics.observe(denial(req, req.failure), 0)

			continue
		}

		req.RequiresConfirmation = s.needsConfirmation(req.Category)
		s.requirements[req.ID] = req
		s.order = append(s.order, req.ID)

		logger.Debugf("session %s: requirement %s raised for %s", s.ID, req.ID, req.ActionName)
	}

	return reqs, nil
}

func (s *Session) requirement(ctx context.Context, op Operation) *Requirement {
	req := &Requirement{
		ID:         uuid.New().String(),
		ActionName: op.Action,
		Domain:     s.gate.domain,
		Status:     StatusPending,
	}

	policy, ok := s.gate.policy.Action(op.Action)
	if !ok {
		return req.deny(authzerr.New(authzerr.AuthorizationDeniedError, "action %s is not allowed", op.Action))
	}

	req.RequiredCredentialType = policy.RequiredCredentialType
	req.RequiredScope = policy.RequiredScope
	req.Category = policy.Category
	req.policy = policy

	params, err := normalizeParams(op.Params)
	if err != nil {
		return req.deny(authzerr.Wrap(authzerr.AuthorizationDeniedError, err, "action %s", op.Action))
	}

	req.Params = policy.withDefaults(params)

	challenge, err := s.gate.challenges.NewChallenge(ctx, s.gate.domain)
	if err != nil {
		return req.deny(authzerr.Wrap(authzerr.AuthorizationDeniedError, err, "no challenge for %s", op.Action))
	}

	req.Challenge = challenge

	return req
}

// Acknowledge records explicit confirmation of categories. A category only counts as satisfied for the
// session once a requirement in it has been authorized.
func (s *Session) Acknowledge(categories ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range categories {
		s.acknowledged[c] = struct{}{}
	}
}

// Satisfied reports whether a category no longer needs confirmation in this session.
func (s *Session) Satisfied(category string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.satisfied[category]

	return ok
}

// Resolve resolves every requirement concurrently and returns the decisions in input order. A failure,
// panic or timeout denies only the requirement it happened on.
func (s *Session) Resolve(ctx context.Context, reqs []*Requirement, acquirer Acquirer) []*Decision {
	decisions := make([]*Decision, len(reqs))

	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)

		go func(i int, req *Requirement) {
			defer wg.Done()

			decisions[i] = s.resolve(ctx, req, acquirer)
		}(i, req)
	}

	wg.Wait()

	return decisions
}

// Pending returns the outstanding requirements in the order they were raised.
func (s *Session) Pending() []*Requirement {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Requirement

	for _, id := range s.order {
		if req, ok := s.requirements[id]; ok && req.Status == StatusPending {
			pending = append(pending, req)
		}
	}

	return pending
}

// Close denies every outstanding requirement. Resolutions in flight are denied as well.
func (s *Session) Close() []*Decision {
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	defer s.mu.Unlock()

	var decisions []*Decision

	for _, id := range s.order {
		req, ok := s.requirements[id]
		if !ok {
			continue
		}

		d := denial(req, authzerr.New(authzerr.AuthorizationDeniedError, "session closed"))
		req.Status = StatusDenied
		delete(s.requirements, id)

		if _, busy := s.inflight[id]; !busy {
			s.gate.metrics.observe(d, 0)
		}

		decisions = append(decisions, d)
	}

	s.order = nil

	logger.Infof("session %s closed, %d requirement(s) denied", s.ID, len(decisions))

	return decisions
}

func (s *Session) resolve(ctx context.Context, req *Requirement, acquirer Acquirer) *Decision {
	start := time.Now()

	if req != nil && req.failure != nil {
		return denial(req, req.failure)
	}

	if err := s.claim(req); err != nil {
		return denial(req, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.gate.timeout)
	defer cancel()

	done := make(chan *Decision, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- denial(req, authzerr.New(authzerr.AuthorizationDeniedError, "authorization failed: %v", r))
			}
		}()

		done <- s.authorize(ctx, req, acquirer)
	}()

	var d *Decision

	select {
	case d = <-done:
	case <-ctx.Done():
		kind := authzerr.AuthorizationDeniedError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = authzerr.AuthorizationTimeout
		}

		d = denial(req, authzerr.Wrap(kind, ctx.Err(), "requirement %s not resolved", req.ID))
	case <-s.closed:
		d = denial(req, authzerr.New(authzerr.AuthorizationDeniedError, "session closed"))
	}

	d = s.finish(req, d)

	s.gate.metrics.observe(d, time.Since(start))

	if d.Authorized() {
		logger.Infof("session %s: %s authorized", s.ID, req.ActionName)
	} else {
		logger.Infof("session %s: %s denied (%s): %s", s.ID, req.ActionName, d.Reason, d.Details)
	}

	return d
}

func (s *Session) authorize(ctx context.Context, req *Requirement, acquirer Acquirer) *Decision {
	s.mu.Lock()
	confirm := s.needsConfirmation(req.Category)
	s.mu.Unlock()

	if confirm {
		return denial(req, authzerr.New(authzerr.AuthorizationDeniedError,
			"category %s requires confirmation", req.Category))
	}

	raw, err := acquirer.Acquire(ctx, req)
	if err != nil {
		if authzerr.KindOf(err) == "" {
			err = authzerr.Wrap(authzerr.AuthorizationDeniedError, err, "acquire presentation")
		}

		return denial(req, err)
	}

	result := s.gate.verifier.VerifyPresentationJSON(ctx, raw, req.Challenge, req.Domain)
	if !result.Verified {
		return denial(req, result.Err())
	}

	if result.Holder != s.SubjectDID {
		return denial(req, authzerr.New(authzerr.SubjectMismatchError,
			"presentation holder %s is not the session subject", result.Holder))
	}

	cred, err := matchCredential(result.Credentials, req)
	if err != nil {
		return denial(req, err)
	}

	allowed, err := req.policy.Allows(ctx, req.Params, cred.Subject.ClaimsMap())
	if err != nil {
		return denial(req, authzerr.Wrap(authzerr.AuthorizationDeniedError, err, "constraint"))
	}

	if !allowed {
		return denial(req, authzerr.New(authzerr.AuthorizationDeniedError,
			"%s not allowed by credential constraints", req.ActionName))
	}

	return &Decision{
		RequirementID: req.ID,
		ActionName:    req.ActionName,
		Status:        StatusAuthorized,
		Credential:    cred,
	}
}

// claim marks a pending requirement of this session as being resolved.
func (s *Session) claim(req *Requirement) error {
	if req == nil {
		return authzerr.New(authzerr.AuthorizationDeniedError, "requirement is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	own, ok := s.requirements[req.ID]
	if !ok || own != req || req.Status != StatusPending {
		return authzerr.New(authzerr.AuthorizationDeniedError, "requirement %s is not pending in session %s",
			req.ID, s.ID)
	}

	if _, busy := s.inflight[req.ID]; busy {
		return authzerr.New(authzerr.AuthorizationDeniedError, "requirement %s is already being resolved", req.ID)
	}

	s.inflight[req.ID] = struct{}{}

	return nil
}

// finish applies a decision unless the session was closed meanwhile.
func (s *Session) finish(req *Requirement, d *Decision) *Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, req.ID)

	if _, ok := s.requirements[req.ID]; !ok {
		if d.Authorized() {
			d = denial(req, authzerr.New(authzerr.AuthorizationDeniedError, "session closed"))
		}

		req.Status = StatusDenied

		return d
	}

	req.Status = d.Status
	delete(s.requirements, req.ID)

	for i, id := range s.order {
		if id == req.ID {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}

	if d.Authorized() && s.gate.policy.RequiresConfirmation(req.Category) {
		s.satisfied[req.Category] = struct{}{}
	}

	return d
}

// needsConfirmation must be called with s.mu held.
func (s *Session) needsConfirmation(category string) bool {
	if !s.gate.policy.RequiresConfirmation(category) {
		return false
	}

	if _, ok := s.satisfied[category]; ok {
		return false
	}

	_, ok := s.acknowledged[category]

	return !ok
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func matchCredential(credentials []*vc.Credential, req *Requirement) (*vc.Credential, error) {
	typed := false

	for _, cred := range credentials {
		if !cred.HasType(req.RequiredCredentialType) {
			continue
		}

		typed = true

		if cred.Subject.HasScopes(req.RequiredScope) {
			return cred, nil
		}
	}

	if !typed {
		return nil, authzerr.New(authzerr.CredentialTypeMismatch, "no %s credential presented",
			req.RequiredCredentialType)
	}

	return nil, authzerr.New(authzerr.ScopeInsufficientError, "no %s credential grants scope %s",
		req.RequiredCredentialType, req.RequiredScope)
}

func denial(req *Requirement, err error) *Decision {
	reason := authzerr.KindOf(err)
	if reason == "" {
		reason = authzerr.AuthorizationDeniedError
	}

	d := &Decision{Status: StatusDenied, Reason: reason, Details: err.Error()}

	if req != nil {
		d.RequirementID = req.ID
		d.ActionName = req.ActionName
	}

	return d
}

// normalizeParams gives params the shape they have after a JSON round trip.
func normalizeParams(params map[string]interface{}) (map[string]interface{}, error) {
	if params == nil {
		return map[string]interface{}{}, nil
	}

	out := make(map[string]interface{})

	if err := adapterutil.DecodeInto(params, &out); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	return out, nil
}
