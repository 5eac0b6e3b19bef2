/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package session carries authorization exchanges between the gate and an agent over a websocket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/edge-core/pkg/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/gate"
	"github.com/trustbloc/agent-authz/pkg/store"
)

var logger = log.New("agent-authz/session")

const (
	// Path is where the channel is served.
	Path = "/ws/session"

	defaultHandshakeTimeout = 30 * time.Second
	defaultResponseTimeout  = 2 * time.Minute
	writeTimeout            = 10 * time.Second
)

// Executor runs an authorized operation.
type Executor interface {
	Execute(ctx context.Context, req *gate.Requirement) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *gate.Requirement) (json.RawMessage, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req *gate.Requirement) (json.RawMessage, error) {
	return f(ctx, req)
}

// ActivityRecorder records authorization decisions.
type ActivityRecorder interface {
	Append(t store.ActivityType, details map[string]interface{}) (*store.Activity, error)
}

// ServerOption configures the Server.
type ServerOption func(s *Server)

// WithExecutor runs authorized operations. Without one, results carry no output.
func WithExecutor(e Executor) ServerOption {
	return func(s *Server) {
		s.executor = e
	}
}

// WithActivity records every decision.
func WithActivity(a ActivityRecorder) ServerOption {
	return func(s *Server) {
		s.activity = a
	}
}

// WithOriginPatterns allows cross origin connections from the given host patterns.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) {
		s.originPatterns = patterns
	}
}

// WithHandshakeTimeout bounds the wait for the init message.
func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.handshakeTimeout = d
	}
}

// WithResponseTimeout bounds the wait for an authorization_response. The connection is closed and every
// pending requirement denied when it expires.
func WithResponseTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.responseTimeout = d
	}
}

// Server serves the session channel.
type Server struct {
	gate             *gate.Gate
	resolver         DIDResolver
	executor         Executor
	activity         ActivityRecorder
	originPatterns   []string
	handshakeTimeout time.Duration
	responseTimeout  time.Duration
}

// NewServer returns a new Server.
func NewServer(g *gate.Gate, resolver DIDResolver, opts ...ServerOption) *Server {
	s := &Server{
		gate:             g,
		resolver:         resolver,
		handshakeTimeout: defaultHandshakeTimeout,
		responseTimeout:  defaultResponseTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ServeHTTP upgrades the connection and runs one session over it.
func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(rw, req, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		logger.Warnf("failed to accept websocket: %s", err)

		return
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	sess, err := s.handshake(ctx, conn)
	if err != nil {
		logger.Warnf("session handshake failed: %s", err)
		s.write(ctx, conn, errorMessage(err.Error()))

		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed") // nolint:errcheck

		return
	}

	defer func() {
		for _, d := range sess.Close() {
			s.record(sess, d)
		}
	}()

	s.serve(ctx, conn, sess)

	_ = conn.Close(websocket.StatusNormalClosure, "") // nolint:errcheck
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*gate.Session, error) {
	challenge := uuid.New().String()

	if err := wsjson.Write(ctx, conn, &Message{Type: TypeChallenge, Challenge: challenge}); err != nil {
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	hello := &Message{}

	if err := wsjson.Read(hctx, conn, hello); err != nil {
		return nil, err
	}

	if err := authenticate(hctx, s.resolver, challenge, hello); err != nil {
		return nil, err
	}

	sess := s.gate.NewSession(hello.SubjectDID)

	if err := wsjson.Write(ctx, conn, &Message{Type: TypeReady, SessionID: sess.ID}); err != nil {
		sess.Close()

		return nil, err
	}

	return sess, nil
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, sess *gate.Session) {
	for {
		msg := &Message{}

		if err := wsjson.Read(ctx, conn, msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				logger.Debugf("session %s: read failed: %s", sess.ID, err)
			}

			return
		}

		if msg.Type != TypeInvoke {
			s.write(ctx, conn, errorMessage("unexpected message type "+msg.Type))

			continue
		}

		if !s.invoke(ctx, conn, sess, msg.Operations) {
			return
		}
	}
}

// invoke runs one authorization exchange. It returns false when the connection is no longer usable.
func (s *Server) invoke(ctx context.Context, conn *websocket.Conn, sess *gate.Session, ops []gate.Operation) bool {
	if len(ops) == 0 {
		return s.write(ctx, conn, errorMessage("invoke carries no operations"))
	}

	reqs, err := sess.Raise(ctx, ops...)
	if err != nil {
		return s.write(ctx, conn, errorMessage(err.Error()))
	}

	if !s.write(ctx, conn, &Message{Type: TypeAuthorizationRequest, Requests: reqs}) {
		return false
	}

	rctx, cancel := context.WithTimeout(ctx, s.responseTimeout)
	defer cancel()

	resp := &Message{}

	if err := wsjson.Read(rctx, conn, resp); err != nil {
		logger.Warnf("session %s: no authorization response: %s", sess.ID, err)

		return false
	}

	if resp.Type != TypeAuthorizationResponse {
		s.write(ctx, conn, errorMessage("expected "+TypeAuthorizationResponse+", got "+resp.Type))
		resp = &Message{}
	}

	sess.Acknowledge(resp.AcknowledgedCategories...)

	decisions := sess.Resolve(ctx, reqs, presentations(resp.Presentations))

	results := make([]*OperationResult, len(reqs))

	for i, d := range decisions {
		s.record(sess, d)
		results[i] = s.execute(ctx, reqs[i], d)
	}

	return s.write(ctx, conn, &Message{Type: TypeResult, Results: results})
}

func (s *Server) execute(ctx context.Context, req *gate.Requirement, d *gate.Decision) *OperationResult {
	res := &OperationResult{ID: req.ID, ActionName: req.ActionName}

	if !d.Authorized() {
		res.Status = ResultDenied
		res.Reason = d.Reason
		res.Details = d.Details

		return res
	}

	res.Status = ResultCompleted

	if s.executor == nil {
		return res
	}

	out, err := s.executor.Execute(ctx, req)
	if err != nil {
		logger.Errorf("failed to execute %s: %s", req.ActionName, err)

		res.Status = ResultFailed
		res.Details = err.Error()

		return res
	}

	res.Output = out

	return res
}

func (s *Server) record(sess *gate.Session, d *gate.Decision) {
	if s.activity == nil {
		return
	}

	_, err := s.activity.Append(store.ActivityAuthzDecision, map[string]interface{}{
		"sessionId":     sess.ID,
		"subjectDid":    sess.SubjectDID,
		"requirementId": d.RequirementID,
		"actionName":    d.ActionName,
		"status":        d.Status,
		"reason":        d.Reason,
	})
	if err != nil {
		logger.Warnf("failed to record decision: %s", err)
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg *Message) bool {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(wctx, conn, msg); err != nil {
		logger.Warnf("failed to write %s message: %s", msg.Type, err)

		return false
	}

	return true
}

// presentations answers each requirement with the presentation sent for its id.
func presentations(vps map[string]json.RawMessage) gate.Acquirer {
	return gate.AcquirerFunc(func(_ context.Context, req *gate.Requirement) ([]byte, error) {
		vp, ok := vps[req.ID]
		if !ok || len(vp) == 0 {
			return nil, authzerr.New(authzerr.AuthorizationDeniedError, "no presentation for requirement %s", req.ID)
		}

		return vp, nil
	})
}
