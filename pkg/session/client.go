/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/gate"
	"github.com/trustbloc/agent-authz/pkg/keycodec"
	"github.com/trustbloc/agent-authz/pkg/wallet"
)

// Presenter builds the presentations answering a batch of requirements.
type Presenter interface {
	AcquireAll(ctx context.Context, reqs []*gate.Requirement) []*wallet.Acquired
}

// Confirmer returns the categories, among those asked, that the user acknowledged.
type Confirmer func(ctx context.Context, categories []string) []string

// ClientOption configures the Client.
type ClientOption func(c *clientOptions)

type clientOptions struct {
	confirm    Confirmer
	httpClient *http.Client
	header     http.Header
}

// WithConfirmer asks for confirmation of categories that need it. Without one nothing is acknowledged.
func WithConfirmer(confirm Confirmer) ClientOption {
	return func(c *clientOptions) {
		c.confirm = confirm
	}
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientOptions) {
		c.httpClient = client
	}
}

// WithHeader adds headers to the websocket handshake.
func WithHeader(header http.Header) ClientOption {
	return func(c *clientOptions) {
		c.header = header
	}
}

// Client is the agent side of a session.
type Client struct {
	SessionID string

	conn      *websocket.Conn
	presenter Presenter
	confirm   Confirmer
	mu        sync.Mutex
}

// Dial connects to the channel at url and authenticates as subjectDID.
func Dial(ctx context.Context, url, subjectDID string, key ed25519.PrivateKey, presenter Presenter,
	opts ...ClientOption) (*Client, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, authzerr.New(authzerr.KeyFormatError, "subject key must be %d bytes", ed25519.PrivateKeySize)
	}

	o := &clientOptions{}

	for _, opt := range opts {
		opt(o)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: o.httpClient, HTTPHeader: o.header})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{conn: conn, presenter: presenter, confirm: o.confirm}

	if err := c.handshake(ctx, subjectDID, key); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "") // nolint:errcheck

		return nil, err
	}

	return c, nil
}

func (c *Client) handshake(ctx context.Context, subjectDID string, key ed25519.PrivateKey) error {
	challenge, err := c.expect(ctx, TypeChallenge)
	if err != nil {
		return err
	}

	sig, err := SignChallenge(key, challenge.Challenge)
	if err != nil {
		return err
	}

	pub, err := keycodec.EncodePublicKey(key.Public().(ed25519.PublicKey)) // nolint:forcetypeassert
	if err != nil {
		return err
	}

	err = wsjson.Write(ctx, c.conn, &Message{
		Type:       TypeInit,
		SubjectDID: subjectDID,
		Challenge:  challenge.Challenge,
		Signature:  sig,
		PublicKey:  pub,
	})
	if err != nil {
		return fmt.Errorf("failed to send init: %w", err)
	}

	ready, err := c.expect(ctx, TypeReady)
	if err != nil {
		return err
	}

	c.SessionID = ready.SessionID

	return nil
}

// Invoke asks for ops to be run and answers the authorization requests they raise.
func (c *Client) Invoke(ctx context.Context, ops ...gate.Operation) ([]*OperationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, &Message{Type: TypeInvoke, Operations: ops}); err != nil {
		return nil, fmt.Errorf("failed to send invoke: %w", err)
	}

	req, err := c.expect(ctx, TypeAuthorizationRequest)
	if err != nil {
		return nil, err
	}

	resp := &Message{
		Type:                   TypeAuthorizationResponse,
		Presentations:          make(map[string]json.RawMessage),
		AcknowledgedCategories: c.acknowledge(ctx, req.Requests),
	}

	for _, a := range c.presenter.AcquireAll(ctx, req.Requests) {
		if a.Err == nil {
			resp.Presentations[a.RequirementID] = a.Presentation
		}
	}

	if err := wsjson.Write(ctx, c.conn, resp); err != nil {
		return nil, fmt.Errorf("failed to send authorization response: %w", err)
	}

	result, err := c.expect(ctx, TypeResult)
	if err != nil {
		return nil, err
	}

	return result.Results, nil
}

// Close ends the session. Requirements still pending on the server are denied.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "") // nolint:wrapcheck
}

func (c *Client) acknowledge(ctx context.Context, reqs []*gate.Requirement) []string {
	if c.confirm == nil {
		return nil
	}

	var categories []string

	seen := make(map[string]struct{})

	for _, r := range reqs {
		if _, ok := seen[r.Category]; !r.RequiresConfirmation || r.Status == gate.StatusDenied || ok {
			continue
		}

		seen[r.Category] = struct{}{}
		categories = append(categories, r.Category)
	}

	if len(categories) == 0 {
		return nil
	}

	return c.confirm(ctx, categories)
}

// expect reads the next message and fails unless it has type t.
func (c *Client) expect(ctx context.Context, t string) (*Message, error) {
	msg := &Message{}

	if err := wsjson.Read(ctx, c.conn, msg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t, err)
	}

	if msg.Type == TypeError {
		return nil, fmt.Errorf("session error: %s", msg.Message)
	}

	if msg.Type != t {
		return nil, fmt.Errorf("expected %s message, got %s", t, msg.Type)
	}

	return msg, nil
}
