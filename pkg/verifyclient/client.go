/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package verifyclient verifies presentations with a remote agent-authz server. Every failure to reach
// a verdict is reported as not verified.
package verifyclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/vc/verifier"
)

var logger = log.New("agent-authz/verifyclient")

const (
	challengesPath           = "/challenges"
	verifyPresentationPath   = "/verify/presentation"
	verifyCredentialPath     = "/verify/credential"
	defaultMaxRetries        = 3
	defaultRetryInterval     = 200 * time.Millisecond
	defaultRequestTimeout    = 10 * time.Second
	maxErrorBodyInDiagnostic = 256
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ChallengeRequest asks the server for a one-time challenge.
type ChallengeRequest struct {
	Domain string `json:"domain,omitempty"`
}

// ChallengeResponse is a challenge issued by the server.
type ChallengeResponse struct {
	Challenge string    `json:"challenge"`
	Domain    string    `json:"domain,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyPresentationRequest asks the server to verify a presentation against a challenge it issued.
type VerifyPresentationRequest struct {
	Presentation json.RawMessage `json:"presentation"`
	Challenge    string          `json:"challenge"`
	Domain       string          `json:"domain,omitempty"`
}

// VerifyCredentialRequest asks the server to verify a credential.
type VerifyCredentialRequest struct {
	Credential json.RawMessage `json:"credential"`
}

// Option configures the Client.
type Option func(c *Client)

// WithTLSConfig sets the TLS configuration of the default HTTP client.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	}
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithMaxRetries sets how often a request is retried on transport errors and 5xx responses.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryInterval sets the initial retry interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// Client talks to the verification endpoints of a remote server.
type Client struct {
	baseURL       string
	httpClient    httpClient
	token         string
	maxRetries    uint64
	retryInterval time.Duration
}

// New returns a new Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{Timeout: defaultRequestTimeout},
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewChallenge obtains a one-time challenge bound to domain.
func (c *Client) NewChallenge(ctx context.Context, domain string) (string, error) {
	resp := &ChallengeResponse{}

	if err := c.post(ctx, challengesPath, &ChallengeRequest{Domain: domain}, resp); err != nil {
		return "", fmt.Errorf("failed to obtain challenge: %w", err)
	}

	if resp.Challenge == "" {
		return "", errors.New("failed to obtain challenge: empty challenge")
	}

	return resp.Challenge, nil
}

// VerifyPresentationJSON verifies a presentation against a challenge previously issued by the server.
func (c *Client) VerifyPresentationJSON(ctx context.Context, raw []byte,
	expectedChallenge, expectedDomain string) *verifier.Result {
	return c.verify(ctx, verifyPresentationPath, &VerifyPresentationRequest{
		Presentation: raw,
		Challenge:    expectedChallenge,
		Domain:       expectedDomain,
	})
}

// VerifyCredentialJSON verifies a credential.
func (c *Client) VerifyCredentialJSON(ctx context.Context, raw []byte) *verifier.Result {
	return c.verify(ctx, verifyCredentialPath, &VerifyCredentialRequest{Credential: raw})
}

func (c *Client) verify(ctx context.Context, path string, req interface{}) *verifier.Result {
	result := &verifier.Result{}

	if err := c.post(ctx, path, req, result); err != nil {
		logger.Warnf("remote verification failed: %s", err)

		return &verifier.Result{
			Reason:  authzerr.AuthorizationDeniedError,
			Details: "remote verifier unavailable: " + err.Error(),
		}
	}

	if !result.Verified && result.Reason == "" {
		result.Reason = authzerr.SignatureInvalidError
	}

	return result
}

func (c *Client) post(ctx context.Context, path string, req, resp interface{}) error {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var body []byte

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	err = backoff.RetryNotify(
		func() error {
			body, err = c.send(ctx, path, reqBytes)

			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx),
		func(retryErr error, t time.Duration) {
			logger.Warnf("request to %s failed, will retry in %s : %s", path, t, retryErr)
		},
	)
	if err != nil {
		return err // nolint:wrapcheck // wrapped by caller
	}

	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("unmarshal response of %s: %w", path, err)
	}

	return nil
}

// send posts once. Only transport errors and 5xx responses are worth retrying.
func (c *Client) send(ctx context.Context, path string, reqBytes []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("http request : %w", err))
		}

		return nil, fmt.Errorf("http request : %w", err)
	}

	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			logger.Warnf("failed to close response body")
		}
	}()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("http request: %d %s", resp.StatusCode, truncate(body))
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("http request: %d %s", resp.StatusCode, truncate(body)))
	}

	return body, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyInDiagnostic {
		return string(body[:maxErrorBodyInDiagnostic]) + "..."
	}

	return string(body)
}
