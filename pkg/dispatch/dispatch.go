/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispatch runs authorized operations against the HTTP endpoints configured in the policy table.
package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"

	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/gate"
)

var logger = log.New("agent-authz/dispatch")

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher sends the params of an authorized operation to its action endpoint.
type Dispatcher struct {
	policy        *gate.PolicyTable
	httpClient    httpClient
	requestTokens map[string]string
}

// New returns a new Dispatcher. requestTokens maps an endpoint host to the bearer token sent to it.
func New(policy *gate.PolicyTable, tlsConfig *tls.Config, requestTokens map[string]string) *Dispatcher {
	return &Dispatcher{
		policy:        policy,
		httpClient:    &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}},
		requestTokens: requestTokens,
	}
}

// Execute sends req.Params to the endpoint of req.ActionName and returns the response body. Params go
// in the query string for GET and DELETE and in a JSON body otherwise.
func (d *Dispatcher) Execute(ctx context.Context, req *gate.Requirement) (json.RawMessage, error) {
	action, ok := d.policy.Action(req.ActionName)
	if !ok || action.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured for %s", req.ActionName)
	}

	endpoint, err := url.Parse(action.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint for %s: %w", req.ActionName, err)
	}

	httpReq, err := newRequest(ctx, action.Method, endpoint, req.Params)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", req.ActionName, err)
	}

	data, err := sendHTTPRequest(httpReq, d.httpClient, d.requestTokens[endpoint.Host])
	if err != nil {
		return nil, err
	}

	logger.Debugf("dispatched %s to %s %s", req.ActionName, httpReq.Method, endpoint.Host)

	if len(data) == 0 {
		return nil, nil
	}

	if !json.Valid(data) {
		return json.Marshal(string(data))
	}

	return data, nil
}

func newRequest(ctx context.Context, method string, endpoint *url.URL,
	params map[string]interface{}) (*http.Request, error) {
	if method == "" {
		method = http.MethodPost
	}

	if method == http.MethodGet || method == http.MethodDelete {
		u := *endpoint
		q := u.Query()

		for k, v := range params {
			q.Set(k, queryValue(v))
		}

		u.RawQuery = q.Encode()

		return http.NewRequestWithContext(ctx, method, u.String(), nil)
	}

	reqBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint.String(), bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, err // nolint:wrapcheck // wrapped by the caller
	}

	httpReq.Header.Set("Content-Type", "application/json")

	return httpReq, nil
}

func queryValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}

		return string(b)
	}
}

func sendHTTPRequest(req *http.Request, client httpClient, bearerToken string) ([]byte, error) {
	if bearerToken != "" {
		req.Header.Add("Authorization", "Bearer "+bearerToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request : %w", err)
	}

	defer func() {
		err = resp.Body.Close()
		if err != nil {
			logger.Warnf("failed to close response body")
		}
	}()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("http request: %d %s", resp.StatusCode, string(body))
	}

	return body, nil
}
