/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trustbloc/agent-authz/pkg/gate"
)

func policy(t *testing.T, endpoint string) *gate.PolicyTable {
	t.Helper()

	p, err := gate.LoadPolicyTable(strings.NewReader(fmt.Sprintf(`{"actions": [
		{"name": "place_order", "requiredCredentialType": "BookOrderingCredential", "endpoint": %q},
		{"name": "check_order_status", "requiredCredentialType": "BookOrderingCredential", "endpoint": %q,
		 "method": "GET"},
		{"name": "search_books", "requiredCredentialType": "BookOrderingCredential"}
	]}`, endpoint, endpoint)))
	require.NoError(t, err)

	return p
}

func TestDispatcher_Execute(t *testing.T) {
	t.Parallel()

	order := &gate.Requirement{ActionName: "place_order", Params: map[string]interface{}{"quantity": 2.0}}

	t.Run("test success", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			params := make(map[string]interface{})
			if err := json.NewDecoder(req.Body).Decode(&params); err != nil || req.Method != http.MethodPost ||
				req.Header.Get("Authorization") != "Bearer token" {
				rw.WriteHeader(http.StatusBadRequest)

				return
			}

			rw.WriteHeader(http.StatusCreated)
			_, _ = fmt.Fprintf(rw, `{"orderId": "o-1", "quantity": %v}`, params["quantity"]) // nolint:errcheck
		}))
		defer srv.Close()

		host := strings.TrimPrefix(srv.URL, "http://")
		d := New(policy(t, srv.URL+"/api/orders"), nil, map[string]string{host: "token"})

		out, err := d.Execute(context.Background(), order)
		require.NoError(t, err)
		require.JSONEq(t, `{"orderId": "o-1", "quantity": 2}`, string(out))
	})

	t.Run("test get with query params", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			if req.Method != http.MethodGet || req.ContentLength > 0 {
				rw.WriteHeader(http.StatusMethodNotAllowed)

				return
			}

			_, _ = fmt.Fprintf(rw, `{"orderId": %q, "status": "shipped"}`, req.URL.Query().Get("orderId")) // nolint:errcheck
		}))
		defer srv.Close()

		d := New(policy(t, srv.URL+"/api/orders"), nil, nil)

		out, err := d.Execute(context.Background(), &gate.Requirement{
			ActionName: "check_order_status",
			Params:     map[string]interface{}{"orderId": "o-1"},
		})
		require.NoError(t, err)
		require.JSONEq(t, `{"orderId": "o-1", "status": "shipped"}`, string(out))
	})

	t.Run("test plain text response", func(t *testing.T) {
		t.Parallel()

		d := New(policy(t, "https://bookstore.example.com/api/orders"), nil, nil)
		d.httpClient = &mockHTTPClient{respValue: &http.Response{StatusCode: http.StatusOK,
			Body: ioutil.NopCloser(bytes.NewReader([]byte("ordered")))}}

		out, err := d.Execute(context.Background(), order)
		require.NoError(t, err)
		require.Equal(t, `"ordered"`, string(out))
	})

	t.Run("test no endpoint", func(t *testing.T) {
		t.Parallel()

		d := New(policy(t, ""), nil, nil)

		_, err := d.Execute(context.Background(), &gate.Requirement{ActionName: "search_books"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "no endpoint configured for search_books")

		_, err = d.Execute(context.Background(), &gate.Requirement{ActionName: "unknown"})
		require.Error(t, err)
	})

	t.Run("test failed to send http request", func(t *testing.T) {
		t.Parallel()

		d := New(policy(t, "https://bookstore.example.com/api/orders"), nil, nil)
		d.httpClient = &mockHTTPClient{respErr: fmt.Errorf("failed to send http request")}

		_, err := d.Execute(context.Background(), order)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to send http request")
	})

	t.Run("test endpoint returns 500 status code", func(t *testing.T) {
		t.Parallel()

		d := New(policy(t, "https://bookstore.example.com/api/orders"), nil, nil)
		d.httpClient = &mockHTTPClient{respValue: &http.Response{StatusCode: http.StatusInternalServerError,
			Body: ioutil.NopCloser(bytes.NewReader([]byte("insufficient stock")))}}

		_, err := d.Execute(context.Background(), order)
		require.Error(t, err)
		require.Contains(t, err.Error(), "http request: 500 insufficient stock")
	})
}

type mockHTTPClient struct {
	respValue *http.Response
	respErr   error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.respErr != nil {
		return nil, m.respErr
	}

	return m.respValue, nil
}
