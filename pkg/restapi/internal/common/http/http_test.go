/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorResponse(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteErrorResponseWithReason(rr, http.StatusForbidden, "ChallengeMismatchError", "wrong challenge")

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := &ErrorResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), resp))
	require.Equal(t, "wrong challenge", resp.Message)
	require.Equal(t, "ChallengeMismatchError", resp.Reason)

	rr = httptest.NewRecorder()
	WriteErrorResponse(rr, http.StatusBadRequest, "invalid request")
	require.JSONEq(t, `{"errMessage": "invalid request"}`, rr.Body.String())
}

func TestWriteResponse(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteResponseWithStatus(rr, http.StatusCreated, map[string]string{"id": "1"})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.JSONEq(t, `{"id": "1"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	WriteResponse(rr, []string{"a"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `["a"]`, rr.Body.String())
}
