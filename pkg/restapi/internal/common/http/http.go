/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"encoding/json"
	"net/http"

	"github.com/trustbloc/edge-core/pkg/log"
)

var logger = log.New("agent-authz/restapi")

// ErrorResponse to send error message in the response.
type ErrorResponse struct {
	Message string `json:"errMessage,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// WriteErrorResponse write error resp.
func WriteErrorResponse(rw http.ResponseWriter, status int, msg string) {
	WriteErrorResponseWithReason(rw, status, "", msg)
}

// WriteErrorResponseWithReason writes an error response carrying a machine readable reason.
func WriteErrorResponseWithReason(rw http.ResponseWriter, status int, reason, msg string) {
	logger.Errorf("%s", msg)

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	err := json.NewEncoder(rw).Encode(ErrorResponse{Message: msg, Reason: reason})
	if err != nil {
		logger.Errorf("Unable to send error message, %s", err)
	}
}

// WriteResponse writes interface value to response.
func WriteResponse(rw http.ResponseWriter, v interface{}) {
	WriteResponseWithStatus(rw, http.StatusOK, v)
}

// WriteResponseWithStatus writes interface value to response with the given status.
func WriteResponseWithStatus(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	err := json.NewEncoder(rw).Encode(v)
	if err != nil {
		logger.Errorf("Unable to send response, %s", err)
	}
}
