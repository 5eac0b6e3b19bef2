/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"net/http"
	"time"

	"github.com/trustbloc/agent-authz/pkg/internal/common/support"
	commhttp "github.com/trustbloc/agent-authz/pkg/restapi/internal/common/http"
)

const healthCheckEndpoint = "/healthcheck"

// Handler http handler for each controller API endpoint.
type Handler interface {
	Path() string
	Method() string
	Handle() http.HandlerFunc
}

type healthCheckResp struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
}

// New returns new controller instance.
func New() *Controller {
	return &Controller{handlers: []Handler{
		support.NewHTTPHandler(healthCheckEndpoint, http.MethodGet, healthCheckHandler),
	}}
}

// Controller contains handlers for controller.
type Controller struct {
	handlers []Handler
}

// GetOperations returns all controller endpoints.
func (c *Controller) GetOperations() []Handler {
	return c.handlers
}

func healthCheckHandler(rw http.ResponseWriter, _ *http.Request) {
	commhttp.WriteResponse(rw, &healthCheckResp{
		Status:      "success",
		CurrentTime: time.Now(),
	})
}
