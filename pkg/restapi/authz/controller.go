/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package authz

import (
	"github.com/trustbloc/agent-authz/pkg/restapi/authz/operation"
)

// New returns new controller instance.
func New(config *operation.Config) (*Controller, error) {
	authzService, err := operation.New(config)
	if err != nil {
		return nil, err
	}

	return &Controller{handlers: authzService.GetRESTHandlers()}, nil
}

// Controller contains handlers for controller.
type Controller struct {
	handlers []operation.Handler
}

// GetOperations returns all controller endpoints.
func (c *Controller) GetOperations() []operation.Handler {
	return c.handlers
}
