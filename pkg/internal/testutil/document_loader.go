/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testutil

import (
	"testing"

	"github.com/trustbloc/agent-authz/pkg/ld"
)

// DocumentLoader returns a context registry holding the embedded contexts and no network fallback.
func DocumentLoader(t *testing.T) *ld.Registry {
	t.Helper()

	return ld.NewRegistry()
}
