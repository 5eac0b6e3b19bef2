/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/trustbloc/agent-authz/pkg/internal/common/adapterutil"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

// Categories of the default policy table.
const (
	CategoryRead     = "read"
	CategoryPurchase = "purchase"
)

// ActionPolicy describes what an action requires before it may run.
type ActionPolicy struct {
	Name                   string `json:"name"`
	Category               string `json:"category,omitempty"`
	RequiredCredentialType string `json:"requiredCredentialType"`
	// RequiredScope defaults to Name.
	RequiredScope string `json:"requiredScope,omitempty"`
	// Constraint is a boolean expression over {"params": ..., "claims": ...},
	// e.g. "$.params.quantity <= $.claims.maxOrdersPerDay".
	Constraint string `json:"constraint,omitempty"`
	// Defaults fill params the operation leaves out, before the constraint is evaluated.
	Defaults map[string]interface{} `json:"defaults,omitempty"`
	Endpoint string                 `json:"endpoint,omitempty"`
	// Method is the HTTP method used on Endpoint. Defaults to POST.
	Method string `json:"method,omitempty"`

	constraint gval.Evaluable
}

// CategoryPolicy is the session policy of an action category.
type CategoryPolicy struct {
	Name                 string `json:"name"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

// PolicyTable maps actions to their requirements.
type PolicyTable struct {
	Actions    []*ActionPolicy   `json:"actions"`
	Categories []*CategoryPolicy `json:"categories,omitempty"`
	// DefaultCredentialType gates actions missing from Actions. Unknown actions are rejected when empty.
	DefaultCredentialType string `json:"defaultCredentialType,omitempty"`

	actions    map[string]*ActionPolicy
	categories map[string]*CategoryPolicy
}

var constraintLanguage = gval.Full(jsonpath.Language()) // nolint:gochecknoglobals

// DefaultPolicyTable returns the bookstore policy.
func DefaultPolicyTable() *PolicyTable {
	t := &PolicyTable{
		Actions: []*ActionPolicy{
			{Name: "search_books", Category: CategoryRead, RequiredCredentialType: vc.BookOrderingCredentialType},
			{Name: "view_inventory", Category: CategoryRead, RequiredCredentialType: vc.BookOrderingCredentialType},
			{Name: "check_order_status", Category: CategoryRead, RequiredCredentialType: vc.BookOrderingCredentialType},
			{
				Name: "place_order", Category: CategoryPurchase, RequiredCredentialType: vc.BookOrderingCredentialType,
				Constraint: "$.params.quantity >= 1",
				Defaults:   map[string]interface{}{"quantity": 1.0},
			},
		},
		Categories: []*CategoryPolicy{
			{Name: CategoryRead},
			{Name: CategoryPurchase, RequiresConfirmation: true},
		},
		DefaultCredentialType: vc.AgentPermissionCredentialType,
	}

	if err := t.compile(); err != nil {
		panic(err)
	}

	return t
}

// LoadPolicyTable reads a JSON policy table.
func LoadPolicyTable(r io.Reader) (*PolicyTable, error) {
	t := &PolicyTable{}

	if err := json.NewDecoder(r).Decode(t); err != nil {
		return nil, fmt.Errorf("failed to decode policy table: %w", err)
	}

	if err := t.compile(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *PolicyTable) compile() error {
	t.actions = make(map[string]*ActionPolicy, len(t.Actions))
	t.categories = make(map[string]*CategoryPolicy, len(t.Categories))

	for _, c := range t.Categories {
		if c.Name == "" {
			return fmt.Errorf("category name mandatory")
		}

		t.categories[c.Name] = c
	}

	for _, a := range t.Actions {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("action name mandatory")
		}

		if _, ok := t.actions[a.Name]; ok {
			return fmt.Errorf("action %s defined twice", a.Name)
		}

		if a.RequiredCredentialType == "" {
			return fmt.Errorf("action %s: required credential type mandatory", a.Name)
		}

		if a.RequiredScope == "" {
			a.RequiredScope = a.Name
		}

		if a.Category != "" {
			if _, ok := t.categories[a.Category]; !ok {
				return fmt.Errorf("action %s: unknown category %s", a.Name, a.Category)
			}
		}

		if a.Endpoint != "" && !adapterutil.ValidHTTPURL(a.Endpoint) {
			return fmt.Errorf("action %s: invalid endpoint %s", a.Name, a.Endpoint)
		}

		a.Method = strings.ToUpper(a.Method)

		switch a.Method {
		case "":
			a.Method = http.MethodPost
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return fmt.Errorf("action %s: unsupported method %s", a.Name, a.Method)
		}

		defaults, err := normalizeParams(a.Defaults)
		if err != nil {
			return fmt.Errorf("action %s: defaults: %w", a.Name, err)
		}

		a.Defaults = defaults

		if a.Constraint != "" {
			eval, err := constraintLanguage.NewEvaluable(a.Constraint)
			if err != nil {
				return fmt.Errorf("action %s: invalid constraint: %w", a.Name, err)
			}

			a.constraint = eval
		}

		t.actions[a.Name] = a
	}

	return nil
}

// Action returns the policy of an action.
func (t *PolicyTable) Action(name string) (*ActionPolicy, bool) {
	if a, ok := t.actions[name]; ok {
		return a, true
	}

	if t.DefaultCredentialType == "" {
		return nil, false
	}

	return &ActionPolicy{
		Name:                   name,
		RequiredCredentialType: t.DefaultCredentialType,
		RequiredScope:          name,
		Method:                 http.MethodPost,
	}, true
}

// RequiresConfirmation reports whether a category needs one acknowledgement per session.
func (t *PolicyTable) RequiresConfirmation(category string) bool {
	c, ok := t.categories[category]

	return ok && c.RequiresConfirmation
}

// Allows evaluates the action constraint. Actions without a constraint are always allowed.
func (a *ActionPolicy) Allows(ctx context.Context, params, claims map[string]interface{}) (bool, error) {
	if a.constraint == nil {
		return true, nil
	}

	ok, err := a.constraint.EvalBool(ctx, map[string]interface{}{
		"params": params,
		"claims": claims,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate constraint of %s: %w", a.Name, err)
	}

	return ok, nil
}

// withDefaults returns params with the missing or null defaults added. params is not modified.
func (a *ActionPolicy) withDefaults(params map[string]interface{}) map[string]interface{} {
	if len(a.Defaults) == 0 {
		return params
	}

	out := make(map[string]interface{}, len(params)+len(a.Defaults))

	for k, v := range a.Defaults {
		out[k] = v
	}

	for k, v := range params {
		if _, ok := out[k]; ok && v == nil {
			continue
		}

		out[k] = v
	}

	return out
}
