/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	agentStoreName = "agents"
	agentKeyPrefix = "agent"

	agentTag    = "agent"
	agentDIDTag = "agentDid"
)

// AgentRecord is an onboarded agent.
type AgentRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	DID          string    `json:"did"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AgentRegistry db operation.
type AgentRegistry struct {
	store storage.Store
}

// NewAgentRegistry returns new agent registry instance.
func NewAgentRegistry(provider storage.Provider) (*AgentRegistry, error) {
	store, err := openStore(provider, agentStoreName, agentTag, agentDIDTag)
	if err != nil {
		return nil, err
	}

	return &AgentRegistry{store: store}, nil
}

// Save saves a new agent.
func (a *AgentRegistry) Save(rec *AgentRecord) error {
	if err := validateAgent(rec); err != nil {
		return fmt.Errorf("agent record is invalid: %w", err)
	}

	existing, err := a.Get(rec.ID)
	if err != nil && !errors.Is(err, storage.ErrDataNotFound) {
		return fmt.Errorf("failed to fetch agent: %w", err)
	}

	if existing != nil {
		return fmt.Errorf("agent %s already exists", existing.ID)
	}

	bytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("agent save - marshalling error: %w", err)
	}

	return a.store.Put(getDBKey(agentKeyPrefix, rec.ID), bytes, // nolint:wrapcheck // reduce cyclo
		storage.Tag{Name: agentTag},
		storage.Tag{Name: agentDIDTag, Value: tagValue(rec.DID)},
	)
}

// Get retrieves an agent by id.
func (a *AgentRegistry) Get(id string) (*AgentRecord, error) {
	bytes, err := a.store.Get(getDBKey(agentKeyPrefix, id))
	if err != nil {
		return nil, fmt.Errorf("get agent : %w", err)
	}

	rec := &AgentRecord{}

	err = json.Unmarshal(bytes, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent: %w", err)
	}

	return rec, nil
}

// GetByDID retrieves the agent controlling a DID.
func (a *AgentRegistry) GetByDID(agentDID string) (*AgentRecord, error) {
	records, err := a.list(agentDIDTag, agentDID)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("get agent by did %s : %w", agentDID, storage.ErrDataNotFound)
	}

	return records[0], nil
}

// List returns every agent, oldest first.
func (a *AgentRegistry) List() ([]*AgentRecord, error) {
	return a.list(agentTag)
}

func (a *AgentRegistry) list(tagName string, value ...string) ([]*AgentRecord, error) {
	values, err := query(a.store, tagName, value...)
	if err != nil {
		return nil, err
	}

	records := make([]*AgentRecord, 0, len(values))

	for _, v := range values {
		rec := &AgentRecord{}

		if err := json.Unmarshal(v, rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent: %w", err)
		}

		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

func validateAgent(rec *AgentRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("agent id mandatory")
	}

	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("agent name mandatory")
	}

	if _, err := did.Parse(rec.DID); err != nil {
		return fmt.Errorf("agent did is invalid: %w", err)
	}

	return nil
}
