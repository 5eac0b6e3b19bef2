/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/trustbloc/agent-authz/pkg/vc"
)

const (
	credentialStoreName = "credentials"
	credentialKeyPrefix = "vc"

	credentialTag      = "vc"
	credentialAgentTag = "vcAgent"
)

// CredentialStatus is the issuer-side status of a credential.
type CredentialStatus string

// Credential statuses.
const (
	StatusActive  CredentialStatus = "active"
	StatusRevoked CredentialStatus = "revoked"
)

// ErrCredentialRevoked is returned when revoking an already revoked credential.
var ErrCredentialRevoked = errors.New("credential is already revoked")

// CredentialRecord is an issued credential with the fields it is listed by.
type CredentialRecord struct {
	VCID      string           `json:"vcId"`
	AgentID   string           `json:"agentId,omitempty"`
	AgentDID  string           `json:"agentDid"`
	Issuer    string           `json:"issuer"`
	Type      string           `json:"type"`
	Name      string           `json:"name,omitempty"`
	Scopes    []string         `json:"scopes"`
	IssuedAt  time.Time        `json:"issuedAt"`
	ExpiresAt time.Time        `json:"expiresAt"`
	Status    CredentialStatus `json:"status"`
	RevokedAt *time.Time       `json:"revokedAt,omitempty"`
	FullVC    json.RawMessage  `json:"fullVc"`
}

// NewCredentialRecord describes an issued credential. The record type is the most specific type of the
// credential.
func NewCredentialRecord(agentID string, cred *vc.Credential) (*CredentialRecord, error) {
	if cred == nil || cred.Subject == nil || cred.ID == "" {
		return nil, errors.New("credential id and subject are required")
	}

	full, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}

	rec := &CredentialRecord{
		VCID:     cred.ID,
		AgentID:  agentID,
		AgentDID: cred.Subject.ID,
		Issuer:   cred.Issuer,
		Name:     cred.Subject.Name,
		Scopes:   cred.Subject.Scopes,
		Status:   StatusActive,
		FullVC:   full,
	}

	for _, t := range cred.Types {
		if t != vc.VerifiableCredential {
			rec.Type = t
		}
	}

	if nbf, ok, err := cred.NotBefore(); err == nil && ok {
		rec.IssuedAt = nbf
	}

	if exp, ok, err := cred.Expiry(); err == nil && ok {
		rec.ExpiresAt = exp
	}

	return rec, nil
}

// Credential parses the stored credential.
func (r *CredentialRecord) Credential() (*vc.Credential, error) {
	return vc.ParseCredential(r.FullVC)
}

// Active reports whether the credential is neither revoked nor expired at now.
func (r *CredentialRecord) Active(now time.Time) bool {
	return r.Status == StatusActive && (r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt))
}

// CredentialStore stores issued credentials.
type CredentialStore struct {
	store storage.Store
	mu    sync.Mutex
}

// NewCredentialStore opens the credential store.
func NewCredentialStore(provider storage.Provider) (*CredentialStore, error) {
	store, err := openStore(provider, credentialStoreName, credentialTag, credentialAgentTag)
	if err != nil {
		return nil, err
	}

	return &CredentialStore{store: store}, nil
}

// Put saves or replaces a record.
func (c *CredentialStore) Put(rec *CredentialRecord) error {
	if rec.VCID == "" {
		return errors.New("credential record id mandatory")
	}

	bytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credential record save - marshalling error: %w", err)
	}

	err = c.store.Put(getDBKey(credentialKeyPrefix, rec.VCID), bytes,
		storage.Tag{Name: credentialTag},
		storage.Tag{Name: credentialAgentTag, Value: tagValue(rec.AgentDID)},
	)
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", rec.VCID, err)
	}

	return nil
}

// Get returns the record of a credential id. A missing record wraps storage.ErrDataNotFound.
func (c *CredentialStore) Get(id string) (*CredentialRecord, error) {
	bytes, err := c.store.Get(getDBKey(credentialKeyPrefix, id))
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}

	rec := &CredentialRecord{}

	if err := json.Unmarshal(bytes, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential record: %w", err)
	}

	return rec, nil
}

// List returns every record, newest first.
func (c *CredentialStore) List() ([]*CredentialRecord, error) {
	return c.list(credentialTag)
}

// ListByAgent returns the records issued to agentDID, newest first.
func (c *CredentialStore) ListByAgent(agentDID string) ([]*CredentialRecord, error) {
	return c.list(credentialAgentTag, agentDID)
}

// LatestActive returns the newest active credential of credType issued to agentDID. An empty credType
// matches any type.
func (c *CredentialStore) LatestActive(agentDID, credType string, now time.Time) (*CredentialRecord, error) {
	records, err := c.ListByAgent(agentDID)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if (credType == "" || rec.Type == credType) && rec.Active(now) {
			return rec, nil
		}
	}

	return nil, fmt.Errorf("no active %s credential for %s: %w", credType, agentDID, storage.ErrDataNotFound)
}

// Revoke marks a credential revoked.
func (c *CredentialStore) Revoke(id string, now time.Time) (*CredentialRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.Get(id)
	if err != nil {
		return nil, err
	}

	if rec.Status == StatusRevoked {
		return rec, ErrCredentialRevoked
	}

	revokedAt := now.UTC()
	rec.Status = StatusRevoked
	rec.RevokedAt = &revokedAt

	if err := c.Put(rec); err != nil {
		return nil, err
	}

	logger.Infof("credential %s revoked", id)

	return rec, nil
}

// IsRevoked reports whether a stored credential is revoked. Credentials this store never saw are not
// revoked.
func (c *CredentialStore) IsRevoked(_ context.Context, id string) (bool, error) {
	rec, err := c.Get(id)
	if errors.Is(err, storage.ErrDataNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return rec.Status == StatusRevoked, nil
}

func (c *CredentialStore) list(tagName string, value ...string) ([]*CredentialRecord, error) {
	values, err := query(c.store, tagName, value...)
	if err != nil {
		return nil, err
	}

	records := make([]*CredentialRecord, 0, len(values))

	for _, v := range values {
		rec := &CredentialRecord{}

		if err := json.Unmarshal(v, rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credential record: %w", err)
		}

		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].IssuedAt.After(records[j].IssuedAt)
	})

	return records, nil
}
