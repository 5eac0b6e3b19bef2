/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	mockstorage "github.com/hyperledger/aries-framework-go/component/storageutil/mock"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/agent-authz/pkg/vc"
)

const (
	agentDID = "did:example:agent-1"
	otherDID = "did:example:agent-2"
)

func newCredential(id, subject, credType string, issued time.Time) *vc.Credential {
	return &vc.Credential{
		Context:        []string{"https://www.w3.org/2018/credentials/v1"},
		ID:             id,
		Types:          []string{vc.VerifiableCredential, credType},
		Issuer:         "did:example:issuer",
		IssuanceDate:   vc.FormatTime(issued),
		ExpirationDate: vc.FormatTime(issued.Add(24 * time.Hour)),
		Subject:        &vc.Subject{ID: subject, Name: "agent", Scopes: []string{"search_books"}},
	}
}

func newRecord(t *testing.T, id, subject, credType string, issued time.Time) *CredentialRecord {
	t.Helper()

	rec, err := NewCredentialRecord("agent-1", newCredential(id, subject, credType, issued))
	require.NoError(t, err)

	return rec
}

func TestNewCredentialRecord(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := newRecord(t, "urn:uuid:1", agentDID, vc.BookOrderingCredentialType, issued)
	require.Equal(t, "urn:uuid:1", rec.VCID)
	require.Equal(t, agentDID, rec.AgentDID)
	require.Equal(t, vc.BookOrderingCredentialType, rec.Type)
	require.Equal(t, StatusActive, rec.Status)
	require.True(t, issued.Equal(rec.IssuedAt))
	require.True(t, issued.Add(24*time.Hour).Equal(rec.ExpiresAt))
	require.True(t, rec.Active(issued.Add(time.Hour)))
	require.False(t, rec.Active(issued.Add(25*time.Hour)))

	cred, err := rec.Credential()
	require.NoError(t, err)
	require.Equal(t, "urn:uuid:1", cred.ID)

	_, err = NewCredentialRecord("agent-1", &vc.Credential{ID: "urn:uuid:2"})
	require.Error(t, err)
}

func TestCredentialStore(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("test put get list - success", func(t *testing.T) {
		t.Parallel()

		s, err := NewCredentialStore(mem.NewProvider())
		require.NoError(t, err)

		require.NoError(t, s.Put(newRecord(t, "urn:uuid:1", agentDID, vc.BookOrderingCredentialType, base)))
		require.NoError(t, s.Put(newRecord(t, "urn:uuid:2", agentDID, vc.ShoppingCartCredentialType,
			base.Add(time.Hour))))
		require.NoError(t, s.Put(newRecord(t, "urn:uuid:3", otherDID, vc.BookOrderingCredentialType, base)))

		rec, err := s.Get("urn:uuid:2")
		require.NoError(t, err)
		require.Equal(t, vc.ShoppingCartCredentialType, rec.Type)

		_, err = s.Get("urn:uuid:404")
		require.True(t, errors.Is(err, storage.ErrDataNotFound))

		all, err := s.List()
		require.NoError(t, err)
		require.Len(t, all, 3)

		mine, err := s.ListByAgent(agentDID)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		require.Equal(t, "urn:uuid:2", mine[0].VCID)
		require.Equal(t, "urn:uuid:1", mine[1].VCID)

		none, err := s.ListByAgent("did:example:nobody")
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("test latest active", func(t *testing.T) {
		t.Parallel()

		s, err := NewCredentialStore(mem.NewProvider())
		require.NoError(t, err)

		require.NoError(t, s.Put(newRecord(t, "urn:uuid:old", agentDID, vc.BookOrderingCredentialType, base)))
		require.NoError(t, s.Put(newRecord(t, "urn:uuid:new", agentDID, vc.BookOrderingCredentialType,
			base.Add(time.Hour))))

		rec, err := s.LatestActive(agentDID, vc.BookOrderingCredentialType, base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Equal(t, "urn:uuid:new", rec.VCID)

		_, err = s.Revoke("urn:uuid:new", base.Add(2*time.Hour))
		require.NoError(t, err)

		rec, err = s.LatestActive(agentDID, vc.BookOrderingCredentialType, base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Equal(t, "urn:uuid:old", rec.VCID)

		_, err = s.LatestActive(agentDID, vc.BookOrderingCredentialType, base.Add(48*time.Hour))
		require.True(t, errors.Is(err, storage.ErrDataNotFound))

		_, err = s.LatestActive(agentDID, vc.ShoppingCartCredentialType, base)
		require.True(t, errors.Is(err, storage.ErrDataNotFound))

		rec, err = s.LatestActive(agentDID, "", base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Equal(t, "urn:uuid:old", rec.VCID)
	})

	t.Run("test revoke", func(t *testing.T) {
		t.Parallel()

		s, err := NewCredentialStore(mem.NewProvider())
		require.NoError(t, err)

		require.NoError(t, s.Put(newRecord(t, "urn:uuid:1", agentDID, vc.BookOrderingCredentialType, base)))

		revoked, err := s.IsRevoked(context.Background(), "urn:uuid:1")
		require.NoError(t, err)
		require.False(t, revoked)

		rec, err := s.Revoke("urn:uuid:1", base)
		require.NoError(t, err)
		require.Equal(t, StatusRevoked, rec.Status)
		require.NotNil(t, rec.RevokedAt)

		revoked, err = s.IsRevoked(context.Background(), "urn:uuid:1")
		require.NoError(t, err)
		require.True(t, revoked)

		_, err = s.Revoke("urn:uuid:1", base)
		require.ErrorIs(t, err, ErrCredentialRevoked)

		_, err = s.Revoke("urn:uuid:404", base)
		require.True(t, errors.Is(err, storage.ErrDataNotFound))

		revoked, err = s.IsRevoked(context.Background(), "urn:uuid:unknown")
		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("test store errors", func(t *testing.T) {
		t.Parallel()

		_, err := NewCredentialStore(&mockstorage.Provider{ErrOpenStore: errors.New("error opening the store")})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to open store")

		s, err := NewCredentialStore(mem.NewProvider())
		require.NoError(t, err)

		require.Error(t, s.Put(&CredentialRecord{}))

		s.store = &mockstorage.Store{
			ErrPut: errors.New("error inserting data"),
			ErrGet: errors.New("error getting data"),
		}

		err = s.Put(newRecord(t, "urn:uuid:1", agentDID, vc.BookOrderingCredentialType, base))
		require.Error(t, err)
		require.Contains(t, err.Error(), "error inserting data")

		_, err = s.IsRevoked(context.Background(), "urn:uuid:1")
		require.Error(t, err)
		require.Contains(t, err.Error(), "error getting data")
	})
}
