/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	vccrypto "github.com/trustbloc/agent-authz/pkg/crypto"
	"github.com/trustbloc/agent-authz/pkg/gate"
	"github.com/trustbloc/agent-authz/pkg/internal/testutil"
	"github.com/trustbloc/agent-authz/pkg/store"
	"github.com/trustbloc/agent-authz/pkg/vc"
	"github.com/trustbloc/agent-authz/pkg/vc/holder"
	"github.com/trustbloc/agent-authz/pkg/vc/issuer"
	"github.com/trustbloc/agent-authz/pkg/vc/verifier"
)

func TestWallet(t *testing.T) {
	t.Parallel()

	issuerID := testutil.NewIdentity(t, "did:example:issuer")
	agent := testutil.NewIdentity(t, "did:example:agent-1")
	resolver, _ := testutil.Resolver(issuerID, agent)
	crypto := vccrypto.New(resolver, testutil.DocumentLoader(t))

	credentials, err := store.NewCredentialStore(mem.NewProvider())
	require.NoError(t, err)

	cred, err := issuer.New(resolver, crypto).Issue(context.Background(), issuerID.DID, issuerID.Key, agent.DID,
		&issuer.Claims{Type: vc.BookOrderingCredentialType, Scopes: []string{"search_books", "view_inventory"}})
	require.NoError(t, err)

	rec, err := store.NewCredentialRecord("agent-1", cred)
	require.NoError(t, err)
	require.NoError(t, credentials.Put(rec))

	w := New(agent.DID, agent.Key, holder.New(resolver, crypto), credentials, WithConcurrency(2))
	require.Equal(t, agent.DID, w.HolderDID())

	g := gate.New(verifier.New(crypto), gate.WithDomain("bookstore.example.com"))

	t.Run("test acquire - success", func(t *testing.T) {
		t.Parallel()

		s := g.NewSession(agent.DID)

		reqs, err := s.Raise(context.Background(), gate.Operation{Action: "search_books"}, gate.Operation{Action: "view_inventory"})
		require.NoError(t, err)

		for _, d := range s.Resolve(context.Background(), reqs, w) {
			require.True(t, d.Authorized(), d.Details)
			require.Equal(t, cred.ID, d.Credential.ID)
		}

		raw, err := w.Acquire(context.Background(), &gate.Requirement{
			ID: "r1", RequiredCredentialType: vc.BookOrderingCredentialType, Challenge: "auth_42",
		})
		require.NoError(t, err)

		vp, err := vc.ParsePresentation(raw)
		require.NoError(t, err)
		require.Equal(t, "auth_42", vp.Proof.Challenge)
		require.Equal(t, agent.DID, vp.Holder)
	})

	t.Run("test acquire all", func(t *testing.T) {
		t.Parallel()

		reqs := []*gate.Requirement{
			{ID: "r1", RequiredCredentialType: vc.BookOrderingCredentialType, Challenge: "c1"},
			{ID: "r2", RequiredCredentialType: vc.ShoppingCartCredentialType, Challenge: "c2"},
			{ID: "r3", RequiredCredentialType: vc.BookOrderingCredentialType},
			{
				ID: "r4", RequiredCredentialType: vc.BookOrderingCredentialType, Challenge: "c4",
				Status: gate.StatusDenied, Reason: authzerr.AuthorizationDeniedError, Details: "no challenge",
			},
		}

		results := w.AcquireAll(context.Background(), reqs)
		require.Len(t, results, 4)

		require.Equal(t, "r1", results[0].RequirementID)
		require.NoError(t, results[0].Err)
		require.NotEmpty(t, results[0].Presentation)

		require.Equal(t, authzerr.CredentialTypeMismatch, authzerr.KindOf(results[1].Err))
		require.Equal(t, authzerr.ChallengeMismatchError, authzerr.KindOf(results[2].Err))
		require.Equal(t, authzerr.AuthorizationDeniedError, authzerr.KindOf(results[3].Err))
		require.Empty(t, results[3].Presentation)
	})

	t.Run("expired credentials are skipped", func(t *testing.T) {
		t.Parallel()

		late := New(agent.DID, agent.Key, holder.New(resolver, crypto), credentials,
			WithClock(func() time.Time { return time.Now().Add(issuer.DefaultValidity + time.Hour) }))

		_, err := late.Acquire(context.Background(), &gate.Requirement{
			ID: "r1", RequiredCredentialType: vc.BookOrderingCredentialType, Challenge: "c1",
		})
		require.Equal(t, authzerr.CredentialTypeMismatch, authzerr.KindOf(err))
	})
}
