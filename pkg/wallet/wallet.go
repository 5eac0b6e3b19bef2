/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package wallet answers authorization requirements with presentations of the holder's stored credentials.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustbloc/edge-core/pkg/log"
	"golang.org/x/sync/errgroup"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
	"github.com/trustbloc/agent-authz/pkg/gate"
	"github.com/trustbloc/agent-authz/pkg/store"
	"github.com/trustbloc/agent-authz/pkg/vc"
)

var logger = log.New("agent-authz/wallet")

const defaultConcurrency = 4

// CredentialSource finds the credential to present.
type CredentialSource interface {
	LatestActive(agentDID, credType string, now time.Time) (*store.CredentialRecord, error)
}

// PresentationBuilder signs presentations.
type PresentationBuilder interface {
	Present(ctx context.Context, credentials []*vc.Credential, holderDID string, holderKey ed25519.PrivateKey,
		challenge, domain string) (*vc.Presentation, error)
}

// Acquired is the presentation built for one requirement, or the reason it could not be built.
type Acquired struct {
	RequirementID string
	Presentation  json.RawMessage
	Err           error
}

// Option configures the Wallet.
type Option func(w *Wallet)

// WithConcurrency bounds the presentations built at once by AcquireAll.
func WithConcurrency(n int) Option {
	return func(w *Wallet) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithClock sets the clock used to pick active credentials.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) {
		w.now = now
	}
}

// Wallet holds an agent's key and acquires presentations on its behalf.
type Wallet struct {
	holderDID   string
	key         ed25519.PrivateKey
	builder     PresentationBuilder
	source      CredentialSource
	concurrency int
	now         func() time.Time
}

// New returns a new Wallet.
func New(holderDID string, key ed25519.PrivateKey, builder PresentationBuilder, source CredentialSource,
	opts ...Option) *Wallet {
	w := &Wallet{
		holderDID:   holderDID,
		key:         key,
		builder:     builder,
		source:      source,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// HolderDID returns the DID the wallet presents as.
func (w *Wallet) HolderDID() string {
	return w.holderDID
}

// Acquire presents the newest active credential of the required type, bound to the requirement's
// challenge and domain.
func (w *Wallet) Acquire(ctx context.Context, req *gate.Requirement) ([]byte, error) {
	if req.Status == gate.StatusDenied {
		return nil, authzerr.New(req.Reason, "requirement %s already denied: %s", req.ID, req.Details)
	}

	rec, err := w.source.LatestActive(w.holderDID, req.RequiredCredentialType, w.now())
	if err != nil {
		return nil, authzerr.Wrap(authzerr.CredentialTypeMismatch, err, "wallet of %s", w.holderDID)
	}

	cred, err := rec.Credential()
	if err != nil {
		return nil, authzerr.Wrap(authzerr.CredentialMalformedError, err, "stored credential %s", rec.VCID)
	}

	vp, err := w.builder.Present(ctx, []*vc.Credential{cred}, w.holderDID, w.key, req.Challenge, req.Domain)
	if err != nil {
		return nil, fmt.Errorf("present %s for %s: %w", rec.VCID, req.ActionName, err)
	}

	raw, err := json.Marshal(vp)
	if err != nil {
		return nil, fmt.Errorf("marshal presentation: %w", err)
	}

	logger.Debugf("presented %s for requirement %s", rec.VCID, req.ID)

	return raw, nil
}

// AcquireAll builds presentations for reqs concurrently. A failure only affects its own requirement;
// results are in input order.
func (w *Wallet) AcquireAll(ctx context.Context, reqs []*gate.Requirement) []*Acquired {
	results := make([]*Acquired, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i, req := range reqs {
		i, req := i, req

		g.Go(func() error {
			raw, err := w.Acquire(gctx, req)
			if err != nil {
				logger.Warnf("no presentation for requirement %s: %s", req.ID, err)
			}

			results[i] = &Acquired{RequirementID: req.ID, Presentation: raw, Err: err}

			return nil
		})
	}

	_ = g.Wait() // nolint:errcheck // per-requirement errors are in results

	return results
}
