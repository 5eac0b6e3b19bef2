/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didresolver resolves DIDs to documents and verification methods, with a TTL cache in front
// of the VDR registry.
package didresolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	vdrapi "github.com/hyperledger/aries-framework-go/pkg/framework/aries/api/vdr"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/agent-authz/pkg/authzerr"
)

var logger = log.New("agent-authz/didresolver")

const (
	defaultTTL           = 5 * time.Minute
	defaultCacheSize     = 1000
	defaultMaxRetries    = 2
	defaultRetryInterval = 200 * time.Millisecond
)

// Resolver resolves DIDs through a VDR registry. Documents are cached per DID until their TTL expires.
type Resolver struct {
	registry      vdrapi.Registry
	cache         gcache.Cache
	ttl           time.Duration
	size          int
	maxRetries    uint64
	retryInterval time.Duration
	clock         gcache.Clock
}

// Option configures the Resolver.
type Option func(r *Resolver)

// WithTTL sets how long a resolved document is reused.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithCacheSize bounds the number of cached documents.
func WithCacheSize(size int) Option {
	return func(r *Resolver) {
		r.size = size
	}
}

// WithMaxRetries sets how many times a failed resolution is retried.
func WithMaxRetries(n uint64) Option {
	return func(r *Resolver) {
		r.maxRetries = n
	}
}

// WithRetryInterval sets the initial backoff interval between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Resolver) {
		r.retryInterval = d
	}
}

// WithClock sets the clock driving cache expiry.
func WithClock(clock gcache.Clock) Option {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// New returns a Resolver in front of registry.
func New(registry vdrapi.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		registry:      registry,
		ttl:           defaultTTL,
		size:          defaultCacheSize,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}

	for _, opt := range opts {
		opt(r)
	}

	builder := gcache.New(r.size).LRU().Expiration(r.ttl)
	if r.clock != nil {
		builder = builder.Clock(r.clock)
	}

	r.cache = builder.Build()

	return r
}

// Resolve returns the DID document of didID.
func (r *Resolver) Resolve(ctx context.Context, didID string) (*did.Doc, error) {
	if cached, err := r.cache.Get(didID); err == nil {
		if doc, ok := cached.(*did.Doc); ok {
			return doc, nil
		}
	}

	doc, err := r.resolveWithRetry(ctx, didID)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.DidResolutionError, err, "resolve %s", didID)
	}

	if err := r.cache.Set(didID, doc); err != nil {
		logger.Warnf("failed to cache did document %s: %s", didID, err)
	}

	return doc, nil
}

// ResolveVerificationMethod resolves a did#keyID URL to its verification method.
func (r *Resolver) ResolveVerificationMethod(ctx context.Context, didURL string) (*did.VerificationMethod, error) {
	didID, err := GetDIDFromVerificationMethod(didURL)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.VerificationMethodNotFound, err, "invalid verification method")
	}

	fragment, err := GetKeyIDFromVerificationMethod(didURL)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.VerificationMethodNotFound, err, "invalid verification method")
	}

	return r.ResolveFragment(ctx, didID, fragment)
}

// ResolveFragment resolves didID and returns the verification method with the given fragment,
// written either as "key-1" or "#key-1".
func (r *Resolver) ResolveFragment(ctx context.Context, didID, fragment string) (*did.VerificationMethod, error) {
	doc, err := r.Resolve(ctx, didID)
	if err != nil {
		return nil, err
	}

	if fragment == "" || fragment == "#" {
		return nil, authzerr.New(authzerr.VerificationMethodNotFound, "empty fragment for %s", didID)
	}

	if fragment[0] != '#' {
		fragment = "#" + fragment
	}

	vm, ok := FindVerificationMethod(doc, didID+fragment)
	if !ok {
		return nil, authzerr.New(authzerr.VerificationMethodNotFound, "%s%s", didID, fragment)
	}

	return vm, nil
}

// Invalidate drops the cached document of didID.
func (r *Resolver) Invalidate(didID string) {
	r.cache.Remove(didID)
}

// Purge drops every cached document.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

func (r *Resolver) resolveWithRetry(ctx context.Context, didID string) (*did.Doc, error) {
	var doc *did.Doc

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryInterval

	err := backoff.RetryNotify(
		func() error {
			res, err := r.resolveOnce(ctx, didID)
			if err != nil {
				if errors.Is(err, vdrapi.ErrNotFound) || ctx.Err() != nil {
					return backoff.Permanent(err)
				}

				return err
			}

			if res == nil || res.DIDDocument == nil {
				return backoff.Permanent(errors.New("empty resolution result"))
			}

			doc = res.DIDDocument

			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx),
		func(retryErr error, t time.Duration) {
			logger.Warnf("failed to resolve %s, will retry in %s : %s", didID, t, retryErr)
		},
	)
	if err != nil {
		return nil, err // nolint:wrapcheck // wrapped by caller
	}

	return doc, nil
}

// resolveOnce bounds a registry call by ctx; the VDR API itself takes no context.
func (r *Resolver) resolveOnce(ctx context.Context, didID string) (*did.DocResolution, error) {
	type result struct {
		res *did.DocResolution
		err error
	}

	ch := make(chan result, 1)

	go func() {
		res, err := r.registry.Resolve(didID)
		ch <- result{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("resolution abandoned: %w", ctx.Err())
	case out := <-ch:
		return out.res, out.err
	}
}
