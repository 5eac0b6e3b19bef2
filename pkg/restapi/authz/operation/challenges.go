/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"
)

const (
	// DefaultChallengeTTL is how long an issued challenge can be used.
	DefaultChallengeTTL = 5 * time.Minute

	challengeCacheSize = 10000
)

var errUnknownChallenge = errors.New("challenge was not issued by this server, has expired or was already used")

type challengeRecord struct {
	domain    string
	expiresAt time.Time
}

// challenges holds issued challenges until they expire or are consumed.
type challenges struct {
	cache gcache.Cache
	clock gcache.Clock
	ttl   time.Duration
}

func newChallenges(ttl time.Duration, clock gcache.Clock) *challenges {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}

	if clock == nil {
		clock = gcache.NewRealClock()
	}

	return &challenges{
		cache: gcache.New(challengeCacheSize).LRU().Expiration(ttl).Clock(clock).Build(),
		clock: clock,
		ttl:   ttl,
	}
}

func (c *challenges) issue(domain string) (*ChallengeResponse, error) {
	rec := &challengeRecord{
		domain:    domain,
		expiresAt: c.clock.Now().Add(c.ttl).UTC(),
	}

	challenge := uuid.New().String()

	if err := c.cache.Set(challenge, rec); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return &ChallengeResponse{Challenge: challenge, Domain: domain, ExpiresAt: rec.expiresAt}, nil
}

// consume removes the challenge and returns the domain it was issued for. A challenge is consumed once.
func (c *challenges) consume(challenge string) (string, error) {
	v, err := c.cache.Get(challenge)
	if err != nil {
		return "", errUnknownChallenge
	}

	if !c.cache.Remove(challenge) {
		return "", errUnknownChallenge
	}

	rec, ok := v.(*challengeRecord)
	if !ok {
		return "", fmt.Errorf("invalid challenge record %T", v)
	}

	return rec.domain, nil
}
