/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	activityStoreName = "activity"
	activityKeyPrefix = "activity"
	activityTag       = "activity"

	// DefaultMaxActivities is the number of entries kept by an activity log.
	DefaultMaxActivities = 1000
)

// ActivityType is the kind of an activity log entry.
type ActivityType string

// Activity types.
const (
	ActivityVCIssued      ActivityType = "VC_ISSUED"
	ActivityVCRevoked     ActivityType = "VC_REVOKED"
	ActivityVPIssued      ActivityType = "VP_ISSUED"
	ActivityVPVerified    ActivityType = "VP_VERIFIED"
	ActivityAuthzDecision ActivityType = "AUTHZ_DECISION"
	ActivityAgentCreated  ActivityType = "AGENT_CREATED"
)

// Activity is an activity log entry.
type Activity struct {
	ID        string                 `json:"id"`
	Seq       uint64                 `json:"seq"`
	Type      ActivityType           `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ActivityOpt configures an ActivityLog.
type ActivityOpt func(*ActivityLog)

// WithMaxActivities caps the number of kept entries.
func WithMaxActivities(n int) ActivityOpt {
	return func(l *ActivityLog) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithActivityClock sets the clock used for timestamps.
func WithActivityClock(now func() time.Time) ActivityOpt {
	return func(l *ActivityLog) {
		l.now = now
	}
}

// ActivityLog is a bounded log of protocol events. The oldest entries are dropped once the cap is reached.
type ActivityLog struct {
	store storage.Store
	max   int
	now   func() time.Time
	seq   uint64
	mu    sync.Mutex
}

// NewActivityLog opens the activity log.
func NewActivityLog(provider storage.Provider, opts ...ActivityOpt) (*ActivityLog, error) {
	store, err := openStore(provider, activityStoreName, activityTag)
	if err != nil {
		return nil, err
	}

	l := &ActivityLog{store: store, max: DefaultMaxActivities, now: time.Now}

	for _, opt := range opts {
		opt(l)
	}

	entries, err := l.all()
	if err != nil {
		return nil, err
	}

	if len(entries) > 0 {
		l.seq = entries[0].Seq
	}

	return l, nil
}

// Append adds an entry.
func (l *ActivityLog) Append(t ActivityType, details map[string]interface{}) (*Activity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++

	entry := &Activity{
		ID:        uuid.New().String(),
		Seq:       l.seq,
		Type:      t,
		Timestamp: l.now().UTC(),
		Details:   details,
	}

	bytes, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("activity save - marshalling error: %w", err)
	}

	err = l.store.Put(getDBKey(activityKeyPrefix, entry.ID), bytes, storage.Tag{Name: activityTag})
	if err != nil {
		return nil, fmt.Errorf("failed to save activity: %w", err)
	}

	if err := l.trim(); err != nil {
		logger.Warnf("failed to trim activity log: %s", err)
	}

	return entry, nil
}

// List returns up to limit entries, newest first. A limit of zero or less returns every entry.
func (l *ActivityLog) List(limit int) ([]*Activity, error) {
	entries, err := l.all()
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (l *ActivityLog) trim() error {
	entries, err := l.all()
	if err != nil {
		return err
	}

	if len(entries) <= l.max {
		return nil
	}

	for _, e := range entries[l.max:] {
		if err := l.store.Delete(getDBKey(activityKeyPrefix, e.ID)); err != nil {
			return fmt.Errorf("failed to delete activity %s: %w", e.ID, err)
		}
	}

	return nil
}

func (l *ActivityLog) all() ([]*Activity, error) {
	values, err := query(l.store, activityTag)
	if err != nil {
		return nil, err
	}

	entries := make([]*Activity, 0, len(values))

	for _, v := range values {
		e := &Activity{}

		if err := json.Unmarshal(v, e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
		}

		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Seq > entries[j].Seq
	})

	return entries, nil
}
