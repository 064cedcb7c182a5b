// Package history implements the per-peer exchange history tracker
// (spec §4 "History Tracker", §3 "Exchange history"): process-local
// mutable state, persisted periodically (spec §5), grounded on the
// teacher's IndexTable (device/indextable.go style keyed bookkeeping)
// and its timer-driven periodic routines (device/timers.go).
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/murmur/murmur-core/internal/logging"
	"github.com/murmur/murmur-core/internal/murmurerr"
)

var bucketHistory = []byte("exchange_history")

// Entry is the bookkeeping kept per address/public-id (spec §3
// "Exchange history").
type Entry struct {
	LastExchangeTime   int64 // ms since epoch
	Attempts           int
	StoreVersion       uint64
	LastPicked         int64 // ms since epoch, for round-robin ordering
	ConsecutiveFailures int
}

// Tracker is the scheduler's and history package's shared mutable
// state (spec §5 "Exchange history tracker is process-local mutable
// state"). Construct once at startup and pass the handle down.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	db      *bbolt.DB
	log     logging.Logger
}

// Open loads persisted history from path, or starts empty if absent.
func Open(path string, log logging.Logger) (*Tracker, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, murmurerr.Wrap(murmurerr.Internal, "history.Open", err)
	}
	t := &Tracker{entries: make(map[string]*Entry), db: db, log: log}
	if err := t.load(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) load() error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketHistory)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil // fail-soft: skip the offending record
			}
			t.entries[string(k)] = &e
			return nil
		})
	})
}

func (t *Tracker) Close() error { return t.db.Close() }

// Get returns a copy of the entry for key (address or public-id), or a
// zero Entry if none exists yet.
func (t *Tracker) Get(key string) Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[key]; ok {
		return *e
	}
	return Entry{}
}

func (t *Tracker) entry(key string) *Entry {
	e, ok := t.entries[key]
	if !ok {
		e = &Entry{}
		t.entries[key] = e
	}
	return e
}

// RecordAttempt marks that an outbound exchange was attempted with key
// right now, incrementing attempts (backoff accounting, spec §4.6).
func (t *Tracker) RecordAttempt(key string, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	e.Attempts++
	e.LastExchangeTime = now
	e.LastPicked = now
}

// RecordSuccess resets attempts/consecutive_failures and records the
// store_version observed at this attempt (spec §4.6 "Success resets
// attempts and consecutive_failures").
func (t *Tracker) RecordSuccess(key string, now int64, storeVersion uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	e.Attempts = 0
	e.ConsecutiveFailures = 0
	e.LastExchangeTime = now
	e.StoreVersion = storeVersion
}

// RecordFailure increments consecutive_failures (spec §7 "increment
// attempts, consecutive_failures").
func (t *Tracker) RecordFailure(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(key).ConsecutiveFailures++
}

// Prune removes entries for addresses that are no longer observed
// (spec §3 "pruned when the address is no longer observed").
func (t *Tracker) Prune(observed map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		if _, ok := observed[key]; !ok {
			delete(t.entries, key)
		}
	}
}

// flush persists the current in-memory table (spec §5 "persisted
// periodically").
func (t *Tracker) flush() error {
	t.mu.RLock()
	snapshot := make(map[string]Entry, len(t.entries))
	for k, v := range t.entries {
		snapshot[k] = *v
	}
	t.mu.RUnlock()

	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		for k, v := range snapshot {
			enc, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if err := b.Put([]byte(k), enc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run periodically flushes history to durable storage until ctx is
// canceled (spec §5, §9 supplemented periodic persistence tick).
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := t.flush(); err != nil {
				t.log.Errorw("history flush on shutdown failed", "err", err)
			}
			return
		case <-ticker.C:
			if err := t.flush(); err != nil {
				t.log.Errorw("history flush failed", "err", err)
			}
		}
	}
}
