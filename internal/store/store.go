// Package store implements the durable message store (spec §4.3): a
// content-addressed message_id -> Message mapping with a text-hash dedup
// index, a tombstone table, and a monotonically increasing store_version
// counter. Durability is backed by go.etcd.io/bbolt, the way
// katzenpost/client persists its client state through coreos/bbolt —
// a single-writer embedded KV store behind one handle, readers snapshot
// (spec §5 "Shared-resource policy").
package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/murmur/murmur-core/internal/message"
	"github.com/murmur/murmur-core/internal/murmurerr"
)

var (
	bucketMessages   = []byte("messages")
	bucketTextIndex  = []byte("text_index")
	bucketTombstones = []byte("tombstones")
	bucketMeta       = []byte("meta")

	keyStoreVersion = []byte("store_version")
)

// Store is the single-writer handle every component shares; it is safe
// for concurrent use from multiple goroutines (spec §5).
type Store struct {
	mu            sync.RWMutex // serializes add/update/cleanup against snapshot reads
	db            *bbolt.DB
	refresh       chan struct{}
	tombstoneCap  int
}

// Open opens (creating if needed) the bbolt database at path and
// ensures all buckets exist.
func Open(path string, tombstoneCap int) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, murmurerr.Wrap(murmurerr.Internal, "store.Open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMessages, bucketTextIndex, bucketTombstones, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, murmurerr.Wrap(murmurerr.Internal, "store.Open", err)
	}
	if tombstoneCap <= 0 {
		tombstoneCap = 10000
	}
	return &Store{db: db, refresh: make(chan struct{}, 1), tombstoneCap: tombstoneCap}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// textHash is the dedup key: SHA-256 of the message text.
func textHash(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return sum[:]
}

// Add inserts m, performing dedup/tombstone/heart-merge per spec §4.3.
// It returns true iff a genuinely new message was stored.
func (s *Store) Add(m *message.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	isNew := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tomb := tx.Bucket(bucketTombstones)
		if tomb.Get([]byte(m.MessageID)) != nil {
			return nil // tombstoned: reject, not an error (spec §7)
		}

		msgs := tx.Bucket(bucketMessages)
		if existing := msgs.Get([]byte(m.MessageID)); existing != nil {
			// Heart merge: new priority = max(existing, incoming); received_timestamp unchanged.
			var cur message.Message
			if err := json.Unmarshal(existing, &cur); err != nil {
				return err
			}
			if m.Priority > cur.Priority {
				cur.Priority = m.Priority
			}
			return putMessage(msgs, &cur)
		}

		textIdx := tx.Bucket(bucketTextIndex)
		th := textHash(m.Text)
		if collidingID := textIdx.Get(th); collidingID != nil && string(collidingID) != m.MessageID {
			return nil // dedup by content: reject
		}

		stored := m.Clone()
		stored.ReceivedTimestamp = message.NowMillis()
		if err := putMessage(msgs, stored); err != nil {
			return err
		}
		if err := textIdx.Put(th, []byte(m.MessageID)); err != nil {
			return err
		}
		if err := bumpStoreVersion(tx); err != nil {
			return err
		}
		isNew = true
		return nil
	})
	if err != nil {
		return false, murmurerr.Wrap(murmurerr.Internal, "store.Add", err)
	}
	s.notifyRefresh()
	return isNew, nil
}

func putMessage(b *bbolt.Bucket, m *message.Message) error {
	enc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Put([]byte(m.MessageID), enc)
}

func bumpStoreVersion(tx *bbolt.Tx) error {
	meta := tx.Bucket(bucketMeta)
	v := currentStoreVersionTx(meta) + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return meta.Put(keyStoreVersion, buf[:])
}

func currentStoreVersionTx(meta *bbolt.Bucket) uint64 {
	raw := meta.Get(keyStoreVersion)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// StoreVersion returns the current monotonically increasing version.
func (s *Store) StoreVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v = currentStoreVersionTx(tx.Bucket(bucketMeta))
		return nil
	})
	return v
}

// Tombstone marks id as permanently rejected (spec §4.3), pruning the
// oldest tombstone by insertion order if the table is over capacity
// (spec §4.3 prune_tombstones, supplemented FIFO-by-age policy).
func (s *Store) Tombstone(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tomb := tx.Bucket(bucketTombstones)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(message.NowMillis()))
		if err := tomb.Put([]byte(id), buf[:]); err != nil {
			return err
		}
		return pruneTombstonesTx(tomb, s.tombstoneCap)
	})
	if err != nil {
		return murmurerr.Wrap(murmurerr.Internal, "store.Tombstone", err)
	}
	return nil
}

func pruneTombstonesTx(tomb *bbolt.Bucket, cap int) error {
	count := tomb.Stats().KeyN
	if count <= cap {
		return nil
	}
	type entry struct {
		key []byte
		ts  uint64
	}
	entries := make([]entry, 0, count)
	c := tomb.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var ts uint64
		if len(v) == 8 {
			ts = binary.BigEndian.Uint64(v)
		}
		entries = append(entries, entry{key: append([]byte(nil), k...), ts: ts})
	}
	// FIFO on age: oldest inserted first.
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].ts < entries[i].ts {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	toRemove := count - cap
	for i := 0; i < toRemove && i < len(entries); i++ {
		if err := tomb.Delete(entries[i].key); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTrust sets id's trust only if strictly greater than current
// (spec §4.3 update_trust, §8 property 4).
func (s *Store) UpdateTrust(id string, newTrust float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		raw := msgs.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var m message.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if newTrust <= m.TrustScore {
			return nil
		}
		m.SetTrust(newTrust)
		return putMessage(msgs, &m)
	})
}

// Has reports whether id is currently stored (not tombstoned/expired awareness included).
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketMessages).Get([]byte(id)) != nil
		return nil
	})
	return found
}

// IsTombstoned reports whether id has been permanently rejected.
func (s *Store) IsTombstoned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketTombstones).Get([]byte(id)) != nil
		return nil
	})
	return found
}

// Get returns a clone of the stored message, or nil if absent.
func (s *Store) Get(id string) *message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m *message.Message
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMessages).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var got message.Message
		if err := json.Unmarshal(raw, &got); err != nil {
			return err
		}
		m = &got
		return nil
	})
	return m
}

// GetAll returns a point-in-time snapshot of every stored message.
func (s *Store) GetAll() []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*message.Message
	_ = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m message.Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue // fail-soft: skip the offending record (spec §7)
			}
			out = append(out, &m)
		}
		return nil
	})
	return out
}

// RefreshNow notifies observers (e.g. a UI feed) that the store changed.
// Non-blocking: a full channel means an unconsumed refresh is already
// pending, which is equivalent for a UI-driven observer.
func (s *Store) RefreshNow() {
	s.notifyRefresh()
}

func (s *Store) notifyRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Refreshed returns the channel observers should select on.
func (s *Store) Refreshed() <-chan struct{} { return s.refresh }
