package store

import (
	"encoding/json"

	"go.etcd.io/bbolt"

	"github.com/murmur/murmur-core/internal/message"
)

const dayMillis = 24 * 60 * 60 * 1000

// heartsTTL returns the retention window for a message with the given
// heart (priority) count, per spec §4.3 cleanup_by_hearts:
// 0 hearts -> 5 days, 1 heart -> 7 days, >=2 hearts -> 14 days.
func heartsTTL(hearts int) int64 {
	switch {
	case hearts == 0:
		return 5 * dayMillis
	case hearts == 1:
		return 7 * dayMillis
	default:
		return 14 * dayMillis
	}
}

// CleanupByHearts deletes messages whose age (measured from
// received_timestamp, per spec §9 Design Notes (a)) exceeds their
// hearts-based TTL. Returns the number of messages removed.
func (s *Store) CleanupByHearts() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := message.NowMillis()
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		textIdx := tx.Bucket(bucketTextIndex)
		var toDelete []string
		c := msgs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m message.Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			ttl := heartsTTL(m.Priority)
			if now-m.ReceivedTimestamp > ttl {
				toDelete = append(toDelete, string(k))
			}
		}
		for _, id := range toDelete {
			if err := deleteMessageTx(msgs, textIdx, id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// DeleteOutdatedOrIrrelevant additionally removes messages below
// trustThreshold older than ageDays when enabled (spec §4.3
// delete_outdated_or_irrelevant).
func (s *Store) DeleteOutdatedOrIrrelevant(enabled bool, trustThreshold float64, ageDays int) (int, error) {
	if !enabled {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := message.NowMillis()
	ageCutoff := int64(ageDays) * dayMillis
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		textIdx := tx.Bucket(bucketTextIndex)
		var toDelete []string
		c := msgs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m message.Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			age := now - m.ReceivedTimestamp
			if m.TrustScore < trustThreshold && age > ageCutoff {
				toDelete = append(toDelete, string(k))
			}
		}
		for _, id := range toDelete {
			if err := deleteMessageTx(msgs, textIdx, id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func deleteMessageTx(msgs, textIdx *bbolt.Bucket, id string) error {
	raw := msgs.Get([]byte(id))
	if raw == nil {
		return nil
	}
	var m message.Message
	if err := json.Unmarshal(raw, &m); err == nil {
		_ = textIdx.Delete(textHash(m.Text))
	}
	return msgs.Delete([]byte(id))
}

// PruneTombstones caps the tombstone set, FIFO on insertion age
// (spec §4.3 prune_tombstones).
func (s *Store) PruneTombstones(cap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return pruneTombstonesTx(tx.Bucket(bucketTombstones), cap)
	})
}
