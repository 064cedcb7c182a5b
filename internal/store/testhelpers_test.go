package store

import (
	"go.etcd.io/bbolt"

	"github.com/murmur/murmur-core/internal/message"
)

// forceWrite overwrites a stored message's raw record, bypassing Add's
// merge/dedup semantics. Used only by tests that need to backdate
// received_timestamp to exercise retention policy.
func (s *Store) forceWrite(m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putMessage(tx.Bucket(bucketMessages), m)
	})
}
