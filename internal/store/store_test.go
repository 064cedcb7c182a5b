package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/murmur/murmur-core/internal/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, 100)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddIsIdempotentAndReportsNotNew(t *testing.T) {
	s := newTestStore(t)
	m := message.New("hello", 1000)

	isNew, err := s.Add(m)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew2, err := s.Add(m)
	require.NoError(t, err)
	require.False(t, isNew2)
}

func TestTombstoneNeverReaccepted(t *testing.T) {
	s := newTestStore(t)
	m := message.New("hello", 1000)

	isNew, err := s.Add(m)
	require.NoError(t, err)
	require.True(t, isNew)

	require.NoError(t, s.Tombstone(m.MessageID))
	require.NoError(t, s.UpdateTrust(m.MessageID, 0)) // no-op, message was never deleted from messages bucket in this test

	// Re-adding a *different* message with the same id must be rejected.
	again := message.New("hello again", 2000)
	again.MessageID = m.MessageID
	isNew3, err := s.Add(again)
	require.NoError(t, err)
	require.False(t, isNew3)
	require.True(t, s.IsTombstoned(m.MessageID))
}

func TestHeartMergeIsMax(t *testing.T) {
	s := newTestStore(t)
	m := message.New("hi", 1000)
	m.SetPriority(1)
	_, err := s.Add(m)
	require.NoError(t, err)

	dup := message.New("hi", 1000)
	dup.MessageID = m.MessageID
	dup.SetPriority(5)
	_, err = s.Add(dup)
	require.NoError(t, err)

	got := s.Get(m.MessageID)
	require.Equal(t, 5, got.Priority)

	// A lower-priority duplicate must not decrease the stored priority.
	dup2 := message.New("hi", 1000)
	dup2.MessageID = m.MessageID
	dup2.SetPriority(2)
	_, err = s.Add(dup2)
	require.NoError(t, err)
	require.Equal(t, 5, s.Get(m.MessageID).Priority)
}

func TestUpdateTrustNeverLowers(t *testing.T) {
	s := newTestStore(t)
	m := message.New("hi", 1000)
	m.SetTrust(0.5)
	_, err := s.Add(m)
	require.NoError(t, err)

	require.NoError(t, s.UpdateTrust(m.MessageID, 0.2))
	require.Equal(t, 0.5, s.Get(m.MessageID).TrustScore)

	require.NoError(t, s.UpdateTrust(m.MessageID, 0.9))
	require.Equal(t, 0.9, s.Get(m.MessageID).TrustScore)
}

func TestGetForExchangeFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)

	high := message.New("high trust", 1000)
	high.SetTrust(0.9)
	_, _ = s.Add(high)

	low := message.New("low trust", 1000)
	low.SetTrust(0.05)
	_, _ = s.Add(low)

	gated := message.New("gated", 1000)
	gated.MinContactsForHop = 5
	_, _ = s.Add(gated)

	out := s.GetForExchange(2, 10)
	require.Len(t, out, 2) // gated message excluded by min_contacts_for_hop
	require.Equal(t, high.MessageID, out[0].MessageID)
}

func TestCleanupByHearts(t *testing.T) {
	s := newTestStore(t)
	now := message.NowMillis()

	zeroHeart := message.New("zero", now)
	zeroHeart.ReceivedTimestamp = now - 6*dayMillis
	_, _ = s.Add(zeroHeart)
	forceReceivedTimestamp(t, s, zeroHeart.MessageID, now-6*dayMillis)

	survivor := message.New("two hearts 13d", now)
	survivor.SetPriority(2)
	_, _ = s.Add(survivor)
	forceReceivedTimestamp(t, s, survivor.MessageID, now-13*dayMillis)

	pruned := message.New("two hearts 15d", now)
	pruned.SetPriority(2)
	_, _ = s.Add(pruned)
	forceReceivedTimestamp(t, s, pruned.MessageID, now-15*dayMillis)

	n, err := s.CleanupByHearts()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.False(t, s.Has(zeroHeart.MessageID))
	require.True(t, s.Has(survivor.MessageID))
	require.False(t, s.Has(pruned.MessageID))
}

// forceReceivedTimestamp backdates a stored message's received_timestamp
// directly, since Add always stamps it with "now". Test-only escape
// hatch around Add's merge semantics.
func forceReceivedTimestamp(t *testing.T, s *Store, id string, ts int64) {
	t.Helper()
	m := s.Get(id)
	require.NotNil(t, m)
	m.ReceivedTimestamp = ts
	require.NoError(t, s.forceWrite(m))
}
