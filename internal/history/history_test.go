package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/murmur/murmur-core/internal/logging"
)

func openTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := Open(filepath.Join(t.TempDir(), "history.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestRecordAttemptIncrementsAndStamps(t *testing.T) {
	tr := openTestTracker(t)
	tr.RecordAttempt("peer-a", 1000)
	tr.RecordAttempt("peer-a", 2000)

	e := tr.Get("peer-a")
	require.Equal(t, 2, e.Attempts)
	require.EqualValues(t, 2000, e.LastExchangeTime)
	require.EqualValues(t, 2000, e.LastPicked)
}

func TestRecordSuccessResetsFailuresAndAttempts(t *testing.T) {
	tr := openTestTracker(t)
	tr.RecordAttempt("peer-a", 1000)
	tr.RecordFailure("peer-a")
	tr.RecordFailure("peer-a")

	tr.RecordSuccess("peer-a", 3000, 42)

	e := tr.Get("peer-a")
	require.Equal(t, 0, e.Attempts)
	require.Equal(t, 0, e.ConsecutiveFailures)
	require.EqualValues(t, 42, e.StoreVersion)
	require.EqualValues(t, 3000, e.LastExchangeTime)
}

func TestRecordFailureAccumulates(t *testing.T) {
	tr := openTestTracker(t)
	tr.RecordFailure("peer-a")
	tr.RecordFailure("peer-a")
	tr.RecordFailure("peer-a")

	require.Equal(t, 3, tr.Get("peer-a").ConsecutiveFailures)
}

func TestPruneDropsUnobserved(t *testing.T) {
	tr := openTestTracker(t)
	tr.RecordAttempt("peer-a", 1000)
	tr.RecordAttempt("peer-b", 1000)

	tr.Prune(map[string]struct{}{"peer-a": {}})

	require.Equal(t, 0, tr.Get("peer-b").Attempts)
	require.Equal(t, 1, tr.Get("peer-a").Attempts)
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	tr, err := Open(path, logging.Nop())
	require.NoError(t, err)
	tr.RecordAttempt("peer-a", 5000)
	require.NoError(t, tr.flush())
	require.NoError(t, tr.Close())

	tr2, err := Open(path, logging.Nop())
	require.NoError(t, err)
	defer tr2.Close()

	e := tr2.Get("peer-a")
	require.Equal(t, 1, e.Attempts)
	require.EqualValues(t, 5000, e.LastExchangeTime)
}

func TestRunFlushesOnCancel(t *testing.T) {
	tr := openTestTracker(t)
	tr.RecordAttempt("peer-a", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	require.NoError(t, tr.db.View(func(tx *bbolt.Tx) error {
		require.NotNil(t, tx.Bucket(bucketHistory).Get([]byte("peer-a")), "Run must flush history on cancellation")
		return nil
	}))
}
