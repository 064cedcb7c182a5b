package external

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingTelemetry struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTelemetry) Track(event string, fields map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTelemetry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAsyncTelemetryDeliversEvents(t *testing.T) {
	inner := &recordingTelemetry{}
	a := NewAsyncTelemetry(inner, 8)
	defer a.Close()

	a.Track("exchange_completed", map[string]interface{}{"peer": "x"})
	require.Eventually(t, func() bool { return inner.count() == 1 }, time.Second, time.Millisecond)
}

func TestAsyncTelemetryDropsUnderBackpressure(t *testing.T) {
	block := make(chan struct{})
	blocker := trackerFunc(func(event string, fields map[string]interface{}) {
		<-block
	})
	a := NewAsyncTelemetry(blocker, 1)
	defer func() {
		close(block)
		a.Close()
	}()

	for i := 0; i < 10; i++ {
		a.Track("event", nil)
	}
	// None of these calls should have blocked the caller; reaching this
	// line at all is the assertion.
}

type trackerFunc func(event string, fields map[string]interface{})

func (f trackerFunc) Track(event string, fields map[string]interface{}) { f(event, fields) }
