// Package external defines the narrow collaborator interfaces the core
// calls out to but does not implement itself (spec §6 "External
// Interfaces"): notifying a host UI of new messages and reporting
// telemetry events. Both are non-blocking from the core's point of view,
// the way golang.zx2c4.com/wireguard/ipc hands events to a UAPI listener
// without waiting on it.
package external

import "github.com/murmur/murmur-core/internal/logging"

// Notifications surfaces newly received messages to whatever presents
// them to a person (spec §6 "Notifications.show_new_messages(n)").
type Notifications interface {
	ShowNewMessages(n int)
}

// Telemetry records engine events for observability (spec §6
// "Telemetry.track(event, fields)"). Implementations must not block the
// caller; dropping an event under backpressure is preferable to
// stalling the exchange path.
type Telemetry interface {
	Track(event string, fields map[string]interface{})
}

// NopNotifications discards every call, for configurations or tests
// with no UI attached.
type NopNotifications struct{}

func (NopNotifications) ShowNewMessages(int) {}

// LoggingTelemetry is the default Telemetry: it writes every event
// through the structured logger instead of a metrics backend (spec §9
// "Non-goals" excludes a metrics pipeline, but ambient observability is
// still carried via zap).
type LoggingTelemetry struct {
	Log logging.Logger
}

func (t LoggingTelemetry) Track(event string, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	t.Log.Infow("telemetry: "+event, args...)
}

// AsyncTelemetry wraps a Telemetry with a bounded channel so Track never
// blocks the exchange path, dropping events under backpressure (spec §6
// "non-blocking, drop-on-backpressure").
type AsyncTelemetry struct {
	inner Telemetry
	ch    chan trackCall
}

type trackCall struct {
	event  string
	fields map[string]interface{}
}

// NewAsyncTelemetry starts a background drain goroutine backed by a
// channel of the given capacity.
func NewAsyncTelemetry(inner Telemetry, capacity int) *AsyncTelemetry {
	a := &AsyncTelemetry{inner: inner, ch: make(chan trackCall, capacity)}
	go a.drain()
	return a
}

func (a *AsyncTelemetry) drain() {
	for call := range a.ch {
		a.inner.Track(call.event, call.fields)
	}
}

func (a *AsyncTelemetry) Track(event string, fields map[string]interface{}) {
	select {
	case a.ch <- trackCall{event: event, fields: fields}:
	default:
		// Backpressure: drop rather than block the exchange/scheduler path.
	}
}

// Close stops the drain goroutine once no further calls will arrive.
func (a *AsyncTelemetry) Close() { close(a.ch) }
