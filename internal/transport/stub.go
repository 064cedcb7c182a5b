package transport

import (
	"context"

	"github.com/murmur/murmur-core/internal/murmurerr"
	"github.com/murmur/murmur-core/internal/peerregistry"
)

// Stub is the shared skeleton for transports whose radio driver is out
// of scope (spec §1 "OS-level radio drivers" are an external
// collaborator): BLE, Wi-Fi Direct, and Wi-Fi Aware. Discoveries and the
// session primitive are expected to be fed by a platform-specific
// adapter calling Inject/SetDialer/SetHandler; the core only depends on
// the Transport interface these satisfy.
type Stub struct {
	kind        peerregistry.TransportKind
	discoveries chan Discovery
	dialer      func(ctx context.Context, addr string) (Session, error)
	handler     StreamHandler
}

// NewStub constructs a Stub transport of the given kind with a
// discovery channel of the given buffer size.
func NewStub(kind peerregistry.TransportKind, bufferSize int) *Stub {
	return &Stub{kind: kind, discoveries: make(chan Discovery, bufferSize)}
}

func (s *Stub) Kind() peerregistry.TransportKind { return s.kind }
func (s *Stub) Discoveries() <-chan Discovery     { return s.discoveries }

// Inject is called by the platform adapter when its radio surfaces a
// peer (spec §6 "surface (peer_address, optional public_id prefix,
// optional signal)"). Non-blocking: a full channel drops the sighting,
// the same backpressure policy as spec §6 Telemetry.track.
func (s *Stub) Inject(d Discovery) {
	select {
	case s.discoveries <- d:
	default:
	}
}

// SetDialer wires the platform adapter's actual session-opening
// primitive. Until set, Dial fails with TransportError.
func (s *Stub) SetDialer(fn func(ctx context.Context, addr string) (Session, error)) {
	s.dialer = fn
}

// SetHandler stores h as the inbound session handler; Serve replaces it
// with the handler it is given. Stub never invokes the stored handler
// itself: Serve only blocks until ctx is canceled.
func (s *Stub) SetHandler(h StreamHandler) { s.handler = h }

func (s *Stub) Dial(ctx context.Context, addr string) (Session, error) {
	if s.dialer == nil {
		return nil, murmurerr.New(murmurerr.TransportError, s.kind.String()+".Dial", "no platform adapter registered")
	}
	return s.dialer(ctx, addr)
}

func (s *Stub) Serve(ctx context.Context, handler StreamHandler) error {
	s.handler = handler
	<-ctx.Done()
	return nil
}

func (s *Stub) Close() error {
	close(s.discoveries)
	return nil
}
