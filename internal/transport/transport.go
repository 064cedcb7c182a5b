// Package transport defines the abstract contract every radio/link
// implements (spec §2 "Transport Abstraction", §6 "Transport contract"):
// something that produces peer discoveries and offers a request/response
// byte channel to a peer. It mirrors the shape of
// golang.zx2c4.com/wireguard/conn.Bind — a narrow interface the core
// depends on, with exactly one fully-built implementation (lan) and
// thin per-radio files for the rest, the way the teacher has one
// conn_linux.go/conn_default.go per platform behind the same Bind.
package transport

import (
	"context"
	"io"

	"github.com/murmur/murmur-core/internal/peerregistry"
)

// Discovery is a single sighting of a peer on some transport
// (spec §6 "surface (peer_address, optional public_id prefix, optional signal)").
type Discovery struct {
	Address        string
	PublicIDPrefix string // may be empty until an app-layer handshake reveals it
	Signal         *int
	Port           *int
}

// Session is a bidirectional, framed byte stream to one peer, held open
// for the duration of a multi-round exchange (spec §4.5's staged
// protocol: PSI init, PSI exchange, count exchange, N message rounds all
// run over one Session). Callers write/read length-prefixed frames
// using internal/message's WriteFrame/ReadFrame helpers over Session
// directly, since Session embeds io.ReadWriter.
type Session interface {
	io.ReadWriteCloser
	RemoteAddr() string
}

// Transport is the abstract contract every radio implements.
type Transport interface {
	Kind() peerregistry.TransportKind

	// Discoveries returns a channel of peer sightings. The channel is
	// closed when the transport is stopped.
	Discoveries() <-chan Discovery

	// Dial opens a Session to addr for the initiator side of an exchange
	// (spec §4.5). It suspends for the duration of connection setup;
	// callers pass a context carrying their own deadline
	// (spec §5 "Suspension points").
	Dial(ctx context.Context, addr string) (Session, error)

	// Serve runs the inbound listener, invoking handler with a Session
	// per accepted connection and blocking until ctx is canceled
	// (spec §5 "Inbound sessions are served by per-transport listeners").
	Serve(ctx context.Context, handler StreamHandler) error

	// Close releases any held sockets (spec §5 "Cancellation & timeouts").
	Close() error
}

// StreamHandler drives one inbound exchange session to completion. It
// owns closing sess when done.
type StreamHandler func(ctx context.Context, sess Session)
