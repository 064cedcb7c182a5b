// Package murmurerr defines the error taxonomy shared by every core
// component. Components wrap the errors they classify with a Kind so
// callers can decide how to account for them without string-matching;
// an error returned without a Kind (for example a raw bbolt or viper
// error) reports as Internal through KindOf.
package murmurerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way the exchange protocol and scheduler
// need to react to it. It is a closed set.
type Kind int

const (
	// Internal indicates an invariant violation inside the engine itself.
	Internal Kind = iota
	// InvalidInput indicates a malformed wire payload: bad length prefix,
	// non-UTF-8 body, missing required key, non-canonical PSI value.
	InvalidInput
	// CryptoError indicates a PSI-Ca parameter or hashing failure.
	CryptoError
	// TransportError indicates a connect timeout, reset, or unreachable peer.
	TransportError
	// ProtocolAbort indicates the responder declined to continue the
	// exchange (insufficient shared trust, session mismatch).
	ProtocolAbort
	// Timeout indicates a session or whole-cycle deadline was exceeded.
	Timeout
	// ResourceExhausted indicates too many concurrent inbound sessions.
	ResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case CryptoError:
		return "crypto_error"
	case TransportError:
		return "transport_error"
	case ProtocolAbort:
		return "protocol_abort"
	case Timeout:
		return "timeout"
	case ResourceExhausted:
		return "resource_exhausted"
	default:
		return "internal"
	}
}

// Error is the typed error every internal package returns. Cause carries
// the underlying error (transport reset, json.SyntaxError, ...) so
// callers that need it can still errors.Cause() down to it, while
// callers that only care about disposition can switch on Kind.
type Error struct {
	Kind    Kind
	Op      string // component/operation that produced the error, e.g. "exchange.readFrame"
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Cause implements the github.com/pkg/errors Causer interface.
func (e *Error) Cause() error { return e.cause }

// New builds an Error with no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a Kind and operation name to an existing error. If err is
// already a *Error it is returned unchanged, keeping its original Kind
// and Op.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	if existing, ok := err.(*Error); ok {
		return existing
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), cause: errors.WithStack(err)}
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
