package sender

import (
	"errors"
	"fmt"

	"github.com/pion/ion-quic/pkg/varint"
)

// ErrorKind is the taxonomy of terminal and non-terminal failure
// conditions the core can enter.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindIdleTimeout
	ErrorKindRetransmissionFailure
	ErrorKindPacketNumberExhaustion
	ErrorKindApplication
	ErrorKindTransport
	ErrorKindFrame
	ErrorKindCrypto
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "None"
	case ErrorKindIdleTimeout:
		return "IdleTimeout"
	case ErrorKindRetransmissionFailure:
		return "RetransmissionFailure"
	case ErrorKindPacketNumberExhaustion:
		return "PacketNumberExhaustion"
	case ErrorKindApplication:
		return "ApplicationError"
	case ErrorKindTransport:
		return "TransportError"
	case ErrorKindFrame:
		return "FrameError"
	case ErrorKindCrypto:
		return "Crypto"
	default:
		return "Unknown"
	}
}

// ErrorSource distinguishes an error the local side raised from one the
// peer signalled.
type ErrorSource int

const (
	SourceLocal ErrorSource = iota
	SourceRemote
)

// Error is the stream's sticky terminal error: set once, never
// replaced. Code carries the application/transport error code for the
// kinds that have one; it is 0 and meaningless otherwise.
type Error struct {
	Kind   ErrorKind
	Source ErrorSource
	Code   varint.Value
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sender: %s (%v): %v", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("sender: %s (%v): code=%d", e.Kind, e.Source, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func (s ErrorSource) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

var (
	// ErrIdleTimeout is wrapped into an ErrorKindIdleTimeout Error when
	// the idle timer fires.
	ErrIdleTimeout = errors.New("sender: idle timeout")
	// ErrRetransmissionFailure is wrapped into an ErrorKindRetransmissionFailure
	// Error when an unreliable-stream packet carrying payload is declared lost.
	ErrRetransmissionFailure = errors.New("sender: unreliable-stream packet declared lost")
	// ErrPacketNumberExhaustion is wrapped into an ErrorKindPacketNumberExhaustion
	// Error when a space's 62-bit packet-number counter would overflow.
	ErrPacketNumberExhaustion = errors.New("sender: packet-number space exhausted")
)
