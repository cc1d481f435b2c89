// Errors for the stream/control packet codec, kept as a flat var block
// of sentinel errors rather than a custom error-code hierarchy.
package packet

import "errors"

var (
	ErrShortBuffer           = errors.New("packet: buffer too short")
	ErrVarIntOverflow        = errors.New("packet: varint exceeds 2^62-1")
	ErrOffsetOverflow        = errors.New("packet: retransmission offset exceeds 2^32-1")
	ErrPayloadOverrun        = errors.New("packet: payload length exceeds remaining buffer")
	ErrMissingAuthTag        = errors.New("packet: missing or undersized auth tag")
	ErrUnreliableRetransmit  = errors.New("packet: cannot retransmit an unreliable-stream packet")
	ErrUnknownPreviousOffset = errors.New("packet: previous retransmission offset required to undo tag binding")
)
