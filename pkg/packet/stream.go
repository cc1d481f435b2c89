// Stream packet encode/decode and the in-place retransmission rewrite.
package packet

import (
	"encoding/binary"

	"github.com/pion/ion-quic/pkg/varint"
)

// HeaderBinder binds an auth tag to a specific wire packet number
// without touching payload bytes, so a retransmission can be rewritten
// in place instead of re-encrypting the full datagram.
type HeaderBinder interface {
	// RetransmissionTag returns a new tag with the binding moved from
	// oldPN to newPN. Calling it twice with the same (oldPN, newPN, tag)
	// triple is idempotent.
	RetransmissionTag(oldPN, newPN varint.Value, tag []byte) []byte
}

// StreamPacket is the decoded form of a stream-space or recovery-space
// data packet: the wire-level view that a sent-packet record is built
// from, plus bookkeeping.
type StreamPacket struct {
	Credentials                     Credentials
	WireVersion                     uint16
	StreamID                        varint.Value
	SourceQueueID                   varint.Value // valid iff HasSourceQueueID
	HasSourceQueueID                bool
	OriginalPacketNumber            varint.Value
	RetransmissionPacketNumberOffset uint32
	NextExpectedControlPacket       varint.Value
	StreamOffset                    varint.Value
	FinalOffset                     varint.Value // valid iff HasFinalOffset
	HasFinalOffset                  bool
	ApplicationHeader               []byte
	ControlData                     []byte
	Payload                         []byte
	AuthTag                         []byte
	IsRecovery                      bool
	KeyPhase                        bool
	// Reliable marks a stream whose packets may legally be retransmitted.
	// Non-reliable (datagram-like) streams that are declared lost surface
	// ErrRetransmissionFailure instead. This is sender-local bookkeeping,
	// not wire state: the tag byte has no reliable bit, so this field is
	// never serialized and a decoded packet always reports it false.
	Reliable bool
}

// PacketNumber is the value actually carried on the wire: the original
// packet number plus the retransmission offset.
func (p *StreamPacket) PacketNumber() varint.Value {
	return p.OriginalPacketNumber + varint.Value(p.RetransmissionPacketNumberOffset)
}

func (p *StreamPacket) tag() Tag {
	space := SpaceStream
	if p.IsRecovery {
		space = SpaceRecovery
	}
	return buildTag(len(p.ControlData) > 0, p.HasFinalOffset, len(p.ApplicationHeader) > 0, p.HasSourceQueueID, p.IsRecovery, p.KeyPhase, space)
}

// EncodeStream serializes p. Payload and AuthTag are copied verbatim; no
// sealing happens here, since the application segment arrives already
// encrypted.
func EncodeStream(dst []byte, p *StreamPacket) ([]byte, error) {
	if len(p.AuthTag) < 16 {
		return dst, ErrMissingAuthTag
	}

	t := p.tag()
	dst = append(dst, byte(t))
	dst = p.Credentials.encode(dst)

	var wv [2]byte
	binary.BigEndian.PutUint16(wv[:], p.WireVersion)
	dst = append(dst, wv[:]...)
	dst = append(dst, 0, 0) // reserved

	var err error
	if dst, err = varint.Encode(dst, p.StreamID); err != nil {
		return dst, ErrVarIntOverflow
	}
	if p.HasSourceQueueID {
		if dst, err = varint.Encode(dst, p.SourceQueueID); err != nil {
			return dst, ErrVarIntOverflow
		}
	}
	if dst, err = varint.Encode(dst, p.OriginalPacketNumber); err != nil {
		return dst, ErrVarIntOverflow
	}

	if uint64(p.RetransmissionPacketNumberOffset) > 0xffffffff {
		return dst, ErrOffsetOverflow
	}
	var off [4]byte
	binary.BigEndian.PutUint32(off[:], p.RetransmissionPacketNumberOffset)
	dst = append(dst, off[:]...)

	if dst, err = varint.Encode(dst, p.NextExpectedControlPacket); err != nil {
		return dst, ErrVarIntOverflow
	}
	if dst, err = varint.Encode(dst, p.StreamOffset); err != nil {
		return dst, ErrVarIntOverflow
	}
	if p.HasFinalOffset {
		if dst, err = varint.Encode(dst, p.FinalOffset); err != nil {
			return dst, ErrVarIntOverflow
		}
	}
	if len(p.ControlData) > 0 {
		if dst, err = varint.Encode(dst, varint.Value(len(p.ControlData))); err != nil {
			return dst, ErrVarIntOverflow
		}
	}
	if dst, err = varint.Encode(dst, varint.Value(len(p.Payload))); err != nil {
		return dst, ErrVarIntOverflow
	}
	if len(p.ApplicationHeader) > 0 {
		if dst, err = varint.Encode(dst, varint.Value(len(p.ApplicationHeader))); err != nil {
			return dst, ErrVarIntOverflow
		}
	}

	dst = append(dst, p.ApplicationHeader...)
	dst = append(dst, p.ControlData...)
	dst = append(dst, p.Payload...)
	dst = append(dst, p.AuthTag...)
	return dst, nil
}

// DecodeStream parses a stream packet header plus payload/tag from buf.
// tagLen is the AEAD tag length (>=16) the caller's crypto suite uses;
// the codec has no other way to know where the payload ends and the tag
// begins.
func DecodeStream(buf []byte, tagLen int) (*StreamPacket, error) {
	if tagLen < 16 {
		tagLen = 16
	}
	if len(buf) < 1 {
		return nil, ErrShortBuffer
	}
	t := Tag(buf[0])
	buf = buf[1:]

	cred, buf, err := decodeCredentials(buf)
	if err != nil {
		return nil, err
	}

	if len(buf) < 4 {
		return nil, ErrShortBuffer
	}
	wireVersion := binary.BigEndian.Uint16(buf)
	buf = buf[4:] // version + 2 reserved bytes

	p := &StreamPacket{
		Credentials:       cred,
		WireVersion:       wireVersion,
		HasSourceQueueID:  t.hasSourceQueue(),
		HasFinalOffset:    t.hasFinalOffset(),
		IsRecovery:        t.isRecovery(),
		KeyPhase:          t.keyPhase(),
	}

	var n int
	if p.StreamID, n, err = varint.Decode(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	if p.HasSourceQueueID {
		if p.SourceQueueID, n, err = varint.Decode(buf); err != nil {
			return nil, err
		}
		buf = buf[n:]
	}

	if p.OriginalPacketNumber, n, err = varint.Decode(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	if len(buf) < 4 {
		return nil, ErrShortBuffer
	}
	p.RetransmissionPacketNumberOffset = binary.BigEndian.Uint32(buf)
	buf = buf[4:]

	if p.NextExpectedControlPacket, n, err = varint.Decode(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	if p.StreamOffset, n, err = varint.Decode(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	if p.HasFinalOffset {
		if p.FinalOffset, n, err = varint.Decode(buf); err != nil {
			return nil, err
		}
		buf = buf[n:]
	}

	var controlLen varint.Value
	if t.hasControlData() {
		if controlLen, n, err = varint.Decode(buf); err != nil {
			return nil, err
		}
		buf = buf[n:]
	}

	payloadLen, n, err := varint.Decode(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[n:]

	var appLen varint.Value
	if t.hasAppHeader() {
		if appLen, n, err = varint.Decode(buf); err != nil {
			return nil, err
		}
		buf = buf[n:]
	}

	need := int(appLen) + int(controlLen) + int(payloadLen) + tagLen
	if need < 0 || len(buf) < need {
		return nil, ErrPayloadOverrun
	}

	p.ApplicationHeader = buf[:appLen]
	buf = buf[appLen:]
	p.ControlData = buf[:controlLen]
	buf = buf[controlLen:]
	p.Payload = buf[:payloadLen]
	buf = buf[payloadLen:]
	p.AuthTag = buf[:tagLen]

	return p, nil
}

// RewriteRetransmission mutates encoded (a buffer previously produced by
// EncodeStream) in place: it updates the 4-byte retransmission offset
// field, clears the is-recovery-packet flag bit in the tag byte
// (retransmissions always ride the recovery space regardless of their
// original space), and asks binder to rebind the auth tag from the
// packet's previous wire packet number to its new one. Calling it twice
// to the same target offset is idempotent: it always undoes the
// packet's current binding before applying the new one, so repeating
// the call is a no-op on the tag bytes.
//
// reliable must come from the caller's own bookkeeping (e.g. the
// pnmap.Record the retransmission was recorded under), not from the
// decoded packet: the wire tag byte has no reliable bit, so a decoded
// StreamPacket's Reliable field is always false.
func RewriteRetransmission(encoded []byte, tagLen int, binder HeaderBinder, newOffset uint32, reliable bool) error {
	if len(encoded) < 1 {
		return ErrShortBuffer
	}
	if uint64(newOffset) > 0xffffffff {
		return ErrOffsetOverflow
	}
	if !reliable {
		return ErrUnreliableRetransmit
	}

	p, err := DecodeStream(encoded, tagLen)
	if err != nil {
		return err
	}

	oldPN := p.PacketNumber()
	originalPN := p.OriginalPacketNumber
	newPN := originalPN + varint.Value(newOffset)

	tag := append([]byte(nil), p.AuthTag...)
	tag = binder.RetransmissionTag(oldPN, originalPN, tag) // undo current binding
	tag = binder.RetransmissionTag(originalPN, newPN, tag) // bind to the new packet number
	copy(p.AuthTag, tag)

	offOffset := 1 + credentialsLen + 4 /* version+reserved */
	// stream-id varint precedes the offset field; recompute its width.
	_, n, err := varint.Decode(encoded[offOffset:])
	if err != nil {
		return err
	}
	offOffset += n
	if p.HasSourceQueueID {
		_, n, err = varint.Decode(encoded[offOffset:])
		if err != nil {
			return err
		}
		offOffset += n
	}
	_, n, err = varint.Decode(encoded[offOffset:]) // original_packet_number
	if err != nil {
		return err
	}
	offOffset += n

	if offOffset+4 > len(encoded) {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint32(encoded[offOffset:], newOffset)
	encoded[0] = byte(Tag(encoded[0]) &^ tagIsRecovery)

	return nil
}
