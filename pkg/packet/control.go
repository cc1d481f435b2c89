// Control packet encode/decode.
package packet

import (
	"encoding/binary"

	"github.com/pion/ion-quic/pkg/varint"
)

// ControlOpener verifies a control packet's authenticity.
type ControlOpener interface {
	Verify(header, tag []byte) error
}

// ControlSealer produces the auth tag for an outbound control packet.
type ControlSealer interface {
	Seal(header, payload []byte) (tag []byte, err error)
	TagLen() int
}

// ControlPacket is the decoded form of a control-only packet (ACK,
// MAX_DATA, CONNECTION_CLOSE, PING, PADDING carriers).
type ControlPacket struct {
	Credentials                Credentials
	WireVersion                uint16
	NextExpectedControlPacket  varint.Value
	ControlData                []byte
	AuthTag                    []byte
}

const controlTag Tag = tagHasControlData

// EncodeControl serializes p; AuthTag must already be populated (by a
// ControlSealer) to the sealer's TagLen.
func EncodeControl(dst []byte, p *ControlPacket) ([]byte, error) {
	if len(p.AuthTag) < 16 {
		return dst, ErrMissingAuthTag
	}
	dst = append(dst, byte(controlTag))
	dst = p.Credentials.encode(dst)

	var wv [2]byte
	binary.BigEndian.PutUint16(wv[:], p.WireVersion)
	dst = append(dst, wv[:]...)

	var err error
	if dst, err = varint.Encode(dst, p.NextExpectedControlPacket); err != nil {
		return dst, ErrVarIntOverflow
	}
	if dst, err = varint.Encode(dst, varint.Value(len(p.ControlData))); err != nil {
		return dst, ErrVarIntOverflow
	}
	dst = append(dst, p.ControlData...)
	dst = append(dst, p.AuthTag...)
	return dst, nil
}

// DecodeControl parses a control packet. tagLen is the AEAD tag length.
func DecodeControl(buf []byte, tagLen int) (*ControlPacket, error) {
	if tagLen < 16 {
		tagLen = 16
	}
	if len(buf) < 1 {
		return nil, ErrShortBuffer
	}
	buf = buf[1:] // tag byte, fixed value for control packets

	cred, buf, err := decodeCredentials(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < 2 {
		return nil, ErrShortBuffer
	}
	wireVersion := binary.BigEndian.Uint16(buf)
	buf = buf[2:]

	p := &ControlPacket{Credentials: cred, WireVersion: wireVersion}

	var n int
	if p.NextExpectedControlPacket, n, err = varint.Decode(buf); err != nil {
		return nil, err
	}
	buf = buf[n:]

	dataLen, n, err := varint.Decode(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[n:]

	need := int(dataLen) + tagLen
	if need < 0 || len(buf) < need {
		return nil, ErrPayloadOverrun
	}
	p.ControlData = buf[:dataLen]
	buf = buf[dataLen:]
	p.AuthTag = buf[:tagLen]

	return p, nil
}
