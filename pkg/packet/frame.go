// Control frames carried inside a control packet's control-data bytes.
// Frame types are a small closed set, matched on their leading
// varint-encoded frame-type byte.
package packet

import "github.com/pion/ion-quic/pkg/varint"

// FrameType identifies a control frame.
type FrameType byte

const (
	FrameTypePadding             FrameType = 0x00
	FrameTypePing                FrameType = 0x01
	FrameTypeAck                 FrameType = 0x02
	FrameTypeAckECN              FrameType = 0x03
	FrameTypeMaxData             FrameType = 0x10
	FrameTypeConnectionClose     FrameType = 0x1c
	FrameTypeConnectionCloseApp  FrameType = 0x1d
)

// AckRange is one (gap, length) pair trailing the first ack range,
// descending in packet number.
type AckRange struct {
	Gap    varint.Value
	Length varint.Value
}

// Frame is the decoded form of one control-data frame.
type Frame struct {
	Type FrameType

	// Ack / AckECN
	LargestAcknowledged varint.Value
	AckDelay            varint.Value
	FirstAckRange       varint.Value
	Ranges              []AckRange
	ECT0, ECT1, ECNCE   varint.Value

	// MaxData
	MaximumData varint.Value

	// ConnectionClose
	ErrorCode   varint.Value
	FrameTypeRef varint.Value // only meaningful for FrameTypeConnectionClose
	Reason      []byte
}

// EncodeFrames appends the wire encoding of frames to dst.
func EncodeFrames(dst []byte, frames []Frame) ([]byte, error) {
	var err error
	for _, f := range frames {
		dst = append(dst, byte(f.Type))
		switch f.Type {
		case FrameTypePadding, FrameTypePing:
			// no body
		case FrameTypeAck, FrameTypeAckECN:
			if dst, err = varint.Encode(dst, f.LargestAcknowledged); err != nil {
				return dst, err
			}
			if dst, err = varint.Encode(dst, f.AckDelay); err != nil {
				return dst, err
			}
			if dst, err = varint.Encode(dst, varint.Value(len(f.Ranges))); err != nil {
				return dst, err
			}
			if dst, err = varint.Encode(dst, f.FirstAckRange); err != nil {
				return dst, err
			}
			for _, r := range f.Ranges {
				if dst, err = varint.Encode(dst, r.Gap); err != nil {
					return dst, err
				}
				if dst, err = varint.Encode(dst, r.Length); err != nil {
					return dst, err
				}
			}
			if f.Type == FrameTypeAckECN {
				if dst, err = varint.Encode(dst, f.ECT0); err != nil {
					return dst, err
				}
				if dst, err = varint.Encode(dst, f.ECT1); err != nil {
					return dst, err
				}
				if dst, err = varint.Encode(dst, f.ECNCE); err != nil {
					return dst, err
				}
			}
		case FrameTypeMaxData:
			if dst, err = varint.Encode(dst, f.MaximumData); err != nil {
				return dst, err
			}
		case FrameTypeConnectionClose, FrameTypeConnectionCloseApp:
			if dst, err = varint.Encode(dst, f.ErrorCode); err != nil {
				return dst, err
			}
			if f.Type == FrameTypeConnectionClose {
				if dst, err = varint.Encode(dst, f.FrameTypeRef); err != nil {
					return dst, err
				}
			}
			if dst, err = varint.Encode(dst, varint.Value(len(f.Reason))); err != nil {
				return dst, err
			}
			dst = append(dst, f.Reason...)
		}
	}
	return dst, nil
}

// DecodeFrames parses every frame in buf until it is exhausted.
func DecodeFrames(buf []byte) ([]Frame, error) {
	var frames []Frame
	for len(buf) > 0 {
		ft := FrameType(buf[0])
		buf = buf[1:]
		f := Frame{Type: ft}

		var n int
		var err error
		readVarint := func() (varint.Value, error) {
			v, k, e := varint.Decode(buf)
			if e != nil {
				return 0, e
			}
			n = k
			buf = buf[n:]
			return v, nil
		}

		switch ft {
		case FrameTypePadding, FrameTypePing:
		case FrameTypeAck, FrameTypeAckECN:
			if f.LargestAcknowledged, err = readVarint(); err != nil {
				return nil, err
			}
			if f.AckDelay, err = readVarint(); err != nil {
				return nil, err
			}
			count, err := readVarint()
			if err != nil {
				return nil, err
			}
			if f.FirstAckRange, err = readVarint(); err != nil {
				return nil, err
			}
			for i := varint.Value(0); i < count; i++ {
				var r AckRange
				if r.Gap, err = readVarint(); err != nil {
					return nil, err
				}
				if r.Length, err = readVarint(); err != nil {
					return nil, err
				}
				f.Ranges = append(f.Ranges, r)
			}
			if ft == FrameTypeAckECN {
				if f.ECT0, err = readVarint(); err != nil {
					return nil, err
				}
				if f.ECT1, err = readVarint(); err != nil {
					return nil, err
				}
				if f.ECNCE, err = readVarint(); err != nil {
					return nil, err
				}
			}
		case FrameTypeMaxData:
			if f.MaximumData, err = readVarint(); err != nil {
				return nil, err
			}
		case FrameTypeConnectionClose, FrameTypeConnectionCloseApp:
			if f.ErrorCode, err = readVarint(); err != nil {
				return nil, err
			}
			if ft == FrameTypeConnectionClose {
				if f.FrameTypeRef, err = readVarint(); err != nil {
					return nil, err
				}
			}
			reasonLen, err := readVarint()
			if err != nil {
				return nil, err
			}
			if varint.Value(len(buf)) < reasonLen {
				return nil, ErrShortBuffer
			}
			f.Reason = buf[:reasonLen]
			buf = buf[reasonLen:]
		default:
			return nil, ErrShortBuffer
		}
		frames = append(frames, f)
	}
	return frames, nil
}
