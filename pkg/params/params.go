// Package params implements the transport-parameter codec: a sequence
// of (id, length, value) triples exchanged once, as a single encoded
// blob, before either side processes application data.
package params

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/pion/ion-quic/pkg/varint"
)

// ID identifies one transport parameter.
type ID varint.Value

// Recognised parameter ids, assigned in the order connections negotiate them.
const (
	IDMaxIdleTimeout                 ID = 0x01
	IDMaxUDPPayloadSize              ID = 0x03
	IDInitialMaxData                 ID = 0x04
	IDInitialMaxStreamDataBidiLocal  ID = 0x05
	IDInitialMaxStreamDataBidiRemote ID = 0x06
	IDInitialMaxStreamDataUni        ID = 0x07
	IDInitialMaxStreamsBidi          ID = 0x08
	IDInitialMaxStreamsUni           ID = 0x09
	IDAckDelayExponent               ID = 0x0a
	IDMaxAckDelay                    ID = 0x0b
	IDDisableActiveMigration         ID = 0x0c
	IDActiveConnectionIDLimit        ID = 0x0e
	IDInitialSourceConnectionID      ID = 0x0f
	IDOriginalDestinationConnectionID ID = 0x00
	IDRetrySourceConnectionID        ID = 0x10
	IDPreferredAddress               ID = 0x0d
	IDStatelessResetToken            ID = 0x02
)

// serverOnly is the set of ids a client is forbidden to send.
var serverOnly = map[ID]bool{
	IDOriginalDestinationConnectionID: true,
	IDRetrySourceConnectionID:         true,
	IDPreferredAddress:                true,
	IDStatelessResetToken:             true,
}

// Defaults per spec: max_idle_timeout=0 (disabled), ack_delay_exponent=3,
// max_ack_delay=25ms, active_connection_id_limit=2.
const (
	DefaultAckDelayExponent        = 3
	DefaultMaxAckDelay             = 25 * time.Millisecond
	DefaultActiveConnectionIDLimit = 2
)

var (
	// ErrDuplicateID is returned when a parameter id appears more than once.
	ErrDuplicateID = errors.New("params: duplicate transport parameter id")
	// ErrClientSentServerOnly is returned when a client-origin blob
	// contains a server-only parameter.
	ErrClientSentServerOnly = errors.New("params: client sent a server-only transport parameter")
	// ErrInvalidValue is returned when a recognised parameter's value
	// violates its range constraint.
	ErrInvalidValue = errors.New("params: transport parameter value out of range")
	// ErrTruncated is returned when the blob ends mid-triple.
	ErrTruncated = errors.New("params: truncated transport parameter blob")
)

// Set holds the decoded or to-be-encoded transport parameters for one
// side of a connection.
type Set struct {
	MaxIdleTimeout                 time.Duration
	MaxUDPPayloadSize              varint.Value
	InitialMaxData                 varint.Value
	InitialMaxStreamDataBidiLocal  varint.Value
	InitialMaxStreamDataBidiRemote varint.Value
	InitialMaxStreamDataUni        varint.Value
	InitialMaxStreamsBidi          varint.Value
	InitialMaxStreamsUni           varint.Value
	AckDelayExponent               varint.Value
	MaxAckDelay                    time.Duration
	DisableActiveMigration         bool
	ActiveConnectionIDLimit        varint.Value
	InitialSourceConnectionID      []byte
	HasInitialSourceConnectionID   bool

	// Server-only.
	OriginalDestinationConnectionID    []byte
	HasOriginalDestinationConnectionID bool
	RetrySourceConnectionID            []byte
	HasRetrySourceConnectionID         bool
	PreferredAddress                   []byte
	HasPreferredAddress                bool
	StatelessResetToken                []byte
	HasStatelessResetToken              bool

	// Unrecognised ids are preserved verbatim so a re-encode round-trips
	// even across a version this codec doesn't fully understand.
	Unknown map[ID][]byte
}

// Default returns a Set populated with every documented default.
func Default() Set {
	return Set{
		AckDelayExponent:         DefaultAckDelayExponent,
		MaxAckDelay:              DefaultMaxAckDelay,
		ActiveConnectionIDLimit:  DefaultActiveConnectionIDLimit,
	}
}

func putVarint(buf *bytes.Buffer, id ID, v varint.Value) error {
	idBuf, err := varint.Encode(nil, varint.Value(id))
	if err != nil {
		return err
	}
	valBuf, err := varint.Encode(nil, v)
	if err != nil {
		return err
	}
	lenBuf, err := varint.Encode(nil, varint.Value(len(valBuf)))
	if err != nil {
		return err
	}
	buf.Write(idBuf)
	buf.Write(lenBuf)
	buf.Write(valBuf)
	return nil
}

func putBytes(buf *bytes.Buffer, id ID, v []byte) error {
	idBuf, err := varint.Encode(nil, varint.Value(id))
	if err != nil {
		return err
	}
	lenBuf, err := varint.Encode(nil, varint.Value(len(v)))
	if err != nil {
		return err
	}
	buf.Write(idBuf)
	buf.Write(lenBuf)
	buf.Write(v)
	return nil
}

func putFlag(buf *bytes.Buffer, id ID) error {
	idBuf, err := varint.Encode(nil, varint.Value(id))
	if err != nil {
		return err
	}
	lenBuf, err := varint.Encode(nil, 0)
	if err != nil {
		return err
	}
	buf.Write(idBuf)
	buf.Write(lenBuf)
	return nil
}

// Encode serialises s as a sequence of (id, length, value) triples.
// isServer controls whether server-only parameters are emitted.
func Encode(s *Set, isServer bool) ([]byte, error) {
	var buf bytes.Buffer

	if s.MaxIdleTimeout != 0 {
		if err := putVarint(&buf, IDMaxIdleTimeout, varint.Value(s.MaxIdleTimeout.Milliseconds())); err != nil {
			return nil, err
		}
	}
	if s.MaxUDPPayloadSize != 0 {
		if err := putVarint(&buf, IDMaxUDPPayloadSize, s.MaxUDPPayloadSize); err != nil {
			return nil, err
		}
	}
	if err := putVarint(&buf, IDInitialMaxData, s.InitialMaxData); err != nil {
		return nil, err
	}
	if err := putVarint(&buf, IDInitialMaxStreamDataBidiLocal, s.InitialMaxStreamDataBidiLocal); err != nil {
		return nil, err
	}
	if err := putVarint(&buf, IDInitialMaxStreamDataBidiRemote, s.InitialMaxStreamDataBidiRemote); err != nil {
		return nil, err
	}
	if err := putVarint(&buf, IDInitialMaxStreamDataUni, s.InitialMaxStreamDataUni); err != nil {
		return nil, err
	}
	if err := putVarint(&buf, IDInitialMaxStreamsBidi, s.InitialMaxStreamsBidi); err != nil {
		return nil, err
	}
	if err := putVarint(&buf, IDInitialMaxStreamsUni, s.InitialMaxStreamsUni); err != nil {
		return nil, err
	}
	if err := putVarint(&buf, IDAckDelayExponent, s.AckDelayExponent); err != nil {
		return nil, err
	}
	if err := putVarint(&buf, IDMaxAckDelay, varint.Value(s.MaxAckDelay.Milliseconds())); err != nil {
		return nil, err
	}
	if s.DisableActiveMigration {
		if err := putFlag(&buf, IDDisableActiveMigration); err != nil {
			return nil, err
		}
	}
	if err := putVarint(&buf, IDActiveConnectionIDLimit, s.ActiveConnectionIDLimit); err != nil {
		return nil, err
	}
	if s.HasInitialSourceConnectionID {
		if err := putBytes(&buf, IDInitialSourceConnectionID, s.InitialSourceConnectionID); err != nil {
			return nil, err
		}
	}

	if isServer {
		if s.HasOriginalDestinationConnectionID {
			if err := putBytes(&buf, IDOriginalDestinationConnectionID, s.OriginalDestinationConnectionID); err != nil {
				return nil, err
			}
		}
		if s.HasRetrySourceConnectionID {
			if err := putBytes(&buf, IDRetrySourceConnectionID, s.RetrySourceConnectionID); err != nil {
				return nil, err
			}
		}
		if s.HasPreferredAddress {
			if err := putBytes(&buf, IDPreferredAddress, s.PreferredAddress); err != nil {
				return nil, err
			}
		}
		if s.HasStatelessResetToken {
			if err := putBytes(&buf, IDStatelessResetToken, s.StatelessResetToken); err != nil {
				return nil, err
			}
		}
	}

	for id, v := range s.Unknown {
		if err := putBytes(&buf, id, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a transport-parameter blob. fromClient, when true,
// rejects server-only parameters.
func Decode(data []byte, fromClient bool) (Set, error) {
	s := Default()
	seen := make(map[ID]bool)
	off := 0

	for off < len(data) {
		id, n, err := varint.Decode(data[off:])
		if err != nil {
			return Set{}, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		off += n

		length, n, err := varint.Decode(data[off:])
		if err != nil {
			return Set{}, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		off += n

		if off+int(length) > len(data) {
			return Set{}, ErrTruncated
		}
		value := data[off : off+int(length)]
		off += int(length)

		pid := ID(id)
		if seen[pid] {
			return Set{}, ErrDuplicateID
		}
		seen[pid] = true

		if fromClient && serverOnly[pid] {
			return Set{}, ErrClientSentServerOnly
		}

		if err := applyParameter(&s, pid, value); err != nil {
			return Set{}, err
		}
	}

	return s, nil
}

func applyParameter(s *Set, id ID, value []byte) error {
	asVarint := func() (varint.Value, error) {
		v, _, err := varint.Decode(value)
		return v, err
	}

	switch id {
	case IDMaxIdleTimeout:
		v, err := asVarint()
		if err != nil {
			return err
		}
		s.MaxIdleTimeout = time.Duration(v) * time.Millisecond
	case IDMaxUDPPayloadSize:
		v, err := asVarint()
		if err != nil {
			return err
		}
		if v < 1200 || v > 65527 {
			return ErrInvalidValue
		}
		s.MaxUDPPayloadSize = v
	case IDInitialMaxData:
		v, err := asVarint()
		if err != nil {
			return err
		}
		s.InitialMaxData = v
	case IDInitialMaxStreamDataBidiLocal:
		v, err := asVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamDataBidiLocal = v
	case IDInitialMaxStreamDataBidiRemote:
		v, err := asVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamDataBidiRemote = v
	case IDInitialMaxStreamDataUni:
		v, err := asVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamDataUni = v
	case IDInitialMaxStreamsBidi:
		v, err := asVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamsBidi = v
	case IDInitialMaxStreamsUni:
		v, err := asVarint()
		if err != nil {
			return err
		}
		s.InitialMaxStreamsUni = v
	case IDAckDelayExponent:
		v, err := asVarint()
		if err != nil {
			return err
		}
		if v > 20 {
			return ErrInvalidValue
		}
		s.AckDelayExponent = v
	case IDMaxAckDelay:
		v, err := asVarint()
		if err != nil {
			return err
		}
		if v >= 1<<14 {
			return ErrInvalidValue
		}
		s.MaxAckDelay = time.Duration(v) * time.Millisecond
	case IDDisableActiveMigration:
		if len(value) != 0 {
			return ErrInvalidValue
		}
		s.DisableActiveMigration = true
	case IDActiveConnectionIDLimit:
		v, err := asVarint()
		if err != nil {
			return err
		}
		if v < 2 {
			return ErrInvalidValue
		}
		s.ActiveConnectionIDLimit = v
	case IDInitialSourceConnectionID:
		s.InitialSourceConnectionID = append([]byte(nil), value...)
		s.HasInitialSourceConnectionID = true
	case IDOriginalDestinationConnectionID:
		s.OriginalDestinationConnectionID = append([]byte(nil), value...)
		s.HasOriginalDestinationConnectionID = true
	case IDRetrySourceConnectionID:
		s.RetrySourceConnectionID = append([]byte(nil), value...)
		s.HasRetrySourceConnectionID = true
	case IDPreferredAddress:
		s.PreferredAddress = append([]byte(nil), value...)
		s.HasPreferredAddress = true
	case IDStatelessResetToken:
		s.StatelessResetToken = append([]byte(nil), value...)
		s.HasStatelessResetToken = true
	default:
		if s.Unknown == nil {
			s.Unknown = make(map[ID][]byte)
		}
		s.Unknown[id] = append([]byte(nil), value...)
	}
	return nil
}

// AckDelayScale reports the microsecond scale factor an ACK frame's
// raw ack-delay field must be multiplied by: 2^ack_delay_exponent.
func (s *Set) AckDelayScale() time.Duration {
	return time.Duration(1<<s.AckDelayExponent) * time.Microsecond
}
