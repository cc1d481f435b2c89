// Package harness wires two in-memory endpoints together for exercising
// pkg/sender end to end, without a real socket or crypto suite: a
// single place that owns both sides' lifecycle and shuttles datagrams
// between them.
package harness

import (
	"errors"
	"time"

	"github.com/pion/ion-quic/pkg/event"
	"github.com/pion/ion-quic/pkg/packet"
	"github.com/pion/ion-quic/pkg/recovery"
	"github.com/pion/ion-quic/pkg/segment"
	"github.com/pion/ion-quic/pkg/sender"
	"github.com/pion/ion-quic/pkg/varint"
)

// ErrNoTagLen is returned when a harness is constructed with a
// non-positive tag length.
var ErrNoTagLen = errors.New("harness: tagLen must be positive")

// nopBinder never perturbs the auth tag; the harness doesn't model real
// AEAD rebinding, only the offset-rewrite bookkeeping around it.
type nopBinder struct{}

func (nopBinder) RetransmissionTag(oldPN, newPN varint.Value, tag []byte) []byte {
	return tag
}

// nopSealer produces an all-zero tag of the configured length for the
// probe packets Core synthesizes itself.
type nopSealer struct{ tagLen int }

func (s nopSealer) Seal(header, payload []byte) ([]byte, error) {
	return make([]byte, s.tagLen), nil
}

// nopOpener accepts every control packet; the harness has no keys to
// verify against.
type nopOpener struct{}

func (nopOpener) Verify(header, tag []byte) error { return nil }

// Endpoint is one side of a harness-driven exchange: a sender.Core plus
// the arena and fixed wire parameters it needs to load and drain its
// transmit queue.
type Endpoint struct {
	Core        *sender.Core
	Arena       *segment.Arena
	Cred        packet.Credentials
	WireVersion uint16
	TagLen      int
	Pub         event.ConnectionPublisher

	received []*packet.StreamPacket
}

// NewEndpoint constructs one side of an exchange. cca is the congestion
// controller to drive this side's Core with; callers typically pass a
// fresh *recovery.Cubic per endpoint since congestion state is
// per-sender, not shared.
func NewEndpoint(streamID varint.Value, p sender.Params, cca recovery.Controller, tagLen int, pub event.ConnectionPublisher) (*Endpoint, error) {
	if tagLen <= 0 {
		return nil, ErrNoTagLen
	}
	arena := segment.NewArena()
	return &Endpoint{
		Core:        sender.New(streamID, p, cca, arena),
		Arena:       arena,
		WireVersion: 1,
		TagLen:      tagLen,
		Pub:         pub,
	}, nil
}

// Send loads segs onto the transmit queue and drains it.
func (e *Endpoint) Send(segs []sender.Segment, now time.Time) ([]sender.Outbound, error) {
	if err := e.Core.LoadTransmissionQueue(e.Cred, e.WireVersion, segs, now, e.Pub); err != nil {
		return nil, err
	}
	out := e.Core.TransmitQueueIter()
	e.Core.OnTransmitQueue(len(out))
	return out, nil
}

// Pump drives retransmission and probe emission, draining whatever
// FillTransmitQueue produces.
func (e *Endpoint) Pump(now time.Time) ([]sender.Outbound, error) {
	if err := e.Core.FillTransmitQueue(e.Cred, nopBinder{}, nopSealer{tagLen: e.TagLen}, e.TagLen, e.WireVersion, now, e.Pub); err != nil {
		return nil, err
	}
	out := e.Core.TransmitQueueIter()
	e.Core.OnTransmitQueue(len(out))
	return out, nil
}

// Deliver decodes an inbound datagram. Stream-space and recovery-space
// data packets are recorded (and return a ready-to-send ACK frame for
// the caller to wrap with BuildAck and feed to the peer's Deliver); control-only
// packets are handed straight to the Core.
func (e *Endpoint) Deliver(raw []byte, now time.Time) (*packet.Frame, error) {
	if len(raw) < 1 {
		return nil, packet.ErrShortBuffer
	}
	if isControlOnly(raw[0]) {
		return nil, e.Core.OnControlPacket(nopOpener{}, raw, e.TagLen, now, e.Pub)
	}

	sp, err := packet.DecodeStream(raw, e.TagLen)
	if err != nil {
		return nil, err
	}
	e.received = append(e.received, sp)

	pn := sp.PacketNumber()
	ack := &packet.Frame{Type: packet.FrameTypeAck, LargestAcknowledged: pn, FirstAckRange: 0}
	return ack, nil
}

// Received returns every stream/recovery packet decoded so far, in
// arrival order.
func (e *Endpoint) Received() []*packet.StreamPacket { return e.received }

// BuildAck wraps frame as a control packet addressed back to the peer.
func (e *Endpoint) BuildAck(frame packet.Frame, sealer packet.ControlSealer) ([]byte, error) {
	controlData, err := packet.EncodeFrames(nil, []packet.Frame{frame})
	if err != nil {
		return nil, err
	}
	header := append([]byte(nil), controlData...)
	tag, err := sealer.Seal(header, nil)
	if err != nil {
		return nil, err
	}
	cp := &packet.ControlPacket{
		Credentials: e.Cred,
		WireVersion: e.WireVersion,
		ControlData: controlData,
		AuthTag:     tag,
	}
	return packet.EncodeControl(nil, cp)
}

// isControlOnly distinguishes a control-only datagram from a
// stream/recovery one by its leading tag byte. The harness never builds
// stream packets carrying piggybacked control data, so a tag byte of
// exactly 1 (the has-control-data bit alone, every other bit clear) is
// unambiguous here even though the wire format allows both kinds of
// packet to set that bit.
func isControlOnly(tagByte byte) bool {
	const controlOnlyTag = 1
	return tagByte == controlOnlyTag
}
