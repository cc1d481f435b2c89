package sender

import (
	"time"

	"github.com/pion/ion-quic/internal/logging"
	"github.com/pion/ion-quic/pkg/event"
	"github.com/pion/ion-quic/pkg/packet"
	"github.com/pion/ion-quic/pkg/pnmap"
	"github.com/pion/ion-quic/pkg/rangeset"
	"github.com/pion/ion-quic/pkg/recovery"
	"github.com/pion/ion-quic/pkg/segment"
	"github.com/pion/ion-quic/pkg/varint"
)

// packetNumberThreshold is the packet-number-space loss-detection
// threshold: any unacked packet numbered at least packetNumberThreshold-1
// below the largest acked number in its space is declared lost.
const packetNumberThreshold = 3

// Params configures a new Core.
type Params struct {
	MaxDatagramSize  int
	RemoteMaxData    varint.Value
	LocalSendMaxData varint.Value
	MaxIdleTimeout   time.Duration
	MaxAckDelay      time.Duration
}

// Segment is one already-encrypted application segment awaiting a
// packet number. The payload and its auth tag arrive sealed from the
// caller, since only the application holds the payload AEAD key; the
// core never seals stream payload itself.
type Segment struct {
	StreamOffset      varint.Value
	Payload           []byte
	AuthTag           []byte
	ApplicationHeader []byte
	Fin               bool
	Reliable          bool
}

// Outbound is one encoded datagram ready for the I/O layer.
type Outbound struct {
	ECN   uint8
	Bytes []byte
}

// ApplicationSealer seals the minimal probe packets the core
// synthesises itself. Every other stream payload arrives pre-sealed
// via Segment, so this is only ever invoked for empty probe bodies.
type ApplicationSealer interface {
	Seal(header, payload []byte) (tag []byte, err error)
}

// Core is the send-side stream state machine's central orchestrator:
// it attaches packet numbers, records sent packets, applies ACKs,
// detects loss, drives retransmission and probing, and arms the PTO
// and idle timers. It is not safe for concurrent use without external
// synchronization; callers serialize access to a single stream's Core
// the same way the rest of this module's single-threaded types do.
type Core struct {
	streamID varint.Value
	machine  *Machine

	maxDatagramSize  int
	remoteMaxData    varint.Value
	localSendMaxData varint.Value
	maxIdleTimeout   time.Duration
	maxAckDelay      time.Duration

	streamPackets   *pnmap.Map
	recoveryPackets *pnmap.Map
	// nextPN is shared by both spaces rather than kept as two
	// independent counters: applyAckRange applies every decoded ACK
	// range to both streamPackets and recoveryPackets (since the wire
	// ACK frame carries no space discriminator), which is only safe if
	// a packet number can never be reused across spaces. Drawing both
	// spaces from one monotonic counter guarantees that unconditionally.
	nextPN varint.Value

	maxAckedStream      varint.Value
	hasMaxAckedStream   bool
	maxAckedRecovery    varint.Value
	hasMaxAckedRecovery bool

	unacked        *rangeset.Set[varint.Value]
	maxSentOffset  varint.Value
	finalOffset    varint.Value
	hasFinalOffset bool

	cca   recovery.Controller
	rtt   *recovery.RTTEstimator
	pto   *recovery.Timer
	pacer *recovery.Pacer

	idleDeadline    time.Time
	hasIdleDeadline bool

	retransmissions retransmissionQueue
	forceTransmit   bool

	arena *segment.Arena

	nextExpectedControlPacket varint.Value

	transmit []Outbound

	err *Error
}

// New constructs a Core for one stream in the Ready state.
func New(streamID varint.Value, p Params, cca recovery.Controller, arena *segment.Arena) *Core {
	maxAckDelay := p.MaxAckDelay
	if maxAckDelay == 0 {
		maxAckDelay = 25 * time.Millisecond
	}
	return &Core{
		streamID:         streamID,
		machine:          NewMachine(),
		maxDatagramSize:  p.MaxDatagramSize,
		remoteMaxData:    p.RemoteMaxData,
		localSendMaxData: p.LocalSendMaxData,
		maxIdleTimeout:   p.MaxIdleTimeout,
		maxAckDelay:      maxAckDelay,
		streamPackets:    pnmap.New(),
		recoveryPackets:  pnmap.New(),
		unacked:          rangeset.New[varint.Value](0, varint.Max),
		cca:              cca,
		rtt:              recovery.NewRTTEstimator(),
		pto:              recovery.NewTimer(),
		pacer:            recovery.NewPacer(p.MaxDatagramSize),
		arena:            arena,
	}
}

// State reports the stream's current lifecycle state.
func (c *Core) State() StreamState { return c.machine.State() }

// Err reports the sticky terminal error, or nil if none has occurred.
func (c *Core) Err() *Error { return c.err }

// InitClient force-arms the PTO so the first packet goes out without
// waiting on the application: a client always owes the first flight.
func (c *Core) InitClient(now time.Time) {
	c.refreshIdleTimer(now)
	c.pto.Arm(now, c.rtt.PTOPeriod(c.maxAckDelay))
}

// InitServer arms only the idle timer: a server has nothing to probe
// for until the client's first flight arrives.
func (c *Core) InitServer(now time.Time) {
	c.refreshIdleTimer(now)
}

// FlowOffset returns the highest stream offset currently sendable
// under both the congestion window and the two flow-control ceilings.
// The congestion-window contribution is suppressed while a
// retransmission is pending, so the sender drains outstanding loss
// before admitting new data.
func (c *Core) FlowOffset() varint.Value {
	limit := c.localSendMaxData
	if c.remoteMaxData < limit {
		limit = c.remoteMaxData
	}

	if c.retransmissions.Len() == 0 {
		bytesInFlight := c.streamPackets.BytesInFlight() + c.recoveryPackets.BytesInFlight()
		cwnd := c.cca.CongestionWindow()
		var extra varint.Value
		if cwnd > bytesInFlight {
			extra = varint.Value(cwnd - bytesInFlight)
		}
		ccaLimit := c.maxSentOffset + extra
		if ccaLimit < limit {
			limit = ccaLimit
		}
	} else if c.maxSentOffset < limit {
		limit = c.maxSentOffset
	}
	return limit
}

// SendQuantumPackets reports how many max-datagram-size packets the
// pacer's current send quantum admits, clamped to 255.
func (c *Core) SendQuantumPackets() uint8 {
	if c.maxDatagramSize <= 0 {
		return 0
	}
	n := (c.pacer.SendQuantum() + c.maxDatagramSize - 1) / c.maxDatagramSize
	if n > 255 {
		n = 255
	}
	if n < 0 {
		n = 0
	}
	return uint8(n)
}

// Timers reports the currently armed deadlines, for composition with
// an external timer wheel.
func (c *Core) Timers() []time.Time {
	var deadlines []time.Time
	if c.pto.State() == recovery.TimerArmed {
		deadlines = append(deadlines, c.pto.Deadline())
	}
	if c.hasIdleDeadline {
		deadlines = append(deadlines, c.idleDeadline)
	}
	return deadlines
}

// TransmitQueueIter returns the datagrams currently queued for the I/O
// layer, in send order.
func (c *Core) TransmitQueueIter() []Outbound { return c.transmit }

// OnTransmitQueue acknowledges that the I/O layer accepted the first
// count queued datagrams, dropping them from the queue. The
// arena-owned segments backing them remain owned by the
// packet-number map or retransmission heap until acked, independent
// of I/O acceptance.
func (c *Core) OnTransmitQueue(count int) {
	if count >= len(c.transmit) {
		c.transmit = c.transmit[:0]
		return
	}
	c.transmit = append(c.transmit[:0], c.transmit[count:]...)
}

// OnError enters the terminal error state idempotently.
func (c *Core) OnError(kind ErrorKind, source ErrorSource, err error, now time.Time, pub event.ConnectionPublisher) {
	c.enterError(kind, source, err, now, pub)
}

// LoadTransmissionQueue assigns each segment a Stream-space packet
// number, records it in the packet-number map, encodes it, and
// enqueues the encoded datagram. Segments are consumed in the order
// given; callers are expected to have already clamped the batch to
// FlowOffset.
func (c *Core) LoadTransmissionQueue(cred packet.Credentials, wireVersion uint16, segs []Segment, now time.Time, pub event.ConnectionPublisher) error {
	if c.err != nil {
		return c.err
	}

	for _, seg := range segs {
		c.machine.OnFirstSend()

		pn, err := c.nextPacketNumber(packet.SpaceStream)
		if err != nil {
			c.enterError(ErrorKindPacketNumberExhaustion, SourceLocal, err, now, pub)
			return c.err
		}

		end := seg.StreamOffset + varint.Value(len(seg.Payload))
		sp := &packet.StreamPacket{
			Credentials:               cred,
			WireVersion:               wireVersion,
			StreamID:                  c.streamID,
			OriginalPacketNumber:      pn,
			NextExpectedControlPacket: c.nextExpectedControlPacket,
			StreamOffset:              seg.StreamOffset,
			ApplicationHeader:         seg.ApplicationHeader,
			Payload:                   seg.Payload,
			AuthTag:                   seg.AuthTag,
			Reliable:                  seg.Reliable,
		}
		if seg.Fin {
			sp.HasFinalOffset = true
			sp.FinalOffset = end
		}

		encoded, err := packet.EncodeStream(nil, sp)
		if err != nil {
			return err
		}
		h := c.arena.Alloc(len(encoded), encoded)

		rec := pnmap.Record{
			PacketNumber: pn,
			WireLen:      len(encoded),
			StreamOffset: seg.StreamOffset,
			PayloadLen:   len(seg.Payload),
			Fin:          seg.Fin,
			TimeSent:     now,
			Reliable:     seg.Reliable,
			Seg:          h,
			HasSeg:       true,
		}
		if err := c.streamPackets.Insert(rec); err != nil {
			return err
		}

		if end > c.maxSentOffset {
			c.maxSentOffset = end
		}
		if seg.Fin {
			c.hasFinalOffset = true
			c.finalOffset = end
			if c.machine.OnFinalOffsetSent() {
				_ = c.unacked.Remove(rangeset.Range[varint.Value]{Start: end, End: varint.Max})
			}
		}

		c.cca.OnPacketSent(now, len(encoded))
		c.transmit = append(c.transmit, Outbound{Bytes: encoded})
		if pub != nil {
			pub.OnPacketSent(event.PacketSent{PacketNumber: pn, WireLen: len(encoded), TimeSent: now})
		}
	}

	c.armPTO(now, pub)
	return nil
}

// FillTransmitQueue drains pending retransmissions (smallest offset
// first) and, once the PTO timer expires, either promotes the oldest
// outstanding packet into a retransmission or emits a minimal probe.
func (c *Core) FillTransmitQueue(cred packet.Credentials, binder packet.HeaderBinder, sealer ApplicationSealer, tagLen int, wireVersion uint16, now time.Time, pub event.ConnectionPublisher) error {
	if c.err == nil {
		fastBypass := c.cca.RequiresFastRetransmission()
		for {
			r, ok := c.retransmissions.Peek()
			if !ok {
				break
			}
			if !fastBypass && c.cca.IsCongestionLimited() {
				break
			}
			c.retransmissions.Pop()
			if err := c.emitRetransmission(r, cred, binder, tagLen, now, pub); err != nil {
				return err
			}
			fastBypass = false
		}

		if c.pto.Poll(now) {
			if err := c.promoteOrProbe(cred, binder, sealer, tagLen, wireVersion, now, pub); err != nil {
				return err
			}
			c.pto.AcknowledgeExpiry()
		}
	}

	if c.forceTransmit {
		if err := c.emitProbe(cred, sealer, tagLen, wireVersion, now, pub); err != nil {
			return err
		}
		c.forceTransmit = false
	}

	return nil
}

func (c *Core) promoteOrProbe(cred packet.Credentials, binder packet.HeaderBinder, sealer ApplicationSealer, tagLen int, wireVersion uint16, now time.Time, pub event.ConnectionPublisher) error {
	if c.streamPackets.Len() > 0 {
		rec := c.streamPackets.At(0)
		c.streamPackets.RemoveRange(rec.PacketNumber, rec.PacketNumber)
		return c.emitRetransmission(c.recordToRetransmission(rec), cred, binder, tagLen, now, pub)
	}
	if c.recoveryPackets.Len() > 0 {
		rec := c.recoveryPackets.At(0)
		if rec.HasSeg {
			c.recoveryPackets.RemoveRange(rec.PacketNumber, rec.PacketNumber)
			return c.emitRetransmission(c.recordToRetransmission(rec), cred, binder, tagLen, now, pub)
		}
	}
	return c.emitProbe(cred, sealer, tagLen, wireVersion, now, pub)
}

func (c *Core) recordToRetransmission(rec pnmap.Record) retransmission {
	return retransmission{
		Seg:          rec.Seg,
		HasSeg:       rec.HasSeg,
		StreamOffset: rec.StreamOffset,
		PayloadLen:   rec.PayloadLen,
		Fin:          rec.Fin,
		Reliable:     rec.Reliable,
		Kind:         TransmissionStream,
	}
}

// emitRetransmission rewrites r's arena-owned bytes in place (per
// packet.RewriteRetransmission: a 4-byte offset mutation plus a tag
// rebind, no payload re-encryption) and re-records it in the recovery
// space under a fresh packet number. Ownership of r.Seg transfers
// directly to the new recoveryPackets record; no new allocation or
// release is needed.
func (c *Core) emitRetransmission(r retransmission, cred packet.Credentials, binder packet.HeaderBinder, tagLen int, now time.Time, pub event.ConnectionPublisher) error {
	if !r.HasSeg {
		return nil
	}
	buf, err := c.arena.Bytes(r.Seg)
	if err != nil {
		return err
	}
	decoded, err := packet.DecodeStream(buf, tagLen)
	if err != nil {
		return err
	}

	newPN, err := c.nextPacketNumber(packet.SpaceRecovery)
	if err != nil {
		c.enterError(ErrorKindPacketNumberExhaustion, SourceLocal, err, now, pub)
		return c.err
	}
	newOffset := uint32(newPN - decoded.OriginalPacketNumber)

	if err := packet.RewriteRetransmission(buf, tagLen, binder, newOffset, r.Reliable); err != nil {
		return err
	}

	rec := pnmap.Record{
		PacketNumber: newPN,
		WireLen:      len(buf),
		StreamOffset: r.StreamOffset,
		PayloadLen:   r.PayloadLen,
		Fin:          r.Fin,
		TimeSent:     now,
		Reliable:     true,
		Seg:          r.Seg,
		HasSeg:       true,
	}
	if err := c.recoveryPackets.Insert(rec); err != nil {
		return err
	}

	out := append([]byte(nil), buf...)
	c.cca.OnPacketSent(now, len(out))
	c.transmit = append(c.transmit, Outbound{Bytes: out})
	if pub != nil {
		pub.OnPacketSent(event.PacketSent{PacketNumber: newPN, IsRecovery: true, WireLen: len(out), TimeSent: now})
	}
	c.armPTO(now, pub)
	return nil
}

func (c *Core) emitProbe(cred packet.Credentials, sealer ApplicationSealer, tagLen int, wireVersion uint16, now time.Time, pub event.ConnectionPublisher) error {
	pn, err := c.nextPacketNumber(packet.SpaceRecovery)
	if err != nil {
		c.enterError(ErrorKindPacketNumberExhaustion, SourceLocal, err, now, pub)
		return c.err
	}

	sp := &packet.StreamPacket{
		Credentials:               cred,
		WireVersion:               wireVersion,
		StreamID:                  c.streamID,
		OriginalPacketNumber:      pn,
		NextExpectedControlPacket: c.nextExpectedControlPacket,
		StreamOffset:              c.maxSentOffset,
		IsRecovery:                true,
		Reliable:                  true,
		AuthTag:                   make([]byte, tagLen),
	}
	if c.machine.State() == StateDataSent && c.hasFinalOffset {
		sp.HasFinalOffset = true
		sp.FinalOffset = c.finalOffset
	}

	header, err := packet.EncodeStream(nil, sp)
	if err != nil {
		return err
	}
	body := header[:len(header)-tagLen]
	tag, err := sealer.Seal(body, nil)
	if err != nil {
		return err
	}
	copy(header[len(header)-tagLen:], tag)

	rec := pnmap.Record{
		PacketNumber: pn,
		WireLen:      len(header),
		StreamOffset: c.maxSentOffset,
		TimeSent:     now,
	}
	if max, ok := c.streamPackets.Max(); ok {
		rec.SubsumesUpTo = max
		rec.HasSubsumesUpTo = true
	}
	if err := c.recoveryPackets.Insert(rec); err != nil {
		return err
	}

	c.cca.OnPacketSent(now, len(header))
	c.transmit = append(c.transmit, Outbound{Bytes: header})
	if pub != nil {
		pub.OnPacketSent(event.PacketSent{PacketNumber: pn, IsRecovery: true, WireLen: len(header), TimeSent: now})
	}
	c.armPTO(now, pub)
	return nil
}

// OnControlPacket processes one inbound control packet: it verifies
// authenticity, decodes its frames, applies ACK/MaxData/
// ConnectionClose/Ping/Padding, updates RTT and congestion state on
// newly-acked data, runs loss detection, and refreshes the idle timer.
func (c *Core) OnControlPacket(opener packet.ControlOpener, raw []byte, tagLen int, now time.Time, pub event.ConnectionPublisher) error {
	if pub != nil {
		pub.OnControlPacketReceived(event.ControlPacketReceived{WireLen: len(raw)})
	}

	cp, err := packet.DecodeControl(raw, tagLen)
	if err != nil {
		return err
	}
	header := raw[:len(raw)-len(cp.AuthTag)]
	if err := opener.Verify(header, cp.AuthTag); err != nil {
		return err
	}

	if c.err != nil {
		return nil
	}

	frames, err := packet.DecodeFrames(cp.ControlData)
	if err != nil {
		c.enterError(ErrorKindFrame, SourceLocal, err, now, pub)
		return c.err
	}
	if pub != nil {
		pub.OnControlPacketDecrypted(event.ControlPacketDecrypted{FrameCount: len(frames)})
	}

	if cp.NextExpectedControlPacket > c.nextExpectedControlPacket {
		c.nextExpectedControlPacket = cp.NextExpectedControlPacket
	}
	c.refreshIdleTimer(now)

	var newlyAcked bool
	var bytesAcked int
	var largestAckedTime time.Time
	var hasLargestAckedTime bool

	for _, f := range frames {
		switch f.Type {
		case packet.FrameTypePadding, packet.FrameTypePing:
		case packet.FrameTypeAck, packet.FrameTypeAckECN:
			for _, rg := range ackRanges(f) {
				acked, bytes, latest, hasLatest := c.applyAckRange(rg, f.LargestAcknowledged, pub)
				if acked {
					newlyAcked = true
				}
				bytesAcked += bytes
				if hasLatest {
					largestAckedTime = latest
					hasLargestAckedTime = true
				}
			}
		case packet.FrameTypeMaxData:
			if f.MaximumData > c.remoteMaxData {
				c.remoteMaxData = f.MaximumData
				if pub != nil {
					pub.OnMaxDataReceived(event.MaxDataReceived{MaximumData: f.MaximumData})
				}
			}
		case packet.FrameTypeConnectionClose, packet.FrameTypeConnectionCloseApp:
			if pub != nil {
				pub.OnCloseObserved(event.CloseObserved{ErrorCode: f.ErrorCode, Reason: string(f.Reason), Remote: true})
			}
			clean := f.ErrorCode == 0 && c.machine.State() == StateDataSent && c.unacked.IsEmpty()
			if clean {
				c.machine.OnAllDataAcked()
				c.forceTransmit = true
			} else {
				c.enterError(ErrorKindApplication, SourceRemote, nil, now, pub)
				c.err.Code = f.ErrorCode
				return c.err
			}
		}
	}

	if newlyAcked && hasLargestAckedTime {
		c.rtt.UpdateRTT(0, now.Sub(largestAckedTime), true)
		c.cca.OnRTTUpdate(largestAckedTime, c.rtt)
		c.cca.OnPacketAck(largestAckedTime, bytesAcked, c.rtt, now)
		c.pacer.OnRateUpdate(c.cca.CongestionWindow(), c.rtt.SmoothedRTT())
		c.pto.ResetBackoff()
		if pub != nil {
			pub.OnPTOBackoffReset(event.PTOBackoffReset{})
		}
		c.detectLosses(now, pub)
	}

	if c.unacked.IsEmpty() {
		c.machine.OnAllDataAcked()
	}

	c.armPTO(now, pub)
	return nil
}

type ackRange struct{ Lo, Hi varint.Value }

func ackRanges(f packet.Frame) []ackRange {
	if f.LargestAcknowledged < f.FirstAckRange {
		return nil
	}
	largest := f.LargestAcknowledged
	smallest := largest - f.FirstAckRange
	ranges := []ackRange{{Lo: smallest, Hi: largest}}
	for _, r := range f.Ranges {
		if smallest < r.Gap+2 {
			break
		}
		largest = smallest - r.Gap - 2
		if largest < r.Length {
			break
		}
		smallest = largest - r.Length
		ranges = append(ranges, ackRange{Lo: smallest, Hi: largest})
	}
	return ranges
}

func (c *Core) applyAckRange(rg ackRange, largestAcknowledged varint.Value, pub event.ConnectionPublisher) (acked bool, bytesAcked int, latestSentTime time.Time, hasLatest bool) {
	process := func(m *pnmap.Map, isRecovery bool, maxAcked *varint.Value, hasMax *bool) {
		for _, rec := range m.RemoveRange(rg.Lo, rg.Hi) {
			acked = true
			bytesAcked += rec.WireLen
			if rec.PayloadLen > 0 {
				_ = c.unacked.Remove(rangeset.Range[varint.Value]{Start: rec.StreamOffset, End: rec.StreamOffset + varint.Value(rec.PayloadLen)})
			}
			if rec.HasSeg {
				c.arena.Release(rec.Seg)
			}
			if rec.PacketNumber == largestAcknowledged {
				latestSentTime = rec.TimeSent
				hasLatest = true
			}
			if !*hasMax || rec.PacketNumber > *maxAcked {
				*maxAcked = rec.PacketNumber
				*hasMax = true
			}
			if rec.HasSubsumesUpTo && (!c.hasMaxAckedStream || rec.SubsumesUpTo+1 > c.maxAckedStream) {
				c.maxAckedStream = rec.SubsumesUpTo + 1
				c.hasMaxAckedStream = true
			}
			if pub != nil {
				pub.OnPacketAcked(event.PacketAcked{PacketNumber: rec.PacketNumber, IsRecovery: isRecovery, WireLen: rec.WireLen})
			}
		}
	}
	process(c.streamPackets, false, &c.maxAckedStream, &c.hasMaxAckedStream)
	process(c.recoveryPackets, true, &c.maxAckedRecovery, &c.hasMaxAckedRecovery)
	return
}

func (c *Core) detectLosses(now time.Time, pub event.ConnectionPublisher) {
	c.detectLossesInSpace(c.streamPackets, false, c.maxAckedStream, c.hasMaxAckedStream, now, pub)
	c.detectLossesInSpace(c.recoveryPackets, true, c.maxAckedRecovery, c.hasMaxAckedRecovery, now, pub)
}

func (c *Core) detectLossesInSpace(m *pnmap.Map, isRecovery bool, maxAcked varint.Value, hasMax bool, now time.Time, pub event.ConnectionPublisher) {
	if !hasMax || maxAcked < packetNumberThreshold-1 {
		return
	}
	threshold := maxAcked - (packetNumberThreshold - 1)
	lost := m.RemoveRange(0, threshold)
	if len(lost) == 0 {
		return
	}

	var lostBytes int
	for _, rec := range lost {
		lostBytes += rec.WireLen
		if pub != nil {
			pub.OnPacketLost(event.PacketLost{PacketNumber: rec.PacketNumber, IsRecovery: isRecovery, WireLen: rec.WireLen})
		}

		if rec.PayloadLen == 0 {
			if rec.HasSubsumesUpTo && (!c.hasMaxAckedStream || rec.SubsumesUpTo+1 > c.maxAckedStream) {
				c.maxAckedStream = rec.SubsumesUpTo + 1
				c.hasMaxAckedStream = true
			}
			continue
		}

		if !rec.Reliable {
			c.enterError(ErrorKindRetransmissionFailure, SourceLocal, ErrRetransmissionFailure, now, pub)
			continue
		}
		if rec.HasSeg {
			c.retransmissions.Push(c.recordToRetransmission(rec))
		}
	}

	c.cca.OnPacketsLost(lostBytes, false, now)
	c.pacer.OnRateUpdate(c.cca.CongestionWindow(), c.rtt.SmoothedRTT())
}

func (c *Core) armPTO(now time.Time, pub event.ConnectionPublisher) {
	inFlight := c.streamPackets.Len() > 0 || c.recoveryPackets.Len() > 0
	awaitingClose := c.machine.State() == StateDataSent || c.machine.State() == StateResetSent
	if !inFlight && !awaitingClose && !c.forceTransmit {
		c.pto.Disarm()
		return
	}
	earliest, ok := c.earliestSent()
	if !ok {
		earliest = now
	}
	c.pto.Arm(earliest, c.rtt.PTOPeriod(c.maxAckDelay))
	if pub != nil {
		pub.OnPTOArmed(event.PTOArmed{Deadline: c.pto.Deadline(), Backoff: 1})
	}
}

func (c *Core) earliestSent() (time.Time, bool) {
	var earliest time.Time
	found := false
	if c.streamPackets.Len() > 0 {
		earliest = c.streamPackets.At(0).TimeSent
		found = true
	}
	if c.recoveryPackets.Len() > 0 {
		t := c.recoveryPackets.At(0).TimeSent
		if !found || t.Before(earliest) {
			earliest = t
			found = true
		}
	}
	return earliest, found
}

func (c *Core) refreshIdleTimer(now time.Time) {
	if c.maxIdleTimeout <= 0 {
		c.hasIdleDeadline = false
		return
	}
	c.idleDeadline = now.Add(c.maxIdleTimeout)
	c.hasIdleDeadline = true
}

// OnTimeUpdate processes timer expirations other than the PTO (which
// FillTransmitQueue polls directly): the idle timer's expiry is
// terminal.
func (c *Core) OnTimeUpdate(now time.Time, pub event.ConnectionPublisher) {
	if c.err != nil {
		return
	}
	if c.hasIdleDeadline && !now.Before(c.idleDeadline) {
		c.enterError(ErrorKindIdleTimeout, SourceLocal, ErrIdleTimeout, now, pub)
	}
}

func (c *Core) enterError(kind ErrorKind, source ErrorSource, err error, now time.Time, pub event.ConnectionPublisher) {
	if c.err != nil {
		return
	}
	c.err = &Error{Kind: kind, Source: source, Err: err}

	for _, h := range c.retransmissions.Clear() {
		c.arena.Release(h)
	}
	c.streamPackets.Each(func(rec pnmap.Record) bool {
		if rec.HasSeg {
			c.arena.Release(rec.Seg)
		}
		return true
	})
	c.streamPackets = pnmap.New()
	c.recoveryPackets.Each(func(rec pnmap.Record) bool {
		if rec.HasSeg {
			c.arena.Release(rec.Seg)
		}
		return true
	})
	c.recoveryPackets = pnmap.New()
	c.unacked.Clear()
	c.pto.Disarm()
	c.hasIdleDeadline = false
	c.forceTransmit = true

	logging.Logger.V(1).Info("sender entered error state", "stream", c.streamID, "kind", kind.String())
	if pub != nil {
		pub.OnSenderErrored(event.SenderErrored{Err: c.err})
	}
}

// nextPacketNumber draws the next packet number for space. space is
// accepted for call-site clarity only: both spaces share one counter
// (see the nextPN field doc), so the value returned is never reused by
// either space regardless of which one asks.
func (c *Core) nextPacketNumber(space packet.Space) (varint.Value, error) {
	_ = space
	if c.nextPN >= varint.Max {
		return 0, ErrPacketNumberExhaustion
	}
	pn := c.nextPN
	c.nextPN++
	return pn, nil
}
