package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/ion-quic/pkg/packet"
	"github.com/pion/ion-quic/pkg/recovery"
	"github.com/pion/ion-quic/pkg/segment"
	"github.com/pion/ion-quic/pkg/varint"
)

type fakeOpener struct{}

func (fakeOpener) Verify(header, tag []byte) error { return nil }

type fakeBinder struct{}

func (fakeBinder) RetransmissionTag(oldPN, newPN varint.Value, tag []byte) []byte { return tag }

type fakeSealer struct{ tagLen int }

func (f fakeSealer) Seal(header, payload []byte) ([]byte, error) {
	return make([]byte, f.tagLen), nil
}

const testTagLen = 16

func newTestCore(t *testing.T, p Params) *Core {
	t.Helper()
	arena := segment.NewArena()
	cca := recovery.NewCubic(p.MaxDatagramSize)
	return New(1, p, cca, arena)
}

func ackFrame(largest, firstRange varint.Value) packet.Frame {
	return packet.Frame{Type: packet.FrameTypeAck, LargestAcknowledged: largest, FirstAckRange: firstRange}
}

func encodeControl(t *testing.T, cred packet.Credentials, wireVersion uint16, frames []packet.Frame) []byte {
	t.Helper()
	controlData, err := packet.EncodeFrames(nil, frames)
	require.NoError(t, err)
	cp := &packet.ControlPacket{
		Credentials:               cred,
		WireVersion:               wireVersion,
		NextExpectedControlPacket: 0,
		ControlData:               controlData,
		AuthTag:                   make([]byte, testTagLen),
	}
	raw, err := packet.EncodeControl(nil, cp)
	require.NoError(t, err)
	return raw
}

// TestHappyPathSinglePacket mirrors the one-packet, FIN-included,
// fully-acked scenario: state reaches DataRecvd and nothing is
// retransmitted.
func TestHappyPathSinglePacket(t *testing.T) {
	p := Params{MaxDatagramSize: 1200, RemoteMaxData: 10000, LocalSendMaxData: 10000, MaxIdleTimeout: 30 * time.Second}
	c := newTestCore(t, p)
	now := time.Unix(0, 0)
	c.InitClient(now)

	cred := packet.Credentials{}
	seg := Segment{StreamOffset: 0, Payload: make([]byte, 500), AuthTag: make([]byte, testTagLen), Fin: true, Reliable: true}
	require.NoError(t, c.LoadTransmissionQueue(cred, 1, []Segment{seg}, now, nil))

	out := c.TransmitQueueIter()
	require.Len(t, out, 1)
	assert.Equal(t, StateDataSent, c.State())

	ackRaw := encodeControl(t, cred, 1, []packet.Frame{ackFrame(0, 0)})
	require.NoError(t, c.OnControlPacket(fakeOpener{}, ackRaw, testTagLen, now.Add(10*time.Millisecond), nil))

	assert.Equal(t, StateDataRecvd, c.State())
	assert.True(t, c.unacked.IsEmpty())
	assert.Equal(t, 0, c.retransmissions.Len())
}

// TestFlowOffsetRespectsPeerMaxData mirrors the peer flow-control
// ceiling scenario: FlowOffset is capped at the peer's advertised
// MAX_DATA until a MAX_DATA frame raises it.
func TestFlowOffsetRespectsPeerMaxData(t *testing.T) {
	p := Params{MaxDatagramSize: 1200, RemoteMaxData: 1500, LocalSendMaxData: 100000, MaxIdleTimeout: 30 * time.Second}
	c := newTestCore(t, p)
	now := time.Unix(0, 0)
	c.InitClient(now)

	assert.EqualValues(t, 1500, c.FlowOffset())

	cred := packet.Credentials{}
	raw := encodeControl(t, cred, 1, []packet.Frame{{Type: packet.FrameTypeMaxData, MaximumData: 4000}})
	require.NoError(t, c.OnControlPacket(fakeOpener{}, raw, testTagLen, now.Add(time.Millisecond), nil))

	assert.EqualValues(t, 4000, c.FlowOffset())
}

// TestPacketNumbersAreAssignedMonotonically checks property 1: within
// a space, assigned packet numbers strictly increase.
func TestPacketNumbersAreAssignedMonotonically(t *testing.T) {
	p := Params{MaxDatagramSize: 1200, RemoteMaxData: 100000, LocalSendMaxData: 100000}
	c := newTestCore(t, p)
	now := time.Unix(0, 0)

	segs := []Segment{
		{StreamOffset: 0, Payload: make([]byte, 1000), AuthTag: make([]byte, testTagLen), Reliable: true},
		{StreamOffset: 1000, Payload: make([]byte, 1000), AuthTag: make([]byte, testTagLen), Reliable: true},
		{StreamOffset: 2000, Payload: make([]byte, 1000), AuthTag: make([]byte, testTagLen), Reliable: true},
	}
	require.NoError(t, c.LoadTransmissionQueue(packet.Credentials{}, 1, segs, now, nil))

	out := c.TransmitQueueIter()
	require.Len(t, out, 3)
	var last varint.Value
	for i, o := range out {
		sp, err := packet.DecodeStream(o.Bytes, testTagLen)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, sp.OriginalPacketNumber, last)
		}
		last = sp.OriginalPacketNumber
	}
}

// TestIdleTimeoutEntersTerminalErrorState mirrors the idle-timeout
// scenario: the timer's expiry is terminal and forces exactly one
// probe out before no further packets are emitted.
func TestIdleTimeoutEntersTerminalErrorState(t *testing.T) {
	p := Params{MaxDatagramSize: 1200, RemoteMaxData: 100000, LocalSendMaxData: 100000, MaxIdleTimeout: 2 * time.Second}
	c := newTestCore(t, p)
	now := time.Unix(0, 0)
	c.InitClient(now)

	seg := Segment{StreamOffset: 0, Payload: make([]byte, 200), AuthTag: make([]byte, testTagLen), Reliable: true}
	require.NoError(t, c.LoadTransmissionQueue(packet.Credentials{}, 1, []Segment{seg}, now, nil))

	later := now.Add(3 * time.Second)
	c.OnTimeUpdate(later, nil)
	require.NotNil(t, c.Err())
	assert.Equal(t, ErrorKindIdleTimeout, c.Err().Kind)

	before := len(c.TransmitQueueIter())
	require.NoError(t, c.FillTransmitQueue(packet.Credentials{}, fakeBinder{}, fakeSealer{tagLen: testTagLen}, testTagLen, 1, later, nil))
	assert.Equal(t, before+1, len(c.TransmitQueueIter()))

	// a second fill emits nothing further: the forced probe fires once.
	require.NoError(t, c.FillTransmitQueue(packet.Credentials{}, fakeBinder{}, fakeSealer{tagLen: testTagLen}, testTagLen, 1, later, nil))
	assert.Equal(t, before+1, len(c.TransmitQueueIter()))
}

// TestLossPushesRetransmission mirrors the loss-plus-retransmit
// scenario: an unacked packet numbered at least packetNumberThreshold-1
// below the largest acked is declared lost and queued for
// retransmission.
func TestLossPushesRetransmission(t *testing.T) {
	p := Params{MaxDatagramSize: 1200, RemoteMaxData: 100000, LocalSendMaxData: 100000, MaxIdleTimeout: 30 * time.Second}
	c := newTestCore(t, p)
	now := time.Unix(0, 0)
	c.InitClient(now)

	segs := []Segment{
		{StreamOffset: 0, Payload: make([]byte, 1000), AuthTag: make([]byte, testTagLen), Reliable: true},
		{StreamOffset: 1000, Payload: make([]byte, 1000), AuthTag: make([]byte, testTagLen), Reliable: true},
		{StreamOffset: 2000, Payload: make([]byte, 1000), AuthTag: make([]byte, testTagLen), Reliable: true},
	}
	require.NoError(t, c.LoadTransmissionQueue(packet.Credentials{}, 1, segs, now, nil))

	// peer acks packets 1 and 2, skipping 0.
	cred := packet.Credentials{}
	raw := encodeControl(t, cred, 1, []packet.Frame{ackFrame(2, 1)})
	require.NoError(t, c.OnControlPacket(fakeOpener{}, raw, testTagLen, now.Add(10*time.Millisecond), nil))

	assert.Equal(t, 1, c.retransmissions.Len())

	before := len(c.TransmitQueueIter())
	require.NoError(t, c.FillTransmitQueue(cred, fakeBinder{}, fakeSealer{tagLen: testTagLen}, testTagLen, 1, now.Add(20*time.Millisecond), nil))
	assert.Equal(t, before+1, len(c.TransmitQueueIter()))
	assert.Equal(t, 0, c.retransmissions.Len())
}

// TestErrorStateIsSetOnce confirms OnError is idempotent: the first
// kind recorded sticks.
func TestErrorStateIsSetOnce(t *testing.T) {
	p := Params{MaxDatagramSize: 1200, RemoteMaxData: 1000, LocalSendMaxData: 1000}
	c := newTestCore(t, p)
	now := time.Unix(0, 0)

	c.OnError(ErrorKindIdleTimeout, SourceLocal, ErrIdleTimeout, now, nil)
	c.OnError(ErrorKindRetransmissionFailure, SourceLocal, ErrRetransmissionFailure, now, nil)

	require.NotNil(t, c.Err())
	assert.Equal(t, ErrorKindIdleTimeout, c.Err().Kind)
}
