package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/ion-quic/pkg/varint"
)

type fakeBinder struct{}

func (fakeBinder) RetransmissionTag(oldPN, newPN varint.Value, tag []byte) []byte {
	out := append([]byte(nil), tag...)
	for i := range out {
		out[i] ^= byte(oldPN) ^ byte(newPN) ^ byte(i)
	}
	return out
}

func sampleStreamPacket() *StreamPacket {
	return &StreamPacket{
		Credentials:                Credentials{ID: [16]byte{1, 2, 3}, Epoch: 7},
		WireVersion:                1,
		StreamID:                   42,
		OriginalPacketNumber:       5,
		NextExpectedControlPacket:  1,
		StreamOffset:               1000,
		Payload:                    []byte("hello world"),
		AuthTag:                    make([]byte, 16),
		Reliable:                   true,
	}
}

func TestStreamPacketRoundTrip(t *testing.T) {
	p := sampleStreamPacket()
	p.HasFinalOffset = true
	p.FinalOffset = 2000

	buf, err := EncodeStream(nil, p)
	require.NoError(t, err)

	got, err := DecodeStream(buf, 16)
	require.NoError(t, err)
	assert.Equal(t, p.StreamID, got.StreamID)
	assert.Equal(t, p.OriginalPacketNumber, got.OriginalPacketNumber)
	assert.Equal(t, p.StreamOffset, got.StreamOffset)
	assert.True(t, got.HasFinalOffset)
	assert.Equal(t, p.FinalOffset, got.FinalOffset)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestRewriteRetransmissionIdempotent(t *testing.T) {
	p := sampleStreamPacket()
	buf1, err := EncodeStream(nil, p)
	require.NoError(t, err)
	buf2 := append([]byte(nil), buf1...)

	b := fakeBinder{}
	require.NoError(t, RewriteRetransmission(buf1, 16, b, 10, true))
	require.NoError(t, RewriteRetransmission(buf2, 16, b, 10, true))
	require.NoError(t, RewriteRetransmission(buf2, 16, b, 10, true))

	assert.Equal(t, buf1, buf2)

	got, err := DecodeStream(buf1, 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), got.RetransmissionPacketNumberOffset)
	assert.False(t, got.IsRecovery)
}

func TestRewriteRetransmissionTwiceToSameTarget(t *testing.T) {
	p := sampleStreamPacket()
	p.IsRecovery = true
	buf, err := EncodeStream(nil, p)
	require.NoError(t, err)

	b := fakeBinder{}
	require.NoError(t, RewriteRetransmission(buf, 16, b, 3, true))
	snapshot := append([]byte(nil), buf...)
	require.NoError(t, RewriteRetransmission(buf, 16, b, 3, true))
	assert.Equal(t, snapshot, buf)
}

func TestRewriteUnreliableFails(t *testing.T) {
	p := sampleStreamPacket()
	buf, err := EncodeStream(nil, p)
	require.NoError(t, err)

	err = RewriteRetransmission(buf, 16, fakeBinder{}, 1, false)
	assert.ErrorIs(t, err, ErrUnreliableRetransmit)
}

func TestControlPacketRoundTrip(t *testing.T) {
	frames := []Frame{
		{Type: FrameTypePing},
		{
			Type:                FrameTypeAck,
			LargestAcknowledged: 10,
			AckDelay:            5,
			FirstAckRange:       2,
			Ranges:              []AckRange{{Gap: 1, Length: 3}},
		},
		{Type: FrameTypeMaxData, MaximumData: 4000},
	}
	data, err := EncodeFrames(nil, frames)
	require.NoError(t, err)

	cp := &ControlPacket{
		Credentials:               Credentials{Epoch: 1},
		WireVersion:               1,
		NextExpectedControlPacket: 9,
		ControlData:               data,
		AuthTag:                   make([]byte, 16),
	}
	buf, err := EncodeControl(nil, cp)
	require.NoError(t, err)

	got, err := DecodeControl(buf, 16)
	require.NoError(t, err)
	assert.Equal(t, varint.Value(9), got.NextExpectedControlPacket)

	decodedFrames, err := DecodeFrames(got.ControlData)
	require.NoError(t, err)
	require.Len(t, decodedFrames, 3)
	assert.Equal(t, FrameTypeAck, decodedFrames[1].Type)
	assert.Equal(t, varint.Value(10), decodedFrames[1].LargestAcknowledged)
	assert.Equal(t, varint.Value(4000), decodedFrames[2].MaximumData)
}
