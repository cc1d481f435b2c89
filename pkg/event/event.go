// Package event defines the connection-level event feed a sender state
// machine publishes to: one method per event kind, a no-op sink for
// production code that doesn't care, and a channel-backed sink for
// tests to observe transitions without reaching into sender internals.
package event

import (
	"time"

	"github.com/pion/ion-quic/pkg/varint"
)

// PacketSent is published once a stream or recovery packet has been
// handed to the transport.
type PacketSent struct {
	PacketNumber varint.Value
	IsRecovery   bool
	WireLen      int
	TimeSent     time.Time
}

// PacketAcked is published once a packet-number map entry is removed
// because the peer acknowledged it.
type PacketAcked struct {
	PacketNumber varint.Value
	IsRecovery   bool
	WireLen      int
	RTT          time.Duration
}

// PacketLost is published once loss detection declares a packet lost.
type PacketLost struct {
	PacketNumber varint.Value
	IsRecovery   bool
	WireLen      int
}

// SenderErrored is published when the send-state core transitions to
// its terminal error state.
type SenderErrored struct {
	Err error
}

// ControlPacketReceived is published for every inbound control packet,
// before wire parsing and verification.
type ControlPacketReceived struct {
	WireLen int
}

// ControlPacketDecrypted is published once a control packet's AEAD tag
// has been verified and its frames parsed.
type ControlPacketDecrypted struct {
	FrameCount int
}

// MaxDataReceived is published when a peer's MAX_DATA frame raises the
// connection-level send ceiling.
type MaxDataReceived struct {
	MaximumData varint.Value
}

// CloseObserved is published once the sender has observed (sent or
// received) a CONNECTION_CLOSE frame.
type CloseObserved struct {
	ErrorCode varint.Value
	Reason    string
	Remote    bool
}

// PTOArmed is published whenever the probe-timeout timer is (re)armed.
type PTOArmed struct {
	Deadline time.Time
	Backoff  int
}

// PTOBackoffReset is published when acknowledged progress resets the
// PTO timer's exponential backoff to its initial multiplier.
type PTOBackoffReset struct{}

// ConnectionPublisher receives every event kind a sender state machine
// emits. Implementations must not block the caller for long; the
// sender calls these synchronously on its single-threaded hot path.
type ConnectionPublisher interface {
	OnPacketSent(PacketSent)
	OnPacketAcked(PacketAcked)
	OnPacketLost(PacketLost)
	OnSenderErrored(SenderErrored)
	OnControlPacketReceived(ControlPacketReceived)
	OnControlPacketDecrypted(ControlPacketDecrypted)
	OnMaxDataReceived(MaxDataReceived)
	OnCloseObserved(CloseObserved)
	OnPTOArmed(PTOArmed)
	OnPTOBackoffReset(PTOBackoffReset)
}

// NopPublisher discards every event. It is the default publisher for
// callers that don't need observability.
type NopPublisher struct{}

func (NopPublisher) OnPacketSent(PacketSent)                           {}
func (NopPublisher) OnPacketAcked(PacketAcked)                         {}
func (NopPublisher) OnPacketLost(PacketLost)                           {}
func (NopPublisher) OnSenderErrored(SenderErrored)                     {}
func (NopPublisher) OnControlPacketReceived(ControlPacketReceived)     {}
func (NopPublisher) OnControlPacketDecrypted(ControlPacketDecrypted)   {}
func (NopPublisher) OnMaxDataReceived(MaxDataReceived)                 {}
func (NopPublisher) OnCloseObserved(CloseObserved)                     {}
func (NopPublisher) OnPTOArmed(PTOArmed)                               {}
func (NopPublisher) OnPTOBackoffReset(PTOBackoffReset)                 {}

var _ ConnectionPublisher = NopPublisher{}

// Record is one published event, tagged with its kind so a test can
// filter a ChannelPublisher's feed without a type switch per kind.
type Record struct {
	Kind  string
	Value any
}

// ChannelPublisher funnels every event onto a single bounded channel in
// publish order, for tests that want to observe a sender's event feed
// without reaching into its internals. Sends are non-blocking: once the
// channel is full, further events are dropped rather than stalling the
// sender's hot path.
type ChannelPublisher struct {
	Events chan Record
}

// NewChannelPublisher constructs a ChannelPublisher with the given
// channel capacity.
func NewChannelPublisher(capacity int) *ChannelPublisher {
	return &ChannelPublisher{Events: make(chan Record, capacity)}
}

func (c *ChannelPublisher) publish(kind string, v any) {
	select {
	case c.Events <- Record{Kind: kind, Value: v}:
	default:
	}
}

func (c *ChannelPublisher) OnPacketSent(v PacketSent)                         { c.publish("packet_sent", v) }
func (c *ChannelPublisher) OnPacketAcked(v PacketAcked)                       { c.publish("packet_acked", v) }
func (c *ChannelPublisher) OnPacketLost(v PacketLost)                         { c.publish("packet_lost", v) }
func (c *ChannelPublisher) OnSenderErrored(v SenderErrored)                   { c.publish("sender_errored", v) }
func (c *ChannelPublisher) OnControlPacketReceived(v ControlPacketReceived)   { c.publish("control_packet_received", v) }
func (c *ChannelPublisher) OnControlPacketDecrypted(v ControlPacketDecrypted) { c.publish("control_packet_decrypted", v) }
func (c *ChannelPublisher) OnMaxDataReceived(v MaxDataReceived)               { c.publish("max_data_received", v) }
func (c *ChannelPublisher) OnCloseObserved(v CloseObserved)                   { c.publish("close_observed", v) }
func (c *ChannelPublisher) OnPTOArmed(v PTOArmed)                             { c.publish("pto_armed", v) }
func (c *ChannelPublisher) OnPTOBackoffReset(v PTOBackoffReset)               { c.publish("pto_backoff_reset", v) }

var _ ConnectionPublisher = (*ChannelPublisher)(nil)
