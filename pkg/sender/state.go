// Package sender implements the per-stream send-side state machine: the
// high-level lifecycle, the central orchestrator that drives packet
// assignment, ACK processing, loss detection, retransmission and
// probing, and the error taxonomy that collapses every failure path
// into one terminal state.
package sender

// StreamState is the high-level lifecycle of a stream's sender.
type StreamState int

const (
	StateReady StreamState = iota
	StateSend
	StateDataSent
	StateDataRecvd
	StateResetSent
	StateResetRecvd
)

func (s StreamState) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateSend:
		return "Send"
	case StateDataSent:
		return "DataSent"
	case StateDataRecvd:
		return "DataRecvd"
	case StateResetSent:
		return "ResetSent"
	case StateResetRecvd:
		return "ResetRecvd"
	default:
		return "Unknown"
	}
}

// Machine tracks a stream's lifecycle and applies the total transition
// functions: every method returns whether it actually transitioned, and
// is a no-op from any state it doesn't apply to.
type Machine struct {
	state StreamState
}

// NewMachine constructs a machine in the Ready state.
func NewMachine() *Machine { return &Machine{state: StateReady} }

// State reports the current state.
func (m *Machine) State() StreamState { return m.state }

// Terminal reports whether the machine has reached a state from which
// no further transition is possible.
func (m *Machine) Terminal() bool {
	return m.state == StateDataRecvd || m.state == StateResetRecvd
}

// OnFirstSend transitions Ready -> Send.
func (m *Machine) OnFirstSend() bool {
	if m.state != StateReady {
		return false
	}
	m.state = StateSend
	return true
}

// OnFinalOffsetSent transitions Send -> DataSent, recording that the
// stream's final offset has been placed on the wire.
func (m *Machine) OnFinalOffsetSent() bool {
	if m.state != StateSend {
		return false
	}
	m.state = StateDataSent
	return true
}

// OnAllDataAcked transitions DataSent -> DataRecvd once every byte up
// to the final offset has been acknowledged.
func (m *Machine) OnAllDataAcked() bool {
	if m.state != StateDataSent {
		return false
	}
	m.state = StateDataRecvd
	return true
}

// OnResetSent transitions any pre-DataRecvd state to ResetSent.
func (m *Machine) OnResetSent() bool {
	switch m.state {
	case StateReady, StateSend, StateDataSent:
		m.state = StateResetSent
		return true
	default:
		return false
	}
}

// OnResetAcked transitions ResetSent -> ResetRecvd.
func (m *Machine) OnResetAcked() bool {
	if m.state != StateResetSent {
		return false
	}
	m.state = StateResetRecvd
	return true
}
