package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StateReady, m.State())

	assert.True(t, m.OnFirstSend())
	assert.Equal(t, StateSend, m.State())

	assert.True(t, m.OnFinalOffsetSent())
	assert.Equal(t, StateDataSent, m.State())

	assert.True(t, m.OnAllDataAcked())
	assert.Equal(t, StateDataRecvd, m.State())
	assert.True(t, m.Terminal())
}

func TestMachineInvalidTransitionsAreNoOps(t *testing.T) {
	m := NewMachine()
	assert.False(t, m.OnFinalOffsetSent())
	assert.False(t, m.OnAllDataAcked())
	assert.False(t, m.OnResetAcked())
	assert.Equal(t, StateReady, m.State())
}

func TestMachineResetPath(t *testing.T) {
	m := NewMachine()
	require := assert.New(t)
	require.True(m.OnFirstSend())
	require.True(m.OnResetSent())
	require.Equal(StateResetSent, m.State())
	require.False(m.OnFirstSend())
	require.True(m.OnResetAcked())
	require.Equal(StateResetRecvd, m.State())
	require.True(m.Terminal())
}

func TestMachineResetFromReady(t *testing.T) {
	m := NewMachine()
	assert.True(t, m.OnResetSent())
	assert.Equal(t, StateResetSent, m.State())
}
