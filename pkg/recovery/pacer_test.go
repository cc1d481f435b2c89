package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerInitialBurstUnrestricted(t *testing.T) {
	p := NewPacer(1200)
	now := time.Now()
	assert.True(t, p.CanSend(now, 12000))
}

func TestPacerLimitsAfterRateUpdate(t *testing.T) {
	p := NewPacer(1200)
	now := time.Now()
	p.OnRateUpdate(12000, 100*time.Millisecond)

	assert.True(t, p.CanSend(now, p.SendQuantum()))
	assert.False(t, p.CanSend(now, p.SendQuantum()))
}

func TestPacerRefillsOverTime(t *testing.T) {
	p := NewPacer(1200)
	now := time.Now()
	p.OnRateUpdate(12000, 100*time.Millisecond)

	p.CanSend(now, p.SendQuantum())
	later := now.Add(time.Second)
	assert.True(t, p.CanSend(later, 1200))
}

func TestPacerQuantumBounded(t *testing.T) {
	p := NewPacer(1200)
	p.OnRateUpdate(1_000_000, 50*time.Millisecond)
	assert.LessOrEqual(t, p.SendQuantum(), 10*1200)

	p.OnRateUpdate(100, 50*time.Millisecond)
	assert.GreaterOrEqual(t, p.SendQuantum(), 1200)
}

func TestPacerNextSendTime(t *testing.T) {
	p := NewPacer(1200)
	now := time.Now()
	p.OnRateUpdate(1200, 100*time.Millisecond)
	p.CanSend(now, p.SendQuantum())

	next := p.NextSendTime(now, 1200)
	assert.True(t, !next.Before(now))
}
