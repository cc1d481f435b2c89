package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHybridSlowStartFirstRoundNoExit(t *testing.T) {
	h := newHybridSlowStart()
	now := time.Now()
	h.onRTTUpdate(100_000, now, now, 50*time.Millisecond)
	assert.Equal(t, float32(maxCongestionWindow), h.threshold)
}

func TestHybridSlowStartExitsOnRTTIncrease(t *testing.T) {
	h := newHybridSlowStart()
	now := time.Now()
	h.onRTTUpdate(100_000, now, now, 50*time.Millisecond)
	for i := 0; i < hystartMinSamples; i++ {
		h.onRTTUpdate(100_000, now, now.Add(time.Second), 50*time.Millisecond+20*time.Millisecond)
	}
	assert.Equal(t, float32(100_000), h.threshold)
}

func TestHybridSlowStartOnCongestionEvent(t *testing.T) {
	h := newHybridSlowStart()
	h.onCongestionEvent(42_000)
	assert.Equal(t, float32(42_000), h.threshold)
}
