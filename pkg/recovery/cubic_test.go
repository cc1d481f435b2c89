package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testMTU = 1200

func TestCubicInitialWindow(t *testing.T) {
	assert.Equal(t, 1200*10, initialWindow(1200))
	assert.Equal(t, 14720, initialWindow(2000))
	assert.Equal(t, 8000*2, initialWindow(8000))
}

func TestCubicMinimumWindow(t *testing.T) {
	curve := newCubicCurve(testMTU)
	assert.InDelta(t, 2*testMTU, curve.minimumWindow(), 0.001)
}

func TestCubicWCubic(t *testing.T) {
	curve := newCubicCurve(testMTU)
	curve.multiplicativeDecrease(2_764_800.0)

	assert.InDelta(t, curve.wMax*cubicBeta, curve.wCubic(0), 0.001)
	assert.Equal(t, 12*time.Second, curve.k)
	assert.InDelta(t, 2314.8, curve.wCubic(15*time.Second), 0.001)
	assert.InDelta(t, 2300.8, curve.wCubic(10*time.Second), 0.001)
}

func TestCubicWEst(t *testing.T) {
	curve := newCubicCurve(testMTU)
	curve.wMax = 100.0
	got := curve.wEst(6*time.Second, 300*time.Millisecond)
	assert.InDelta(t, 80.5882, got, 0.001)
}

func TestCubicMultiplicativeDecreaseFastConvergence(t *testing.T) {
	curve := newCubicCurve(testMTU)
	curve.wMax = 10000.0 / testMTU

	got := curve.multiplicativeDecrease(100_000.0)
	assert.Equal(t, 100_000.0*cubicBeta, got)
	assert.InDelta(t, curve.wMax, curve.wLastMax, 0.001)

	got = curve.multiplicativeDecrease(80_000.0)
	assert.Equal(t, 80_000.0*cubicBeta, got)
	assert.InDelta(t, 80_000.0/testMTU, curve.wLastMax, 0.001)
	assert.InDelta(t, 80_000.0*0.85/testMTU, curve.wMax, 0.001)
}

func TestCubicIsCongestionLimited(t *testing.T) {
	c := NewCubic(1000)
	c.congestionWindow = 1000.0
	c.bytesInFlight = 100
	assert.True(t, c.IsCongestionLimited())

	c.congestionWindow = 1100.0
	assert.False(t, c.IsCongestionLimited())

	c.bytesInFlight = 2000
	assert.True(t, c.IsCongestionLimited())
}

func TestCubicUnderUtilized(t *testing.T) {
	c := NewCubic(1200)
	c.congestionWindow = 12000.0

	c.bytesInFlight = 5999
	c.state = stateSlowStart
	assert.True(t, c.isUnderUtilized())

	c.bytesInFlight = 6000
	assert.False(t, c.isUnderUtilized())

	c.state = stateCongestionAvoidance
	assert.True(t, c.isUnderUtilized())

	c.bytesInFlight = 8399
	assert.True(t, c.isUnderUtilized())
	c.bytesInFlight = 8400
	assert.False(t, c.isUnderUtilized())
}

func TestCubicOnPacketsLostEntersRecovery(t *testing.T) {
	c := NewCubic(1000)
	now := time.Now()
	c.congestionWindow = 100_000.0
	c.bytesInFlight = 100_000
	c.state = stateSlowStart

	c.OnPacketsLost(100, false, now.Add(10*time.Second))

	assert.Equal(t, 100_000-100, c.bytesInFlight)
	assert.Equal(t, stateRecovery, c.state)
	assert.True(t, c.RequiresFastRetransmission())
	assert.InDelta(t, 100_000.0*cubicBeta, c.congestionWindow, 0.001)
}

func TestCubicPersistentCongestionResetsToMinimum(t *testing.T) {
	c := NewCubic(1000)
	c.congestionWindow = 10000.0
	c.bytesInFlight = 1000
	c.state = stateRecovery

	c.OnPacketsLost(100, true, time.Now())

	assert.Equal(t, stateSlowStart, c.state)
	assert.InDelta(t, c.curve.minimumWindow(), c.congestionWindow, 0.001)
}

func TestCubicOnPacketSentFastRetransmission(t *testing.T) {
	c := NewCubic(1000)
	now := time.Now()
	c.congestionWindow = 100_000.0
	c.bytesInFlight = 99900
	c.state = stateRecovery
	c.fastRetransmit = fastRetransmitRequired
	c.recoveryStart = now

	c.OnPacketSent(now.Add(10*time.Second), 100)

	assert.Equal(t, fastRetransmitIdle, c.fastRetransmit)
}

func TestCubicOnMTUUpdateDecrease(t *testing.T) {
	c := NewCubic(10000)
	c.OnMTUUpdate(5000)
	assert.Equal(t, 5000, c.maxDatagramSize)
	assert.InDelta(t, float64(initialWindow(5000)), c.congestionWindow, 0.001)
}

func TestCubicOnMTUUpdateIncrease(t *testing.T) {
	c := NewCubic(5000)
	c.congestionWindow = 100_000.0
	c.OnMTUUpdate(10000)
	assert.Equal(t, 10000, c.maxDatagramSize)
	assert.InDelta(t, 200_000.0, c.congestionWindow, 0.001)
}

func TestCubicOnPacketDiscarded(t *testing.T) {
	c := NewCubic(5000)
	c.bytesInFlight = 10000
	c.OnPacketDiscarded(1000)
	assert.Equal(t, 9000, c.bytesInFlight)

	c.state = stateRecovery
	c.fastRetransmit = fastRetransmitRequired
	c.OnPacketDiscarded(1000)
	assert.Equal(t, fastRetransmitIdle, c.fastRetransmit)
}

func TestCubicOnPacketAckLimited(t *testing.T) {
	c := NewCubic(5000)
	now := time.Now()
	c.congestionWindow = 100_000.0
	c.bytesInFlight = 10000
	c.underUtilized = true
	c.state = stateSlowStart
	rtt := NewRTTEstimator()

	c.OnPacketAck(now, 1, rtt, now)
	assert.InDelta(t, 100_000.0, c.congestionWindow, 0.001)
}

func TestCubicSlowStartGrowsExponentially(t *testing.T) {
	c := NewCubic(1000)
	now := time.Now()
	c.underUtilized = false
	c.congestionWindow = 10000.0
	c.bytesInFlight = 10000
	c.state = stateSlowStart
	c.slowStart.threshold = 1_000_000

	rtt := NewRTTEstimator()
	c.OnPacketAck(now, 1000, rtt, now)

	assert.InDelta(t, 11000.0, c.congestionWindow, 0.001)
	assert.Equal(t, stateSlowStart, c.state)
}
