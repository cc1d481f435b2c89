package recovery

import (
	"math"
	"time"
)

// maxCongestionWindow is a stand-in for "infinite" ssthresh: no window
// size reachable by this implementation will ever equal or exceed it.
const maxCongestionWindow = 1 << 30

// cubicC and cubicBeta are RFC 8312's recommended constants: C=0.4 for
// the window-growth aggressiveness, beta=0.7 for the multiplicative
// decrease on a congestion event.
const (
	cubicC    = 0.4
	cubicBeta = 0.7
)

// initialWindowLimit bounds the startup window per RFC 9002 §7.2: ten
// datagrams, capped to the larger of 14720 bytes or two datagrams.
const initialWindowLimit = 14720

// ccState is CUBIC's top-level phase (RFC 8312 / RFC 9002 §7.3).
type ccState int

const (
	stateSlowStart ccState = iota
	stateRecovery
	stateCongestionAvoidance
)

// cubicCurve holds the W_cubic(t) bookkeeping: the window size just
// before the last two reductions, and the time-to-reach-Wmax constant
// K, all tracked in units of whole packets (max datagram size) per
// RFC 8312 §4.1.
type cubicCurve struct {
	wMax         float64
	wLastMax     float64
	k            time.Duration
	maxDatagram  int
}

func newCubicCurve(maxDatagramSize int) *cubicCurve {
	return &cubicCurve{maxDatagram: maxDatagramSize}
}

func (c *cubicCurve) reset() {
	c.wMax = 0
	c.wLastMax = 0
	c.k = 0
}

func (c *cubicCurve) bytesToPackets(bytes float64) float64 {
	return bytes / float64(c.maxDatagram)
}

func (c *cubicCurve) packetsToBytes(packets float64) float64 {
	return packets * float64(c.maxDatagram)
}

func (c *cubicCurve) minimumWindow() float64 {
	return 2 * float64(c.maxDatagram)
}

// wCubic is Eq. 1: C*(t-K)^3 + W_max.
func (c *cubicCurve) wCubic(t time.Duration) float64 {
	delta := t.Seconds() - c.k.Seconds()
	return cubicC*delta*delta*delta + c.wMax
}

// wEst is Eq. 4, the TCP-Reno-friendly estimate CUBIC compares against.
func (c *cubicCurve) wEst(t, rtt time.Duration) float64 {
	return c.wMax*cubicBeta + (3*(1-cubicBeta)/(1+cubicBeta))*(t.Seconds()/rtt.Seconds())
}

// multiplicativeDecrease applies RFC 8312 §4.5-4.6 (with fast
// convergence) and returns the new congestion window in bytes.
func (c *cubicCurve) multiplicativeDecrease(cwnd float64) float64 {
	c.wMax = c.bytesToPackets(cwnd)

	if c.wMax < c.wLastMax {
		c.wLastMax = c.wMax
		c.wMax = math.Max(c.wMax*(1+cubicBeta)/2, c.bytesToPackets(c.minimumWindow()))
	} else {
		c.wLastMax = c.wMax
	}

	cwndStart := math.Max(cwnd*cubicBeta, c.minimumWindow())
	c.k = time.Duration(math.Cbrt((c.wMax-c.bytesToPackets(cwndStart))/cubicC) * float64(time.Second))
	return cwndStart
}

func (c *cubicCurve) onSlowStartExit(cwnd float64) {
	c.wMax = c.bytesToPackets(cwnd)
	c.k = 0
}

// fastRetransmitState tracks whether a packet still needs to go out to
// cover the single allowed pre-reduction retransmission (RFC 9002
// §7.3.2).
type fastRetransmitState int

const (
	fastRetransmitIdle fastRetransmitState = iota
	fastRetransmitRequired
)

// Cubic is a Controller implementing RFC 8312 CUBIC with Hybrid Slow
// Start. It folds each RTT sample and ack/loss event into a single
// mutable estimator rather than recomputing the window from scratch
// per packet.
type Cubic struct {
	curve     *cubicCurve
	slowStart *hybridSlowStart

	maxDatagramSize int
	congestionWindow float64
	bytesInFlight    int

	state             ccState
	recoveryStart     time.Time
	fastRetransmit    fastRetransmitState
	avoidanceStart    time.Time

	timeOfLastSent time.Time
	hasLastSent    bool
	underUtilized  bool
}

var _ Controller = (*Cubic)(nil)

// NewCubic constructs a CUBIC controller for the given path MTU.
func NewCubic(maxDatagramSize int) *Cubic {
	c := &Cubic{
		curve:            newCubicCurve(maxDatagramSize),
		slowStart:        newHybridSlowStart(),
		maxDatagramSize:  maxDatagramSize,
		congestionWindow: float64(initialWindow(maxDatagramSize)),
		state:            stateSlowStart,
		underUtilized:    true,
	}
	return c
}

// initialWindow is ten datagrams, capped to the larger of 14720 bytes
// or two datagrams (RFC 9002 §7.2).
func initialWindow(maxDatagramSize int) int {
	ten := 10 * maxDatagramSize
	floor := 2 * maxDatagramSize
	if floor < initialWindowLimit {
		floor = initialWindowLimit
	}
	if ten < floor {
		return ten
	}
	return floor
}

func (c *Cubic) CongestionWindow() int { return int(c.congestionWindow) }

// BytesInFlight reports the sum of sent-but-not-yet-acked-or-lost bytes
// currently charged against the congestion window.
func (c *Cubic) BytesInFlight() int { return c.bytesInFlight }

// SendQuantum reports the largest burst this controller currently
// allows in one go: a quarter of the congestion window, clamped to
// between one and ten max-size datagrams (RFC 9002 §7.7).
func (c *Cubic) SendQuantum() int {
	quantum := c.CongestionWindow() / 4
	if quantum < c.maxDatagramSize {
		quantum = c.maxDatagramSize
	}
	if tenMTU := 10 * c.maxDatagramSize; quantum > tenMTU {
		quantum = tenMTU
	}
	return quantum
}

func (c *Cubic) IsCongestionLimited() bool {
	available := c.CongestionWindow() - c.bytesInFlight
	return available < c.maxDatagramSize
}

func (c *Cubic) RequiresFastRetransmission() bool {
	return c.state == stateRecovery && c.fastRetransmit == fastRetransmitRequired
}

// isUnderUtilized reports whether the window is under-utilised, in
// which case OnPacketAck does not grow it. It is false when congestion
// limited and, in slow start, false once at least half the window is in
// flight; otherwise it is true when more than 3 datagrams of headroom
// remain, per Chromium's kMaxBurstBytes heuristic.
func (c *Cubic) isUnderUtilized() bool {
	const maxBurstMultiplier = 3

	if c.IsCongestionLimited() {
		return false
	}
	if c.state == stateSlowStart && c.bytesInFlight >= c.CongestionWindow()/2 {
		return false
	}
	available := c.CongestionWindow() - c.bytesInFlight
	return available > c.maxDatagramSize*maxBurstMultiplier
}

func (c *Cubic) OnPacketSent(timeSent time.Time, bytesSent int) {
	c.bytesInFlight += bytesSent
	c.underUtilized = c.isUnderUtilized()

	if c.underUtilized && c.state == stateCongestionAvoidance {
		lastSent := timeSent
		if c.hasLastSent {
			lastSent = c.timeOfLastSent
		}
		referenceStart := c.avoidanceStart
		if lastSent.After(referenceStart) {
			referenceStart = lastSent
		}
		c.avoidanceStart = c.avoidanceStart.Add(timeSent.Sub(referenceStart))
	}

	if c.state == stateRecovery && c.fastRetransmit == fastRetransmitRequired {
		c.fastRetransmit = fastRetransmitIdle
	}

	c.timeOfLastSent = timeSent
	c.hasLastSent = true
}

func (c *Cubic) OnRTTUpdate(timeSent time.Time, rtt *RTTEstimator) {
	if !c.hasLastSent {
		return
	}
	c.slowStart.onRTTUpdate(float32(c.congestionWindow), timeSent, c.timeOfLastSent, rtt.LatestRTT())
}

func (c *Cubic) OnPacketAck(largestAckedTimeSent time.Time, sentBytes int, rtt *RTTEstimator, ackReceiveTime time.Time) {
	if sentBytes > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= sentBytes
	}

	if c.underUtilized {
		return
	}

	if c.state == stateRecovery && largestAckedTimeSent.After(c.recoveryStart) {
		c.state = stateCongestionAvoidance
		c.avoidanceStart = ackReceiveTime
	}

	switch c.state {
	case stateSlowStart:
		c.congestionWindow += float64(sentBytes)
		if float32(c.congestionWindow) >= c.slowStart.threshold {
			c.state = stateCongestionAvoidance
			c.avoidanceStart = ackReceiveTime
			c.curve.onSlowStartExit(c.congestionWindow)
		}
	case stateRecovery:
		// window stays fixed during recovery
	case stateCongestionAvoidance:
		t := ackReceiveTime.Sub(c.avoidanceStart)
		c.congestionAvoidance(t, rtt.MinRTT(), sentBytes)
	}
}

// congestionAvoidance implements RFC 8312 §4.2-4.4: grow towards
// W_est(t) in the TCP-friendly region, otherwise towards W_cubic(t+RTT),
// capped at half the newly acked bytes per ACK (mirroring Linux's
// cubic.c bictcp_update).
func (c *Cubic) congestionAvoidance(t, rtt time.Duration, sentBytes int) {
	wCubic := c.curve.wCubic(t)
	wEst := c.curve.wEst(t, rtt)
	maxCwnd := c.congestionWindow + float64(sentBytes)/2

	if wCubic < wEst {
		c.congestionWindow = math.Min(c.curve.packetsToBytes(wEst), maxCwnd)
		return
	}

	target := c.curve.packetsToBytes(c.curve.wCubic(t + rtt))
	if c.congestionWindow >= target {
		return
	}
	rate := (target - c.congestionWindow) / c.congestionWindow
	increment := c.curve.packetsToBytes(rate)
	c.congestionWindow = math.Min(c.congestionWindow+increment, maxCwnd)
}

func (c *Cubic) OnPacketsLost(lostBytes int, persistentCongestion bool, now time.Time) {
	if lostBytes > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= lostBytes
	}
	c.OnCongestionEvent(now)

	if persistentCongestion {
		c.congestionWindow = c.curve.minimumWindow()
		c.state = stateSlowStart
		c.curve.reset()
	}
}

func (c *Cubic) OnCongestionEvent(now time.Time) {
	if c.state == stateRecovery {
		return
	}
	c.recoveryStart = now
	c.fastRetransmit = fastRetransmitRequired
	c.state = stateRecovery
	c.congestionWindow = c.curve.multiplicativeDecrease(c.congestionWindow)
	c.slowStart.onCongestionEvent(float32(c.congestionWindow))
}

func (c *Cubic) OnMTUUpdate(maxDatagramSize int) {
	old := c.maxDatagramSize
	c.maxDatagramSize = maxDatagramSize
	c.curve.maxDatagram = maxDatagramSize

	if maxDatagramSize < old {
		c.congestionWindow = float64(initialWindow(maxDatagramSize))
	} else {
		c.congestionWindow = c.congestionWindow / float64(old) * float64(maxDatagramSize)
	}
}

func (c *Cubic) OnPacketDiscarded(bytesSent int) {
	if bytesSent > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= bytesSent
	}
	if c.state == stateRecovery && c.fastRetransmit == fastRetransmitRequired {
		c.fastRetransmit = fastRetransmitIdle
	}
}
