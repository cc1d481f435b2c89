package recovery

import "time"

// Granularity absorbs the timer system's round-up.
const Granularity = time.Millisecond

// minPTOPeriod is the floor placed under the PTO period.
const minPTOPeriod = 2 * time.Millisecond

// RTTEstimator maintains the smoothed, variance, min, and latest RTT
// samples and derives the PTO period from them.
type RTTEstimator struct {
	minRTT      time.Duration
	smoothedRTT time.Duration
	rttVar      time.Duration
	latestRTT   time.Duration
	firstSample bool
}

// NewRTTEstimator constructs an estimator with no samples yet.
func NewRTTEstimator() *RTTEstimator {
	return &RTTEstimator{firstSample: true}
}

// MinRTT, SmoothedRTT, RTTVar, LatestRTT report the current estimates.
func (r *RTTEstimator) MinRTT() time.Duration      { return r.minRTT }
func (r *RTTEstimator) SmoothedRTT() time.Duration { return r.smoothedRTT }
func (r *RTTEstimator) RTTVar() time.Duration      { return r.rttVar }
func (r *RTTEstimator) LatestRTT() time.Duration   { return r.latestRTT }

// UpdateRTT folds in one new sample. ackDelay is the peer-reported ack
// delay (already scaled by the peer's ack-delay exponent); pass 0 for
// spaces that don't carry a meaningful ack delay.
func (r *RTTEstimator) UpdateRTT(ackDelay, latestRTT time.Duration, isAckEliciting bool) {
	r.latestRTT = latestRTT

	if r.firstSample {
		r.firstSample = false
		r.minRTT = latestRTT
		r.smoothedRTT = latestRTT
		r.rttVar = latestRTT / 2
		return
	}

	if latestRTT < r.minRTT {
		r.minRTT = latestRTT
	}

	adjusted := latestRTT
	if isAckEliciting && adjusted >= r.minRTT+ackDelay {
		adjusted -= ackDelay
	}

	if adjusted > r.smoothedRTT {
		r.rttVar = (r.rttVar*3 + (adjusted - r.smoothedRTT)) / 4
	} else {
		r.rttVar = (r.rttVar*3 + (r.smoothedRTT - adjusted)) / 4
	}
	r.smoothedRTT = (r.smoothedRTT*7 + adjusted) / 8
}

// PTOPeriod returns smoothed_rtt + max(4*rtt_var, granularity) +
// max_ack_delay, clamped below by 2ms.
func (r *RTTEstimator) PTOPeriod(maxAckDelay time.Duration) time.Duration {
	variance := 4 * r.rttVar
	if variance < Granularity {
		variance = Granularity
	}
	period := r.smoothedRTT + variance + maxAckDelay
	if period < minPTOPeriod {
		period = minPTOPeriod
	}
	return period
}
