package recovery

import "time"

// hystart tuning constants (Ha & Rhee, "CUBIC for Fast and Long-Distance
// Networks with Hybrid Slow Start").
const (
	hystartMinRTTThreshold = 4 * time.Millisecond
	hystartMaxRTTThreshold = 16 * time.Millisecond
	hystartMinSamples      = 8
)

// hybridSlowStart tracks per-round minimum RTT samples and exits slow
// start early (setting threshold to the current window) when it detects
// the RTT has started climbing, rather than waiting for a packet loss.
type hybridSlowStart struct {
	threshold    float32 // ssthresh in bytes; maxCongestionWindow until an exit condition fires
	started      bool
	roundEnd     time.Time
	minRTTRound  time.Duration
	sampleCount  int
}

func newHybridSlowStart() *hybridSlowStart {
	return &hybridSlowStart{threshold: float32(maxCongestionWindow)}
}

// onRTTUpdate folds in one new RTT sample. ackedSentTime is the send
// time of the packet this sample came from; lastSentTime is the send
// time of the most recently sent packet, used to detect round
// boundaries the same way the congestion window doubles per RTT.
func (h *hybridSlowStart) onRTTUpdate(congestionWindow float32, ackedSentTime, lastSentTime time.Time, latestRTT time.Duration) {
	if !h.started {
		h.started = true
		h.roundEnd = lastSentTime
		h.minRTTRound = latestRTT
		h.sampleCount = 1
		return
	}

	if latestRTT < h.minRTTRound || h.sampleCount == 0 {
		h.minRTTRound = latestRTT
	}
	h.sampleCount++

	eta := h.minRTTRound / 8
	if eta < hystartMinRTTThreshold {
		eta = hystartMinRTTThreshold
	}
	if eta > hystartMaxRTTThreshold {
		eta = hystartMaxRTTThreshold
	}

	if h.sampleCount >= hystartMinSamples && latestRTT >= h.minRTTRound+eta {
		h.threshold = congestionWindow
	}

	if ackedSentTime.After(h.roundEnd) {
		h.roundEnd = lastSentTime
		h.minRTTRound = 0
		h.sampleCount = 0
	}
}

// onCongestionEvent forces the threshold down to the reduced window so
// a genuine loss always takes priority over the RTT heuristic.
func (h *hybridSlowStart) onCongestionEvent(congestionWindow float32) {
	h.threshold = congestionWindow
}
