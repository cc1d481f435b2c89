package recovery

import (
	"time"

	"golang.org/x/time/rate"
)

// pacingGain over-estimates the pacing rate slightly so the sender
// keeps the network pipe full instead of trickling just behind the
// congestion window's actual capacity.
const pacingGain = 1.25

// minPacingRTT floors the RTT used to derive a pacing rate so a
// near-zero smoothed RTT sample (loopback, first packet) doesn't
// produce an unbounded token-bucket fill rate.
const minPacingRTT = time.Millisecond

// Pacer turns a congestion window and RTT estimate into an inter-packet
// send gate: golang.org/x/time/rate's token bucket, refilled at
// congestion_window*pacingGain/rtt bytes/sec and capped at one send
// quantum, so bursts stay bounded to a handful of datagrants per RTT
// instead of draining the whole window at once.
type Pacer struct {
	limiter         *rate.Limiter
	maxDatagramSize int
	quantum         int
}

// NewPacer constructs a pacer with its bucket sized for one send
// quantum (10 datagrams, the same default QUIC implementations use for
// the initial burst allowance) and no rate limit until the first
// OnRateUpdate call.
func NewPacer(maxDatagramSize int) *Pacer {
	quantum := 10 * maxDatagramSize
	return &Pacer{
		limiter:         rate.NewLimiter(rate.Inf, quantum),
		maxDatagramSize: maxDatagramSize,
		quantum:         quantum,
	}
}

// OnRateUpdate recomputes the token-bucket fill rate from the
// congestion controller's current window and the RTT estimator's
// smoothed RTT.
func (p *Pacer) OnRateUpdate(congestionWindow int, smoothedRTT time.Duration) {
	if smoothedRTT < minPacingRTT {
		smoothedRTT = minPacingRTT
	}
	bytesPerSecond := float64(congestionWindow) * pacingGain / smoothedRTT.Seconds()
	p.limiter.SetLimit(rate.Limit(bytesPerSecond))

	quantum := congestionWindow / 4
	if quantum < p.maxDatagramSize {
		quantum = p.maxDatagramSize
	}
	if tenMTU := 10 * p.maxDatagramSize; quantum > tenMTU {
		quantum = tenMTU
	}
	p.quantum = quantum
	p.limiter.SetBurst(quantum)
}

// SendQuantum reports the largest burst the pacer currently allows in
// one scheduling pass.
func (p *Pacer) SendQuantum() int { return p.quantum }

// CanSend reports whether bytes may be sent at now without exceeding
// the paced rate, consuming the tokens if so.
func (p *Pacer) CanSend(now time.Time, bytes int) bool {
	return p.limiter.AllowN(now, bytes)
}

// NextSendTime reports when bytes would next be permitted, for arming
// a pacing timer without actually consuming tokens.
func (p *Pacer) NextSendTime(now time.Time, bytes int) time.Time {
	reservation := p.limiter.ReserveN(now, bytes)
	defer reservation.Cancel()
	if !reservation.OK() {
		return now
	}
	return now.Add(reservation.DelayFrom(now))
}
