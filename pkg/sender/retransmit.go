package sender

import (
	"container/heap"

	"github.com/pion/ion-quic/pkg/segment"
	"github.com/pion/ion-quic/pkg/varint"
)

// TransmissionType distinguishes a retransmission carrying real stream
// payload from a promoted or synthesised probe.
type TransmissionType int

const (
	TransmissionStream TransmissionType = iota
	TransmissionProbe
)

// retransmission is one heap element: a segment awaiting a fresh
// recovery-space packet number, ordered by lowest stream offset first
// so the peer is unblocked as early as possible.
type retransmission struct {
	Seg          segment.Handle
	HasSeg       bool
	StreamOffset varint.Value
	PayloadLen   int
	Fin          bool
	Reliable     bool
	Kind         TransmissionType
}

type retransmissionHeap []retransmission

func (h retransmissionHeap) Len() int            { return len(h) }
func (h retransmissionHeap) Less(i, j int) bool  { return h[i].StreamOffset < h[j].StreamOffset }
func (h retransmissionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retransmissionHeap) Push(x interface{}) { *h = append(*h, x.(retransmission)) }
func (h *retransmissionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// retransmissionQueue is a min-heap of pending retransmissions, keyed
// by stream offset so the lowest-offset entry is always popped first.
type retransmissionQueue struct {
	h retransmissionHeap
}

func (q *retransmissionQueue) Len() int { return q.h.Len() }

func (q *retransmissionQueue) Push(r retransmission) {
	heap.Push(&q.h, r)
}

// Pop removes and returns the lowest-offset entry. Ok is false if the
// queue is empty.
func (q *retransmissionQueue) Pop() (retransmission, bool) {
	if q.h.Len() == 0 {
		return retransmission{}, false
	}
	return heap.Pop(&q.h).(retransmission), true
}

// Peek returns the lowest-offset entry without removing it.
func (q *retransmissionQueue) Peek() (retransmission, bool) {
	if q.h.Len() == 0 {
		return retransmission{}, false
	}
	return q.h[0], true
}

// Each iterates every queued entry in no particular order. It is not
// used by the send path; error-state cleanup uses Clear.
func (q *retransmissionQueue) Each(fn func(retransmission)) {
	for _, r := range q.h {
		fn(r)
	}
}

// Clear empties the queue, returning every handle that had one so the
// caller can release them back to the arena.
func (q *retransmissionQueue) Clear() []segment.Handle {
	var handles []segment.Handle
	for _, r := range q.h {
		if r.HasSeg {
			handles = append(handles, r.Seg)
		}
	}
	q.h = nil
	return handles
}
