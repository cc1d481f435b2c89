// Package pnmap implements the packet-number map: an ordered mapping
// from packet number to per-packet bookkeeping that supports
// strictly-increasing insertion and range removal returning the removed
// entries in key order. Range removal scans every stored record and
// rebuilds the deque, so it costs O(n) in the number of outstanding
// packets, not O(k) in the size of the removed range.
//
// Storage is a gammazero/deque.Deque holding Records in strictly
// increasing packet-number order, since a stream's packet numbers
// within one space are always assigned in increasing order.
package pnmap

import (
	"errors"
	"time"

	"github.com/gammazero/deque"

	"github.com/pion/ion-quic/pkg/segment"
	"github.com/pion/ion-quic/pkg/varint"
)

// ErrNotMonotonic is returned by Insert when the packet number is not
// strictly greater than every previously inserted one.
var ErrNotMonotonic = errors.New("pnmap: packet number is not strictly increasing")

// Record is the bookkeeping kept for one outstanding packet.
type Record struct {
	PacketNumber varint.Value
	WireLen      int
	StreamOffset varint.Value
	PayloadLen   int
	Fin          bool
	ECN          uint8
	TimeSent     time.Time
	// Reliable marks a record whose stream allows retransmission. A lost
	// record with PayloadLen > 0 and Reliable false is unrecoverable.
	Reliable bool

	// SubsumesUpTo is valid only for Recovery-space records: the highest
	// Stream-space packet number this probe subsumes.
	SubsumesUpTo    varint.Value
	HasSubsumesUpTo bool

	// Seg references the arena-owned encoded bytes for retransmission.
	// Pure probes (no retransmission back-reference) leave HasSeg false.
	Seg    segment.Handle
	HasSeg bool
}

// Map is an ordered packet-number -> Record mapping for a single packet
// number space. Not safe for concurrent use.
type Map struct {
	entries deque.Deque[Record]
}

// New constructs an empty Map.
func New() *Map { return &Map{} }

// Len reports the number of outstanding records.
func (m *Map) Len() int { return m.entries.Len() }

// Insert adds r. r.PacketNumber must be strictly greater than every
// previously inserted packet number: packet numbers are monotonically
// increasing within a space.
func (m *Map) Insert(r Record) error {
	if m.entries.Len() > 0 {
		last := m.entries.Back()
		if r.PacketNumber <= last.PacketNumber {
			return ErrNotMonotonic
		}
	}
	m.entries.PushBack(r)
	return nil
}

// At returns the i-th record in ascending packet-number order.
func (m *Map) At(i int) Record { return m.entries.At(i) }

// Max returns the highest inserted-and-still-present packet number.
func (m *Map) Max() (varint.Value, bool) {
	if m.entries.Len() == 0 {
		return 0, false
	}
	return m.entries.Back().PacketNumber, true
}

// BytesInFlight sums WireLen across every outstanding record.
func (m *Map) BytesInFlight() int {
	total := 0
	for i := 0; i < m.entries.Len(); i++ {
		total += m.entries.At(i).WireLen
	}
	return total
}

// RemoveRange deletes every record with PacketNumber in [lo, hi] and
// returns them in ascending key order.
func (m *Map) RemoveRange(lo, hi varint.Value) []Record {
	if m.entries.Len() == 0 || lo > hi {
		return nil
	}
	var removed []Record
	var kept deque.Deque[Record]
	for i := 0; i < m.entries.Len(); i++ {
		r := m.entries.At(i)
		if r.PacketNumber >= lo && r.PacketNumber <= hi {
			removed = append(removed, r)
		} else {
			kept.PushBack(r)
		}
	}
	m.entries = kept
	return removed
}

// RemoveBelowOrEqual deletes every record with PacketNumber <= threshold
// and returns them in ascending key order: the removal that loss
// detection's packet-number threshold rule performs.
func (m *Map) RemoveBelowOrEqual(threshold varint.Value) []Record {
	if m.entries.Len() == 0 {
		return nil
	}
	return m.RemoveRange(0, threshold)
}

// Each calls fn for every record in ascending packet-number order; fn
// returning false stops iteration early.
func (m *Map) Each(fn func(Record) bool) {
	for i := 0; i < m.entries.Len(); i++ {
		if !fn(m.entries.At(i)) {
			return
		}
	}
}
