// Package historian owns the ring log: an append-only, lock-free,
// single-producer/multi-consumer buffer of Frames sized for 60s of
// retention at target cadence, plus deterministic replay over a window.
package historian

import (
	"sync/atomic"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
)

// RingLog is a fixed-capacity circular buffer keyed by gsid. The write
// cursor is a single atomic counter; readers compare a slot's stored
// gsid against the gsid they expected to detect an overwrite rather than
// taking any lock.
type RingLog struct {
	slots       []atomic.Pointer[domain.Frame]
	writeCursor atomic.Uint64
}

// NewRingLog builds a ring log with room for capacity frames.
func NewRingLog(capacity int) *RingLog {
	return &RingLog{slots: make([]atomic.Pointer[domain.Frame], capacity)}
}

// CapacityForCadence sizes a ring log for at least retention seconds at
// the given cycles-per-second cadence.
func CapacityForCadence(cyclesPerSec int, retentionSec int) int {
	n := cyclesPerSec * retentionSec
	if n < 1 {
		n = 1
	}
	return n
}

// Append publishes f at its gsid-indexed slot. Safe for a single writer
// only; concurrent Append calls race on the same slot.
func (r *RingLog) Append(f domain.Frame) {
	idx := int(f.GSID % uint64(len(r.slots)))
	r.slots[idx].Store(&f)
	r.writeCursor.Store(f.GSID)
}

// WriteCursor returns the most recently appended gsid.
func (r *RingLog) WriteCursor() uint64 {
	return r.writeCursor.Load()
}

// Get reads the frame at gsid if it has not yet been overwritten by a
// newer frame sharing its slot. ok is false both when the gsid has never
// been written and when it has been overwritten; consumers cannot tell
// the two apart from Get alone and should compare against WriteCursor.
func (r *RingLog) Get(gsid uint64) (domain.Frame, bool) {
	idx := int(gsid % uint64(len(r.slots)))
	f := r.slots[idx].Load()
	if f == nil || f.GSID != gsid {
		return domain.Frame{}, false
	}
	return *f, true
}

// GetForConsumer is Get plus the overwrite-detection metric: a miss where
// the write cursor has already advanced past gsid means a slow consumer
// lost a frame to wraparound, not a frame that was never written.
func (r *RingLog) GetForConsumer(gsid uint64, consumer string) (domain.Frame, bool) {
	f, ok := r.Get(gsid)
	if !ok && gsid <= r.WriteCursor() {
		metrics.RingLogOverwrites.WithLabelValues().Inc()
	}
	return f, ok
}

// Scan collects every frame currently resident whose gsid falls in
// [from, to], in ascending gsid order, for replay or the cold-store
// bridge. Frames outside the ring's retention window are silently
// absent; callers needing a longer window must fall back to cold store.
func (r *RingLog) Scan(from, to uint64) []domain.Frame {
	var out []domain.Frame
	for gsid := from; gsid <= to; gsid++ {
		if f, ok := r.Get(gsid); ok {
			out = append(out, f)
		}
	}
	return out
}
