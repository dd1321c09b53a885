package historian

import (
	"sync"

	"github.com/autovant/reflex/internal/domain"
)

// Historian owns the ring log and, optionally, a cold-store overflow for
// windows past the ring's retention. One Historian instance is the single
// writer for both; readers (replay, telemetry backfill) only call Scan.
type Historian struct {
	ring *RingLog

	mu        sync.Mutex
	cold      *ColdStore
	coldPath  string
}

// New builds a Historian over a ring log sized for capacity frames. Pass
// coldPath empty to run without cold-store overflow (acceptable for a
// dev/backtest run that never needs more than the ring's retention).
func New(capacity int, coldPath string) (*Historian, error) {
	h := &Historian{ring: NewRingLog(capacity), coldPath: coldPath}
	if coldPath != "" {
		cs, err := NewColdStore(coldPath)
		if err != nil {
			return nil, err
		}
		h.cold = cs
	}
	return h, nil
}

// Record appends a frame to the ring log and, if configured, mirrors it to
// the cold store. The cold-store write runs synchronously on the caller's
// goroutine, so its latency adds to Record; a write error is returned for
// the caller to log.
func (h *Historian) Record(f domain.Frame) error {
	h.ring.Append(f)
	h.mu.Lock()
	cold := h.cold
	h.mu.Unlock()
	if cold == nil {
		return nil
	}
	return cold.Append(f)
}

// Close flushes the cold store, if any.
func (h *Historian) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cold == nil {
		return nil
	}
	return h.cold.Close()
}

// RingLog exposes the underlying ring log for consumers that want
// gsid-level single-frame lookups (e.g. telemetry jitter-buffer backfill).
func (h *Historian) RingLog() *RingLog {
	return h.ring
}

// Scan returns every frame in [from, to], preferring the ring log and
// falling back to the cold store for any gsid the ring no longer holds.
// Frames are returned in ascending gsid order with no duplicates.
func (h *Historian) Scan(from, to uint64) ([]domain.Frame, error) {
	hot := h.ring.Scan(from, to)

	h.mu.Lock()
	coldPath := h.coldPath
	h.mu.Unlock()
	if coldPath == "" {
		return hot, nil
	}

	haveHot := make(map[uint64]bool, len(hot))
	for _, f := range hot {
		haveHot[f.GSID] = true
	}

	// Only consult cold store for the portion of the window the ring
	// didn't cover; a ring miss at the front of the range means older
	// frames already wrapped out, not that the whole window is absent.
	lowestHot := to + 1
	for _, f := range hot {
		if f.GSID < lowestHot {
			lowestHot = f.GSID
		}
	}
	if len(hot) == 0 {
		lowestHot = to + 1
	}
	if lowestHot <= from {
		return hot, nil
	}

	coldFrames, err := ScanColdStore(coldPath, from, lowestHot-1)
	if err != nil {
		return hot, err
	}

	out := make([]domain.Frame, 0, len(coldFrames)+len(hot))
	for _, f := range coldFrames {
		if !haveHot[f.GSID] {
			out = append(out, f)
		}
	}
	out = append(out, hot...)
	return out, nil
}
