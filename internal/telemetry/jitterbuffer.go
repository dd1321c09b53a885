package telemetry

import (
	"container/heap"

	"github.com/rs/zerolog"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
)

// maxJitterHeapSize is the heap-size threshold past which the buffer
// gives up waiting for a hole to fill and jumps its cursor forward.
const maxJitterHeapSize = 10

// frameHeap is a min-heap of Frames ordered by gsid.
type frameHeap []domain.Frame

func (h frameHeap) Len() int            { return len(h) }
func (h frameHeap) Less(i, j int) bool  { return h[i].GSID < h[j].GSID }
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x interface{}) { *h = append(*h, x.(domain.Frame)) }
func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	f := old[n-1]
	*h = old[:n-1]
	return f
}

// JitterBuffer reassembles gsid order out of a possibly-reordered Frame
// stream: in-order frames emit immediately, late frames (gsid < expected)
// are dropped, and future frames wait in a min-heap until either the hole
// fills or the heap grows past maxJitterHeapSize, at which point the
// cursor jumps to the heap's lowest held gsid and the gap is logged.
type JitterBuffer struct {
	log      zerolog.Logger
	consumer string

	expected uint64
	heap     frameHeap
	started  bool
}

func NewJitterBuffer(log zerolog.Logger, consumer string) *JitterBuffer {
	return &JitterBuffer{log: log, consumer: consumer}
}

// Push feeds one received frame in and returns the frames now ready to
// emit in gsid order (zero or more).
func (j *JitterBuffer) Push(f domain.Frame) []domain.Frame {
	if !j.started {
		j.expected = f.GSID
		j.started = true
	}

	if f.GSID < j.expected {
		return nil // late: already passed, drop
	}

	heap.Push(&j.heap, f)

	var out []domain.Frame
	for j.heap.Len() > 0 && j.heap[0].GSID == j.expected {
		out = append(out, heap.Pop(&j.heap).(domain.Frame))
		j.expected++
	}

	if j.heap.Len() > maxJitterHeapSize {
		gap := j.heap[0].GSID - j.expected
		j.log.Warn().Str("consumer", j.consumer).Uint64("gap", gap).Uint64("jumped_to", j.heap[0].GSID).
			Msg("jitter buffer gap exceeded threshold, cursor jumping")
		metrics.JitterBufferGaps.WithLabelValues(j.consumer).Inc()
		j.expected = j.heap[0].GSID
		for j.heap.Len() > 0 && j.heap[0].GSID == j.expected {
			out = append(out, heap.Pop(&j.heap).(domain.Frame))
			j.expected++
		}
	}

	return out
}
