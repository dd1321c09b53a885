package governor

import "gonum.org/v1/gonum/stat"

// sanityWindowSize bounds how many recent cycles feed the operator-visible
// sanity score, so a long-past incident does not keep dragging the score
// down forever. Sized to the spec's own blind-veto scenario (ten
// consecutive degraded cycles must pull the halo below 0.5): a larger
// window pre-seeded at 1.0 would dilute ten bad samples past that
// threshold well before the scenario's horizon elapses.
const sanityWindowSize = 10

// sanityTracker maintains a rolling mean of per-cycle health samples (1.0
// healthy, lower when degraded) and reports it as the single sanity_score
// the spec asks for: one scalar in [0,1] the UI renders as a halo, rather
// than a wall of individual degradation counters.
type sanityTracker struct {
	samples [sanityWindowSize]float64
	filled  bool
	pos     int
	count   int
}

func newSanityTracker() *sanityTracker {
	t := &sanityTracker{}
	for i := range t.samples {
		t.samples[i] = 1.0
	}
	return t
}

// Observe folds in one cycle's health sample.
func (t *sanityTracker) Observe(sample float64) {
	t.samples[t.pos] = sample
	t.pos = (t.pos + 1) % sanityWindowSize
	if t.count < sanityWindowSize {
		t.count++
	}
}

// Score returns the mean of the observed window via gonum/stat, matching
// the rest of the core's preference for a vetted numerics library over a
// hand-rolled accumulator for anything beyond the hot-path physics math.
func (t *sanityTracker) Score() float64 {
	n := t.count
	if n == 0 {
		return 1.0
	}
	return stat.Mean(t.samples[:n], nil)
}

// cycleSanitySample derives the [0,1] health sample for one cycle: fully
// healthy cycles score 1.0; blind mode, a fired veto, or elevated drift
// each shave off a fixed penalty, floored at 0.
func cycleSanitySample(blind, vetoFired bool, driftScore float64) float64 {
	score := 1.0
	if blind {
		score -= 0.3
	}
	if vetoFired {
		score -= 0.3
	}
	score -= driftScore * 0.4
	if score < 0 {
		score = 0
	}
	return score
}
