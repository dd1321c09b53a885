// Package physics computes incremental market kinematics from the tick
// stream: log-return velocity/acceleration/jerk, a rolling Shannon
// entropy over discretized returns, a price-efficiency ratio, and a
// Welford-updated realized volatility. Every update is O(1) amortized
// and allocates nothing once the engine's fixed-size buffers are warm.
package physics

import (
	"math"

	"github.com/autovant/reflex/internal/domain"
)

const (
	// EntropyWindow is N in the spec: the sliding window of discretized
	// returns the Shannon entropy is computed over.
	EntropyWindow = 100
	// EntropyBins is the number of histogram buckets returns are binned
	// into before the entropy calculation.
	EntropyBins = 16
	// EfficiencyWindow is W in the spec: the window efficiency and the
	// warm-up flag are evaluated over.
	EfficiencyWindow = 100
)

// Engine holds one symbol's pre-allocated physics buffers. It is
// single-writer; callers obtain a read-only Clone() of State after each
// Update for a lock-free handoff to the governor.
type Engine struct {
	symbol string

	lastPrice   float64
	havePrice   bool
	lastReturn  float64
	haveReturn  bool
	lastVel     float64
	haveVel     bool

	// Welford online variance over log-returns, time-scaled.
	welfordCount int64
	welfordMean  float64
	welfordM2    float64

	// Circular buffer of discretized returns for the entropy histogram.
	returnBuf    [EntropyWindow]float64
	returnBufLen int
	returnBufPos int

	// Circular buffer of signed price deltas for efficiency.
	deltaBuf    [EfficiencyWindow]float64
	deltaBufLen int
	deltaBufPos int

	state domain.PhysicsState
}

// New creates an Engine for symbol.
func New(symbol string) *Engine {
	return &Engine{symbol: symbol, state: domain.PhysicsState{Symbol: symbol}}
}

// Update folds tick into the engine's state and returns an immutable
// snapshot. Divide-by-zero and non-finite guards cause the update to
// skip the derivative chain for this tick while still advancing the
// window counters so warm-up proceeds.
func (e *Engine) Update(tick domain.Tick) domain.PhysicsState {
	price := tick.Price
	if e.havePrice && e.lastPrice > 0 && price > 0 {
		r := math.Log(price / e.lastPrice)
		if !math.IsInf(r, 0) && !math.IsNaN(r) {
			e.foldReturn(r, tick.TimestampUs)
		}
	}
	if e.havePrice {
		delta := price - e.lastPrice
		e.pushDelta(delta)
	}

	e.lastPrice = price
	e.havePrice = true
	e.state.Price = price
	e.state.LastUpdateUs = maxInt64(e.state.LastUpdateUs, tick.TimestampUs)
	if e.state.WindowCount < math.MaxUint32 {
		e.state.WindowCount++
	}

	e.state.Entropy = e.entropy()
	e.state.Efficiency = e.efficiency()
	e.state.RealizedVol = e.realizedVol()

	return e.state.Clone()
}

func (e *Engine) foldReturn(r float64, tsUs int64) {
	velocity := r
	accel := 0.0
	if e.haveVel {
		accel = velocity - e.lastVel
	}
	jerk := 0.0
	if e.haveReturn {
		prevAccel := e.state.Acceleration
		jerk = accel - prevAccel
	}

	e.state.Velocity = velocity
	e.state.Acceleration = accel
	e.state.Jerk = jerk

	e.lastVel = velocity
	e.haveVel = true
	e.lastReturn = r
	e.haveReturn = true

	e.pushReturn(r)
	e.foldWelford(r)
}

func (e *Engine) pushReturn(r float64) {
	e.returnBuf[e.returnBufPos] = r
	e.returnBufPos = (e.returnBufPos + 1) % EntropyWindow
	if e.returnBufLen < EntropyWindow {
		e.returnBufLen++
	}
}

func (e *Engine) pushDelta(d float64) {
	e.deltaBuf[e.deltaBufPos] = d
	e.deltaBufPos = (e.deltaBufPos + 1) % EfficiencyWindow
	if e.deltaBufLen < EfficiencyWindow {
		e.deltaBufLen++
	}
}

// foldWelford updates the online mean/variance accumulator (Welford's
// algorithm) with a new log-return observation.
func (e *Engine) foldWelford(r float64) {
	e.welfordCount++
	delta := r - e.welfordMean
	e.welfordMean += delta / float64(e.welfordCount)
	delta2 := r - e.welfordMean
	e.welfordM2 += delta * delta2
}

func (e *Engine) realizedVol() float64 {
	if e.welfordCount < 2 {
		return 0
	}
	variance := e.welfordM2 / float64(e.welfordCount-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// entropy bins the current return window into EntropyBins buckets and
// computes the Shannon entropy of the resulting histogram, normalized by
// log(EntropyBins) so the result lies in [0,1]. Ties at the bin boundary
// are broken by clamping the index to [0, bins-1].
func (e *Engine) entropy() float64 {
	if e.returnBufLen < 2 {
		return 0
	}
	rMin, rMax := math.Inf(1), math.Inf(-1)
	for i := 0; i < e.returnBufLen; i++ {
		v := e.returnBuf[i]
		if v < rMin {
			rMin = v
		}
		if v > rMax {
			rMax = v
		}
	}
	width := rMax - rMin
	if width <= 0 {
		return 0
	}

	var hist [EntropyBins]int
	for i := 0; i < e.returnBufLen; i++ {
		idx := int(math.Floor((e.returnBuf[i] - rMin) / width * EntropyBins))
		if idx < 0 {
			idx = 0
		}
		if idx >= EntropyBins {
			idx = EntropyBins - 1
		}
		hist[idx]++
	}

	total := float64(e.returnBufLen)
	h := 0.0
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		h -= p * math.Log(p)
	}
	return h / math.Log(float64(EntropyBins))
}

// efficiency is |p_t - p_{t-W}| / sum(|delta p|) over the delta window.
// The circular buffer holds the last W signed deltas, so their signed
// sum telescopes to exactly p_t - p_{t-W}; gross travel is the sum of
// their absolute values. The ratio is a proxy for fractal dimension.
func (e *Engine) efficiency() float64 {
	if e.deltaBufLen == 0 {
		return 0
	}
	gross := 0.0
	net := 0.0
	for i := 0; i < e.deltaBufLen; i++ {
		d := e.deltaBuf[i]
		gross += math.Abs(d)
		net += d
	}
	if gross == 0 {
		return 0
	}
	eff := math.Abs(net) / gross
	if eff > 1 {
		eff = 1
	}
	return eff
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
