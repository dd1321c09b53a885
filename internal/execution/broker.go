// Package execution turns a Decision into order state mutation: rate
// limiting, maker-only/market-IOC shaping, a circuit breaker over venue
// rejections, and simulated or shadow fills against the latest quote.
// The fill math is grounded on the teacher's PaperBroker, generalized to
// the core's decimal-precision AccountState/Position types.
package execution

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
)

// Quote is the latest top-of-book snapshot an Adapter fills against.
type Quote struct {
	BestBid   float64
	BestAsk   float64
	LastPrice float64
	OrderFlow float64
}

func (q Quote) mid() float64 {
	if q.BestBid > 0 && q.BestAsk > 0 {
		return (q.BestBid + q.BestAsk) / 2
	}
	return q.LastPrice
}

// openMaker tracks a resting post-only order across cycles for the
// shadow-limit chase: reprice toward mid by one tick if unfilled.
type openMaker struct {
	order    domain.Order
	tickSize float64
}

// Adapter is the Execution Adapter. One Adapter serves every symbol; its
// internal maps are keyed by symbol.
type Adapter struct {
	mu sync.Mutex

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	shadow bool

	quotes  map[string]Quote
	resting map[uint64]*openMaker

	rejectTimes []time.Time

	feeRate       decimal.Decimal
	makerRebate   decimal.Decimal
	slippageBps   float64
	maxSlipBps    float64
	spreadCoeff   float64
	ofiCoeff      float64
	random        *rand.Rand

	partialFillEnabled  bool
	partialFillMinPct   float64
	partialFillMaxSlices int
	latencyMeanMs       float64
	latencySigmaMs      float64

	makerFills float64
	takerFills float64

	nextOrderID uint64
}

// Config is the subset of execution-tunable parameters; sizing and
// routing decisions (maker-only vs market-IOC) are made by the caller.
type Config struct {
	RateBucketCapacity int
	RateRefillPerSec   int
	FeeBps             float64
	MakerRebateBps     float64
	SlippageBps        float64
	MaxSlippageBps     float64
	SpreadCoeff        float64
	OFICoeff           float64
	Shadow             bool

	// PartialFillEnabled slices a maker order that crosses the spread
	// immediately into several sequential clips instead of one print,
	// matching a venue that rarely grants a full size at a single price.
	PartialFillEnabled  bool
	PartialFillMinPct   float64 // minimum slice size as a fraction of order quantity
	PartialFillMaxSlices int
	LatencyMeanMs       float64
	LatencySigmaMs      float64
}

func New(cfg Config) *Adapter {
	st := gobreaker.Settings{
		Name:        "venue",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	}
	minPct := cfg.PartialFillMinPct
	if minPct <= 0 {
		minPct = 0.05
	}
	maxSlices := cfg.PartialFillMaxSlices
	if maxSlices <= 0 {
		maxSlices = 1
	}
	return &Adapter{
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateRefillPerSec), cfg.RateBucketCapacity),
		breaker:     gobreaker.NewCircuitBreaker(st),
		shadow:      cfg.Shadow,
		quotes:      make(map[string]Quote),
		resting:     make(map[uint64]*openMaker),
		feeRate:     decimal.NewFromFloat(cfg.FeeBps / 10_000),
		makerRebate: decimal.NewFromFloat(cfg.MakerRebateBps / 10_000),
		slippageBps: cfg.SlippageBps,
		maxSlipBps:  cfg.MaxSlippageBps,
		spreadCoeff: cfg.SpreadCoeff,
		ofiCoeff:    cfg.OFICoeff,
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),

		partialFillEnabled:   cfg.PartialFillEnabled,
		partialFillMinPct:    minPct,
		partialFillMaxSlices: maxSlices,
		latencyMeanMs:        cfg.LatencyMeanMs,
		latencySigmaMs:       cfg.LatencySigmaMs,
	}
}

// UpdateQuote refreshes the top-of-book the Adapter fills against.
func (a *Adapter) UpdateQuote(symbol string, q Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes[symbol] = q
}

// Fill is the outcome of Submit: the mutated order plus the ledger deltas
// the caller applies to AccountState/Position.
type Fill struct {
	Order       domain.Order
	FillPrice   decimal.Decimal
	Fees        decimal.Decimal
	RealizedPnL decimal.Decimal
	Maker       bool
	SlippageBps float64
	Rejected    bool
	RejectReason string
}

// Submit routes a proposed order through the rate limiter and circuit
// breaker, then simulates (or shadow-simulates) its fill. nuclear orders
// bypass the rate limiter entirely; makerPreferred selects a post-only
// limit instead of a market-IOC.
func (a *Adapter) Submit(symbol string, side domain.Side, qty decimal.Decimal, nuclear, makerPreferred bool, position domain.Position) Fill {
	a.mu.Lock()
	quote, haveQuote := a.quotes[symbol]
	a.mu.Unlock()

	if !haveQuote {
		return Fill{Rejected: true, RejectReason: "no_quote"}
	}

	if !nuclear {
		if !a.limiter.Allow() {
			metrics.OrdersRateDropped.WithLabelValues().Inc()
			return Fill{Rejected: true, RejectReason: "rate_limited"}
		}
	}

	qtyF, _ := qty.Float64()
	order := domain.Order{
		OrderID:    a.nextID(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Kind:       domain.OrderKindMarketIOC,
		Status:     domain.OrderStatusPending,
		CreatedTs:  time.Now().UnixMicro(),
		ReduceOnly: position.Reducing(signedQty(side, qtyF)),
		IsShadow:   a.shadow,
	}

	maker := makerPreferred && !nuclear
	if maker {
		order.Kind = domain.OrderKindMaker
		order.LimitPrice = a.postOnlyPrice(quote, side)
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		f := a.simulateFill(order, quote, maker)
		if f.Rejected {
			return f, errors.New(f.RejectReason)
		}
		return f, nil
	})
	if err != nil {
		a.recordReject()
		if f, ok := result.(Fill); ok && f.Rejected {
			metrics.OrdersRejected.WithLabelValues(f.RejectReason).Inc()
			return f
		}
		metrics.OrdersRejected.WithLabelValues("circuit_open").Inc()
		return Fill{Rejected: true, RejectReason: "circuit_open"}
	}

	fill := result.(Fill)
	kind := "market_ioc"
	if maker {
		kind = "maker"
		if !fill.Rejected {
			a.mu.Lock()
			a.resting[order.OrderID] = &openMaker{order: fill.Order, tickSize: tickSizeFor(quote)}
			a.mu.Unlock()
		}
	}
	metrics.OrdersSubmitted.WithLabelValues(kind).Inc()
	return fill
}

// fillSlice is one clip of a fill plan: a partial execution at its own
// price and simulated ack latency. Grounded on the teacher's
// buildFillPlan/fillSlice, which splits a maker print crossing the
// spread into several sequential clips instead of one.
type fillSlice struct {
	quantity  float64
	price     float64
	slipBps   float64
	latencyMs float64
}

func (a *Adapter) simulateFill(order domain.Order, quote Quote, maker bool) Fill {
	mid := quote.mid()
	if mid <= 0 {
		return Fill{Order: order, Rejected: true, RejectReason: "no_mid"}
	}

	if maker {
		// Post-only: fills immediately only in simulation if the quoted
		// limit already sits through the touch; otherwise it rests and
		// the caller's next-cycle Reprice call chases it.
		crosses := crossesSpread(order.Side, order.LimitPrice, quote)
		if !crosses {
			order.Status = domain.OrderStatusOpen
			return Fill{Order: order, Maker: true}
		}
	}

	qty, _ := order.Quantity.Float64()
	slices := a.buildFillPlan(order.Side, qty, mid, quote, maker)
	order.Status = domain.OrderStatusFilled

	feeRate := a.feeRate
	if maker {
		feeRate = a.makerRebate
	}

	var filledQty, notional, weightedSlip, fees float64
	for _, s := range slices {
		priceDec := decimal.NewFromFloat(s.price)
		qtyDec := decimal.NewFromFloat(s.quantity)
		fees += priceDec.Mul(qtyDec).Mul(feeRate).InexactFloat64()
		filledQty += s.quantity
		notional += s.price * s.quantity
		weightedSlip += s.slipBps * s.quantity
		metrics.FillLatency.WithLabelValues().Observe(s.latencyMs / 1000.0)
		metrics.SlippageBps.WithLabelValues().Observe(s.slipBps)
	}
	if maker {
		a.makerFills++
	} else {
		a.takerFills++
	}
	if total := a.makerFills + a.takerFills; total > 0 {
		metrics.MakerRatio.WithLabelValues().Set(a.makerFills / total)
	}

	avgPrice := mid
	avgSlip := 0.0
	if filledQty > 0 {
		avgPrice = notional / filledQty
		avgSlip = weightedSlip / filledQty
	}

	return Fill{
		Order:       order,
		FillPrice:   decimal.NewFromFloat(avgPrice),
		Fees:        decimal.NewFromFloat(fees),
		Maker:       maker,
		SlippageBps: avgSlip,
	}
}

// buildFillPlan slices a fill into one or more clips. Market/IOC orders
// and non-partial maker crosses always produce a single clip; a maker
// order that crosses the spread and has partial-fill slicing enabled
// is split into a random number of unevenly-sized clips, each with its
// own sampled ack latency, the way a resting order rarely prints its
// whole size against one counterparty.
func (a *Adapter) buildFillPlan(side domain.Side, qty, mid float64, quote Quote, maker bool) []fillSlice {
	ackLatency := a.sampleLatency()

	if !maker {
		slip := a.computeSlippage(side, quote)
		price := applySlippage(side, mid, quote, slip)
		return []fillSlice{{quantity: qty, price: price, slipBps: slip, latencyMs: ackLatency}}
	}

	if !a.partialFillEnabled || a.partialFillMaxSlices <= 1 {
		return []fillSlice{{quantity: qty, price: mid, slipBps: 0, latencyMs: ackLatency}}
	}

	numSlices := a.random.Intn(a.partialFillMaxSlices-1) + 1
	remaining := qty
	slices := make([]fillSlice, 0, numSlices)
	for i := 0; i < numSlices; i++ {
		minQty := qty * a.partialFillMinPct
		if minQty > remaining {
			minQty = remaining
		}
		var sliceQty float64
		if i == numSlices-1 {
			sliceQty = remaining
		} else {
			maxAlloc := remaining - minQty*float64(numSlices-i-1)
			if maxAlloc <= minQty {
				sliceQty = minQty
			} else {
				sliceQty = minQty + a.random.Float64()*(maxAlloc-minQty)
			}
		}
		if sliceQty <= 0 {
			continue
		}
		remaining -= sliceQty
		delay := a.sampleLatency() * (1 + float64(i)*0.5)
		slices = append(slices, fillSlice{quantity: sliceQty, price: mid, slipBps: 0, latencyMs: delay})
	}
	if len(slices) == 0 {
		return []fillSlice{{quantity: qty, price: mid, slipBps: 0, latencyMs: ackLatency}}
	}
	return slices
}

// sampleLatency draws a simulated ack-to-fill latency from a normal
// distribution around the configured mean, floored at zero.
func (a *Adapter) sampleLatency() float64 {
	lat := a.random.NormFloat64()*a.latencySigmaMs + a.latencyMeanMs
	if lat < 0 {
		return 0
	}
	return lat
}

// Reprice advances every resting maker order by one tick toward mid, per
// the shadow-limit chase rule: never cross the spread, accept
// non-execution. Call once per cycle.
func (a *Adapter) Reprice(symbol string) []Fill {
	a.mu.Lock()
	quote, ok := a.quotes[symbol]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	var fills []Fill
	a.mu.Lock()
	for id, om := range a.resting {
		if om.order.Symbol != symbol {
			continue
		}
		mid := quote.mid()
		delta := om.tickSize
		if om.order.Side == domain.SideSell {
			delta = -om.tickSize
		}
		newPrice, _ := om.order.LimitPrice.Float64()
		newPrice += delta
		if (om.order.Side == domain.SideBuy && newPrice > mid) || (om.order.Side == domain.SideSell && newPrice < mid) {
			newPrice = mid
		}
		om.order.LimitPrice = decimal.NewFromFloat(newPrice)

		if !crossesSpread(om.order.Side, om.order.LimitPrice, quote) {
			continue
		}
		slip := 0.0
		order := om.order
		order.Status = domain.OrderStatusFilled
		fills = append(fills, Fill{Order: order, FillPrice: order.LimitPrice, Maker: true, SlippageBps: slip})
		delete(a.resting, id)
	}
	a.mu.Unlock()
	return fills
}

// CancelOrder removes a resting maker order from the chase loop before it
// fills, for the Sovereign Control Plane's cancel_order command. Reports
// whether an order with that id was actually resting.
func (a *Adapter) CancelOrder(orderID uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.resting[orderID]; !ok {
		return false
	}
	delete(a.resting, orderID)
	return true
}

func (a *Adapter) recordReject() {
	now := time.Now()
	a.rejectTimes = append(a.rejectTimes, now)
	cutoff := now.Add(-10 * time.Second)
	kept := a.rejectTimes[:0]
	for _, t := range a.rejectTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.rejectTimes = kept
}

// ShouldTighten reports whether rejections in the trailing 10s window
// exceed 3, the condition that raises Ratchet to Tighten.
func (a *Adapter) ShouldTighten() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rejectTimes) > 3
}

func (a *Adapter) nextID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextOrderID++
	return a.nextOrderID
}

func (a *Adapter) postOnlyPrice(q Quote, side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		return decimal.NewFromFloat(q.BestBid)
	}
	return decimal.NewFromFloat(q.BestAsk)
}

func crossesSpread(side domain.Side, price decimal.Decimal, q Quote) bool {
	p, _ := price.Float64()
	if side == domain.SideBuy {
		return q.BestAsk > 0 && p >= q.BestAsk
	}
	return q.BestBid > 0 && p <= q.BestBid
}

func (a *Adapter) computeSlippage(side domain.Side, q Quote) float64 {
	mid := q.mid()
	spreadBps := 0.0
	if mid > 0 {
		spreadBps = (q.BestAsk - q.BestBid) / mid * 10_000
	}
	adverse := math.Max(0, q.OrderFlow)
	if side == domain.SideBuy {
		adverse = math.Max(0, -q.OrderFlow)
	}
	slip := a.slippageBps + spreadBps*a.spreadCoeff + adverse*a.ofiCoeff
	if slip > a.maxSlipBps {
		return a.maxSlipBps
	}
	if slip < 0 {
		return 0
	}
	return slip
}

func applySlippage(side domain.Side, mid float64, q Quote, slipBps float64) float64 {
	base := mid
	if side == domain.SideBuy {
		if q.BestAsk > 0 {
			base = q.BestAsk
		}
		return base * (1 + slipBps/10_000)
	}
	if q.BestBid > 0 {
		base = q.BestBid
	}
	return base * (1 - slipBps/10_000)
}

func tickSizeFor(q Quote) float64 {
	mid := q.mid()
	if mid <= 0 {
		return 0.01
	}
	// One basis point of mid, floored to a cent-scale tick; venues vary
	// tick size in ways this core does not model precisely.
	return math.Max(mid/10_000, 0.01)
}

func signedQty(side domain.Side, qty float64) decimal.Decimal {
	if side == domain.SideSell {
		return decimal.NewFromFloat(-qty)
	}
	return decimal.NewFromFloat(qty)
}
