// Package metrics centralizes the Prometheus collectors shared across
// Reflex components, following the teacher's pattern of package-level
// GaugeVec/CounterVec/HistogramVec registered in an init().
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TradingMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "reflex_trading_mode", Help: "Current trading mode"},
		[]string{"mode"},
	)

	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_ticks_ingested_total", Help: "Ticks successfully parsed and forwarded"},
		[]string{"symbol"},
	)
	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_ticks_dropped_total", Help: "Ticks dropped at ingest"},
		[]string{"symbol", "reason"},
	)
	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_feed_reconnects_total", Help: "Feed reconnect attempts"},
		[]string{"symbol"},
	)
	AccountDrift = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_account_drift_total", Help: "Detected account state drift events"},
		[]string{"symbol"},
	)

	BrainLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reflex_brain_latency_seconds",
			Help:    "Brain.get_context round-trip latency",
			Buckets: []float64{0.001, 0.003, 0.005, 0.010, 0.015, 0.020, 0.030, 0.050},
		},
		[]string{"outcome"},
	)

	CycleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reflex_cycle_latency_seconds",
			Help:    "Tick-to-decision OODA cycle latency",
			Buckets: []float64{0.002, 0.005, 0.010, 0.015, 0.019, 0.025, 0.050, 0.100},
		},
		[]string{"phase"},
	)
	CyclesStale = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_cycles_stale_total", Help: "Cycles discarded for exceeding cycle-staleness cutoff"},
		[]string{"symbol"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_decisions_total", Help: "Decisions emitted by action"},
		[]string{"action"},
	)
	VetoTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_veto_total", Help: "Veto firings by layer"},
		[]string{"layer"},
	)
	GSIDGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_gsid_gaps_total", Help: "Observed gaps in the GSID sequence (should never increment)"},
		[]string{"consumer"},
	)
	StaircaseTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "reflex_staircase_tier", Help: "Current staircase tier, as an ordinal"},
		[]string{"symbol"},
	)
	RatchetLevelGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "reflex_ratchet_level", Help: "Current ratchet level, as an ordinal"},
		[]string{},
	)
	SanityScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "reflex_sanity_score", Help: "Operator-visible degradation score in [0,1]"},
		[]string{},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_orders_submitted_total", Help: "Orders submitted by kind"},
		[]string{"kind"},
	)
	OrdersRateDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_orders_rate_dropped_total", Help: "Orders dropped by the rate limiter"},
		[]string{},
	)
	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_orders_rejected_total", Help: "Orders rejected by the venue/transport"},
		[]string{"reason"},
	)
	FillLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reflex_fill_latency_seconds",
			Help:    "Latency between order acceptance and simulated/real fill",
			Buckets: prometheus.DefBuckets,
		},
		[]string{},
	)
	SlippageBps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reflex_slippage_bps",
			Help:    "Observed slippage in basis points",
			Buckets: []float64{0, 1, 2.5, 5, 7.5, 10, 15, 20},
		},
		[]string{},
	)
	MakerRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "reflex_maker_ratio", Help: "Ratio of maker fills"},
		[]string{},
	)

	RingLogOverwrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_ring_log_overwrites_total", Help: "Ring log slots overwritten before a consumer read them"},
		[]string{},
	)
	TelemetryDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_telemetry_dropped_total", Help: "Frames dropped at a slow consumer's queue boundary"},
		[]string{"consumer"},
	)
	JitterBufferGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_jitter_buffer_gaps_total", Help: "Gaps the jitter buffer was forced to jump over"},
		[]string{"consumer"},
	)

	SovereignCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_sovereign_commands_total", Help: "Sovereign commands accepted by type"},
		[]string{"command"},
	)
	SovereignAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_sovereign_auth_failures_total", Help: "Rejected sovereign commands due to auth failure"},
		[]string{},
	)
)

func init() {
	prometheus.MustRegister(
		TradingMode, TicksIngested, TicksDropped, FeedReconnects, AccountDrift,
		BrainLatency, CycleLatency, CyclesStale, DecisionsTotal, VetoTotal, GSIDGaps,
		StaircaseTier, RatchetLevelGauge, SanityScore,
		OrdersSubmitted, OrdersRateDropped, OrdersRejected, FillLatency, SlippageBps, MakerRatio,
		RingLogOverwrites, TelemetryDropped, JitterBufferGaps,
		SovereignCommands, SovereignAuthFailures,
	)
}
