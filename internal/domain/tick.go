// Package domain holds the core Reflex data model: ticks, physics state,
// brain context, account/position/order records, decisions, and the
// operator-controlled governance state. Nothing in this package performs
// I/O; it is pure data plus the small invariant-checks attached to it.
package domain

// Side is the aggressor side of a trade print.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = "unknown"
)

// Tick is the unit of market data the Ingest Adapter produces. It is the
// source of truth for time in the hot loop and is never mutated after
// creation.
type Tick struct {
	Symbol      string
	TimestampUs int64
	Price       float64
	Size        float64
	Side        Side
}
