package ingest

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/autovant/reflex/internal/metrics"
)

// VenueSnapshot is what a VenuePoller fetches each reconciliation tick:
// the venue's view of account equity and per-symbol position size. Only
// the position sizes are diffed against Execution's local ledger; Equity
// is carried but not compared.
type VenueSnapshot struct {
	Equity    decimal.Decimal
	Positions map[string]decimal.Decimal
}

// VenuePoller fetches the venue's authoritative account/position state.
// Implementations talk to whatever reconciliation endpoint the venue
// exposes; Reconciler only needs the snapshot shape.
type VenuePoller interface {
	Poll(ctx context.Context) (VenueSnapshot, error)
}

// LocalLedger is Execution's own view, queried for comparison.
type LocalLedger interface {
	Equity() decimal.Decimal
	PositionSize(symbol string) decimal.Decimal
}

// Reconciler polls a venue at a fixed rate and raises drift events when
// a venue-reported position size diverges from the local ledger's by more
// than driftPct. It never mutates local state; what happens on a drift is
// left to the onDrift callback.
type Reconciler struct {
	log      zerolog.Logger
	poller   VenuePoller
	ledger   LocalLedger
	interval time.Duration
	driftPct float64

	onDrift func(symbol string, localQty, venueQty decimal.Decimal)
}

func NewReconciler(log zerolog.Logger, poller VenuePoller, ledger LocalLedger, hz, driftPct float64, onDrift func(string, decimal.Decimal, decimal.Decimal)) *Reconciler {
	if hz <= 0 {
		hz = 1
	}
	return &Reconciler{
		log:      log,
		poller:   poller,
		ledger:   ledger,
		interval: time.Duration(float64(time.Second) / hz),
		driftPct: driftPct,
		onDrift:  onDrift,
	}
}

// Run polls at the configured cadence until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	snap, err := r.poller.Poll(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("venue reconciliation poll failed")
		return
	}
	for symbol, venueQty := range snap.Positions {
		localQty := r.ledger.PositionSize(symbol)
		if r.driftExceeds(localQty, venueQty) {
			metrics.AccountDrift.WithLabelValues(symbol).Inc()
			r.log.Error().Str("symbol", symbol).
				Str("local_qty", localQty.String()).
				Str("venue_qty", venueQty.String()).
				Msg("account drift detected")
			if r.onDrift != nil {
				r.onDrift(symbol, localQty, venueQty)
			}
		}
	}
}

func (r *Reconciler) driftExceeds(local, venue decimal.Decimal) bool {
	localF, _ := local.Float64()
	venueF, _ := venue.Float64()
	denom := math.Max(math.Abs(localF), math.Abs(venueF))
	if denom == 0 {
		return false
	}
	diff := math.Abs(localF-venueF) / denom
	return diff > r.driftPct
}
