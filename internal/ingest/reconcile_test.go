package ingest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/autovant/reflex/internal/logging"
)

type fakePoller struct {
	snap VenueSnapshot
}

func (f fakePoller) Poll(ctx context.Context) (VenueSnapshot, error) {
	return f.snap, nil
}

type fakeLedger struct {
	positions map[string]decimal.Decimal
}

func (f fakeLedger) Equity() decimal.Decimal { return decimal.Zero }
func (f fakeLedger) PositionSize(symbol string) decimal.Decimal {
	return f.positions[symbol]
}

func TestReconciler_DetectsDrift(t *testing.T) {
	poller := fakePoller{snap: VenueSnapshot{Positions: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromFloat(1.5),
	}}}
	ledger := fakeLedger{positions: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromFloat(1.0),
	}}

	var driftedSymbol string
	r := NewReconciler(logging.New("test"), poller, ledger, 1, 0.01, func(symbol string, local, venue decimal.Decimal) {
		driftedSymbol = symbol
	})
	r.tick(context.Background())

	if driftedSymbol != "BTCUSDT" {
		t.Fatalf("expected drift callback for BTCUSDT, got %q", driftedSymbol)
	}
}

func TestReconciler_NoDriftWithinTolerance(t *testing.T) {
	poller := fakePoller{snap: VenueSnapshot{Positions: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromFloat(1.001),
	}}}
	ledger := fakeLedger{positions: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromFloat(1.0),
	}}

	called := false
	r := NewReconciler(logging.New("test"), poller, ledger, 1, 0.01, func(symbol string, local, venue decimal.Decimal) {
		called = true
	})
	r.tick(context.Background())

	if called {
		t.Fatal("expected no drift callback within tolerance")
	}
}
