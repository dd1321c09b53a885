package execution

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/autovant/reflex/internal/domain"
)

func testConfig() Config {
	return Config{
		RateBucketCapacity: 20,
		RateRefillPerSec:   10,
		FeeBps:             7,
		MakerRebateBps:     -1,
		SlippageBps:        3,
		MaxSlippageBps:     10,
		SpreadCoeff:        0.5,
		OFICoeff:           0.35,
	}
}

func TestSubmit_MarketOrderFillsAgainstQuote(t *testing.T) {
	a := New(testConfig())
	a.UpdateQuote("BTCUSDT", Quote{BestBid: 49990, BestAsk: 50010, LastPrice: 50000})

	fill := a.Submit("BTCUSDT", domain.SideBuy, decimal.NewFromInt(1), false, false, domain.Position{})
	if fill.Rejected {
		t.Fatalf("expected market order to fill, got rejected: %s", fill.RejectReason)
	}
	if fill.Order.Status != domain.OrderStatusFilled {
		t.Fatalf("expected order status filled, got %v", fill.Order.Status)
	}
	if fill.FillPrice.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected a positive fill price, got %v", fill.FillPrice)
	}
}

func TestSubmit_NoQuoteRejects(t *testing.T) {
	a := New(testConfig())
	fill := a.Submit("ETHUSDT", domain.SideBuy, decimal.NewFromInt(1), false, false, domain.Position{})
	if !fill.Rejected || fill.RejectReason != "no_quote" {
		t.Fatalf("expected no_quote rejection, got %+v", fill)
	}
}

func TestSubmit_RateLimiterDropsBeyondCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.RateBucketCapacity = 1
	cfg.RateRefillPerSec = 1
	a := New(cfg)
	a.UpdateQuote("BTCUSDT", Quote{BestBid: 100, BestAsk: 100.1, LastPrice: 100})

	first := a.Submit("BTCUSDT", domain.SideBuy, decimal.NewFromInt(1), false, false, domain.Position{})
	if first.Rejected {
		t.Fatalf("expected first order within bucket capacity to proceed, got %+v", first)
	}
	second := a.Submit("BTCUSDT", domain.SideBuy, decimal.NewFromInt(1), false, false, domain.Position{})
	if !second.Rejected || second.RejectReason != "rate_limited" {
		t.Fatalf("expected second order to be rate limited, got %+v", second)
	}
}

func TestSubmit_NuclearBypassesRateLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.RateBucketCapacity = 1
	cfg.RateRefillPerSec = 1
	a := New(cfg)
	a.UpdateQuote("BTCUSDT", Quote{BestBid: 100, BestAsk: 100.1, LastPrice: 100})

	a.Submit("BTCUSDT", domain.SideBuy, decimal.NewFromInt(1), false, false, domain.Position{})
	nuclear := a.Submit("BTCUSDT", domain.SideSell, decimal.NewFromInt(1), true, false, domain.Position{})
	if nuclear.Rejected {
		t.Fatalf("expected a nuclear exit to bypass the rate limiter, got %+v", nuclear)
	}
}

func TestSubmit_MakerCrossWithPartialFillSlicesQuantity(t *testing.T) {
	cfg := testConfig()
	cfg.PartialFillEnabled = true
	cfg.PartialFillMinPct = 0.15
	cfg.PartialFillMaxSlices = 4
	a := New(cfg)
	a.UpdateQuote("BTCUSDT", Quote{BestBid: 49990, BestAsk: 50010, LastPrice: 50000})

	// A maker limit that already crosses the touch fills immediately, and
	// the clips from partial-fill slicing aggregate into one filled order
	// with a positive weighted-average price.
	order := domain.Order{Side: domain.SideBuy, Quantity: decimal.NewFromInt(10), LimitPrice: decimal.NewFromInt(50010)}
	fill := a.simulateFill(order, Quote{BestBid: 49990, BestAsk: 50010, LastPrice: 50000}, true)
	if fill.Rejected {
		t.Fatalf("expected maker cross to fill, got rejected: %s", fill.RejectReason)
	}
	if fill.Order.Status != domain.OrderStatusFilled {
		t.Fatalf("expected order status filled, got %v", fill.Order.Status)
	}
	if fill.FillPrice.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected a positive weighted-average fill price, got %v", fill.FillPrice)
	}
}

func TestApplyFill_OpeningThenClosingRealizesPnL(t *testing.T) {
	position := domain.Position{}
	account := domain.AccountState{Cash: decimal.NewFromInt(10000), NAV: decimal.NewFromInt(10000)}

	open := Fill{
		Order:     domain.Order{Side: domain.SideBuy, Quantity: decimal.NewFromInt(1), Status: domain.OrderStatusFilled},
		FillPrice: decimal.NewFromInt(100),
		Fees:      decimal.Zero,
	}
	ApplyFill(&position, &account, open)
	if !position.NetSize.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected net size 1 after opening fill, got %v", position.NetSize)
	}

	closeFill := Fill{
		Order:     domain.Order{Side: domain.SideSell, Quantity: decimal.NewFromInt(1), Status: domain.OrderStatusFilled},
		FillPrice: decimal.NewFromInt(110),
		Fees:      decimal.Zero,
	}
	ApplyFill(&position, &account, closeFill)
	if !position.NetSize.IsZero() {
		t.Fatalf("expected flat position after closing fill, got %v", position.NetSize)
	}
	if !account.Cash.GreaterThan(decimal.NewFromInt(10000)) {
		t.Fatalf("expected realized profit to increase cash, got %v", account.Cash)
	}
}
