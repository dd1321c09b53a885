package physics

import (
	"math"
	"testing"

	"github.com/autovant/reflex/internal/domain"
)

func tick(priceUs int64, price float64) domain.Tick {
	return domain.Tick{Symbol: "BTCUSDT", TimestampUs: priceUs, Price: price, Size: 1, Side: domain.SideBuy}
}

func TestUpdate_FiniteDerivatives(t *testing.T) {
	e := New("BTCUSDT")
	price := 100.0
	for i := int64(0); i < 50; i++ {
		price += 0.1
		s := e.Update(tick(i*1000, price))
		if math.IsNaN(s.Velocity) || math.IsInf(s.Velocity, 0) {
			t.Fatalf("velocity not finite at tick %d: %v", i, s.Velocity)
		}
		if math.IsNaN(s.Jerk) || math.IsInf(s.Jerk, 0) {
			t.Fatalf("jerk not finite at tick %d: %v", i, s.Jerk)
		}
	}
}

func TestUpdate_MonotonicPrices_TrendingEfficiencyHigh(t *testing.T) {
	e := New("BTCUSDT")
	price := 100.0
	var s domain.PhysicsState
	for i := int64(0); i < EfficiencyWindow+10; i++ {
		price += 1.0
		s = e.Update(tick(i*1000, price))
	}
	if s.Efficiency < 0.9 {
		t.Fatalf("expected near-1 efficiency on a monotone trend, got %v", s.Efficiency)
	}
}

func TestUpdate_ZigZagEfficiencyLow(t *testing.T) {
	e := New("BTCUSDT")
	price := 100.0
	var s domain.PhysicsState
	for i := int64(0); i < EfficiencyWindow+10; i++ {
		if i%2 == 0 {
			price += 1.0
		} else {
			price -= 1.0
		}
		s = e.Update(tick(i*1000, price))
	}
	if s.Efficiency > 0.3 {
		t.Fatalf("expected low efficiency on a zig-zag, got %v", s.Efficiency)
	}
}

func TestUpdate_DivideByZeroGuard(t *testing.T) {
	e := New("BTCUSDT")
	e.Update(tick(0, 100))
	s := e.Update(tick(1000, 0))
	if math.IsNaN(s.Velocity) || math.IsInf(s.Velocity, 0) {
		t.Fatalf("velocity must stay finite across a zero price tick, got %v", s.Velocity)
	}
}

func TestWarmUp_WindowCountGating(t *testing.T) {
	e := New("BTCUSDT")
	var s domain.PhysicsState
	for i := int64(0); i < 10; i++ {
		s = e.Update(tick(i*1000, 100+float64(i)))
	}
	if s.WarmedUp(EfficiencyWindow) {
		t.Fatalf("expected state to not be warmed up after only 10 ticks")
	}
	for i := int64(10); i < int64(EfficiencyWindow)+5; i++ {
		s = e.Update(tick(i*1000, 100+float64(i)))
	}
	if !s.WarmedUp(EfficiencyWindow) {
		t.Fatalf("expected state to be warmed up after %d ticks", EfficiencyWindow+5)
	}
}

func TestEntropy_BoundedZeroOne(t *testing.T) {
	e := New("BTCUSDT")
	price := 100.0
	for i := int64(0); i < 300; i++ {
		price += float64((i%7)-3) * 0.01
		s := e.Update(tick(i*1000, price))
		if s.Entropy < 0 || s.Entropy > 1 {
			t.Fatalf("entropy out of [0,1]: %v", s.Entropy)
		}
	}
}
