package governor

import (
	"math"

	"github.com/autovant/reflex/internal/domain"
)

// RegimeWeights is the momentum/mean-reversion blend for one regime
// classification. Laminar favors momentum; Decoherent collapses the
// blend to cash by weighting neither side.
type RegimeWeights struct {
	Momentum float64
	MeanRev  float64
}

func weightsForRegime(regime string) RegimeWeights {
	switch regime {
	case domain.RegimeLaminar:
		return RegimeWeights{Momentum: 0.8, MeanRev: 0.2}
	case domain.RegimeDecoherent:
		return RegimeWeights{Momentum: 0, MeanRev: 0}
	default:
		return RegimeWeights{Momentum: 0.5, MeanRev: 0.5}
	}
}

// Signal is the Orient/Decide output before the veto lattice runs: a
// directional lean, its conviction, and whether the regime collapsed to
// cash outright.
type Signal struct {
	Momentum     float64 // velocity-direction lean, weighted
	MeanRev      float64 // contrarian lean, weighted
	Conviction   float64
	PMomentumRaw float64 // unweighted clip(efficiency*sign(velocity), 0, 1)
	CashOut      bool    // Decoherent regime: no directional lean at all
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ComputeSignal implements the Decide-phase blend: p_momentum =
// clip(efficiency * sign(velocity), 0, 1), p_mean_rev = 1 - p_momentum,
// weighted by the nearest regime and reduced to a single conviction.
func ComputeSignal(ph domain.PhysicsState, regime string) Signal {
	pMomentum := clip01(ph.Efficiency * sign(ph.Velocity))
	pMeanRev := 1 - pMomentum

	w := weightsForRegime(regime)
	if w.Momentum == 0 && w.MeanRev == 0 {
		return Signal{CashOut: true, PMomentumRaw: pMomentum}
	}

	momentum := pMomentum * w.Momentum
	meanRev := pMeanRev * w.MeanRev

	conviction := momentum
	if meanRev > conviction {
		conviction = meanRev
	}

	return Signal{Momentum: momentum, MeanRev: meanRev, Conviction: conviction, PMomentumRaw: pMomentum}
}

// BuildProposal turns a Signal into a directional Proposal. contextMissing
// is Blind Mode; per spec, p_momentum < 0.4 while blind forces Hold since
// there is no semantic confirmation of the kinematic lean.
func BuildProposal(symbol string, ph domain.PhysicsState, position domain.Position, sig Signal, contextMissing bool, baseUnit float64) Proposal {
	if sig.CashOut {
		return Proposal{Symbol: symbol, Action: domain.ActionHold}
	}
	if sig.PMomentumRaw < 0.4 && contextMissing {
		return Proposal{Symbol: symbol, Action: domain.ActionHold}
	}

	momentumLeads := sig.Momentum >= sig.MeanRev
	var action domain.Action
	switch {
	case momentumLeads && ph.Velocity > 0:
		action = domain.ActionBuy
	case momentumLeads && ph.Velocity < 0:
		action = domain.ActionSell
	case !momentumLeads && ph.Velocity > 0:
		action = domain.ActionSell // contrarian fade of an up-move
	case !momentumLeads && ph.Velocity < 0:
		action = domain.ActionBuy // contrarian fade of a down-move
	default:
		action = domain.ActionHold
	}

	if action == domain.ActionHold {
		return Proposal{Symbol: symbol, Action: domain.ActionHold}
	}

	opening := !isReducing(position, action)
	return Proposal{
		Symbol:     symbol,
		Action:     action,
		Opening:    opening,
		Size:       baseUnit,
		Conviction: sig.Conviction,
	}
}

func isReducing(position domain.Position, action domain.Action) bool {
	if position.NetSize.IsZero() {
		return false
	}
	long := position.NetSize.IsPositive()
	if long && action == domain.ActionSell {
		return true
	}
	if !long && action == domain.ActionBuy {
		return true
	}
	return false
}

// FinalSize applies the lattice's size scale and cap to a proposal's
// conviction-weighted notional: base_unit * cap * conviction * scale.
func FinalSize(p Proposal, vr VetoResult) float64 {
	if vr.SizeScale <= 0 || p.Size <= 0 {
		return 0
	}
	size := p.Size * vr.Cap * p.Conviction * vr.SizeScale
	return math.Max(size, 0)
}
