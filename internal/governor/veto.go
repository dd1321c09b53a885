// Package governor implements the OODA Governor: the heart of the
// Reflex core. This file implements the veto lattice from spec §4.4 as
// a chain of pure functions over (PhysicsState, Context?, Legislative,
// Account) -> outcome, per the "no dynamic dispatch needed" design note.
package governor

import (
	"github.com/autovant/reflex/internal/domain"
)

// KinematicCeilings are the thresholds the kinematic veto checks on
// every cycle, blind mode included.
type KinematicCeilings struct {
	MaxAbsJerk     float64
	MaxEntropy     float64
	MaxRealizedVol float64
}

func DefaultKinematicCeilings() KinematicCeilings {
	return KinematicCeilings{MaxAbsJerk: 50.0, MaxEntropy: 0.90, MaxRealizedVol: 0.10}
}

// Proposal is the raw signal-driven trade intent before any veto layer
// has touched it.
type Proposal struct {
	Symbol     string
	Action     domain.Action // Buy or Sell opening, or Hold
	Opening    bool          // false means this would close/reduce an existing position
	Size       float64       // pre-cap lots
	Conviction float64
}

// VetoContext bundles everything a veto layer needs to read. It never
// carries a mutable reference: every field is a snapshot.
type VetoContext struct {
	Physics      domain.PhysicsState
	Context      *domain.ContextResponse // nil in Blind Mode
	Legislative  domain.LegislativeState
	Account      domain.AccountState
	Position     domain.Position
	Ratchet      domain.RatchetLevel
	Staircase    domain.StaircaseState
	WarmupWindow uint32
	Ceilings     KinematicCeilings
	RequiredMargin decimalFloat
	DrawdownFloor  float64
	FeesEstimate   float64
}

// decimalFloat keeps the veto-context arithmetic on plain floats: the
// caller computes the required margin as a float, and insolvencyVeto
// converts the account's decimal cash to float where it compares them.
type decimalFloat = float64

// VetoResult is the accumulated outcome of running the lattice. Layers
// run in order; SizeScale only ever shrinks from 1.0, and FinalAction
// only ever narrows towards Hold/Halt, never the reverse.
type VetoResult struct {
	FinalAction      domain.Action
	SizeScale        float64
	Cap              float64 // tier.max_lots * aggression * blind_multiplier, from provisionalCap
	Reasons          []domain.Reason
	RatchetRaise     domain.RatchetLevel
	DemoteStaircase  bool
	BreakevenExit    bool // hibernation carve-out: close via snap-to-breakeven limit
}

// Evaluate runs the veto lattice against a Proposal in spec order:
// sovereign halt, kinematic, nuclear, legislative, provisional cap,
// insolvency. The first veto that changes the action wins for action
// purposes, but every layer that can still only shrink size is allowed
// to run afterward (size-only layers never re-expand a size another
// layer already capped).
func Evaluate(p Proposal, vc VetoContext) VetoResult {
	res := VetoResult{
		FinalAction:  p.Action,
		SizeScale:    1.0,
		Cap:          1.0,
		RatchetRaise: domain.RatchetIdle,
	}

	if halted := sovereignVeto(p, vc, &res); halted {
		return res
	}

	kinematicVeto(p, vc, &res)
	nuclearVeto(p, vc, &res)
	legislativeVeto(p, vc, &res)
	provisionalCap(p, vc, &res)
	insolvencyVeto(p, vc, &res)

	return res
}

func sovereignVeto(p Proposal, vc VetoContext, res *VetoResult) (halted bool) {
	if vc.Ratchet == domain.RatchetKill {
		res.FinalAction = domain.ActionHalt
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonSovereignHalt, Detail: "ratchet=kill"})
		return true
	}
	if vc.Ratchet == domain.RatchetFreeze {
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonSovereignFreeze, Detail: "ratchet=freeze"})
		return false
	}
	if vc.Legislative.Hibernation {
		isClosingSellAgainstLong := !p.Opening && p.Action == domain.ActionSell && vc.Position.NetSize.IsPositive()
		if isClosingSellAgainstLong && vc.Legislative.SnapToBreakeven {
			res.FinalAction = domain.ActionSell
			res.BreakevenExit = true
			res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonHibernation, Detail: "breakeven exit permitted"})
			return false
		}
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonHibernation, Detail: "hibernation active"})
		return false
	}
	return false
}

// kinematicVeto is always active, including Blind Mode.
func kinematicVeto(p Proposal, vc VetoContext, res *VetoResult) {
	if res.FinalAction == domain.ActionHalt || res.SizeScale == 0 {
		return
	}
	ph := vc.Physics
	switch {
	case abs(ph.Jerk) > vc.Ceilings.MaxAbsJerk:
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonKinematicJerk, Detail: "abs(jerk) over ceiling"})
	case ph.Entropy > vc.Ceilings.MaxEntropy:
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonKinematicEntropy, Detail: "entropy over ceiling"})
	case ph.RealizedVol > vc.Ceilings.MaxRealizedVol:
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonKinematicVol, Detail: "realized vol over ceiling"})
	case !ph.WarmedUp(vc.WarmupWindow):
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonKinematicWarmup, Detail: "physics warm-up incomplete"})
	}
}

// nuclearVeto requires Brain data; it is a "double-key" triple condition.
// In Blind Mode (vc.Context == nil) it can never fire.
func nuclearVeto(p Proposal, vc VetoContext, res *VetoResult) {
	if res.FinalAction == domain.ActionHalt {
		return
	}
	if vc.Context == nil {
		return
	}
	omega := OmegaRatio(vc.Context.ForecastP10, vc.Context.ForecastP50, vc.Context.ForecastP90)
	if vc.Context.Sentiment < -0.90 && abs(vc.Physics.Jerk) > 50 && omega < 1.0 {
		res.FinalAction = domain.ActionHalt
		res.SizeScale = 0
		res.RatchetRaise = domain.RatchetFreeze
		res.DemoteStaircase = true
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonNuclear, Detail: "sentiment/jerk/omega triple agreement"})
	}
}

// legislativeVeto rewrites an opening trade that violates the operator's
// bias to Hold. Closing trades are never touched by bias, per the spec's
// pinned open-question answer.
func legislativeVeto(p Proposal, vc VetoContext, res *VetoResult) {
	if res.FinalAction == domain.ActionHalt || res.FinalAction == domain.ActionHold {
		return
	}
	if !p.Opening {
		return
	}
	switch vc.Legislative.Bias {
	case domain.BiasLongOnly:
		if res.FinalAction == domain.ActionSell {
			res.FinalAction = domain.ActionHold
			res.SizeScale = 0
			res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonLegislativeLong, Detail: "long_only vetoes opening sell"})
		}
	case domain.BiasShortOnly:
		if res.FinalAction == domain.ActionBuy {
			res.FinalAction = domain.ActionHold
			res.SizeScale = 0
			res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonLegislativeShort, Detail: "short_only vetoes opening buy"})
		}
	}
}

// provisionalCap scales (never expands) size by the staircase tier's
// max_lots, the operator aggression, and the Blind Mode multiplier.
func provisionalCap(p Proposal, vc VetoContext, res *VetoResult) {
	if res.FinalAction == domain.ActionHalt || res.SizeScale == 0 {
		return
	}
	blindMultiplier := 1.0
	if vc.Context == nil {
		blindMultiplier = 0.5
	}
	res.Cap = vc.Staircase.Tier.MaxLots() * vc.Legislative.Aggression * blindMultiplier
	res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonProvisionalCap, Detail: "size capped by staircase/aggression/blind"})
}

// insolvencyVeto rejects trades that would exceed available margin or
// breach the configured drawdown floor.
func insolvencyVeto(p Proposal, vc VetoContext, res *VetoResult) {
	if res.FinalAction == domain.ActionHalt || res.FinalAction == domain.ActionHold || res.SizeScale == 0 {
		return
	}
	cash, _ := vc.Account.Cash.Float64()
	if vc.RequiredMargin > cash {
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonInsolvency, Detail: "required margin exceeds cash"})
		return
	}
	if vc.Account.DrawdownPct > vc.DrawdownFloor {
		res.FinalAction = domain.ActionHold
		res.SizeScale = 0
		res.Reasons = append(res.Reasons, domain.Reason{Code: domain.ReasonInsolvency, Detail: "drawdown floor breached"})
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
