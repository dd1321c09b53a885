package governor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/autovant/reflex/internal/config"
	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
	"github.com/autovant/reflex/internal/physics"
)

// Phase budgets from the cycle's 19ms tick-to-trade allowance.
const (
	ObserveBudget = 2 * time.Millisecond
	OrientBudget  = 12 * time.Millisecond
	DecideBudget  = 1 * time.Millisecond
	ActBudget     = 3 * time.Millisecond
)

// BrainClient is the subset of brain.Client the governor needs; defined
// here so tests can supply a stub without importing the NATS transport.
type BrainClient interface {
	GetContext(ctx context.Context, snapshot domain.PhysicsState, horizonSec int) (*domain.ContextResponse, error)
}

// PriceLookup resolves a symbol's latest traded price for audit-loop
// realization. When it is nil, Cycle does not realize pending forecasts.
type PriceLookup func(symbol string) (float64, bool)

// Governor runs the Observe-Orient-Decide-Act cycle. It is single-owner:
// Cycle must never be called concurrently from two goroutines.
type Governor struct {
	log   zerolog.Logger
	cfg   config.Config
	brain BrainClient
	price PriceLookup

	ceilings       KinematicCeilings
	processStartUs int64

	gsid        uint64
	staircase   domain.StaircaseState
	ratchet     domain.RatchetLevel
	legislative domain.LegislativeState
	auditor     *Auditor
	sanity      *sanityTracker

	sentimentOverride *float64
	flattenRequested  map[string]bool

	baseUnit float64
}

// New builds a Governor. processStartUs anchors the warm-up lockout.
func New(log zerolog.Logger, cfg config.Config, brain BrainClient, price PriceLookup, processStartUs int64, baseUnit float64) *Governor {
	return &Governor{
		log:            log,
		cfg:            cfg,
		brain:          brain,
		price:          price,
		ceilings:       DefaultKinematicCeilings(),
		processStartUs: processStartUs,
		legislative:    domain.DefaultLegislativeState(),
		auditor:        NewAuditor(cfg.AuditDriftAlpha, int64(cfg.AuditHorizonSec)*1_000_000),
		sanity:         newSanityTracker(),
		flattenRequested: make(map[string]bool),
		baseUnit:       baseUnit,
	}
}

// SetLegislative installs a new operator policy, applied from the next
// cycle onward. Called only from the Sovereign Control Plane.
func (g *Governor) SetLegislative(l domain.LegislativeState) {
	g.legislative = l
}

// ForceRatchet raises the ratchet unconditionally, used by the Sovereign
// Control Plane's kill/veto commands. Lowering requires ClearRatchet.
func (g *Governor) ForceRatchet(level domain.RatchetLevel) {
	g.ratchet = g.ratchet.Raise(level)
}

// ClearRatchet is the explicit operator override that lowers Ratchet; it
// is never reached by cycle evaluation alone.
func (g *Governor) ClearRatchet(level domain.RatchetLevel) {
	g.ratchet = level
}

// SetSentimentOverride pins the sentiment the nuclear veto's
// sentiment-and-jerk check sees on the next and subsequent cycles,
// overriding (not replacing) the Brain's own reading while it is
// actually responding. It has no effect while the governor is blind:
// an operator cannot use it to fake a live Brain.
func (g *Governor) SetSentimentOverride(v float64) {
	g.sentimentOverride = &v
}

// ClearSentimentOverride removes the pinned sentiment override, letting
// the Brain's own reading flow through again.
func (g *Governor) ClearSentimentOverride() {
	g.sentimentOverride = nil
}

// RequestFlatten marks symbol for an immediate flatten on its next
// cycle, bypassing the veto layer the way the kill/close_all ratchet
// commands do. Distinct from SetLegislative's Hibernation flag, which
// only blocks new opens and lets existing positions close out through
// ordinary veto-passing signals.
func (g *Governor) RequestFlatten(symbol string) {
	g.flattenRequested[symbol] = true
}

// ConsumeFlattenRequest reports and clears a pending flatten request for
// symbol. The hot loop checks this once per cycle for the symbol it is
// about to process.
func (g *Governor) ConsumeFlattenRequest(symbol string) bool {
	if !g.flattenRequested[symbol] {
		return false
	}
	delete(g.flattenRequested, symbol)
	return true
}

// UpdateConfigKey mutates one runtime-tunable config field for the
// Sovereign Control Plane's update_config command. Only fields the
// governor re-reads every cycle are eligible; transport addresses,
// credentials, mode, and the live symbol all require a process restart
// to change safely and are rejected here.
func (g *Governor) UpdateConfigKey(key, value string) error {
	switch key {
	case "cycle_staleness_ms":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for %s: %w", key, err)
		}
		g.cfg.CycleStalenessMs = v
	case "max_leverage":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %w", key, err)
		}
		g.cfg.MaxLeverage = v
	case "drawdown_floor_pct":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %w", key, err)
		}
		g.cfg.DrawdownFloorPct = v
	default:
		return fmt.Errorf("config key %q is not runtime-mutable", key)
	}
	return nil
}

func (g *Governor) Ratchet() domain.RatchetLevel         { return g.ratchet }
func (g *Governor) Staircase() domain.StaircaseState     { return g.staircase }
func (g *Governor) Legislative() domain.LegislativeState { return g.legislative }
func (g *Governor) DriftScore() float64                  { return g.auditor.DriftScore() }
func (g *Governor) SanityScore() float64                 { return g.sanity.Score() }

func (g *Governor) nextGSID() uint64 {
	g.gsid++
	return g.gsid
}

// CycleResult bundles a Decision with the veto trace needed by Execution
// and Telemetry without re-deriving it.
type CycleResult struct {
	Decision    domain.Decision
	Veto        VetoResult
	FinalQty    float64
	Stale       bool
	Blind       bool
	SanityScore float64
}

// Cycle runs one Observe-Orient-Decide-Act pass for a single symbol's
// latest physics snapshot. ph.LastUpdateUs is the stamp of the tick that
// produced ph; cycles whose stamp is more than CycleStalenessMs behind the
// wall clock are discarded.
func (g *Governor) Cycle(ctx context.Context, ph domain.PhysicsState, account domain.AccountState, position domain.Position) CycleResult {
	cycleStart := time.Now()
	nowUs := cycleStart.UnixMicro()

	// Observe
	if time.Duration(nowUs-ph.LastUpdateUs)*time.Microsecond > time.Duration(g.cfg.CycleStalenessMs)*time.Millisecond {
		metrics.CyclesStale.WithLabelValues(ph.Symbol).Inc()
		g.sanity.Observe(cycleSanitySample(true, false, g.auditor.DriftScore()))
		metrics.SanityScore.WithLabelValues().Set(g.sanity.Score())
		return CycleResult{Stale: true, SanityScore: g.sanity.Score()}
	}
	gsid := g.nextGSID()
	metrics.CycleLatency.WithLabelValues("observe").Observe(time.Since(cycleStart).Seconds())

	// Orient
	orientStart := time.Now()
	orientCtx, cancel := context.WithTimeout(ctx, g.cfg.BrainTimeout())
	contextResp, _ := g.brain.GetContext(orientCtx, ph, 30)
	cancel()
	metrics.CycleLatency.WithLabelValues("orient").Observe(time.Since(orientStart).Seconds())

	blind := contextResp != nil && contextResp.Stale(nowUs, g.cfg.BrainTimeout()+100*time.Millisecond)
	if contextResp == nil {
		blind = true
	}
	regime := domain.RegimeUnknown
	if !blind {
		regime = contextResp.NearestRegime
	}

	// Decide
	decideStart := time.Now()
	sig := ComputeSignal(ph, regime)
	proposal := BuildProposal(ph.Symbol, ph, position, sig, blind, g.baseUnit)

	var ctxForVeto *domain.ContextResponse
	if !blind {
		ctxForVeto = contextResp
		if g.sentimentOverride != nil {
			overridden := *contextResp
			overridden.Sentiment = *g.sentimentOverride
			ctxForVeto = &overridden
		}
	}

	marginEstimate := 0.0
	if proposal.Action != domain.ActionHold {
		marginEstimate = proposal.Size * ph.Price / maxFloat(g.cfg.MaxLeverage, 1e-9)
	}

	vc := VetoContext{
		Physics:        ph,
		Context:        ctxForVeto,
		Legislative:    g.legislative,
		Account:        account,
		Position:       position,
		Ratchet:        g.ratchet,
		Staircase:      g.staircase,
		WarmupWindow:   uint32(physics.EfficiencyWindow),
		Ceilings:       g.ceilings,
		RequiredMargin: marginEstimate,
		DrawdownFloor:  g.cfg.DrawdownFloorPct,
	}
	vr := Evaluate(proposal, vc)
	finalQty := FinalSize(proposal, vr)
	metrics.CycleLatency.WithLabelValues("decide").Observe(time.Since(decideStart).Seconds())

	for _, r := range vr.Reasons {
		metrics.VetoTotal.WithLabelValues(string(r.Code)).Inc()
	}

	g.ratchet = g.ratchet.Raise(vr.RatchetRaise)
	if vr.DemoteStaircase {
		g.staircase = domain.StaircaseState{Tier: domain.TierQ0, CooldownUntilUs: nowUs + StaircaseCooldown.Microseconds()}
	}

	vetoFired := proposal.Action != domain.ActionHold && (vr.FinalAction != proposal.Action || vr.SizeScale == 0)
	driftScore := g.auditor.DriftScore()
	if g.price != nil {
		driftScore = g.auditor.Tick(nowUs, g.price)
	}
	g.staircase = AdvanceStaircase(g.staircase, StaircaseInputs{
		Entropy:       ph.Entropy,
		Efficiency:    ph.Efficiency,
		Jerk:          ph.Jerk,
		VetoFired:     vetoFired,
		NuclearFired:  vr.DemoteStaircase,
		DrawdownPct:   account.DrawdownPct,
		DrawdownLimit: g.cfg.DrawdownFloorPct,
		DriftScore:    driftScore,
	}, nowUs, g.processStartUs)
	if driftScore > 0.30 {
		g.ratchet = g.ratchet.Raise(domain.RatchetTighten)
	}
	metrics.StaircaseTier.WithLabelValues(ph.Symbol).Set(float64(g.staircase.Tier))
	metrics.RatchetLevelGauge.WithLabelValues().Set(float64(g.ratchet))

	if vr.FinalAction != domain.ActionHold && vr.FinalAction != domain.ActionHalt && ctxForVeto != nil {
		g.auditor.Submit(gsid, ph.Symbol, ph.Price, ctxForVeto.ForecastP50, nowUs)
	}

	dec := domain.Decision{
		GSID:            gsid,
		TimestampUs:     nowUs,
		Action:          vr.FinalAction,
		Conviction:      proposal.Conviction,
		RiskScalar:      vr.SizeScale,
		Reasons:         vr.Reasons,
		PhysicsSnapshot: ph,
		ContextSnapshot: ctxForVeto,
	}
	metrics.DecisionsTotal.WithLabelValues(string(dec.Action)).Inc()
	metrics.CycleLatency.WithLabelValues("total").Observe(time.Since(cycleStart).Seconds())

	g.sanity.Observe(cycleSanitySample(blind, vetoFired, driftScore))
	sanityScore := g.sanity.Score()
	metrics.SanityScore.WithLabelValues().Set(sanityScore)

	return CycleResult{Decision: dec, Veto: vr, FinalQty: finalQty, Blind: blind, SanityScore: sanityScore}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
