// Command replay drives the Governor/Execution/Historian pipeline from a
// recorded CSV or Parquet tick archive instead of a live venue feed, for
// deterministic offline replays. Grounded on the teacher's
// replay_service.go: same source-scheme dispatch and speed/start/end
// flags, generalized from a NATS market-data republish to driving the
// real governor pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autovant/reflex/internal/config"
	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/execution"
	"github.com/autovant/reflex/internal/governor"
	"github.com/autovant/reflex/internal/historian"
	"github.com/autovant/reflex/internal/logging"
	"github.com/autovant/reflex/internal/physics"
)

// blindBrain always reports Blind Mode; a recorded archive has no live
// Brain service to query, and replay runs are meant to be deterministic
// from the tick data alone.
type blindBrain struct{}

func (blindBrain) GetContext(ctx context.Context, snapshot domain.PhysicsState, horizonSec int) (*domain.ContextResponse, error) {
	return nil, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	source := flag.String("source", "", "csv:// or parquet:// tick archive path (required)")
	speed := flag.Float64("speed", 1.0, "replay speed multiplier")
	start := flag.String("start", "", "RFC3339 lower bound, inclusive (optional)")
	end := flag.String("end", "", "RFC3339 upper bound, inclusive (optional)")
	coldStore := flag.String("cold-store", "", "parquet cold-store path for recorded frames (optional)")
	flag.Parse()

	log := logging.New("replay")

	if *source == "" {
		fmt.Fprintln(os.Stderr, "-source is required")
		return 1
	}

	ticks, err := historian.LoadTicks(*source)
	if err != nil {
		log.Error().Err(err).Msg("failed to load tick archive")
		return 1
	}
	ticks = filterByWindow(ticks, *start, *end)
	if len(ticks) == 0 {
		log.Error().Msg("no ticks in replay window")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config rejected at startup")
		return 1
	}

	hist, err := historian.New(historian.CapacityForCadence(50, 60), *coldStore)
	if err != nil {
		log.Error().Err(err).Msg("failed to open historian")
		return 1
	}
	defer hist.Close()

	engine := physics.New(ticks[0].Symbol)
	adapter := execution.New(execution.Config{
		RateBucketCapacity: cfg.RateBucketCapacity,
		RateRefillPerSec:   cfg.RateRefillPerSec,
		FeeBps:             7.5,
		MakerRebateBps:     1.0,
		SlippageBps:        1.5,
		MaxSlippageBps:     25,
		SpreadCoeff:        0.5,
		OFICoeff:           0.3,
		Shadow:             true,

		PartialFillEnabled:   true,
		PartialFillMinPct:    0.15,
		PartialFillMaxSlices: 4,
		LatencyMeanMs:        8,
		LatencySigmaMs:       3,
	})

	account := domain.AccountState{
		Cash:          decimal.NewFromInt(100_000),
		Equity:        decimal.NewFromInt(100_000),
		NAV:           decimal.NewFromInt(100_000),
		HighWaterMark: decimal.NewFromInt(100_000),
	}
	position := domain.Position{Symbol: ticks[0].Symbol}

	gov := governor.New(log, cfg, blindBrain{}, nil, time.Now().UnixMicro(), 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("replay interrupted")
		cancel()
	}()

	replayer := historian.NewReplayer(ticks, *speed)
	decisions := 0
	err = replayer.Run(ctx, func(tick domain.Tick) {
		ph := engine.Update(tick)
		adapter.UpdateQuote(tick.Symbol, execution.Quote{LastPrice: tick.Price})
		for _, repriceFill := range adapter.Reprice(tick.Symbol) {
			execution.ApplyFill(&position, &account, repriceFill)
		}

		result := gov.Cycle(ctx, ph, account, position)
		if result.Stale {
			return
		}

		if result.Decision.Action == domain.ActionBuy || result.Decision.Action == domain.ActionSell {
			side := domain.SideBuy
			if result.Decision.Action == domain.ActionSell {
				side = domain.SideSell
			}
			fill := adapter.Submit(tick.Symbol, side, decimal.NewFromFloat(result.FinalQty), false, gov.Legislative().MakerOnly, position)
			execution.ApplyFill(&position, &account, fill)
		}

		frame := domain.Frame{
			Version:          domain.FrameVersion,
			GSID:             result.Decision.GSID,
			TimestampUs:      result.Decision.TimestampUs,
			Physics:          ph,
			Account:          account,
			Positions:        []domain.Position{position},
			Decision:         result.Decision,
			ReasoningTrace:   result.Decision.Reasons,
			LegislativeState: gov.Legislative(),
			StaircaseState:   gov.Staircase(),
			RatchetLevel:     gov.Ratchet(),
			SanityScore:      result.SanityScore,
			DriftScore:       gov.DriftScore(),
		}
		if err := hist.Record(frame); err != nil {
			log.Warn().Err(err).Msg("historian record failed")
		}
		decisions++
	})
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("replay run failed")
		return 1
	}

	log.Info().Int("decisions", decisions).Str("final_nav", account.NAV.String()).Msg("replay complete")
	return 0
}

func filterByWindow(ticks []domain.Tick, start, end string) []domain.Tick {
	var startUs, endUs int64
	if start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			startUs = t.UnixMicro()
		}
	}
	if end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			endUs = t.UnixMicro()
		}
	}
	if startUs == 0 && endUs == 0 {
		return ticks
	}
	out := ticks[:0]
	for _, t := range ticks {
		if startUs != 0 && t.TimestampUs < startUs {
			continue
		}
		if endUs != 0 && t.TimestampUs > endUs {
			continue
		}
		out = append(out, t)
	}
	return out
}
