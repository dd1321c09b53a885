// Command reflex runs the full hot-path core in a single process: one
// Ingest session feeds the Physics Engine, whose snapshots drive the
// OODA Governor every cycle; Governor decisions are routed through the
// Execution Adapter, archived by the Historian, and fanned out over the
// Telemetry hub. The Sovereign Control Plane runs alongside on its own
// HTTP mux. Shutdown follows the teacher's signal.Notify pattern, shared
// across every one of its service binaries.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/autovant/reflex/internal/brain"
	"github.com/autovant/reflex/internal/config"
	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/execution"
	"github.com/autovant/reflex/internal/governor"
	"github.com/autovant/reflex/internal/historian"
	"github.com/autovant/reflex/internal/ingest"
	"github.com/autovant/reflex/internal/logging"
	"github.com/autovant/reflex/internal/metrics"
	"github.com/autovant/reflex/internal/physics"
	"github.com/autovant/reflex/internal/sovereign"
	"github.com/autovant/reflex/internal/telemetry"
)

// cyclesPerSecEstimate sizes the ring log's retention window; the
// governor itself has no fixed tick rate, so this is an operating
// assumption rather than a hard budget.
const cyclesPerSecEstimate = 50

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.New("reflex")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config rejected at startup")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	terminate := func(code int) func() {
		return func() {
			exitCode = code
			cancel()
		}
	}

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Error().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to nats")
		return 1
	}
	defer nc.Close()

	brainClient := brain.NewClient(nc, cfg.BrainSubject, logging.New("brain"))

	hist, err := historian.New(historian.CapacityForCadence(cyclesPerSecEstimate, 60), cfg.ColdStorePath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open historian")
		return 1
	}
	defer hist.Close()

	engine := physics.New(cfg.LiveSymbol)

	adapter := execution.New(execution.Config{
		RateBucketCapacity: cfg.RateBucketCapacity,
		RateRefillPerSec:   cfg.RateRefillPerSec,
		FeeBps:             7.5,
		MakerRebateBps:     1.0,
		SlippageBps:        1.5,
		MaxSlippageBps:     25,
		SpreadCoeff:        0.5,
		OFICoeff:           0.3,
		Shadow:             cfg.Mode == config.ModeShadowExecution,

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
	position := domain.Position{Symbol: cfg.LiveSymbol}

	processStartUs := time.Now().UnixMicro()
	gov := governor.New(log, cfg, brainClient, nil, processStartUs, 1.0)

	hub := telemetry.NewHub(logging.New("telemetry"))

	auth := sovereign.NewAuthenticator(cfg.SovereignPSK)
	audit := sovereign.NewAuditLog()
	sovereignSrv := sovereign.NewServer(logging.New("sovereign"), auth, gov, audit, terminate(2)).WithMode(string(cfg.Mode)).WithExecution(adapter)

	metrics.TradingMode.WithLabelValues(string(cfg.Mode)).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	sovereignMux := http.NewServeMux()
	sovereignMux.Handle("/sovereign/", sovereignSrv.Mux())
	sovereignMux.Handle("/telemetry/stream", hub)
	go func() {
		if err := http.ListenAndServe(cfg.SovereignAddr, sovereignMux); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("sovereign server exited")
		}
	}()

	session := ingest.New(logging.New("ingest"), cfg.VenueWSURL, cfg.LiveSymbol, cfg.IngestQueueDepth, cfg.ReconnectBackoffSec, cfg.StaleFeedSec)
	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("ingest session stopped unexpectedly")
		}
	}()

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	ticks := session.Ticks()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reflex core stopped")
			return exitCode
		case tick, ok := <-ticks:
			if !ok {
				return exitCode
			}
			ph := engine.Update(tick)
			adapter.UpdateQuote(tick.Symbol, execution.Quote{LastPrice: tick.Price})
			for _, repriceFill := range adapter.Reprice(tick.Symbol) {
				execution.ApplyFill(&position, &account, repriceFill)
			}

			if gov.ConsumeFlattenRequest(tick.Symbol) && !position.NetSize.IsZero() {
				side := domain.SideSell
				if position.NetSize.IsNegative() {
					side = domain.SideBuy
				}
				flatten := adapter.Submit(tick.Symbol, side, position.NetSize.Abs(), true, false, position)
				execution.ApplyFill(&position, &account, flatten)
			}

			result := gov.Cycle(ctx, ph, account, position)
			if result.Stale {
				continue
			}

			if result.Decision.Action == domain.ActionBuy || result.Decision.Action == domain.ActionSell {
				side := domain.SideBuy
				if result.Decision.Action == domain.ActionSell {
					side = domain.SideSell
				}
				nuclear := gov.Ratchet() >= domain.RatchetKill
				fill := adapter.Submit(tick.Symbol, side, decimal.NewFromFloat(result.FinalQty), nuclear, gov.Legislative().MakerOnly, position)
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
			hub.Broadcast(frame)
		}
	}
}
