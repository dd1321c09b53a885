// Package config loads the Reflex process configuration from the
// environment, following the teacher's getenv(key, fallback) idiom
// rather than pulling in a config-file library neither the teacher nor
// any sibling repo in the pack reaches for. Credentials and endpoints
// are read from the environment only; Load never logs a value that
// looks like a secret.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Mode gates whether the execution adapter may submit real orders.
type Mode string

const (
	ModeSimulation      Mode = "simulation"
	ModeShadowExecution Mode = "shadow_execution"
	ModeLive            Mode = "live"
)

// Config is the full config surface enumerated in the Reflex spec §6.
type Config struct {
	Mode Mode

	LiveSymbol string

	JitterThresholdMs  int
	CycleStalenessMs   int
	WarmupLockoutSec   int
	RateBucketCapacity int
	RateRefillPerSec   int
	MaxLeverage        float64
	FatFingerCapPct    float64
	WatchdogSec        int
	DrawdownFloorPct   float64
	AuditDriftAlpha    float64
	AuditHorizonSec    int

	NATSURL        string
	BrainSubject   string
	BrainTimeoutMs int

	MetricsAddr   string
	SovereignAddr string
	SovereignPSK  string

	ColdStorePath string

	VenueWSURL          string
	IngestQueueDepth    int
	ReconnectBackoffSec int
	StaleFeedSec        int
	AccountPollHz       float64
	AccountDriftPct     float64
}

// Load reads the config surface from the environment, applying the
// defaults from spec §6, and validates it. A validation failure is
// ConfigInvalid: the caller must refuse to start (exit code 1).
func Load() (Config, error) {
	cfg := Config{
		Mode:               Mode(getenv("MODE", string(ModeSimulation))),
		LiveSymbol:         getenv("LIVE_SYMBOL", "BTCUSDT"),
		JitterThresholdMs:  getenvInt("JITTER_THRESHOLD_MS", 20),
		CycleStalenessMs:   getenvInt("CYCLE_STALENESS_MS", 150),
		WarmupLockoutSec:   getenvInt("WARMUP_LOCKOUT_SEC", 300),
		RateBucketCapacity: getenvInt("RATE_BUCKET_CAPACITY", 20),
		RateRefillPerSec:   getenvInt("RATE_REFILL_PER_SEC", 10),
		MaxLeverage:        getenvFloat("MAX_LEVERAGE", 1.0),
		FatFingerCapPct:    getenvFloat("FAT_FINGER_CAP_PCT", 0.20),
		WatchdogSec:        getenvInt("WATCHDOG_SEC", 600),
		DrawdownFloorPct:   getenvFloat("DRAWDOWN_FLOOR_PCT", 0.25),
		AuditDriftAlpha:    getenvFloat("AUDIT_DRIFT_ALPHA", 0.2),
		AuditHorizonSec:    getenvInt("AUDIT_HORIZON_SEC", 30),
		NATSURL:            getenv("NATS_URL", "nats://localhost:4222"),
		BrainSubject:       getenv("BRAIN_SUBJECT", "brain.get_context"),
		BrainTimeoutMs:     getenvInt("BRAIN_TIMEOUT_MS", 20),
		MetricsAddr:        getenv("METRICS_ADDR", ":8080"),
		SovereignAddr:      getenv("SOVEREIGN_ADDR", ":8090"),
		SovereignPSK:       os.Getenv("SOVEREIGN_PSK"),
		ColdStorePath:      getenv("COLD_STORE_PATH", "./data/coldstore.parquet"),
		VenueWSURL:          getenv("VENUE_WS_URL", "wss://stream.venue.example/ws"),
		IngestQueueDepth:    getenvInt("INGEST_QUEUE_DEPTH", 256),
		ReconnectBackoffSec: getenvInt("RECONNECT_BACKOFF_SEC", 5),
		StaleFeedSec:        getenvInt("STALE_FEED_SEC", 60),
		AccountPollHz:       getenvFloat("ACCOUNT_POLL_HZ", 1.0),
		AccountDriftPct:     getenvFloat("ACCOUNT_DRIFT_PCT", 0.01),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("ConfigInvalid: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Mode {
	case ModeSimulation, ModeShadowExecution, ModeLive:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.LiveSymbol == "" {
		return fmt.Errorf("live_symbol must not be empty")
	}
	if c.RateBucketCapacity <= 0 {
		return fmt.Errorf("rate_bucket_capacity must be positive")
	}
	if c.RateRefillPerSec <= 0 {
		return fmt.Errorf("rate_refill_per_sec must be positive")
	}
	if c.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive")
	}
	if c.FatFingerCapPct <= 0 || c.FatFingerCapPct > 1 {
		return fmt.Errorf("fat_finger_cap_pct must be in (0,1]")
	}
	if c.DrawdownFloorPct <= 0 || c.DrawdownFloorPct > 1 {
		return fmt.Errorf("drawdown_floor_pct must be in (0,1]")
	}
	if c.IngestQueueDepth <= 0 {
		return fmt.Errorf("ingest_queue_depth must be positive")
	}
	if c.AccountPollHz <= 0 {
		return fmt.Errorf("account_poll_hz must be positive")
	}
	if c.Mode == ModeLive && c.SovereignPSK == "" {
		return fmt.Errorf("sovereign_psk is required in live mode")
	}
	return nil
}

// BrainTimeout is the caller-supplied deadline for Brain.get_context.
func (c Config) BrainTimeout() time.Duration {
	return time.Duration(c.BrainTimeoutMs) * time.Millisecond
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
