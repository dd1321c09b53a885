// Package logging centralizes the zerolog setup used across every
// Reflex component. The teacher stack logs with the bare standard
// library logger; this module follows the sibling NATS+Prometheus repos
// in the pack (palajakeren-ui's go_api, sawpanic-cryptorun) that run the
// same dependency set with structured zerolog output instead.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a component-scoped logger. component is attached to every
// line so multiplexed output from the hot loop, ingest, execution, and
// telemetry goroutines can be told apart.
func New(component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		level = lv
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
