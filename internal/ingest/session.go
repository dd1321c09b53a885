// Package ingest owns the Ingest Adapter: a persistent venue websocket
// session that parses raw trade prints into domain.Tick and forwards them
// to the Physics Engine over a bounded, drop-oldest channel, plus the
// account/order reconciliation poll that detects drift against the
// Execution Adapter's local ledger. Grounded on the teacher's
// feed_handler.go for the NATS-publish/reconnect shape of a market-data
// producer and on the pack's gorilla/websocket trade-updates client for
// the dial/auth/read-loop idiom of a real venue stream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
)

// wireTrade is the venue's trade-print wire shape. Real venues vary this
// considerably; the session's parse step is the only place that would
// need to change to point at a different venue.
type wireTrade struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Side      string  `json:"side"`
	TsMicros  int64   `json:"ts_us"`
}

// Session streams ticks for one symbol from a venue websocket endpoint
// into a bounded output channel. One Session per symbol; the Physics
// Engine reads from Ticks().
type Session struct {
	log        zerolog.Logger
	url        string
	symbol     string
	backoff    time.Duration
	staleAfter time.Duration

	out chan domain.Tick

	lastTickUs int64
}

// New builds a Session for symbol against url. queueDepth bounds the
// output channel; backoffSec is the reconnect delay after any read/dial
// failure; staleSec is the silence after which Stale reports the feed
// stale.
func New(log zerolog.Logger, url, symbol string, queueDepth int, backoffSec, staleSec int) *Session {
	return &Session{
		log:        log.With().Str("symbol", symbol).Logger(),
		url:        url,
		symbol:     symbol,
		backoff:    time.Duration(backoffSec) * time.Second,
		staleAfter: time.Duration(staleSec) * time.Second,
		out:        make(chan domain.Tick, queueDepth),
	}
}

// Ticks returns the channel the Physics Engine should consume from.
func (s *Session) Ticks() <-chan domain.Tick {
	return s.out
}

// LastTickUs returns the wall-clock (receipt) timestamp of the most
// recently forwarded tick, for the 60s stale-feed halt check.
func (s *Session) LastTickUs() int64 {
	return s.lastTickUs
}

// Run dials the venue and streams until ctx is cancelled, reconnecting
// with a fixed backoff on any dial or read error. It never returns except
// on ctx cancellation; callers run it in its own goroutine.
func (s *Session) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runOnce(ctx); err != nil {
			s.log.Warn().Err(err).Dur("backoff", s.backoff).Msg("ingest session disconnected, reconnecting")
			metrics.FeedReconnects.WithLabelValues(s.symbol).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{"action": "subscribe", "symbol": s.symbol}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			select {
			case <-done:
				return ctx.Err()
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(raw)
	}
}

func (s *Session) handleMessage(raw json.RawMessage) {
	var wire wireTrade
	if err := json.Unmarshal(raw, &wire); err != nil {
		metrics.TicksDropped.WithLabelValues(s.symbol, "parse_error").Inc()
		return
	}
	if wire.Symbol == "" || wire.Price <= 0 {
		metrics.TicksDropped.WithLabelValues(s.symbol, "invalid").Inc()
		return
	}

	tick := domain.Tick{
		Symbol:      wire.Symbol,
		TimestampUs: wire.TsMicros,
		Price:       wire.Price,
		Size:        wire.Size,
		Side:        parseSide(wire.Side),
	}
	if tick.TimestampUs == 0 {
		tick.TimestampUs = time.Now().UnixMicro()
	}

	select {
	case s.out <- tick:
		s.lastTickUs = time.Now().UnixMicro()
		metrics.TicksIngested.WithLabelValues(s.symbol).Inc()
	default:
		// Drop-oldest: make room by discarding the stalest queued tick
		// rather than blocking the socket reader.
		select {
		case <-s.out:
			metrics.TicksDropped.WithLabelValues(s.symbol, "queue_full").Inc()
		default:
		}
		select {
		case s.out <- tick:
			s.lastTickUs = time.Now().UnixMicro()
			metrics.TicksIngested.WithLabelValues(s.symbol).Inc()
		default:
			metrics.TicksDropped.WithLabelValues(s.symbol, "queue_full").Inc()
		}
	}
}

func parseSide(s string) domain.Side {
	switch s {
	case "buy":
		return domain.SideBuy
	case "sell":
		return domain.SideSell
	default:
		return domain.SideUnknown
	}
}

// Stale reports whether the feed has gone silent for longer than
// staleAfter as of now. A session that has not yet forwarded a tick is
// never stale.
func (s *Session) Stale(nowUs int64) bool {
	if s.lastTickUs == 0 {
		return false
	}
	return time.Duration(nowUs-s.lastTickUs)*time.Microsecond > s.staleAfter
}
