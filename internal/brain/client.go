// Package brain is the Reflex's collaborator client for the cognitive
// service. The Brain itself is out of scope per the spec; this package
// only specifies the request/response contract and timeout semantics of
// the RPC boundary, grounded on the teacher's NATS request/reply idiom
// (nats.Conn.Request) used for the core's other pub/sub traffic.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
)

// ContextRequest is the wire shape of BrainService.get_context's request.
type ContextRequest struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Velocity   float64 `json:"velocity"`
	Jerk       float64 `json:"jerk"`
	Entropy    float64 `json:"entropy"`
	Efficiency float64 `json:"efficiency"`
	HorizonSec int     `json:"horizon_sec"`
}

// contextWire is the wire shape of the response, decoded then converted
// to domain.ContextResponse with a receipt stamp for TTL enforcement.
type contextWire struct {
	Sentiment     float64 `json:"sentiment"`
	NearestRegime string  `json:"nearest_regime"`
	P10           float64 `json:"p10"`
	P50           float64 `json:"p50"`
	P90           float64 `json:"p90"`
	ValidUntilUs  int64   `json:"valid_until_us"`
}

// Client issues bounded-latency context RPCs to the Brain over NATS
// request/reply. It holds no lock across the suspension point: each call
// owns its own context and connection handle.
type Client struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

func NewClient(nc *nats.Conn, subject string, log zerolog.Logger) *Client {
	return &Client{nc: nc, subject: subject, log: log}
}

// GetContext issues a single Brain.get_context call bounded by the
// caller-supplied deadline on ctx. On timeout or transport error it
// returns (nil, nil): the governor treats a nil response as "enter Blind
// Mode" rather than a hard error, and never retries within a cycle.
func (c *Client) GetContext(ctx context.Context, snapshot domain.PhysicsState, horizonSec int) (*domain.ContextResponse, error) {
	req := ContextRequest{
		Symbol:     snapshot.Symbol,
		Price:      snapshot.Price,
		Velocity:   snapshot.Velocity,
		Jerk:       snapshot.Jerk,
		Entropy:    snapshot.Entropy,
		Efficiency: snapshot.Efficiency,
		HorizonSec: horizonSec,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal context request: %w", err)
	}

	start := time.Now()
	msg, err := c.nc.RequestWithContext(ctx, c.subject, payload)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "timeout"
		if err != nats.ErrTimeout && err != context.DeadlineExceeded {
			outcome = "transport_error"
		}
		metrics.BrainLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
		c.log.Warn().Err(err).Str("outcome", outcome).Msg("brain rpc degraded to blind mode")
		return nil, nil
	}

	var wire contextWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		metrics.BrainLatency.WithLabelValues("decode_error").Observe(elapsed.Seconds())
		c.log.Warn().Err(err).Msg("brain response decode failed, degrading to blind mode")
		return nil, nil
	}

	metrics.BrainLatency.WithLabelValues("ok").Observe(elapsed.Seconds())
	return &domain.ContextResponse{
		Sentiment:     wire.Sentiment,
		NearestRegime: wire.NearestRegime,
		ForecastP10:   wire.P10,
		ForecastP50:   wire.P50,
		ForecastP90:   wire.P90,
		ValidUntilUs:  wire.ValidUntilUs,
		ReceivedUs:    time.Now().UnixMicro(),
	}, nil
}
