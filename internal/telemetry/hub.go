// Package telemetry is the Telemetry Fan-out: a broadcast hub that
// serves the Frame stream to subscribed consumers over a server-side
// websocket, and the consumer-side jitter buffer that reassembles gsid
// order under wire reordering. Grounded on the teacher's reporter.go for
// the publish-per-tick shape of a reporting service and on the pack's
// gorilla/websocket trade-updates client for the wire idiom, inverted
// here into a server (websocket.Upgrader) since the operator interface is
// a browser client rather than another service.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/metrics"
)

// subscriberQueueDepth bounds each consumer's outbound buffer. The core
// never back-pressures on telemetry: a full queue means that consumer
// drops frames rather than slowing the broadcaster.
const subscriberQueueDepth = 64

type subscriber struct {
	id   string
	outQ chan domain.Frame
}

// Hub owns the broadcast queue: one send fans out to every subscriber's
// own bounded channel. It is the single writer of the subscriber set.
type Hub struct {
	log zerolog.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]*subscriber
	next uint64
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[string]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast fans f out to every current subscriber, dropping at any
// subscriber whose queue is full and counting the drop.
func (h *Hub) Broadcast(f domain.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.outQ <- f:
		default:
			metrics.TelemetryDropped.WithLabelValues(id).Inc()
		}
	}
}

// ServeHTTP upgrades the connection and streams Frames to it until the
// client disconnects or the write side errors.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("telemetry upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.addSubscriber()
	defer h.removeSubscriber(sub.id)

	for f := range sub.outQ {
		if err := conn.WriteJSON(f); err != nil {
			h.log.Debug().Err(err).Str("subscriber", sub.id).Msg("telemetry write failed, dropping consumer")
			return
		}
	}
}

func (h *Hub) addSubscriber() *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	sub := &subscriber{id: idFor(h.next), outQ: make(chan domain.Frame, subscriberQueueDepth)}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) removeSubscriber(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		close(sub.outQ)
		delete(h.subs, id)
	}
}

// SubscriberCount reports the number of currently connected consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func idFor(n uint64) string {
	return "sub-" + strconv.FormatUint(n, 10)
}
