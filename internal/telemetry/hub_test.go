package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/logging"
)

func TestHub_BroadcastReachesConnectedSubscriber(t *testing.T) {
	hub := NewHub(logging.New("test"))
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// give ServeHTTP's goroutine time to register the subscriber
	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	hub.Broadcast(domain.Frame{GSID: 42})

	var got domain.Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.GSID != 42 {
		t.Fatalf("expected gsid 42, got %d", got.GSID)
	}
}

func TestHub_DropsAtFullSubscriberQueue(t *testing.T) {
	hub := NewHub(logging.New("test"))
	sub := hub.addSubscriber()
	defer hub.removeSubscriber(sub.id)

	for i := 0; i < subscriberQueueDepth+5; i++ {
		hub.Broadcast(domain.Frame{GSID: uint64(i)})
	}
	if len(sub.outQ) != subscriberQueueDepth {
		t.Fatalf("expected queue to saturate at %d, got %d", subscriberQueueDepth, len(sub.outQ))
	}
}
