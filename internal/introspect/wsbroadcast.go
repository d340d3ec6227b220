package introspect

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/logging"
	"github.com/vthunder/pulseloop/internal/orchestrator"
)

// event is the envelope every broadcast message carries.
type event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Broadcaster streams cycle-lifecycle and feedback events to every
// connected dashboard over a websocket, the hub shape
// ui/transports/websocket.WebSocketTransport uses for bidirectional
// chat, reduced here to fan-out only (no inbound messages expected).
type Broadcaster struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan event
}

// NewBroadcaster creates an unstarted broadcaster. Call Wire to attach
// it to an orchestrator's lifecycle hooks, and ServeHTTP to accept
// connections.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan event),
	}
}

// Wire installs this broadcaster's publish calls as the orchestrator's
// cycle-start/cycle-end/feedback hooks. It composes with any hooks
// already set rather than overwriting them.
func (b *Broadcaster) Wire(o *orchestrator.Orchestrator) {
	prevStart, prevEnd, prevFeedback := o.OnCycleStart, o.OnCycleEnd, o.OnFeedback

	o.OnCycleStart = func(c *coretypes.Cycle) {
		if prevStart != nil {
			prevStart(c)
		}
		b.publish("cycle_started", c)
	}
	o.OnCycleEnd = func(c *coretypes.Cycle) {
		if prevEnd != nil {
			prevEnd(c)
		}
		b.publish("cycle_completed", c)
	}
	o.OnFeedback = func(s *coretypes.FeedbackSignal) {
		if prevFeedback != nil {
			prevFeedback(s)
		}
		b.publish("feedback_signal", s)
	}
}

func (b *Broadcaster) publish(kind string, data any) {
	msg := event{Type: kind, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.clients {
		select {
		case ch <- msg:
		default:
			logging.Debug("introspect", "dropped %s event for a slow websocket client", kind)
		}
	}
}

// ServeHTTP upgrades the connection and streams events to it until the
// client disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("introspect", "websocket upgrade failed: %v", err)
		return
	}

	ch := make(chan event, 64)
	b.mu.Lock()
	b.clients[conn] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	for msg := range ch {
		data, err := json.Marshal(msg)
		if err != nil {
			logging.Warn("introspect", "failed to marshal %s event: %v", msg.Type, err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// ClientCount reports how many websocket clients are currently connected.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
