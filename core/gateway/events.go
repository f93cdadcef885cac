package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/modelmux/modelmux/core/infra/logging"
	"github.com/modelmux/modelmux/core/workflow"
)

const (
	hubBacklog    = 256
	clientBacklog = 100
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventHub fans workflow events out to connected websocket clients.
// Publish never blocks the caller: the hub drops events when its own
// backlog is full, and a client that cannot drain its buffer is
// evicted rather than stalling the broadcast loop.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan workflow.Event

	events chan workflow.Event
	stop   chan struct{}
	once   sync.Once
}

func NewEventHub() *EventHub {
	h := &EventHub{
		clients: make(map[*websocket.Conn]chan workflow.Event),
		events:  make(chan workflow.Event, hubBacklog),
		stop:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Publish queues an event for broadcast. Safe to call on a nil hub.
func (h *EventHub) Publish(evt workflow.Event) {
	if h == nil {
		return
	}
	select {
	case h.events <- evt:
	default:
	}
}

func (h *EventHub) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
}

func (h *EventHub) run() {
	for {
		select {
		case evt := <-h.events:
			h.broadcast(evt)
		case <-h.stop:
			return
		}
	}
}

func (h *EventHub) broadcast(evt workflow.Event) {
	var slow []*websocket.Conn
	h.mu.RLock()
	for conn, ch := range h.clients {
		select {
		case ch <- evt:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	// Closing a channel is only safe after its map entry is gone;
	// sends happen under the read lock, which the delete excludes.
	chans := make([]chan workflow.Event, 0, len(slow))
	h.mu.Lock()
	for _, conn := range slow {
		if ch, ok := h.clients[conn]; ok {
			chans = append(chans, ch)
		}
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
	for _, conn := range slow {
		logging.Warn("gateway", "evicting slow websocket client", "remote", conn.RemoteAddr().String())
		if err := conn.Close(); err != nil {
			logging.Debug("gateway", "ws client close failed", "error", err)
		}
	}
}

func (h *EventHub) add(conn *websocket.Conn) chan workflow.Event {
	ch := make(chan workflow.Event, clientBacklog)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

// remove detaches the client and closes its channel. Closing after the
// map delete is safe: broadcast only sends while holding the read lock,
// which the delete excludes.
func (h *EventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *EventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleEvents upgrades the connection and streams every workflow event
// as a JSON text message until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer func() { _ = ws.Close() }()
	logging.Info("gateway", "ws client connected", "remote", r.RemoteAddr)

	ch := s.hub.add(ws)
	defer s.hub.remove(ws)

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				logging.Error("gateway", "event marshal failed", "error", err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
