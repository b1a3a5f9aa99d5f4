// Package websocket streams committed ledger events to websocket clients.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/agentrep/internal/events"
)

const writeWait = 5 * time.Second

// EventStreamer fans events from the bus out to every connected client.
// A client that cannot keep up is disconnected.
type EventStreamer struct {
	bus        *events.Bus
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func NewEventStreamer(bus *events.Bus, logger *slog.Logger) *EventStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStreamer{
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "stream"),
	}
}

// Run subscribes to the bus and serves clients until ctx is done.
func (s *EventStreamer) Run(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return

		case conn := <-s.register:
			s.mu.Lock()
			s.clients[conn] = true
			n := len(s.clients)
			s.mu.Unlock()
			s.logger.Info("[Stream] Client connected", "clients", n)

		case conn := <-s.unregister:
			s.drop(conn)

		case ev, ok := <-sub:
			if !ok {
				s.closeAll()
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *EventStreamer) broadcast(ev *events.CloudEvent) {
	s.mu.RLock()
	var failed []*websocket.Conn
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Warn("[Stream] Write failed", "error", err)
			failed = append(failed, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range failed {
		s.drop(conn)
	}
}

func (s *EventStreamer) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	n := len(s.clients)
	s.mu.Unlock()
	if ok {
		conn.Close()
		s.logger.Info("[Stream] Client disconnected", "clients", n)
	}
}

func (s *EventStreamer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}

// HandleWebSocket upgrades the request and registers the connection. The
// stream is one-way; anything the client sends is discarded.
func (s *EventStreamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("[Stream] Upgrade failed", "error", err)
		return
	}

	select {
	case s.register <- conn:
	case <-s.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case s.unregister <- conn:
			case <-s.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *EventStreamer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
