// Package websocket streams decision events to dashboard clients.
package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/uaal/internal/events"
)

const writeWait = 5 * time.Second

// DecisionStreamer manages WebSocket connections for live decision updates.
type DecisionStreamer struct {
	bus        *events.EventBus
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *log.Logger
}

// NewDecisionStreamer creates a streamer fed by bus.
func NewDecisionStreamer(bus *events.EventBus) *DecisionStreamer {
	return &DecisionStreamer{
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboard is served from another origin in development
			},
		},
		logger: log.New(log.Writer(), "[STREAM] ", log.LstdFlags),
	}
}

// Run forwards bus events to connected clients until ctx is done.
func (ds *DecisionStreamer) Run(ctx context.Context) {
	feed := ds.bus.Subscribe()
	defer ds.bus.Unsubscribe(feed)
	defer close(ds.done)

	for {
		select {
		case <-ctx.Done():
			ds.mu.Lock()
			for client := range ds.clients {
				client.Close()
				delete(ds.clients, client)
			}
			ds.mu.Unlock()
			return

		case client := <-ds.register:
			ds.mu.Lock()
			ds.clients[client] = true
			n := len(ds.clients)
			ds.mu.Unlock()
			ds.logger.Printf("📡 WebSocket client connected (total: %d)", n)

		case client := <-ds.unregister:
			ds.mu.Lock()
			if _, ok := ds.clients[client]; ok {
				delete(ds.clients, client)
				client.Close()
			}
			n := len(ds.clients)
			ds.mu.Unlock()
			ds.logger.Printf("📡 WebSocket client disconnected (total: %d)", n)

		case event := <-feed:
			ds.broadcast(event)
		}
	}
}

func (ds *DecisionStreamer) broadcast(event *events.CloudEvent) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for client := range ds.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteJSON(event); err != nil {
			ds.logger.Printf("WebSocket write error: %v", err)
			client.Close()
			delete(ds.clients, client)
		}
	}
}

// HandleWebSocket upgrades the request and keeps the connection registered
// until the client goes away.
func (ds *DecisionStreamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ds.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ds.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	select {
	case ds.register <- conn:
	case <-ds.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case ds.unregister <- conn:
			case <-ds.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ClientCount returns the number of connected clients.
func (ds *DecisionStreamer) ClientCount() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.clients)
}
