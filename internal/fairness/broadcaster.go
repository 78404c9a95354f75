package fairness

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// Broadcaster pushes new reports to subscribed admin websocket clients.
type Broadcaster struct {
	mu          sync.Mutex
	connections map[*websocket.Conn]bool
	logger      *slog.Logger
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		connections: make(map[*websocket.Conn]bool),
		logger:      logger,
	}
}

// Subscribe registers a websocket connection.
func (b *Broadcaster) Subscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[conn] = true
}

// Unsubscribe removes a websocket connection.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, conn)
}

// Publish sends a report to every subscriber. Writes are serialized since a
// websocket connection supports one concurrent writer.
func (b *Broadcaster) Publish(r *Report) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.connections) == 0 {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		b.logger.Error("failed to marshal fairness report", "error", err)
		return
	}
	for conn := range b.connections {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// The reader loop of the handler cleans up the connection.
			b.logger.Warn("failed to send fairness report to websocket client",
				"report_id", r.ID,
				"error", err)
		}
	}
}

// ConnectionCount returns the number of subscribers.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.connections)
}
