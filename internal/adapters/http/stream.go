package http

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/internal/ports"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 512
)

// StreamMessage is one frame sent to a stream client
type StreamMessage struct {
	Type     string           `json:"type"`
	ClientID string           `json:"client_id"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
}

// SnapshotBroadcaster pushes every published snapshot to WebSocket clients.
// A client that falls behind only ever receives the newest snapshot.
type SnapshotBroadcaster struct {
	snapshots    ports.SnapshotReader
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	recorder     *metrics.Recorder
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]struct{}
}

// NewSnapshotBroadcaster creates a new broadcaster. recorder may be nil.
func NewSnapshotBroadcaster(
	snapshots ports.SnapshotReader,
	allowedOrigins []string,
	pingInterval time.Duration,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *SnapshotBroadcaster {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")

	return &SnapshotBroadcaster{
		snapshots: snapshots,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		pingInterval: pingInterval,
		recorder:     recorder,
		logger:       logger.With("component", "snapshot_stream"),
		clients:      make(map[uuid.UUID]struct{}),
	}
}

// ServeHTTP upgrades the connection and streams snapshots until the client
// goes away
func (b *SnapshotBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.New()
	b.register(id)
	defer b.unregister(id)

	updates, cancel := b.snapshots.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go b.readLoop(conn, done)

	if snap, err := b.snapshots.Current(); err == nil {
		if err := b.send(conn, StreamMessage{Type: "snapshot", ClientID: id.String(), Snapshot: snap}); err != nil {
			return
		}
	} else {
		if err := b.send(conn, StreamMessage{Type: "pending", ClientID: id.String()}); err != nil {
			return
		}
	}

	ping := time.NewTicker(b.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return

		case <-r.Context().Done():
			return

		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := b.send(conn, StreamMessage{Type: "snapshot", ClientID: id.String(), Snapshot: snap}); err != nil {
				b.logger.Debug("stream write failed", "client_id", id, "error", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients
func (b *SnapshotBroadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// readLoop drains client frames so pongs and close frames are processed
func (b *SnapshotBroadcaster) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxInboundSize)
	deadline := 2 * b.pingInterval
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *SnapshotBroadcaster) send(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (b *SnapshotBroadcaster) register(id uuid.UUID) {
	b.mu.Lock()
	b.clients[id] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()

	b.logger.Info("stream client connected", "client_id", id, "clients", n)
	if b.recorder != nil {
		b.recorder.SetStreamClients(n)
	}
}

func (b *SnapshotBroadcaster) unregister(id uuid.UUID) {
	b.mu.Lock()
	delete(b.clients, id)
	n := len(b.clients)
	b.mu.Unlock()

	b.logger.Info("stream client disconnected", "client_id", id, "clients", n)
	if b.recorder != nil {
		b.recorder.SetStreamClients(n)
	}
}
