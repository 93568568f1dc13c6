package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-echoroom/internal/protocol"
	"github.com/teslashibe/go-echoroom/internal/room"
)

// WSHub manages dashboard WebSocket connections and broadcasts room
// snapshots when they change
type WSHub struct {
	state   *room.State
	statsFn func() any
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex // per-connection write lock

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(state *room.State, statsFn func() any, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}

	return &WSHub{
		state:   state,
		statsFn: statsFn,
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
		done:    make(chan struct{}),
	}
}

// Run starts the broadcast loop
func (h *WSHub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer close(h.done)

	ticker := time.NewTicker(100 * time.Millisecond) // 10Hz
	defer ticker.Stop()

	var lastVersion uint64

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case <-ticker.C:
			if h.state == nil {
				continue
			}

			snap := h.state.Snapshot()
			if snap.Version == lastVersion {
				continue
			}
			lastVersion = snap.Version

			msg, err := protocol.NewRoomMessage(snap)
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.broadcast(msg)

			h.logger.Debug("room broadcast",
				"version", snap.Version,
				"clients", h.ClientCount(),
			)
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, wmu := range h.clients {
		wmu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		wmu.Unlock()
		if err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// send writes one message to a single client
func (h *WSHub) send(c *websocket.Conn, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}

	h.mu.RLock()
	wmu, ok := h.clients[c]
	h.mu.RUnlock()
	if !ok {
		return
	}

	wmu.Lock()
	defer wmu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	// Middleware to check if request is a WebSocket upgrade
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive room updates",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// New clients get the current room right away
	h.sendSnapshot(c)

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(c, msg)
	}
}

func (h *WSHub) sendSnapshot(c *websocket.Conn) {
	if h.state == nil {
		return
	}
	if msg, err := protocol.NewRoomMessage(h.state.Snapshot()); err == nil {
		h.send(c, msg)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, data []byte) {
	cmd, err := protocol.ParseMessage(data)
	if err != nil {
		if reply, err := protocol.NewErrorMessage("invalid message"); err == nil {
			h.send(c, reply)
		}
		return
	}

	switch cmd.Type {
	case protocol.TypePing:
		if reply, err := protocol.NewMessage(protocol.TypePong, nil); err == nil {
			h.send(c, reply)
		}
	case protocol.TypeGetStats:
		if h.statsFn != nil {
			if reply, err := protocol.NewMessage(protocol.TypeStats, h.statsFn()); err == nil {
				h.send(c, reply)
			}
		}
	case protocol.TypeRefresh:
		h.sendSnapshot(c)
	default:
		if reply, err := protocol.NewErrorMessage("unknown command %q", cmd.Type); err == nil {
			h.send(c, reply)
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.mu.RLock()
	cancel := h.cancel
	h.mu.RUnlock()

	if cancel != nil {
		cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()
}
