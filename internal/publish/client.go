// Package publish pushes room snapshots to a remote dashboard over WebSocket
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-echoroom/internal/protocol"
	"github.com/teslashibe/go-echoroom/internal/room"
)

// ErrNotConnected is returned when sending without a live connection
var ErrNotConnected = errors.New("not connected")

// Config holds publisher configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://dashboard.local:8080/ws/room")
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Source provides snapshots and change notifications
type Source interface {
	Snapshot() room.Snapshot
	Subscribe() chan room.Snapshot
	Unsubscribe(ch chan room.Snapshot)
}

// Client keeps a connection to the dashboard and sends a room message for
// every snapshot change
type Client struct {
	cfg    Config
	source Source
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	statsFn   func() any

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	wg sync.WaitGroup

	// Stats
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	reconnects       atomic.Uint64
	refreshes        atomic.Uint64
}

// NewClient creates a new publisher
func NewClient(cfg Config, source Source, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	// Zero durations would spin the reconnect loop or expire every write
	def := DefaultConfig()
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	}
	if cfg.MaxBackoff < cfg.ReconnectBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.ReconnectBackoff)
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	return &Client{
		cfg:    cfg,
		source: source,
		logger: logger,
	}
}

// OnGetStats sets the function answering get_stats requests
func (c *Client) OnGetStats(fn func() any) {
	c.mu.Lock()
	c.statsFn = fn
	c.mu.Unlock()
}

// Start connects in the background and begins forwarding snapshots
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("publish url is required")
	}
	if c.source == nil {
		return errors.New("snapshot source is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	updates := c.source.Subscribe()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.connectionLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		defer c.source.Unsubscribe(updates)
		c.forward(ctx, updates)
	}()

	return nil
}

// forward sends each snapshot change while connected
func (c *Client) forward(ctx context.Context, updates chan room.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := c.SendSnapshot(snap); err != nil && !errors.Is(err, ErrNotConnected) {
				c.logger.Debug("snapshot not sent", "version", snap.Version, "error", err)
			}
		}
	}
}

// connectionLoop manages connection with auto-reconnect
func (c *Client) connectionLoop(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("publish connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			// Exponential backoff
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			c.reconnects.Add(1)
			continue
		}

		// Reset backoff on successful connection
		backoff = c.cfg.ReconnectBackoff

		// The dashboard gets the current state right away
		if err := c.SendSnapshot(c.source.Snapshot()); err != nil {
			c.logger.Debug("initial snapshot not sent", "error", err)
		}

		// Read messages until error
		c.readLoop(ctx)
	}
}

// connect establishes the WebSocket connection
func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("connecting to dashboard", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to dashboard")

	go c.pingLoop(ctx, conn)

	return nil
}

// pingLoop sends periodic pings on conn until it is replaced or closed
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if c.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()

			if current != conn {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop reads messages from the dashboard
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("read error", "error", err)
			}
			c.closeConnection()
			return
		}

		c.messagesReceived.Add(1)
		c.handleMessage(data)
	}
}

// handleMessage processes incoming messages
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("parse message error", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		pong := &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()}
		c.SendMessage(pong)

	case protocol.TypeRefresh:
		c.refreshes.Add(1)
		if err := c.SendSnapshot(c.source.Snapshot()); err != nil {
			c.logger.Debug("refresh failed", "error", err)
		}

	case protocol.TypeGetStats:
		c.mu.Lock()
		fn := c.statsFn
		c.mu.Unlock()

		var stats any = c.GetStats()
		if fn != nil {
			stats = fn()
		}
		if reply, err := protocol.NewMessage(protocol.TypeStats, stats); err == nil {
			c.SendMessage(reply)
		}

	case protocol.TypePong:
		// keepalive reply

	default:
		c.logger.Debug("ignoring message", "type", msg.Type)
	}
}

// SendSnapshot sends a room message
func (c *Client) SendSnapshot(snap room.Snapshot) error {
	msg, err := protocol.NewRoomMessage(snap)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendMessage sends a message to the dashboard
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("send error", "error", err)
		c.closeConnection()
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// closeConnection closes the WebSocket connection
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts down the publisher and waits for its goroutines
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Unblocks a pending ReadMessage
	c.closeConnection()
	c.wg.Wait()
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats contains publisher statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Reconnects       uint64 `json:"reconnects"`
	Refreshes        uint64 `json:"refreshes"`
}

// GetStats returns publisher statistics
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	return Stats{
		Connected:        connected,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Reconnects:       c.reconnects.Load(),
		Refreshes:        c.refreshes.Load(),
	}
}
