// Package aim rotates a robot body toward each scan direction through the
// Pollen daemon HTTP API
package aim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
)

// Config holds aim client configuration
type Config struct {
	BaseURL string        // Base URL for the daemon API (e.g., "http://localhost:8000")
	Timeout time.Duration // HTTP request timeout
	Settle  time.Duration // wait after each move before the probe is emitted

	// Body yaw in radians per direction, counter-clockwise from north
	Yaw map[room.Direction]float64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 2 * time.Second,
		Settle:  500 * time.Millisecond,
		Yaw:     DefaultYaw(),
	}
}

// DefaultYaw maps each direction onto a quarter turn of the body
func DefaultYaw() map[room.Direction]float64 {
	return map[room.Direction]float64{
		room.North: 0,
		room.West:  math.Pi / 2,
		room.South: math.Pi,
		room.East:  -math.Pi / 2,
	}
}

// HeadPose is the target head pose
type HeadPose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Target is the body command accepted by /api/move/set_target
type Target struct {
	TargetHeadPose HeadPose   `json:"target_head_pose"`
	TargetAntennas [2]float64 `json:"target_antennas"`
	TargetBodyYaw  float64    `json:"target_body_yaw"`
}

// Client turns the robot body. It implements transducer.Aimer.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	// Stats
	moves      atomic.Uint64
	moveErrors atomic.Uint64
}

// NewClient creates a new aim client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Yaw == nil {
		cfg.Yaw = DefaultYaw()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Aim turns the body toward d and waits for it to settle
func (c *Client) Aim(ctx context.Context, d room.Direction) error {
	yaw, ok := c.cfg.Yaw[d]
	if !ok {
		return fmt.Errorf("no yaw configured for %s", d)
	}

	if err := c.SetBodyYaw(ctx, yaw); err != nil {
		return err
	}

	c.logger.Debug("aimed", "direction", d, "yaw", yaw)

	if c.cfg.Settle <= 0 {
		return nil
	}

	timer := time.NewTimer(c.cfg.Settle)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetBodyYaw sends a move command with a neutral head
func (c *Client) SetBodyYaw(ctx context.Context, yaw float64) error {
	data, err := json.Marshal(Target{TargetBodyYaw: yaw})
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}

	url := c.cfg.BaseURL + "/api/move/set_target"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.moveErrors.Add(1)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.moveErrors.Add(1)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	c.moves.Add(1)
	return nil
}

// GetStatus fetches the daemon status
func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	url := c.cfg.BaseURL + "/api/daemon/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return status, nil
}

// StartDaemon starts the robot daemon if not running
func (c *Client) StartDaemon(ctx context.Context) error {
	url := c.cfg.BaseURL + "/api/daemon/start"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Info("daemon started")
	return nil
}

// Stats contains client statistics
type Stats struct {
	Moves      uint64 `json:"moves"`
	MoveErrors uint64 `json:"move_errors"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Moves:      c.moves.Load(),
		MoveErrors: c.moveErrors.Load(),
	}
}

// IsHealthy checks if the daemon is reachable
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	_, err := c.GetStatus(ctx)
	return err == nil
}
