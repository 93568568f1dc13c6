// Package server provides the HTTP API and dashboard stream for go-echoroom
package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-echoroom/internal/config"
	"github.com/teslashibe/go-echoroom/internal/export"
	"github.com/teslashibe/go-echoroom/internal/health"
	"github.com/teslashibe/go-echoroom/internal/protocol"
	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/scan"
	"github.com/teslashibe/go-echoroom/internal/transducer"
)

// Deps are the components the server reads from
type Deps struct {
	State      *room.State
	Scheduler  *scan.Scheduler       // optional
	Transducer transducer.Transducer // optional, counters reported via StatsProvider
	Health     *health.Checker       // optional, a bare checker is created if nil
}

// Server is the HTTP server for go-echoroom
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	state     *room.State
	scheduler *scan.Scheduler
	tr        transducer.Transducer
	checker   *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg *config.Config, deps Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	checker := deps.Health
	if checker == nil {
		checker = health.NewChecker(version)
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-echoroom",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		state:     deps.State,
		scheduler: deps.Scheduler,
		tr:        deps.Transducer,
		checker:   checker,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
	s.wsHub = NewWSHub(deps.State, s.stats, logger)

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	api.Get("/room", s.roomHandler)
	r := api.Group("/room")
	r.Get("/outline", s.outlineHandler)
	r.Get("/history", s.historyHandler)
	r.Get("/export", s.exportHandler)
	r.Get("/stream", s.wsHub.UpgradeHandler())

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// requireState guards handlers that need the room state
func (s *Server) requireState(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "room state not available",
	})
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	status := s.checker.GetStatus()

	code := fiber.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// roomHandler returns the current snapshot in wire form
func (s *Server) roomHandler(c *fiber.Ctx) error {
	if s.state == nil {
		return s.requireState(c)
	}
	return c.JSON(protocol.NewRoomData(s.state.Snapshot()))
}

// outlineHandler returns the room rectangle
func (s *Server) outlineHandler(c *fiber.Ctx) error {
	if s.state == nil {
		return s.requireState(c)
	}
	return c.JSON(s.state.Snapshot().Outline())
}

// historyHandler returns the recorded updates, oldest first
func (s *Server) historyHandler(c *fiber.Ctx) error {
	if s.state == nil {
		return s.requireState(c)
	}
	return c.JSON(fiber.Map{
		"readings": s.state.History(),
	})
}

// exportHandler streams the snapshot or history as a CSV or Parquet file
func (s *Server) exportHandler(c *fiber.Ctx) error {
	if s.state == nil {
		return s.requireState(c)
	}

	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	scope, err := export.ParseScope(c.Query("scope"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var rows []export.Row
	if scope == export.ScopeHistory {
		rows = export.RowsFromHistory(s.state.History())
	} else {
		rows = export.RowsFromSnapshot(s.state.Snapshot())
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, rows); err != nil {
		s.logger.Warn("export failed", "format", format, "scope", scope, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	c.Attachment(export.Filename(scope, format, time.Now()))
	c.Set(fiber.HeaderContentType, format.ContentType())
	return c.Send(buf.Bytes())
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	sonar := s.cfg.Sonar
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
		},
		"sonar": fiber.Map{
			"sample_rate":       sonar.SampleRate,
			"pulse_duration_ms": sonar.PulseDuration.Milliseconds(),
			"pulse_frequency":   sonar.PulseFrequency,
			"amplitude":         sonar.Amplitude,
			"capture_window_ms": sonar.CaptureWindow.Milliseconds(),
			"cycle_period_ms":   sonar.CyclePeriod.Milliseconds(),
			"speed_of_sound":    sonar.SpeedOfSound,
			"directions":        sonar.Directions,
		},
		"transducer": fiber.Map{
			"backend": s.cfg.Transducer.Backend,
			"device":  s.cfg.Transducer.Device,
		},
		"aim_enabled":    s.cfg.Aim.Enabled,
		"publish_active": s.cfg.Publish.URL != "",
	})
}

// Stats is the body of /api/stats and the get_stats reply
type Stats struct {
	Scheduler        *scan.Stats       `json:"scheduler,omitempty"`
	Transducer       *transducer.Stats `json:"transducer,omitempty"`
	RoomVersion      uint64            `json:"room_version"`
	Subscribers      int               `json:"subscribers"`
	WebsocketClients int               `json:"websocket_clients"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
}

func (s *Server) stats() any {
	st := Stats{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if s.scheduler != nil {
		sched := s.scheduler.Stats()
		st.Scheduler = &sched
	}
	if ts, ok := s.transducerStats(); ok {
		st.Transducer = &ts
	}
	if s.state != nil {
		st.RoomVersion = s.state.Snapshot().Version
		st.Subscribers = s.state.SubscriberCount()
	}
	if s.wsHub != nil {
		st.WebsocketClients = s.wsHub.ClientCount()
	}
	return st
}

func (s *Server) transducerStats() (transducer.Stats, bool) {
	sp, ok := s.tr.(transducer.StatsProvider)
	if !ok {
		return transducer.Stats{}, false
	}
	return sp.Stats(), true
}

// statsHandler returns scan and stream statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	return c.JSON(s.stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	var b strings.Builder

	if s.state != nil {
		snap := s.state.Snapshot()

		b.WriteString("# HELP echoroom_distance_meters Latest one-way wall distance\n")
		b.WriteString("# TYPE echoroom_distance_meters gauge\n")
		for _, e := range snap.Entries {
			fmt.Fprintf(&b, "echoroom_distance_meters{direction=%q} %f\n", e.Direction.String(), e.Estimate.Meters)
		}

		b.WriteString("\n# HELP echoroom_echo_detected Whether the latest estimate found an echo (1=yes, 0=no)\n")
		b.WriteString("# TYPE echoroom_echo_detected gauge\n")
		for _, e := range snap.Entries {
			fmt.Fprintf(&b, "echoroom_echo_detected{direction=%q} %d\n", e.Direction.String(), boolToInt(e.Estimate.Echo))
		}

		b.WriteString("\n# HELP echoroom_direction_updates_total Estimates recorded per direction\n")
		b.WriteString("# TYPE echoroom_direction_updates_total counter\n")
		for _, e := range snap.Entries {
			fmt.Fprintf(&b, "echoroom_direction_updates_total{direction=%q} %d\n", e.Direction.String(), e.Updates)
		}

		fmt.Fprintf(&b, "\n# HELP echoroom_room_version Room snapshot version\n# TYPE echoroom_room_version counter\nechoroom_room_version %d\n", snap.Version)
	}

	if s.scheduler != nil {
		st := s.scheduler.Stats()
		fmt.Fprintf(&b, `
# HELP echoroom_scan_cycles_total Completed scan passes
# TYPE echoroom_scan_cycles_total counter
echoroom_scan_cycles_total %d

# HELP echoroom_measurements_total Successful direction measurements
# TYPE echoroom_measurements_total counter
echoroom_measurements_total %d

# HELP echoroom_measurement_failures_total Failed direction measurements
# TYPE echoroom_measurement_failures_total counter
echoroom_measurement_failures_total %d

# HELP echoroom_last_cycle_duration_ms Duration of the last scan pass in milliseconds
# TYPE echoroom_last_cycle_duration_ms gauge
echoroom_last_cycle_duration_ms %d

# HELP echoroom_transducer_healthy Transducer health (1=healthy, 0=unhealthy)
# TYPE echoroom_transducer_healthy gauge
echoroom_transducer_healthy %d
`,
			st.Cycles,
			st.Measurements,
			st.Failures,
			st.LastCycleDurationMs,
			boolToInt(st.TransducerHealthy),
		)
	}

	if ts, ok := s.transducerStats(); ok {
		fmt.Fprintf(&b, `
# HELP echoroom_transducer_calls_total Transducer calls by operation and outcome
# TYPE echoroom_transducer_calls_total counter
echoroom_transducer_calls_total{op="emit",result="ok"} %d
echoroom_transducer_calls_total{op="emit",result="error"} %d
echoroom_transducer_calls_total{op="capture",result="ok"} %d
echoroom_transducer_calls_total{op="capture",result="error"} %d
`,
			ts.Emits,
			ts.EmitErrors,
			ts.Captures,
			ts.CaptureErrors,
		)
	}

	fmt.Fprintf(&b, `
# HELP echoroom_uptime_seconds Server uptime in seconds
# TYPE echoroom_uptime_seconds gauge
echoroom_uptime_seconds %d

# HELP echoroom_websocket_clients Current WebSocket client count
# TYPE echoroom_websocket_clients gauge
echoroom_websocket_clients %d
`,
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(b.String())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Server.Port, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
