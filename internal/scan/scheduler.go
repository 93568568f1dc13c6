package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned by a second call to Run
var ErrAlreadyStarted = errors.New("scheduler already started")

// Scheduler repeats scan passes with a fixed wait between them
type Scheduler struct {
	scanner *Scanner
	period  time.Duration
	logger  *slog.Logger

	mu                sync.RWMutex
	cycles            uint64
	measurements      uint64
	failures          uint64
	lastCycleAt       time.Time
	lastCycleDuration time.Duration
	running           bool
	started           bool
	stopped           bool
	lastReport        PassReport

	// Lifecycle
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler that waits period after each pass
func NewScheduler(scanner *Scanner, period time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if period <= 0 {
		return nil, errors.New("cycle period must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		scanner: scanner,
		period:  period,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Run scans until ctx is cancelled or Stop is called (blocking, use
// goroutine). A pass that has started always completes; cancellation only
// interrupts the wait between passes. Run may be called once; after Stop it
// returns immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.cancel = cancel
	s.running = true
	if s.stopped {
		cancel()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.done)
	}()

	s.logger.Info("scheduler started",
		"period", s.period,
		"directions", len(s.scanner.cfg.Directions),
		"transducer", s.scanner.tr.Name(),
	)

	timer := time.NewTimer(s.period)
	timer.Stop()
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			s.logStopped()
			return err
		}

		report := s.scanner.Pass(context.WithoutCancel(ctx))
		s.record(report)

		timer.Reset(s.period)
		select {
		case <-ctx.Done():
			s.logStopped()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) record(r PassReport) {
	failures := r.Failures()

	s.mu.Lock()
	s.cycles++
	s.measurements += uint64(len(r.Measurements) - failures)
	s.failures += uint64(failures)
	s.lastCycleAt = r.StartedAt
	s.lastCycleDuration = r.Duration
	s.lastReport = r
	cycles := s.cycles
	s.mu.Unlock()

	level := slog.LevelDebug
	if failures > 0 {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "scan cycle complete",
		"cycle", cycles,
		"failures", failures,
		"duration", r.Duration,
	)
}

func (s *Scheduler) logStopped() {
	st := s.Stats()
	s.logger.Info("scheduler stopped",
		"cycles", st.Cycles,
		"failures", st.Failures,
	)
}

// LastReport returns the most recent pass report
func (s *Scheduler) LastReport() PassReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Cycles:              s.cycles,
		Measurements:        s.measurements,
		Failures:            s.failures,
		LastCycleAt:         s.lastCycleAt,
		LastCycleDurationMs: s.lastCycleDuration.Milliseconds(),
		PeriodMs:            s.period.Milliseconds(),
		Running:             s.running,
		TransducerHealthy:   s.scanner.tr.Healthy(),
	}
}

// Stats contains scheduler statistics
type Stats struct {
	Cycles              uint64    `json:"cycles"`
	Measurements        uint64    `json:"measurements"`
	Failures            uint64    `json:"failures"`
	LastCycleAt         time.Time `json:"last_cycle_at"`
	LastCycleDurationMs int64     `json:"last_cycle_duration_ms"`
	PeriodMs            int64     `json:"period_ms"`
	Running             bool      `json:"running"`
	TransducerHealthy   bool      `json:"transducer_healthy"`
}

// Stop cancels the wait and blocks until the loop has exited. A Stop before
// Run makes the later Run return without scanning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-s.done
	}
}
