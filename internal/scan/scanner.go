// Package scan drives the transducer through the configured directions and
// feeds distance estimates into the room state
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/sonar"
	"github.com/teslashibe/go-echoroom/internal/transducer"
)

// ScannerConfig configures a direction scanner
type ScannerConfig struct {
	Directions    []room.Direction
	CaptureWindow time.Duration
	SpeedOfSound  float64 // m/s

	// Slack added to the expected duration of every emit/capture call
	CallGrace time.Duration

	// Upper bound for a single aim call, including any settle delay
	AimTimeout time.Duration
}

// DefaultScannerConfig returns sensible defaults
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Directions:    room.Directions,
		CaptureWindow: 300 * time.Millisecond,
		SpeedOfSound:  343.0,
		CallGrace:     2 * time.Second,
		AimTimeout:    5 * time.Second,
	}
}

// Store receives successful estimates
type Store interface {
	Update(d room.Direction, est sonar.Estimate)
}

// Measurement is the outcome of one direction in a pass
type Measurement struct {
	Direction room.Direction `json:"direction"`
	Estimate  sonar.Estimate `json:"estimate"`
	Duration  time.Duration  `json:"duration"`
	Err       error          `json:"-"`
}

// PassReport summarizes one scan over all directions
type PassReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Measurements []Measurement `json:"measurements"`
}

// Failures returns the number of directions that were not updated
func (r PassReport) Failures() int {
	n := 0
	for _, m := range r.Measurements {
		if m.Err != nil {
			n++
		}
	}
	return n
}

// Scanner measures each direction in order: aim, emit, capture, correlate
type Scanner struct {
	tr     transducer.Transducer
	aimers []transducer.Aimer
	probe  sonar.Waveform
	store  Store
	cfg    ScannerConfig
	logger *slog.Logger
}

// NewScanner creates a scanner. If the transducer implements
// transducer.Aimer it is aimed first, followed by any extra aimers.
func NewScanner(tr transducer.Transducer, probe sonar.Waveform, store Store, cfg ScannerConfig, logger *slog.Logger, aimers ...transducer.Aimer) (*Scanner, error) {
	if tr == nil {
		return nil, errors.New("transducer is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if probe.Len() == 0 || probe.SampleRate <= 0 {
		return nil, errors.New("probe waveform is empty")
	}
	if len(cfg.Directions) == 0 {
		return nil, errors.New("at least one direction is required")
	}
	if cfg.CaptureWindow <= 0 {
		return nil, fmt.Errorf("capture window must be positive, got %v", cfg.CaptureWindow)
	}
	if cfg.SpeedOfSound <= 0 {
		return nil, fmt.Errorf("speed of sound must be positive, got %f", cfg.SpeedOfSound)
	}
	if cfg.CallGrace < 0 {
		cfg.CallGrace = 0
	}
	if cfg.AimTimeout <= 0 {
		cfg.AimTimeout = DefaultScannerConfig().AimTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	var all []transducer.Aimer
	if a, ok := tr.(transducer.Aimer); ok {
		all = append(all, a)
	}
	for _, a := range aimers {
		if a != nil {
			all = append(all, a)
		}
	}

	return &Scanner{
		tr:     tr,
		aimers: all,
		probe:  probe,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Directions returns the scan order
func (s *Scanner) Directions() []room.Direction {
	out := make([]room.Direction, len(s.cfg.Directions))
	copy(out, s.cfg.Directions)
	return out
}

// Pass measures every direction once. A failed direction is logged and
// skipped; its previous estimate stays in the store.
func (s *Scanner) Pass(ctx context.Context) PassReport {
	report := PassReport{
		StartedAt:    time.Now(),
		Measurements: make([]Measurement, 0, len(s.cfg.Directions)),
	}

	for _, d := range s.cfg.Directions {
		start := time.Now()
		est, err := s.measure(ctx, d)

		m := Measurement{
			Direction: d,
			Estimate:  est,
			Duration:  time.Since(start),
			Err:       err,
		}
		report.Measurements = append(report.Measurements, m)

		if err != nil {
			s.logger.Warn("measurement failed",
				"direction", d,
				"hardware", transducer.IsHardware(err),
				"error", err,
			)
			continue
		}

		s.store.Update(d, est)

		s.logger.Debug("measurement",
			"direction", d,
			"meters", est.Meters,
			"lag_samples", est.LagSamples,
			"echo", est.Echo,
			"duration", m.Duration,
		)
	}

	report.Duration = time.Since(report.StartedAt)
	return report
}

func (s *Scanner) measure(ctx context.Context, d room.Direction) (sonar.Estimate, error) {
	for _, a := range s.aimers {
		_, err := bounded(ctx, s.cfg.AimTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.Aim(ctx, d)
		})
		if err != nil {
			return sonar.NoSignal, fmt.Errorf("aim %s: %w", d, err)
		}
	}

	_, err := bounded(ctx, s.probe.Duration()+s.cfg.CallGrace, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.tr.Emit(ctx, s.probe)
	})
	if err != nil {
		return sonar.NoSignal, fmt.Errorf("emit %s: %w", d, err)
	}

	echo, err := bounded(ctx, s.cfg.CaptureWindow+s.cfg.CallGrace, func(ctx context.Context) (sonar.Waveform, error) {
		return s.tr.Capture(ctx, s.cfg.CaptureWindow)
	})
	if err != nil {
		return sonar.NoSignal, fmt.Errorf("capture %s: %w", d, err)
	}

	est, err := sonar.EstimateDistance(s.probe, echo, s.cfg.SpeedOfSound)
	if err != nil {
		return sonar.NoSignal, fmt.Errorf("correlate %s: %w", d, err)
	}
	return est, nil
}

// bounded runs fn under a deadline and stops waiting for it once the
// deadline passes, even if fn ignores its context. An abandoned call keeps
// running in the background until the backend returns.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1) // buffered so an abandoned call can still finish

	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && !errors.Is(r.err, transducer.ErrTimeout) {
			r.err = fmt.Errorf("%w: %v", transducer.ErrTimeout, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %v", transducer.ErrTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}
