package transducer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/sonar"
)

// SimConfig configures the simulated room
type SimConfig struct {
	SampleRate   int
	SpeedOfSound float64
	Distances    map[room.Direction]float64 // one-way wall distance in meters
	Attenuation  float64                    // echo gain relative to the probe
	Realtime     bool                       // sleep for emit/capture durations
}

// DefaultSimConfig returns a 4m x 3m room with the device off-center
func DefaultSimConfig() SimConfig {
	return SimConfig{
		SampleRate:   44100,
		SpeedOfSound: 343.0,
		Distances: map[room.Direction]float64{
			room.North: 1.8,
			room.South: 1.2,
			room.East:  2.5,
			room.West:  1.5,
		},
		Attenuation: 0.2,
	}
}

// Sim is a deterministic transducer for testing and development. Capture
// returns the last emitted probe, attenuated and delayed by the round trip
// to the wall in the aimed direction.
type Sim struct {
	mu        sync.Mutex
	cfg       SimConfig
	distances map[room.Direction]float64
	aim       room.Direction
	last      sonar.Waveform
	faults    map[room.Direction]error
	healthy   bool
	closed    bool

	emits    atomic.Uint64
	captures atomic.Uint64
	aims     atomic.Uint64
}

// NewSim creates a simulated transducer
func NewSim(cfg SimConfig) *Sim {
	distances := make(map[room.Direction]float64, len(cfg.Distances))
	for d, m := range cfg.Distances {
		distances[d] = m
	}

	return &Sim{
		cfg:       cfg,
		distances: distances,
		aim:       room.North,
		faults:    make(map[room.Direction]error),
		healthy:   true,
	}
}

// Aim selects the wall the next capture echoes from
func (s *Sim) Aim(ctx context.Context, d room.Direction) error {
	if err := ctx.Err(); err != nil {
		return ctxErr(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.aim = d
	s.aims.Add(1)
	return nil
}

// Emit records the probe for the next capture
func (s *Sim) Emit(ctx context.Context, w sonar.Waveform) error {
	s.mu.Lock()
	if err := s.failLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if w.SampleRate != s.cfg.SampleRate {
		s.mu.Unlock()
		return fmt.Errorf("%w: waveform %d Hz, device %d Hz", sonar.ErrRateMismatch, w.SampleRate, s.cfg.SampleRate)
	}
	s.last = w
	realtime := s.cfg.Realtime
	s.mu.Unlock()

	if realtime {
		if err := sleepCtx(ctx, w.Duration()); err != nil {
			return err
		}
	}

	s.emits.Add(1)
	return nil
}

// Capture synthesizes the echo from the aimed wall
func (s *Sim) Capture(ctx context.Context, d time.Duration) (sonar.Waveform, error) {
	s.mu.Lock()
	if err := s.failLocked(); err != nil {
		s.mu.Unlock()
		return sonar.Waveform{}, err
	}

	n := sonar.SamplesFor(d, s.cfg.SampleRate)
	samples := make([]float64, n)

	if meters, ok := s.distances[s.aim]; ok && meters > 0 {
		lag := sonar.LagForDistance(meters, s.cfg.SampleRate, s.cfg.SpeedOfSound)
		for i, v := range s.last.Samples {
			j := i + lag
			if j >= n {
				break
			}
			samples[j] = s.cfg.Attenuation * v
		}
	}
	realtime := s.cfg.Realtime
	s.mu.Unlock()

	if realtime {
		if err := sleepCtx(ctx, d); err != nil {
			return sonar.Waveform{}, err
		}
	}

	s.captures.Add(1)
	return sonar.Waveform{Samples: samples, SampleRate: s.cfg.SampleRate}, nil
}

func (s *Sim) failLocked() error {
	if s.closed {
		return ErrClosed
	}
	if err, ok := s.faults[s.aim]; ok {
		return fmt.Errorf("%s: %w", s.aim, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctxErr(ctx.Err())
	}
}

// SetDistance moves the wall in direction d
func (s *Sim) SetDistance(d room.Direction, meters float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distances[d] = meters
}

// SetFault makes every call aimed at d fail with err (e.g. ErrBusy)
func (s *Sim) SetFault(d room.Direction, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[d] = err
}

// ClearFault removes an injected fault
func (s *Sim) ClearFault(d room.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, d)
}

// SetHealthy sets the reported health state
func (s *Sim) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// Name returns the backend name
func (s *Sim) Name() string {
	return "sim"
}

// Healthy returns the configured health state
func (s *Sim) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// Stats returns call counters
func (s *Sim) Stats() Stats {
	return Stats{
		Emits:    s.emits.Load(),
		Captures: s.captures.Load(),
	}
}

// Aims returns how many times Aim succeeded
func (s *Sim) Aims() uint64 {
	return s.aims.Load()
}

// Close releases resources
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
