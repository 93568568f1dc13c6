package transducer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/sonar"
)

func testProbe(t *testing.T) sonar.Waveform {
	t.Helper()
	w, err := sonar.GeneratePulse(sonar.DefaultPulseConfig())
	if err != nil {
		t.Fatalf("GeneratePulse: %v", err)
	}
	return w
}

// measure runs one aim/emit/capture/estimate sequence against the sim
func measure(t *testing.T, s *Sim, d room.Direction, probe sonar.Waveform) sonar.Estimate {
	t.Helper()
	ctx := context.Background()

	if err := s.Aim(ctx, d); err != nil {
		t.Fatalf("Aim: %v", err)
	}
	if err := s.Emit(ctx, probe); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	echo, err := s.Capture(ctx, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	est, err := sonar.EstimateDistance(probe, echo, 343.0)
	if err != nil {
		t.Fatalf("EstimateDistance: %v", err)
	}
	return est
}

func TestSim_Basic(t *testing.T) {
	s := NewSim(DefaultSimConfig())

	if s.Name() != "sim" {
		t.Errorf("expected name 'sim', got %s", s.Name())
	}
	if !s.Healthy() {
		t.Error("expected sim to be healthy")
	}
}

func TestSim_EchoPerDirection(t *testing.T) {
	cfg := DefaultSimConfig()
	s := NewSim(cfg)
	probe := testProbe(t)

	// One sample of lag is ~3.9mm of range
	const tolerance = 0.005

	for _, d := range room.Directions {
		est := measure(t, s, d, probe)
		want := cfg.Distances[d]

		if !est.Echo {
			t.Errorf("%s: expected echo", d)
		}
		if math.Abs(est.Meters-want) > tolerance {
			t.Errorf("%s: expected ~%.3fm, got %.4fm", d, want, est.Meters)
		}
	}

	if s.Aims() != 4 {
		t.Errorf("expected 4 aims, got %d", s.Aims())
	}
	stats := s.Stats()
	if stats.Emits != 4 || stats.Captures != 4 {
		t.Errorf("expected 4 emits and captures, got %+v", stats)
	}
}

func TestSim_SetDistance(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	probe := testProbe(t)

	s.SetDistance(room.East, 3.0)
	est := measure(t, s, room.East, probe)

	if math.Abs(est.Meters-3.0) > 0.005 {
		t.Errorf("expected ~3.0m, got %.4fm", est.Meters)
	}
}

func TestSim_NoWall(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Distances = map[room.Direction]float64{}
	s := NewSim(cfg)

	est := measure(t, s, room.North, testProbe(t))
	if est != sonar.NoSignal {
		t.Errorf("expected no signal for silent capture, got %+v", est)
	}
}

func TestSim_Fault(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	probe := testProbe(t)
	ctx := context.Background()

	s.SetFault(room.West, ErrBusy)

	s.Aim(ctx, room.West)
	if err := s.Emit(ctx, probe); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if _, err := s.Capture(ctx, 10*time.Millisecond); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	// Other directions are unaffected
	s.Aim(ctx, room.North)
	if err := s.Emit(ctx, probe); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	s.ClearFault(room.West)
	s.Aim(ctx, room.West)
	if err := s.Emit(ctx, probe); err != nil {
		t.Errorf("unexpected error after ClearFault: %v", err)
	}
}

func TestSim_RateMismatch(t *testing.T) {
	s := NewSim(DefaultSimConfig())

	w := sonar.Waveform{Samples: make([]float64, 10), SampleRate: 8000}
	if err := s.Emit(context.Background(), w); !errors.Is(err, sonar.ErrRateMismatch) {
		t.Errorf("expected ErrRateMismatch, got %v", err)
	}
}

func TestSim_RealtimeTimeout(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Realtime = true
	s := NewSim(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Capture(ctx, time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestSim_Closed(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	s.Close()

	if s.Healthy() {
		t.Error("expected closed sim to be unhealthy")
	}
	if err := s.Aim(context.Background(), room.North); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Emit(context.Background(), testProbe(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSim_SetHealthy(t *testing.T) {
	s := NewSim(DefaultSimConfig())

	s.SetHealthy(false)
	if s.Healthy() {
		t.Error("expected unhealthy")
	}

	s.SetHealthy(true)
	if !s.Healthy() {
		t.Error("expected healthy")
	}
}
