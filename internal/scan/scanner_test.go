package scan

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/sonar"
	"github.com/teslashibe/go-echoroom/internal/transducer"
)

// recordingStore records every update in call order
type recordingStore struct {
	mu      sync.Mutex
	updates []room.Reading
}

func (r *recordingStore) Update(d room.Direction, est sonar.Estimate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, room.Reading{Direction: d, Estimate: est, At: time.Now()})
}

func (r *recordingStore) Updates() []room.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]room.Reading, len(r.updates))
	copy(out, r.updates)
	return out
}

// stubTransducer returns a fixed capture and can be made to hang
type stubTransducer struct {
	mu       sync.Mutex
	echo     sonar.Waveform
	emitErr  error
	emits    int
	captures int

	// when set, Capture blocks on it and ignores ctx
	hang chan struct{}
}

func (s *stubTransducer) Emit(ctx context.Context, w sonar.Waveform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emits++
	return s.emitErr
}

func (s *stubTransducer) Capture(ctx context.Context, d time.Duration) (sonar.Waveform, error) {
	s.mu.Lock()
	s.captures++
	hang := s.hang
	echo := s.echo
	s.mu.Unlock()

	if hang != nil {
		<-hang
	}
	return echo, nil
}

func (s *stubTransducer) Name() string  { return "stub" }
func (s *stubTransducer) Healthy() bool { return true }
func (s *stubTransducer) Close() error  { return nil }

// recordingAimer records aimed directions
type recordingAimer struct {
	mu   sync.Mutex
	aims []room.Direction
	fail map[room.Direction]bool
}

func (a *recordingAimer) Aim(ctx context.Context, d room.Direction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aims = append(a.aims, d)
	if a.fail[d] {
		return errors.New("servo stalled")
	}
	return nil
}

func testProbe(t *testing.T) sonar.Waveform {
	t.Helper()
	probe, err := sonar.GeneratePulse(sonar.DefaultPulseConfig())
	if err != nil {
		t.Fatalf("GeneratePulse: %v", err)
	}
	return probe
}

func newSimScanner(t *testing.T, store Store) (*Scanner, *transducer.Sim) {
	t.Helper()
	sim := transducer.NewSim(transducer.DefaultSimConfig())
	s, err := NewScanner(sim, testProbe(t), store, DefaultScannerConfig(), nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s, sim
}

func TestNewScanner_Validation(t *testing.T) {
	probe := testProbe(t)
	store := &recordingStore{}
	tr := &stubTransducer{}

	tests := []struct {
		name   string
		tr     transducer.Transducer
		probe  sonar.Waveform
		store  Store
		mutate func(*ScannerConfig)
	}{
		{"nil transducer", nil, probe, store, nil},
		{"nil store", tr, probe, nil, nil},
		{"empty probe", tr, sonar.Waveform{SampleRate: 44100}, store, nil},
		{"no directions", tr, probe, store, func(c *ScannerConfig) { c.Directions = nil }},
		{"zero window", tr, probe, store, func(c *ScannerConfig) { c.CaptureWindow = 0 }},
		{"zero speed", tr, probe, store, func(c *ScannerConfig) { c.SpeedOfSound = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScannerConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			if _, err := NewScanner(tt.tr, tt.probe, tt.store, cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScanner_PassOrder(t *testing.T) {
	store := &recordingStore{}
	s, _ := newSimScanner(t, store)
	simCfg := transducer.DefaultSimConfig()

	report := s.Pass(context.Background())

	if report.Failures() != 0 {
		t.Fatalf("expected no failures, got %d", report.Failures())
	}

	updates := store.Updates()
	if len(updates) != len(room.Directions) {
		t.Fatalf("expected %d updates, got %d", len(room.Directions), len(updates))
	}

	for i, u := range updates {
		if u.Direction != room.Directions[i] {
			t.Errorf("update %d: expected %s, got %s", i, room.Directions[i], u.Direction)
		}
		want := simCfg.Distances[u.Direction]
		if math.Abs(u.Estimate.Meters-want) > 0.005 {
			t.Errorf("%s: expected ~%.3fm, got %.4fm", u.Direction, want, u.Estimate.Meters)
		}
	}
}

func TestScanner_CustomOrder(t *testing.T) {
	store := &recordingStore{}
	sim := transducer.NewSim(transducer.DefaultSimConfig())

	cfg := DefaultScannerConfig()
	cfg.Directions = []room.Direction{room.West, room.East, room.South, room.North}

	s, err := NewScanner(sim, testProbe(t), store, cfg, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	s.Pass(context.Background())

	updates := store.Updates()
	for i, u := range updates {
		if u.Direction != cfg.Directions[i] {
			t.Errorf("update %d: expected %s, got %s", i, cfg.Directions[i], u.Direction)
		}
	}
}

func TestScanner_FailureIsolation(t *testing.T) {
	state, err := room.NewState(room.Directions, 10)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	s, sim := newSimScanner(t, state)

	sim.SetFault(room.East, transducer.ErrBusy)
	report := s.Pass(context.Background())

	if report.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", report.Failures())
	}
	for _, m := range report.Measurements {
		if m.Direction == room.East {
			if !errors.Is(m.Err, transducer.ErrBusy) {
				t.Errorf("expected ErrBusy for east, got %v", m.Err)
			}
		} else if m.Err != nil {
			t.Errorf("%s: unexpected error %v", m.Direction, m.Err)
		}
	}

	snap := state.Snapshot()
	east, _ := snap.Get(room.East)
	if east.Updates != 0 || east.Estimate != sonar.NoSignal {
		t.Errorf("expected east untouched, got %+v", east)
	}
	for _, d := range []room.Direction{room.North, room.South, room.West} {
		e, _ := snap.Get(d)
		if e.Updates != 1 || !e.Estimate.Echo {
			t.Errorf("%s: expected one echo update, got %+v", d, e)
		}
	}

	// The previous estimate survives a later failure
	sim.ClearFault(room.East)
	s.Pass(context.Background())
	before, _ := state.Snapshot().Get(room.North)

	sim.SetFault(room.North, transducer.ErrUnavailable)
	s.Pass(context.Background())
	after, _ := state.Snapshot().Get(room.North)

	if after.Estimate != before.Estimate || after.Updates != before.Updates {
		t.Errorf("expected north unchanged after failure: before %+v, after %+v", before, after)
	}
}

func TestScanner_TimeoutIgnoringContext(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })

	tr := &stubTransducer{hang: hang}
	store := &recordingStore{}

	cfg := DefaultScannerConfig()
	cfg.Directions = []room.Direction{room.North, room.South}
	cfg.CaptureWindow = 10 * time.Millisecond
	cfg.CallGrace = 20 * time.Millisecond

	s, err := NewScanner(tr, testProbe(t), store, cfg, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	done := make(chan PassReport, 1)
	go func() { done <- s.Pass(context.Background()) }()

	var report PassReport
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not return after capture timeout")
	}

	if report.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", report.Failures())
	}
	for _, m := range report.Measurements {
		if !errors.Is(m.Err, transducer.ErrTimeout) {
			t.Errorf("%s: expected ErrTimeout, got %v", m.Direction, m.Err)
		}
		if !transducer.IsHardware(m.Err) {
			t.Errorf("%s: expected hardware error", m.Direction)
		}
	}
	if len(store.Updates()) != 0 {
		t.Error("expected no updates after timeouts")
	}
}

func TestScanner_EmitError(t *testing.T) {
	tr := &stubTransducer{emitErr: transducer.ErrUnavailable}
	store := &recordingStore{}

	s, err := NewScanner(tr, testProbe(t), store, DefaultScannerConfig(), nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	report := s.Pass(context.Background())
	if report.Failures() != len(room.Directions) {
		t.Errorf("expected every direction to fail, got %d", report.Failures())
	}
	if tr.captures != 0 {
		t.Errorf("expected no captures after failed emits, got %d", tr.captures)
	}
}

func TestScanner_RateMismatch(t *testing.T) {
	tr := &stubTransducer{echo: sonar.Waveform{Samples: make([]float64, 100), SampleRate: 48000}}
	store := &recordingStore{}

	s, err := NewScanner(tr, testProbe(t), store, DefaultScannerConfig(), nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	report := s.Pass(context.Background())
	for _, m := range report.Measurements {
		if !errors.Is(m.Err, sonar.ErrRateMismatch) {
			t.Errorf("%s: expected ErrRateMismatch, got %v", m.Direction, m.Err)
		}
	}
	if len(store.Updates()) != 0 {
		t.Error("expected no updates")
	}
}

func TestScanner_ExternalAimer(t *testing.T) {
	store := &recordingStore{}
	sim := transducer.NewSim(transducer.DefaultSimConfig())
	aimer := &recordingAimer{fail: map[room.Direction]bool{room.South: true}}

	s, err := NewScanner(sim, testProbe(t), store, DefaultScannerConfig(), nil, aimer)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	report := s.Pass(context.Background())

	if len(aimer.aims) != len(room.Directions) {
		t.Fatalf("expected %d aims, got %d", len(room.Directions), len(aimer.aims))
	}
	for i, d := range aimer.aims {
		if d != room.Directions[i] {
			t.Errorf("aim %d: expected %s, got %s", i, room.Directions[i], d)
		}
	}

	// Sim implements Aimer itself and is aimed before the external aimer
	if sim.Aims() != uint64(len(room.Directions)) {
		t.Errorf("expected sim aimed %d times, got %d", len(room.Directions), sim.Aims())
	}

	if report.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", report.Failures())
	}
	if len(store.Updates()) != 3 {
		t.Errorf("expected 3 updates, got %d", len(store.Updates()))
	}
}

func TestScanner_Directions(t *testing.T) {
	s, _ := newSimScanner(t, &recordingStore{})

	dirs := s.Directions()
	dirs[0] = room.West

	if s.Directions()[0] != room.North {
		t.Error("Directions should return a copy")
	}
}
