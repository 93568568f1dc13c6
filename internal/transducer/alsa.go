package transducer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-echoroom/internal/sonar"
)

// ALSAConfig configures the aplay/arecord backend
type ALSAConfig struct {
	SampleRate  int    // Sample rate in Hz, must match the probe
	Device      string // ALSA PCM name, e.g. "default" or "plughw:1,0"
	PlaybackCmd string // default "aplay"
	CaptureCmd  string // default "arecord"

	MaxConsecutiveErrors int
}

// DefaultALSAConfig returns sensible defaults
func DefaultALSAConfig() ALSAConfig {
	return ALSAConfig{
		SampleRate:           44100,
		Device:               "default",
		PlaybackCmd:          "aplay",
		CaptureCmd:           "arecord",
		MaxConsecutiveErrors: 3,
	}
}

// ALSA emits and captures through the alsa-utils command line tools as raw
// mono S16_LE PCM
type ALSA struct {
	cfg     ALSAConfig
	logger  *slog.Logger
	monitor *USBMonitor

	// Serializes use of the audio channel
	mu     sync.Mutex
	closed bool

	// Health tracking
	healthMu          sync.Mutex
	consecutiveErrors int
	lastError         error

	emits         atomic.Uint64
	captures      atomic.Uint64
	emitErrors    atomic.Uint64
	captureErrors atomic.Uint64
}

// NewALSA creates an ALSA transducer. monitor may be nil.
func NewALSA(cfg ALSAConfig, monitor *USBMonitor, logger *slog.Logger) (*ALSA, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample_rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultALSAConfig().MaxConsecutiveErrors
	}

	return &ALSA{
		cfg:     cfg,
		logger:  logger,
		monitor: monitor,
	}, nil
}

// Emit plays the waveform and blocks until aplay exits
func (a *ALSA) Emit(ctx context.Context, w sonar.Waveform) error {
	if w.SampleRate != a.cfg.SampleRate {
		return fmt.Errorf("%w: waveform %d Hz, device %d Hz", sonar.ErrRateMismatch, w.SampleRate, a.cfg.SampleRate)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		a.emitErrors.Add(1)
		return err
	}

	// aplay -D <dev> -f S16_LE -r <rate> -c 1 -t raw -q
	cmd := exec.CommandContext(ctx, a.cfg.PlaybackCmd,
		"-D", a.cfg.Device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(a.cfg.SampleRate),
		"-c", "1",
		"-t", "raw",
		"-q",
	)
	cmd.Stdin = bytes.NewReader(EncodePCM16(w.Samples))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		a.emitErrors.Add(1)
		err = a.classify(ctx, err, stderr.String())
		a.recordError(err)
		return fmt.Errorf("playback: %w", err)
	}

	a.emits.Add(1)
	a.recordSuccess()
	return nil
}

// Capture records d worth of samples with arecord
func (a *ALSA) Capture(ctx context.Context, d time.Duration) (sonar.Waveform, error) {
	n := sonar.SamplesFor(d, a.cfg.SampleRate)
	if n <= 0 {
		return sonar.Waveform{}, fmt.Errorf("capture duration %v is shorter than one sample", d)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		a.captureErrors.Add(1)
		return sonar.Waveform{}, err
	}

	// arecord -D <dev> -f S16_LE -r <rate> -c 1 -t raw -q -s <samples>
	cmd := exec.CommandContext(ctx, a.cfg.CaptureCmd,
		"-D", a.cfg.Device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(a.cfg.SampleRate),
		"-c", "1",
		"-t", "raw",
		"-q",
		"-s", strconv.Itoa(n),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		a.captureErrors.Add(1)
		err = a.classify(ctx, err, stderr.String())
		a.recordError(err)
		return sonar.Waveform{}, fmt.Errorf("capture: %w", err)
	}

	samples := DecodePCM16(stdout.Bytes())
	if len(samples) < n {
		// Short read: pad so every capture has the configured length
		samples = append(samples, make([]float64, n-len(samples))...)
	}

	a.captures.Add(1)
	a.recordSuccess()

	return sonar.Waveform{Samples: samples[:n], SampleRate: a.cfg.SampleRate}, nil
}

func (a *ALSA) ready() error {
	if a.closed {
		return ErrClosed
	}
	if a.monitor != nil && !a.monitor.Present() {
		return fmt.Errorf("%w: %s not attached", ErrUnavailable, a.monitor.ID())
	}
	return nil
}

// classify maps an exec failure onto the hardware error taxonomy
func (a *ALSA) classify(ctx context.Context, err error, stderr string) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %v", ctxErr(cerr), cerr)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if strings.Contains(stderr, "busy") {
		return fmt.Errorf("%w: %s", ErrBusy, stderr)
	}
	if stderr != "" {
		return fmt.Errorf("%w: %v: %s", ErrUnavailable, err, stderr)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (a *ALSA) recordError(err error) {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()

	a.consecutiveErrors++
	a.lastError = err

	if a.consecutiveErrors == a.cfg.MaxConsecutiveErrors {
		a.logger.Warn("ALSA transducer marked unhealthy",
			"consecutive_errors", a.consecutiveErrors,
			"last_error", err,
		)
	}
}

func (a *ALSA) recordSuccess() {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()

	if a.consecutiveErrors >= a.cfg.MaxConsecutiveErrors {
		a.logger.Info("ALSA transducer recovered",
			"previous_errors", a.consecutiveErrors,
		)
	}
	a.consecutiveErrors = 0
	a.lastError = nil
}

// Name returns the backend name
func (a *ALSA) Name() string {
	return "alsa"
}

// Healthy returns false after MaxConsecutiveErrors failed calls
func (a *ALSA) Healthy() bool {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()
	return a.consecutiveErrors < a.cfg.MaxConsecutiveErrors
}

// LastError returns the most recent failure, nil after a success
func (a *ALSA) LastError() error {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()
	return a.lastError
}

// Stats returns call counters
func (a *ALSA) Stats() Stats {
	return Stats{
		Emits:         a.emits.Load(),
		Captures:      a.captures.Load(),
		EmitErrors:    a.emitErrors.Load(),
		CaptureErrors: a.captureErrors.Load(),
	}
}

// Close marks the transducer closed and releases the USB monitor
func (a *ALSA) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.monitor != nil {
		return a.monitor.Close()
	}
	return nil
}

// CommandsAvailable reports whether every named command is on PATH
func CommandsAvailable(cmds ...string) bool {
	for _, c := range cmds {
		if _, err := exec.LookPath(c); err != nil {
			return false
		}
	}
	return true
}
