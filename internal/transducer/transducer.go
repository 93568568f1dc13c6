// Package transducer wraps the speaker/microphone pair used to emit probes
// and record echoes
package transducer

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/sonar"
)

// Hardware I/O errors. Callers treat all of them the same way: the
// measurement is dropped and the previous estimate is kept.
var (
	ErrUnavailable = errors.New("audio device unavailable")
	ErrBusy        = errors.New("audio device busy")
	ErrTimeout     = errors.New("audio call timed out")
	ErrClosed      = errors.New("transducer closed")
)

// IsHardware reports whether err is a hardware I/O error
func IsHardware(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrClosed)
}

// Transducer plays probes and records echoes on a single audio channel.
// Emit and Capture are sequential blocking calls; implementations do not
// need to support full duplex.
type Transducer interface {
	// Emit plays the waveform and returns once playback has completed
	Emit(ctx context.Context, w sonar.Waveform) error

	// Capture records for d and returns the samples at the probe rate
	Capture(ctx context.Context, d time.Duration) (sonar.Waveform, error)

	// Name returns the backend name
	Name() string

	// Healthy returns true if the device is operational
	Healthy() bool

	// Close releases device resources
	Close() error
}

// Aimer points the emitter toward a direction before a measurement
type Aimer interface {
	Aim(ctx context.Context, d room.Direction) error
}

// Stats contains transducer statistics
type Stats struct {
	Emits         uint64 `json:"emits"`
	Captures      uint64 `json:"captures"`
	EmitErrors    uint64 `json:"emit_errors"`
	CaptureErrors uint64 `json:"capture_errors"`
}

// StatsProvider is implemented by transducers that keep counters
type StatsProvider interface {
	Stats() Stats
}

// ctxErr maps a context failure onto the hardware error taxonomy
func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
