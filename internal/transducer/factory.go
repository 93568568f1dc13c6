package transducer

import (
	"fmt"
	"log/slog"
	"time"
)

// Backend names
const (
	BackendAuto = "auto"
	BackendALSA = "alsa"
	BackendSim  = "sim"
)

// Config selects and configures a backend
type Config struct {
	Backend string
	ALSA    ALSAConfig
	Sim     SimConfig

	// USB device backing the ALSA card; zero disables the presence check
	USB         USBDeviceID
	USBInterval time.Duration
}

// New creates the configured transducer. "auto" picks ALSA when aplay and
// arecord are installed.
func New(cfg Config, logger *slog.Logger) (Transducer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == "" || backend == BackendAuto {
		backend = detectBackend(cfg.ALSA)
	}

	switch backend {
	case BackendSim:
		return NewSim(cfg.Sim), nil
	case BackendALSA:
		if !CommandsAvailable(cfg.ALSA.PlaybackCmd, cfg.ALSA.CaptureCmd) {
			return nil, fmt.Errorf("%w: %s/%s not found on PATH", ErrUnavailable, cfg.ALSA.PlaybackCmd, cfg.ALSA.CaptureCmd)
		}

		var monitor *USBMonitor
		if !cfg.USB.Zero() {
			m, err := NewUSBMonitor(cfg.USB, cfg.USBInterval, logger)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			monitor = m
		}

		a, err := NewALSA(cfg.ALSA, monitor, logger)
		if err != nil {
			if monitor != nil {
				monitor.Close()
			}
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported transducer backend: %s", backend)
	}
}

// NewWithFallback creates the configured transducer, falling back to the
// simulator when the hardware is unavailable.
// Use this for development when no audio device is attached.
func NewWithFallback(cfg Config, logger *slog.Logger) Transducer {
	if logger == nil {
		logger = slog.Default()
	}

	t, err := New(cfg, logger)
	if err == nil {
		return t
	}

	logger.Warn("using simulated transducer - no hardware available",
		"error", err,
		"hint", "install alsa-utils and check the USB audio device",
	)
	return NewSim(cfg.Sim)
}

func detectBackend(cfg ALSAConfig) string {
	if CommandsAvailable(cfg.PlaybackCmd, cfg.CaptureCmd) {
		return BackendALSA
	}
	return BackendSim
}
