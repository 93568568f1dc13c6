package sonar

import (
	"fmt"
	"math"
	"time"
)

// ClipCeiling is the full-scale amplitude of the output device.
// Probe amplitudes must stay strictly below it.
const ClipCeiling = 1.0

// PulseConfig describes the probe tone
type PulseConfig struct {
	SampleRate int
	Duration   time.Duration
	Frequency  float64 // Hz
	Amplitude  float64 // fraction of full scale
}

// DefaultPulseConfig returns a 50ms 20kHz tone at half scale
func DefaultPulseConfig() PulseConfig {
	return PulseConfig{
		SampleRate: 44100,
		Duration:   50 * time.Millisecond,
		Frequency:  20000,
		Amplitude:  0.5,
	}
}

// Validate checks the probe parameters
func (c PulseConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("pulse duration must be positive, got %v", c.Duration)
	}
	if c.Frequency <= 0 {
		return fmt.Errorf("pulse frequency must be positive, got %f", c.Frequency)
	}
	if nyquist := float64(c.SampleRate) / 2; c.Frequency >= nyquist {
		return fmt.Errorf("pulse frequency %.0f Hz must be below nyquist %.0f Hz", c.Frequency, nyquist)
	}
	if c.Amplitude <= 0 || c.Amplitude >= ClipCeiling {
		return fmt.Errorf("pulse amplitude must be in (0, %.1f), got %f", ClipCeiling, c.Amplitude)
	}
	if SamplesFor(c.Duration, c.SampleRate) < 1 {
		return fmt.Errorf("pulse duration %v is shorter than one sample", c.Duration)
	}
	return nil
}

// GeneratePulse synthesizes the sine probe described by cfg
func GeneratePulse(cfg PulseConfig) (Waveform, error) {
	if err := cfg.Validate(); err != nil {
		return Waveform{}, err
	}

	n := SamplesFor(cfg.Duration, cfg.SampleRate)
	samples := make([]float64, n)

	step := 2 * math.Pi * cfg.Frequency / float64(cfg.SampleRate)
	for i := range samples {
		samples[i] = cfg.Amplitude * math.Sin(step*float64(i))
	}

	return Waveform{Samples: samples, SampleRate: cfg.SampleRate}, nil
}
