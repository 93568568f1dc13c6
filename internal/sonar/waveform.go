// Package sonar provides probe synthesis and echo correlation for acoustic ranging
package sonar

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Waveform is a mono sequence of samples in [-1, 1] at a fixed rate.
// Waveforms are treated as immutable once generated or captured.
type Waveform struct {
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
}

// Len returns the number of samples
func (w Waveform) Len() int {
	return len(w.Samples)
}

// Duration returns the playback length of the waveform
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Peak returns the largest absolute sample value
func (w Waveform) Peak() float64 {
	if len(w.Samples) == 0 {
		return 0
	}
	return math.Max(math.Abs(floats.Max(w.Samples)), math.Abs(floats.Min(w.Samples)))
}

// Energy returns the sum of squared samples
func (w Waveform) Energy() float64 {
	return floats.Dot(w.Samples, w.Samples)
}

// SamplesFor converts a duration to a sample count at the given rate, rounding to nearest
func SamplesFor(d time.Duration, sampleRate int) int {
	return int(math.Round(d.Seconds() * float64(sampleRate)))
}
