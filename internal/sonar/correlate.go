package sonar

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// ErrRateMismatch is returned when probe and echo were sampled at different rates
var ErrRateMismatch = errors.New("sample rate mismatch")

// silenceFloor is the correlation peak, relative to probe energy, below
// which a capture is treated as containing no signal.
const silenceFloor = 1e-9

// Estimate is a one-way distance measurement. Echo is false when no usable
// peak was found, in which case Meters is zero.
type Estimate struct {
	Meters     float64 `json:"meters"`
	LagSamples int     `json:"lag_samples"`
	Echo       bool    `json:"echo"`
}

// NoSignal is the sentinel estimate for a direction with no detected echo
var NoSignal = Estimate{}

// CrossCorrelate returns the full linear cross-correlation of echo against
// probe, len(echo)+len(probe)-1 values. Index k corresponds to a lag of
// k-(len(probe)-1) samples, so a copy of probe delayed by d samples peaks at
// index d+len(probe)-1.
func CrossCorrelate(echo, probe []float64) []float64 {
	n, m := len(echo), len(probe)
	if n == 0 || m == 0 {
		return nil
	}

	full := n + m - 1
	size := nextPow2(full)

	a := make([]float64, size)
	copy(a, echo)
	b := make([]float64, size)
	copy(b, probe)

	fa := fft.FFTReal(a)
	fb := fft.FFTReal(b)
	for i := range fa {
		fa[i] *= cmplx.Conj(fb[i])
	}
	circular := fft.IFFT(fa)

	out := make([]float64, full)
	for k := range out {
		lag := k - (m - 1)
		if lag < 0 {
			lag += size
		}
		out[k] = real(circular[lag])
	}
	return out
}

// PeakLag locates the global maximum of |corr| and returns the implied lag in
// samples together with the peak magnitude.
func PeakLag(corr []float64, probeLen int) (lag int, peak float64) {
	if len(corr) == 0 {
		return 0, 0
	}

	mag := make([]float64, len(corr))
	for i, v := range corr {
		mag[i] = math.Abs(v)
	}

	idx := floats.MaxIdx(mag)
	return idx - (probeLen - 1), mag[idx]
}

// EstimateDistance converts the round-trip delay between probe and echo into
// a one-way distance in meters. Lags that are zero or negative clamp to a
// distance of zero and report no echo.
func EstimateDistance(probe, echo Waveform, speedOfSound float64) (Estimate, error) {
	if probe.SampleRate != echo.SampleRate {
		return NoSignal, fmt.Errorf("%w: probe %d Hz, echo %d Hz", ErrRateMismatch, probe.SampleRate, echo.SampleRate)
	}
	if probe.SampleRate <= 0 || probe.Len() == 0 || echo.Len() == 0 {
		return NoSignal, nil
	}

	corr := CrossCorrelate(echo.Samples, probe.Samples)
	lag, peak := PeakLag(corr, probe.Len())

	if peak <= silenceFloor*probe.Energy() {
		return NoSignal, nil
	}

	if lag <= 0 {
		return Estimate{LagSamples: lag}, nil
	}

	delay := float64(lag) / float64(probe.SampleRate)
	return Estimate{
		Meters:     delay * speedOfSound / 2,
		LagSamples: lag,
		Echo:       true,
	}, nil
}

// LagForDistance returns the round-trip delay in whole samples for a surface
// at meters distance
func LagForDistance(meters float64, sampleRate int, speedOfSound float64) int {
	if meters <= 0 || speedOfSound <= 0 {
		return 0
	}
	return int(math.Round(2 * meters / speedOfSound * float64(sampleRate)))
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
