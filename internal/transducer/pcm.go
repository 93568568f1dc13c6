package transducer

import (
	"encoding/binary"
	"math"
)

const pcm16Max = 32767

// EncodePCM16 converts samples in [-1, 1] to little-endian signed 16-bit PCM.
// Samples outside the range are clipped.
func EncodePCM16(samples []float64) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(math.Round(s*pcm16Max))))
	}
	return buf
}

// DecodePCM16 converts little-endian signed 16-bit PCM to samples in [-1, 1].
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float64 {
	out := make([]float64, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = math.Max(-1, float64(v)/pcm16Max)
	}
	return out
}
