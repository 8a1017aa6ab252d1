// Package dsp estimates spectral features of interleaved CF32 windows.
package dsp

import (
	"math"
	"math/cmplx"
)

// CF32 samples are normalized so full scale is an amplitude of 1.0.
const fullScale = 1.0

// FloorDBFS is the level reported for silent or empty input. Results are
// never below it, so they always encode as JSON numbers.
const FloorDBFS = -200.0

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	return append(shifted, data[:half]...)
}

// Finite clamps v to FloorDBFS and maps NaN or infinities to a finite level.
func Finite(v float64) float64 {
	switch {
	case math.IsNaN(v), math.IsInf(v, -1):
		return FloorDBFS
	case math.IsInf(v, 1):
		return math.MaxFloat64
	}
	return max(v, FloorDBFS)
}

func toDBFS(coeffs []complex128, windowSum float64) []float64 {
	shifted := FFTShift(coeffs)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v) / windowSum
		if mag == 0 {
			dbfs[i] = FloorDBFS
			continue
		}
		dbfs[i] = Finite(20 * math.Log10(mag/fullScale))
	}
	return dbfs
}

// PowerDBFS returns the mean power of interleaved I/Q values in dBFS.
func PowerDBFS(iq []float32) float64 {
	n := len(iq) / 2
	if n == 0 {
		return FloorDBFS
	}
	acc := 0.0
	for i := 0; i < n; i++ {
		re, im := float64(iq[2*i]), float64(iq[2*i+1])
		acc += re*re + im*im
	}
	mean := acc / float64(n)
	if mean == 0 {
		return FloorDBFS
	}
	return Finite(10 * math.Log10(mean/(fullScale*fullScale)))
}
