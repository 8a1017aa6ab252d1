package dsp

import "math"

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// WindowInterleaved applies window to interleaved I/Q values and returns the
// complex result. iq must hold exactly 2*len(window) values.
func WindowInterleaved(iq []float32, window []float64) []complex128 {
	if len(iq) != 2*len(window) {
		return []complex128{}
	}
	out := make([]complex128, len(window))
	for i, w := range window {
		out[i] = complex(float64(iq[2*i])*w, float64(iq[2*i+1])*w)
	}
	return out
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}
