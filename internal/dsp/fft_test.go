package dsp

import (
	"math"
	"testing"
)

// tone returns n interleaved elements of a complex exponential at bin k of an
// n-point transform.
func tone(n, k int, amp float64) []float32 {
	iq := make([]float32, 2*n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(k*i) / float64(n)
		iq[2*i] = float32(amp * math.Cos(phase))
		iq[2*i+1] = float32(amp * math.Sin(phase))
	}
	return iq
}

func TestFFTShift(t *testing.T) {
	in := []complex128{0, 1, 2, 3}
	out := FFTShift(in)
	expected := []complex128{2, 3, 0, 1}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("index %d expected %v got %v", i, expected[i], out[i])
		}
	}
	if in[0] != 0 || in[2] != 2 {
		t.Fatal("input must not be modified")
	}
}

func TestPowerDBFS(t *testing.T) {
	if got := PowerDBFS(tone(64, 3, 0.5)); math.Abs(got-(-6.0206)) > 1e-3 {
		t.Fatalf("expected -6.02 dBFS, got %.4f", got)
	}
	if PowerDBFS(nil) != FloorDBFS || PowerDBFS(make([]float32, 8)) != FloorDBFS {
		t.Fatal("empty or silent input must report the floor")
	}
	if PowerDBFS([]float32{1e-200, 0}) != FloorDBFS {
		t.Fatal("power below the floor must be clamped")
	}
}

func TestFinite(t *testing.T) {
	tests := map[string]struct {
		in, want float64
	}{
		"nan":      {math.NaN(), FloorDBFS},
		"neg inf":  {math.Inf(-1), FloorDBFS},
		"pos inf":  {math.Inf(1), math.MaxFloat64},
		"below":    {-350, FloorDBFS},
		"in range": {-6, -6},
	}
	for name, tt := range tests {
		if got := Finite(tt.in); got != tt.want {
			t.Fatalf("%s: got %v, want %v", name, got, tt.want)
		}
	}
}
