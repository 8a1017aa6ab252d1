package dsp

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Peak describes the strongest spectral component of a window.
type Peak struct {
	DBFS     float64
	OffsetHz float64
	Bin      int
	// PowerDBFS is the mean power over the analyzed samples.
	PowerDBFS float64
}

// Analyzer caches a Hamming window and FFT plan of a fixed size so repeated
// windows of delivered samples can be analyzed without reallocating them.
type Analyzer struct {
	mu        sync.Mutex
	size      int
	window    []float64
	windowSum float64
	fft       *fourier.CmplxFFT
}

// NewAnalyzer builds an analyzer for fftSize-element transforms.
func NewAnalyzer(fftSize int) *Analyzer {
	a := &Analyzer{}
	a.resize(fftSize)
	return a
}

func (a *Analyzer) resize(size int) {
	if size < 1 {
		size = 1
	}
	a.size = size
	a.window = Hamming(size)
	a.windowSum = sum(a.window)
	a.fft = fourier.NewCmplxFFT(size)
}

// Size returns the FFT length.
func (a *Analyzer) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// UpdateSize swaps the cached plan for a new FFT length.
func (a *Analyzer) UpdateSize(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resize(size)
}

// Peak analyzes the most recent Size() elements of iq, sampled at rate Hz.
// It returns false when the window is shorter than one transform.
func (a *Analyzer) Peak(iq []float32, rate float64) (Peak, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.size
	if len(iq) < 2*n {
		return Peak{}, false
	}
	tail := iq[len(iq)-2*n:]
	dbfs := toDBFS(a.fft.Coefficients(nil, WindowInterleaved(tail, a.window)), a.windowSum)

	best := 0
	for i, v := range dbfs {
		if v > dbfs[best] {
			best = i
		}
	}
	return Peak{
		DBFS:      dbfs[best],
		OffsetHz:  float64(best-n/2) * rate / float64(n),
		Bin:       best,
		PowerDBFS: PowerDBFS(tail),
	}, true
}
