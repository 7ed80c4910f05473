package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Tone is the dominant spectral line of a block.
type Tone struct {
	FrequencyHz float64 // in [-fs/2, fs/2)
	SNRdB       float64 // peak bin power over the mean of the other bins
}

// ToneEstimator finds the strongest tone in fixed-size blocks. The window,
// FFT plan and scratch buffers are built once and reused.
type ToneEstimator struct {
	mu         sync.Mutex
	size       int
	sampleRate float64
	window     []float64
	windowed   []complex128
	coeff      []complex128
	power      []float64
	fft        *fourier.CmplxFFT
}

// NewToneEstimator prepares an estimator for size-sample blocks.
func NewToneEstimator(size int, sampleRate float64) (*ToneEstimator, error) {
	if size < 3 {
		return nil, fmt.Errorf("dsp: tone block of %d samples is too short", size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("dsp: sample rate must be positive")
	}
	return &ToneEstimator{
		size:       size,
		sampleRate: sampleRate,
		window:     Hamming(size),
		windowed:   make([]complex128, size),
		coeff:      make([]complex128, size),
		power:      make([]float64, size),
		fft:        fourier.NewCmplxFFT(size),
	}, nil
}

// Size returns the block length the estimator was built for.
func (e *ToneEstimator) Size() int { return e.size }

// Estimate returns the strongest tone in samples, refined between bins by
// parabolic interpolation of the log magnitude.
func (e *ToneEstimator) Estimate(samples []complex64) (Tone, error) {
	if len(samples) != e.size {
		return Tone{}, fmt.Errorf("dsp: got %d samples, estimator expects %d", len(samples), e.size)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.windowed = ApplyWindow(e.windowed, samples, e.window)
	e.coeff = e.fft.Coefficients(e.coeff, e.windowed)
	for i, c := range e.coeff {
		a := cmplx.Abs(c)
		e.power[i] = a * a
	}

	n := e.size
	k := floats.MaxIdx(e.power)
	peak := e.power[k]
	left := e.power[(k-1+n)%n]
	right := e.power[(k+1)%n]

	delta := 0.0
	if left > 0 && right > 0 && peak > 0 {
		l, c, r := math.Log(left), math.Log(peak), math.Log(right)
		if den := l - 2*c + r; den != 0 {
			delta = 0.5 * (l - r) / den
		}
	}

	bin := float64(k) + delta
	if bin >= float64(n)/2 {
		bin -= float64(n)
	}
	tone := Tone{FrequencyHz: bin * e.sampleRate / float64(n)}

	rest := (floats.Sum(e.power) - peak) / float64(n-1)
	switch {
	case rest > 0:
		tone.SNRdB = 10 * math.Log10(peak/rest)
	case peak > 0:
		tone.SNRdB = math.Inf(1)
	}
	return tone, nil
}
