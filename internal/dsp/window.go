// Package dsp holds the spectral helpers used to cross-check FCCH
// frequency estimates.
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

// ApplyWindow multiplies samples by window into dst, which is grown when
// too short. It returns nil when the lengths of samples and window differ.
func ApplyWindow(dst []complex128, samples []complex64, window []float64) []complex128 {
	if len(samples) != len(window) {
		return nil
	}
	if cap(dst) < len(samples) {
		dst = make([]complex128, len(samples))
	}
	dst = dst[:len(samples)]
	for i, v := range samples {
		dst[i] = complex(float64(real(v))*window[i], float64(imag(v))*window[i])
	}
	return dst
}
