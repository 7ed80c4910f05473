package gsm

import (
	"math"
	"math/cmplx"
)

// GMSKMap maps a bit sequence to the linearised GMSK symbols of the
// differentially encoded stream. The first symbol is the real unit; each
// following symbol is the previous one turned by a quarter turn and signed
// by the NRZ product of the current and previous bit.
func GMSKMap(bits []int) []complex128 {
	out := make([]complex128, len(bits))
	if len(bits) == 0 {
		return out
	}
	prev := 2*bits[0] - 1
	out[0] = 1
	for i := 1; i < len(bits); i++ {
		cur := 2*bits[i] - 1
		encoded := float64(cur * prev)
		out[i] = 1i * complex(encoded, 0) * out[i-1]
		prev = cur
	}
	return out
}

// PhaseDiff returns the angle of cur*conj(prev) in (-pi, pi].
func PhaseDiff(cur, prev complex64) float64 {
	p := complex128(cur) * cmplx.Conj(complex128(prev))
	return math.Atan2(imag(p), real(p))
}

// CorrelateSequence correlates seq against every osr-th sample of in and
// normalises by len(seq). in must hold at least (len(seq)-1)*osr+1 samples.
func CorrelateSequence(seq []complex128, in []complex64, osr int) complex128 {
	if len(seq) == 0 {
		return 0
	}
	var acc complex128
	for i, s := range seq {
		acc += s * cmplx.Conj(complex128(in[i*osr]))
	}
	return acc / complex(float64(len(seq)), 0)
}

// Autocorrelation writes the non-negative lags of the autocorrelation of in
// to out: out[k] = sum_{i>=k} in[i]*conj(in[i-k]).
func Autocorrelation(in, out []complex128) {
	n := len(in)
	for k := n - 1; k >= 0; k-- {
		var acc complex128
		for i := k; i < n; i++ {
			acc += in[i] * cmplx.Conj(in[i-k])
		}
		out[k] = acc
	}
}

// MatchedFilter produces one output per symbol by summing the oversampled
// input against the filter taps. A tap window reaching past len(out)*osr
// samples is truncated. Outputs are rotated by -90 degrees to line up with
// the GMSKMap symbol convention.
func MatchedFilter(in []complex64, filter []complex128, osr int, out []complex128) {
	limit := len(out) * osr
	if len(in) < limit {
		limit = len(in)
	}
	for n := range out {
		a := n * osr
		var acc complex128
		for ii, tap := range filter {
			if a+ii >= limit {
				break
			}
			acc += complex128(in[a+ii]) * tap
		}
		out[n] = acc * -1i
	}
}
