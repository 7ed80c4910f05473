// Package viterbi implements maximum-likelihood sequence estimation for
// linearised GMSK bursts using the Ungerboeck metric on matched-filter output.
package viterbi

import (
	"errors"
	"math"
	"math/cmplx"
)

// Memory is the channel memory in symbols resolved by the trellis.
const Memory = 2

const numStates = 1 << Memory

// ErrLength is returned when the burst or channel estimate is empty.
var ErrLength = errors.New("viterbi: empty input")

// quarter turns applied to symbol n of a linearised GMSK burst.
var rotation = [4]complex128{1, 1i, -1, -1i}

// MLSE is a 4-state Viterbi detector. Symbols are modelled as
// a[n] = j^(n+phase) * b[n] with b[n] in {-1,+1}. State bit 0 is set when
// b[n-1] = -1, bit 1 when b[n-2] = -1.
type MLSE struct {
	phase int
	start int
}

// Option configures an MLSE.
type Option func(*MLSE)

// WithPhase sets the quarter-turn offset of symbol 0 of the input.
func WithPhase(quarterTurns int) Option {
	return func(d *MLSE) { d.phase = ((quarterTurns % 4) + 4) % 4 }
}

// WithStartState pins the state reached after the first Memory symbols,
// for bursts that open with known tail bits. A negative state leaves the
// start free.
func WithStartState(state int) Option {
	return func(d *MLSE) { d.start = state }
}

// New returns a detector with phase 0 and a free start.
func New(opts ...Option) *MLSE {
	d := &MLSE{start: -1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect estimates b for every sample of y. rhh[k] is the channel
// autocorrelation at symbol lag k, sum_i conj(h[i]) h[i+k], which is what a
// receiver gets by conjugating the autocorrelation of its correlator output;
// lags past Memory are ignored. stopStates restricts the state the path may
// end in; invalid or empty sets leave the end free. The returned soft values
// carry the sign of b[n]; their magnitude is one plus the add-compare-select
// margin of the surviving branch.
func (d *MLSE) Detect(y []complex128, rhh []complex128, stopStates []int) ([]float64, error) {
	n := len(y)
	if n == 0 || len(rhh) == 0 {
		return nil, ErrLength
	}

	var isi [Memory + 1]complex128
	for k := 1; k <= Memory && k < len(rhh); k++ {
		isi[k] = rhh[k]
	}

	var metrics, next [numStates]float64
	survivor := make([][numStates]uint8, n)
	margin := make([][numStates]float64, n)

	for t := 0; t < n; t++ {
		for s := 0; s < numStates; s++ {
			bNeg := s & 1
			best := -1
			var bestMetric, otherMetric float64
			// Predecessors share b[t-1] with s and differ in b[t-2].
			for old := 0; old < numStates; old++ {
				if old&1 != (s>>1)&1 {
					continue
				}
				m := metrics[old] + branch(y[t], t, d.phase, bNeg, old, isi)
				if best < 0 || m > bestMetric {
					if best >= 0 {
						otherMetric = bestMetric
					}
					best = old
					bestMetric = m
				} else {
					otherMetric = m
				}
			}
			next[s] = bestMetric
			survivor[t][s] = uint8(best)
			if math.IsInf(otherMetric, -1) {
				margin[t][s] = 0
			} else {
				margin[t][s] = bestMetric - otherMetric
			}
		}
		if t == Memory-1 && d.start >= 0 && d.start < numStates {
			for s := range next {
				if s != d.start {
					next[s] = math.Inf(-1)
				}
			}
		}
		metrics = next
	}

	state := bestFinal(metrics, stopStates)
	soft := make([]float64, n)
	for t := n - 1; t >= 0; t-- {
		v := 1 + margin[t][state]
		if state&1 != 0 {
			v = -v
		}
		soft[t] = v
		state = int(survivor[t][state])
	}
	return soft, nil
}

// branch is the Ungerboeck increment Re{conj(a[t]) (y[t] - sum_k R[k] a[t-k])}.
// ISI from before the first symbol is not modelled.
func branch(y complex128, t, phase int, bNeg int, old int, isi [Memory + 1]complex128) float64 {
	a := symbol(t+phase, bNeg)
	acc := y
	for k := 1; k <= Memory; k++ {
		if t-k < 0 {
			break
		}
		acc -= isi[k] * symbol(t+phase-k, (old>>(k-1))&1)
	}
	return real(cmplx.Conj(a) * acc)
}

func symbol(q int, neg int) complex128 {
	a := rotation[((q%4)+4)%4]
	if neg != 0 {
		return -a
	}
	return a
}

func bestFinal(metrics [numStates]float64, stopStates []int) int {
	best := -1
	for _, s := range stopStates {
		if s < 0 || s >= numStates {
			continue
		}
		if best < 0 || metrics[s] > metrics[best] {
			best = s
		}
	}
	if best >= 0 {
		return best
	}
	best = 0
	for s := 1; s < numStates; s++ {
		if metrics[s] > metrics[best] {
			best = s
		}
	}
	return best
}
