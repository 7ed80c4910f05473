package gsm

import "gonum.org/v1/gonum/floats"

// phaseRing is a fixed-capacity ring of phase differences. Pushing into a
// full ring evicts the oldest entry.
type phaseRing struct {
	buf  []float64
	head int
	n    int
}

func newPhaseRing(capacity int) *phaseRing {
	return &phaseRing{buf: make([]float64, capacity)}
}

func (r *phaseRing) Clear() {
	r.head = 0
	r.n = 0
}

func (r *phaseRing) Len() int { return r.n }

func (r *phaseRing) Cap() int { return len(r.buf) }

func (r *phaseRing) Push(v float64) {
	if len(r.buf) == 0 {
		return
	}
	idx := (r.head + r.n) % len(r.buf)
	if r.n == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[idx] = v
	r.n++
}

// stored returns the occupied slots in storage order. head only moves once
// the ring is full, so a partial ring always starts at slot zero.
func (r *phaseRing) stored() []float64 {
	return r.buf[:r.n]
}

// Spread returns max-min over the stored values, or 0 when empty.
func (r *phaseRing) Spread() float64 {
	s := r.stored()
	if len(s) == 0 {
		return 0
	}
	return floats.Max(s) - floats.Min(s)
}

// DeviationSum returns sum(v - ref) over the stored values.
func (r *phaseRing) DeviationSum(ref float64) float64 {
	s := r.stored()
	return floats.Sum(s) - ref*float64(len(s))
}

// Values returns the stored values oldest first.
func (r *phaseRing) Values() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
