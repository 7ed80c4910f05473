package sch

import "math"

// Generator g(D) = D^10 + D^8 + D^6 + D^5 + D^4 + D^2 + 1, lowest degree first
// without the leading term.
var parityPoly = [parityBits]int{1, 0, 1, 0, 1, 1, 1, 0, 1, 0}

// parity returns the inverted remainder of data(D)*D^10 divided by g(D).
func parity(data []int) []int {
	var reg [parityBits]int
	for _, b := range data {
		feedback := b ^ reg[parityBits-1]
		for i := parityBits - 1; i > 0; i-- {
			reg[i] = reg[i-1] ^ (feedback & parityPoly[i])
		}
		reg[0] = feedback & parityPoly[0]
	}
	out := make([]int, parityBits)
	for i := range out {
		out[i] = 1 - reg[parityBits-1-i]
	}
	return out
}

func parityOK(block []int) bool {
	want := parity(block[:infoBits])
	for i, b := range want {
		if block[infoBits+i] != b {
			return false
		}
	}
	return true
}

const convStates = 16

// convOutput returns the two coded bits for input u in state s, where bit k
// of s holds u[n-1-k]. G0 = 1 + D^3 + D^4, G1 = 1 + D + D^3 + D^4.
func convOutput(s, u int) (int, int) {
	d1 := s & 1
	d3 := (s >> 2) & 1
	d4 := (s >> 3) & 1
	return u ^ d3 ^ d4, u ^ d1 ^ d3 ^ d4
}

func convEncode(in []int) []int {
	out := make([]int, 0, 2*len(in))
	s := 0
	for _, u := range in {
		g0, g1 := convOutput(s, u)
		out = append(out, g0, g1)
		s = ((s << 1) | u) & (convStates - 1)
	}
	return out
}

// convDecode runs a hard-decision Viterbi decoder over coded pairs, starting
// and ending in state zero, and returns the decoded bits together with the
// Hamming distance of the winning path.
func convDecode(coded []int) ([]int, int) {
	steps := len(coded) / 2
	metrics := make([]int, convStates)
	next := make([]int, convStates)
	for s := 1; s < convStates; s++ {
		metrics[s] = math.MaxInt32
	}
	prev := make([][convStates]uint8, steps)

	for k := 0; k < steps; k++ {
		r0, r1 := coded[2*k], coded[2*k+1]
		for s := range next {
			next[s] = math.MaxInt32
		}
		for s := 0; s < convStates; s++ {
			if metrics[s] == math.MaxInt32 {
				continue
			}
			for u := 0; u < 2; u++ {
				g0, g1 := convOutput(s, u)
				m := metrics[s] + (g0 ^ r0) + (g1 ^ r1)
				ns := ((s << 1) | u) & (convStates - 1)
				if m < next[ns] {
					next[ns] = m
					prev[k][ns] = uint8(s)
				}
			}
		}
		metrics, next = next, metrics
	}

	out := make([]int, steps)
	s := 0
	for k := steps - 1; k >= 0; k-- {
		out[k] = s & 1
		s = int(prev[k][s])
	}
	return out, metrics[0]
}
