// Package sch decodes and builds the payload of GSM synchronization bursts:
// the base station identity code and the reduced TDMA frame number.
package sch

import (
	"errors"
	"fmt"

	"github.com/rjboer/GoGSM/internal/gsm"
)

const (
	infoBits   = 25
	parityBits = 10
	tailBits   = 4
	blockBits  = infoBits + parityBits + tailBits
	codedBits  = 2 * blockBits

	// PayloadBits is the span from the first coded bit to the last one,
	// training sequence included.
	PayloadBits = gsm.SCHDataBits + gsm.NSyncBits + gsm.SCHDataBits

	// DefaultMaxErrors is the number of coded bit errors tolerated before
	// the parity check is even attempted.
	DefaultMaxErrors = 6

	hyperframe = 26 * 51
	// MaxFN is the largest TDMA frame number.
	MaxFN = 2048*hyperframe - 1
)

var (
	// ErrShort is returned when fewer than PayloadBits decisions are supplied.
	ErrShort = errors.New("sch: payload too short")
	// ErrUncorrectable is returned when the convolutional decoder saw too many errors.
	ErrUncorrectable = errors.New("sch: too many coded bit errors")
	// ErrParity is returned when the decoded block fails its parity check.
	ErrParity = errors.New("sch: parity check failed")
)

// Bit positions of each field in the 25 information bits, most significant first.
var (
	bsicBits = []int{7, 6, 5, 4, 3, 2}
	t1Bits   = []int{1, 0, 15, 14, 13, 12, 11, 10, 9, 8, 23}
	t2Bits   = []int{22, 21, 20, 19, 18}
	t3pBits  = []int{17, 16, 24}
)

// Decoder implements the frame decoder used by the receiver.
type Decoder struct {
	MaxErrors int
}

// NewDecoder returns a Decoder with DefaultMaxErrors.
func NewDecoder() Decoder { return Decoder{MaxErrors: DefaultMaxErrors} }

// Decode extracts FN and BSIC from hard decisions starting at the first
// coded bit of the burst.
func (d Decoder) Decode(bits []int) (fn int, bsic int, err error) {
	if len(bits) < PayloadBits {
		return 0, 0, fmt.Errorf("%w: %d < %d", ErrShort, len(bits), PayloadBits)
	}
	coded := make([]int, 0, codedBits)
	coded = append(coded, bits[:gsm.SCHDataBits]...)
	coded = append(coded, bits[gsm.SCHDataBits+gsm.NSyncBits:PayloadBits]...)

	info, errs := convDecode(coded)
	if errs > d.MaxErrors {
		return 0, 0, fmt.Errorf("%w: %d", ErrUncorrectable, errs)
	}
	if !parityOK(info[:infoBits+parityBits]) {
		return 0, 0, ErrParity
	}

	bsic = gather(info, bsicBits)
	t1 := gather(info, t1Bits)
	t2 := gather(info, t2Bits)
	t3 := 10*gather(info, t3pBits) + 1
	tt := ((t3 + 26) - t2) % 26
	fn = hyperframe*t1 + 51*tt + t3
	return fn, bsic, nil
}

// Encode builds the PayloadBits-long SCH payload for fn and bsic. fn must
// fall on an SCH frame (fn mod 51 in {1, 11, 21, 31, 41}).
func Encode(fn, bsic int) ([]int, error) {
	if fn < 0 || fn > MaxFN {
		return nil, fmt.Errorf("sch: frame number %d out of range", fn)
	}
	if bsic < 0 || bsic > 63 {
		return nil, fmt.Errorf("sch: bsic %d out of range", bsic)
	}
	t3 := fn % 51
	if t3%10 != 1 || t3 > 41 {
		return nil, fmt.Errorf("sch: frame %d does not carry an sch (t3=%d)", fn, t3)
	}

	block := make([]int, blockBits)
	scatter(block, bsicBits, bsic)
	scatter(block, t1Bits, fn/hyperframe)
	scatter(block, t2Bits, fn%26)
	scatter(block, t3pBits, (t3-1)/10)
	copy(block[infoBits:], parity(block[:infoBits]))

	coded := convEncode(block)
	out := make([]int, 0, PayloadBits)
	out = append(out, coded[:gsm.SCHDataBits]...)
	out = append(out, gsm.SyncBits[:]...)
	out = append(out, coded[gsm.SCHDataBits:]...)
	return out, nil
}

func gather(bits []int, positions []int) int {
	v := 0
	for _, p := range positions {
		v = v<<1 | bits[p]
	}
	return v
}

func scatter(bits []int, positions []int, v int) {
	for i := len(positions) - 1; i >= 0; i-- {
		bits[positions[i]] = v & 1
		v >>= 1
	}
}
