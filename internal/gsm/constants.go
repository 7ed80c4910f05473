package gsm

import "math"

// Burst and frame geometry, in symbols.
const (
	BurstSize    = 148
	TSBits       = 156
	FrameBits    = TSBits * 8
	TailBits     = 3
	SyncPos      = 39
	NSyncBits    = 64
	UsefulBits   = 142
	SafetyMargin = 6

	// SCHDataBits is the length of each coded half of the SCH payload.
	SCHDataBits = 39
)

// SymbolRate is the GSM symbol rate in symbols per second.
const SymbolRate = 1625000.0 / 6.0

// hzPerRadian converts an average per-symbol phase error into Hz.
// 1625000/12 = SymbolRate/2, divided by pi below.
const hzPerRadian = 1625000.0 / (12.0 * math.Pi)

// SyncBits is the 64-bit extended training sequence carried by every SCH burst.
var SyncBits = [NSyncBits]int{
	1, 0, 1, 1, 1, 0, 0, 1, 0, 1, 1, 0, 0, 0, 1, 0,
	0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1,
	0, 0, 1, 0, 1, 1, 0, 1, 0, 1, 0, 0, 0, 1, 0, 1,
	0, 1, 1, 1, 0, 1, 1, 0, 0, 0, 0, 1, 1, 0, 1, 1,
}

// SymbolPhase is the quarter-turn offset of symbol 0 of a matched-filtered
// burst: symbol n carries j^(n+SymbolPhase) times its NRZ value. The
// training reference is real at symbol TailBits+SCHDataBits and
// MatchedFilter adds a -90 degree turn.
const SymbolPhase = ((-(TailBits+SCHDataBits)-1)%4 + 4) % 4

// TailState is the detector state after the two leading tail bits: both
// zero bits map to NRZ -1, which sets both state bits.
const TailState = 3

// syncTrim is the number of training symbols dropped from each edge
// before correlating, where GMSK transitions from the data fields smear them.
const syncTrim = 5
