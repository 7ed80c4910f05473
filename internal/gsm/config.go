package gsm

import (
	"errors"
	"fmt"
)

// ErrConfig is returned (wrapped) when a receiver configuration is rejected.
var ErrConfig = errors.New("gsm: invalid config")

// Config carries the tunable parameters of a Receiver. All lengths are in
// symbols unless stated otherwise; they are scaled by OSR internally.
type Config struct {
	OSR             int     // samples per symbol
	FCCHHitsNeeded  int     // positive phase steps needed to accept an FCCH burst
	FCCHMaxMisses   int     // tolerated non-positive steps inside a candidate
	MaxFreqOffset   float64 // Hz; refined estimates above this are re-applied to the tuner
	ChanImpLength   int     // channel impulse response span
	SyncSearchRange int     // width of the SCH correlation window
	StopStates      []int   // terminal trellis states handed to the sequence detector
	BitSkip         int     // detected bits skipped before the SCH payload
}

// DefaultConfig returns the parameters used by the reference receiver.
func DefaultConfig() Config {
	return Config{
		OSR:             4,
		FCCHHitsNeeded:  BurstSize - SafetyMargin,
		FCCHMaxMisses:   1,
		MaxFreqOffset:   100,
		ChanImpLength:   5,
		SyncSearchRange: 40,
		StopStates:      []int{0, 3},
		BitSkip:         TailBits,
	}
}

// Validate reports the first invalid field, wrapping ErrConfig.
func (c Config) Validate() error {
	switch {
	case c.OSR < 1:
		return fmt.Errorf("%w: osr must be >= 1, got %d", ErrConfig, c.OSR)
	case c.FCCHHitsNeeded < 1:
		return fmt.Errorf("%w: fcch hits needed must be >= 1, got %d", ErrConfig, c.FCCHHitsNeeded)
	case c.FCCHMaxMisses < 1:
		return fmt.Errorf("%w: fcch max misses must be >= 1, got %d", ErrConfig, c.FCCHMaxMisses)
	case c.MaxFreqOffset < 0:
		return fmt.Errorf("%w: max frequency offset must be >= 0", ErrConfig)
	case c.ChanImpLength < 1:
		return fmt.Errorf("%w: channel impulse length must be >= 1, got %d", ErrConfig, c.ChanImpLength)
	case c.SyncSearchRange < c.ChanImpLength:
		return fmt.Errorf("%w: sync search range %d shorter than channel span %d", ErrConfig, c.SyncSearchRange, c.ChanImpLength)
	case c.BitSkip < 0 || c.BitSkip+2*SCHDataBits+NSyncBits > BurstSize:
		return fmt.Errorf("%w: bit skip %d leaves no room for the sch payload", ErrConfig, c.BitSkip)
	}
	return nil
}

// fcchWindow is the phase-difference ring capacity in samples.
func (c Config) fcchWindow() int { return c.FCCHHitsNeeded * c.OSR }

func (c Config) fcchHits() int { return c.FCCHHitsNeeded * c.OSR }

func (c Config) fcchMisses() int { return c.FCCHMaxMisses * c.OSR }

// chanSpan is the channel impulse response length in samples.
func (c Config) chanSpan() int { return c.ChanImpLength * c.OSR }
