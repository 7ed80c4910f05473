// Package sdr provides complex baseband sample sources and local oscillator
// tuners for the GSM receiver.
package sdr

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("sdr: source closed")

// Config carries parameters shared by the sample source backends.
type Config struct {
	OSR        int     // samples per GSM symbol
	BlockSize  int     // samples returned per Read
	CarrierHz  float64 // nominal RX LO frequency
	OffsetHz   float64 // simulated carrier error (mock only)
	NoiseStd   float64 // per-component noise standard deviation (mock only)
	BSIC       int     // identity code transmitted by the mock
	StartFN    int     // first frame number transmitted by the mock
	Seed       int64
	Path       string // recording to replay (file only)
	FileFormat string // "cf32" or "cs16"
}

// SampleRate returns the complex sample rate implied by OSR.
func (c Config) SampleRate() float64 {
	return symbolRate * float64(c.OSR)
}

// Source delivers consecutive blocks of a continuous sample stream.
type Source interface {
	// Read returns the next block. io.EOF marks the end of a finite stream.
	Read(ctx context.Context) ([]complex64, error)
	Close() error
}

// Tuner moves the receiver's local oscillator by an offset relative to the
// nominal carrier.
type Tuner interface {
	SetFrequency(offsetHz float64) error
}

const symbolRate = 1625000.0 / 6.0

func (c Config) withDefaults() Config {
	if c.OSR <= 0 {
		c.OSR = 4
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 4096
	}
	return c
}

// NullTuner accepts every correction without touching hardware. It is used
// when replaying recordings, where the LO cannot be moved.
type NullTuner struct {
	mu   sync.Mutex
	last float64
	n    int
}

func (t *NullTuner) SetFrequency(offsetHz float64) error {
	t.mu.Lock()
	t.last = offsetHz
	t.n++
	t.mu.Unlock()
	return nil
}

// Last returns the most recent correction and the number of calls.
func (t *NullTuner) Last() (offsetHz float64, calls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.n
}
