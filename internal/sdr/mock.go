package sdr

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/rjboer/GoGSM/internal/gsm"
	"github.com/rjboer/GoGSM/internal/sch"
)

const (
	slotsPerFrame = 8
	multiframe    = 51
)

// MockGSM synthesizes the downlink of a single GSM cell: a continuous phase
// MSK approximation of GMSK with an FCCH and an SCH on timeslot 0 of every
// tenth frame and random bursts everywhere else. It also acts as the tuner
// for its own carrier error, so a receiver can close the correction loop
// against it.
type MockGSM struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand

	correction float64
	tunes      int
	closed     bool

	fn       int
	ts       int
	prevNRZ  int
	modPhase float64
	carPhase float64
	pending  []complex64
}

// NewMockGSM validates cfg and returns a transmitter positioned at
// timeslot 0 of cfg.StartFN.
func NewMockGSM(cfg Config) (*MockGSM, error) {
	cfg = cfg.withDefaults()
	if cfg.BSIC < 0 || cfg.BSIC > 63 {
		return nil, fmt.Errorf("sdr: mock bsic %d out of range", cfg.BSIC)
	}
	if cfg.StartFN < 0 || cfg.StartFN > sch.MaxFN {
		return nil, fmt.Errorf("sdr: mock start frame %d out of range", cfg.StartFN)
	}
	return &MockGSM{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		fn:      cfg.StartFN,
		prevNRZ: -1,
	}, nil
}

func (m *MockGSM) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Read returns the next BlockSize samples of the stream.
func (m *MockGSM) Read(ctx context.Context) ([]complex64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	n := m.cfg.BlockSize
	for len(m.pending) < n {
		m.emitSlot()
	}
	out := make([]complex64, n)
	copy(out, m.pending)
	m.pending = append(m.pending[:0], m.pending[n:]...)
	return out, nil
}

// SetFrequency moves the simulated LO by offsetHz from the nominal carrier.
func (m *MockGSM) SetFrequency(offsetHz float64) error {
	m.mu.Lock()
	m.correction = offsetHz
	m.tunes++
	m.mu.Unlock()
	return nil
}

// Residual returns the carrier error left after the applied correction.
func (m *MockGSM) Residual() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.OffsetHz + m.correction
}

// Tunes returns how many corrections were applied.
func (m *MockGSM) Tunes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tunes
}

// FrameNumber returns the frame currently being generated.
func (m *MockGSM) FrameNumber() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fn
}

// SlotStart returns the absolute sample index at which timeslot 0 of frame
// fn begins, counting from StartFN. It is only meaningful for frames not
// yet wrapped past sch.MaxFN.
func (m *MockGSM) SlotStart(fn int) int64 {
	frames := int64(fn - m.cfg.StartFN)
	return frames * int64(frameSymbols*m.cfg.OSR)
}

// frameSymbols is the true frame length; slots 3 and 7 carry one extra
// guard symbol.
const frameSymbols = slotsPerFrame*gsm.TSBits + 2

func slotSymbols(ts int) int {
	if ts == 3 || ts == 7 {
		return gsm.TSBits + 1
	}
	return gsm.TSBits
}

func (m *MockGSM) emitSlot() {
	bits := m.slotBits()
	m.modulate(bits)
	m.ts++
	if m.ts == slotsPerFrame {
		m.ts = 0
		m.fn = (m.fn + 1) % (sch.MaxFN + 1)
	}
}

func (m *MockGSM) slotBits() []int {
	bits := make([]int, slotSymbols(m.ts))
	t3 := m.fn % multiframe
	switch {
	case m.ts == 0 && t3%10 == 0 && t3 != 50:
		// FCCH: all zero bits, the guard period stays random.
		m.randomBits(bits[gsm.BurstSize:])
	case m.ts == 0 && t3%10 == 1 && t3 <= 41:
		payload, err := sch.Encode(m.fn, m.cfg.BSIC)
		if err != nil {
			m.randomBits(bits)
			break
		}
		copy(bits[gsm.TailBits:], payload)
		m.randomBits(bits[gsm.BurstSize:])
	default:
		m.randomBits(bits)
	}
	return bits
}

func (m *MockGSM) randomBits(dst []int) {
	for i := range dst {
		dst[i] = m.rng.Intn(2)
	}
}

// modulate turns each differentially encoded symbol into a linear phase
// ramp of a quarter turn spread over OSR samples, then applies the carrier
// error and additive noise.
func (m *MockGSM) modulate(bits []int) {
	osr := m.cfg.OSR
	fs := m.cfg.SampleRate()
	carStep := 2 * math.Pi * (m.cfg.OffsetHz + m.correction) / fs
	for _, b := range bits {
		nrz := 2*b - 1
		dir := float64(nrz * m.prevNRZ)
		m.prevNRZ = nrz
		step := dir * (math.Pi / 2) / float64(osr)
		for k := 0; k < osr; k++ {
			m.modPhase += step
			m.carPhase += carStep
			ph := m.modPhase + m.carPhase
			re := math.Cos(ph)
			im := math.Sin(ph)
			if m.cfg.NoiseStd > 0 {
				re += m.rng.NormFloat64() * m.cfg.NoiseStd
				im += m.rng.NormFloat64() * m.cfg.NoiseStd
			}
			m.pending = append(m.pending, complex64(complex(re, im)))
		}
	}
	m.modPhase = math.Remainder(m.modPhase, 2*math.Pi)
	m.carPhase = math.Remainder(m.carPhase, 2*math.Pi)
}
