package sdr

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rjboer/GoGSM/internal/gsm"
	"github.com/rjboer/GoGSM/internal/sch"
)

func newTestMock(t *testing.T, cfg Config) *MockGSM {
	t.Helper()
	m, err := NewMockGSM(cfg)
	if err != nil {
		t.Fatalf("new mock: %v", err)
	}
	return m
}

// readN pulls at least n samples from src.
func readN(t *testing.T, src Source, n int) []complex64 {
	t.Helper()
	var out []complex64
	for len(out) < n {
		block, err := src.Read(context.Background())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		out = append(out, block...)
	}
	return out
}

func TestMockBlockSize(t *testing.T) {
	m := newTestMock(t, Config{BlockSize: 1000})
	for i := 0; i < 3; i++ {
		block, err := m.Read(context.Background())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(block) != 1000 {
			t.Fatalf("block %d has %d samples", i, len(block))
		}
	}
}

func TestMockValidation(t *testing.T) {
	if _, err := NewMockGSM(Config{BSIC: 64}); err == nil {
		t.Fatalf("expected bsic error")
	}
	if _, err := NewMockGSM(Config{StartFN: sch.MaxFN + 1}); err == nil {
		t.Fatalf("expected frame number error")
	}
}

func TestMockFCCHIsPhaseRamp(t *testing.T) {
	tests := []struct {
		name     string
		offsetHz float64
		tuneHz   float64
	}{
		{"clean", 0, 0},
		{"carrier error", 1000, 0},
		{"corrected", 1000, -1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMock(t, Config{OffsetHz: tt.offsetHz, Seed: 3})
			if err := m.SetFrequency(tt.tuneHz); err != nil {
				t.Fatalf("set frequency: %v", err)
			}
			in := readN(t, m, gsm.BurstSize*4)
			want := math.Pi/8 + 2*math.Pi*m.Residual()/m.cfg.SampleRate()
			for i := 1; i < gsm.BurstSize*4; i++ {
				if d := gsm.PhaseDiff(in[i], in[i-1]); math.Abs(d-want) > 1e-4 {
					t.Fatalf("sample %d: phase step %.5f, want %.5f", i, d, want)
				}
			}
		})
	}
}

func TestMockSCHCarriesEncodedPayload(t *testing.T) {
	const osr = 4
	m := newTestMock(t, Config{OSR: osr, StartFN: 50, BSIC: 21, Seed: 9})
	// Frame 50 is idle, 51 carries the FCCH and 52 the SCH.
	start := int(m.SlotStart(52))
	in := readN(t, m, start+gsm.BurstSize*osr)

	payload, err := sch.Encode(52, 21)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bits := make([]int, gsm.BurstSize)
	copy(bits[gsm.TailBits:], payload)

	for n := 1; n < gsm.BurstSize; n++ {
		cur := in[start+n*osr+osr-1]
		prev := in[start+(n-1)*osr+osr-1]
		got := 1.0
		if gsm.PhaseDiff(cur, prev) < 0 {
			got = -1
		}
		want := float64((2*bits[n] - 1) * (2*bits[n-1] - 1))
		if got != want {
			t.Fatalf("symbol %d: direction %v, want %v", n, got, want)
		}
	}
}

func TestMockSlotStart(t *testing.T) {
	m := newTestMock(t, Config{OSR: 2, StartFN: 10})
	if got := m.SlotStart(12); got != 2*1250*2 {
		t.Fatalf("slot start %d", got)
	}
	readN(t, m, 1250*2+1)
	if fn := m.FrameNumber(); fn != 11 {
		t.Fatalf("frame number %d, want 11", fn)
	}
}

func TestMockCloseAndCancel(t *testing.T) {
	m := newTestMock(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	m.Close()
	if _, err := m.Read(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMockCountsTunes(t *testing.T) {
	m := newTestMock(t, Config{OffsetHz: 250})
	m.SetFrequency(-200)
	m.SetFrequency(-250)
	if m.Tunes() != 2 || m.Residual() != 0 {
		t.Fatalf("tunes %d residual %.1f", m.Tunes(), m.Residual())
	}
}

func TestNullTuner(t *testing.T) {
	var tuner NullTuner
	tuner.SetFrequency(-120)
	tuner.SetFrequency(-80)
	if last, n := tuner.Last(); last != -80 || n != 2 {
		t.Fatalf("last %.0f calls %d", last, n)
	}
}
