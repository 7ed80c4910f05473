package dsp

import (
	"math"
	"math/rand"
	"testing"
)

func toneSamples(n int, freq, fs float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		ph := 2 * math.Pi * freq * float64(i) / fs
		out[i] = complex64(complex(math.Cos(ph), math.Sin(ph)))
	}
	return out
}

func TestToneEstimatorFrequency(t *testing.T) {
	const fs = 1625000.0 / 6.0 * 4
	est, err := NewToneEstimator(592, fs)
	if err != nil {
		t.Fatalf("new estimator: %v", err)
	}
	binHz := fs / 592
	tests := []struct {
		name string
		freq float64
	}{
		{"fcch tone", 1625000.0 / 24.0},
		{"fcch tone with offset", 1625000.0/24.0 + 1200},
		{"negative", -100e3},
		{"on bin", 10 * binHz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tone, err := est.Estimate(toneSamples(592, tt.freq, fs))
			if err != nil {
				t.Fatalf("estimate: %v", err)
			}
			if math.Abs(tone.FrequencyHz-tt.freq) > 0.1*binHz {
				t.Fatalf("got %.1f Hz want %.1f Hz", tone.FrequencyHz, tt.freq)
			}
			if tone.SNRdB < 20 {
				t.Fatalf("clean tone snr %.1f dB", tone.SNRdB)
			}
		})
	}
}

func TestToneEstimatorNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	est, _ := NewToneEstimator(256, 1e6)
	in := make([]complex64, 256)
	for i := range in {
		in[i] = complex64(complex(rng.NormFloat64(), rng.NormFloat64()))
	}
	tone, err := est.Estimate(in)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if tone.SNRdB > 15 {
		t.Fatalf("noise reported as a tone: %.1f dB", tone.SNRdB)
	}
}

func TestToneEstimatorValidation(t *testing.T) {
	if _, err := NewToneEstimator(2, 1e6); err == nil {
		t.Fatalf("expected size error")
	}
	if _, err := NewToneEstimator(64, 0); err == nil {
		t.Fatalf("expected rate error")
	}
	est, _ := NewToneEstimator(64, 1e6)
	if est.Size() != 64 {
		t.Fatalf("size %d", est.Size())
	}
	if _, err := est.Estimate(make([]complex64, 63)); err == nil {
		t.Fatalf("expected length error")
	}
}
