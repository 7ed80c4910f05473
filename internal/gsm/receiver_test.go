package gsm

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/rjboer/GoGSM/internal/logging"
)

type fakeTuner struct {
	calls []float64
	err   error
}

func (f *fakeTuner) SetFrequency(offset float64) error {
	f.calls = append(f.calls, offset)
	return f.err
}

type fakeDetector struct {
	burstLen   int
	rhhLen     int
	stopStates []int
	err        error
}

func (f *fakeDetector) Detect(burst, rhh []complex128, stopStates []int) ([]float64, error) {
	f.burstLen = len(burst)
	f.rhhLen = len(rhh)
	f.stopStates = append([]int(nil), stopStates...)
	if f.err != nil {
		return nil, f.err
	}
	soft := make([]float64, len(burst))
	for i := range soft {
		soft[i] = 1
		if i%2 == 1 {
			soft[i] = -0.5
		}
	}
	return soft, nil
}

type fakeDecoder struct {
	bits []int
	err  error
}

func (f *fakeDecoder) Decode(bits []int) (int, int, error) {
	f.bits = append([]int(nil), bits...)
	if f.err != nil {
		return 0, 0, f.err
	}
	return 1234, 17, nil
}

type recordingObserver struct {
	fcch []FCCHEvent
	sync []SyncResult
}

func (o *recordingObserver) OnFCCH(ev FCCHEvent)   { o.fcch = append(o.fcch, ev) }
func (o *recordingObserver) OnSync(res SyncResult) { o.sync = append(o.sync, res) }

type harness struct {
	rx       *Receiver
	tuner    *fakeTuner
	detector *fakeDetector
	decoder  *fakeDecoder
	observer *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tuner:    &fakeTuner{},
		detector: &fakeDetector{},
		decoder:  &fakeDecoder{},
		observer: &recordingObserver{},
	}
	rx, err := NewReceiver(DefaultConfig(), h.tuner,
		WithDetector(h.detector),
		WithFrameDecoder(h.decoder),
		WithObserver(h.observer),
		WithLogger(logging.New(logging.Debug, logging.Text, testWriter{t})),
	)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	h.rx = rx
	return h
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// noise returns n complex Gaussian samples.
func noise(rng *rand.Rand, n int, scale float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(complex(rng.NormFloat64()*scale, rng.NormFloat64()*scale))
	}
	return out
}

// fcchTone returns n samples rotating by step radians per sample.
func fcchTone(n int, step float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(cmplx.Rect(1, step*float64(i)))
	}
	return out
}

// hold repeats every symbol osr times.
func hold(symbols []complex128, osr int) []complex64 {
	out := make([]complex64, 0, len(symbols)*osr)
	for _, s := range symbols {
		for k := 0; k < osr; k++ {
			out = append(out, complex64(s))
		}
	}
	return out
}

func concat(parts ...[]complex64) []complex64 {
	var out []complex64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestNewReceiverValidation(t *testing.T) {
	det, dec := &fakeDetector{}, &fakeDecoder{}
	if _, err := NewReceiver(DefaultConfig(), nil, WithDetector(det), WithFrameDecoder(dec)); !errors.Is(err, ErrConfig) {
		t.Fatalf("nil tuner should be rejected, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.OSR = 0
	if _, err := NewReceiver(cfg, &fakeTuner{}, WithDetector(det), WithFrameDecoder(dec)); !errors.Is(err, ErrConfig) {
		t.Fatalf("osr 0 should be rejected, got %v", err)
	}
	if _, err := NewReceiver(DefaultConfig(), &fakeTuner{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("missing detector should be rejected, got %v", err)
	}
}

func TestForecast(t *testing.T) {
	h := newHarness(t)
	if got := h.rx.Forecast(1); got != (TSBits+2*SafetyMargin)*4 {
		t.Fatalf("forecast(1) = %d", got)
	}
	if got := h.rx.Forecast(3); got != 3*(TSBits+2*SafetyMargin)*4 {
		t.Fatalf("forecast(3) = %d", got)
	}
}

func TestFirstFCCHAppliesCorrection(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(11))
	const offsetHz = 1500.0
	step := (math.Pi/2 + 2*math.Pi*offsetHz/SymbolRate) / 4
	in := concat(noise(rng, 300, 1), fcchTone(BurstSize*4, step), noise(rng, 400, 1))

	res := h.rx.Work(in)
	if res.Outcome != Found || res.State != NextFCCHSearch {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.tuner.calls) != 1 || math.Abs(h.tuner.calls[0]+offsetHz) > 5 {
		t.Fatalf("tuner calls %v, want about -%.0f", h.tuner.calls, offsetHz)
	}
	if h.rx.Counter() != int64(res.Consumed) {
		t.Fatalf("counter %d != consumed %d", h.rx.Counter(), res.Consumed)
	}
	if len(h.observer.fcch) != 1 || h.observer.fcch[0].Refined || !h.observer.fcch[0].Applied {
		t.Fatalf("unexpected events %+v", h.observer.fcch)
	}
	if res.Produced != 0 {
		t.Fatalf("acquisition must not produce output, got %d", res.Produced)
	}
}

func TestFirstFCCHStaysOnMiss(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(12))
	res := h.rx.Work(noise(rng, 2000, 1))
	if res.Outcome != NotFound || res.State != FirstFCCHSearch {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.tuner.calls) != 0 {
		t.Fatalf("tuner must not be called on a miss")
	}
	if res.Consumed <= 0 || res.Consumed > 2000 {
		t.Fatalf("consumed %d out of range", res.Consumed)
	}
}

func TestRefinedFCCHThreshold(t *testing.T) {
	tests := []struct {
		name      string
		running   float64
		wantCalls int
	}{
		{name: "small drift", running: 0, wantCalls: 0},
		{name: "large drift", running: -800, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.rx.state = NextFCCHSearch
			h.rx.freqOffset = tt.running
			rng := rand.New(rand.NewSource(13))
			in := concat(noise(rng, 200, 1), fcchTone(BurstSize*4, math.Pi/8), noise(rng, 400, 1))

			res := h.rx.Work(in)
			if res.Outcome != Found || res.State != SCHSearch {
				t.Fatalf("unexpected result %+v", res)
			}
			if len(h.tuner.calls) != tt.wantCalls {
				t.Fatalf("tuner calls %v want %d", h.tuner.calls, tt.wantCalls)
			}
			if !h.observer.fcch[0].Refined {
				t.Fatalf("event should be marked refined")
			}
		})
	}
}

func TestTunerErrorIsCounted(t *testing.T) {
	h := newHarness(t)
	h.tuner.err = errors.New("ssh down")
	rng := rand.New(rand.NewSource(14))
	in := concat(noise(rng, 200, 1), fcchTone(BurstSize*4, math.Pi/8), noise(rng, 400, 1))

	res := h.rx.Work(in)
	if res.State != NextFCCHSearch {
		t.Fatalf("cycle should advance despite tuner error, state %v", res.State)
	}
	if tunerErrs, _ := h.rx.Errors(); tunerErrs != 1 {
		t.Fatalf("tuner errors %d want 1", tunerErrs)
	}
	if h.observer.fcch[0].Applied {
		t.Fatalf("failed correction must not be reported as applied")
	}
}

func TestReadBCCHConsumesEverything(t *testing.T) {
	h := newHarness(t)
	h.rx.state = ReadBCCH
	res := h.rx.Work(make([]complex64, 777))
	if res.Consumed != 777 || res.Produced != 0 || res.State != ReadBCCH {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.rx.Counter() != 777 {
		t.Fatalf("counter %d", h.rx.Counter())
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		FirstFCCHSearch: "first_fcch_search",
		NextFCCHSearch:  "next_fcch_search",
		SCHSearch:       "sch_search",
		ReadBCCH:        "read_bcch",
		State(9):        "unknown",
	} {
		if s.String() != want {
			t.Fatalf("%d: got %q want %q", s, s.String(), want)
		}
	}
}
