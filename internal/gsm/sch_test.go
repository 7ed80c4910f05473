package gsm

import (
	"errors"
	"math/rand"
	"testing"
)

// schBurst builds the symbols of a full SCH burst: tail, random coded bits,
// the training sequence, random coded bits and tail.
func schBurst(rng *rand.Rand) []complex128 {
	bits := make([]int, BurstSize)
	for i := TailBits; i < BurstSize-TailBits; i++ {
		bits[i] = rng.Intn(2)
	}
	copy(bits[TailBits+SCHDataBits:], SyncBits[:])
	return GMSKMap(bits)
}

// positionAtSCH puts the receiver in SCHSearch exactly at the SCH window.
func positionAtSCH(h *harness) {
	h.rx.state = SCHSearch
	h.rx.fcchStartPos = 1000
	h.rx.counter = 1000 + int64((FrameBits-SafetyMargin)*h.rx.cfg.OSR)
}

func TestSCHReachesRegionFirst(t *testing.T) {
	h := newHarness(t)
	h.rx.state = SCHSearch
	h.rx.fcchStartPos = 0
	near := int64((FrameBits - SafetyMargin) * 4)

	res := h.rx.Work(make([]complex64, 3000))
	if res.Outcome != NeedMore || res.Consumed != 3000 || res.State != SCHSearch {
		t.Fatalf("first call %+v", res)
	}
	res = h.rx.Work(make([]complex64, 3000))
	if res.Outcome != NeedMore || int64(res.Consumed) != near-3000 {
		t.Fatalf("second call %+v, want consumed %d", res, near-3000)
	}
	if h.rx.Counter() != near {
		t.Fatalf("counter %d want %d", h.rx.Counter(), near)
	}
}

func TestSCHLocatesTrainingSequence(t *testing.T) {
	h := newHarness(t)
	positionAtSCH(h)
	rng := rand.New(rand.NewSource(31))

	const osr = 4
	const burstAt = 48
	in := noise(rng, 1000, 0.3)
	copy(in[burstAt:], hold(schBurst(rng), osr))
	startCounter := h.rx.Counter()

	res := h.rx.Work(in)
	if res.Outcome != Found || res.State != NextFCCHSearch {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Consumed != h.rx.cfg.SyncSearchRange*osr {
		t.Fatalf("consumed %d", res.Consumed)
	}
	if len(h.observer.sync) != 1 {
		t.Fatalf("expected one sync result, got %d", len(h.observer.sync))
	}
	sync := h.observer.sync[0]
	want := startCounter + burstAt
	tol := int64(h.rx.cfg.ChanImpLength * osr)
	if sync.BurstStart < want-tol || sync.BurstStart > want+tol {
		t.Fatalf("burst start %d, want %d±%d", sync.BurstStart, want, tol)
	}
	if sync.Err != nil || sync.FN != 1234 || sync.BSIC != 17 {
		t.Fatalf("unexpected decode %+v", sync)
	}
	if len(sync.ChannelResp) != h.rx.cfg.chanSpan() {
		t.Fatalf("channel response has %d taps", len(sync.ChannelResp))
	}
	if h.detector.burstLen != BurstSize || h.detector.rhhLen != h.rx.cfg.ChanImpLength {
		t.Fatalf("detector saw burst=%d rhh=%d", h.detector.burstLen, h.detector.rhhLen)
	}
	if len(h.detector.stopStates) != 2 {
		t.Fatalf("stop states %v", h.detector.stopStates)
	}
	if len(h.decoder.bits) != BurstSize-TailBits || h.decoder.bits[0] != 0 || h.decoder.bits[1] != 1 {
		t.Fatalf("decoder got %d bits starting %v", len(h.decoder.bits), h.decoder.bits[:2])
	}
}

func TestSCHNeedsWholeBurst(t *testing.T) {
	h := newHarness(t)
	positionAtSCH(h)
	before := h.rx.Counter()

	res := h.rx.Work(make([]complex64, 400))
	if res.Outcome != NeedMore || res.Consumed != 0 || res.State != SCHSearch {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.rx.Counter() != before {
		t.Fatalf("counter moved without consumption")
	}
}

func TestSCHDecodeFailureIsReported(t *testing.T) {
	h := newHarness(t)
	positionAtSCH(h)
	h.decoder.err = errors.New("parity")
	rng := rand.New(rand.NewSource(32))
	in := noise(rng, 1000, 0.3)
	copy(in[48:], hold(schBurst(rng), 4))

	res := h.rx.Work(in)
	if res.State != NextFCCHSearch {
		t.Fatalf("state %v, want re-acquisition", res.State)
	}
	if _, syncErrs := h.rx.Errors(); syncErrs != 1 {
		t.Fatalf("sync errors %d", syncErrs)
	}
	if h.observer.sync[0].Err == nil {
		t.Fatalf("error not propagated to observer")
	}
}

func TestSCHDetectorFailureSkipsDecoder(t *testing.T) {
	h := newHarness(t)
	positionAtSCH(h)
	h.detector.err = errors.New("bad channel")
	rng := rand.New(rand.NewSource(33))
	in := noise(rng, 1000, 0.3)
	copy(in[48:], hold(schBurst(rng), 4))

	h.rx.Work(in)
	if h.decoder.bits != nil {
		t.Fatalf("decoder must not run after a detector failure")
	}
	if h.observer.sync[0].Err == nil {
		t.Fatalf("detector error lost")
	}
}
