package gsm

import (
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/GoGSM/internal/logging"
)

type schState int

const (
	schStart schState = iota
	schReach
	schFindStart
	schNotFinished
	schFound
)

// syncLead is the distance in symbols from the burst start to the first
// training symbol used for correlation.
const syncLead = TailBits + SCHDataBits + syncTrim + 1

// burstStartFudge is an empirical sample offset that lines the matched
// filter up with the first tail bit.
const burstStartFudge = 2

// SyncResult describes one SCH acquisition attempt that reached the
// equalizer. Err is set when the sequence detector or frame decoder failed.
type SyncResult struct {
	BurstStart  int64        // absolute sample index of the burst
	FCCHPos     int64        // absolute sample index of the preceding FCCH
	FreqOffset  float64      // running frequency offset at detection time
	ChannelResp []complex128 // oversampled channel impulse response
	CenterTap   int          // strongest tap within ChannelResp
	Bits        []int        // hard decisions for the whole burst
	FN          int
	BSIC        int
	Err         error
}

// findSCH positions on the SCH burst one frame after the last FCCH,
// estimates the channel, equalizes the burst and decodes it.
func (r *Receiver) findSCH(in []complex64) (SearchResult, *SyncResult) {
	nitems := len(in)
	osr := r.cfg.OSR
	nearSCH := r.fcchStartPos + int64((FrameBits-SafetyMargin)*osr)

	var (
		toConsume int
		outcome   = NeedMore
		result    *SyncResult
		state     = schStart
	)

loop:
	for {
		switch state {
		case schStart:
			if r.counter < nearSCH {
				state = schReach
			} else {
				state = schFindStart
			}

		case schReach:
			if r.counter+int64(nitems) >= nearSCH {
				toConsume = int(nearSCH - r.counter)
			} else {
				toConsume = nitems
			}
			state = schNotFinished

		case schFindStart:
			res, ok := r.estimateAndDetect(in)
			if !ok {
				state = schNotFinished
				continue
			}
			toConsume = r.cfg.SyncSearchRange * osr
			result = res
			state = schFound

		case schNotFinished:
			break loop

		case schFound:
			outcome = Found
			break loop
		}
	}

	r.counter += int64(toConsume)
	return SearchResult{Consumed: toConsume, Outcome: outcome}, result
}

// estimateAndDetect runs the correlation, channel estimation, matched filter
// and decoding chain on a buffer positioned near the SCH. It reports false
// without touching any state when in is too short for the chain.
func (r *Receiver) estimateAndDetect(in []complex64) (*SyncResult, bool) {
	osr := r.cfg.OSR
	span := r.cfg.chanSpan()
	searchLen := r.cfg.SyncSearchRange * osr
	first := SyncPos * osr
	seq := r.trainingSeq[syncTrim : NSyncBits-syncTrim]

	corrSpan := first + searchLen + (len(seq)-1)*osr
	if len(in) < corrSpan {
		return nil, false
	}

	for k := 0; k < searchLen; k++ {
		c := CorrelateSequence(seq, in[first+k:], osr)
		r.corr[k] = c
		a := cmplx.Abs(c)
		r.power[k] = a * a
	}

	// Only complete windows are considered.
	nWindows := searchLen - span + 1
	for w := 0; w < nWindows; w++ {
		r.energy[w] = floats.Sum(r.power[w : w+span])
	}
	strongest := floats.MaxIdx(r.energy[:nWindows])

	center := 0
	maxCorr := 0.0
	for k := 0; k < span; k++ {
		c := r.corr[strongest+k]
		if a := cmplx.Abs(c); a > maxCorr {
			maxCorr = a
			center = k
		}
		r.chanResp[k] = c
	}

	Autocorrelation(r.chanResp, r.rhhTemp)
	for k := range r.rhh {
		r.rhh[k] = cmplx.Conj(r.rhhTemp[k*osr])
	}

	burstStart := strongest + center - syncLead*osr - (r.cfg.ChanImpLength/2)*osr + burstStartFudge + first
	if burstStart < 0 {
		r.logger.Debug("sch burst start before buffer, clamping",
			logging.Field{Key: "burst_start", Value: burstStart})
		burstStart = 0
	}
	if burstStart+BurstSize*osr > len(in) {
		return nil, false
	}

	MatchedFilter(in[burstStart:], r.chanResp, osr, r.filtered[:])

	res := &SyncResult{
		BurstStart:  r.counter + int64(burstStart),
		FCCHPos:     r.fcchStartPos,
		FreqOffset:  r.freqOffset,
		ChannelResp: append([]complex128(nil), r.chanResp...),
		CenterTap:   center,
	}

	soft, err := r.detector.Detect(r.filtered[:], r.rhh, r.cfg.StopStates)
	if err != nil {
		res.Err = err
		return res, true
	}
	bits := make([]int, len(soft))
	for i, s := range soft {
		if s > 0 {
			bits[i] = 1
		}
	}
	res.Bits = bits
	if len(bits) < r.cfg.BitSkip {
		res.Err = errShortDecision
		return res, true
	}
	res.FN, res.BSIC, res.Err = r.decoder.Decode(bits[r.cfg.BitSkip:])
	return res, true
}
