package gsm

import (
	"errors"
	"fmt"
	"math"

	"github.com/rjboer/GoGSM/internal/logging"
)

var errShortDecision = errors.New("gsm: sequence detector returned too few decisions")

// State is the acquisition stage the receiver is in.
type State int

const (
	FirstFCCHSearch State = iota
	NextFCCHSearch
	SCHSearch
	ReadBCCH
)

func (s State) String() string {
	switch s {
	case FirstFCCHSearch:
		return "first_fcch_search"
	case NextFCCHSearch:
		return "next_fcch_search"
	case SCHSearch:
		return "sch_search"
	case ReadBCCH:
		return "read_bcch"
	default:
		return "unknown"
	}
}

// Tuner applies a frequency correction to the local oscillator.
type Tuner interface {
	SetFrequency(offsetHz float64) error
}

// Detector is a maximum-likelihood sequence detector. It receives the
// matched-filtered burst, the conjugated channel autocorrelation (one tap
// per symbol) and the allowed terminal states, and returns one soft
// decision per burst symbol.
type Detector interface {
	Detect(burst []complex128, rhh []complex128, stopStates []int) ([]float64, error)
}

// FrameDecoder recovers the frame number and base station identity code
// from the hard decisions following the leading tail bits of an SCH burst.
type FrameDecoder interface {
	Decode(bits []int) (fn int, bsic int, err error)
}

// FCCHEvent is emitted for every detected frequency correction burst.
type FCCHEvent struct {
	Position   int64   // absolute sample index of the burst start
	Estimate   float64 // offset measured on this burst, Hz
	FreqOffset float64 // running correction after this burst, Hz
	Refined    bool    // detected while validating a previous estimate
	Applied    bool    // the running correction was sent to the tuner
}

// Observer receives acquisition events. Calls happen synchronously inside Work.
type Observer interface {
	OnFCCH(FCCHEvent)
	OnSync(SyncResult)
}

// WorkResult is the accounting reported back to the streaming driver.
type WorkResult struct {
	Consumed int
	Produced int
	Outcome  Outcome
	State    State // state after the call
}

// Receiver is the burst acquisition state machine. It is not safe for
// concurrent use; one driver owns it and feeds it sample blocks.
type Receiver struct {
	cfg      Config
	tuner    Tuner
	detector Detector
	decoder  FrameDecoder
	observer Observer
	logger   logging.Logger

	state        State
	counter      int64
	fcchStartPos int64
	freqOffset   float64
	lastEstimate float64
	bestSum      float64
	stats        OffsetStats
	tunerErrors  int
	syncErrors   int

	trainingSeq []complex128
	ring        *phaseRing

	corr     []complex128
	power    []float64
	energy   []float64
	chanResp []complex128
	rhhTemp  []complex128
	rhh      []complex128
	filtered [BurstSize]complex128
}

// Option customises a Receiver.
type Option func(*Receiver)

// WithDetector overrides the sequence detector.
func WithDetector(d Detector) Option { return func(r *Receiver) { r.detector = d } }

// WithFrameDecoder overrides the SCH frame decoder.
func WithFrameDecoder(d FrameDecoder) Option { return func(r *Receiver) { r.decoder = d } }

// WithObserver registers an event observer.
func WithObserver(o Observer) Option { return func(r *Receiver) { r.observer = o } }

// WithLogger sets the logger; logging.Default() is used otherwise.
func WithLogger(l logging.Logger) Option { return func(r *Receiver) { r.logger = l } }

// NewReceiver validates cfg and builds a receiver in FirstFCCHSearch.
// A detector and frame decoder must be supplied through options.
func NewReceiver(cfg Config, tuner Tuner, opts ...Option) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tuner == nil {
		return nil, fmt.Errorf("%w: tuner is required", ErrConfig)
	}
	searchLen := cfg.SyncSearchRange * cfg.OSR
	r := &Receiver{
		cfg:         cfg,
		tuner:       tuner,
		state:       FirstFCCHSearch,
		trainingSeq: GMSKMap(SyncBits[:]),
		ring:        newPhaseRing(cfg.fcchWindow()),
		corr:        make([]complex128, searchLen),
		power:       make([]float64, searchLen),
		energy:      make([]float64, searchLen),
		chanResp:    make([]complex128, cfg.chanSpan()),
		rhhTemp:     make([]complex128, cfg.chanSpan()),
		rhh:         make([]complex128, cfg.ChanImpLength),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.detector == nil || r.decoder == nil {
		return nil, fmt.Errorf("%w: detector and frame decoder are required", ErrConfig)
	}
	if r.logger == nil {
		r.logger = logging.Default()
	}
	r.logger = r.logger.With(logging.Field{Key: "subsystem", Value: "gsm"})
	return r, nil
}

// Forecast returns the number of input samples needed to produce nOutput bursts.
func (r *Receiver) Forecast(nOutput int) int {
	return nOutput * (TSBits + 2*SafetyMargin) * r.cfg.OSR
}

// Work runs the search of the current state once over in and advances the
// state machine. Exactly Consumed leading samples of in are used up; the
// driver must present the rest again, followed by new samples, on the next call.
func (r *Receiver) Work(in []complex64) WorkResult {
	var res SearchResult
	prev := r.state

	switch r.state {
	case FirstFCCHSearch:
		res = r.findFCCH(in)
		if res.Outcome == Found {
			applied := r.setFrequency(r.freqOffset)
			r.emitFCCH(false, applied)
			r.state = NextFCCHSearch
		}

	case NextFCCHSearch:
		prevOffset := r.freqOffset
		res = r.findFCCH(in)
		if res.Outcome == Found {
			applied := false
			if math.Abs(r.freqOffset) > r.cfg.MaxFreqOffset {
				r.logger.Debug("refined offset above threshold",
					logging.Field{Key: "offset_hz", Value: r.freqOffset},
					logging.Field{Key: "mean_offset_hz", Value: (prevOffset + r.freqOffset) / 2})
				applied = r.setFrequency(r.freqOffset)
			}
			r.emitFCCH(true, applied)
			r.state = SCHSearch
		}

	case SCHSearch:
		var sync *SyncResult
		res, sync = r.findSCH(in)
		if res.Outcome == Found {
			r.reportSync(sync)
			// Re-acquire continuously to follow oscillator drift.
			r.state = NextFCCHSearch
		}

	case ReadBCCH:
		r.counter += int64(len(in))
		res = SearchResult{Consumed: len(in), Outcome: NotFound}
	}

	if r.state != prev {
		r.logger.Debug("state transition",
			logging.Field{Key: "from", Value: prev.String()},
			logging.Field{Key: "to", Value: r.state.String()},
			logging.Field{Key: "counter", Value: r.counter})
	}

	return WorkResult{Consumed: res.Consumed, Outcome: res.Outcome, State: r.state}
}

func (r *Receiver) setFrequency(offset float64) bool {
	if err := r.tuner.SetFrequency(offset); err != nil {
		r.tunerErrors++
		r.logger.Error("apply frequency correction failed",
			logging.Field{Key: "offset_hz", Value: offset},
			logging.Field{Key: "error", Value: fmt.Errorf("tuner: %w", err)})
		return false
	}
	return true
}

func (r *Receiver) emitFCCH(refined, applied bool) {
	ev := FCCHEvent{
		Position:   r.fcchStartPos,
		Estimate:   r.lastEstimate,
		FreqOffset: r.freqOffset,
		Refined:    refined,
		Applied:    applied,
	}
	r.logger.Info("fcch found",
		logging.Field{Key: "position", Value: ev.Position},
		logging.Field{Key: "estimate_hz", Value: ev.Estimate},
		logging.Field{Key: "freq_offset_hz", Value: ev.FreqOffset},
		logging.Field{Key: "refined", Value: refined})
	if r.observer != nil {
		r.observer.OnFCCH(ev)
	}
}

func (r *Receiver) reportSync(sync *SyncResult) {
	if sync == nil {
		return
	}
	if sync.Err != nil {
		r.syncErrors++
		r.logger.Warn("sch decode failed",
			logging.Field{Key: "burst_start", Value: sync.BurstStart},
			logging.Field{Key: "error", Value: sync.Err})
	} else {
		r.logger.Info("sch found",
			logging.Field{Key: "burst_start", Value: sync.BurstStart},
			logging.Field{Key: "fn", Value: sync.FN},
			logging.Field{Key: "bsic", Value: sync.BSIC})
	}
	if r.observer != nil {
		r.observer.OnSync(*sync)
	}
}

// State returns the current acquisition state.
func (r *Receiver) State() State { return r.state }

// Counter returns the absolute index of the next unconsumed sample.
func (r *Receiver) Counter() int64 { return r.counter }

// FreqOffset returns the running frequency correction in Hz.
func (r *Receiver) FreqOffset() float64 { return r.freqOffset }

// FCCHStartPos returns the absolute position of the last detected FCCH burst.
func (r *Receiver) FCCHStartPos() int64 { return r.fcchStartPos }

// Stats returns the accumulated FCCH offset statistics.
func (r *Receiver) Stats() OffsetStats { return r.stats }

// Errors returns the number of failed tuner calls and failed SCH decodes.
func (r *Receiver) Errors() (tuner, sync int) { return r.tunerErrors, r.syncErrors }
