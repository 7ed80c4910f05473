// Package app drives the GSM receiver from a sample source and forwards its
// events to telemetry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rjboer/GoGSM/internal/dsp"
	"github.com/rjboer/GoGSM/internal/gsm"
	"github.com/rjboer/GoGSM/internal/logging"
	"github.com/rjboer/GoGSM/internal/sch"
	"github.com/rjboer/GoGSM/internal/sdr"
	"github.com/rjboer/GoGSM/internal/telemetry"
	"github.com/rjboer/GoGSM/internal/viterbi"
)

// ErrStalled is returned when the receiver keeps asking for more samples
// than MaxBuffered allows.
var ErrStalled = errors.New("app: receiver stalled")

// fcchToneHz is the nominal baseband frequency of an FCCH burst.
const fcchToneHz = gsm.SymbolRate / 4

// Config controls the streaming driver.
type Config struct {
	Receiver     gsm.Config
	MaxBlocks    int  // stop after this many source blocks; zero runs until EOF or cancel
	MaxBuffered  int  // carry-over limit in samples; zero selects 64 forecasts
	ToneCheck    bool // cross-check every FCCH estimate with an FFT
	MaxSCHErrors int  // coded bit errors tolerated by the SCH decoder; zero selects the default, negative tolerates none
}

// Counters summarises a run.
type Counters struct {
	Blocks   int
	Samples  int64
	Consumed int64
	FCCH     int
	SCH      int
}

// Acquirer owns a receiver and feeds it from a source. It implements
// gsm.Observer to turn receiver events into telemetry.
type Acquirer struct {
	src      sdr.Source
	rx       *gsm.Receiver
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config
	tone     *dsp.ToneEstimator

	buf      []complex64
	base     int64
	counters Counters
}

// NewAcquirer builds the receiver with the MLSE detector and SCH decoder
// and binds it to src and tuner.
func NewAcquirer(src sdr.Source, tuner gsm.Tuner, reporter telemetry.Reporter, logger logging.Logger, cfg Config) (*Acquirer, error) {
	if src == nil {
		return nil, fmt.Errorf("app: sample source is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Acquirer{
		src:      src,
		reporter: reporter,
		logger:   logger.With(logging.Field{Key: "subsystem", Value: "acquirer"}),
		cfg:      cfg,
	}

	decoder := sch.NewDecoder()
	switch {
	case cfg.MaxSCHErrors > 0:
		decoder.MaxErrors = cfg.MaxSCHErrors
	case cfg.MaxSCHErrors < 0:
		decoder.MaxErrors = 0
	}
	rx, err := gsm.NewReceiver(cfg.Receiver, tuner,
		gsm.WithDetector(viterbi.New(viterbi.WithPhase(gsm.SymbolPhase), viterbi.WithStartState(gsm.TailState))),
		gsm.WithFrameDecoder(decoder),
		gsm.WithObserver(a),
		gsm.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	a.rx = rx

	forecast := rx.Forecast(1)
	if a.cfg.MaxBuffered == 0 {
		a.cfg.MaxBuffered = 64 * forecast
	}
	if a.cfg.MaxBuffered < 2*forecast {
		return nil, fmt.Errorf("%w: max buffered %d below twice the forecast %d", gsm.ErrConfig, a.cfg.MaxBuffered, forecast)
	}

	if cfg.ToneCheck {
		osr := cfg.Receiver.OSR
		a.tone, err = dsp.NewToneEstimator(gsm.BurstSize*osr, gsm.SymbolRate*float64(osr))
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Receiver exposes the driven receiver for inspection.
func (a *Acquirer) Receiver() *gsm.Receiver { return a.rx }

// Counters returns the accounting of the run so far.
func (a *Acquirer) Counters() Counters { return a.counters }

// Buffered returns the number of samples carried over to the next call.
func (a *Acquirer) Buffered() int { return len(a.buf) }

// Run reads blocks until ctx ends, the source reports io.EOF or MaxBlocks
// is reached. Every consumed sample is accounted for: the receiver counter
// always equals the total consumed.
func (a *Acquirer) Run(ctx context.Context) error {
	forecast := a.rx.Forecast(1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.cfg.MaxBlocks > 0 && a.counters.Blocks >= a.cfg.MaxBlocks {
			return nil
		}
		block, err := a.src.Read(ctx)
		if errors.Is(err, io.EOF) {
			a.logger.Info("source exhausted",
				logging.Field{Key: "samples", Value: a.counters.Samples},
				logging.Field{Key: "carried", Value: len(a.buf)})
			return nil
		}
		if err != nil {
			return fmt.Errorf("read samples: %w", err)
		}
		a.counters.Blocks++
		a.counters.Samples += int64(len(block))
		a.buf = append(a.buf, block...)

		if err := a.drain(forecast); err != nil {
			return err
		}
	}
}

// drain calls Work while a full forecast is buffered and the receiver makes
// progress, then compacts the carry-over.
func (a *Acquirer) drain(forecast int) error {
	for len(a.buf) >= forecast {
		a.base = a.rx.Counter()
		res := a.rx.Work(a.buf)
		if res.Consumed < 0 || res.Consumed > len(a.buf) {
			return fmt.Errorf("app: receiver consumed %d of %d samples", res.Consumed, len(a.buf))
		}
		a.counters.Consumed += int64(res.Consumed)
		if got := a.rx.Counter(); got != a.counters.Consumed {
			return fmt.Errorf("app: receiver counter %d, driver consumed %d", got, a.counters.Consumed)
		}
		if res.Consumed == 0 {
			break
		}
		a.buf = a.buf[:copy(a.buf, a.buf[res.Consumed:])]
	}
	if len(a.buf) > a.cfg.MaxBuffered {
		return fmt.Errorf("%w: %d samples buffered in %s", ErrStalled, len(a.buf), a.rx.State())
	}
	return nil
}

// OnFCCH implements gsm.Observer.
func (a *Acquirer) OnFCCH(ev gsm.FCCHEvent) {
	a.counters.FCCH++
	out := telemetry.Event{
		Kind:         telemetry.KindFCCH,
		Position:     ev.Position,
		EstimateHz:   ev.Estimate,
		FreqOffsetHz: ev.FreqOffset,
		Refined:      ev.Refined,
		Applied:      ev.Applied,
	}
	if a.tone != nil {
		// Work has not returned yet, so buf still starts at base.
		start := ev.Position - a.base
		end := start + int64(a.tone.Size())
		if start >= 0 && end <= int64(len(a.buf)) {
			tone, err := a.tone.Estimate(a.buf[start:end])
			if err == nil {
				out.ToneHz = tone.FrequencyHz - fcchToneHz
				out.ToneSNRdB = tone.SNRdB
			}
		}
	}
	a.report(out)
}

// OnSync implements gsm.Observer.
func (a *Acquirer) OnSync(res gsm.SyncResult) {
	a.counters.SCH++
	out := telemetry.Event{
		Kind:         telemetry.KindSCH,
		Position:     res.BurstStart,
		FreqOffsetHz: res.FreqOffset,
		FN:           res.FN,
		BSIC:         res.BSIC,
		CenterTap:    res.CenterTap,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	a.report(out)
}

func (a *Acquirer) report(ev telemetry.Event) {
	if a.reporter != nil {
		a.reporter.Report(ev)
	}
}
