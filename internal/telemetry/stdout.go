package telemetry

import (
	"github.com/rjboer/GoGSM/internal/logging"
)

// StdoutReporter writes each event as a structured log line.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter on logger, or the default logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger.With(logging.Field{Key: "subsystem", Value: "telemetry"})}
}

func (r StdoutReporter) Report(ev Event) {
	fields := []logging.Field{
		{Key: "kind", Value: string(ev.Kind)},
		{Key: "position", Value: ev.Position},
		{Key: "freq_offset_hz", Value: ev.FreqOffsetHz},
	}
	switch ev.Kind {
	case KindFCCH:
		fields = append(fields,
			logging.Field{Key: "estimate_hz", Value: ev.EstimateHz},
			logging.Field{Key: "refined", Value: ev.Refined},
		)
		if ev.ToneSNRdB != 0 {
			fields = append(fields,
				logging.Field{Key: "tone_hz", Value: ev.ToneHz},
				logging.Field{Key: "tone_snr_db", Value: ev.ToneSNRdB},
			)
		}
	case KindSCH:
		if ev.Error != "" {
			fields = append(fields, logging.Field{Key: "error", Value: ev.Error})
			r.logger.Warn("sch event", fields...)
			return
		}
		fields = append(fields,
			logging.Field{Key: "fn", Value: ev.FN},
			logging.Field{Key: "bsic", Value: ev.BSIC},
		)
	}
	r.logger.Info("acquisition event", fields...)
}
