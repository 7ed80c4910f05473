package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/segmentio/parquet-go"

	"github.com/rjboer/GoGSM/internal/logging"
)

// EventRow is the parquet schema of a recorded event.
type EventRow struct {
	TimestampNs  int64   `parquet:"timestamp_ns"`
	Kind         string  `parquet:"kind"`
	Position     int64   `parquet:"position"`
	FreqOffsetHz float64 `parquet:"freq_offset_hz"`
	EstimateHz   float64 `parquet:"estimate_hz"`
	ToneHz       float64 `parquet:"tone_hz"`
	ToneSNRdB    float64 `parquet:"tone_snr_db"`
	Refined      bool    `parquet:"refined"`
	Applied      bool    `parquet:"applied"`
	FN           int64   `parquet:"fn"`
	BSIC         int32   `parquet:"bsic"`
	CenterTap    int32   `parquet:"center_tap"`
	Error        string  `parquet:"error"`
}

func rowFromEvent(ev Event) EventRow {
	return EventRow{
		TimestampNs:  ev.Timestamp.UnixNano(),
		Kind:         string(ev.Kind),
		Position:     ev.Position,
		FreqOffsetHz: ev.FreqOffsetHz,
		EstimateHz:   ev.EstimateHz,
		ToneHz:       ev.ToneHz,
		ToneSNRdB:    ev.ToneSNRdB,
		Refined:      ev.Refined,
		Applied:      ev.Applied,
		FN:           int64(ev.FN),
		BSIC:         int32(ev.BSIC),
		CenterTap:    int32(ev.CenterTap),
		Error:        ev.Error,
	}
}

// ParquetRecorder appends every reported event to a parquet file. The
// run configuration is stored as JSON in the file's "config" metadata key.
type ParquetRecorder struct {
	mu     sync.Mutex
	file   io.Closer
	writer *parquet.GenericWriter[EventRow]
	logger logging.Logger
	rows   int
	err    error
}

// NewParquetRecorder writes to w, which is closed by Close.
func NewParquetRecorder(w io.WriteCloser, meta any, logger logging.Logger) *ParquetRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	configStr := "{}"
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			configStr = string(b)
		}
	}
	return &ParquetRecorder{
		file:   w,
		writer: parquet.NewGenericWriter[EventRow](w, parquet.KeyValueMetadata("config", configStr)),
		logger: logger.With(logging.Field{Key: "subsystem", Value: "recorder"}),
	}
}

// CreateParquetRecorder creates (or truncates) path and records into it.
func CreateParquetRecorder(path string, meta any, logger logging.Logger) (*ParquetRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return NewParquetRecorder(f, meta, logger), nil
}

// Report writes ev as one row. After the first write error the recorder
// stops writing and the error is returned by Err and Close.
func (p *ParquetRecorder) Report(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	if _, err := p.writer.Write([]EventRow{rowFromEvent(ev)}); err != nil {
		p.err = fmt.Errorf("write event row: %w", err)
		p.logger.Error("recording disabled", logging.Field{Key: "error", Value: p.err})
		return
	}
	p.rows++
}

// Rows returns the number of rows written so far.
func (p *ParquetRecorder) Rows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows
}

// Err returns the first write error, if any.
func (p *ParquetRecorder) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close flushes the footer and closes the underlying file.
func (p *ParquetRecorder) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writer.Close(); err != nil {
		p.file.Close()
		return err
	}
	if err := p.file.Close(); err != nil {
		return err
	}
	return p.err
}
