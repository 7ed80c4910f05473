package sdr

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
)

// FileSource replays an interleaved IQ recording captured at OSR samples
// per symbol. Supported formats are cf32 (little-endian float32 pairs) and
// cs16 (little-endian int16 pairs, full scale 32768).
type FileSource struct {
	mu     sync.Mutex
	cfg    Config
	f      io.ReadCloser
	r      *bufio.Reader
	width  int
	raw    []byte
	closed bool
}

// OpenFile opens cfg.Path for replay. A path of "-" reads standard input,
// which lets a live capture tool pipe samples in.
func OpenFile(cfg Config) (*FileSource, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "-" {
		return NewFileSource(io.NopCloser(os.Stdin), cfg)
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	src, err := NewFileSource(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// NewFileSource wraps an already open stream.
func NewFileSource(rc io.ReadCloser, cfg Config) (*FileSource, error) {
	cfg = cfg.withDefaults()
	var width int
	switch strings.ToLower(cfg.FileFormat) {
	case "", "cf32":
		cfg.FileFormat = "cf32"
		width = 8
	case "cs16":
		width = 4
	default:
		return nil, fmt.Errorf("sdr: unsupported sample format %q", cfg.FileFormat)
	}
	return &FileSource{
		cfg:   cfg,
		f:     rc,
		r:     bufio.NewReaderSize(rc, 1<<16),
		width: width,
		raw:   make([]byte, cfg.BlockSize*width),
	}, nil
}

// Read returns up to BlockSize samples. The final block may be shorter;
// afterwards io.EOF is returned.
func (s *FileSource) Read(ctx context.Context) ([]complex64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	n, err := io.ReadFull(s.r, s.raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	n -= n % s.width
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if s.width == 4 {
		return cs16ToComplex(s.raw[:n]), nil
	}
	return cf32ToComplex(s.raw[:n]), nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

func cs16ToComplex(raw []byte) []complex64 {
	out := make([]complex64, len(raw)/4)
	scale := float32(1.0 / 32768.0)
	for i := range out {
		iv := int16(binary.LittleEndian.Uint16(raw[4*i:]))
		qv := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
		out[i] = complex(float32(iv)*scale, float32(qv)*scale)
	}
	return out
}

func cf32ToComplex(raw []byte) []complex64 {
	out := make([]complex64, len(raw)/8)
	for i := range out {
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
		out[i] = complex(re, im)
	}
	return out
}

// WriteCS16 encodes samples as cs16, clipping at full scale.
func WriteCS16(w io.Writer, samples []complex64) error {
	buf := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[4*i:], uint16(floatToInt16(real(v))))
		binary.LittleEndian.PutUint16(buf[4*i+2:], uint16(floatToInt16(imag(v))))
	}
	_, err := w.Write(buf)
	return err
}

func floatToInt16(v float32) int16 {
	scaled := int(math.Round(float64(v * 32767)))
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}
