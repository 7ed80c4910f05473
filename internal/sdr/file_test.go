package sdr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
)

func TestFileSourceCS16(t *testing.T) {
	samples := []complex64{complex(0.5, -0.5), complex(1.5, -2), 0, complex(-0.25, 0.125), complex(0.1, 0.2)}
	var buf bytes.Buffer
	if err := WriteCS16(&buf, samples); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := NewFileSource(io.NopCloser(&buf), Config{FileFormat: "cs16", BlockSize: 3})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	defer src.Close()

	first := readN(t, src, 3)
	if len(first) != 3 {
		t.Fatalf("first block has %d samples", len(first))
	}
	// Full scale clips.
	if real(first[1]) < 0.999 || imag(first[1]) > -0.999 {
		t.Fatalf("expected clipping, got %v", first[1])
	}
	if math.Abs(float64(real(first[0]))-0.5) > 1e-3 {
		t.Fatalf("unexpected sample %v", first[0])
	}
	second, err := src.Read(context.Background())
	if err != nil || len(second) != 2 {
		t.Fatalf("short tail block: %d samples, err %v", len(second), err)
	}
	if _, err := src.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFileSourceCF32(t *testing.T) {
	raw := make([]byte, 16)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-1))
	binary.LittleEndian.PutUint32(raw[8:], math.Float32bits(3))
	binary.LittleEndian.PutUint32(raw[12:], math.Float32bits(0))
	src, err := NewFileSource(io.NopCloser(bytes.NewReader(raw)), Config{})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	got, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0] != complex(0.25, -1) || got[1] != 3 {
		t.Fatalf("unexpected samples %v", got)
	}
}

func TestFileSourceRejectsFormat(t *testing.T) {
	if _, err := NewFileSource(io.NopCloser(bytes.NewReader(nil)), Config{FileFormat: "u8"}); err == nil {
		t.Fatalf("expected format error")
	}
}
