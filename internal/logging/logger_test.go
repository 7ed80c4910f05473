package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", Debug, true},
		{"", Info, true},
		{" WARNING ", Warn, true},
		{"error", Error, true},
		{"loud", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseLevel(%q) err=%v", tt.in, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestTextLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf).With(Field{Key: "subsystem", Value: "gsm"})
	l.Info("hidden")
	l.Warn("sch decode failed", Field{Key: "fn", Value: 42})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] sch decode failed subsystem=gsm fn=42") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestJSONLoggerRendersErrors(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf)
	l.Error("tuner", Field{Key: "error", Value: errors.New("boom")})

	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if payload["error"] != "boom" || payload["level"] != "ERROR" || payload["msg"] != "tuner" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
