// Package telemetry records acquisition events and serves them over HTTP,
// server-sent events and WebSocket.
package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rjboer/GoGSM/internal/logging"
)

// Kind names the burst an event reports.
type Kind string

const (
	KindFCCH Kind = "fcch"
	KindSCH  Kind = "sch"
)

// Event is one acquisition result as published to clients.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Kind         Kind      `json:"kind"`
	Position     int64     `json:"position"`
	FreqOffsetHz float64   `json:"freqOffsetHz"`

	// FCCH only.
	EstimateHz float64 `json:"estimateHz,omitempty"`
	ToneHz     float64 `json:"toneHz,omitempty"` // FFT tone minus nominal FCCH tone
	ToneSNRdB  float64 `json:"toneSnrDb,omitempty"`
	Refined    bool    `json:"refined,omitempty"`
	Applied    bool    `json:"applied,omitempty"`

	// SCH only.
	FN        int    `json:"fn,omitempty"`
	BSIC      int    `json:"bsic,omitempty"`
	CenterTap int    `json:"centerTap,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Reporter receives acquisition events.
type Reporter interface {
	Report(Event)
}

// MultiReporter fans events out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) Report(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ev)
		}
	}
}

// Config is the runtime-adjustable part of the hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
}

const (
	minHistoryLimit     = 1
	maxHistoryLimit     = 10_000
	defaultHistoryLimit = 500
)

func validateConfig(cfg Config, base Config) (Config, error) {
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Summary aggregates the stored history.
type Summary struct {
	FCCHCount        int     `json:"fcchCount"`
	SCHCount         int     `json:"schCount"`
	SCHErrors        int     `json:"schErrors"`
	MeanEstimateHz   float64 `json:"meanEstimateHz"`
	StdDevEstimateHz float64 `json:"stdDevEstimateHz"`
	FreqOffsetHz     float64 `json:"freqOffsetHz"`
	LastFN           int     `json:"lastFn"`
	LastBSIC         int     `json:"lastBsic"`
	Synced           bool    `json:"synced"`
}

// Hub keeps a bounded event history and fans new events out to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Event
	config      Config
	subscribers map[chan Event]struct{}
	logger      logging.Logger
}

// NewHub builds a hub keeping at most historyLimit events; zero selects
// the default.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg, err := validateConfig(Config{HistoryLimit: historyLimit}, Config{})
	if err != nil {
		cfg = Config{HistoryLimit: defaultHistoryLimit}
	}
	return &Hub{
		config:      cfg,
		subscribers: make(map[chan Event]struct{}),
		logger:      logger.With(logging.Field{Key: "subsystem", Value: "telemetry"}),
	}
}

// Report records ev and forwards it to every subscriber that has room.
// Slow subscribers miss events rather than stall the receiver.
func (h *Hub) Report(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of the stored events, oldest first.
func (h *Hub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// ConfigSnapshot returns the current configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a live listener. The returned cancel function must
// be called exactly once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Summary computes aggregate statistics over the stored history.
func (h *Hub) Summary() Summary {
	events := h.History()
	var (
		s         Summary
		estimates []float64
	)
	for _, ev := range events {
		s.FreqOffsetHz = ev.FreqOffsetHz
		switch ev.Kind {
		case KindFCCH:
			s.FCCHCount++
			estimates = append(estimates, ev.EstimateHz)
		case KindSCH:
			s.SCHCount++
			if ev.Error != "" {
				s.SCHErrors++
				continue
			}
			s.LastFN = ev.FN
			s.LastBSIC = ev.BSIC
			s.Synced = true
		}
	}
	switch len(estimates) {
	case 0:
	case 1:
		s.MeanEstimateHz = estimates[0]
	default:
		s.MeanEstimateHz, s.StdDevEstimateHz = stat.MeanStdDev(estimates, nil)
	}
	return s
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.History())
}

func (h *Hub) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.Summary())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	cfg, err := validateConfig(incoming, h.config)
	if err == nil {
		h.applyConfig(cfg)
	}
	h.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("telemetry config updated", logging.Field{Key: "history_limit", Value: cfg.HistoryLimit})
	writeJSON(w, cfg)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	send := func(ev Event) {
		payload, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	for _, ev := range h.History() {
		send(ev)
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			send(ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
