package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/GoGSM/internal/logging"
)

// WebServer exposes the hub over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer wires the hub endpoints onto addr.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebServer{
		hub:    hub,
		logger: logger.With(logging.Field{Key: "subsystem", Value: "web"}),
		srv:    &http.Server{Addr: addr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the hub's routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/summary", h.handleSummary)
	mux.HandleFunc("/api/live", h.handleLive)
	mux.HandleFunc("/api/ws", h.handleWS)
	mux.HandleFunc("/api/config", h.handleGetConfig)
	mux.HandleFunc("/api/config/update", h.handleSetConfig)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/summary", http.StatusFound)
	})
	return mux
}

// Start serves until ctx is canceled. It returns nil after a clean shutdown.
func (w *WebServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.Field{Key: "error", Value: err})
		}
	}()

	w.logger.Info("web telemetry listening", logging.Field{Key: "addr", Value: w.srv.Addr})
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
