package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/logging"
)

// WebServer exposes delivery statistics and live updates over HTTP.
type WebServer struct {
	srv *http.Server
	hub *Hub
}

// NewWebServer builds an HTTP server serving the stats, history and live endpoints.
func NewWebServer(addr string, hub *Hub) *WebServer {
	return &WebServer{
		hub: hub,
		srv: &http.Server{Addr: addr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the hub's HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/live", h.handleLive)
	mux.HandleFunc("/api/config", h.handleGetConfig)
	mux.HandleFunc("/api/config/update", h.handleSetConfig)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{
			"endpoints": {"/api/stats", "/api/history", "/api/live", "/api/config", "/api/config/update"},
		})
	})
	return mux
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.hub.logger.Warn("web telemetry shutdown", logging.Err(err))
		}
	}()

	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.hub.logger.Error("web telemetry server error", logging.Err(err))
	}
}
