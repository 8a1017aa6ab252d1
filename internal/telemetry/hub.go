package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/dsp"
	"github.com/rjboer/SoapyTSDR/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
	// SpectrumEvery sets how many deliveries pass between spectrum
	// snapshots; producers read it through ConfigSnapshot.
	SpectrumEvery int `json:"spectrumEvery"`
	// SpectrumSize is the FFT length producers use for snapshots.
	SpectrumSize int `json:"spectrumSize"`
}

const (
	minHistoryLimit  = 1
	maxHistoryLimit  = 10_000
	minSpectrumEvery = 1
	maxSpectrumEvery = 10_000
	minSpectrumSize  = 16
	maxSpectrumSize  = 65_536
)

func defaultConfig() Config {
	return Config{
		HistoryLimit:  500,
		SpectrumEvery: 16,
		SpectrumSize:  1024,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.SpectrumEvery == 0 || base.SpectrumSize == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.SpectrumEvery == 0 {
		cfg.SpectrumEvery = base.SpectrumEvery
	}
	if cfg.SpectrumSize == 0 {
		cfg.SpectrumSize = base.SpectrumSize
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.SpectrumEvery < minSpectrumEvery || cfg.SpectrumEvery > maxSpectrumEvery {
		return Config{}, fmt.Errorf("spectrum interval must be between %d and %d deliveries", minSpectrumEvery, maxSpectrumEvery)
	}
	if cfg.SpectrumSize < minSpectrumSize || cfg.SpectrumSize > maxSpectrumSize {
		return Config{}, fmt.Errorf("spectrum size must be between %d and %d bins", minSpectrumSize, maxSpectrumSize)
	}
	return cfg, nil
}

// Spectrum is a coarse view of one delivered window.
type Spectrum struct {
	Timestamp    time.Time `json:"timestamp"`
	PeakDBFS     float64   `json:"peakDbfs"`
	PeakOffsetHz float64   `json:"peakOffsetHz"`
	PowerDBFS    float64   `json:"powerDbfs"`
	Source       string    `json:"source"`
}

// Stats is the payload of the stats endpoint.
type Stats struct {
	Totals   Counters  `json:"totals"`
	Last     *Delivery `json:"last,omitempty"`
	Spectrum *Spectrum `json:"spectrum,omitempty"`
	Started  time.Time `json:"started"`
	Uptime   float64   `json:"uptimeSeconds"`
}

// Hub collects delivery history and fans out updates to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Delivery
	spectrum    *Spectrum
	subscribers map[chan Delivery]struct{}
	config      Config
	started     time.Time
	logger      logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan Delivery]struct{}),
		config:      cfg,
		started:     time.Now(),
		logger:      logger.With(logging.Subsystem("telemetry")),
	}
}

// ReportDelivery implements Reporter and records a delivery.
func (h *Hub) ReportDelivery(d Delivery) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, d)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- d:
		default:
		}
	}
	h.mu.Unlock()
}

// UpdateSpectrum stores the latest spectrum snapshot. Levels are clamped to
// dsp.FloorDBFS so silent windows still encode.
func (h *Hub) UpdateSpectrum(s Spectrum) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	s.PeakDBFS = dsp.Finite(s.PeakDBFS)
	s.PowerDBFS = dsp.Finite(s.PowerDBFS)
	if math.IsNaN(s.PeakOffsetHz) || math.IsInf(s.PeakOffsetHz, 0) {
		s.PeakOffsetHz = 0
	}
	h.mu.Lock()
	h.spectrum = &s
	h.mu.Unlock()
}

// History returns a copy of stored deliveries.
func (h *Hub) History() []Delivery {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Delivery, len(h.history))
	copy(out, h.history)
	return out
}

// Stats returns the latest totals and spectrum.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Started: h.started, Uptime: time.Since(h.started).Seconds()}
	if n := len(h.history); n > 0 {
		last := h.history[n-1]
		st.Last = &last
		st.Totals = last.Totals
	}
	if h.spectrum != nil {
		sp := *h.spectrum
		st.Spectrum = &sp
	}
	return st
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Delivery, func()) {
	ch := make(chan Delivery, 16)
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

// UpdateConfig validates cfg against the current configuration and applies
// it. Zero fields keep their current value.
func (h *Hub) UpdateConfig(cfg Config) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, err := validateConfig(cfg, h.config)
	if err != nil {
		return Config{}, err
	}
	h.applyConfig(cfg)
	return cfg, nil
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

// writeJSON encodes v before touching the response so an encoding failure
// can still be reported as a 500.
func (h *Hub) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode response", logging.F("path", r.URL.Path), logging.Err(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(payload, '\n')); err != nil {
		h.logger.Debug("write response", logging.F("path", r.URL.Path), logging.Err(err))
	}
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, h.History())
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, r, h.Stats())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, h.ConfigSnapshot())
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

	cfg, err := h.UpdateConfig(incoming)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("telemetry config updated",
		logging.F("history_limit", cfg.HistoryLimit),
		logging.F("spectrum_every", cfg.SpectrumEvery),
		logging.F("spectrum_size", cfg.SpectrumSize),
	)
	h.writeJSON(w, r, cfg)
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

	for _, d := range h.History() {
		h.writeEvent(w, d)
	}
	flusher.Flush()

	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return
			}
			h.writeEvent(w, d)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) writeEvent(w http.ResponseWriter, d Delivery) {
	payload, err := json.Marshal(d)
	if err != nil {
		h.logger.Error("encode live event", logging.Err(err))
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
