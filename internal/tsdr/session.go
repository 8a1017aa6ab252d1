// Package tsdr adapts a SoapySDR-style receive device to the TSDR plugin
// model: open a device, tune it, then stream interleaved CF32 samples to a
// host callback at a bounded cadence with explicit drop accounting.
package tsdr

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/soapy"
	"github.com/rjboer/SoapyTSDR/internal/telemetry"
)

// Name is the identifier reported to the host.
const Name = "TSDR soapy Compatible Plugin"

const (
	DefaultFlushInterval = 60 * time.Millisecond
	DefaultReadTimeout   = 100 * time.Millisecond
)

// Config captures session level configuration.
type Config struct {
	// FlushInterval is the target period between deliveries.
	FlushInterval time.Duration
	// DropTolerance is the fraction of dropped to buffered samples below
	// which a window is still delivered. Zero tolerates no drops.
	DropTolerance float64
	ReadTimeout   time.Duration
	Format        string

	// Optional tuning applied once after the device is opened.
	Antenna        string
	Gains          map[string]float64
	FreqCorrection float64
	AGC            bool
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Format == "" {
		c.Format = soapy.CF32
	}
	if c.DropTolerance < 0 {
		c.DropTolerance = 0
	}
	return c
}

// openDevice is swapped in tests.
var openDevice = soapy.Make

// Session owns one open device and its streaming state. Setters may be
// called from any goroutine; StartReceiving blocks its caller until the
// stream stops.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	dev      soapy.Device
	args     string
	channel  int
	channels []int
	gain     float64

	streaming bool
	loopDone  chan struct{}
	running   atomic.Bool

	counters counters
	lastErr  atomic.Value

	reporter telemetry.Reporter
	logger   logging.Logger
}

// NewSession builds an idle session. reporter may be nil.
func NewSession(cfg Config, reporter telemetry.Reporter, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.Default()
	}
	return &Session{
		cfg:      cfg.withDefaults(),
		reporter: reporter,
		logger:   logger.With(logging.Subsystem("tsdr")),
	}
}

// Name returns the human-readable plugin identifier.
func (s *Session) Name() string { return Name }

// LastError returns the text of the most recent failure reported by the
// session, or the empty string.
func (s *Session) LastError() string {
	if v, ok := s.lastErr.Load().(string); ok {
		return v
	}
	return ""
}

func (s *Session) fail(err error) error {
	if err != nil {
		s.lastErr.Store(err.Error())
	}
	return err
}

// Init opens the device selected by args, which are passed to the driver
// registry unmodified. Channel 0 becomes the only active channel. An already
// open device is released first.
func (s *Session) Init(args string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return s.fail(ErrBusy)
	}
	if s.dev != nil {
		s.closeLocked()
	}

	dev, err := safeOpen(args)
	if err != nil {
		s.logger.Error("open device failed", logging.F("args", args), logging.Err(err))
		return s.fail(fmt.Errorf("%w: %w", ErrCannotOpenDevice, err))
	}
	s.dev = dev
	s.args = args
	s.channel = 0
	s.channels = []int{0}
	s.logger.Info("device opened", logging.F("args", args), logging.F("driver", dev.Driver()))
	s.applyTuningLocked()
	return nil
}

func safeOpen(args string) (dev soapy.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev, err = nil, fmt.Errorf("driver fault: %v", r)
		}
	}()
	return openDevice(args)
}

// applyTuningLocked pushes optional configuration to a freshly opened
// device. Failures are logged and ignored.
func (s *Session) applyTuningLocked() {
	cfg := s.cfg
	if cfg.Antenna != "" {
		if err := s.dev.SetAntenna(soapy.RX, s.channel, cfg.Antenna); err != nil {
			s.logger.Warn("set antenna ignored", logging.F("antenna", cfg.Antenna), logging.Err(err))
		}
	}
	if cfg.AGC {
		if err := s.dev.SetGainMode(soapy.RX, s.channel, true); err != nil {
			s.logger.Warn("enable AGC ignored", logging.Err(err))
		}
	}
	for name, gain := range cfg.Gains {
		if err := s.dev.SetGainElement(soapy.RX, s.channel, name, gain); err != nil {
			s.logger.Warn("set gain element ignored", logging.F("element", name), logging.F("gain_db", gain), logging.Err(err))
		}
	}
	if cfg.FreqCorrection != 0 {
		if err := s.dev.SetFrequencyCorrection(soapy.RX, s.channel, cfg.FreqCorrection); err != nil {
			s.logger.Warn("set frequency correction ignored", logging.F("ppm", cfg.FreqCorrection), logging.Err(err))
		}
	}
}

// SetSampleRate requests a sample rate and returns the rate the hardware
// actually applied. While streaming the current rate is returned unchanged.
// It returns 0 when no device is open or the device rejects the request.
func (s *Session) SetSampleRate(rate uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		s.fail(ErrNotInitialized)
		return 0
	}
	if s.streaming {
		return s.sampleRateLocked()
	}
	if err := s.dev.SetSampleRate(soapy.RX, s.channel, float64(rate)); err != nil {
		s.logger.Warn("set sample rate failed", logging.F("rate", rate), logging.Err(err))
		s.fail(err)
		return 0
	}
	actual := s.sampleRateLocked()
	if actual != rate {
		s.logger.Info("sample rate adjusted by device", logging.F("requested", rate), logging.F("actual", actual))
	}
	return actual
}

// SampleRate reads the applied rate, 0 if unknown.
func (s *Session) SampleRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return 0
	}
	return s.sampleRateLocked()
}

func (s *Session) sampleRateLocked() uint32 {
	rate, err := s.dev.SampleRate(soapy.RX, s.channel)
	if err != nil || rate <= 0 {
		if err != nil {
			s.logger.Debug("sample rate query failed", logging.Err(err))
		}
		return 0
	}
	return uint32(rate)
}

// SetBaseFrequency tunes the receiver. Hardware failures are logged and
// swallowed so a live capture keeps running on the previous setting.
func (s *Session) SetBaseFrequency(freq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return s.fail(ErrNotInitialized)
	}
	if err := s.dev.SetFrequency(soapy.RX, s.channel, float64(freq)); err != nil {
		s.logger.Warn("set frequency ignored", logging.F("freq_hz", freq), logging.Err(err))
	}
	return nil
}

// SetGain applies an overall gain in dB with the same best-effort policy as
// SetBaseFrequency.
func (s *Session) SetGain(gain float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return s.fail(ErrNotInitialized)
	}
	s.gain = float64(gain)
	if err := s.dev.SetGain(soapy.RX, s.channel, float64(gain)); err != nil {
		s.logger.Warn("set gain ignored", logging.F("gain_db", gain), logging.Err(err))
	}
	return nil
}

// Gain returns the last gain requested through SetGain.
func (s *Session) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Cleanup stops any active stream, waits for it to wind down and releases
// the device. It is safe to call repeatedly. It must not be called from the
// delivery callback.
func (s *Session) Cleanup() {
	s.mu.Lock()
	done := s.loopDone
	s.running.Store(false)
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.running.Store(false)
}

func (s *Session) closeLocked() {
	if s.dev == nil {
		return
	}
	dev := s.dev
	s.dev = nil
	s.channels = nil
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("device release fault", logging.F("panic", r))
			}
		}()
		if err := dev.Close(); err != nil {
			s.logger.Warn("device release failed", logging.Err(err))
		}
	}()
	s.logger.Info("device released", logging.F("args", s.args))
}

// Running reports whether the streaming loop is active and not asked to stop.
func (s *Session) Running() bool { return s.running.Load() }

// Stats returns the counters of the current or last streaming session.
func (s *Session) Stats() telemetry.Counters { return s.counters.snapshot() }
