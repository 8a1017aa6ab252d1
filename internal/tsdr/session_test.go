package tsdr

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/soapy"
	"github.com/rjboer/SoapyTSDR/internal/soapy/sim"
	"github.com/rjboer/SoapyTSDR/internal/telemetry"
)

func quietLogger() logging.Logger {
	return logging.New(logging.Debug, logging.Text, io.Discard)
}

// newSimSession opens a session backed by a fresh simulated device.
func newSimSession(t *testing.T, opts sim.Options, cfg Config, reporter telemetry.Reporter) (*Session, *sim.Device) {
	t.Helper()
	dev := sim.New(opts)
	prev := openDevice
	openDevice = func(string) (soapy.Device, error) { return dev, nil }
	t.Cleanup(func() { openDevice = prev })

	s := NewSession(cfg, reporter, quietLogger())
	if err := s.Init("driver=sim"); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s, dev
}

func TestNameIsFixed(t *testing.T) {
	if got := NewSession(Config{}, nil, nil).Name(); got != "TSDR soapy Compatible Plugin" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestInitCleanupIsIdempotent(t *testing.T) {
	s, dev := newSimSession(t, sim.Options{}, Config{}, nil)

	s.Cleanup()
	s.Cleanup()

	if calls := dev.Calls(); calls.Closed != 1 {
		t.Fatalf("expected exactly one device release, got %d", calls.Closed)
	}
	if s.Running() {
		t.Fatal("running flag must be cleared by cleanup")
	}
	if rate := s.SetSampleRate(1_000_000); rate != 0 {
		t.Fatalf("expected 0 after cleanup, got %d", rate)
	}
	if s.SampleRate() != 0 {
		t.Fatal("expected unknown rate after cleanup")
	}
	if err := s.SetBaseFrequency(100e6); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := s.SetGain(10); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSettersBeforeInit(t *testing.T) {
	s := NewSession(Config{}, nil, quietLogger())
	if s.SetSampleRate(2e6) != 0 || s.SampleRate() != 0 {
		t.Fatal("rate calls before init must report 0")
	}
	if err := s.SetBaseFrequency(1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	err := s.StartReceiving(context.Background(), func([]float32, int64) {})
	if !errors.Is(err, ErrCannotOpenDevice) || !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not-initialized open failure, got %v", err)
	}
	if StatusOf(err) != StatusCannotOpenDevice {
		t.Fatalf("unexpected status %v", StatusOf(err))
	}
	s.Cleanup()
}

func TestInitFailures(t *testing.T) {
	prev := openDevice
	defer func() { openDevice = prev }()

	tests := map[string]func(string) (soapy.Device, error){
		"error":     func(string) (soapy.Device, error) { return nil, soapy.ErrNoDevice },
		"panic":     func(string) (soapy.Device, error) { panic("usb stack exploded") },
		"no driver": soapy.Make,
	}
	for name, open := range tests {
		t.Run(name, func(t *testing.T) {
			openDevice = open
			s := NewSession(Config{}, nil, quietLogger())
			err := s.Init("driver=does-not-exist")
			if !errors.Is(err, ErrCannotOpenDevice) {
				t.Fatalf("expected ErrCannotOpenDevice, got %v", err)
			}
			if StatusOf(err) != StatusCannotOpenDevice {
				t.Fatalf("unexpected status %v", StatusOf(err))
			}
			if s.LastError() == "" {
				t.Fatal("expected last error text")
			}
			if s.SetBaseFrequency(1) == nil {
				t.Fatal("setters must stay inert after a failed init")
			}
		})
	}
}

func TestInitAppliesOptionalTuning(t *testing.T) {
	cfg := Config{
		Antenna:        "LNAW",
		Gains:          map[string]float64{"LNA": 20, "BOGUS": 3},
		FreqCorrection: 1.5,
		AGC:            true,
	}
	s, dev := newSimSession(t, sim.Options{}, cfg, nil)
	defer s.Cleanup()

	if dev.Antenna() != "LNAW" || dev.GainElement("LNA") != 20 || dev.Correction() != 1.5 || !dev.AGC() {
		t.Fatalf("tuning not applied: antenna=%q lna=%v ppm=%v agc=%v", dev.Antenna(), dev.GainElement("LNA"), dev.Correction(), dev.AGC())
	}
}

func TestReinitReleasesPreviousDevice(t *testing.T) {
	s, first := newSimSession(t, sim.Options{}, Config{}, nil)
	second := sim.New(sim.Options{})
	openDevice = func(string) (soapy.Device, error) { return second, nil }

	if err := s.Init("driver=sim"); err != nil {
		t.Fatalf("reinit: %v", err)
	}
	if first.Calls().Closed != 1 {
		t.Fatal("first device should have been released")
	}
	s.Cleanup()
	if second.Calls().Closed != 1 {
		t.Fatal("second device should have been released")
	}
}

func TestSetSampleRateReportsAppliedRate(t *testing.T) {
	s, _ := newSimSession(t, sim.Options{RateStep: 100_000}, Config{}, nil)
	defer s.Cleanup()

	if got := s.SetSampleRate(2_345_678); got != 2_300_000 {
		t.Fatalf("expected hardware-applied 2300000, got %d", got)
	}
	if got := s.SampleRate(); got != 2_300_000 {
		t.Fatalf("expected 2300000, got %d", got)
	}
}

func TestSetSampleRateFailure(t *testing.T) {
	s, dev := newSimSession(t, sim.Options{}, Config{}, nil)
	defer s.Cleanup()

	dev.FailSettings(true, false)
	if got := s.SetSampleRate(1_000_000); got != 0 {
		t.Fatalf("expected 0 on failure, got %d", got)
	}
	if got := s.SampleRate(); got != 0 {
		t.Fatalf("expected 0 when query fails, got %d", got)
	}
	if !strings.Contains(s.LastError(), "sample rate") {
		t.Fatalf("unexpected last error %q", s.LastError())
	}
}

func TestTuningFailuresAreSwallowed(t *testing.T) {
	s, dev := newSimSession(t, sim.Options{}, Config{}, nil)
	defer s.Cleanup()

	dev.FailSettings(false, true)
	if err := s.SetBaseFrequency(433_920_000); err != nil {
		t.Fatalf("frequency failures must be swallowed, got %v", err)
	}
	if err := s.SetGain(32.5); err != nil {
		t.Fatalf("gain failures must be swallowed, got %v", err)
	}
	calls := dev.Calls()
	if calls.SetFrequency != 1 || calls.SetGain != 1 {
		t.Fatalf("expected one hardware call each, got %+v", calls)
	}
	if s.Gain() != 32.5 {
		t.Fatalf("requested gain should be remembered, got %v", s.Gain())
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{ErrBusy, StatusAlreadyRunning},
		{ErrInvalidParameter, StatusInvalidParameter},
		{ErrCannotOpenDevice, StatusCannotOpenDevice},
		{errors.New("anything else"), StatusCannotOpenDevice},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if StatusCannotOpenDevice.String() != "CANNOT_OPEN_DEVICE" || Status(42).String() != "STATUS_42" {
		t.Fatal("unexpected status names")
	}
}
