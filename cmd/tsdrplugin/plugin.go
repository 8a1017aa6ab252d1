package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rjboer/SoapyTSDR/internal/config"
	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/telemetry"
	"github.com/rjboer/SoapyTSDR/internal/tsdr"
)

// plugin holds the process-wide state behind the C exports. The host drives
// it from at most two threads: one blocked in readAsync, one issuing setters.
type plugin struct {
	cfg     config.Config
	session *tsdr.Session
	logger  logging.Logger

	lastStatus atomic.Int32
	lastText   atomic.Value
}

// newPlugin configures a plugin from TSDR_* variables only; the host passes
// nothing but the device string.
func newPlugin(lookup config.LookupFunc, logOut io.Writer) *plugin {
	cfg := config.FromEnv(lookup, config.Defaults())
	logger := cfg.Logger(logOut).With(logging.Subsystem("plugin"))
	if err := cfg.Validate(); err != nil {
		logger.Warn("ignoring invalid environment", logging.Err(err))
		cfg = config.Defaults()
	}

	reporters := telemetry.MultiReporter{telemetry.NewLogReporter(logger)}
	if cfg.WebAddr != "" {
		hub := telemetry.NewHub(cfg.HistoryLimit, logger)
		reporters = append(reporters, hub)
		go telemetry.NewWebServer(cfg.WebAddr, hub).Start(context.Background())
		logger.Info("web telemetry", logging.F("addr", cfg.WebAddr))
	}

	return &plugin{
		cfg:     cfg,
		session: tsdr.NewSession(cfg.Session(), reporters, logger),
		logger:  logger,
	}
}

// call runs fn, records its outcome for lastError and converts it to a host
// status. Panics never reach the host.
func (p *plugin) call(op string, fn func() error) (status tsdr.Status) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("plugin call fault", logging.F("op", op), logging.F("panic", r))
			status = p.record(fmt.Errorf("%s: %w: %v", op, tsdr.ErrCannotOpenDevice, r))
		}
	}()
	return p.record(fn())
}

func (p *plugin) record(err error) tsdr.Status {
	status := tsdr.StatusOf(err)
	p.lastStatus.Store(int32(status))
	if err != nil {
		p.lastText.Store(err.Error())
	} else {
		p.lastText.Store("")
	}
	return status
}

func (p *plugin) name() string { return p.session.Name() }

// init opens the device. An empty parameter string falls back to TSDR_ARGS.
func (p *plugin) init(params string) tsdr.Status {
	if params == "" {
		params = p.cfg.Args
	}
	return p.call("init", func() error { return p.session.Init(params) })
}

func (p *plugin) setSampleRate(rate uint32) (applied uint32) {
	p.call("setsamplerate", func() error {
		applied = p.session.SetSampleRate(rate)
		if applied == 0 {
			return fmt.Errorf("sample rate %d not applied: %s", rate, p.session.LastError())
		}
		return nil
	})
	return applied
}

func (p *plugin) sampleRate() (rate uint32) {
	p.call("getsamplerate", func() error {
		rate = p.session.SampleRate()
		return nil
	})
	return rate
}

func (p *plugin) setBaseFreq(freq uint32) tsdr.Status {
	return p.call("setbasefreq", func() error { return p.session.SetBaseFrequency(freq) })
}

func (p *plugin) setGain(gain float32) tsdr.Status {
	return p.call("setgain", func() error { return p.session.SetGain(gain) })
}

// readAsync blocks until stop, cleanup or a stream fault.
func (p *plugin) readAsync(deliver tsdr.DeliverFunc) tsdr.Status {
	return p.call("readasync", func() error {
		return p.session.StartReceiving(context.Background(), deliver)
	})
}

func (p *plugin) stop() tsdr.Status {
	return p.call("stop", func() error {
		p.session.StopReceiving()
		return nil
	})
}

func (p *plugin) cleanup() {
	p.call("cleanup", func() error {
		p.session.Cleanup()
		return nil
	})
}

// lastError returns the message and status of the most recent call.
func (p *plugin) lastError() (string, tsdr.Status) {
	text, _ := p.lastText.Load().(string)
	return text, tsdr.Status(p.lastStatus.Load())
}
