// Command soapyrx drives a receive session the way the TSDR host does and
// optionally records the delivered CF32 samples to a file.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/SoapyTSDR/internal/config"
	"github.com/rjboer/SoapyTSDR/internal/dsp"
	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/mdns"
	"github.com/rjboer/SoapyTSDR/internal/soapy"
	_ "github.com/rjboer/SoapyTSDR/internal/soapy/sim"
	"github.com/rjboer/SoapyTSDR/internal/telemetry"
	"github.com/rjboer/SoapyTSDR/internal/tsdr"
)

// Swapped in tests.
var (
	discover    = mdns.DiscoverSoapyRemote
	initSession = func(s *tsdr.Session, args string) error { return s.Init(args) }
	newBackOff  = func(retries int) backoff.BackOff {
		if retries <= 0 {
			return &backoff.StopBackOff{}
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxElapsedTime = 30 * time.Second
		return backoff.WithMaxRetries(b, uint64(retries))
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "soapyrx: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out, logOut io.Writer, lookup config.LookupFunc) error {
	cfg, err := config.Parse("soapyrx", args, lookup, config.Defaults(), logOut)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	logger := cfg.Logger(logOut)
	logging.SetDefault(logger)

	if cfg.Discover {
		return printDiscovered(ctx, out, cfg.DiscoverTimeout)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	hub := telemetry.NewHub(cfg.HistoryLimit, logger)
	if cfg.WebAddr != "" {
		go telemetry.NewWebServer(cfg.WebAddr, hub).Start(ctx)
		logger.Info("web telemetry", logging.F("addr", cfg.WebAddr))
	}
	reporters := telemetry.MultiReporter{telemetry.NewLogReporter(logger), hub}

	session := tsdr.NewSession(cfg.Session(), reporters, logger)
	defer session.Cleanup()

	if err := openWithRetry(ctx, session, cfg.Args, cfg.OpenRetries, logger); err != nil {
		return err
	}
	rate := session.SetSampleRate(uint32(cfg.SampleRate))
	if rate == 0 {
		return fmt.Errorf("sample rate %.0f rejected: %s", cfg.SampleRate, session.LastError())
	}
	if err := session.SetBaseFrequency(uint32(cfg.Frequency)); err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}
	if err := session.SetGain(float32(cfg.Gain)); err != nil {
		return fmt.Errorf("set gain: %w", err)
	}

	c := &capture{
		hub:      hub,
		analyzer: dsp.NewAnalyzer(hub.ConfigSnapshot().SpectrumSize),
		rate:     float64(rate),
		stop:     session.StopReceiving,
		logger:   logger,
	}
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		c.out = bufio.NewWriterSize(f, 1<<20)
	}

	logger.Info("capture starting",
		logging.F("args", cfg.Args),
		logging.F("rate", rate),
		logging.F("freq_hz", cfg.Frequency),
		logging.F("gain_db", session.Gain()),
		logging.F("out", cfg.Output),
	)
	err = session.StartReceiving(ctx, c.deliver)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if ferr := c.finish(); ferr != nil && err == nil {
		err = ferr
	}

	st := session.Stats()
	fmt.Fprintf(out, "deliveries=%d clean=%d partial=%d aborted=%d samples=%d dropped=%d overflows=%d underflows=%d timeouts=%d\n",
		st.Deliveries, st.Clean, st.Partial, st.Aborted, st.Samples, st.Dropped, st.Overflows, st.Underflows, st.Timeouts)
	if err != nil {
		return fmt.Errorf("receive (%s): %w", tsdr.StatusOf(err), err)
	}
	return nil
}

// openWithRetry initializes the session, retrying with exponential backoff
// while the device cannot be opened.
func openWithRetry(ctx context.Context, s *tsdr.Session, args string, retries int, logger logging.Logger) error {
	attempt := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return nil
		}
		attempt++
		return initSession(s, args)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("device open failed, retrying", logging.F("attempt", attempt), logging.F("wait", wait), logging.Err(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(newBackOff(retries), ctx), notify); err != nil {
		return fmt.Errorf("open device %q after %d attempt(s): %w", args, attempt, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// printDiscovered lists SoapyRemote servers found on the network, followed
// by the drivers built into this binary.
func printDiscovered(ctx context.Context, out io.Writer, timeout time.Duration) error {
	start := time.Now()
	hosts, err := discover(ctx, timeout)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if len(hosts) == 0 {
		fmt.Fprintf(out, "No SoapyRemote servers found (%s)\n", time.Since(start).Truncate(time.Millisecond))
	}
	for _, h := range hosts {
		fmt.Fprintf(out, "%s\t%s\t-args %s\n", h.Instance, h.Address(), h.Args())
	}
	fmt.Fprintf(out, "Built-in drivers: %s\n", strings.Join(soapy.Drivers(), ", "))
	return nil
}
