// Package config resolves runtime settings from defaults, TSDR_* environment
// variables and command line flags, in that order of precedence.
package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/soapy"
	"github.com/rjboer/SoapyTSDR/internal/tsdr"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(string) (string, bool)

// Config holds every knob shared by the plugin and the CLI.
type Config struct {
	Args       string
	SampleRate float64
	Frequency  float64
	Gain       float64

	FlushInterval time.Duration
	DropTolerance float64
	ReadTimeout   time.Duration

	Antenna        string
	FreqCorrection float64
	AGC            bool
	// Gains are per-element gains, e.g. "LNA=20,VGA=10".
	Gains string

	LogLevel  string
	LogFormat string

	WebAddr         string
	HistoryLimit    int
	OpenRetries     int
	Duration        time.Duration
	Output          string
	Discover        bool
	DiscoverTimeout time.Duration
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		SampleRate:      2e6,
		Frequency:       100e6,
		FlushInterval:   tsdr.DefaultFlushInterval,
		ReadTimeout:     tsdr.DefaultReadTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
		HistoryLimit:    500,
		OpenRetries:     3,
		DiscoverTimeout: 3 * time.Second,
	}
}

// FromEnv applies TSDR_* environment overrides to defaults. Unparseable
// values keep the default.
func FromEnv(lookup LookupFunc, defaults Config) Config {
	c := defaults
	c.Args = envString(lookup, "TSDR_ARGS", c.Args)
	c.SampleRate = envFloat(lookup, "TSDR_SAMPLE_RATE", c.SampleRate)
	c.Frequency = envFloat(lookup, "TSDR_FREQUENCY", c.Frequency)
	c.Gain = envFloat(lookup, "TSDR_GAIN", c.Gain)
	c.FlushInterval = envDuration(lookup, "TSDR_FLUSH_INTERVAL", c.FlushInterval)
	c.DropTolerance = envFloat(lookup, "TSDR_DROP_TOLERANCE", c.DropTolerance)
	c.ReadTimeout = envDuration(lookup, "TSDR_READ_TIMEOUT", c.ReadTimeout)
	c.Antenna = envString(lookup, "TSDR_ANTENNA", c.Antenna)
	c.FreqCorrection = envFloat(lookup, "TSDR_PPM", c.FreqCorrection)
	c.AGC = envBool(lookup, "TSDR_AGC", c.AGC)
	c.Gains = envString(lookup, "TSDR_GAINS", c.Gains)
	c.LogLevel = envString(lookup, "TSDR_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envString(lookup, "TSDR_LOG_FORMAT", c.LogFormat)
	c.WebAddr = envString(lookup, "TSDR_WEB_ADDR", c.WebAddr)
	c.HistoryLimit = envInt(lookup, "TSDR_HISTORY_LIMIT", c.HistoryLimit)
	c.OpenRetries = envInt(lookup, "TSDR_OPEN_RETRIES", c.OpenRetries)
	return c
}

// Parse binds flags for name on top of the environment and defaults.
func Parse(name string, args []string, lookup LookupFunc, defaults Config, out io.Writer) (Config, error) {
	cfg := FromEnv(lookup, defaults)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if out != nil {
		fs.SetOutput(out)
	}
	fs.StringVar(&cfg.Args, "args", cfg.Args, "Device arguments, e.g. driver=rtlsdr,serial=00000001")
	fs.Float64Var(&cfg.SampleRate, "rate", cfg.SampleRate, "Sample rate in Hz")
	fs.Float64Var(&cfg.Frequency, "freq", cfg.Frequency, "Center frequency in Hz")
	fs.Float64Var(&cfg.Gain, "gain", cfg.Gain, "Overall RX gain in dB")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "Target period between deliveries")
	fs.Float64Var(&cfg.DropTolerance, "drop-tolerance", cfg.DropTolerance, "Dropped/buffered ratio below which a window is still delivered")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Timeout of a single stream read")
	fs.StringVar(&cfg.Antenna, "antenna", cfg.Antenna, "RX antenna name")
	fs.Float64Var(&cfg.FreqCorrection, "ppm", cfg.FreqCorrection, "Frequency correction in ppm")
	fs.BoolVar(&cfg.AGC, "agc", cfg.AGC, "Enable automatic gain control")
	fs.StringVar(&cfg.Gains, "gains", cfg.Gains, "Per-element gains, e.g. LNA=20,VGA=10")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text|json)")
	fs.StringVar(&cfg.WebAddr, "web-addr", cfg.WebAddr, "Optional web telemetry listen address (e.g. :8080)")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "Maximum deliveries kept in telemetry history")
	fs.IntVar(&cfg.OpenRetries, "open-retries", cfg.OpenRetries, "Device open retries before giving up")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Stop after this long (0 runs until interrupted)")
	fs.StringVar(&cfg.Output, "out", cfg.Output, "Write raw CF32 samples to this file")
	fs.BoolVar(&cfg.Discover, "discover", cfg.Discover, "Browse for SoapyRemote servers and exit")
	fs.DurationVar(&cfg.DiscoverTimeout, "discover-timeout", cfg.DiscoverTimeout, "mDNS browse duration")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no session could run with.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0 || c.SampleRate > float64(^uint32(0)):
		return fmt.Errorf("sample rate %.0f out of range", c.SampleRate)
	case c.Frequency < 0 || c.Frequency > float64(^uint32(0)):
		return fmt.Errorf("frequency %.0f out of range", c.Frequency)
	case c.DropTolerance < 0:
		return fmt.Errorf("drop tolerance must not be negative, got %g", c.DropTolerance)
	case c.OpenRetries < 0:
		return fmt.Errorf("open retries must not be negative, got %d", c.OpenRetries)
	}
	if _, err := c.GainMap(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// GainMap parses Gains into element name and dB pairs.
func (c Config) GainMap() (map[string]float64, error) {
	kw := soapy.ParseKwargs(c.Gains)
	if len(kw) == 0 {
		return nil, nil
	}
	gains := make(map[string]float64, len(kw))
	for name, raw := range kw {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("gain element %s=%q: %w", name, raw, err)
		}
		gains[name] = v
	}
	return gains, nil
}

// Session returns the streaming configuration. Invalid gain elements are
// skipped; Validate reports them.
func (c Config) Session() tsdr.Config {
	gains, _ := c.GainMap()
	return tsdr.Config{
		FlushInterval:  c.FlushInterval,
		DropTolerance:  c.DropTolerance,
		ReadTimeout:    c.ReadTimeout,
		Format:         soapy.CF32,
		Antenna:        c.Antenna,
		Gains:          gains,
		FreqCorrection: c.FreqCorrection,
		AGC:            c.AGC,
	}
}

// Logger builds a logger writing to out at the configured level and format.
// Unknown values fall back to info and text.
func (c Config) Logger(out io.Writer) logging.Logger {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = logging.Info
	}
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		format = logging.Text
	}
	return logging.New(level, format, out)
}

func envFloat(lookup LookupFunc, key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup LookupFunc, key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup LookupFunc, key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envBool(lookup LookupFunc, key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

// envDuration accepts Go durations ("60ms") or bare milliseconds ("60").
func envDuration(lookup LookupFunc, key string, def time.Duration) time.Duration {
	val, ok := lookup(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
