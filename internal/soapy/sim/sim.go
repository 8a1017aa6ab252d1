// Package sim provides a simulated receive device registered as driver=sim.
// It synthesizes a complex tone with a little noise, honours a configurable
// MTU and sample-rate granularity, and can be scripted to return stream
// faults so the streaming path can be exercised without hardware.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/soapy"
)

// DriverName is the registry key of the simulated driver.
const DriverName = "sim"

func init() {
	soapy.Register(DriverName, func(args soapy.Kwargs) (soapy.Device, error) {
		opts, err := OptionsFromArgs(args)
		if err != nil {
			return nil, err
		}
		if opts.FailOpen {
			return nil, fmt.Errorf("sim: open refused: %w", soapy.ErrNoDevice)
		}
		return New(opts), nil
	})
}

// Options configure a simulated device.
type Options struct {
	MTU        int
	ToneOffset float64
	// RateStep is the granularity of achievable sample rates in Hz.
	RateStep   float64
	MaxRate    float64
	NoiseLevel float64
	// Realtime paces reads to the configured sample rate.
	Realtime bool
	// Timestamps makes reads carry hardware time.
	Timestamps bool
	FailOpen   bool
}

func defaultOptions() Options {
	return Options{
		MTU:        4096,
		ToneOffset: 100e3,
		RateStep:   1e3,
		MaxRate:    61.44e6,
		NoiseLevel: 1e-3,
	}
}

// OptionsFromArgs reads options from device arguments (mtu, tone, rate_step,
// max_rate, noise, realtime, timestamps, fail).
func OptionsFromArgs(args soapy.Kwargs) (Options, error) {
	opts := defaultOptions()
	for key, raw := range args {
		var err error
		switch strings.ToLower(key) {
		case "mtu":
			opts.MTU, err = strconv.Atoi(raw)
		case "tone":
			opts.ToneOffset, err = strconv.ParseFloat(raw, 64)
		case "rate_step":
			opts.RateStep, err = strconv.ParseFloat(raw, 64)
		case "max_rate":
			opts.MaxRate, err = strconv.ParseFloat(raw, 64)
		case "noise":
			opts.NoiseLevel, err = strconv.ParseFloat(raw, 64)
		case "realtime":
			opts.Realtime, err = parseBool(raw)
		case "timestamps":
			opts.Timestamps, err = parseBool(raw)
		case "fail":
			opts.FailOpen, err = parseBool(raw)
		}
		if err != nil {
			return Options{}, fmt.Errorf("sim: argument %s=%q: %w", key, raw, err)
		}
	}
	if opts.MTU <= 0 {
		return Options{}, fmt.Errorf("sim: mtu must be positive, got %d", opts.MTU)
	}
	return opts, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return true, nil
	}
	return strconv.ParseBool(s)
}

// Step is one scripted read outcome. A step with Err set returns that error;
// otherwise Skip elements of hardware time are lost before the next
// generated chunk, which shows up as a timestamp gap.
type Step struct {
	Err  error
	Skip int
	// Panic makes the read panic, emulating a driver fault.
	Panic bool
}

// Calls counts hardware operations issued against the device.
type Calls struct {
	SetSampleRate int
	SetFrequency  int
	SetGain       int
	SetupStream   int
	Reads         int
	StreamsClosed int
	Closed        int
}

// Device is a simulated radio.
type Device struct {
	mu        sync.Mutex
	opts      Options
	rate      float64
	freq      float64
	gain      float64
	ppm       float64
	agc       bool
	antenna   string
	elements  map[string]float64
	script    []Step
	calls     Calls
	closed    bool
	failRates bool
	failTune  bool
	onRead    func(n int)
}

// New builds a simulated device.
func New(opts Options) *Device {
	if opts.MTU <= 0 {
		opts.MTU = defaultOptions().MTU
	}
	return &Device{
		opts:     opts,
		rate:     2e6,
		antenna:  "RX",
		elements: map[string]float64{},
	}
}

// Inject queues scripted outcomes consumed by subsequent reads in order.
func (d *Device) Inject(steps ...Step) {
	d.mu.Lock()
	d.script = append(d.script, steps...)
	d.mu.Unlock()
}

// OnRead registers a hook invoked after every read attempt with the number of
// the read, starting at 1.
func (d *Device) OnRead(fn func(n int)) {
	d.mu.Lock()
	d.onRead = fn
	d.mu.Unlock()
}

// FailSettings makes rate, frequency and gain operations fail.
func (d *Device) FailSettings(rates, tuning bool) {
	d.mu.Lock()
	d.failRates = rates
	d.failTune = tuning
	d.mu.Unlock()
}

// Calls returns a snapshot of the operation counters.
func (d *Device) Calls() Calls {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Antenna returns the selected antenna.
func (d *Device) Antenna() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.antenna
}

// GainElement returns the value last applied to a named gain element.
func (d *Device) GainElement(name string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elements[name]
}

// Correction returns the applied frequency correction in ppm.
func (d *Device) Correction() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ppm
}

// AGC reports whether automatic gain control is enabled.
func (d *Device) AGC() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.agc
}

func (d *Device) Driver() string { return DriverName }

func (d *Device) check(dir soapy.Direction, channel int) error {
	if d.closed {
		return soapy.ErrClosed
	}
	if dir != soapy.RX || channel != 0 {
		return fmt.Errorf("sim: %s channel %d: %w", dir, channel, soapy.ErrNotSupported)
	}
	return nil
}

func (d *Device) SetSampleRate(dir soapy.Direction, channel int, rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return err
	}
	d.calls.SetSampleRate++
	if d.failRates {
		return fmt.Errorf("sim: set sample rate: %w", soapy.ErrStreamError)
	}
	if rate <= 0 {
		return fmt.Errorf("sim: invalid sample rate %.0f", rate)
	}
	if d.opts.RateStep > 0 {
		rate = math.Round(rate/d.opts.RateStep) * d.opts.RateStep
		if rate < d.opts.RateStep {
			rate = d.opts.RateStep
		}
	}
	if d.opts.MaxRate > 0 && rate > d.opts.MaxRate {
		rate = d.opts.MaxRate
	}
	d.rate = rate
	return nil
}

func (d *Device) SampleRate(dir soapy.Direction, channel int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return 0, err
	}
	if d.failRates {
		return 0, fmt.Errorf("sim: get sample rate: %w", soapy.ErrStreamError)
	}
	return d.rate, nil
}

func (d *Device) SetFrequency(dir soapy.Direction, channel int, freq float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return err
	}
	d.calls.SetFrequency++
	if d.failTune {
		return fmt.Errorf("sim: tune %.0f Hz: %w", freq, soapy.ErrNotSupported)
	}
	d.freq = freq
	return nil
}

func (d *Device) Frequency(dir soapy.Direction, channel int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return 0, err
	}
	return d.freq, nil
}

func (d *Device) SetFrequencyCorrection(dir soapy.Direction, channel int, ppm float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return err
	}
	d.ppm = ppm
	return nil
}

func (d *Device) SetGain(dir soapy.Direction, channel int, gain float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return err
	}
	d.calls.SetGain++
	if d.failTune {
		return fmt.Errorf("sim: gain %.1f dB: %w", gain, soapy.ErrNotSupported)
	}
	d.gain = gain
	return nil
}

func (d *Device) Gain(dir soapy.Direction, channel int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return 0, err
	}
	return d.gain, nil
}

func (d *Device) SetGainElement(dir soapy.Direction, channel int, name string, gain float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return err
	}
	switch name {
	case "LNA", "VGA", "TUNER":
		d.elements[name] = gain
		return nil
	}
	return fmt.Errorf("sim: gain element %q: %w", name, soapy.ErrNotSupported)
}

func (d *Device) SetGainMode(dir soapy.Direction, channel int, automatic bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return err
	}
	d.agc = automatic
	return nil
}

func (d *Device) SetAntenna(dir soapy.Direction, channel int, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(dir, channel); err != nil {
		return err
	}
	if name != "RX" && name != "LNAW" {
		return fmt.Errorf("sim: antenna %q: %w", name, soapy.ErrNotSupported)
	}
	d.antenna = name
	return nil
}

func (d *Device) SetupStream(dir soapy.Direction, format string, channels []int) (soapy.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, soapy.ErrClosed
	}
	d.calls.SetupStream++
	if dir != soapy.RX {
		return nil, fmt.Errorf("sim: %s streams: %w", dir, soapy.ErrNotSupported)
	}
	if format != soapy.CF32 {
		return nil, fmt.Errorf("sim: format %q: %w", format, soapy.ErrNotSupported)
	}
	if len(channels) != 1 || channels[0] != 0 {
		return nil, fmt.Errorf("sim: channels %v: %w", channels, soapy.ErrNotSupported)
	}
	return &stream{dev: d}, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.Closed++
	if d.closed {
		return soapy.ErrClosed
	}
	d.closed = true
	return nil
}

type stream struct {
	dev    *Device
	active bool
	closed bool
	// sample index of the next generated element, in hardware time
	pos int64
}

func (s *stream) MTU() (int, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.dev.opts.MTU, nil
}

func (s *stream) Activate() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return soapy.ErrClosed
	}
	s.active = true
	return nil
}

func (s *stream) Deactivate() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.active = false
	return nil
}

func (s *stream) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return soapy.ErrClosed
	}
	s.closed = true
	s.dev.calls.StreamsClosed++
	return nil
}

func (s *stream) Read(buf []float32, elems int, timeout time.Duration) (int, soapy.Metadata, error) {
	d := s.dev
	d.mu.Lock()
	d.calls.Reads++
	readNo := d.calls.Reads
	hook := d.onRead
	if hook != nil {
		defer hook(readNo)
	}

	if s.closed || d.closed {
		d.mu.Unlock()
		return 0, soapy.Metadata{}, soapy.ErrClosed
	}
	if !s.active {
		d.mu.Unlock()
		return 0, soapy.Metadata{}, soapy.ErrStreamError
	}

	var step Step
	if len(d.script) > 0 {
		step = d.script[0]
		d.script = d.script[1:]
	}
	if step.Panic {
		d.mu.Unlock()
		panic("sim: driver fault")
	}
	if step.Err != nil {
		d.mu.Unlock()
		return 0, soapy.Metadata{}, step.Err
	}
	s.pos += int64(step.Skip)

	if elems > d.opts.MTU {
		elems = d.opts.MTU
	}
	if room := len(buf) / 2; elems > room {
		elems = room
	}
	opts := d.opts
	rate := d.rate
	start := s.pos
	d.mu.Unlock()

	if opts.Realtime && rate > 0 {
		wait := time.Duration(float64(elems) / rate * float64(time.Second))
		if timeout > 0 && wait > timeout {
			time.Sleep(timeout)
			return 0, soapy.Metadata{}, soapy.ErrTimeout
		}
		time.Sleep(wait)
	}

	phaseStep := 2 * math.Pi * opts.ToneOffset / rate
	for i := 0; i < elems; i++ {
		phase := phaseStep * float64(start+int64(i))
		buf[2*i] = float32(0.5*math.Cos(phase) + rand.NormFloat64()*opts.NoiseLevel)
		buf[2*i+1] = float32(0.5*math.Sin(phase) + rand.NormFloat64()*opts.NoiseLevel)
	}

	d.mu.Lock()
	s.pos += int64(elems)
	d.mu.Unlock()

	var md soapy.Metadata
	if opts.Timestamps {
		md.Flags |= soapy.HasTime
		md.TimeNs = int64(math.Round(float64(start) / rate * 1e9))
	}
	return elems, md, nil
}
