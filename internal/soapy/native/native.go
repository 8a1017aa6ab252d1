//go:build soapysdr

// Package native binds the SoapySDR C API. Importing it installs the SoapySDR
// module loader as the fallback driver, so any argument string whose driver
// is not implemented in Go is resolved by the installed SoapySDR modules.
//
// Build with -tags soapysdr and libSoapySDR (0.8 or newer) available.
package native

/*
#cgo LDFLAGS: -lSoapySDR

#include <stdlib.h>
#include <stdbool.h>
#include <SoapySDR/Device.h>
#include <SoapySDR/Formats.h>

static SoapySDRStream *setupStream1(SoapySDRDevice *d, int dir, const char *format, size_t channel) {
	size_t chans[1] = {channel};
	return SoapySDRDevice_setupStream(d, dir, format, chans, 1, NULL);
}

static int readStream1(SoapySDRDevice *d, SoapySDRStream *s, void *buf, size_t n, int *flags, long long *timeNs, long timeoutUs) {
	void *buffs[1] = {buf};
	return SoapySDRDevice_readStream(d, s, buffs, n, flags, timeNs, timeoutUs);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/rjboer/SoapyTSDR/internal/soapy"
)

func init() {
	soapy.SetFallback(Open)
}

// Open instantiates a device through SoapySDR's Device::make. args is passed
// through untouched so SoapySDR applies its own parsing rules.
func Open(args string) (soapy.Device, error) {
	cargs := C.CString(args)
	defer C.free(unsafe.Pointer(cargs))

	dev := C.SoapySDRDevice_makeStrArgs(cargs)
	if dev == nil {
		return nil, fmt.Errorf("soapysdr make %q: %w", args, lastError(soapy.ErrNoDevice))
	}
	driver := soapy.ParseKwargs(args)["driver"]
	if key := C.SoapySDRDevice_getDriverKey(dev); key != nil {
		driver = C.GoString(key)
		C.SoapySDR_free(unsafe.Pointer(key))
	}
	return &device{dev: dev, driver: driver}, nil
}

func lastError(fallback error) error {
	if msg := C.GoString(C.SoapySDRDevice_lastError()); msg != "" {
		return fmt.Errorf("%s: %w", msg, fallback)
	}
	return fallback
}

// status converts a SoapySDR int return into an error.
func status(op string, ret C.int) error {
	if ret == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", op, lastError(soapy.ErrorCode(ret)))
}

// lastStatus reports a failure of the most recent getter call.
func lastStatus(op string) error {
	if ret := C.SoapySDRDevice_lastStatus(); ret != 0 {
		return status(op, ret)
	}
	return nil
}

type device struct {
	dev    *C.SoapySDRDevice
	driver string
}

func (d *device) Driver() string { return d.driver }

func (d *device) live() error {
	if d.dev == nil {
		return soapy.ErrClosed
	}
	return nil
}

func (d *device) SetSampleRate(dir soapy.Direction, channel int, rate float64) error {
	if err := d.live(); err != nil {
		return err
	}
	return status("setSampleRate", C.SoapySDRDevice_setSampleRate(d.dev, C.int(dir), C.size_t(channel), C.double(rate)))
}

func (d *device) SampleRate(dir soapy.Direction, channel int) (float64, error) {
	if err := d.live(); err != nil {
		return 0, err
	}
	rate := float64(C.SoapySDRDevice_getSampleRate(d.dev, C.int(dir), C.size_t(channel)))
	return rate, lastStatus("getSampleRate")
}

func (d *device) SetFrequency(dir soapy.Direction, channel int, freq float64) error {
	if err := d.live(); err != nil {
		return err
	}
	return status("setFrequency", C.SoapySDRDevice_setFrequency(d.dev, C.int(dir), C.size_t(channel), C.double(freq), nil))
}

func (d *device) Frequency(dir soapy.Direction, channel int) (float64, error) {
	if err := d.live(); err != nil {
		return 0, err
	}
	freq := float64(C.SoapySDRDevice_getFrequency(d.dev, C.int(dir), C.size_t(channel)))
	return freq, lastStatus("getFrequency")
}

func (d *device) SetFrequencyCorrection(dir soapy.Direction, channel int, ppm float64) error {
	if err := d.live(); err != nil {
		return err
	}
	return status("setFrequencyCorrection", C.SoapySDRDevice_setFrequencyCorrection(d.dev, C.int(dir), C.size_t(channel), C.double(ppm)))
}

func (d *device) SetGain(dir soapy.Direction, channel int, gain float64) error {
	if err := d.live(); err != nil {
		return err
	}
	return status("setGain", C.SoapySDRDevice_setGain(d.dev, C.int(dir), C.size_t(channel), C.double(gain)))
}

func (d *device) Gain(dir soapy.Direction, channel int) (float64, error) {
	if err := d.live(); err != nil {
		return 0, err
	}
	gain := float64(C.SoapySDRDevice_getGain(d.dev, C.int(dir), C.size_t(channel)))
	return gain, lastStatus("getGain")
}

func (d *device) SetGainElement(dir soapy.Direction, channel int, name string, gain float64) error {
	if err := d.live(); err != nil {
		return err
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return status("setGainElement "+name, C.SoapySDRDevice_setGainElement(d.dev, C.int(dir), C.size_t(channel), cname, C.double(gain)))
}

func (d *device) SetGainMode(dir soapy.Direction, channel int, automatic bool) error {
	if err := d.live(); err != nil {
		return err
	}
	return status("setGainMode", C.SoapySDRDevice_setGainMode(d.dev, C.int(dir), C.size_t(channel), C.bool(automatic)))
}

func (d *device) SetAntenna(dir soapy.Direction, channel int, name string) error {
	if err := d.live(); err != nil {
		return err
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return status("setAntenna "+name, C.SoapySDRDevice_setAntenna(d.dev, C.int(dir), C.size_t(channel), cname))
}

func (d *device) SetupStream(dir soapy.Direction, format string, channels []int) (soapy.Stream, error) {
	if err := d.live(); err != nil {
		return nil, err
	}
	if len(channels) != 1 {
		return nil, fmt.Errorf("setupStream: %d channels: %w", len(channels), soapy.ErrNotSupported)
	}
	cformat := C.CString(format)
	defer C.free(unsafe.Pointer(cformat))

	st := C.setupStream1(d.dev, C.int(dir), cformat, C.size_t(channels[0]))
	if st == nil {
		return nil, fmt.Errorf("setupStream %s: %w", format, lastError(soapy.ErrStreamError))
	}
	return &stream{dev: d, st: st}, nil
}

func (d *device) Close() error {
	if d.dev == nil {
		return soapy.ErrClosed
	}
	ret := C.SoapySDRDevice_unmake(d.dev)
	d.dev = nil
	return status("unmake", ret)
}

type stream struct {
	dev *device
	st  *C.SoapySDRStream
}

func (s *stream) live() error {
	if s.st == nil || s.dev.dev == nil {
		return soapy.ErrClosed
	}
	return nil
}

func (s *stream) MTU() (int, error) {
	if err := s.live(); err != nil {
		return 0, err
	}
	return int(C.SoapySDRDevice_getStreamMTU(s.dev.dev, s.st)), nil
}

func (s *stream) Activate() error {
	if err := s.live(); err != nil {
		return err
	}
	return status("activateStream", C.SoapySDRDevice_activateStream(s.dev.dev, s.st, 0, 0, 0))
}

func (s *stream) Deactivate() error {
	if err := s.live(); err != nil {
		return err
	}
	return status("deactivateStream", C.SoapySDRDevice_deactivateStream(s.dev.dev, s.st, 0, 0))
}

func (s *stream) Read(buf []float32, elems int, timeout time.Duration) (int, soapy.Metadata, error) {
	if err := s.live(); err != nil {
		return 0, soapy.Metadata{}, err
	}
	if room := len(buf) / 2; elems > room {
		elems = room
	}
	if elems <= 0 {
		return 0, soapy.Metadata{}, errors.New("readStream: empty buffer")
	}
	var (
		flags  C.int
		timeNs C.longlong
	)
	ret := C.readStream1(s.dev.dev, s.st, unsafe.Pointer(&buf[0]), C.size_t(elems), &flags, &timeNs, C.long(timeout.Microseconds()))
	if ret < 0 {
		return 0, soapy.Metadata{}, soapy.ErrorCode(ret)
	}
	return int(ret), soapy.Metadata{Flags: soapy.Flags(flags), TimeNs: int64(timeNs)}, nil
}

func (s *stream) Close() error {
	if err := s.live(); err != nil {
		return err
	}
	ret := C.SoapySDRDevice_closeStream(s.dev.dev, s.st)
	s.st = nil
	return status("closeStream", ret)
}
