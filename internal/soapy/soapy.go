// Package soapy describes the device-abstraction contract the receive adapter
// is written against. It mirrors the subset of the SoapySDR device API used for
// single-channel reception: device settings, receive streams and chunked reads.
//
// Concrete drivers live in sub-packages and register themselves with the
// driver registry (see Register and SetFallback).
package soapy

import (
	"time"
)

// Direction selects the transmit or receive side of a device.
type Direction int

// Values match SOAPY_SDR_TX and SOAPY_SDR_RX.
const (
	TX Direction = 0
	RX Direction = 1
)

func (d Direction) String() string {
	switch d {
	case TX:
		return "TX"
	case RX:
		return "RX"
	default:
		return "unknown"
	}
}

// Flags annotate a stream read. Values match the SoapySDR stream flags.
type Flags int

const (
	EndBurst     Flags = 1 << 1
	HasTime      Flags = 1 << 2
	EndAbrupt    Flags = 1 << 3
	OnePacket    Flags = 1 << 4
	MoreFragment Flags = 1 << 5
)

// Metadata is returned alongside every successful read.
type Metadata struct {
	Flags Flags
	// TimeNs is the hardware timestamp of the first element, valid only when
	// Flags has HasTime set.
	TimeNs int64
}

// Device is an open radio handle. Callers serialise settings calls among
// themselves, but one may run while another goroutine is setting up or
// reading a stream of the same device, so implementations must tolerate
// that overlap. Close is never called while a stream is open.
type Device interface {
	// Driver returns the key of the driver that produced the device.
	Driver() string

	SetSampleRate(dir Direction, channel int, rate float64) error
	SampleRate(dir Direction, channel int) (float64, error)

	SetFrequency(dir Direction, channel int, freq float64) error
	Frequency(dir Direction, channel int) (float64, error)

	// SetFrequencyCorrection applies a tuner correction in parts per million.
	SetFrequencyCorrection(dir Direction, channel int, ppm float64) error

	SetGain(dir Direction, channel int, gain float64) error
	Gain(dir Direction, channel int) (float64, error)
	SetGainElement(dir Direction, channel int, name string, gain float64) error
	// SetGainMode toggles automatic gain control.
	SetGainMode(dir Direction, channel int, automatic bool) error

	SetAntenna(dir Direction, channel int, name string) error

	// SetupStream opens a stream of the given sample format over channels.
	SetupStream(dir Direction, format string, channels []int) (Stream, error)

	// Close releases the device. Further calls on the device are invalid.
	Close() error
}

// Stream is an open sample stream on a Device.
type Stream interface {
	// MTU reports the largest number of elements a single Read can return.
	MTU() (int, error)

	Activate() error
	Deactivate() error

	// Read fills buf with up to elems interleaved elements, waiting at most
	// timeout. buf must hold at least elems*2 values for complex float32
	// formats. The count is in elements, not float values. A non-nil error
	// is an ErrorCode for driver-reported conditions.
	Read(buf []float32, elems int, timeout time.Duration) (int, Metadata, error)

	Close() error
}
