package soapy

import (
	"errors"
	"fmt"
)

// ErrorCode is a negative status returned by a stream operation. The values
// are the SoapySDR error codes so native drivers can pass them through.
type ErrorCode int

const (
	ErrTimeout      ErrorCode = -1
	ErrStreamError  ErrorCode = -2
	ErrCorruption   ErrorCode = -3
	ErrOverflow     ErrorCode = -4
	ErrNotSupported ErrorCode = -5
	ErrTimeError    ErrorCode = -6
	ErrUnderflow    ErrorCode = -7
)

func (c ErrorCode) Error() string { return ErrToStr(int(c)) }

// ErrToStr converts a stream status code into a readable name.
func ErrToStr(code int) string {
	switch ErrorCode(code) {
	case ErrTimeout:
		return "TIMEOUT"
	case ErrStreamError:
		return "STREAM_ERROR"
	case ErrCorruption:
		return "CORRUPTION"
	case ErrOverflow:
		return "OVERFLOW"
	case ErrNotSupported:
		return "NOT_SUPPORTED"
	case ErrTimeError:
		return "TIME_ERROR"
	case ErrUnderflow:
		return "UNDERFLOW"
	}
	return fmt.Sprintf("UNKNOWN_%d", code)
}

// CodeOf extracts the ErrorCode carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var code ErrorCode
	if errors.As(err, &code) {
		return code, true
	}
	return 0, false
}

var (
	// ErrNoDevice is returned by Make when the arguments select no device.
	ErrNoDevice = errors.New("no matching device")
	// ErrClosed is returned by operations on a released device or stream.
	ErrClosed = errors.New("device closed")
)
