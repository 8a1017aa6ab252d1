package tsdr

import (
	"errors"
	"fmt"
)

// Status is a TSDR plugin return code.
type Status int

const (
	StatusOK                    Status = 0
	StatusErrPlugin             Status = 1
	StatusWrongVideoParams      Status = 2
	StatusAlreadyRunning        Status = 3
	StatusPluginParametersWrong Status = 4
	StatusSampleRateWrong       Status = 5
	StatusCannotOpenDevice      Status = 6
	StatusIncompatiblePlugin    Status = 7
	StatusInvalidParameter      Status = 8
	StatusNotImplemented        Status = 9
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErrPlugin:
		return "ERR_PLUGIN"
	case StatusWrongVideoParams:
		return "WRONG_VIDEOPARAMS"
	case StatusAlreadyRunning:
		return "ALREADY_RUNNING"
	case StatusPluginParametersWrong:
		return "PLUGIN_PARAMETERS_WRONG"
	case StatusSampleRateWrong:
		return "SAMPLE_RATE_WRONG"
	case StatusCannotOpenDevice:
		return "CANNOT_OPEN_DEVICE"
	case StatusIncompatiblePlugin:
		return "INCOMPATIBLE_PLUGIN"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return fmt.Sprintf("STATUS_%d", int(s))
	}
}

var (
	// ErrCannotOpenDevice covers every hardware failure, at open time and
	// while streaming.
	ErrCannotOpenDevice = errors.New("cannot open device")
	// ErrNotInitialized is returned by setters called without an open device.
	ErrNotInitialized = errors.New("device not initialized")
	// ErrBusy rejects a second concurrent streaming request.
	ErrBusy = errors.New("already receiving")
	// ErrInvalidParameter flags a bad argument from the host.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// StatusOf maps an error returned by a Session to the code reported to the
// host. Unknown errors fall into the hardware category.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrBusy):
		return StatusAlreadyRunning
	case errors.Is(err, ErrInvalidParameter):
		return StatusInvalidParameter
	default:
		return StatusCannotOpenDevice
	}
}
