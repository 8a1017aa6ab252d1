package tsdr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/soapy"
)

var errNilStream = errors.New("device returned no stream")

// receiveStream is an activated RX stream together with the MTU negotiated
// for it.
type receiveStream struct {
	st  soapy.Stream
	mtu int
}

// openReceiveStream sets up and activates an RX stream. On failure nothing
// stays open.
func openReceiveStream(dev soapy.Device, format string, channels []int) (*receiveStream, error) {
	if !strings.EqualFold(format, soapy.CF32) {
		return nil, fmt.Errorf("format %q: host expects interleaved float32 (%s)", format, soapy.CF32)
	}
	st, err := dev.SetupStream(soapy.RX, format, channels)
	if err != nil {
		return nil, fmt.Errorf("setup stream: %w", err)
	}
	if st == nil {
		return nil, errNilStream
	}
	mtu, err := st.MTU()
	if err != nil || mtu <= 0 {
		_ = st.Close()
		if err == nil {
			err = fmt.Errorf("invalid mtu %d", mtu)
		}
		return nil, fmt.Errorf("query stream mtu: %w", err)
	}
	if err := st.Activate(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("activate stream: %w", err)
	}
	return &receiveStream{st: st, mtu: mtu}, nil
}

func (r *receiveStream) close(logger logging.Logger) {
	if err := r.st.Deactivate(); err != nil {
		logger.Debug("deactivate stream failed", logging.Err(err))
	}
	if err := r.st.Close(); err != nil {
		logger.Warn("close stream failed", logging.Err(err))
	}
}
