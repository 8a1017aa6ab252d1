package main

import (
	"bufio"
	"encoding/binary"
	"fmt"

	"github.com/rjboer/SoapyTSDR/internal/dsp"
	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/telemetry"
)

// capture is the host side of a session: it records delivered windows and
// feeds periodic spectrum snapshots to the telemetry hub.
type capture struct {
	out      *bufio.Writer
	hub      *telemetry.Hub
	analyzer *dsp.Analyzer
	rate     float64
	stop     func()
	logger   logging.Logger

	deliveries int
	written    int64
	err        error
}

// deliver runs on the streaming goroutine.
func (c *capture) deliver(iq []float32, dropped int64) {
	c.deliveries++
	if len(iq) == 0 {
		c.logger.Debug("window dropped", logging.F("dropped", dropped))
		return
	}

	if c.out != nil && c.err == nil {
		if err := binary.Write(c.out, binary.LittleEndian, iq); err != nil {
			c.err = fmt.Errorf("write samples: %w", err)
			c.logger.Error("stopping capture", logging.Err(c.err))
			c.stop()
		} else {
			c.written += int64(len(iq) / 2)
		}
	}

	cfg := c.hub.ConfigSnapshot()
	if cfg.SpectrumEvery < 1 || (c.deliveries-1)%cfg.SpectrumEvery != 0 {
		return
	}
	if cfg.SpectrumSize > 0 && cfg.SpectrumSize != c.analyzer.Size() {
		c.logger.Debug("spectrum size changed", logging.F("from", c.analyzer.Size()), logging.F("to", cfg.SpectrumSize))
		c.analyzer.UpdateSize(cfg.SpectrumSize)
	}
	if p, ok := c.analyzer.Peak(iq, c.rate); ok {
		c.hub.UpdateSpectrum(telemetry.Spectrum{
			PeakDBFS:     p.DBFS,
			PeakOffsetHz: p.OffsetHz,
			PowerDBFS:    p.PowerDBFS,
			Source:       "soapyrx",
		})
	}
}

// finish flushes the recording and returns the first write error.
func (c *capture) finish() error {
	if c.out == nil {
		return c.err
	}
	if err := c.out.Flush(); err != nil && c.err == nil {
		c.err = fmt.Errorf("flush samples: %w", err)
	}
	if c.err == nil {
		c.logger.Info("recording complete", logging.F("samples", c.written))
	}
	return c.err
}
