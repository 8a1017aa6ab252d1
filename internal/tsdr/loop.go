package tsdr

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/logging"
	"github.com/rjboer/SoapyTSDR/internal/soapy"
	"github.com/rjboer/SoapyTSDR/internal/telemetry"
)

// streamOpening runs after the session is marked streaming, before the
// stream is set up. Swapped in tests.
var streamOpening = func() {}

type counters struct {
	deliveries atomic.Int64
	clean      atomic.Int64
	partial    atomic.Int64
	aborted    atomic.Int64
	samples    atomic.Int64
	dropped    atomic.Int64
	reads      atomic.Int64
	overflows  atomic.Int64
	underflows atomic.Int64
	timeouts   atomic.Int64
}

func (c *counters) reset() {
	for _, v := range []*atomic.Int64{
		&c.deliveries, &c.clean, &c.partial, &c.aborted, &c.samples,
		&c.dropped, &c.reads, &c.overflows, &c.underflows, &c.timeouts,
	} {
		v.Store(0)
	}
}

func (c *counters) snapshot() telemetry.Counters {
	return telemetry.Counters{
		Deliveries: c.deliveries.Load(),
		Clean:      c.clean.Load(),
		Partial:    c.partial.Load(),
		Aborted:    c.aborted.Load(),
		Samples:    c.samples.Load(),
		Dropped:    c.dropped.Load(),
		Reads:      c.reads.Load(),
		Overflows:  c.overflows.Load(),
		Underflows: c.underflows.Load(),
		Timeouts:   c.timeouts.Load(),
	}
}

// StartReceiving opens a receive stream and delivers samples to deliver
// until StopReceiving is called, ctx is canceled or the device fails. It
// blocks the calling goroutine for the whole capture and invokes deliver on
// that same goroutine.
//
// A cooperative stop returns nil, a canceled ctx returns ctx.Err(). Stream
// and device faults are reported as ErrCannotOpenDevice. A second call while
// one is active fails with ErrBusy.
func (s *Session) StartReceiving(ctx context.Context, deliver DeliverFunc) error {
	if deliver == nil {
		return s.fail(fmt.Errorf("nil delivery callback: %w", ErrInvalidParameter))
	}

	s.mu.Lock()
	if s.dev == nil {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("%w: %w", ErrCannotOpenDevice, ErrNotInitialized))
	}
	if s.streaming {
		s.mu.Unlock()
		return s.fail(ErrBusy)
	}
	s.streaming = true
	done := make(chan struct{})
	s.loopDone = done
	dev := s.dev
	cfg := s.cfg
	channels := append([]int(nil), s.channels...)
	rate := float64(s.sampleRateLocked())
	// running must be raised under mu: Cleanup clears it under mu after
	// reading loopDone.
	s.running.Store(true)
	s.counters.reset()
	s.mu.Unlock()

	defer func() {
		s.running.Store(false)
		s.mu.Lock()
		s.streaming = false
		s.loopDone = nil
		s.mu.Unlock()
		close(done)
	}()

	streamOpening()
	rs, err := openReceiveStream(dev, cfg.Format, channels)
	if err != nil {
		s.logger.Error("open receive stream failed", logging.Err(err))
		return s.fail(fmt.Errorf("%w: %w", ErrCannotOpenDevice, err))
	}
	defer rs.close(s.logger)

	buf := newDeliveryBuffer(cfg.FlushInterval, rate, rs.mtu, cfg.DropTolerance)
	defer buf.release()

	s.logger.Info("receiving",
		logging.F("rate", rate),
		logging.F("mtu", rs.mtu),
		logging.F("buffer_items", buf.capacity()),
		logging.F("buffer_bytes", buf.capacity()/2*soapy.FormatToSize(cfg.Format)),
		logging.F("flush_interval", cfg.FlushInterval),
	)

	start := time.Now()
	err = s.drain(ctx, rs, buf, cfg, deliver)
	totals := s.counters.snapshot()
	s.logger.Info("receiving stopped",
		logging.F("elapsed", time.Since(start).Round(time.Millisecond)),
		logging.F("deliveries", totals.Deliveries),
		logging.F("dropped", totals.Dropped),
		logging.F("overflows", totals.Overflows),
		logging.F("underflows", totals.Underflows),
		logging.F("timeouts", totals.Timeouts),
		logging.Err(err),
	)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return s.fail(err)
	}
	return err
}

// StopReceiving asks the streaming loop to stop. It returns immediately; the
// loop notices the request after the read in progress completes.
func (s *Session) StopReceiving() {
	s.running.Store(false)
}

// drain runs the read loop. Panics raised by the driver or the host
// callback are converted to ErrCannotOpenDevice.
func (s *Session) drain(ctx context.Context, rs *receiveStream, buf *deliveryBuffer, cfg Config, deliver DeliverFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.running.Store(false)
			err = fmt.Errorf("%w: stream fault: %v", ErrCannotOpenDevice, r)
		}
	}()

	chunk := rs.mtu
	for s.running.Load() {
		if ctx.Err() != nil {
			break
		}
		if buf.flushDue(chunk) {
			s.flush(buf, deliver)
		}

		n, md, rerr := rs.st.Read(buf.tail(), chunk, cfg.ReadTimeout)
		s.counters.reads.Add(1)
		if rerr != nil {
			code, coded := soapy.CodeOf(rerr)
			switch {
			case coded && code == soapy.ErrTimeout:
				s.counters.timeouts.Add(1)
				continue
			case coded && code == soapy.ErrOverflow:
				s.counters.overflows.Add(1)
				s.logger.Debug("overflow", logging.F("count", s.counters.overflows.Load()))
				continue
			case coded && code == soapy.ErrUnderflow:
				s.counters.underflows.Add(1)
				s.logger.Debug("underflow", logging.F("count", s.counters.underflows.Load()))
				continue
			}
			s.running.Store(false)
			if coded {
				s.logger.Error("unexpected stream error", logging.F("code", int(code)), logging.Err(rerr))
			} else {
				s.logger.Error("unexpected stream error", logging.Err(rerr))
			}
			return fmt.Errorf("%w: read stream: %w", ErrCannotOpenDevice, rerr)
		}
		if n < 0 {
			n = 0
		}
		if gap := buf.track(md, n); gap > 0 {
			s.logger.Debug("timestamp gap", logging.F("samples", gap))
		}
		buf.commit(n)
	}

	// Draining: whatever was captured before the stop goes out once.
	if buf.items > 0 || buf.dropped > 0 {
		s.flush(buf, deliver)
	}
	return ctx.Err()
}

func (s *Session) flush(buf *deliveryBuffer, deliver DeliverFunc) {
	outcome, items, dropped := buf.flush(deliver)

	s.counters.deliveries.Add(1)
	s.counters.dropped.Add(dropped)
	switch outcome {
	case Clean:
		s.counters.clean.Add(1)
	case Partial:
		s.counters.partial.Add(1)
	case Aborted:
		s.counters.aborted.Add(1)
	}
	s.counters.samples.Add(int64(items / 2))

	if s.reporter != nil {
		s.reporter.ReportDelivery(telemetry.Delivery{
			Timestamp: time.Now(),
			Outcome:   outcome.String(),
			Items:     items,
			Dropped:   dropped,
			Totals:    s.counters.snapshot(),
		})
	}
}
