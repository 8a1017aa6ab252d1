package tsdr

import (
	"math"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/soapy"
)

// Outcome classifies one delivery to the host.
type Outcome int

const (
	// Clean deliveries carry the whole buffer and no drops.
	Clean Outcome = iota
	// Partial deliveries carry the buffer plus a tolerated drop count.
	Partial
	// Aborted deliveries carry no data; the whole window is reported dropped.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Clean:
		return "clean"
	case Partial:
		return "partial"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DeliverFunc receives interleaved I/Q float32 values and the number of
// samples known to be lost since the previous delivery. The slice is only
// valid for the duration of the call. A zero-length slice with a non-zero
// drop count marks the window as unusable.
type DeliverFunc func(iq []float32, dropped int64)

// bufferCapacity returns the accumulation buffer size in float32 items: one
// flush interval worth of interleaved samples, but never less than two items
// per element of one hardware read.
func bufferCapacity(interval time.Duration, rate float64, mtu int) int {
	items := 0
	if interval > 0 && rate > 0 {
		items = int(math.Ceil(float64(interval) * rate * 2 / float64(time.Second)))
	}
	if floor := 2 * mtu; items < floor {
		items = floor
	}
	return items
}

// deliveryBuffer accumulates reads until a flush is due.
type deliveryBuffer struct {
	data      []float32
	items     int
	dropped   int64
	tolerance float64

	rate       float64
	nextTimeNs int64
	timed      bool
}

func newDeliveryBuffer(interval time.Duration, rate float64, mtu int, tolerance float64) *deliveryBuffer {
	return &deliveryBuffer{
		data:      make([]float32, bufferCapacity(interval, rate, mtu)),
		tolerance: tolerance,
		rate:      rate,
	}
}

func (b *deliveryBuffer) capacity() int { return len(b.data) }

// flushDue reports whether a read of elems elements might not fit.
func (b *deliveryBuffer) flushDue(elems int) bool {
	return b.items+2*elems > len(b.data)
}

// tail is the free region a read writes into.
func (b *deliveryBuffer) tail() []float32 {
	return b.data[b.items:]
}

// commit advances the cursor past n freshly read elements.
func (b *deliveryBuffer) commit(n int) {
	b.items += 2 * n
	if b.items > len(b.data) {
		b.items = len(b.data)
	}
}

// track compares the hardware timestamp of a read against the one expected
// from the previous read and books any gap as dropped samples.
func (b *deliveryBuffer) track(md soapy.Metadata, n int) int64 {
	if md.Flags&soapy.HasTime == 0 || b.rate <= 0 {
		b.timed = false
		return 0
	}
	var gap int64
	if b.timed {
		gap = int64(math.Round(float64(md.TimeNs-b.nextTimeNs) * b.rate / 1e9))
		if gap > 0 {
			b.dropped += gap
		} else {
			gap = 0
		}
	}
	b.nextTimeNs = md.TimeNs + int64(math.Round(float64(n)*1e9/b.rate))
	b.timed = true
	return gap
}

// flush hands the accumulated window to deliver and resets the counters.
// The drop count is cleared on every path, including aborted windows.
func (b *deliveryBuffer) flush(deliver DeliverFunc) (Outcome, int, int64) {
	samples := int64(b.items / 2)
	var (
		outcome Outcome
		items   int
		dropped int64
	)
	switch {
	case b.dropped <= 0:
		outcome, items, dropped = Clean, b.items, 0
	case samples > 0 && float64(b.dropped)/float64(samples) < b.tolerance:
		outcome, items, dropped = Partial, b.items, b.dropped
	default:
		outcome, items, dropped = Aborted, 0, b.dropped+samples
	}
	deliver(b.data[:items], dropped)
	b.items = 0
	b.dropped = 0
	return outcome, items, dropped
}

func (b *deliveryBuffer) release() {
	b.data = nil
	b.items = 0
}
