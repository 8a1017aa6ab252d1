package tsdr

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/soapy"
)

func TestBufferCapacityScenario(t *testing.T) {
	got := bufferCapacity(60*time.Millisecond, 25e6, 4096)
	if got != 3_000_000 {
		t.Fatalf("expected 3,000,000 items, got %d", got)
	}
}

func TestBufferCapacityBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		rate := rng.Float64() * 60e6
		mtu := 1 + rng.Intn(1<<17)
		interval := time.Duration(rng.Int63n(int64(200 * time.Millisecond)))

		c := bufferCapacity(interval, rate, mtu)
		if c < 2*mtu {
			t.Fatalf("rate=%.0f mtu=%d interval=%v: capacity %d below 2*mtu", rate, mtu, interval, c)
		}
		if float64(c) < float64(interval)*rate*2/float64(time.Second) {
			t.Fatalf("rate=%.0f mtu=%d interval=%v: capacity %d below interval*rate*2", rate, mtu, interval, c)
		}
	}
	if c := bufferCapacity(60*time.Millisecond, 0, 512); c != 1024 {
		t.Fatalf("unknown rate should fall back to 2*mtu, got %d", c)
	}
}

type delivery struct {
	items   int
	dropped int64
}

type recorder struct {
	got []delivery
}

func (r *recorder) deliver(iq []float32, dropped int64) {
	r.got = append(r.got, delivery{items: len(iq), dropped: dropped})
}

func TestFlushOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
		items     int
		dropped   int64
		want      Outcome
		wantItems int
		wantDrop  int64
	}{
		{"clean", 0, 800, 0, Clean, 800, 0},
		{"partial below tolerance", 0.1, 800, 20, Partial, 800, 20},
		{"aborted at tolerance", 0.05, 800, 20, Aborted, 0, 420},
		{"aborted with zero tolerance", 0, 800, 1, Aborted, 0, 401},
		{"aborted empty window", 0.5, 0, 5, Aborted, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newDeliveryBuffer(0, 0, 500, tt.tolerance)
			b.items = tt.items
			b.dropped = tt.dropped
			rec := &recorder{}

			outcome, items, dropped := b.flush(rec.deliver)
			if outcome != tt.want || items != tt.wantItems || dropped != tt.wantDrop {
				t.Fatalf("got %v/%d/%d, want %v/%d/%d", outcome, items, dropped, tt.want, tt.wantItems, tt.wantDrop)
			}
			if len(rec.got) != 1 || rec.got[0].items != tt.wantItems || rec.got[0].dropped != tt.wantDrop {
				t.Fatalf("unexpected callback %+v", rec.got)
			}
			if b.items != 0 || b.dropped != 0 {
				t.Fatalf("counters not reset: items=%d dropped=%d", b.items, b.dropped)
			}
		})
	}
}

func TestFlushDueBeforeOverflow(t *testing.T) {
	b := newDeliveryBuffer(0, 0, 256, 0)
	if b.capacity() != 512 {
		t.Fatalf("unexpected capacity %d", b.capacity())
	}
	if b.flushDue(256) {
		t.Fatal("empty buffer should take a full read")
	}
	b.commit(1)
	if !b.flushDue(256) {
		t.Fatal("partially filled buffer cannot take another full read")
	}
	b.commit(10_000)
	if b.items != b.capacity() {
		t.Fatalf("commit must clamp to capacity, got %d", b.items)
	}
}

func TestTrackTimestampGaps(t *testing.T) {
	b := newDeliveryBuffer(0, 1e6, 100, 0)
	timed := func(ns int64) soapy.Metadata { return soapy.Metadata{Flags: soapy.HasTime, TimeNs: ns} }

	if gap := b.track(timed(0), 100); gap != 0 {
		t.Fatalf("first read cannot have a gap, got %d", gap)
	}
	// 100 samples at 1 MS/s = 100 us
	if gap := b.track(timed(100_000), 100); gap != 0 {
		t.Fatalf("contiguous read reported gap %d", gap)
	}
	if gap := b.track(timed(250_000), 100); gap != 50 {
		t.Fatalf("expected 50 lost samples, got %d", gap)
	}
	if b.dropped != 50 {
		t.Fatalf("expected dropped=50, got %d", b.dropped)
	}
	// untimed reads break the chain instead of guessing
	b.track(soapy.Metadata{}, 100)
	if gap := b.track(timed(10_000_000), 100); gap != 0 {
		t.Fatalf("gap across untimed read should be ignored, got %d", gap)
	}
}
