package main

import (
	"io"
	"strings"
	"testing"

	"github.com/rjboer/SoapyTSDR/internal/tsdr"
)

func testPlugin(t *testing.T, env map[string]string) *plugin {
	t.Helper()
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	p := newPlugin(lookup, io.Discard)
	t.Cleanup(p.cleanup)
	return p
}

func TestPluginLifecycle(t *testing.T) {
	p := testPlugin(t, map[string]string{
		"TSDR_ARGS":           "driver=sim,mtu=1000",
		"TSDR_FLUSH_INTERVAL": "60ms",
	})
	if p.name() != "TSDR soapy Compatible Plugin" {
		t.Fatalf("unexpected name %q", p.name())
	}
	if st := p.init(""); st != tsdr.StatusOK {
		t.Fatalf("init: %v", st)
	}
	if rate := p.setSampleRate(100_000); rate != 100_000 {
		t.Fatalf("unexpected rate %d", rate)
	}
	if p.sampleRate() != 100_000 {
		t.Fatal("getsamplerate disagrees with setsamplerate")
	}
	if st := p.setBaseFreq(433_920_000); st != tsdr.StatusOK {
		t.Fatalf("setbasefreq: %v", st)
	}
	if st := p.setGain(20); st != tsdr.StatusOK {
		t.Fatalf("setgain: %v", st)
	}

	var sizes []int
	st := p.readAsync(func(iq []float32, dropped int64) {
		sizes = append(sizes, len(iq))
		if dropped != 0 {
			t.Errorf("unexpected drops %d", dropped)
		}
		if len(sizes) == 2 {
			p.stop()
		}
	})
	if st != tsdr.StatusOK {
		t.Fatalf("readasync: %v", st)
	}
	// stop is seen after the next read, which is then drained
	if len(sizes) != 3 || sizes[0] != 12000 || sizes[1] != 12000 || sizes[2] != 2000 {
		t.Fatalf("unexpected deliveries %v", sizes)
	}

	p.cleanup()
	if st := p.setBaseFreq(1); st == tsdr.StatusOK {
		t.Fatal("setters after cleanup must fail")
	}
	text, status := p.lastError()
	if !strings.Contains(text, "not initialized") || status != tsdr.StatusCannotOpenDevice {
		t.Fatalf("unexpected last error %q/%v", text, status)
	}
}

func TestPluginInitFailure(t *testing.T) {
	p := testPlugin(t, nil)
	if st := p.init("driver=sim,fail"); st != tsdr.StatusCannotOpenDevice {
		t.Fatalf("expected CANNOT_OPEN_DEVICE, got %v", st)
	}
	text, status := p.lastError()
	if text == "" || status != tsdr.StatusCannotOpenDevice {
		t.Fatalf("unexpected last error %q/%v", text, status)
	}
	if p.setSampleRate(1_000_000) != 0 || p.sampleRate() != 0 {
		t.Fatal("rate calls without a device must report 0")
	}
	if st := p.readAsync(func([]float32, int64) {}); st != tsdr.StatusCannotOpenDevice {
		t.Fatalf("readasync without device: %v", st)
	}
}

func TestPluginReadAsyncGuards(t *testing.T) {
	p := testPlugin(t, map[string]string{"TSDR_ARGS": "driver=sim,mtu=256"})
	if st := p.init(""); st != tsdr.StatusOK {
		t.Fatalf("init: %v", st)
	}
	if st := p.readAsync(nil); st != tsdr.StatusInvalidParameter {
		t.Fatalf("nil callback: %v", st)
	}

	var nested tsdr.Status
	st := p.readAsync(func([]float32, int64) {
		nested = p.readAsync(func([]float32, int64) {})
		p.stop()
	})
	if st != tsdr.StatusOK || nested != tsdr.StatusAlreadyRunning {
		t.Fatalf("expected OK with nested ALREADY_RUNNING, got %v/%v", st, nested)
	}
}

func TestPluginContainsCallbackPanic(t *testing.T) {
	p := testPlugin(t, map[string]string{"TSDR_ARGS": "driver=sim,mtu=256"})
	if st := p.init(""); st != tsdr.StatusOK {
		t.Fatalf("init: %v", st)
	}
	st := p.readAsync(func([]float32, int64) { panic("host bug") })
	if st != tsdr.StatusCannotOpenDevice {
		t.Fatalf("expected CANNOT_OPEN_DEVICE, got %v", st)
	}
	if text, _ := p.lastError(); !strings.Contains(text, "host bug") {
		t.Fatalf("unexpected last error %q", text)
	}
	// the device stays usable
	if st := p.setGain(5); st != tsdr.StatusOK {
		t.Fatalf("setgain after fault: %v", st)
	}
}

func TestPluginIgnoresInvalidEnvironment(t *testing.T) {
	p := testPlugin(t, map[string]string{"TSDR_DROP_TOLERANCE": "-1", "TSDR_ARGS": "driver=sim"})
	if p.cfg.DropTolerance != 0 || p.cfg.Args != "" {
		t.Fatalf("invalid environment should fall back to defaults, got %+v", p.cfg)
	}
}
