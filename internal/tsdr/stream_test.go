package tsdr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rjboer/SoapyTSDR/internal/soapy"
	"github.com/rjboer/SoapyTSDR/internal/soapy/sim"
)

// faultDevice is a simulated device whose stream setup can be made to fail
// at each step.
type faultDevice struct {
	*sim.Device
	setupErr  error
	nilStream bool
	stream    *faultStream
}

func (d *faultDevice) SetupStream(soapy.Direction, string, []int) (soapy.Stream, error) {
	if d.setupErr != nil {
		return nil, d.setupErr
	}
	if d.nilStream {
		return nil, nil
	}
	return d.stream, nil
}

type faultStream struct {
	mtu         int
	mtuErr      error
	activateErr error
	reads       int
	closed      int
}

func (s *faultStream) MTU() (int, error) { return s.mtu, s.mtuErr }
func (s *faultStream) Activate() error   { return s.activateErr }
func (s *faultStream) Deactivate() error { return nil }
func (s *faultStream) Close() error      { s.closed++; return nil }
func (s *faultStream) Read([]float32, int, time.Duration) (int, soapy.Metadata, error) {
	s.reads++
	return 0, soapy.Metadata{}, soapy.ErrTimeout
}

func TestStreamAcquisitionFailures(t *testing.T) {
	setupErr := errors.New("no free endpoints")
	mtuErr := errors.New("mtu query failed")
	activateErr := errors.New("activate refused")

	tests := []struct {
		name       string
		dev        *faultDevice
		wantErr    error
		wantClosed int
	}{
		{"setup error", &faultDevice{setupErr: setupErr}, setupErr, 0},
		{"nil stream", &faultDevice{nilStream: true}, errNilStream, 0},
		{"mtu error", &faultDevice{stream: &faultStream{mtu: 1024, mtuErr: mtuErr}}, mtuErr, 1},
		{"zero mtu", &faultDevice{stream: &faultStream{}}, nil, 1},
		{"negative mtu", &faultDevice{stream: &faultStream{mtu: -4}}, nil, 1},
		{"activate error", &faultDevice{stream: &faultStream{mtu: 1024, activateErr: activateErr}}, activateErr, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.dev.Device = sim.New(sim.Options{})
			prev := openDevice
			openDevice = func(string) (soapy.Device, error) { return tt.dev, nil }
			defer func() { openDevice = prev }()

			s := NewSession(Config{}, nil, quietLogger())
			if err := s.Init("driver=sim"); err != nil {
				t.Fatalf("init: %v", err)
			}
			defer s.Cleanup()

			rec := &recorder{}
			err := s.StartReceiving(context.Background(), rec.deliver)
			if !errors.Is(err, ErrCannotOpenDevice) {
				t.Fatalf("expected ErrCannotOpenDevice, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error wrapping %v, got %v", tt.wantErr, err)
			}
			if st := tt.dev.stream; st != nil {
				if st.closed != tt.wantClosed {
					t.Fatalf("expected stream closed %d time(s), got %d", tt.wantClosed, st.closed)
				}
				if st.reads != 0 {
					t.Fatalf("no reads may be issued on a failed stream, got %d", st.reads)
				}
			}
			if s.Running() {
				t.Fatal("running flag must be false after a failed start")
			}
			if len(rec.got) != 0 {
				t.Fatalf("no delivery expected, got %+v", rec.got)
			}
			if s.LastError() == "" {
				t.Fatal("expected last error text")
			}
			// nothing stays marked as streaming
			if err := s.Init("driver=sim"); err != nil {
				t.Fatalf("init after failed start: %v", err)
			}
		})
	}
}
