package mdns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func fakeBrowse(t *testing.T, found ...*zeroconf.ServiceEntry) {
	t.Helper()
	prev := browse
	browse = func(ctx context.Context, service, domain string, entries chan *zeroconf.ServiceEntry) error {
		if service != Service || domain != "local." {
			t.Errorf("unexpected browse %s %s", service, domain)
		}
		go func() {
			for _, e := range found {
				select {
				case entries <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}
	t.Cleanup(func() { browse = prev })
}

func entry(instance, host string, port int, v4 ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, Service, "local.")
	e.HostName = host
	e.Port = port
	for _, ip := range v4 {
		e.AddrIPv4 = append(e.AddrIPv4, net.ParseIP(ip))
	}
	return e
}

func TestDiscoverDeduplicatesAndSorts(t *testing.T) {
	fakeBrowse(t,
		entry(`SoapyRemote\ on\ shack`, "shack.local.", 55132, "192.168.1.20"),
		nil,
		entry(`SoapyRemote\ on\ attic`, "attic.local.", 55132, "192.168.1.30"),
		entry(`SoapyRemote\ on\ shack`, "shack.local.", 55132, "192.168.1.21"),
	)

	hosts, err := DiscoverSoapyRemote(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %+v", hosts)
	}
	if hosts[0].Instance != "SoapyRemote on attic" || hosts[1].Instance != "SoapyRemote on shack" {
		t.Fatalf("unexpected order %q %q", hosts[0].Instance, hosts[1].Instance)
	}
	if got := hosts[1].Args(); got != "driver=remote,remote=tcp://192.168.1.21:55132" {
		t.Fatalf("unexpected args %q", got)
	}
}

func TestDiscoverBrowseError(t *testing.T) {
	prev := browse
	defer func() { browse = prev }()
	browse = func(context.Context, string, string, chan *zeroconf.ServiceEntry) error {
		return errors.New("no multicast interface")
	}
	if _, err := DiscoverSoapyRemote(context.Background(), time.Second); err == nil {
		t.Fatal("expected browse error")
	}
}

func TestHostAddress(t *testing.T) {
	tests := []struct {
		host Host
		want string
	}{
		{Host{Hostname: "rpi.local.", Port: 55132}, "rpi.local:55132"},
		{Host{Hostname: "rpi.local.", Port: 1, Addresses: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("10.0.0.2")}}, "10.0.0.2:1"},
		{Host{Hostname: "rpi.local.", Port: 2, Addresses: []net.IP{net.ParseIP("fe80::1")}}, "[fe80::1]:2"},
	}
	for _, tt := range tests {
		if got := tt.host.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}

func TestCleanInstance(t *testing.T) {
	if got := cleanInstance(`iio\ on\ pluto`); got != "iio on pluto" {
		t.Fatalf("unexpected %q", got)
	}
}
