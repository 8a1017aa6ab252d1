// Package mdns finds SoapyRemote servers advertised over DNS-SD.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/rjboer/SoapyTSDR/internal/soapy"
)

// Service is the DNS-SD service type announced by SoapyRemote servers.
const Service = "_soapy._tcp"

// Host represents a discovered SoapyRemote server.
type Host struct {
	Instance  string // Advertised name: "SoapyRemote on rpi"
	Hostname  string // DNS hostname: "rpi.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns host:port for the server, preferring an IPv4 address over
// IPv6 and either over the hostname.
func (h Host) Address() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	var v6 net.IP
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), strconv.Itoa(h.Port))
		}
		if v6 == nil {
			v6 = ip
		}
	}
	if v6 != nil {
		host = v6.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(h.Port))
}

// Args returns device arguments that open this server through the
// SoapyRemote driver.
func (h Host) Args() string {
	return soapy.Kwargs{"driver": "remote", "remote": "tcp://" + h.Address()}.String()
}

// browse is swapped in tests.
var browse = func(ctx context.Context, service, domain string, entries chan *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("resolver error: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// DiscoverSoapyRemote browses for _soapy._tcp.local services until timeout
// elapses or ctx is done. It returns cleaned and deduplicated hosts ordered by
// instance name.
func DiscoverSoapyRemote(ctx context.Context, timeout time.Duration) ([]Host, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	// Consumer goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := hostFromEntry(e)
				resultMap[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := browse(ctx, Service, "local.", entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	// Consolidate IPs (both v4 and v6)
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
