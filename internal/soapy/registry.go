package soapy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory instantiates a device from parsed arguments.
type Factory func(args Kwargs) (Device, error)

// RawFactory instantiates a device from the argument string exactly as the
// caller supplied it.
type RawFactory func(args string) (Device, error)

var (
	registryMu sync.RWMutex
	drivers    = map[string]Factory{}
	fallback   RawFactory
)

// Register makes a driver available under the "driver=<name>" argument.
// Registering the same name twice replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[strings.ToLower(name)] = f
}

// SetFallback installs the factory used for arguments whose driver is not
// registered in Go, typically the native SoapySDR module loader. It receives
// the unparsed argument string.
func SetFallback(f RawFactory) {
	registryMu.Lock()
	fallback = f
	registryMu.Unlock()
}

// Drivers lists the registered driver names.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Make resolves args to a driver and opens a device with it. Registered
// drivers get the parsed arguments; the fallback gets args unmodified.
func Make(args string) (Device, error) {
	kw := ParseKwargs(args)

	registryMu.RLock()
	f, ok := drivers[strings.ToLower(kw["driver"])]
	fb := fallback
	registryMu.RUnlock()

	var (
		dev Device
		err error
	)
	switch {
	case ok:
		dev, err = f(kw)
	case fb != nil:
		dev, err = fb(args)
	default:
		if name := kw["driver"]; name != "" {
			return nil, fmt.Errorf("driver %q: %w", name, ErrNoDevice)
		}
		return nil, fmt.Errorf("args %q: %w", args, ErrNoDevice)
	}
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("args %q: %w", args, ErrNoDevice)
	}
	return dev, nil
}
