package soapy

import (
	"sort"
	"strings"
)

// Kwargs is a device argument map, the Go form of SoapySDRKwargs.
type Kwargs map[string]string

// ParseKwargs splits a "key=value,key2=value2" argument string. Keys without
// a value map to the empty string; surrounding whitespace is trimmed.
func ParseKwargs(s string) Kwargs {
	out := Kwargs{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// String renders the map back into argument form with sorted keys.
func (k Kwargs) String() string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(k[key])
	}
	return b.String()
}
