package soapy

import "strings"

// Stream formats, named as in SoapySDR/Formats.h.
const (
	CF64 = "CF64"
	CF32 = "CF32"
	CS32 = "CS32"
	CU32 = "CU32"
	CS16 = "CS16"
	CU16 = "CU16"
	CS12 = "CS12"
	CU12 = "CU12"
	CS8  = "CS8"
	CU8  = "CU8"
	CS4  = "CS4"
	CU4  = "CU4"
)

// FormatToSize returns the size in bytes of one element of format. Complex
// formats count both halves of the pair. Unknown formats yield 0.
func FormatToSize(format string) int {
	format = strings.ToUpper(strings.TrimSpace(format))
	if format == "" {
		return 0
	}
	complexFmt := false
	if format[0] == 'C' {
		complexFmt = true
		format = format[1:]
	}
	if len(format) < 2 {
		return 0
	}
	switch format[0] {
	case 'F', 'S', 'U':
	default:
		return 0
	}
	bits := 0
	for _, r := range format[1:] {
		if r < '0' || r > '9' {
			return 0
		}
		bits = bits*10 + int(r-'0')
	}
	if complexFmt {
		bits *= 2
	}
	return bits / 8
}
