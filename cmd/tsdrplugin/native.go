//go:build soapysdr

package main

import _ "github.com/rjboer/SoapyTSDR/internal/soapy/native"
