// Command tsdrplugin builds the TSDR receive plugin as a shared library:
//
//	go build -buildmode=c-shared -tags soapysdr -o TSDRPlugin_Soapy.so ./cmd/tsdrplugin
package main

/*
#include <stddef.h>
#include <stdint.h>

typedef void (*tsdrplugin_readasync_function)(float *buf, size_t items, void *ctx, int64_t dropped);

static inline void tsdrplugin_deliver(tsdrplugin_readasync_function cb, float *buf, size_t items, void *ctx, int64_t dropped) {
	cb(buf, items, ctx, dropped);
}
*/
import "C"

import (
	"os"
	"unsafe"

	_ "github.com/rjboer/SoapyTSDR/internal/soapy/sim"
)

// maxErrorText bounds messages copied into host buffers, terminator included.
const maxErrorText = 200

var plug = newPlugin(os.LookupEnv, os.Stderr)

func main() {}

// copyString writes s into the C buffer at dst, truncated to max-1 bytes and
// NUL terminated.
func copyString(dst *C.char, s string, max int) {
	if dst == nil || max <= 0 {
		return
	}
	if len(s) > max-1 {
		s = s[:max-1]
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(dst)), len(s)+1)
	copy(b, s)
	b[len(s)] = 0
}

//export tsdrplugin_getName
func tsdrplugin_getName(name *C.char) {
	n := plug.name()
	copyString(name, n, len(n)+1)
}

//export tsdrplugin_init
func tsdrplugin_init(params *C.char) C.int {
	var s string
	if params != nil {
		s = C.GoString(params)
	}
	return C.int(plug.init(s))
}

//export tsdrplugin_setsamplerate
func tsdrplugin_setsamplerate(rate C.uint32_t) C.uint32_t {
	return C.uint32_t(plug.setSampleRate(uint32(rate)))
}

//export tsdrplugin_getsamplerate
func tsdrplugin_getsamplerate() C.uint32_t {
	return C.uint32_t(plug.sampleRate())
}

//export tsdrplugin_setbasefreq
func tsdrplugin_setbasefreq(freq C.uint32_t) C.int {
	return C.int(plug.setBaseFreq(uint32(freq)))
}

//export tsdrplugin_setgain
func tsdrplugin_setgain(gain C.float) C.int {
	return C.int(plug.setGain(float32(gain)))
}

// tsdrplugin_readasync blocks the calling host thread while streaming. The
// buffer passed to cb is only valid for the duration of the call.
//
//export tsdrplugin_readasync
func tsdrplugin_readasync(cb C.tsdrplugin_readasync_function, ctx unsafe.Pointer) C.int {
	if cb == nil {
		return C.int(plug.readAsync(nil))
	}
	return C.int(plug.readAsync(func(iq []float32, dropped int64) {
		C.tsdrplugin_deliver(cb, (*C.float)(unsafe.Pointer(unsafe.SliceData(iq))), C.size_t(len(iq)), ctx, C.int64_t(dropped))
	}))
}

//export tsdrplugin_stop
func tsdrplugin_stop() C.int {
	return C.int(plug.stop())
}

//export tsdrplugin_cleanup
func tsdrplugin_cleanup() {
	plug.cleanup()
}

//export tsdrplugin_getlasterrortext
func tsdrplugin_getlasterrortext(message *C.char) C.int {
	text, status := plug.lastError()
	copyString(message, text, maxErrorText)
	return C.int(status)
}
