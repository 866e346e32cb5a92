//go:build cgo

// Command librelay builds the relay as a C shared library exposing the
// host entry points relay_init, relay_send, relay_deliver and
// relay_get_count.
//
//	go build -buildmode=c-shared -o librelay.so ./cmd/librelay
package main

/*
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"os"
	"sync"
	"unsafe"

	"github.com/danmuck/amprelay/internal/fault"
	"github.com/danmuck/amprelay/internal/logging"
	"github.com/danmuck/amprelay/internal/relay"
	"github.com/rs/zerolog/log"
)

const envRole = "AMPRELAY_ROLE"

var (
	setupOnce sync.Once
	core      *relay.Relay
	boundary  *fault.Boundary
)

func setup() {
	setupOnce.Do(func() {
		logging.ConfigureRuntime()
		role, err := relay.ParseRole(os.Getenv(envRole))
		if err != nil {
			role = relay.RoleInitiator
		}
		logger := logging.ForRole(string(role))
		core = relay.New(relay.Options{Role: role, Logger: logger})
		boundary = fault.New(string(role), log.Logger, fault.ParkHalter{})
	})
}

//export relay_init
func relay_init() {
	setup()
	defer boundary.Contain()
	core.Initialize()
}

//export relay_send
func relay_send(message *C.char) C.int {
	setup()
	defer boundary.Contain()
	return C.int(sendCString(core, unsafe.Pointer(message)))
}

//export relay_deliver
func relay_deliver(data *C.char, length C.size_t) {
	setup()
	defer boundary.Contain()
	deliverRaw(core, unsafe.Pointer(data), uint(length))
}

//export relay_get_count
func relay_get_count() C.uint32_t {
	setup()
	return C.uint32_t(core.Count())
}

// sendCString frames a NUL-terminated host string. The scan stops one byte
// past the limit so an overlong message is reported without reading further.
func sendCString(r *relay.Relay, base unsafe.Pointer) int {
	if base == nil {
		return relay.StatusNullInput
	}
	n := scanCString(base, r.MaxMessageLen()+1)
	return r.SendStatus(unsafe.Slice((*byte)(base), n))
}

func deliverRaw(r *relay.Relay, base unsafe.Pointer, length uint) {
	if base == nil || length == 0 {
		return
	}
	r.Deliver(unsafe.Slice((*byte)(base), int(length)), length)
}

// scanCString returns the number of bytes up to and including the first
// NUL, or limit when none occurs within limit bytes. Nothing at or past
// base+limit is read.
func scanCString(base unsafe.Pointer, limit int) int {
	for i := 0; i < limit; i++ {
		if *(*byte)(unsafe.Add(base, i)) == 0 {
			return i + 1
		}
	}
	return limit
}

func main() {}
