// Package fault contains unrecoverable panics at host-facing boundaries.
//
// A tripped boundary reports once through the logging sink and then halts the
// faulting goroutine. Control never returns to the caller.
package fault

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Record describes one contained fault.
type Record struct {
	Label string
	Value any
	Stack []byte
	At    time.Time
}

func (r Record) String() string {
	return fmt.Sprintf("%s: %v", r.Label, r.Value)
}

// Halter stops the faulting execution context. Halt must not return.
type Halter interface {
	Halt(rec Record)
}

// HaltFunc adapts a function to Halter.
type HaltFunc func(rec Record)

func (f HaltFunc) Halt(rec Record) { f(rec) }

// ParkHalter parks the faulting goroutine forever.
type ParkHalter struct{}

func (ParkHalter) Halt(Record) { select {} }

// ExitHalter terminates the process so a supervisor can restart it.
type ExitHalter struct {
	Code int
}

func (h ExitHalter) Halt(Record) {
	code := h.Code
	if code == 0 {
		code = 70
	}
	os.Exit(code)
}

// Boundary converts panics into a reported, terminal halt.
type Boundary struct {
	label  string
	log    zerolog.Logger
	halter Halter
	trips  atomic.Uint32
	onTrip atomic.Pointer[func(Record)]
}

func New(label string, logger zerolog.Logger, halter Halter) *Boundary {
	if halter == nil {
		halter = ParkHalter{}
	}
	return &Boundary{label: label, log: logger, halter: halter}
}

// Contain must be deferred directly:
//
//	defer b.Contain()
func (b *Boundary) Contain() {
	if v := recover(); v != nil {
		b.trip(v)
	}
}

// OnTrip registers fn to run after a fault is reported and before the
// halter is invoked. A panicking fn does not prevent the halt.
func (b *Boundary) OnTrip(fn func(Record)) {
	b.onTrip.Store(&fn)
}

// Run executes fn inside the boundary.
func (b *Boundary) Run(fn func()) {
	defer b.Contain()
	fn()
}

// Trips reports how many faults this boundary has contained.
func (b *Boundary) Trips() uint32 {
	return b.trips.Load()
}

func (b *Boundary) trip(v any) {
	rec := Record{Label: b.label, Value: v, Stack: debug.Stack(), At: time.Now()}
	b.trips.Add(1)
	b.report(rec)
	b.notify(rec)
	b.halter.Halt(rec)
	// a Halter that returns still must not resume the caller
	select {}
}

func (b *Boundary) report(rec Record) {
	defer func() { _ = recover() }()
	event := b.log.Error().
		Str("boundary", rec.Label).
		Str("panic", fmt.Sprint(rec.Value)).
		Bytes("stack", rec.Stack)
	if _, parked := b.halter.(ParkHalter); parked {
		event = event.Str("halt", "parked; restart or SIGKILL required")
	}
	event.Msg("panic occurred, halting")
}

func (b *Boundary) notify(rec Record) {
	fn := b.onTrip.Load()
	if fn == nil || *fn == nil {
		return
	}
	defer func() { _ = recover() }()
	(*fn)(rec)
}
