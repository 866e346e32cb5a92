//go:build cgo

package main

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/danmuck/amprelay/internal/relay"
	"github.com/danmuck/amprelay/internal/testutil/testlog"
)

type lenTransport struct {
	lens []int
}

func (t *lenTransport) Send(data []byte) (int, error) {
	t.lens = append(t.lens, len(data))
	return len(data), nil
}

func newCore(t *testing.T, maxLen int) (*relay.Relay, *lenTransport) {
	t.Helper()
	testlog.Start(t)
	tr := &lenTransport{}
	r := relay.New(relay.Options{Role: relay.RoleInitiator, MaxMessageLen: maxLen, Transport: tr, Logger: testlog.NewNop()})
	r.Initialize()
	return r, tr
}

func TestSendCStringTerminatorAtLimit(t *testing.T) {
	const maxLen = 16
	r, tr := newCore(t, maxLen)
	buf := append(bytes.Repeat([]byte("a"), maxLen), 0)

	if got := scanCString(unsafe.Pointer(&buf[0]), maxLen+1); got != maxLen+1 {
		t.Fatalf("scan=%d want %d", got, maxLen+1)
	}
	if status := sendCString(r, unsafe.Pointer(&buf[0])); status != relay.StatusAccepted {
		t.Fatalf("status=%d", status)
	}
	if len(tr.lens) != 1 || tr.lens[0] != maxLen {
		t.Fatalf("handed off lengths %v, want [%d]", tr.lens, maxLen)
	}
	if r.Count() != 1 {
		t.Fatalf("count=%d", r.Count())
	}
}

func TestSendCStringUnterminatedIsOverlong(t *testing.T) {
	const maxLen = 16
	r, tr := newCore(t, maxLen)
	// The terminator sits just past the scan window and must not be seen.
	buf := append(bytes.Repeat([]byte("a"), maxLen+1), 0, 'z')

	if got := scanCString(unsafe.Pointer(&buf[0]), maxLen+1); got != maxLen+1 {
		t.Fatalf("scan=%d want %d", got, maxLen+1)
	}
	if status := sendCString(r, unsafe.Pointer(&buf[0])); status != relay.StatusOverlong {
		t.Fatalf("status=%d want %d", status, relay.StatusOverlong)
	}
	if r.Count() != 0 || len(tr.lens) != 0 {
		t.Fatalf("overlong send had side effects: count=%d handoffs=%d", r.Count(), len(tr.lens))
	}
}

func TestScanCStringStopsAtFirstTerminator(t *testing.T) {
	testlog.Start(t)
	buf := []byte("hi\x00there\x00")
	if got := scanCString(unsafe.Pointer(&buf[0]), len(buf)); got != 3 {
		t.Fatalf("scan=%d want 3", got)
	}
	empty := []byte{0}
	if got := scanCString(unsafe.Pointer(&empty[0]), 8); got != 1 {
		t.Fatalf("scan of empty string=%d want 1", got)
	}
}

func TestSendCStringNullPointer(t *testing.T) {
	r, tr := newCore(t, 16)
	if status := sendCString(r, nil); status != relay.StatusNullInput {
		t.Fatalf("status=%d want %d", status, relay.StatusNullInput)
	}
	if r.Count() != 0 || len(tr.lens) != 0 {
		t.Fatalf("null send had side effects")
	}
}

func TestDeliverRawIgnoresNullAndZeroLength(t *testing.T) {
	r, _ := newCore(t, 16)
	buf := []byte("payload")

	deliverRaw(r, nil, 7)
	deliverRaw(r, unsafe.Pointer(&buf[0]), 0)
	if s := r.Stats(); s.Delivered != 0 || s.DeliveredBytes != 0 {
		t.Fatalf("no-op deliver changed stats: %+v", s)
	}

	deliverRaw(r, unsafe.Pointer(&buf[0]), uint(len(buf)))
	if s := r.Stats(); s.Delivered != 1 || s.DeliveredBytes != uint64(len(buf)) {
		t.Fatalf("deliver stats: %+v", s)
	}
}
