package relay

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/amprelay/internal/testutil/testlog"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (t *recordingTransport) Send(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), data...))
	return len(data), nil
}

func newTestRelay(t *testing.T, tr Transport) (*Relay, *testlog.Capture) {
	t.Helper()
	testlog.Start(t)
	capture := &testlog.Capture{}
	r := New(Options{Role: RoleResponder, Transport: tr, Logger: capture.Logger()})
	return r, capture
}

func TestInitializeIsIdempotent(t *testing.T) {
	r, capture := newTestRelay(t, nil)
	for i := 0; i < 5; i++ {
		r.Initialize()
	}
	if !r.Initialized() {
		t.Fatalf("expected initialized state")
	}
	if got := capture.Count("relay initialized"); got != 1 {
		t.Fatalf("expected one init record, got=%d", got)
	}
}

func TestInitializeConcurrentLogsOnce(t *testing.T) {
	r, capture := newTestRelay(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Initialize()
		}()
	}
	wg.Wait()
	if got := capture.Count("relay initialized"); got != 1 {
		t.Fatalf("expected one init record, got=%d", got)
	}
}

func TestSendComputesLengthAndIncrements(t *testing.T) {
	tr := &recordingTransport{}
	r, capture := newTestRelay(t, tr)
	r.Initialize()

	for k := 0; k < 64; k += 7 {
		before := r.Count()
		buf := append(bytes.Repeat([]byte{'x'}, k), 0, 'y', 'z')
		if err := r.Send(buf); err != nil {
			t.Fatalf("send k=%d: %v", k, err)
		}
		if r.Count() != before+1 {
			t.Fatalf("count not incremented once: before=%d after=%d", before, r.Count())
		}
		last := tr.sent[len(tr.sent)-1]
		if len(last) != k {
			t.Fatalf("framed len=%d want=%d", len(last), k)
		}
	}
	if got := capture.Count(`"len":14`); got != 1 {
		t.Fatalf("expected one record with len=14, got=%d", got)
	}
}

func TestSendNullIsRejectedWithoutSideEffects(t *testing.T) {
	tr := &recordingTransport{}
	r, capture := newTestRelay(t, tr)
	r.Initialize()
	before := len(capture.Lines())

	err := r.Send(nil)
	if !errors.Is(err, ErrNullInput) {
		t.Fatalf("expected ErrNullInput, got %v", err)
	}
	if r.SendStatus(nil) != StatusNullInput {
		t.Fatalf("expected status %d", StatusNullInput)
	}
	if r.Count() != 0 {
		t.Fatalf("count changed: %d", r.Count())
	}
	if len(capture.Lines()) != before {
		t.Fatalf("rejected send emitted records: %v", capture.Lines()[before:])
	}
	if len(tr.sent) != 0 {
		t.Fatalf("transport invoked on rejected send")
	}
}

func TestSendBeforeInitializeIsRefused(t *testing.T) {
	r, capture := newTestRelay(t, nil)
	err := r.Send([]byte("early\x00"))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if Status(err) != StatusNotInitialized {
		t.Fatalf("unexpected status %d", Status(err))
	}
	if r.Count() != 0 || len(capture.Lines()) != 0 {
		t.Fatalf("uninitialized send had side effects")
	}
}

func TestSendOverlongIsRejected(t *testing.T) {
	testlog.Start(t)
	capture := &testlog.Capture{}
	r := New(Options{Role: RoleInitiator, MaxMessageLen: 8, Logger: capture.Logger()})
	r.Initialize()
	before := len(capture.Lines())

	err := r.Send([]byte("123456789\x00"))
	if !errors.Is(err, ErrOverlong) {
		t.Fatalf("expected ErrOverlong, got %v", err)
	}
	if r.SendStatus([]byte("123456789")) != StatusOverlong {
		t.Fatalf("expected overlong status for unterminated buffer")
	}
	if r.Count() != 0 || len(capture.Lines()) != before {
		t.Fatalf("overlong send had side effects")
	}
	if err := r.Send([]byte("12345678\x00")); err != nil {
		t.Fatalf("message at max length rejected: %v", err)
	}
}

func TestDeliverIgnoresNullAndEmpty(t *testing.T) {
	r, capture := newTestRelay(t, nil)
	r.Initialize()
	before := len(capture.Lines())

	r.Deliver(nil, 12)
	r.Deliver([]byte("payload"), 0)
	r.Deliver(nil, 0)

	if len(capture.Lines()) != before {
		t.Fatalf("no-op deliver emitted records")
	}
	if s := r.Stats(); s.Delivered != 0 || s.DeliveredBytes != 0 {
		t.Fatalf("no-op deliver changed stats: %+v", s)
	}
}

func TestDeliverBeforeInitializeIsIgnored(t *testing.T) {
	r, capture := newTestRelay(t, nil)
	inspected := false
	r.inspect = func([]byte) { inspected = true }

	r.Deliver([]byte("x"), 1)

	if n := len(capture.Lines()); n != 0 {
		t.Fatalf("uninitialized deliver emitted %d records", n)
	}
	if s := r.Stats(); s.Delivered != 0 || s.DeliveredBytes != 0 {
		t.Fatalf("uninitialized deliver changed stats: %+v", s)
	}
	if inspected {
		t.Fatalf("uninitialized deliver reached the inspector")
	}
	if r.Initialized() {
		t.Fatalf("deliver must not initialize the relay")
	}
}

func TestDeliverLogsLengthAndInspects(t *testing.T) {
	testlog.Start(t)
	capture := &testlog.Capture{}
	var seen []byte
	r := New(Options{
		Role:      RoleResponder,
		Logger:    capture.Logger(),
		Inspector: func(p []byte) { seen = append([]byte(nil), p...) },
	})
	r.Initialize()

	r.Deliver([]byte("abc"), 10)
	if got := capture.Count(`"len":10`); got != 1 {
		t.Fatalf("expected record with len=10, got=%d", got)
	}
	if string(seen) != "abc" {
		t.Fatalf("inspector read past slice extent: %q", seen)
	}
	if r.Count() != 0 {
		t.Fatalf("deliver must not touch sent count")
	}
	if s := r.Stats(); s.Delivered != 1 || s.DeliveredBytes != 10 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestCountIsExactAcrossMixedCalls(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	r.Initialize()
	const m = 25
	for i := 0; i < m; i++ {
		if err := r.Send([]byte("msg\x00")); err != nil {
			t.Fatalf("send: %v", err)
		}
		_ = r.Count()
		r.Deliver([]byte("in"), 2)
		_ = r.Send(nil)
	}
	if r.Count() != m {
		t.Fatalf("count=%d want=%d", r.Count(), m)
	}
}

func TestConcurrentSendHasNoLostUpdates(t *testing.T) {
	for _, n := range []int{2, 10, 1000} {
		testlog.Start(t)
		capture := &testlog.Capture{}
		r := New(Options{Role: RoleInitiator, Logger: capture.Logger()})
		r.Initialize()

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.Send([]byte("tick\x00")); err != nil {
					t.Errorf("send: %v", err)
				}
				_ = r.Count()
			}()
		}
		wg.Wait()
		if r.Count() != uint32(n) {
			t.Fatalf("n=%d count=%d", n, r.Count())
		}
	}
}

func TestHelloWorldScenario(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	r.Initialize()
	if err := r.Send([]byte("hello\x00")); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	if r.SendStatus(nil) >= 0 {
		t.Fatalf("null send accepted")
	}
	if err := r.Send([]byte("world\x00")); err != nil {
		t.Fatalf("send world: %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("count=%d want=2", r.Count())
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole(" Responder "); err != nil || role != RoleResponder {
		t.Fatalf("unexpected role=%q err=%v", role, err)
	}
	if _, err := ParseRole("observer"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}
