package transport

import (
	"errors"
	"testing"

	"github.com/danmuck/amprelay/internal/testutil/testlog"
)

type countingTx struct {
	calls int
}

func (c *countingTx) Transmit(_ Token, payload []byte) (int, error) {
	c.calls++
	return len(payload), nil
}

func TestTokenForIsStable(t *testing.T) {
	testlog.Start(t)
	if TokenFor("ep0") != TokenFor("ep0") {
		t.Fatalf("token not stable")
	}
	if TokenFor("ep0") == TokenFor("ep1") {
		t.Fatalf("distinct names collided")
	}
}

func TestEndpointBindOnceAndSend(t *testing.T) {
	testlog.Start(t)
	tx := &countingTx{}
	bound := 0
	ep := NewEndpoint(EndpointConfig{Name: "ep0", Callbacks: Callbacks{Bound: func() { bound++ }}}, tx)

	if status, err := ep.Send([]byte("x")); !errors.Is(err, ErrNotBound) || status != StatusNotBound {
		t.Fatalf("expected not bound, status=%d err=%v", status, err)
	}
	if !ep.Bind() || ep.Bind() {
		t.Fatalf("bind must report true exactly once")
	}
	if bound != 1 {
		t.Fatalf("bound callback count=%d", bound)
	}
	if n, err := ep.Send([]byte("abc")); err != nil || n != 3 {
		t.Fatalf("send n=%d err=%v", n, err)
	}
	if tx.calls != 1 {
		t.Fatalf("transmit calls=%d", tx.calls)
	}
}

func TestRouterBindAndRoute(t *testing.T) {
	testlog.Start(t)
	r := NewRouter()
	var got []byte
	ep := NewEndpoint(EndpointConfig{Name: "ep0", Callbacks: Callbacks{Received: func(d []byte) { got = d }}}, &countingTx{})
	if err := r.Add(ep); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(ep); !errors.Is(err, ErrEndpointExists) {
		t.Fatalf("expected ErrEndpointExists, got %v", err)
	}
	if r.Route(ep.Token(), []byte("early")) {
		t.Fatalf("unbound endpoint accepted payload")
	}
	if r.HandleBind(TokenFor("other")) {
		t.Fatalf("unknown token bound")
	}
	if !r.HandleBind(ep.Token()) || r.HandleBind(ep.Token()) {
		t.Fatalf("bind transition must be reported once")
	}
	if !r.Route(ep.Token(), []byte("data")) || string(got) != "data" {
		t.Fatalf("route failed got=%q", got)
	}
}

func TestEndpointConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := (EndpointConfig{Name: "  "}).Validate(); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
}
