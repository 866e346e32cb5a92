package loopback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/amprelay/internal/testutil/testlog"
	"github.com/danmuck/amprelay/internal/transport"
	"github.com/stretchr/testify/require"
)

func openPair(t *testing.T, slots int) (*Instance, *Instance) {
	t.Helper()
	testlog.Start(t)
	a, b := NewPair("initiator", "responder", slots)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = a.Close()
		_ = b.Close()
	})
	require.NoError(t, a.Open(ctx))
	require.NoError(t, b.Open(ctx))
	return a, b
}

func waitBound(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("endpoint never bound")
	}
}

func TestOpenTwiceReportsAlreadyOpen(t *testing.T) {
	a, _ := openPair(t, 4)
	err := a.Open(context.Background())
	require.True(t, errors.Is(err, transport.ErrAlreadyOpen))
}

func TestRegisterRequiresOpen(t *testing.T) {
	testlog.Start(t)
	a, _ := NewPair("a", "b", 1)
	_, err := a.RegisterEndpoint(context.Background(), transport.EndpointConfig{Name: "ep0"})
	require.ErrorIs(t, err, transport.ErrNotOpen)
}

func TestBindAndExchange(t *testing.T) {
	a, b := openPair(t, 8)

	boundA := make(chan struct{})
	boundB := make(chan struct{})
	gotB := make(chan []byte, 1)

	epA, err := a.RegisterEndpoint(context.Background(), transport.EndpointConfig{
		Name:      "ep0",
		Callbacks: transport.Callbacks{Bound: func() { close(boundA) }},
	})
	require.NoError(t, err)

	_, err = epA.Send([]byte("too early"))
	require.ErrorIs(t, err, transport.ErrNotBound)

	_, err = b.RegisterEndpoint(context.Background(), transport.EndpointConfig{
		Name: "ep0",
		Callbacks: transport.Callbacks{
			Bound:    func() { close(boundB) },
			Received: func(data []byte) { gotB <- data },
		},
	})
	require.NoError(t, err)

	waitBound(t, boundA)
	waitBound(t, boundB)

	buf := []byte("hello")
	n, err := epA.Send(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	buf[0] = 'J'

	select {
	case data := <-gotB:
		require.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatalf("payload not received")
	}
}

func TestDuplicateEndpointRejected(t *testing.T) {
	a, _ := openPair(t, 4)
	_, err := a.RegisterEndpoint(context.Background(), transport.EndpointConfig{Name: "ep0"})
	require.NoError(t, err)
	_, err = a.RegisterEndpoint(context.Background(), transport.EndpointConfig{Name: "ep0"})
	require.ErrorIs(t, err, transport.ErrEndpointExists)
}

func TestTransmitFullMailboxReportsBusy(t *testing.T) {
	testlog.Start(t)
	a, b := NewPair("a", "b", 1)
	require.NoError(t, a.Open(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	// b is never opened, so its inbox is never drained.
	_ = b

	status, err := a.Transmit(transport.TokenFor("ep0"), []byte("one"))
	require.NoError(t, err)
	require.Equal(t, 3, status)

	status, err = a.Transmit(transport.TokenFor("ep0"), []byte("two"))
	require.ErrorIs(t, err, ErrMailboxFull)
	require.Equal(t, transport.StatusBusy, status)
}

func TestCloseIsIdempotent(t *testing.T) {
	a, _ := openPair(t, 2)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Open(context.Background()), transport.ErrClosed)
	_, err := a.Transmit(1, []byte("x"))
	require.ErrorIs(t, err, transport.ErrNotOpen)
}
