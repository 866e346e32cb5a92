// Package stream carries frames over a byte stream between two host
// processes, typically a TCP or unix socket.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/amprelay/internal/protocol/frame"
	"github.com/danmuck/amprelay/internal/transport"
	"github.com/rs/zerolog"
)

const DefaultOutboxSlots = 64

var ErrOutboxFull = errors.New("stream: outbox full")

// Options configures a stream instance.
type Options struct {
	Limits      frame.Limits
	OutboxSlots int
	Logger      zerolog.Logger
}

// Instance is a framed channel over conn.
type Instance struct {
	name   string
	conn   io.ReadWriteCloser
	limits frame.Limits
	log    zerolog.Logger
	router *transport.Router
	outbox chan frame.Frame
	seq    atomic.Uint64

	mu     sync.Mutex
	open   bool
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
	err    atomic.Value
}

var _ transport.Instance = (*Instance)(nil)

func New(name string, conn io.ReadWriteCloser, opts Options) *Instance {
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	if opts.OutboxSlots <= 0 {
		opts.OutboxSlots = DefaultOutboxSlots
	}
	return &Instance{
		name:   name,
		conn:   conn,
		limits: opts.Limits,
		log:    opts.Logger.With().Str("instance", name).Logger(),
		router: transport.NewRouter(),
		outbox: make(chan frame.Frame, opts.OutboxSlots),
	}
}

// Dial connects to a listening peer.
func Dial(ctx context.Context, name, network, addr string, opts Options) (*Instance, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("stream dial %s: %w", addr, err)
	}
	return New(name, conn, opts), nil
}

// Accept waits for one peer on ln.
func Accept(ctx context.Context, name string, ln net.Listener, opts Options) (*Instance, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		_ = ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("stream accept: %w", r.err)
		}
		return New(name, r.conn, opts), nil
	}
}

func (i *Instance) Name() string {
	return i.name
}

func (i *Instance) Open(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return transport.ErrClosed
	}
	if i.open {
		return transport.ErrAlreadyOpen
	}
	runCtx, cancel := context.WithCancel(ctx)
	i.open = true
	i.cancel = cancel
	i.wg.Add(2)
	go i.readLoop(runCtx)
	go i.writeLoop(runCtx)
	go func() {
		<-runCtx.Done()
		_ = i.conn.Close()
	}()
	return nil
}

func (i *Instance) RegisterEndpoint(_ context.Context, cfg transport.EndpointConfig) (*transport.Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !i.isOpen() {
		return nil, transport.ErrNotOpen
	}
	ep := transport.NewEndpoint(cfg, i)
	if err := i.router.Add(ep); err != nil {
		return nil, err
	}
	if err := i.enqueue(frame.Frame{Header: frame.Header{Token: uint32(ep.Token()), Flags: frame.FlagBind}}); err != nil {
		return nil, err
	}
	return ep, nil
}

// Transmit queues a copy of payload for the writer goroutine.
func (i *Instance) Transmit(token transport.Token, payload []byte) (int, error) {
	if !i.isOpen() {
		return transport.StatusIO, transport.ErrNotOpen
	}
	if uint64(len(payload)) > uint64(i.limits.MaxPayloadBytes) {
		return transport.StatusIO, frame.ErrPayloadTooLarge
	}
	data := append([]byte(nil), payload...)
	if err := i.enqueue(frame.Frame{Header: frame.Header{Token: uint32(token)}, Payload: data}); err != nil {
		return transport.StatusBusy, err
	}
	return len(data), nil
}

// Err returns the error that stopped the read loop, if any.
func (i *Instance) Err() error {
	if v, ok := i.err.Load().(error); ok {
		return v
	}
	return nil
}

func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	wasOpen := i.open
	i.open = false
	cancel := i.cancel
	i.mu.Unlock()

	if !wasOpen {
		return i.conn.Close()
	}
	cancel()
	i.wg.Wait()
	return nil
}

func (i *Instance) isOpen() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.open
}

func (i *Instance) enqueue(f frame.Frame) error {
	f.Header.Sequence = i.seq.Add(1)
	select {
	case i.outbox <- f:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (i *Instance) writeLoop(ctx context.Context) {
	defer i.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-i.outbox:
			if err := frame.WriteFrame(i.conn, f, i.limits); err != nil {
				i.log.Warn().Err(err).Uint64("seq", f.Header.Sequence).Msg("stream write failed")
			}
		}
	}
}

func (i *Instance) readLoop(ctx context.Context) {
	defer i.wg.Done()
	for {
		f, err := frame.ReadFrame(i.conn, i.limits)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				i.log.Warn().Err(err).Msg("stream read failed")
			}
			i.err.Store(err)
			return
		}
		token := transport.Token(f.Header.Token)
		if f.IsBind() {
			if i.router.HandleBind(token) {
				_ = i.enqueue(frame.Frame{Header: frame.Header{Token: f.Header.Token, Flags: frame.FlagBind}})
			}
			continue
		}
		if !i.router.Route(token, f.Payload) {
			i.log.Debug().Uint32("token", f.Header.Token).Msg("dropped frame for unbound endpoint")
		}
	}
}
