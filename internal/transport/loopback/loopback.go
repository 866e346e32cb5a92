// Package loopback pairs two transport instances inside one process, one
// bounded mailbox per direction.
package loopback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/danmuck/amprelay/internal/protocol/frame"
	"github.com/danmuck/amprelay/internal/transport"
)

const DefaultSlots = 16

var ErrMailboxFull = errors.New("loopback: mailbox full")

// Instance is one side of a loopback pair.
type Instance struct {
	name   string
	inbox  chan frame.Frame
	peer   *Instance
	router *transport.Router
	seq    atomic.Uint64

	mu     sync.Mutex
	open   bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

var _ transport.Instance = (*Instance)(nil)

// NewPair returns two connected instances. slots bounds each mailbox.
func NewPair(nameA, nameB string, slots int) (*Instance, *Instance) {
	if slots <= 0 {
		slots = DefaultSlots
	}
	a := newInstance(nameA, slots)
	b := newInstance(nameB, slots)
	a.peer = b
	b.peer = a
	return a, b
}

func newInstance(name string, slots int) *Instance {
	return &Instance{
		name:   name,
		inbox:  make(chan frame.Frame, slots),
		router: transport.NewRouter(),
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
	i.done = make(chan struct{})
	go i.receiveLoop(runCtx, i.done)
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
	_ = i.post(frame.Frame{Header: frame.Header{Token: uint32(ep.Token()), Flags: frame.FlagBind}})
	return ep, nil
}

// Transmit copies payload into the peer mailbox without blocking.
func (i *Instance) Transmit(token transport.Token, payload []byte) (int, error) {
	if !i.isOpen() {
		return transport.StatusIO, transport.ErrNotOpen
	}
	data := append([]byte(nil), payload...)
	if err := i.post(frame.Frame{Header: frame.Header{Token: uint32(token)}, Payload: data}); err != nil {
		return transport.StatusBusy, err
	}
	return len(data), nil
}

func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.open = false
	cancel, done := i.cancel, i.done
	i.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (i *Instance) isOpen() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.open
}

func (i *Instance) post(f frame.Frame) error {
	f.Header.Magic = frame.Magic
	f.Header.Sequence = i.seq.Add(1)
	f.Header.PayloadLen = uint32(len(f.Payload))
	select {
	case i.peer.inbox <- f:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (i *Instance) receiveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-i.inbox:
			token := transport.Token(f.Header.Token)
			if f.IsBind() {
				if i.router.HandleBind(token) {
					_ = i.post(frame.Frame{Header: frame.Header{Token: f.Header.Token, Flags: frame.FlagBind}})
				}
				continue
			}
			i.router.Route(token, f.Payload)
		}
	}
}
