package transport

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrAlreadyOpen     = errors.New("transport: instance already open")
	ErrNotOpen         = errors.New("transport: instance not open")
	ErrClosed          = errors.New("transport: instance closed")
	ErrEndpointExists  = errors.New("transport: endpoint already registered")
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint config")
	ErrNotBound        = errors.New("transport: endpoint not bound")
)

// Status values returned alongside errors, mirroring negative errno results.
const (
	StatusNotBound = -2
	StatusBusy     = -16
	StatusIO       = -5
)

// Token identifies an endpoint on both sides of a channel.
type Token uint32

// TokenFor derives the shared token for an endpoint name.
func TokenFor(name string) Token {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return Token(h.Sum32())
}

// Callbacks are invoked from the backend receive goroutine.
type Callbacks struct {
	Bound    func()
	Received func(data []byte)
}

// EndpointConfig names an endpoint and its callbacks.
type EndpointConfig struct {
	Name string
	Callbacks
}

func (c EndpointConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidEndpoint
	}
	return nil
}

// Transmitter is the backend send primitive.
type Transmitter interface {
	Transmit(token Token, payload []byte) (int, error)
}

// Instance is one IPC channel between two cores.
type Instance interface {
	Name() string
	Open(ctx context.Context) error
	RegisterEndpoint(ctx context.Context, cfg EndpointConfig) (*Endpoint, error)
	Close() error
}

// Endpoint is a registered, bindable send/receive handle.
type Endpoint struct {
	name  string
	token Token
	tx    Transmitter
	cb    Callbacks
	bound atomic.Bool
}

func NewEndpoint(cfg EndpointConfig, tx Transmitter) *Endpoint {
	return &Endpoint{
		name:  cfg.Name,
		token: TokenFor(cfg.Name),
		tx:    tx,
		cb:    cfg.Callbacks,
	}
}

func (e *Endpoint) Name() string {
	return e.name
}

func (e *Endpoint) Token() Token {
	return e.token
}

func (e *Endpoint) Bound() bool {
	return e.bound.Load()
}

// Send transmits data to the peer endpoint. The payload is copied by the
// backend before Send returns.
func (e *Endpoint) Send(data []byte) (int, error) {
	if !e.bound.Load() {
		return StatusNotBound, ErrNotBound
	}
	return e.tx.Transmit(e.token, data)
}

// Bind marks the endpoint bound. It reports true only on the first call.
func (e *Endpoint) Bind() bool {
	if !e.bound.CompareAndSwap(false, true) {
		return false
	}
	if e.cb.Bound != nil {
		e.cb.Bound()
	}
	return true
}

// Dispatch hands an inbound payload to the received callback.
func (e *Endpoint) Dispatch(data []byte) {
	if e.cb.Received != nil {
		e.cb.Received(data)
	}
}

// Router maps tokens to registered endpoints for a backend.
type Router struct {
	mu  sync.RWMutex
	eps map[Token]*Endpoint
}

func NewRouter() *Router {
	return &Router{eps: make(map[Token]*Endpoint)}
}

func (r *Router) Add(ep *Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.eps[ep.token]; ok {
		return ErrEndpointExists
	}
	r.eps[ep.token] = ep
	return nil
}

func (r *Router) Get(token Token) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.eps[token]
	return ep, ok
}

// HandleBind binds the local endpoint for token. reply is true when the
// endpoint transitioned to bound and the peer should be answered.
func (r *Router) HandleBind(token Token) (reply bool) {
	ep, ok := r.Get(token)
	if !ok {
		return false
	}
	return ep.Bind()
}

// Route dispatches payload to the endpoint for token. Unknown tokens and
// unbound endpoints drop the payload.
func (r *Router) Route(token Token, payload []byte) bool {
	ep, ok := r.Get(token)
	if !ok || !ep.Bound() {
		return false
	}
	ep.Dispatch(payload)
	return true
}
