package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/amprelay/internal/fault"
	"github.com/danmuck/amprelay/internal/relay"
	"github.com/danmuck/amprelay/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the node snapshot served by the admin surface.
type Status struct {
	Name     string      `json:"name"`
	BootID   string      `json:"boot_id"`
	Instance string      `json:"instance"`
	Endpoint string      `json:"endpoint"`
	Bound    bool        `json:"bound"`
	Faults   uint32      `json:"faults"`
	Relay    relay.Stats `json:"relay"`
}

// Node runs one core's host runtime. It owns inst and closes it when Run
// returns.
type Node struct {
	cfg      Config
	inst     transport.Instance
	relay    *relay.Relay
	boundary *fault.Boundary
	log      zerolog.Logger
	bootID   string

	ep        atomic.Pointer[transport.Endpoint]
	bound     chan struct{}
	boundOnce sync.Once
	sendDone  chan struct{}
	started   atomic.Bool
}

var _ relay.Transport = (*Node)(nil)

func New(cfg Config, inst transport.Instance, logger zerolog.Logger, halter fault.Halter) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("node: nil transport instance")
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Role)
	}
	bootID := uuid.NewString()
	log := logger.With().Str("node", cfg.Name).Str("boot_id", bootID).Logger()
	n := &Node{
		cfg:      cfg,
		inst:     inst,
		boundary: fault.New(cfg.Name, log, halter),
		log:      log,
		bootID:   bootID,
		bound:    make(chan struct{}),
		sendDone: make(chan struct{}),
	}
	n.relay = relay.New(relay.Options{
		Role:          cfg.Role,
		MaxMessageLen: cfg.MaxMessageLen,
		Transport:     n,
		Logger:        log,
	})
	return n, nil
}

func (n *Node) Relay() *relay.Relay {
	return n.relay
}

func (n *Node) Boundary() *fault.Boundary {
	return n.boundary
}

// Bound is closed once the endpoint has bound to its peer.
func (n *Node) Bound() <-chan struct{} {
	return n.bound
}

// SendDone is closed when the initiator send loop finishes. It stays open
// for responders.
func (n *Node) SendDone() <-chan struct{} {
	return n.sendDone
}

func (n *Node) Status() Status {
	st := Status{
		Name:     n.cfg.Name,
		BootID:   n.bootID,
		Instance: n.inst.Name(),
		Endpoint: n.cfg.Endpoint,
		Faults:   n.boundary.Trips(),
		Relay:    n.relay.Stats(),
	}
	if ep := n.ep.Load(); ep != nil {
		st.Bound = ep.Bound()
	}
	return st
}

// Send forwards framed relay output to the registered endpoint.
func (n *Node) Send(data []byte) (int, error) {
	ep := n.ep.Load()
	if ep == nil {
		return transport.StatusNotBound, transport.ErrNotBound
	}
	return ep.Send(data)
}

// Start initializes the relay, opens the instance and registers the endpoint.
func (n *Node) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}
	n.relay.Initialize()

	if err := n.inst.Open(ctx); err != nil && !errors.Is(err, transport.ErrAlreadyOpen) {
		return fmt.Errorf("open instance %s: %w", n.inst.Name(), err)
	}
	ep, err := n.inst.RegisterEndpoint(ctx, transport.EndpointConfig{
		Name: n.cfg.Endpoint,
		Callbacks: transport.Callbacks{
			Bound:    n.onBound,
			Received: n.onReceived,
		},
	})
	if err != nil {
		return fmt.Errorf("register endpoint %s: %w", n.cfg.Endpoint, err)
	}
	n.ep.Store(ep)
	n.log.Info().
		Str("role", string(n.cfg.Role)).
		Str("instance", n.inst.Name()).
		Str("endpoint", n.cfg.Endpoint).
		Msg("ready, waiting for messages")
	return nil
}

// Run starts the node and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	defer n.inst.Close()
	if err := n.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.heartbeat(ctx)
	}()
	if n.cfg.Role == relay.RoleInitiator {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.runInitiator(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	n.log.Info().Uint32("count", n.relay.Count()).Msg("node stopped")
	return nil
}

func (n *Node) onBound() {
	n.boundOnce.Do(func() {
		n.log.Info().Str("endpoint", n.cfg.Endpoint).Msg("endpoint bound")
		close(n.bound)
	})
}

func (n *Node) onReceived(data []byte) {
	defer n.boundary.Contain()
	n.log.Info().Str("payload", string(data)).Msg("received message")
	n.relay.Deliver(data, uint(len(data)))
	if n.cfg.Role != relay.RoleResponder {
		return
	}
	echo := EchoMessage(n.cfg.Name, data, n.cfg.EchoLimit)
	if err := n.relay.Send(echo); err != nil {
		n.log.Error().Err(err).Int("status", relay.Status(err)).Msg("failed to echo message")
	}
}

func (n *Node) runInitiator(ctx context.Context) {
	defer n.boundary.Contain()
	defer close(n.sendDone)

	n.log.Info().Msg("waiting for responder to be ready")
	if !sleepCtx(ctx, n.cfg.StartupDelay) {
		return
	}
	select {
	case <-n.bound:
	case <-ctx.Done():
		return
	}

	for i := 0; i < n.cfg.SendCount; i++ {
		msg := HelloMessage(n.cfg.Name, i)
		if err := n.relay.Send(msg); err != nil {
			n.log.Error().Err(err).Int("status", relay.Status(err)).Msg("failed to send message")
		}
		if i == n.cfg.SendCount-1 {
			break
		}
		if !sleepCtx(ctx, n.cfg.SendInterval) {
			return
		}
	}
}

func (n *Node) heartbeat(ctx context.Context) {
	defer n.boundary.Contain()
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := n.relay.Stats()
			n.log.Debug().
				Uint32("sent", st.Sent).
				Uint32("delivered", st.Delivered).
				Uint64("delivered_bytes", st.DeliveredBytes).
				Msg("heartbeat")
		}
	}
}

// HelloMessage builds the initiator's nth terminated message.
func HelloMessage(name string, n int) []byte {
	return fmt.Appendf(nil, "Hello from %s - Message %d\x00", name, n)
}

// EchoMessage builds a terminated echo of payload that fits in limit bytes
// including the terminator.
func EchoMessage(name string, payload []byte, limit int) []byte {
	msg := fmt.Appendf(nil, "%s Echo: %s", name, payload)
	if limit > 0 && len(msg) > limit-1 {
		msg = msg[:limit-1]
	}
	return append(msg, 0)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
