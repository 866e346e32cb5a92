// Package redismbox implements a transport instance as a pair of Redis
// Pub/Sub mailboxes, one channel per core:
//
//	{namespace}:{core}:mailbox
//
// Delivery is at-most-once; a slow or absent subscriber loses frames.
package redismbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/amprelay/internal/protocol/frame"
	"github.com/danmuck/amprelay/internal/transport"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultNamespace   = "amprelay"
	DefaultOutboxSlots = 64
)

var ErrOutboxFull = errors.New("redismbox: outbox full")

// Options configures a mailbox instance.
type Options struct {
	Namespace   string
	Limits      frame.Limits
	OutboxSlots int
	Logger      zerolog.Logger
}

// Instance publishes to the peer mailbox and subscribes to its own.
type Instance struct {
	id     string
	local  string
	peer   string
	ns     string
	rdb    *redis.Client
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
}

var _ transport.Instance = (*Instance)(nil)

// MailboxChannel returns the channel a core subscribes to.
func MailboxChannel(namespace, core string) string {
	return fmt.Sprintf("%s:%s:mailbox", namespace, core)
}

func New(redisOpts *redis.Options, local, peer string, opts Options) (*Instance, error) {
	local = strings.TrimSpace(local)
	peer = strings.TrimSpace(peer)
	if local == "" || peer == "" {
		return nil, fmt.Errorf("redismbox: local and peer names are required")
	}
	if local == peer {
		return nil, fmt.Errorf("redismbox: local and peer must differ")
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	if opts.OutboxSlots <= 0 {
		opts.OutboxSlots = DefaultOutboxSlots
	}

	id := uuid.NewString()
	ro := *redisOpts
	if ro.ClientName == "" {
		ro.ClientName = fmt.Sprintf("%s-%s-%s", opts.Namespace, local, id[:8])
	}
	return &Instance{
		id:     id,
		local:  local,
		peer:   peer,
		ns:     opts.Namespace,
		rdb:    redis.NewClient(&ro),
		limits: opts.Limits,
		log:    opts.Logger.With().Str("instance", local).Str("instance_id", id).Logger(),
		router: transport.NewRouter(),
		outbox: make(chan frame.Frame, opts.OutboxSlots),
	}, nil
}

func (i *Instance) Name() string {
	return i.local
}

// ID is unique per process start.
func (i *Instance) ID() string {
	return i.id
}

// Open verifies connectivity and subscribes to the local mailbox before
// returning, so frames published after Open are not missed.
func (i *Instance) Open(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return transport.ErrClosed
	}
	if i.open {
		return transport.ErrAlreadyOpen
	}
	if err := i.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redismbox ping: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pubsub := i.rdb.Subscribe(runCtx, MailboxChannel(i.ns, i.local))
	if _, err := pubsub.Receive(runCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("redismbox subscribe: %w", err)
	}

	i.open = true
	i.cancel = cancel
	i.wg.Add(2)
	go i.receiveLoop(runCtx, pubsub)
	go i.publishLoop(runCtx)
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

// Transmit queues a copy of payload for publication.
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

	if wasOpen {
		cancel()
		i.wg.Wait()
	}
	return i.rdb.Close()
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

func (i *Instance) publishLoop(ctx context.Context) {
	defer i.wg.Done()
	channel := MailboxChannel(i.ns, i.peer)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-i.outbox:
			b, err := frame.Marshal(f, i.limits)
			if err != nil {
				i.log.Warn().Err(err).Msg("redismbox encode failed")
				continue
			}
			if err := i.rdb.Publish(ctx, channel, b).Err(); err != nil && ctx.Err() == nil {
				i.log.Warn().Err(err).Str("channel", channel).Msg("redismbox publish failed")
			}
		}
	}
}

func (i *Instance) receiveLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer i.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f, err := frame.Unmarshal([]byte(msg.Payload), i.limits)
			if err != nil {
				i.log.Warn().Err(err).Msg("redismbox decode failed")
				continue
			}
			token := transport.Token(f.Header.Token)
			if f.IsBind() {
				if i.router.HandleBind(token) {
					_ = i.enqueue(frame.Frame{Header: frame.Header{Token: f.Header.Token, Flags: frame.FlagBind}})
				}
				continue
			}
			i.router.Route(token, f.Payload)
		}
	}
}
