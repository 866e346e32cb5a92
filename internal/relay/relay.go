package relay

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Role identifies which core a relay instance runs on.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// ParseRole accepts the configured role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleInitiator:
		return RoleInitiator, nil
	case RoleResponder:
		return RoleResponder, nil
	default:
		return "", fmt.Errorf("relay: unknown role %q", raw)
	}
}

// Transport is the outbound primitive accepted bytes are handed to.
// The returned status is recorded but not interpreted.
type Transport interface {
	Send(data []byte) (int, error)
}

// Inspector receives inbound payloads. Nil means payloads are acknowledged by
// length only.
type Inspector func(payload []byte)

// Options configures a Relay.
type Options struct {
	Role          Role
	MaxMessageLen int
	Transport     Transport
	Inspector     Inspector
	Logger        zerolog.Logger
}

// Stats is a point-in-time snapshot of relay counters.
type Stats struct {
	Role           Role   `json:"role"`
	Initialized    bool   `json:"initialized"`
	Sent           uint32 `json:"sent"`
	Delivered      uint32 `json:"delivered"`
	DeliveredBytes uint64 `json:"delivered_bytes"`
}

// Relay is the single per-core context value.
type Relay struct {
	role      Role
	maxLen    int
	transport Transport
	inspect   Inspector
	log       zerolog.Logger

	initialized    atomic.Bool
	count          atomic.Uint32
	delivered      atomic.Uint32
	deliveredBytes atomic.Uint64
}

func New(opts Options) *Relay {
	maxLen := opts.MaxMessageLen
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	role := opts.Role
	if role == "" {
		role = RoleInitiator
	}
	return &Relay{
		role:      role,
		maxLen:    maxLen,
		transport: opts.Transport,
		inspect:   opts.Inspector,
		log:       opts.Logger.With().Str("core", string(role)).Logger(),
	}
}

func (r *Relay) Role() Role {
	return r.role
}

func (r *Relay) MaxMessageLen() int {
	return r.maxLen
}

// Initialize flips the lifecycle state once. Repeated or racing calls are
// no-ops and never log twice.
func (r *Relay) Initialize() {
	if !r.initialized.CompareAndSwap(false, true) {
		return
	}
	r.log.Info().Msg("relay initialized")
}

func (r *Relay) Initialized() bool {
	return r.initialized.Load()
}

// Send frames a borrowed message and hands it to the transport.
// A nil error means accepted for transmission, not delivered.
func (r *Relay) Send(message []byte) error {
	if message == nil {
		return ErrNullInput
	}
	if !r.initialized.Load() {
		return ErrNotInitialized
	}
	n, err := FrameLen(message, r.maxLen)
	if err != nil {
		return err
	}

	seq := r.count.Add(1)
	r.log.Info().Uint32("count", seq).Int("len", n).Msg("sending message")

	if r.transport != nil {
		status, err := r.transport.Send(message[:n])
		r.log.Debug().Uint32("count", seq).Int("status", status).Err(err).Msg("transport handoff")
	}
	return nil
}

// SendStatus is Send reported as a host status code.
func (r *Relay) SendStatus(message []byte) int {
	return Status(r.Send(message))
}

// Deliver acknowledges an inbound transfer. Nil data or zero length is
// silently ignored. The supplied length is trusted for accounting; the
// payload is never read past its slice extent.
func (r *Relay) Deliver(data []byte, length uint) {
	if data == nil || length == 0 {
		return
	}
	if !r.initialized.Load() {
		return
	}
	r.delivered.Add(1)
	r.deliveredBytes.Add(uint64(length))
	r.log.Info().Uint("len", length).Msg("processing received message")

	if r.inspect != nil {
		n := length
		if n > uint(len(data)) {
			n = uint(len(data))
		}
		r.inspect(data[:n])
	}
}

// Count returns the sent-message counter.
func (r *Relay) Count() uint32 {
	return r.count.Load()
}

func (r *Relay) Stats() Stats {
	return Stats{
		Role:           r.role,
		Initialized:    r.initialized.Load(),
		Sent:           r.count.Load(),
		Delivered:      r.delivered.Load(),
		DeliveredBytes: r.deliveredBytes.Load(),
	}
}
