package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/amprelay/internal/relay"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("node: invalid heartbeat interval")
	ErrInvalidEchoLimit         = errors.New("node: invalid echo limit")
	ErrMissingEndpoint          = errors.New("node: missing endpoint name")
)

// Config configures one core's host runtime.
type Config struct {
	Name              string
	Role              relay.Role
	Endpoint          string
	MaxMessageLen     int
	StartupDelay      time.Duration
	SendCount         int
	SendInterval      time.Duration
	EchoLimit         int
	HeartbeatInterval time.Duration
}

// DefaultConfig mirrors the reference firmware: endpoint "ep0", ten
// messages one second apart after a two second settle, 128 byte echo buffer.
func DefaultConfig(role relay.Role) Config {
	return Config{
		Name:              string(role),
		Role:              role,
		Endpoint:          "ep0",
		MaxMessageLen:     relay.DefaultMaxMessageLen,
		StartupDelay:      2 * time.Second,
		SendCount:         10,
		SendInterval:      time.Second,
		EchoLimit:         128,
		HeartbeatInterval: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	if _, err := relay.ParseRole(string(c.Role)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if c.EchoLimit < 2 {
		return ErrInvalidEchoLimit
	}
	if c.SendCount < 0 {
		return fmt.Errorf("node: negative send count %d", c.SendCount)
	}
	if c.StartupDelay < 0 || c.SendInterval < 0 {
		return fmt.Errorf("node: negative delay")
	}
	return nil
}
