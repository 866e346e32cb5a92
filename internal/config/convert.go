package config

import "github.com/danmuck/amprelay/internal/node"

// Node projects the resolved config onto the node runtime config.
func (c NodeConfig) Node() node.Config {
	return node.Config{
		Name:              c.Name,
		Role:              c.Role,
		Endpoint:          c.Endpoint,
		MaxMessageLen:     c.MaxMessageLen,
		StartupDelay:      c.StartupDelay,
		SendCount:         c.SendCount,
		SendInterval:      c.SendInterval,
		EchoLimit:         c.EchoLimit,
		HeartbeatInterval: c.HeartbeatInterval,
	}
}
