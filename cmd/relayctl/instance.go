package main

import (
	"context"
	"fmt"
	"net"

	"github.com/danmuck/amprelay/internal/config"
	"github.com/danmuck/amprelay/internal/protocol/frame"
	"github.com/danmuck/amprelay/internal/relay"
	"github.com/danmuck/amprelay/internal/transport"
	"github.com/danmuck/amprelay/internal/transport/redismbox"
	"github.com/danmuck/amprelay/internal/transport/stream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// openInstance builds the transport selected by cfg. The tcp responder
// blocks until its peer connects or ctx is done.
func openInstance(ctx context.Context, cfg config.NodeConfig, logger zerolog.Logger) (transport.Instance, error) {
	tc := cfg.Transport
	limits := frame.DefaultLimits()
	if tc.MaxPayload != 0 {
		limits.MaxPayloadBytes = tc.MaxPayload
	}

	switch tc.Kind {
	case config.TransportTCP:
		opts := stream.Options{Limits: limits, OutboxSlots: tc.Slots, Logger: logger}
		if cfg.Role == relay.RoleResponder {
			ln, err := net.Listen("tcp", tc.Listen)
			if err != nil {
				return nil, fmt.Errorf("listen %s: %w", tc.Listen, err)
			}
			defer ln.Close()
			logger.Info().Str("addr", ln.Addr().String()).Msg("waiting for peer")
			inst, err := stream.Accept(ctx, tc.Instance, ln, opts)
			if err != nil {
				return nil, err
			}
			return inst, nil
		}
		inst, err := stream.DialRetry(ctx, tc.Instance, "tcp", tc.Dial, opts, stream.DefaultBackoff())
		if err != nil {
			return nil, err
		}
		return inst, nil
	case config.TransportRedis:
		inst, err := redismbox.New(&redis.Options{Addr: tc.RedisAddr, DB: tc.RedisDB}, cfg.Name, tc.Peer, redismbox.Options{
			Namespace:   tc.RedisNamespace,
			Limits:      limits,
			OutboxSlots: tc.Slots,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return inst, nil
	case config.TransportLoopback:
		return nil, fmt.Errorf("loopback transport is only available to the demo command")
	default:
		return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
	}
}
