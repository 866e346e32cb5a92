package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/amprelay/internal/fault"
	"github.com/danmuck/amprelay/internal/logging"
	"github.com/danmuck/amprelay/internal/node"
	"github.com/danmuck/amprelay/internal/relay"
	"github.com/danmuck/amprelay/internal/transport/loopback"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type demoOptions struct {
	Count     int
	Interval  time.Duration
	Delay     time.Duration
	EchoLimit int
	Timeout   time.Duration
}

type demoReport struct {
	Initiator node.Status `json:"initiator"`
	Responder node.Status `json:"responder"`
}

func newDemoCmd() *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an initiator and a responder in-process over the loopback channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts, logging.ForRole("demo"), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.Count, "count", 10, "messages the initiator sends")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "delay between messages")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 2*time.Second, "initiator settle delay before the first message")
	cmd.Flags().IntVar(&opts.EchoLimit, "echo-limit", 128, "responder echo buffer size including terminator")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "give up waiting for echoes after this long")
	return cmd
}

func runDemo(ctx context.Context, opts demoOptions, logger zerolog.Logger, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, b := loopback.NewPair("ipc0", "ipc0", loopback.DefaultSlots)

	icfg := node.DefaultConfig(relay.RoleInitiator)
	icfg.SendCount = opts.Count
	icfg.SendInterval = opts.Interval
	icfg.StartupDelay = opts.Delay
	rcfg := node.DefaultConfig(relay.RoleResponder)
	rcfg.EchoLimit = opts.EchoLimit

	initiator, err := node.New(icfg, a, logger, fault.ParkHalter{})
	if err != nil {
		return err
	}
	responder, err := node.New(rcfg, b, logger, fault.ParkHalter{})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return responder.Run(gctx) })
	g.Go(func() error { return initiator.Run(gctx) })

	want := uint32(opts.Count)
	waitErr := waitUntil(gctx, opts.Timeout, func() bool {
		select {
		case <-initiator.SendDone():
		default:
			return false
		}
		return responder.Relay().Stats().Delivered >= want && initiator.Relay().Stats().Delivered >= want
	})

	report := demoReport{Initiator: initiator.Status(), Responder: responder.Status()}
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if waitErr != nil {
		return waitErr
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("demo timed out after %s", timeout)
		case <-tick.C:
		}
	}
}
