package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/danmuck/amprelay/internal/config"
	"github.com/danmuck/amprelay/internal/fault"
	"github.com/danmuck/amprelay/internal/logging"
	"github.com/danmuck/amprelay/internal/node"
	"github.com/danmuck/amprelay/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one relay core from a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
				logging.SetLevel(cfg.LogLevel)
			}
			log.Info().Str("path", configPath).Str("role", string(cfg.Role)).Msg("loaded node config")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg, stop)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.toml", "node config path (.toml, .yaml)")
	return cmd
}

// runNode hosts one core until ctx is done. release is called when the
// fault boundary trips so that a further signal takes its default action
// instead of waiting on parked goroutines.
func runNode(ctx context.Context, cfg config.NodeConfig, release func()) error {
	logger := logging.ForRole(string(cfg.Role))

	inst, err := openInstance(ctx, cfg, logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	n, err := node.New(cfg.Node(), inst, logger, cfg.Fault.Halter())
	if err != nil {
		_ = inst.Close()
		return err
	}
	releaseOnFault(n, release, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	if cfg.Admin.Listen != "" {
		admin := observability.NewAdmin(cfg.Admin.Listen, n, cfg.Admin.CorsOrigins, logger)
		g.Go(func() error { return admin.Serve(gctx) })
	}
	err = g.Wait()
	logger.Info().Err(err).Msg("node stopped")
	return err
}

func releaseOnFault(n *node.Node, release func(), logger zerolog.Logger) {
	if release == nil {
		return
	}
	n.Boundary().OnTrip(func(rec fault.Record) {
		logger.Error().Str("boundary", rec.Label).Msg("core halted, signal handlers released")
		release()
	})
}
