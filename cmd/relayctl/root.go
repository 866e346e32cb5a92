package main

import (
	"github.com/danmuck/amprelay/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Run and inspect inter-core message relay nodes",
		Long: `relayctl hosts one relay core per process over a tcp or redis channel,
runs an in-process two-core demo over the loopback channel, and manages
node config files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
			if logLevel != "" {
				logging.SetLevel(logLevel)
			}
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (trace|debug|info|warn|error|off)")

	root.AddCommand(newRunCmd(), newDemoCmd(), newConfigCmd())
	return root
}
