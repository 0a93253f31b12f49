// Package cli implements the signalflow command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the signalflow command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "signalflow",
		Short: "SignalFlow workflow engine CLI",
		Long:  "SignalFlow runs signal-driven node/edge workflow graphs and records their events.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to signalflow.yaml (default: ./signalflow.yaml, then ~/.signalflow/config.yaml)")
	flags.Bool("verbose", false, "Enable verbose/debug logging")
	flags.Bool("quiet", false, "Suppress all output except errors")
	flags.String("store", "", "Event store: memory | sqlite | redis (overrides config)")
	flags.String("sqlite-dsn", "", "SQLite event store DSN (overrides config)")
	flags.String("redis-addr", "", "Redis event store address (overrides config)")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("signalflow version %s\n", version))

	root.AddCommand(NewRunCmd())
	root.AddCommand(NewEventsCmd())
	root.AddCommand(NewNodesCmd())
	root.AddCommand(NewScheduleCmd())
	root.AddCommand(NewConvertCmd())
	root.AddCommand(NewServeCmd())
	return root
}
