// Package cli implements the driftwatch command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/driftwatch/internal/core/ports/driving"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Services injected by the composition root before Execute.
var (
	driftEngine    driving.DriftEngine
	actionApprover driving.ActionApprover
	eventReader    driving.EventReader
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Drift-aware monitoring and retraining trigger engine",
	Long: `Driftwatch evaluates drift in a deployed model's embeddings, behavior
and accuracy, and triggers corrective actions when thresholds are crossed.

It is designed to be invoked by an external scheduler: each invocation of
'driftwatch run' performs one complete evaluation and exits.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Configure injects the services the commands depend on.
func Configure(engine driving.DriftEngine, approver driving.ActionApprover, events driving.EventReader) {
	driftEngine = engine
	actionApprover = approver
	eventReader = events
}

// SetVersion sets the version string printed by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
