package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one drift evaluation",
	Long: `Runs one complete drift evaluation: polls open training jobs, runs the
embedding, behavior and accuracy monitors, decides on corrective actions,
dispatches or records them per policy, and persists the audit event.

Exactly one run holds the run lock at a time; a concurrent run exits
with an error without evaluating anything.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	if driftEngine == nil {
		return errors.New("drift engine not configured")
	}

	report, err := driftEngine.Run(cmd.Context())
	if err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			return fmt.Errorf("another run is in progress: %w", err)
		}
		return err
	}

	cmd.Printf("Run %s complete.\n", report.RunID)
	if report.BrokenLease != "" {
		cmd.Printf("Warning: broke stale lock held by %s\n", report.BrokenLease)
	}
	if report.JobsResolved > 0 {
		cmd.Printf("Training jobs resolved: %d\n", report.JobsResolved)
	}

	if report.Event == nil {
		cmd.Println("No drift detected.")
		return nil
	}

	printEvent(cmd, *report.Event)
	return nil
}

// printEvent renders one drift event with its actions.
func printEvent(cmd *cobra.Command, event domain.DriftEvent) {
	cmd.Printf("Scores: embedding=%.3f behavior=%.3f accuracy=%.3f overall=%.3f\n",
		event.EmbeddingScore, event.BehaviorScore, event.AccuracyScore, event.OverallScore)

	if len(event.Actions) == 0 {
		cmd.Println("No actions triggered.")
		return
	}

	cmd.Printf("Actions (%d):\n", len(event.Actions))
	for _, action := range event.Actions {
		line := fmt.Sprintf("  %s  %s  [%s]", action.ID, action.Type, action.Status)
		if action.Handle != "" {
			line += "  handle=" + action.Handle
		}
		cmd.Println(line)
		if action.Reason != "" {
			cmd.Printf("      %s\n", action.Reason)
		}
		if action.Error != "" {
			cmd.Printf("      error: %s\n", action.Error)
		}
	}
}
