package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll open fine-tuning jobs",
	Long: `Polls every open fine-tuning job and applies the validation gate to
finished ones: a new model is promoted only if its evaluation accuracy is
not meaningfully worse than the active model's.

Polling is idempotent and also runs at the start of every 'driftwatch run'.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	if driftEngine == nil {
		return errors.New("drift engine not configured")
	}

	resolved, err := driftEngine.PollTrainingJobs(cmd.Context())
	if err != nil {
		return err
	}

	if resolved == 0 {
		cmd.Println("No training jobs resolved.")
	} else {
		cmd.Printf("Training jobs resolved: %d\n", resolved)
	}
	return nil
}
