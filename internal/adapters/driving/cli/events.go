package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent drift events",
	Long:  `Shows recent drift events from the audit trail, newest first.`,
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "maximum events to show")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, _ []string) error {
	if eventReader == nil {
		return errors.New("event reader not configured")
	}

	events, err := eventReader.Recent(cmd.Context(), eventsLimit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		cmd.Println("No drift events recorded.")
		return nil
	}

	for _, event := range events {
		cmd.Printf("%s  %s  overall=%.3f (embedding=%.3f behavior=%.3f accuracy=%.3f)\n",
			event.Timestamp.Format("2006-01-02 15:04"), event.ID,
			event.OverallScore, event.EmbeddingScore, event.BehaviorScore, event.AccuracyScore)
		for _, action := range event.Actions {
			cmd.Printf("    %s  %s  [%s]\n", action.ID, action.Type, action.Status)
		}
	}
	return nil
}
