package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
)

var approveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve and execute a pending action",
	Long: `Approves an action recorded under require_approval mode and executes it.
The action must be in the pending_approval state; use 'driftwatch pending'
to list actions awaiting approval.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List actions awaiting approval",
	RunE:  runPending,
}

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(pendingCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	if actionApprover == nil {
		return errors.New("approval service not configured")
	}

	actionID := args[0]
	action, err := actionApprover.Approve(cmd.Context(), actionID)
	if err != nil {
		if errors.Is(err, domain.ErrActionNotPending) {
			return fmt.Errorf("action %s is not awaiting approval: %w", actionID, err)
		}
		if action != nil {
			cmd.Printf("Action %s (%s) dispatched but failed: %s\n", action.ID, action.Type, action.Error)
		}
		return err
	}

	cmd.Printf("Action %s (%s) approved: %s", action.ID, action.Type, action.Status)
	if action.Handle != "" {
		cmd.Printf("  handle=%s", action.Handle)
	}
	cmd.Println()
	return nil
}

func runPending(cmd *cobra.Command, _ []string) error {
	if actionApprover == nil {
		return errors.New("approval service not configured")
	}

	actions, err := actionApprover.Pending(cmd.Context())
	if err != nil {
		return err
	}

	if len(actions) == 0 {
		cmd.Println("No actions awaiting approval.")
		return nil
	}

	cmd.Printf("Pending actions (%d):\n", len(actions))
	for _, action := range actions {
		cmd.Printf("  %s  %s  created %s\n",
			action.ID, action.Type, action.CreatedAt.Format("2006-01-02 15:04"))
		if action.Reason != "" {
			cmd.Printf("      %s\n", action.Reason)
		}
	}
	return nil
}
