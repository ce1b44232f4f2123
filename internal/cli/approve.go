package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	decisionApprover string
	decisionReason   string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)

	for _, cmd := range []*cobra.Command{approveCmd, rejectCmd} {
		cmd.Flags().StringVar(&decisionApprover, "approver", "", "who is deciding")
		cmd.Flags().StringVar(&decisionReason, "reason", "", "decision rationale")
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a suspended request",
	Long:  "Record an approval for a request in AWAITING_APPROVAL and resume its pipeline.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendDecision(args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a suspended request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendDecision(args[0], false)
	},
}

func sendDecision(requestID string, approved bool) error {
	body := map[string]any{
		"requestId": requestID,
		"approved":  approved,
		"approver":  decisionApprover,
		"reason":    decisionReason,
	}

	var resp struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
		TaskID    string `json:"task_id"`
	}
	if err := apiPost("/api/approvals/callback", body, &resp); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(os.Stdout, resp)
	}

	fmt.Fprintf(os.Stdout, "Request %s is now %s (resume task %s)\n", resp.RequestID, resp.Status, resp.TaskID)
	return nil
}
