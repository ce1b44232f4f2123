package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/schoolops/labflow/internal/db"
	"github.com/schoolops/labflow/internal/models"
)

func init() {
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(eventsCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show a lab request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req models.LabRequest
		if err := apiGet("/api/requests/"+args[0], &req); err != nil {
			return err
		}

		if jsonOut {
			return printJSON(os.Stdout, req)
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintf(writer, "ID\t%s\n", req.ID)
		fmt.Fprintf(writer, "Teacher\t%s <%s>\n", req.TeacherName, req.TeacherEmail)
		fmt.Fprintf(writer, "Experiment\t%s\n", req.ExperimentTitle)
		fmt.Fprintf(writer, "Materials\t%s\n", strings.Join(req.Materials, ", "))
		fmt.Fprintf(writer, "Status\t%s\n", req.Status)
		fmt.Fprintf(writer, "Last step\t%s\n", req.LastStep)
		if req.PreferredDate != nil {
			fmt.Fprintf(writer, "Preferred\t%s\n", req.PreferredDate.Format(time.RFC3339))
		}
		if req.PreferredLab != "" {
			fmt.Fprintf(writer, "Lab\t%s\n", req.PreferredLab)
		}
		if len(req.Warnings) > 0 {
			fmt.Fprintf(writer, "Warnings\t%s\n", strings.Join(req.Warnings, ", "))
		}
		return writer.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <request-id>",
	Short: "Show a request's step history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			RequestID string           `json:"request_id"`
			History   []*db.HistoryRow `json:"history"`
		}
		if err := apiGet("/api/requests/"+args[0]+"/history", &resp); err != nil {
			return err
		}

		if jsonOut {
			return printJSON(os.Stdout, resp)
		}

		if len(resp.History) == 0 {
			fmt.Fprintln(os.Stdout, "No history recorded.")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(writer, "STEP\tRECORDED")
		for _, row := range resp.History {
			fmt.Fprintf(writer, "%s\t%s\n", row.Step, row.UpdatedAt.Format(time.RFC3339))
		}
		return writer.Flush()
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <request-id>",
	Short: "Show a request's audit events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			RequestID string          `json:"request_id"`
			Events    []*models.Event `json:"events"`
		}
		if err := apiGet("/api/requests/"+args[0]+"/events", &resp); err != nil {
			return err
		}

		if jsonOut {
			return printJSON(os.Stdout, resp)
		}

		if len(resp.Events) == 0 {
			fmt.Fprintln(os.Stdout, "No events recorded.")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(writer, "TIME\tTYPE")
		for _, event := range resp.Events {
			fmt.Fprintf(writer, "%s\t%s\n", event.Timestamp.Format(time.RFC3339), event.Type)
		}
		return writer.Flush()
	},
}
