package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schoolops/labflow/internal/models"
)

var (
	submitTeacherName   string
	submitTeacherEmail  string
	submitTitle         string
	submitMaterials     []string
	submitPreferredDate string
	submitLab           string
	submitNotes         string
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitTeacherName, "teacher-name", "", "requesting teacher's name (required)")
	submitCmd.Flags().StringVar(&submitTeacherEmail, "teacher-email", "", "requesting teacher's email (required)")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "experiment title (required)")
	submitCmd.Flags().StringSliceVar(&submitMaterials, "material", nil, "material needed (repeatable)")
	submitCmd.Flags().StringVar(&submitPreferredDate, "preferred-date", "", "preferred start time (RFC3339)")
	submitCmd.Flags().StringVar(&submitLab, "lab", "", "preferred lab")
	submitCmd.Flags().StringVar(&submitNotes, "notes", "", "free-form notes")

	_ = submitCmd.MarkFlagRequired("teacher-name")
	_ = submitCmd.MarkFlagRequired("teacher-email")
	_ = submitCmd.MarkFlagRequired("title")
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a lab request",
	Long:  "Submit a new lab request to the daemon; it is processed asynchronously.",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"teacher_name":     submitTeacherName,
			"teacher_email":    submitTeacherEmail,
			"experiment_title": submitTitle,
			"materials":        submitMaterials,
			"preferred_lab":    submitLab,
			"notes":            submitNotes,
		}
		if submitPreferredDate != "" {
			body["preferred_date"] = submitPreferredDate
		}

		var created models.LabRequest
		if err := apiPost("/api/requests", body, &created); err != nil {
			return err
		}

		if jsonOut {
			return printJSON(os.Stdout, created)
		}

		fmt.Fprintf(os.Stdout, "Request %s submitted (status %s)\n", created.ID, created.Status)
		return nil
	},
}
