package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/marketsense/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <requirement-id>",
	Short: "Show pipeline progress for a requirement",
	Long:  "Reads the persisted run from the store, falling back to the local progress cache when the store has no record. The cache is a display hint only.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		requirementID := args[0]

		run, err := env.Store.GetRun(ctx, requirementID)
		if err != nil {
			return err
		}
		source := "store"
		if run == nil {
			run, err = env.Progress.Load(requirementID)
			if err != nil {
				return err
			}
			source = "local cache"
		}

		if run == nil {
			analysis, err := env.Store.GetAnalysis(ctx, requirementID)
			if err != nil {
				return err
			}
			if analysis.Complete() {
				cmd.Printf("No run in progress; analysis completed (confidence %.2f)\n", analysis.ConfidenceScore)
				return nil
			}
			cmd.Println("No run in progress")
			return nil
		}

		cmd.Printf("Run for %s (from %s, version %d)\n", requirementID, source, run.Version)
		for i, stage := range run.Stages {
			marker := " "
			if i == run.CurrentStage {
				marker = ">"
			}
			line := string(stage.Status)
			if stage.Total > 0 {
				line += formatProgress(stage)
			}
			if stage.Error != "" {
				line += "  (" + stage.Error + ")"
			}
			cmd.Printf("%s %-18s %s\n", marker, stage.Name, line)
		}
		return nil
	},
}

func formatProgress(s model.StageState) string {
	return fmt.Sprintf("  %d/%d", s.Current, s.Total)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
