package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/marketsense/internal/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <requirement-id>",
	Short: "Run the full market-analysis pipeline for a requirement",
	Long:  "Executes all five stages in sequence, resuming from the first incomplete stage if a previous run was interrupted or failed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, args[0])
		if err != nil {
			return err
		}

		printAnalysis(cmd, result)
		return nil
	},
}

func printAnalysis(cmd *cobra.Command, result *model.MarketAnalysisResult) {
	cmd.Printf("Market analysis for %s (confidence %.2f)\n\n", result.RequirementID, result.ConfidenceScore)
	cmd.Printf("Trends:        %s\n", result.MarketTrends)
	cmd.Printf("Demand:        %s\n", result.DemandInsights)
	cmd.Printf("Competitors:   %s\n", result.TopCompetitors)
	cmd.Printf("Gap:           %s\n", result.MarketGapOpportunity)
	cmd.Printf("Benchmarks:    %s\n", result.IndustryBenchmarks)
	cmd.Printf("SWOT:          %s\n", formatSWOT(result.SWOT))
}

func formatSWOT(s model.SWOTAnalysis) string {
	return fmt.Sprintf("S:%d W:%d O:%d T:%d items",
		len(s.Strengths), len(s.Weaknesses), len(s.Opportunities), len(s.Threats))
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
