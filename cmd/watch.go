package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/marketsense/internal/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch <requirement-id>",
	Short: "Poll until the market analysis for a requirement completes",
	Long:  "Watches the analysis store on the configured interval. Works from any process, including one that did not drive the pipeline itself.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		requirementID := args[0]

		// Fast path: already done.
		analysis, err := env.Store.GetAnalysis(ctx, requirementID)
		if err != nil {
			return err
		}
		if analysis.Complete() {
			printAnalysis(cmd, analysis)
			return nil
		}

		cmd.Printf("Watching %s for completion...\n", requirementID)
		var result *model.MarketAnalysisResult
		if result, err = env.Watcher.Wait(ctx, requirementID); err != nil {
			return err
		}
		printAnalysis(cmd, result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
