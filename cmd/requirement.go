package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/internal/store"
)

var (
	reqIndustry string
	reqProblem  string
	reqSolution string
	reqFeatures string
)

var requirementCmd = &cobra.Command{
	Use:   "requirement",
	Short: "Manage requirements",
}

var requirementAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a requirement and print its ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reqIndustry == "" {
			return eris.New("--industry is required")
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		req := &model.Requirement{
			Industry:         reqIndustry,
			ProblemStatement: reqProblem,
			ProposedSolution: reqSolution,
			KeyFeatures:      reqFeatures,
		}
		if err := st.CreateRequirement(ctx, req); err != nil {
			return eris.Wrap(err, "create requirement")
		}

		cmd.Println(req.ID)
		return nil
	},
}

func init() {
	requirementAddCmd.Flags().StringVar(&reqIndustry, "industry", "", "industry type (required)")
	requirementAddCmd.Flags().StringVar(&reqProblem, "problem", "", "problem statement")
	requirementAddCmd.Flags().StringVar(&reqSolution, "solution", "", "proposed solution")
	requirementAddCmd.Flags().StringVar(&reqFeatures, "features", "", "key features")
	requirementCmd.AddCommand(requirementAddCmd)
	rootCmd.AddCommand(requirementCmd)
}
