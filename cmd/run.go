package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [term...]",
	Short: "Run the full pipeline: discover through ingest",
	Long:  "Chains all six stages in order. Results for completed stages are printed even when a later stage fails.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		for _, stage := range []string{"discover", "extract"} {
			if err := cfg.Validate(stage); err != nil {
				return err
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		results, runErr := buildPipeline(st).Run(ctx, args)
		if err := printJSON(results); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
