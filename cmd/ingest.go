package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Merge approved extractions into the production catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, "ingest", func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
			return p.Ingest(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
