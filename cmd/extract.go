package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured pattern records from scraped content",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, "extract", func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
			return p.Extract(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
