package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/pipeline"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Cluster extractions, canonicalize materials, and score consensus",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, "normalize", func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
			return p.Normalize(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
}
