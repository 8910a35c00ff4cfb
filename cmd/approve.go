package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/pipeline"
)

var approveCmd = &cobra.Command{
	Use:   "auto-approve",
	Short: "Approve normalized extractions above the confidence threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, "auto-approve", func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
			return p.AutoApprove(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(approveCmd)
}
