package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/pipeline"
)

var discoverCmd = &cobra.Command{
	Use:   "discover [term...]",
	Short: "Search configured backends and stage candidate sources",
	Long:  "Runs each query term against the configured search backends and stages the top-scoring hits as discovered sources. With no arguments the built-in seed terms are used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, "discover", func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
			return p.Discover(ctx, args)
		})
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}
