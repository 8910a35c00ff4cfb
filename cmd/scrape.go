package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/pipeline"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch page content for discovered sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, "scrape", func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
			return p.Scrape(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
}
