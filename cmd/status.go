package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/store"
)

type pendingApproval struct {
	ID         string  `json:"id"`
	Slug       string  `json:"slug"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type statusReport struct {
	Sources     map[model.SourceStatus]int     `json:"sources"`
	Extractions map[model.ExtractionStatus]int `json:"extractions"`
	Pending     []pendingApproval              `json:"pending_approval"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage counts and extractions awaiting approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var report statusReport
		if report.Sources, err = st.CountSourcesByStatus(ctx); err != nil {
			return eris.Wrap(err, "count sources")
		}
		if report.Extractions, err = st.CountExtractionsByStatus(ctx); err != nil {
			return eris.Wrap(err, "count extractions")
		}

		normalized, err := st.ListExtractions(ctx, store.ExtractionFilter{Status: model.ExtractionStatusNormalized})
		if err != nil {
			return eris.Wrap(err, "list normalized extractions")
		}
		for _, ext := range normalized {
			report.Pending = append(report.Pending, pendingApproval{
				ID:         ext.ID,
				Slug:       ext.Slug,
				Name:       ext.Record.PatternName,
				Confidence: ext.Confidence,
			})
		}

		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
