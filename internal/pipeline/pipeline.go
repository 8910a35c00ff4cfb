// Package pipeline advances staged pattern records through the
// discover -> scrape -> extract -> normalize -> approve -> ingest state
// machine.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/config"
	"github.com/driftline/pattern-cli/internal/consensus"
	"github.com/driftline/pattern-cli/internal/extractor"
	"github.com/driftline/pattern-cli/internal/registry"
	"github.com/driftline/pattern-cli/internal/scrape"
	"github.com/driftline/pattern-cli/internal/store"
)

// StageResult reports per-item outcomes for one stage run. A failing item
// never aborts the stage; it just lands in Failed.
type StageResult struct {
	Stage     string `json:"stage"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

func (r StageResult) log() {
	zap.L().Info("pipeline: stage complete",
		zap.String("stage", r.Stage),
		zap.Int("processed", r.Processed),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
	)
}

// Pipeline orchestrates all stage transitions.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	backends  []SearchBackend
	chain     *scrape.Chain
	extractor extractor.Extractor
	resolver  *registry.Resolver
	builder   *consensus.Builder
}

// New creates a Pipeline with all collaborators.
func New(
	cfg *config.Config,
	st store.Store,
	backends []SearchBackend,
	chain *scrape.Chain,
	ex extractor.Extractor,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		backends:  backends,
		chain:     chain,
		extractor: ex,
		resolver:  registry.NewResolver(st, cfg.Registry.FuzzyThreshold),
		builder:   consensus.NewBuilder(cfg.Consensus.MaterialClusterThreshold),
	}
}

// Run chains every stage in pipeline order. A stage error stops the chain;
// per-item failures inside a stage do not.
func (p *Pipeline) Run(ctx context.Context, terms []string) ([]StageResult, error) {
	var results []StageResult

	stages := []struct {
		name string
		fn   func(context.Context) (StageResult, error)
	}{
		{"discover", func(ctx context.Context) (StageResult, error) { return p.Discover(ctx, terms) }},
		{"scrape", p.Scrape},
		{"extract", p.Extract},
		{"normalize", p.Normalize},
		{"auto-approve", p.AutoApprove},
		{"ingest", p.Ingest},
	}

	for _, s := range stages {
		result, err := s.fn(ctx)
		results = append(results, result)
		if err != nil {
			return results, eris.Wrapf(err, "pipeline: stage %s", s.name)
		}
	}
	return results, nil
}
