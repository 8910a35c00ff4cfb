package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/driftline/pattern-cli/internal/extractor"
	"github.com/driftline/pattern-cli/internal/pipeline"
	"github.com/driftline/pattern-cli/internal/scrape"
	"github.com/driftline/pattern-cli/internal/store"
	"github.com/driftline/pattern-cli/pkg/anthropic"
	"github.com/driftline/pattern-cli/pkg/serp"
	"github.com/driftline/pattern-cli/pkg/youtube"
)

// buildPipeline wires collaborators from config. Backends and scrapers are
// only constructed for services with credentials; the article scraper needs
// none and is always present.
func buildPipeline(st store.Store) *pipeline.Pipeline {
	var backends []pipeline.SearchBackend
	var scrapers []scrape.Scraper

	var serpClient serp.Client
	if cfg.Serp.Key != "" {
		serpClient = serp.NewClient(cfg.Serp.Key, serp.WithSearchBaseURL(cfg.Serp.BaseURL))
		backends = append(backends, pipeline.NewSerpBackend(serpClient))
	}
	if cfg.YouTube.Key != "" {
		ytClient := youtube.NewClient(cfg.YouTube.Key, youtube.WithBaseURL(cfg.YouTube.BaseURL))
		backends = append(backends, pipeline.NewYouTubeBackend(ytClient))
		scrapers = append(scrapers, scrape.NewVideoScraper(ytClient))
	}

	scrapers = append(scrapers, scrape.NewArticleScraper(scrape.ArticleOptions{
		Timeout:       time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
		MaxContentKB:  cfg.Scrape.MaxContentKB,
		RatePerSecond: float64(cfg.Scrape.RatePerSecond),
		MaxRetries:    cfg.Scrape.MaxRetries,
	}))
	if serpClient != nil {
		scrapers = append(scrapers, scrape.NewReaderAdapter(serpClient))
	}
	chain := scrape.NewChain(scrape.NewPathMatcher(nil), scrapers...)

	var ex extractor.Extractor
	if cfg.Anthropic.Key != "" {
		ex = extractor.NewClaude(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model,
			extractor.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)))
	}

	return pipeline.New(cfg, st, backends, chain, ex)
}

// runStage opens the store, runs one stage transition, and prints its
// result as JSON.
func runStage(cmd *cobra.Command, stage string, fn func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error)) error {
	ctx := cmd.Context()

	if err := cfg.Validate(stage); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}

	result, err := fn(ctx, buildPipeline(st))
	if err != nil {
		return eris.Wrapf(err, "stage %s", stage)
	}

	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
