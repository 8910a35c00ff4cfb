package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/driftline/pattern-cli/internal/model"
)

// Scrape pulls every discovered source through the scraper chain on a
// bounded worker pool. Successful fetches move to scraped; sources with no
// retrievable content are marked failed and left behind.
func (p *Pipeline) Scrape(ctx context.Context) (StageResult, error) {
	result := StageResult{Stage: "scrape"}

	sources, err := p.store.ListSourcesByStatus(ctx, model.SourceStatusDiscovered)
	if err != nil {
		return result, err
	}
	if len(sources) == 0 {
		result.log()
		return result, nil
	}

	workers := p.cfg.Scrape.Workers
	if workers <= 0 {
		workers = 4
	}
	minLen := p.cfg.Scrape.MinContentLen

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, src := range sources {
		g.Go(func() error {
			outcome := p.scrapeOne(gCtx, src, minLen)
			mu.Lock()
			result.Processed++
			if outcome {
				result.Succeeded++
			} else {
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.log()
	return result, nil
}

func (p *Pipeline) scrapeOne(ctx context.Context, src model.StagedSource, minLen int) bool {
	log := zap.L().With(zap.String("source_id", src.ID), zap.String("url", src.URL))

	res, err := p.chain.Scrape(ctx, src.URL)
	if err != nil {
		log.Warn("scrape: fetch failed", zap.Error(err))
		p.markFailed(ctx, src.ID, err.Error())
		return false
	}

	if len(res.Content) < minLen {
		log.Warn("scrape: content below minimum length",
			zap.Int("length", len(res.Content)), zap.Int("min", minLen))
		p.markFailed(ctx, src.ID, "content too short")
		return false
	}

	if err := p.store.MarkSourceScraped(ctx, src.ID, res.Content); err != nil {
		log.Warn("scrape: persist content failed", zap.Error(err))
		return false
	}

	log.Debug("scrape: source scraped",
		zap.String("via", res.Source),
		zap.Int("content_len", len(res.Content)),
	)
	return true
}

func (p *Pipeline) markFailed(ctx context.Context, id, reason string) {
	if err := p.store.MarkSourceFailed(ctx, id, reason); err != nil {
		zap.L().Warn("scrape: mark failed did not persist",
			zap.String("source_id", id), zap.Error(err))
	}
}
