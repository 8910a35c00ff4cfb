package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/model"
)

// Extract runs the extractor over every scraped source, strictly one call
// in flight at a time. The LLM backend's rate limit is tighter than any
// HTTP fetch limit, so this stage is a deliberate serialization point.
// Invalid results are skipped and logged with no source state change.
func (p *Pipeline) Extract(ctx context.Context) (StageResult, error) {
	result := StageResult{Stage: "extract"}

	sources, err := p.store.ListSourcesByStatus(ctx, model.SourceStatusScraped)
	if err != nil {
		return result, err
	}

	minInterval := time.Duration(p.cfg.Anthropic.MinIntervalMS) * time.Millisecond
	var lastCall time.Time

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if wait := minInterval - time.Since(lastCall); wait > 0 && !lastCall.IsZero() {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(wait):
			}
		}
		lastCall = time.Now()

		result.Processed++
		if p.extractOne(ctx, src) {
			result.Succeeded++
		} else {
			result.Skipped++
		}
	}

	result.log()
	return result, nil
}

func (p *Pipeline) extractOne(ctx context.Context, src model.StagedSource) bool {
	log := zap.L().With(zap.String("source_id", src.ID), zap.String("url", src.URL))

	record, err := p.extractor.Extract(ctx, src)
	if err != nil {
		// Malformed output is not retried: the same content through the same
		// extractor is unlikely to change outcome.
		log.Warn("extract: skipping source", zap.Error(err))
		return false
	}

	now := time.Now().UTC()
	ext := model.StagedExtraction{
		ID:        uuid.NewString(),
		SourceID:  src.ID,
		Record:    *record,
		Status:    model.ExtractionStatusExtracted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateExtraction(ctx, &ext); err != nil {
		log.Warn("extract: persist extraction failed", zap.Error(err))
		return false
	}

	if err := p.store.UpdateSourceStatus(ctx, src.ID, model.SourceStatusExtracted); err != nil {
		// The source stays scraped and is retried next run; the extraction
		// insert dedupes on source, so the retry cannot seat a second record.
		log.Warn("extract: source status update failed", zap.Error(err))
		return false
	}

	log.Info("extract: record staged",
		zap.String("pattern", record.PatternName),
		zap.Int("components", len(record.Components)),
	)
	return true
}
