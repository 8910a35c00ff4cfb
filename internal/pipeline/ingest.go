package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/store"
)

// Ingest groups approved extractions by identity slug, rebuilds consensus
// fresh from just that group, and performs one atomic upsert per pattern.
// The rebuild matters: the normalize-time grouping may have since lost
// members to rejection, and a stale confidence must not be written. A group
// is marked ingested only after its upsert commits.
func (p *Pipeline) Ingest(ctx context.Context) (StageResult, error) {
	result := StageResult{Stage: "ingest"}

	exts, err := p.store.ListExtractions(ctx, store.ExtractionFilter{Status: model.ExtractionStatusApproved})
	if err != nil {
		return result, err
	}
	if len(exts) == 0 {
		result.log()
		return result, nil
	}

	groups := make(map[string][]model.StagedExtraction)
	var order []string
	for _, ext := range exts {
		if ext.Slug == "" {
			zap.L().Warn("ingest: approved extraction has no slug, skipping",
				zap.String("extraction_id", ext.ID))
			result.Processed++
			result.Skipped++
			continue
		}
		if _, seen := groups[ext.Slug]; !seen {
			order = append(order, ext.Slug)
		}
		groups[ext.Slug] = append(groups[ext.Slug], ext)
	}

	for _, slug := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		group := groups[slug]
		result.Processed += len(group)
		if p.ingestGroup(ctx, slug, group) {
			result.Succeeded += len(group)
		} else {
			result.Failed += len(group)
		}
	}

	result.log()
	return result, nil
}

func (p *Pipeline) ingestGroup(ctx context.Context, slug string, group []model.StagedExtraction) bool {
	log := zap.L().With(zap.String("slug", slug), zap.Int("members", len(group)))

	// Stored records keep their raw material names; canonicalize copies again
	// here so the rebuilt consensus carries registry names. The lookups are
	// match-first, so this is a no-op on anything normalize already learned.
	records := make([]model.ExtractedRecord, 0, len(group))
	ids := make([]string, 0, len(group))
	for _, ext := range group {
		rec, err := p.canonicalizeRecord(ctx, ext.Record)
		if err != nil {
			log.Warn("ingest: canonicalize record failed",
				zap.String("extraction_id", ext.ID), zap.Error(err))
			return false
		}
		records = append(records, rec)
		ids = append(ids, ext.ID)
	}

	pattern, err := p.builder.Build(records)
	if err != nil {
		log.Warn("ingest: consensus rebuild failed", zap.Error(err))
		return false
	}
	// The stored slug is the group identity; the rebuilt name must not fork it.
	pattern.Slug = slug

	if err := p.store.UpsertPattern(ctx, pattern); err != nil {
		log.Warn("ingest: pattern upsert failed", zap.Error(err))
		return false
	}

	if err := p.store.MarkExtractionsIngested(ctx, ids); err != nil {
		log.Warn("ingest: mark ingested failed", zap.Error(err))
		return false
	}

	log.Info("ingest: pattern upserted",
		zap.Float64("confidence", pattern.Confidence),
		zap.Int("materials", len(pattern.Materials)),
	)
	return true
}
