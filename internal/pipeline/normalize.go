package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/similarity"
	"github.com/driftline/pattern-cli/internal/store"
)

// Normalize clusters extracted records by pattern name, canonicalizes each
// member's materials against the registry, builds consensus per cluster, and
// flips every contributing extraction to normalized. Re-running before
// ingest is idempotent: canonical lookups are match-first, so no duplicate
// registry rows or aliases result.
func (p *Pipeline) Normalize(ctx context.Context) (StageResult, error) {
	result := StageResult{Stage: "normalize"}

	exts, err := p.store.ListExtractions(ctx, store.ExtractionFilter{Status: model.ExtractionStatusExtracted})
	if err != nil {
		return result, err
	}
	if len(exts) == 0 {
		result.log()
		return result, nil
	}

	names := make([]string, len(exts))
	for i := range exts {
		names[i] = exts[i].Record.PatternName
	}
	clusters := similarity.ClusterStrings(names, p.cfg.Consensus.NameClusterThreshold)

	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		p.normalizeCluster(ctx, exts, cluster, &result)
	}

	result.log()
	return result, nil
}

func (p *Pipeline) normalizeCluster(ctx context.Context, exts []model.StagedExtraction, cluster []int, result *StageResult) {
	// Members whose canonicalization fails drop out of the cluster here and
	// keep their extracted status: the consensus must not carry their slug or
	// confidence onto a record that contributed nothing to it.
	records := make([]model.ExtractedRecord, 0, len(cluster))
	members := make([]int, 0, len(cluster))
	for _, idx := range cluster {
		rec, err := p.canonicalizeRecord(ctx, exts[idx].Record)
		if err != nil {
			zap.L().Warn("normalize: canonicalize record failed",
				zap.String("extraction_id", exts[idx].ID), zap.Error(err))
			result.Processed++
			result.Failed++
			continue
		}
		records = append(records, rec)
		members = append(members, idx)
	}
	if len(records) == 0 {
		return
	}

	pattern, err := p.builder.Build(records)
	if err != nil {
		zap.L().Warn("normalize: consensus build failed", zap.Error(err))
		result.Processed += len(members)
		result.Failed += len(members)
		return
	}

	zap.L().Info("normalize: cluster merged",
		zap.String("slug", pattern.Slug),
		zap.Int("members", len(members)),
		zap.Float64("confidence", pattern.Confidence),
	)

	for _, idx := range members {
		result.Processed++
		err := p.store.SetExtractionConsensus(ctx, exts[idx].ID, pattern.Slug, pattern.Confidence)
		if err != nil {
			zap.L().Warn("normalize: persist consensus failed",
				zap.String("extraction_id", exts[idx].ID), zap.Error(err))
			result.Failed++
			continue
		}
		result.Succeeded++
	}
}

// canonicalizeRecord returns a copy of the record with every component name
// replaced by its canonical registry entry. One record's materials resolve
// sequentially; the registry's conflict handling makes concurrent records
// safe without locks.
func (p *Pipeline) canonicalizeRecord(ctx context.Context, rec model.ExtractedRecord) (model.ExtractedRecord, error) {
	out := rec
	out.Components = make([]model.Component, len(rec.Components))
	copy(out.Components, rec.Components)

	for i := range out.Components {
		res, err := p.resolver.Resolve(ctx, out.Components[i].Name, out.Components[i].Type)
		if err != nil {
			return out, err
		}
		out.Components[i].Name = res.Entity.Name
		out.Components[i].Type = string(res.Type)
	}
	return out, nil
}
