package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/store"
)

// AutoApprove promotes normalized extractions at or above the confidence
// threshold to approved. Below-threshold extractions stay normalized and
// wait for a manual approval outside this pipeline.
func (p *Pipeline) AutoApprove(ctx context.Context) (StageResult, error) {
	result := StageResult{Stage: "auto-approve"}
	threshold := p.cfg.Consensus.AutoApproveThreshold

	exts, err := p.store.ListExtractions(ctx, store.ExtractionFilter{
		Status:        model.ExtractionStatusNormalized,
		MinConfidence: threshold,
	})
	if err != nil {
		return result, err
	}

	for _, ext := range exts {
		result.Processed++
		if err := p.store.UpdateExtractionStatus(ctx, ext.ID, model.ExtractionStatusApproved); err != nil {
			zap.L().Warn("auto-approve: status update failed",
				zap.String("extraction_id", ext.ID), zap.Error(err))
			result.Failed++
			continue
		}
		result.Succeeded++
		zap.L().Debug("auto-approve: extraction approved",
			zap.String("extraction_id", ext.ID),
			zap.String("slug", ext.Slug),
			zap.Float64("confidence", ext.Confidence),
		)
	}

	result.log()
	return result, nil
}
