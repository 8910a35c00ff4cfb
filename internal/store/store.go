// Package store persists staged pipeline records, the canonical material
// registry, and the production pattern catalog.
package store

import (
	"context"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/registry"
)

// MaterialSeed is one production catalog entry for bulk import.
type MaterialSeed struct {
	Name string                `yaml:"name"`
	Type registry.MaterialType `yaml:"type"`
}

// ExtractionFilter specifies criteria for listing staged extractions.
type ExtractionFilter struct {
	Status        model.ExtractionStatus
	MinConfidence float64
	Slug          string
	Limit         int
}

// Store is the persistence interface for the aggregation pipeline. All writes
// must stay safe under at least two concurrent writers: creates swallow
// unique-constraint conflicts and updates are idempotent.
type Store interface {
	registry.Store

	// Staged sources
	CreateSource(ctx context.Context, src *model.StagedSource) (bool, error)
	ListSourcesByStatus(ctx context.Context, status model.SourceStatus) ([]model.StagedSource, error)
	MarkSourceScraped(ctx context.Context, id, content string) error
	MarkSourceFailed(ctx context.Context, id, reason string) error
	UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error

	// Staged extractions. At most one extraction exists per source; creating
	// a second for the same source is a silent no-op.
	CreateExtraction(ctx context.Context, ext *model.StagedExtraction) error
	ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.StagedExtraction, error)
	UpdateExtractionStatus(ctx context.Context, id string, status model.ExtractionStatus) error
	SetExtractionConsensus(ctx context.Context, id, slug string, confidence float64) error
	MarkExtractionsIngested(ctx context.Context, ids []string) error

	// Production catalog
	UpsertPattern(ctx context.Context, p *model.ConsensusPattern) error
	GetPattern(ctx context.Context, slug string) (*model.ConsensusPattern, error)
	SeedMaterials(ctx context.Context, seeds []MaterialSeed) (int64, error)

	// Reporting
	CountSourcesByStatus(ctx context.Context) (map[model.SourceStatus]int, error)
	CountExtractionsByStatus(ctx context.Context) (map[model.ExtractionStatus]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
