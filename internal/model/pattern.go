// Package model defines the shared data types for the pattern aggregation pipeline.
package model

import (
	"strings"
	"time"
)

// SourceStatus tracks a staged source through the discovery half of the pipeline.
type SourceStatus string

const (
	SourceStatusDiscovered SourceStatus = "discovered"
	SourceStatusScraped    SourceStatus = "scraped"
	SourceStatusExtracted  SourceStatus = "extracted"
	SourceStatusFailed     SourceStatus = "failed"
)

// ExtractionStatus tracks a staged extraction through the consensus half of the pipeline.
type ExtractionStatus string

const (
	ExtractionStatusExtracted  ExtractionStatus = "extracted"
	ExtractionStatusNormalized ExtractionStatus = "normalized"
	ExtractionStatusApproved   ExtractionStatus = "approved"
	ExtractionStatusRejected   ExtractionStatus = "rejected"
	ExtractionStatusIngested   ExtractionStatus = "ingested"
)

// SourceKind distinguishes scraping strategies per source.
type SourceKind string

const (
	SourceKindArticle SourceKind = "article"
	SourceKindVideo   SourceKind = "video"
)

// StagedSource is one discovered source of a pattern description.
type StagedSource struct {
	ID        string       `json:"id" db:"id"`
	URL       string       `json:"url" db:"url"`
	Title     string       `json:"title" db:"title"`
	Kind      SourceKind   `json:"kind" db:"kind"`
	QueryTerm string       `json:"query_term" db:"query_term"`
	Backend   string       `json:"backend" db:"backend"`
	Snippet   string       `json:"snippet,omitempty" db:"snippet"`
	Content   string       `json:"content,omitempty" db:"content"`
	Score     float64      `json:"score" db:"score"`
	Status    SourceStatus `json:"status" db:"status"`
	Error     string       `json:"error,omitempty" db:"error"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// Component is one material entry as reported by a single source.
type Component struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Color    string `json:"color,omitempty"`
	Size     string `json:"size,omitempty"`
	Required bool   `json:"required"`
	Position int    `json:"position"`
}

// Variation describes a named variant of the base pattern.
type Variation struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	ComponentChanges string `json:"component_changes,omitempty"`
}

// Substitution describes an acceptable material swap.
type Substitution struct {
	Original   string `json:"original"`
	Substitute string `json:"substitute"`
	Kind       string `json:"kind,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// TyingStep is one ordered instruction in a tying sequence.
type TyingStep struct {
	Number      int    `json:"number"`
	Instruction string `json:"instruction"`
}

// ExtractedRecord is one source's structured view of a pattern. Records are
// immutable once produced: consensus only ever reads them.
type ExtractedRecord struct {
	PatternName   string         `json:"pattern_name"`
	AltNames      []string       `json:"alt_names,omitempty"`
	Category      string         `json:"category,omitempty"`
	Difficulty    string         `json:"difficulty,omitempty"`
	WaterType     string         `json:"water_type,omitempty"`
	Description   string         `json:"description,omitempty"`
	Origin        string         `json:"origin,omitempty"`
	Components    []Component    `json:"components"`
	Variations    []Variation    `json:"variations,omitempty"`
	Substitutions []Substitution `json:"substitutions,omitempty"`
	Steps         []TyingStep    `json:"steps,omitempty"`
}

// StagedExtraction wraps an ExtractedRecord with pipeline bookkeeping.
type StagedExtraction struct {
	ID         string           `json:"id" db:"id"`
	SourceID   string           `json:"source_id" db:"source_id"`
	Record     ExtractedRecord  `json:"record" db:"record"`
	Slug       string           `json:"slug,omitempty" db:"slug"`
	Confidence float64          `json:"confidence" db:"confidence"`
	Status     ExtractionStatus `json:"status" db:"status"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
}

// ConsensusEntry is the per-field result of a majority vote.
type ConsensusEntry struct {
	Field         string  `json:"field"`
	WinningValue  string  `json:"winning_value"`
	AgreeingCount int     `json:"agreeing_count"`
	TotalSources  int     `json:"total_sources"`
	Confidence    float64 `json:"confidence"`
}

// ConsensusMaterial is one merged material slot.
type ConsensusMaterial struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Color       string  `json:"color,omitempty"`
	Size        string  `json:"size,omitempty"`
	Required    bool    `json:"required"`
	Position    int     `json:"position"`
	Confidence  float64 `json:"confidence"`
	SourceCount int     `json:"source_count"`
}

// ConsensusPattern is the merged, confidence-scored record for one pattern.
// It is always rebuilt from scratch from the contributing extraction set.
type ConsensusPattern struct {
	Name          string              `json:"name"`
	Slug          string              `json:"slug"`
	Category      ConsensusEntry      `json:"category"`
	Difficulty    ConsensusEntry      `json:"difficulty"`
	WaterType     ConsensusEntry      `json:"water_type"`
	Description   string              `json:"description,omitempty"`
	Origin        string              `json:"origin,omitempty"`
	Materials     []ConsensusMaterial `json:"materials"`
	Variations    []Variation         `json:"variations,omitempty"`
	Substitutions []Substitution      `json:"substitutions,omitempty"`
	Steps         []TyingStep         `json:"steps,omitempty"`
	Confidence    float64             `json:"confidence"`
	SourceCount   int                 `json:"source_count"`
}

// Candidate is one search hit returned by a discovery backend.
type Candidate struct {
	URL              string `json:"url"`
	Title            string `json:"title"`
	Snippet          string `json:"snippet,omitempty"`
	EngagementSignal int    `json:"engagement_signal,omitempty"`
}

// Slugify converts a pattern name into a stable URL-safe identifier.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
