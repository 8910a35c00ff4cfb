// Package consensus merges a cluster of same-identity extracted records into
// a single confidence-scored pattern.
package consensus

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/driftline/pattern-cli/internal/model"
)

// Weights of the overall confidence formula. Materials dominate deliberately:
// they are the substantive payload. The source-count bonus saturates at five
// sources so popular patterns don't crowd out rare ones.
const (
	fieldWeight             = 0.25
	materialWeight          = 0.45
	sourceCountWeight       = 0.2
	sourceCountCap          = 5.0
	materialRichBonus       = 0.1
	materialRichFloor       = 3
	defaultClusterThreshold = 0.8
)

// Builder constructs consensus patterns from extraction clusters.
type Builder struct {
	clusterThreshold float64
}

// NewBuilder creates a Builder. threshold gates material-name clustering.
func NewBuilder(threshold float64) *Builder {
	if threshold <= 0 {
		threshold = defaultClusterThreshold
	}
	return &Builder{clusterThreshold: threshold}
}

// Build merges k same-identity records into one ConsensusPattern. The result
// is rebuilt from scratch on every call; input records are never mutated.
func (b *Builder) Build(records []model.ExtractedRecord) (*model.ConsensusPattern, error) {
	k := len(records)
	if k == 0 {
		return nil, eris.New("consensus: empty record cluster")
	}

	names := make([]string, k)
	for i, r := range records {
		names[i] = r.PatternName
	}
	name, _ := majorityVote(names)

	p := &model.ConsensusPattern{
		Name:        name,
		Slug:        model.Slugify(name),
		Category:    voteField("category", pluck(records, func(r model.ExtractedRecord) string { return r.Category }), k),
		Difficulty:  voteField("difficulty", pluck(records, func(r model.ExtractedRecord) string { return r.Difficulty }), k),
		WaterType:   voteField("water_type", pluck(records, func(r model.ExtractedRecord) string { return r.WaterType }), k),
		Description: bestDescription(records),
		Origin:      firstOrigin(records),
		SourceCount: k,
	}

	p.Materials = b.buildMaterials(records)
	p.Variations = mergeVariations(records)
	p.Substitutions = mergeSubstitutions(records)
	p.Steps = selectSteps(records)
	p.Confidence = overallConfidence(p, k)

	return p, nil
}

func pluck(records []model.ExtractedRecord, get func(model.ExtractedRecord) string) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = get(r)
	}
	return out
}

// majorityVote returns the most frequent non-empty value and its count in a
// single ordered scan. Ties resolve to the value that reached the maximal
// count first, so the result is deterministic for a given input order.
func majorityVote(values []string) (string, int) {
	counts := make(map[string]int, len(values))
	var winner string
	var best int
	for _, v := range values {
		if v == "" {
			continue
		}
		counts[v]++
		if counts[v] > best {
			best = counts[v]
			winner = v
		}
	}
	return winner, best
}

func voteField(field string, values []string, k int) model.ConsensusEntry {
	winner, count := majorityVote(values)
	entry := model.ConsensusEntry{
		Field:         field,
		WinningValue:  winner,
		AgreeingCount: count,
		TotalSources:  k,
	}
	if count > 0 {
		entry.Confidence = float64(count) / float64(k)
	}
	return entry
}

// firstOrigin returns the first non-empty origin untouched. Provenance text
// is never voted on.
func firstOrigin(records []model.ExtractedRecord) string {
	for _, r := range records {
		if r.Origin != "" {
			return r.Origin
		}
	}
	return ""
}

func overallConfidence(p *model.ConsensusPattern, k int) float64 {
	fieldMean := meanConfidence([]float64{
		p.Category.Confidence,
		p.Difficulty.Confidence,
		p.WaterType.Confidence,
	})

	var materialConfs []float64
	for _, m := range p.Materials {
		materialConfs = append(materialConfs, m.Confidence)
	}
	materialMean := meanConfidence(materialConfs)

	sourceBonus := float64(k) / sourceCountCap
	if sourceBonus > 1 {
		sourceBonus = 1
	}

	score := fieldWeight*fieldMean + materialWeight*materialMean + sourceCountWeight*sourceBonus
	if len(p.Materials) >= materialRichFloor {
		score += materialRichBonus
	}
	if score > 1 {
		score = 1
	}
	return math.Round(score*100) / 100
}

func meanConfidence(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
