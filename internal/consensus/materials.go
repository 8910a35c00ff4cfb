package consensus

import (
	"math"
	"sort"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/registry"
	"github.com/driftline/pattern-cli/internal/similarity"
)

// noModeSlotDefault is the slot count used when per-source material counts
// for a type have no unique mode. Defaulting to one slot is a policy choice
// (prefer dropping a possibly-distinct material over duplicating one), not a
// derived fact.
const noModeSlotDefault = 1

// typedComponent tags a component with the record it came from.
type typedComponent struct {
	model.Component
	source int
}

// buildMaterials merges components across the cluster, type by type. Per type
// it keeps at most the typical per-source count of slots, ranked by how many
// distinct sources contributed to each name cluster.
func (b *Builder) buildMaterials(records []model.ExtractedRecord) []model.ConsensusMaterial {
	k := len(records)

	byType := make(map[registry.MaterialType][]typedComponent)
	perSourceCounts := make(map[registry.MaterialType]map[int]int)
	for i, r := range records {
		for _, c := range r.Components {
			mtype := registry.SanitizeType(c.Type)
			byType[mtype] = append(byType[mtype], typedComponent{Component: c, source: i})
			if perSourceCounts[mtype] == nil {
				perSourceCounts[mtype] = make(map[int]int)
			}
			perSourceCounts[mtype][i]++
		}
	}

	var materials []model.ConsensusMaterial
	for _, mtype := range registry.AllTypes {
		comps := byType[mtype]
		if len(comps) == 0 {
			continue
		}
		slots := modeCount(perSourceCounts[mtype])
		materials = append(materials, b.mergeType(mtype, comps, slots, k)...)
	}

	// Positions become a contiguous 1..N sequence ordered by the averaged
	// source positions.
	sort.SliceStable(materials, func(i, j int) bool {
		return materials[i].Position < materials[j].Position
	})
	for i := range materials {
		materials[i].Position = i + 1
	}
	return materials
}

// modeCount returns the statistical mode of the per-source counts, or
// noModeSlotDefault when no single count is strictly most frequent.
func modeCount(counts map[int]int) int {
	freq := make(map[int]int)
	for _, n := range counts {
		freq[n]++
	}

	mode, best := 0, 0
	unique := false
	for n, f := range freq {
		switch {
		case f > best:
			mode, best = n, f
			unique = true
		case f == best && n != mode:
			unique = false
		}
	}
	if !unique || mode == 0 {
		return noModeSlotDefault
	}
	return mode
}

// mergeType clusters same-type component names, ranks clusters by distinct
// contributing sources, and keeps only the top slot count. Clusters beyond the
// cap are treated as likely-distinct-but-uncounted and dropped rather than
// duplicated.
func (b *Builder) mergeType(mtype registry.MaterialType, comps []typedComponent, slots, k int) []model.ConsensusMaterial {
	names := make([]string, len(comps))
	for i, c := range comps {
		names[i] = c.Name
	}
	clusters := similarity.ClusterStrings(names, b.clusterThreshold)

	// Rank by distinct contributing source count, stable on first appearance.
	sort.SliceStable(clusters, func(i, j int) bool {
		return distinctSources(comps, clusters[i]) > distinctSources(comps, clusters[j])
	})
	if len(clusters) > slots {
		clusters = clusters[:slots]
	}

	out := make([]model.ConsensusMaterial, 0, len(clusters))
	for _, cluster := range clusters {
		out = append(out, mergeCluster(mtype, comps, cluster, k))
	}
	return out
}

func distinctSources(comps []typedComponent, cluster []int) int {
	seen := make(map[int]struct{}, len(cluster))
	for _, idx := range cluster {
		seen[comps[idx].source] = struct{}{}
	}
	return len(seen)
}

func mergeCluster(mtype registry.MaterialType, comps []typedComponent, cluster []int, k int) model.ConsensusMaterial {
	names := make([]string, 0, len(cluster))
	colors := make([]string, 0, len(cluster))
	sizes := make([]string, 0, len(cluster))
	requiredVotes := 0
	positionSum := 0

	for _, idx := range cluster {
		c := comps[idx]
		names = append(names, c.Name)
		colors = append(colors, c.Color)
		sizes = append(sizes, c.Size)
		if c.Required {
			requiredVotes++
		}
		positionSum += c.Position
	}

	name, _ := majorityVote(names)
	color, _ := majorityVote(colors)
	size, _ := majorityVote(sizes)
	sources := distinctSources(comps, cluster)

	return model.ConsensusMaterial{
		Name:        name,
		Type:        string(mtype),
		Color:       color,
		Size:        size,
		Required:    requiredVotes*2 > len(cluster),
		Position:    int(math.Round(float64(positionSum) / float64(len(cluster)))),
		Confidence:  float64(sources) / float64(k),
		SourceCount: sources,
	}
}
