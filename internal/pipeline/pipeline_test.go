package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/pattern-cli/internal/model"
)

func richBugger() *model.ExtractedRecord {
	return &model.ExtractedRecord{
		PatternName: "Woolly Bugger",
		Category:    "streamer",
		Difficulty:  "beginner",
		WaterType:   "freshwater",
		Description: strings.Repeat("A versatile streamer imitating leeches and baitfish. ", 4),
		Components: []model.Component{
			{Name: "Mustad 9672", Type: "hook", Size: "8", Required: true, Position: 1},
			{Name: "Black 6/0", Type: "thread", Required: true, Position: 2},
			{Name: "Black Marabou", Type: "tail", Color: "black", Position: 3},
			{Name: "Olive Chenille", Type: "body", Color: "olive", Position: 4},
		},
	}
}

// TestRun_EndToEnd drives one pattern from search hit to production upsert
// through every stage in order.
func TestRun_EndToEnd(t *testing.T) {
	st := newMockStore()

	urls := []string{
		"https://a.com/woolly-bugger",
		"https://b.com/woolly-bugger-recipe",
		"https://c.com/tying-woolly-bugger",
	}
	var candidates []model.Candidate
	records := make(map[string]*model.ExtractedRecord)
	for _, u := range urls {
		candidates = append(candidates, model.Candidate{URL: u, Title: "woolly bugger fly pattern recipe"})
		records[u] = richBugger()
	}

	cfg := testConfig()
	cfg.Discover.TopPerBackend = 3

	backend := &mockBackend{name: "serp", candidates: candidates}
	chain := chainWith(&stubScraper{content: strings.Repeat("Hook: Mustad 9672. Tail: marabou. ", 10)})
	ex := &mockExtractor{records: records}

	p := New(cfg, st, []SearchBackend{backend}, chain, ex)

	results, err := p.Run(context.Background(), []string{"woolly bugger fly pattern recipe"})
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.Zero(t, r.Failed, "stage %s had failures", r.Stage)
	}

	pattern, err := st.GetPattern(context.Background(), "woolly-bugger")
	require.NoError(t, err)
	require.NotNil(t, pattern)
	assert.Equal(t, "Woolly Bugger", pattern.Name)
	assert.Equal(t, 3, pattern.SourceCount)
	assert.GreaterOrEqual(t, pattern.Confidence, 0.75)
	assert.Len(t, pattern.Materials, 4)
	assert.Equal(t, "streamer", pattern.Category.WinningValue)

	extCounts, _ := st.CountExtractionsByStatus(context.Background())
	assert.Equal(t, 3, extCounts[model.ExtractionStatusIngested])
	srcCounts, _ := st.CountSourcesByStatus(context.Background())
	assert.Equal(t, 3, srcCounts[model.SourceStatusExtracted])
}

// TestRun_LowConfidenceStopsAtNormalized shows the approval gate holding
// back a thin single-source pattern while the rest of the pipeline runs
// clean.
func TestRun_LowConfidenceStopsAtNormalized(t *testing.T) {
	st := newMockStore()
	url := "https://a.com/mystery-fly"

	backend := &mockBackend{name: "serp", candidates: []model.Candidate{
		{URL: url, Title: "mystery fly pattern"},
	}}
	chain := chainWith(&stubScraper{content: strings.Repeat("some tying text ", 10)})
	ex := &mockExtractor{records: map[string]*model.ExtractedRecord{
		url: {
			PatternName: "Mystery Fly",
			Components: []model.Component{
				{Name: "Some Hook", Type: "hook", Position: 1},
			},
		},
	}}

	p := New(testConfig(), st, []SearchBackend{backend}, chain, ex)
	_, err := p.Run(context.Background(), []string{"mystery fly pattern"})
	require.NoError(t, err)

	counts, _ := st.CountExtractionsByStatus(context.Background())
	assert.Equal(t, 1, counts[model.ExtractionStatusNormalized])
	assert.Zero(t, counts[model.ExtractionStatusIngested])

	pattern, _ := st.GetPattern(context.Background(), "mystery-fly")
	assert.Nil(t, pattern, "unapproved pattern must not reach production")
}
