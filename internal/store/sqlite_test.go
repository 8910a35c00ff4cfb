package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/registry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testSource(url string) *model.StagedSource {
	return &model.StagedSource{
		ID:        uuid.NewString(),
		URL:       url,
		Title:     "Woolly Bugger Tutorial",
		Kind:      model.SourceKindArticle,
		QueryTerm: "woolly bugger fly pattern recipe",
		Backend:   "serp",
		Score:     0.8,
	}
}

func TestCreateSource_DedupesOnURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSource(ctx, testSource("https://example.com/bugger"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateSource(ctx, testSource("https://example.com/bugger"))
	require.NoError(t, err)
	assert.False(t, created)

	discovered, err := s.ListSourcesByStatus(ctx, model.SourceStatusDiscovered)
	require.NoError(t, err)
	assert.Len(t, discovered, 1)
}

func TestSourceStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := testSource("https://example.com/bugger")
	_, err := s.CreateSource(ctx, src)
	require.NoError(t, err)

	require.NoError(t, s.MarkSourceScraped(ctx, src.ID, "tie in the marabou tail"))

	scraped, err := s.ListSourcesByStatus(ctx, model.SourceStatusScraped)
	require.NoError(t, err)
	require.Len(t, scraped, 1)
	assert.Equal(t, "tie in the marabou tail", scraped[0].Content)
	assert.Empty(t, scraped[0].Error)

	require.NoError(t, s.UpdateSourceStatus(ctx, src.ID, model.SourceStatusExtracted))
	counts, err := s.CountSourcesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.SourceStatus]int{model.SourceStatusExtracted: 1}, counts)
}

func TestMarkSourceFailed_RecordsReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := testSource("https://example.com/404")
	_, err := s.CreateSource(ctx, src)
	require.NoError(t, err)

	require.NoError(t, s.MarkSourceFailed(ctx, src.ID, "fetch: status 404"))

	failed, err := s.ListSourcesByStatus(ctx, model.SourceStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "fetch: status 404", failed[0].Error)
}

func TestUpdateSourceStatus_UnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSourceStatus(context.Background(), uuid.NewString(), model.SourceStatusScraped)
	assert.Error(t, err)
}

func TestExtractionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := testSource("https://example.com/bugger")
	_, err := s.CreateSource(ctx, src)
	require.NoError(t, err)

	ext := &model.StagedExtraction{
		ID:       uuid.NewString(),
		SourceID: src.ID,
		Record: model.ExtractedRecord{
			PatternName: "Woolly Bugger",
			Category:    "streamer",
			Components: []model.Component{
				{Name: "Mustad 9672", Type: "hook", Size: "8", Required: true, Position: 1},
				{Name: "Marabou", Type: "tail", Color: "black", Position: 2},
			},
		},
	}
	require.NoError(t, s.CreateExtraction(ctx, ext))

	got, err := s.ListExtractions(ctx, ExtractionFilter{Status: model.ExtractionStatusExtracted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Woolly Bugger", got[0].Record.PatternName)
	require.Len(t, got[0].Record.Components, 2)
	assert.Equal(t, "Mustad 9672", got[0].Record.Components[0].Name)

	require.NoError(t, s.SetExtractionConsensus(ctx, ext.ID, "woolly-bugger", 0.91))

	normalized, err := s.ListExtractions(ctx, ExtractionFilter{
		Status:        model.ExtractionStatusNormalized,
		MinConfidence: 0.9,
		Slug:          "woolly-bugger",
	})
	require.NoError(t, err)
	require.Len(t, normalized, 1)
	assert.InDelta(t, 0.91, normalized[0].Confidence, 1e-9)

	require.NoError(t, s.UpdateExtractionStatus(ctx, ext.ID, model.ExtractionStatusApproved))
	require.NoError(t, s.MarkExtractionsIngested(ctx, []string{ext.ID}))

	counts, err := s.CountExtractionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.ExtractionStatus]int{model.ExtractionStatusIngested: 1}, counts)
}

func TestCreateExtraction_DedupesOnSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := testSource("https://example.com/bugger")
	_, err := s.CreateSource(ctx, src)
	require.NoError(t, err)

	first := &model.StagedExtraction{
		ID:       uuid.NewString(),
		SourceID: src.ID,
		Record:   model.ExtractedRecord{PatternName: "Woolly Bugger"},
	}
	require.NoError(t, s.CreateExtraction(ctx, first))

	// A retry after an interrupted run re-extracts the same source.
	second := &model.StagedExtraction{
		ID:       uuid.NewString(),
		SourceID: src.ID,
		Record:   model.ExtractedRecord{PatternName: "Wooly Bugger"},
	}
	require.NoError(t, s.CreateExtraction(ctx, second))

	got, err := s.ListExtractions(ctx, ExtractionFilter{Status: model.ExtractionStatusExtracted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, "Woolly Bugger", got[0].Record.PatternName)
}

func TestListExtractions_MinConfidenceExcludes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := testSource("https://example.com/bugger")
	_, err := s.CreateSource(ctx, src)
	require.NoError(t, err)

	for _, conf := range []float64{0.5, 0.9} {
		ext := &model.StagedExtraction{
			ID:       uuid.NewString(),
			SourceID: src.ID,
			Record:   model.ExtractedRecord{PatternName: "Woolly Bugger"},
		}
		require.NoError(t, s.CreateExtraction(ctx, ext))
		require.NoError(t, s.SetExtractionConsensus(ctx, ext.ID, "woolly-bugger", conf))
	}

	got, err := s.ListExtractions(ctx, ExtractionFilter{MinConfidence: 0.75})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCreateEntity_ConflictConverges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateEntity(ctx, "Marabou Size #12", registry.TypeTail)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "Marabou Size #12", first.Name)

	// Same normalized name and type resolves to the existing row.
	second, err := s.CreateEntity(ctx, "marabou", registry.TypeTail)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Name, second.Name)

	// Same name, different type is a distinct entity.
	other, err := s.CreateEntity(ctx, "marabou", registry.TypeWing)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	tails, err := s.ListEntities(ctx, registry.TypeTail)
	require.NoError(t, err)
	assert.Len(t, tails, 1)
}

func TestAppendAlias_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.CreateEntity(ctx, "Uni-Thread 6/0", registry.TypeThread)
	require.NoError(t, err)

	require.NoError(t, s.AppendAlias(ctx, e.ID, "uni thread 6/0"))
	require.NoError(t, s.AppendAlias(ctx, e.ID, "uni thread 6/0"))
	require.NoError(t, s.AppendAlias(ctx, e.ID, "unithread 6/0"))

	threads, err := s.ListEntities(ctx, registry.TypeThread)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, []string{"uni thread 6/0", "unithread 6/0"}, threads[0].Aliases)
}

func TestUpsertPattern_RoundTripAndReplaceMaterials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &model.ConsensusPattern{
		Name:        "Woolly Bugger",
		Slug:        "woolly-bugger",
		Category:    model.ConsensusEntry{Field: "category", WinningValue: "streamer", AgreeingCount: 3, TotalSources: 3, Confidence: 1},
		Description: "A classic streamer.",
		Materials: []model.ConsensusMaterial{
			{Name: "Mustad 9672", Type: "hook", Size: "8", Required: true, Position: 1, Confidence: 1, SourceCount: 3},
			{Name: "Marabou", Type: "tail", Color: "black", Position: 2, Confidence: 0.67, SourceCount: 2},
		},
		Confidence:  0.88,
		SourceCount: 3,
	}
	require.NoError(t, s.UpsertPattern(ctx, p))

	got, err := s.GetPattern(ctx, "woolly-bugger")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Woolly Bugger", got.Name)
	assert.Equal(t, "streamer", got.Category.WinningValue)
	require.Len(t, got.Materials, 2)

	// Re-ingesting with fewer materials replaces the children wholesale.
	p.Materials = p.Materials[:1]
	p.SourceCount = 4
	require.NoError(t, s.UpsertPattern(ctx, p))

	got, err = s.GetPattern(ctx, "woolly-bugger")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.SourceCount)
	assert.Len(t, got.Materials, 1)

	// Ingested materials feed the production catalog for fuzzy seeding.
	hooks, err := s.ListProductionMaterials(ctx, registry.TypeHook)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mustad 9672"}, hooks)
}

func TestSeedMaterials_SkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seeds := []MaterialSeed{
		{Name: "Marabou", Type: registry.TypeTail},
		{Name: "Saddle Hackle", Type: registry.TypeHackle},
	}
	n, err := s.SeedMaterials(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.SeedMaterials(ctx, append(seeds, MaterialSeed{Name: "Chenille", Type: registry.TypeBody}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tails, err := s.ListProductionMaterials(ctx, registry.TypeTail)
	require.NoError(t, err)
	assert.Equal(t, []string{"Marabou"}, tails)
}

func TestGetPattern_Missing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetPattern(context.Background(), "no-such-slug")
	require.NoError(t, err)
	assert.Nil(t, got)
}
