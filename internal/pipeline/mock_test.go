package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/registry"
	"github.com/driftline/pattern-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// mockStore is an in-memory store.Store for stage tests.
type mockStore struct {
	mu           sync.Mutex
	sources      map[string]*model.StagedSource
	exts         map[string]*model.StagedExtraction
	entities     map[registry.MaterialType][]registry.CanonicalEntity
	production   map[registry.MaterialType][]string
	patterns     map[string]*model.ConsensusPattern
	nextEntityID int64

	upsertPatternErr      error
	createSourceErr       error
	updateSourceStatusErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		sources:    make(map[string]*model.StagedSource),
		exts:       make(map[string]*model.StagedExtraction),
		entities:   make(map[registry.MaterialType][]registry.CanonicalEntity),
		production: make(map[registry.MaterialType][]string),
		patterns:   make(map[string]*model.ConsensusPattern),
	}
}

func (m *mockStore) CreateSource(_ context.Context, src *model.StagedSource) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createSourceErr != nil {
		return false, m.createSourceErr
	}
	for _, existing := range m.sources {
		if existing.URL == src.URL {
			return false, nil
		}
	}
	cp := *src
	m.sources[src.ID] = &cp
	return true, nil
}

func (m *mockStore) ListSourcesByStatus(_ context.Context, status model.SourceStatus) ([]model.StagedSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StagedSource
	for _, s := range m.sources {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) MarkSourceScraped(_ context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return errNotFound
	}
	s.Content = content
	s.Status = model.SourceStatusScraped
	return nil
}

func (m *mockStore) MarkSourceFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return errNotFound
	}
	s.Error = reason
	s.Status = model.SourceStatusFailed
	return nil
}

func (m *mockStore) UpdateSourceStatus(_ context.Context, id string, status model.SourceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateSourceStatusErr != nil {
		return m.updateSourceStatusErr
	}
	s, ok := m.sources[id]
	if !ok {
		return errNotFound
	}
	s.Status = status
	return nil
}

func (m *mockStore) CreateExtraction(_ context.Context, ext *model.StagedExtraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// One extraction per source, like the real stores.
	for _, existing := range m.exts {
		if existing.SourceID == ext.SourceID {
			return nil
		}
	}
	cp := *ext
	m.exts[ext.ID] = &cp
	return nil
}

func (m *mockStore) ListExtractions(_ context.Context, filter store.ExtractionFilter) ([]model.StagedExtraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StagedExtraction
	for _, e := range m.exts {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.MinConfidence > 0 && e.Confidence < filter.MinConfidence {
			continue
		}
		if filter.Slug != "" && e.Slug != filter.Slug {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) UpdateExtractionStatus(_ context.Context, id string, status model.ExtractionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exts[id]
	if !ok {
		return errNotFound
	}
	e.Status = status
	return nil
}

func (m *mockStore) SetExtractionConsensus(_ context.Context, id, slug string, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exts[id]
	if !ok {
		return errNotFound
	}
	e.Slug = slug
	e.Confidence = confidence
	e.Status = model.ExtractionStatusNormalized
	return nil
}

func (m *mockStore) MarkExtractionsIngested(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.exts[id]; ok {
			e.Status = model.ExtractionStatusIngested
		}
	}
	return nil
}

func (m *mockStore) UpsertPattern(_ context.Context, p *model.ConsensusPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertPatternErr != nil {
		return m.upsertPatternErr
	}
	cp := *p
	m.patterns[p.Slug] = &cp
	return nil
}

func (m *mockStore) GetPattern(_ context.Context, slug string) (*model.ConsensusPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[slug]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) SeedMaterials(_ context.Context, seeds []store.MaterialSeed) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range seeds {
		m.production[s.Type] = append(m.production[s.Type], s.Name)
		n++
	}
	return n, nil
}

func (m *mockStore) CountSourcesByStatus(_ context.Context) (map[model.SourceStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.SourceStatus]int)
	for _, s := range m.sources {
		counts[s.Status]++
	}
	return counts, nil
}

func (m *mockStore) CountExtractionsByStatus(_ context.Context) (map[model.ExtractionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.ExtractionStatus]int)
	for _, e := range m.exts {
		counts[e.Status]++
	}
	return counts, nil
}

func (m *mockStore) ListEntities(_ context.Context, mtype registry.MaterialType) ([]registry.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]registry.CanonicalEntity(nil), m.entities[mtype]...), nil
}

func (m *mockStore) CreateEntity(_ context.Context, name string, mtype registry.MaterialType) (*registry.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := registry.NormalizeMaterialName(name)
	for i := range m.entities[mtype] {
		if registry.NormalizeMaterialName(m.entities[mtype][i].Name) == normalized {
			e := m.entities[mtype][i]
			return &e, nil
		}
	}
	m.nextEntityID++
	e := registry.CanonicalEntity{
		ID:        m.nextEntityID,
		Name:      name,
		Type:      mtype,
		CreatedAt: time.Now().UTC(),
	}
	m.entities[mtype] = append(m.entities[mtype], e)
	return &e, nil
}

func (m *mockStore) AppendAlias(_ context.Context, entityID int64, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mtype := range m.entities {
		for i := range m.entities[mtype] {
			if m.entities[mtype][i].ID == entityID {
				if !m.entities[mtype][i].HasAlias(alias) {
					m.entities[mtype][i].Aliases = append(m.entities[mtype][i].Aliases, alias)
				}
				return nil
			}
		}
	}
	return errNotFound
}

func (m *mockStore) ListProductionMaterials(_ context.Context, mtype registry.MaterialType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.production[mtype]...), nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Close() error                    { return nil }

func extractedFilter() store.ExtractionFilter {
	return store.ExtractionFilter{Status: model.ExtractionStatusExtracted}
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}

// mockBackend returns canned candidates per query.
type mockBackend struct {
	name       string
	candidates []model.Candidate
	err        error
	calls      int
}

func (b *mockBackend) Name() string { return b.name }

func (b *mockBackend) Search(_ context.Context, _ string) ([]model.Candidate, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.candidates, nil
}

// mockExtractor returns a canned record keyed on source URL.
type mockExtractor struct {
	mu       sync.Mutex
	records  map[string]*model.ExtractedRecord
	err      error
	inFlight int
	maxSeen  int
}

func (m *mockExtractor) Extract(_ context.Context, src model.StagedSource) (*model.ExtractedRecord, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()
	time.Sleep(time.Millisecond)
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[src.URL]
	if !ok {
		return nil, errNotFound
	}
	cp := *rec
	return &cp, nil
}
