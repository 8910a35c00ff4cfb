package registry

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/similarity"
)

// NewConceptConfidence is the fixed confidence assigned when a name matches
// nothing and a fresh canonical entry is created. It marks a new concept, not
// a similarity score.
const NewConceptConfidence = 0.5

// MatchKind identifies which rung of the resolution ladder produced a match.
type MatchKind string

const (
	MatchExact           MatchKind = "exact"
	MatchAlias           MatchKind = "alias"
	MatchFuzzyRegistry   MatchKind = "fuzzy_registry"
	MatchFuzzyProduction MatchKind = "fuzzy_production"
	MatchCreated         MatchKind = "created"
)

// Store is the persistence boundary the resolver needs. CreateEntity must
// treat a unique-constraint conflict on (normalized name, type) as success and
// return the winning row; AppendAlias must be an idempotent no-op when the
// alias is already present.
type Store interface {
	ListEntities(ctx context.Context, mtype MaterialType) ([]CanonicalEntity, error)
	CreateEntity(ctx context.Context, name string, mtype MaterialType) (*CanonicalEntity, error)
	AppendAlias(ctx context.Context, entityID int64, alias string) error
	ListProductionMaterials(ctx context.Context, mtype MaterialType) ([]string, error)
}

// Resolution is the outcome of resolving one raw (name, type) pair.
type Resolution struct {
	Entity     *CanonicalEntity
	Type       MaterialType
	Kind       MatchKind
	Confidence float64
}

// Resolver maps raw component names onto canonical entities, learning aliases
// as it goes. One record's materials must be resolved sequentially by a single
// caller; concurrent resolution across different records is safe because
// conflicting creates converge on the same row.
type Resolver struct {
	store     Store
	threshold float64
}

// NewResolver creates a Resolver. threshold gates both fuzzy rungs.
func NewResolver(store Store, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = 0.85
	}
	return &Resolver{store: store, threshold: threshold}
}

// Resolve walks the ladder: exact -> alias -> fuzzy against the registry ->
// fuzzy against the production catalog -> create new. First hit wins.
func (r *Resolver) Resolve(ctx context.Context, rawName, rawType string) (*Resolution, error) {
	mtype := SanitizeType(rawType)
	normalized := NormalizeMaterialName(rawName)
	if normalized == "" {
		return nil, eris.Errorf("registry: empty material name (raw %q)", rawName)
	}

	entities, err := r.store.ListEntities(ctx, mtype)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: list entities for type %s", mtype)
	}

	// Exact against canonical names.
	for i := range entities {
		if NormalizeMaterialName(entities[i].Name) == normalized {
			return &Resolution{Entity: &entities[i], Type: mtype, Kind: MatchExact, Confidence: 1}, nil
		}
	}

	// Exact against known aliases.
	for i := range entities {
		for _, alias := range entities[i].Aliases {
			if NormalizeMaterialName(alias) == normalized {
				return &Resolution{Entity: &entities[i], Type: mtype, Kind: MatchAlias, Confidence: 1}, nil
			}
		}
	}

	// Fuzzy against the union of canonical names and aliases.
	if res, err := r.fuzzyRegistry(ctx, rawName, normalized, mtype, entities); err != nil || res != nil {
		return res, err
	}

	// Fuzzy against the live production catalog.
	if res, err := r.fuzzyProduction(ctx, rawName, normalized, mtype); err != nil || res != nil {
		return res, err
	}

	// No match anywhere: register a new concept.
	entity, err := r.store.CreateEntity(ctx, DisplayName(normalized), mtype)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: create entity %q", normalized)
	}
	zap.L().Debug("registry: new canonical entity",
		zap.String("name", entity.Name),
		zap.String("type", string(mtype)),
	)
	return &Resolution{Entity: entity, Type: mtype, Kind: MatchCreated, Confidence: NewConceptConfidence}, nil
}

func (r *Resolver) fuzzyRegistry(ctx context.Context, rawName, normalized string, mtype MaterialType, entities []CanonicalEntity) (*Resolution, error) {
	// Candidate list is the union of canonical names and aliases; owners maps
	// each candidate back to its entity.
	var candidates []string
	var owners []int
	for i := range entities {
		candidates = append(candidates, entities[i].Name)
		owners = append(owners, i)
		for _, alias := range entities[i].Aliases {
			candidates = append(candidates, alias)
			owners = append(owners, i)
		}
	}

	match, ok := similarity.FindBestMatch(normalized, candidates)
	if !ok || match.Score < r.threshold {
		return nil, nil
	}

	entity := &entities[owners[match.Index]]
	if !entity.HasAlias(rawName) {
		if err := r.store.AppendAlias(ctx, entity.ID, rawName); err != nil {
			return nil, eris.Wrapf(err, "registry: append alias %q to %q", rawName, entity.Name)
		}
		entity.Aliases = append(entity.Aliases, rawName)
	}
	return &Resolution{Entity: entity, Type: mtype, Kind: MatchFuzzyRegistry, Confidence: match.Score}, nil
}

func (r *Resolver) fuzzyProduction(ctx context.Context, rawName, normalized string, mtype MaterialType) (*Resolution, error) {
	names, err := r.store.ListProductionMaterials(ctx, mtype)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: list production materials for type %s", mtype)
	}
	if len(names) == 0 {
		return nil, nil
	}

	match, ok := similarity.FindBestMatch(normalized, names)
	if !ok || match.Score < r.threshold {
		return nil, nil
	}

	// Seed a canonical entry from the production name; CreateEntity converges
	// on the existing row if another writer got there first.
	entity, err := r.store.CreateEntity(ctx, match.Value, mtype)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: seed entity from production %q", match.Value)
	}
	if !entity.HasAlias(rawName) {
		if err := r.store.AppendAlias(ctx, entity.ID, rawName); err != nil {
			return nil, eris.Wrapf(err, "registry: append alias %q to %q", rawName, entity.Name)
		}
		entity.Aliases = append(entity.Aliases, rawName)
	}
	return &Resolution{Entity: entity, Type: mtype, Kind: MatchFuzzyProduction, Confidence: match.Score}, nil
}
