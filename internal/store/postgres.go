package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/driftline/pattern-cli/internal/db"
	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/registry"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	title      TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL DEFAULT 'article',
	query_term TEXT NOT NULL DEFAULT '',
	backend    TEXT NOT NULL DEFAULT '',
	snippet    TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'discovered',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extractions (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL UNIQUE REFERENCES sources(id),
	record     JSONB NOT NULL,
	slug       TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'extracted',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS canonical_materials (
	id              BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	type            TEXT NOT NULL,
	aliases         TEXT[] NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (normalized_name, type)
);

CREATE TABLE IF NOT EXISTS patterns (
	slug         TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	data         JSONB NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_count INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pattern_materials (
	pattern_slug TEXT NOT NULL REFERENCES patterns(slug),
	position     INTEGER NOT NULL,
	name         TEXT NOT NULL,
	type         TEXT NOT NULL,
	color        TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	required     BOOLEAN NOT NULL DEFAULT false,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (pattern_slug, position)
);

CREATE TABLE IF NOT EXISTS materials (
	id   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	UNIQUE (name, type)
);

CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status);
CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status);
CREATE INDEX IF NOT EXISTS idx_extractions_slug ON extractions(slug);
CREATE INDEX IF NOT EXISTS idx_canonical_materials_type ON canonical_materials(type);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSource(ctx context.Context, src *model.StagedSource) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, url, title, kind, query_term, backend, snippet, score, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (url) DO NOTHING`,
		src.ID, src.URL, src.Title, string(src.Kind), src.QueryTerm, src.Backend,
		src.Snippet, src.Score, string(model.SourceStatusDiscovered), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert source %s", src.URL)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListSourcesByStatus(ctx context.Context, status model.SourceStatus) ([]model.StagedSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, title, kind, query_term, backend, snippet, content, score, status, error, created_at, updated_at
		 FROM sources WHERE status = $1 ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.StagedSource
	for rows.Next() {
		var src model.StagedSource
		if err := rows.Scan(
			&src.ID, &src.URL, &src.Title, &src.Kind, &src.QueryTerm, &src.Backend,
			&src.Snippet, &src.Content, &src.Score, &src.Status, &src.Error,
			&src.CreatedAt, &src.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) MarkSourceScraped(ctx context.Context, id, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET content = $1, status = $2, error = '', updated_at = $3 WHERE id = $4`,
		content, string(model.SourceStatusScraped), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark source scraped %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkSourceFailed(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.SourceStatusFailed), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark source failed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source not found: %s", id)
	}
	return nil
}

// CreateExtraction inserts one extraction per source. A source re-extracted
// after an interrupted run keeps its original record: the conflict is
// swallowed so the retry can still flip the source status.
func (s *PostgresStore) CreateExtraction(ctx context.Context, ext *model.StagedExtraction) error {
	recordJSON, err := json.Marshal(ext.Record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extractions (id, source_id, record, slug, confidence, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (source_id) DO NOTHING`,
		ext.ID, ext.SourceID, recordJSON, ext.Slug, ext.Confidence,
		string(model.ExtractionStatusExtracted), now, now,
	)
	return eris.Wrapf(err, "postgres: insert extraction for source %s", ext.SourceID)
}

func (s *PostgresStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.StagedExtraction, error) {
	query := `SELECT id, source_id, record, slug, confidence, status, created_at, updated_at
		 FROM extractions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.MinConfidence > 0 {
		query += fmt.Sprintf(` AND confidence >= $%d`, argIdx)
		args = append(args, filter.MinConfidence)
		argIdx++
	}
	if filter.Slug != "" {
		query += fmt.Sprintf(` AND slug = $%d`, argIdx)
		args = append(args, filter.Slug)
		argIdx++
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extractions")
	}
	defer rows.Close()

	var out []model.StagedExtraction
	for rows.Next() {
		var ext model.StagedExtraction
		var recordJSON []byte
		if err := rows.Scan(
			&ext.ID, &ext.SourceID, &recordJSON, &ext.Slug, &ext.Confidence,
			&ext.Status, &ext.CreatedAt, &ext.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		if err := json.Unmarshal(recordJSON, &ext.Record); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal record %s", ext.ID)
		}
		out = append(out, ext)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list extractions iterate")
}

func (s *PostgresStore) UpdateExtractionStatus(ctx context.Context, id string, status model.ExtractionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extractions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update extraction status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("extraction not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetExtractionConsensus(ctx context.Context, id, slug string, confidence float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extractions SET slug = $1, confidence = $2, status = $3, updated_at = $4 WHERE id = $5`,
		slug, confidence, string(model.ExtractionStatusNormalized), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set extraction consensus %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("extraction not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkExtractionsIngested(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE extractions SET status = $1, updated_at = $2 WHERE id = ANY($3)`,
		string(model.ExtractionStatusIngested), time.Now().UTC(), ids,
	)
	return eris.Wrap(err, "postgres: mark extractions ingested")
}

func (s *PostgresStore) ListEntities(ctx context.Context, mtype registry.MaterialType) ([]registry.CanonicalEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, type, aliases, created_at FROM canonical_materials WHERE type = $1 ORDER BY id`,
		string(mtype),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical materials")
	}
	defer rows.Close()

	var out []registry.CanonicalEntity
	for rows.Next() {
		var e registry.CanonicalEntity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Aliases, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical material")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list canonical materials iterate")
}

func (s *PostgresStore) CreateEntity(ctx context.Context, name string, mtype registry.MaterialType) (*registry.CanonicalEntity, error) {
	normalized := registry.NormalizeMaterialName(name)
	var e registry.CanonicalEntity
	err := s.pool.QueryRow(ctx,
		`INSERT INTO canonical_materials (name, normalized_name, type)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (normalized_name, type) DO UPDATE SET name = canonical_materials.name
		 RETURNING id, name, type, aliases, created_at`,
		name, normalized, string(mtype),
	).Scan(&e.ID, &e.Name, &e.Type, &e.Aliases, &e.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create canonical material %q", name)
	}
	return &e, nil
}

func (s *PostgresStore) AppendAlias(ctx context.Context, entityID int64, alias string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE canonical_materials
		 SET aliases = array_append(aliases, $2)
		 WHERE id = $1 AND NOT ($2 = ANY(aliases))`,
		entityID, alias,
	)
	return eris.Wrapf(err, "postgres: append alias to entity %d", entityID)
}

func (s *PostgresStore) ListProductionMaterials(ctx context.Context, mtype registry.MaterialType) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM materials WHERE type = $1 ORDER BY name`,
		string(mtype),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list production materials")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan production material")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "postgres: list production materials iterate")
}

// UpsertPattern atomically upserts a consensus pattern and its children.
// Partial writes are never visible: everything happens in one transaction.
func (s *PostgresStore) UpsertPattern(ctx context.Context, p *model.ConsensusPattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pattern")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin pattern tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO patterns (slug, name, data, confidence, source_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			data = EXCLUDED.data,
			confidence = EXCLUDED.confidence,
			source_count = EXCLUDED.source_count,
			updated_at = EXCLUDED.updated_at`,
		p.Slug, p.Name, data, p.Confidence, p.SourceCount, now, now,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert pattern %s", p.Slug)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM pattern_materials WHERE pattern_slug = $1`, p.Slug,
	); err != nil {
		return eris.Wrapf(err, "postgres: clear pattern materials %s", p.Slug)
	}

	if len(p.Materials) > 0 {
		rows := make([][]any, len(p.Materials))
		for i, m := range p.Materials {
			rows[i] = []any{p.Slug, m.Position, m.Name, m.Type, m.Color, m.Size, m.Required, m.Confidence, m.SourceCount}
		}
		if _, err := db.CopyFrom(ctx, tx, "pattern_materials",
			[]string{"pattern_slug", "position", "name", "type", "color", "size", "required", "confidence", "source_count"},
			rows,
		); err != nil {
			return eris.Wrapf(err, "postgres: copy pattern materials %s", p.Slug)
		}

		for _, m := range p.Materials {
			if _, err := tx.Exec(ctx,
				`INSERT INTO materials (name, type) VALUES ($1, $2) ON CONFLICT (name, type) DO NOTHING`,
				m.Name, m.Type,
			); err != nil {
				return eris.Wrapf(err, "postgres: upsert material %s", m.Name)
			}
		}
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit pattern %s", p.Slug)
}

func (s *PostgresStore) GetPattern(ctx context.Context, slug string) (*model.ConsensusPattern, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM patterns WHERE slug = $1`, slug,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get pattern %s", slug)
	}

	var p model.ConsensusPattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal pattern %s", slug)
	}
	return &p, nil
}

// SeedMaterials bulk-imports production catalog entries, skipping duplicates.
func (s *PostgresStore) SeedMaterials(ctx context.Context, seeds []MaterialSeed) (int64, error) {
	rows := make([][]any, len(seeds))
	for i, seed := range seeds {
		rows[i] = []any{seed.Name, string(seed.Type)}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "materials",
		Columns:      []string{"name", "type"},
		ConflictKeys: []string{"name", "type"},
	}, rows)
	return n, eris.Wrap(err, "postgres: seed materials")
}

func (s *PostgresStore) CountSourcesByStatus(ctx context.Context) (map[model.SourceStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM sources GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count sources")
	}
	defer rows.Close()

	out := make(map[model.SourceStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		out[model.SourceStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: count sources iterate")
}

func (s *PostgresStore) CountExtractionsByStatus(ctx context.Context) (map[model.ExtractionStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM extractions GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count extractions")
	}
	defer rows.Close()

	out := make(map[model.ExtractionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction count")
		}
		out[model.ExtractionStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: count extractions iterate")
}
