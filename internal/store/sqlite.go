package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/registry"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if strings.Contains(dsn, ":memory:") {
		// A pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	title      TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL DEFAULT 'article',
	query_term TEXT NOT NULL DEFAULT '',
	backend    TEXT NOT NULL DEFAULT '',
	snippet    TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	score      REAL NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'discovered',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extractions (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL UNIQUE REFERENCES sources(id),
	record     TEXT NOT NULL,
	slug       TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'extracted',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS canonical_materials (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	type            TEXT NOT NULL,
	aliases         TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (normalized_name, type)
);

CREATE TABLE IF NOT EXISTS patterns (
	slug         TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	data         TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	source_count INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pattern_materials (
	pattern_slug TEXT NOT NULL REFERENCES patterns(slug),
	position     INTEGER NOT NULL,
	name         TEXT NOT NULL,
	type         TEXT NOT NULL,
	color        TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	required     INTEGER NOT NULL DEFAULT 0,
	confidence   REAL NOT NULL DEFAULT 0,
	source_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (pattern_slug, position)
);

CREATE TABLE IF NOT EXISTS materials (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	UNIQUE (name, type)
);

CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status);
CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status);
CREATE INDEX IF NOT EXISTS idx_extractions_slug ON extractions(slug);
CREATE INDEX IF NOT EXISTS idx_canonical_materials_type ON canonical_materials(type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSource inserts a discovered source, deduping on URL. Returns false
// when the URL was already staged.
func (s *SQLiteStore) CreateSource(ctx context.Context, src *model.StagedSource) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, url, title, kind, query_term, backend, snippet, score, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO NOTHING`,
		src.ID, src.URL, src.Title, string(src.Kind), src.QueryTerm, src.Backend,
		src.Snippet, src.Score, string(model.SourceStatusDiscovered), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert source %s", src.URL)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListSourcesByStatus(ctx context.Context, status model.SourceStatus) ([]model.StagedSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, kind, query_term, backend, snippet, content, score, status, error, created_at, updated_at
		 FROM sources WHERE status = ? ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
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
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) MarkSourceScraped(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET content = ?, status = ?, error = '', updated_at = ? WHERE id = ?`,
		content, string(model.SourceStatusScraped), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark source scraped %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

func (s *SQLiteStore) MarkSourceFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.SourceStatusFailed), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark source failed %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

func (s *SQLiteStore) UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source status %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

// CreateExtraction inserts one extraction per source. A source re-extracted
// after an interrupted run keeps its original record: the conflict is
// swallowed so the retry can still flip the source status.
func (s *SQLiteStore) CreateExtraction(ctx context.Context, ext *model.StagedExtraction) error {
	recordJSON, err := json.Marshal(ext.Record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (id, source_id, record, slug, confidence, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_id) DO NOTHING`,
		ext.ID, ext.SourceID, string(recordJSON), ext.Slug, ext.Confidence,
		string(model.ExtractionStatusExtracted), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert extraction for source %s", ext.SourceID)
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.StagedExtraction, error) {
	query := `SELECT id, source_id, record, slug, confidence, status, created_at, updated_at
		 FROM extractions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, filter.MinConfidence)
	}
	if filter.Slug != "" {
		query += ` AND slug = ?`
		args = append(args, filter.Slug)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close()

	var out []model.StagedExtraction
	for rows.Next() {
		var ext model.StagedExtraction
		var recordJSON string
		if err := rows.Scan(
			&ext.ID, &ext.SourceID, &recordJSON, &ext.Slug, &ext.Confidence,
			&ext.Status, &ext.CreatedAt, &ext.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		if err := json.Unmarshal([]byte(recordJSON), &ext.Record); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal record %s", ext.ID)
		}
		out = append(out, ext)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

func (s *SQLiteStore) UpdateExtractionStatus(ctx context.Context, id string, status model.ExtractionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extractions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update extraction status %s", id)
	}
	return checkRowsAffected(res, "extraction", id)
}

func (s *SQLiteStore) SetExtractionConsensus(ctx context.Context, id, slug string, confidence float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extractions SET slug = ?, confidence = ?, status = ?, updated_at = ? WHERE id = ?`,
		slug, confidence, string(model.ExtractionStatusNormalized), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set extraction consensus %s", id)
	}
	return checkRowsAffected(res, "extraction", id)
}

func (s *SQLiteStore) MarkExtractionsIngested(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{string(model.ExtractionStatusIngested), time.Now().UTC()}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE extractions SET status = ?, updated_at = ? WHERE id IN (`+placeholders+`)`,
		args...,
	)
	return eris.Wrap(err, "sqlite: mark extractions ingested")
}

// ListEntities returns every canonical entity of the given type.
func (s *SQLiteStore) ListEntities(ctx context.Context, mtype registry.MaterialType) ([]registry.CanonicalEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, aliases, created_at FROM canonical_materials WHERE type = ? ORDER BY id`,
		string(mtype),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical materials")
	}
	defer rows.Close()

	var out []registry.CanonicalEntity
	for rows.Next() {
		var e registry.CanonicalEntity
		var aliasJSON string
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &aliasJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical material")
		}
		if err := json.Unmarshal([]byte(aliasJSON), &e.Aliases); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal aliases for %s", e.Name)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list canonical materials iterate")
}

// CreateEntity inserts a canonical entity keyed by (normalized name, type).
// A conflicting concurrent create converges on the existing row.
func (s *SQLiteStore) CreateEntity(ctx context.Context, name string, mtype registry.MaterialType) (*registry.CanonicalEntity, error) {
	normalized := registry.NormalizeMaterialName(name)
	var e registry.CanonicalEntity
	var aliasJSON string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO canonical_materials (name, normalized_name, type)
		 VALUES (?, ?, ?)
		 ON CONFLICT (normalized_name, type) DO UPDATE SET name = canonical_materials.name
		 RETURNING id, name, type, aliases, created_at`,
		name, normalized, string(mtype),
	).Scan(&e.ID, &e.Name, &e.Type, &aliasJSON, &e.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create canonical material %q", name)
	}
	if err := json.Unmarshal([]byte(aliasJSON), &e.Aliases); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aliases")
	}
	return &e, nil
}

// AppendAlias adds an alias to an entity if not already present.
func (s *SQLiteStore) AppendAlias(ctx context.Context, entityID int64, alias string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin alias tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var aliasJSON string
	if err := tx.QueryRowContext(ctx,
		`SELECT aliases FROM canonical_materials WHERE id = ?`, entityID,
	).Scan(&aliasJSON); err != nil {
		return eris.Wrapf(err, "sqlite: read aliases for entity %d", entityID)
	}

	var aliases []string
	if err := json.Unmarshal([]byte(aliasJSON), &aliases); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal aliases")
	}
	for _, a := range aliases {
		if a == alias {
			return nil
		}
	}
	aliases = append(aliases, alias)
	updated, err := json.Marshal(aliases)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE canonical_materials SET aliases = ? WHERE id = ?`,
		string(updated), entityID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: append alias to entity %d", entityID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit alias tx")
}

func (s *SQLiteStore) ListProductionMaterials(ctx context.Context, mtype registry.MaterialType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM materials WHERE type = ? ORDER BY name`,
		string(mtype),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list production materials")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan production material")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: list production materials iterate")
}

// UpsertPattern atomically upserts a consensus pattern and its children.
// Partial writes are never visible: everything happens in one transaction.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, p *model.ConsensusPattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pattern")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin pattern tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO patterns (slug, name, data, confidence, source_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			data = excluded.data,
			confidence = excluded.confidence,
			source_count = excluded.source_count,
			updated_at = excluded.updated_at`,
		p.Slug, p.Name, string(data), p.Confidence, p.SourceCount, now, now,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert pattern %s", p.Slug)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pattern_materials WHERE pattern_slug = ?`, p.Slug,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear pattern materials %s", p.Slug)
	}

	for _, m := range p.Materials {
		required := 0
		if m.Required {
			required = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pattern_materials (pattern_slug, position, name, type, color, size, required, confidence, source_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Slug, m.Position, m.Name, m.Type, m.Color, m.Size, required, m.Confidence, m.SourceCount,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert pattern material %s/%d", p.Slug, m.Position)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO materials (name, type) VALUES (?, ?) ON CONFLICT (name, type) DO NOTHING`,
			m.Name, m.Type,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert material %s", m.Name)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit pattern %s", p.Slug)
}

// SeedMaterials bulk-imports production catalog entries, skipping duplicates.
func (s *SQLiteStore) SeedMaterials(ctx context.Context, seeds []MaterialSeed) (int64, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin seed tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var inserted int64
	for _, seed := range seeds {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO materials (name, type) VALUES (?, ?) ON CONFLICT (name, type) DO NOTHING`,
			seed.Name, string(seed.Type),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed material %q", seed.Name)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}
	return inserted, eris.Wrap(tx.Commit(), "sqlite: commit seed tx")
}

func (s *SQLiteStore) GetPattern(ctx context.Context, slug string) (*model.ConsensusPattern, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM patterns WHERE slug = ?`, slug,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pattern %s", slug)
	}

	var p model.ConsensusPattern
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal pattern %s", slug)
	}
	return &p, nil
}

func (s *SQLiteStore) CountSourcesByStatus(ctx context.Context) (map[model.SourceStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sources GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count sources")
	}
	defer rows.Close()

	out := make(map[model.SourceStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		out[model.SourceStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count sources iterate")
}

func (s *SQLiteStore) CountExtractionsByStatus(ctx context.Context) (map[model.ExtractionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM extractions GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count extractions")
	}
	defer rows.Close()

	out := make(map[model.ExtractionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction count")
		}
		out[model.ExtractionStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count extractions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
