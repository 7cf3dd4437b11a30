package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/testplanit/searchsync/internal/domain"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	kind        TEXT    NOT NULL,
	id          INTEGER NOT NULL,
	project_id  INTEGER NOT NULL DEFAULT 0,
	is_deleted  INTEGER NOT NULL DEFAULT 0,
	is_archived INTEGER NOT NULL DEFAULT 0,
	payload     TEXT    NOT NULL,
	updated_at  TEXT    NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(kind, project_id, id);

CREATE TABLE IF NOT EXISTS folders (
	id         INTEGER PRIMARY KEY,
	project_id INTEGER NOT NULL,
	parent_id  INTEGER,
	name       TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS app_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLite is a Reader, Mutator and ConfigReader backed by a SQLite database.
// Entities are stored as JSON snapshots of their relation graph.
type SQLite struct {
	db *sql.DB
}

var (
	_ Reader       = (*SQLite)(nil)
	_ Mutator      = (*SQLite)(nil)
	_ ConfigReader = (*SQLite)(nil)
)

// Open opens (creating if needed) the database at path.
// An empty path or ":memory:" opens a private in-memory database.
func Open(path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; an in-memory database only lives as long as its one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// DB exposes the handle so other components (the job queue) can share the database.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Get(ctx context.Context, kind domain.EntityKind, id int64) (domain.Entity, error) {
	e, err := domain.NewEntity(kind)
	if err != nil {
		return nil, err
	}
	var payload string
	err = s.db.QueryRowContext(ctx, `SELECT payload FROM entities WHERE kind = ? AND id = ?`, string(kind), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %d: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(payload), e); err != nil {
		return nil, fmt.Errorf("failed to decode %s %d: %w", kind, id, err)
	}
	e.SetEntityID(id)
	return e, nil
}

func (s *SQLite) GetFolder(ctx context.Context, id int64) (*domain.Folder, error) {
	var (
		f      domain.Folder
		parent sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, parent_id, name FROM folders WHERE id = ?`, id).
		Scan(&f.ID, &f.ProjectID, &parent, &f.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load folder %d: %w", id, err)
	}
	if parent.Valid {
		p := parent.Int64
		f.ParentID = &p
	}
	return &f, nil
}

// PutFolder inserts or replaces a folder row.
func (s *SQLite) PutFolder(ctx context.Context, f *domain.Folder) error {
	var parent any
	if f.ParentID != nil {
		parent = *f.ParentID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (id, project_id, parent_id, name) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, parent_id = excluded.parent_id, name = excluded.name`,
		f.ID, f.ProjectID, parent, f.Name)
	if err != nil {
		return fmt.Errorf("failed to store folder %d: %w", f.ID, err)
	}
	return nil
}

func filterClause(kind domain.EntityKind, f Filter) (string, []any) {
	clauses := []string{"kind = ?", "is_deleted = 0"}
	args := []any{string(kind)}
	if f.ProjectID != 0 {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.ExcludeArchived {
		clauses = append(clauses, "is_archived = 0")
	}
	return strings.Join(clauses, " AND "), args
}

func (s *SQLite) Count(ctx context.Context, kind domain.EntityKind, f Filter) (int64, error) {
	where, args := filterClause(kind, f)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return n, nil
}

func (s *SQLite) ListIDs(ctx context.Context, kind domain.EntityKind, f Filter, p Page) ([]int64, error) {
	where, args := filterClause(kind, f)
	query := `SELECT id FROM entities WHERE ` + where + ` ORDER BY id ASC`
	if p.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, p.Limit, p.Offset)
	} else if p.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, p.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM entities WHERE kind = ? AND is_deleted = 0 ORDER BY id ASC`, string(domain.KindProject))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		p := &domain.Project{}
		if err := json.Unmarshal([]byte(payload), p); err != nil {
			return nil, fmt.Errorf("failed to decode project %d: %w", id, err)
		}
		p.ID = id
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func archived(e domain.Entity) bool {
	if c, ok := e.(*domain.RepositoryCase); ok {
		return c.IsArchived
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLite) write(ctx context.Context, query string, e domain.Entity) (sql.Result, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %d: %w", e.Kind(), e.EntityID(), err)
	}
	return s.db.ExecContext(ctx, query,
		string(e.Kind()), e.EntityID(), e.OwnerProjectID(),
		boolInt(e.Deleted()), boolInt(archived(e)),
		string(payload), time.Now().UTC().Format(time.RFC3339Nano))
}

const (
	insertEntity = `INSERT INTO entities (kind, id, project_id, is_deleted, is_archived, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	upsertEntity = insertEntity + `
		ON CONFLICT(kind, id) DO UPDATE SET project_id = excluded.project_id, is_deleted = excluded.is_deleted,
		is_archived = excluded.is_archived, payload = excluded.payload, updated_at = excluded.updated_at`
)

func (s *SQLite) Create(ctx context.Context, e domain.Entity) error {
	if e.EntityID() == 0 {
		var next int64
		err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(id), 0) + 1 FROM entities WHERE kind = ?`, string(e.Kind())).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to allocate %s id: %w", e.Kind(), err)
		}
		e.SetEntityID(next)
	}
	if _, err := s.write(ctx, insertEntity, e); err != nil {
		return fmt.Errorf("failed to create %s %d: %w", e.Kind(), e.EntityID(), err)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, e domain.Entity) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE kind = ? AND id = ?`, string(e.Kind()), e.EntityID()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", e.Kind(), e.EntityID(), ErrNotFound)
	}
	if err != nil {
		return err
	}
	if _, err := s.write(ctx, upsertEntity, e); err != nil {
		return fmt.Errorf("failed to update %s %d: %w", e.Kind(), e.EntityID(), err)
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, e domain.Entity) error {
	if e.EntityID() == 0 {
		return s.Create(ctx, e)
	}
	if _, err := s.write(ctx, upsertEntity, e); err != nil {
		return fmt.Errorf("failed to upsert %s %d: %w", e.Kind(), e.EntityID(), err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, kind domain.EntityKind, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", kind, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read config %q: %w", key, err)
	}
	return value, true, nil
}

// SetConfigValue stores a runtime configuration value.
func (s *SQLite) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write config %q: %w", key, err)
	}
	return nil
}
