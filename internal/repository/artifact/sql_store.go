package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type dialectQueries struct {
	schema string
	upsert string
	get    string
	list   string
}

var queries = map[Dialect]dialectQueries{
	DialectPostgres: {
		schema: `
CREATE TABLE IF NOT EXISTS snapshot_files (
    id SERIAL PRIMARY KEY,
    snapshot_id TEXT NOT NULL,
    path TEXT NOT NULL,
    content BYTEA NOT NULL DEFAULT ''::bytea,
    size BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    UNIQUE(snapshot_id, path)
);
CREATE INDEX IF NOT EXISTS idx_snapshot_files_snapshot_id ON snapshot_files(snapshot_id);
`,
		upsert: `
INSERT INTO snapshot_files (snapshot_id, path, content, size, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (snapshot_id, path)
DO UPDATE SET content=EXCLUDED.content, size=EXCLUDED.size, updated_at=EXCLUDED.updated_at
`,
		get:  `SELECT content FROM snapshot_files WHERE snapshot_id=$1 AND path=$2`,
		list: `SELECT path FROM snapshot_files WHERE snapshot_id=$1 ORDER BY path`,
	},
	DialectSQLite: {
		schema: `
CREATE TABLE IF NOT EXISTS snapshot_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id TEXT NOT NULL,
    path TEXT NOT NULL,
    content BLOB NOT NULL,
    size INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(snapshot_id, path)
);
CREATE INDEX IF NOT EXISTS idx_snapshot_files_snapshot_id ON snapshot_files(snapshot_id);
`,
		upsert: `
INSERT INTO snapshot_files (snapshot_id, path, content, size, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (snapshot_id, path)
DO UPDATE SET content=excluded.content, size=excluded.size, updated_at=excluded.updated_at
`,
		get:  `SELECT content FROM snapshot_files WHERE snapshot_id=? AND path=?`,
		list: `SELECT path FROM snapshot_files WHERE snapshot_id=? ORDER BY path`,
	},
}

// SQLStore keeps workspace files in a single table, one row per (snapshot, path).
type SQLStore struct {
	db         *sql.DB
	q          dialectQueries
	schemaOnce sync.Once
	schemaErr  error
}

func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	q, ok := queries[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	return &SQLStore{db: db, q: q}, nil
}

// OpenPostgres opens a pgx-backed database/sql pool.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSQLStore(db, DialectPostgres)
}

// OpenSQLite opens (and creates) a single-file database.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return NewSQLStore(db, DialectSQLite)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, s.q.schema)
	})
	return s.schemaErr
}

func (s *SQLStore) Put(ctx context.Context, snapshotID, path string, content []byte) error {
	id, p, err := normalize(snapshotID, path)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if content == nil {
		content = []byte{}
	}
	_, err = s.db.ExecContext(ctx, s.q.upsert, id, p, content, int64(len(content)), time.Now().UTC())
	return err
}

func (s *SQLStore) Get(ctx context.Context, snapshotID, path string) ([]byte, error) {
	id, p, err := normalize(snapshotID, path)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var content []byte
	err = s.db.QueryRowContext(ctx, s.q.get, id, p).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return content, err
}

func (s *SQLStore) List(ctx context.Context, snapshotID string) ([]string, error) {
	id, err := normalizeID(snapshotID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q.list, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make([]string, 0, 16)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetURL returns "": rows have no addressable location.
func (s *SQLStore) GetURL(context.Context, string, string) (string, error) {
	return "", nil
}
