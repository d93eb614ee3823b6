package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type sqlQueries struct {
	create string
	load   string
	save   string
}

var queries = map[Dialect]sqlQueries{
	DialectSQLite: {
		create: `
CREATE TABLE IF NOT EXISTS documents (
	name TEXT PRIMARY KEY,
	contents BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);`,
		load: `SELECT contents FROM documents WHERE name = ?`,
		save: `
INSERT INTO documents (name, contents, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET contents = excluded.contents, updated_at = excluded.updated_at`,
	},
	DialectPostgres: {
		create: `
CREATE TABLE IF NOT EXISTS documents (
	name TEXT PRIMARY KEY,
	contents BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`,
		load: `SELECT contents FROM documents WHERE name = $1`,
		save: `
INSERT INTO documents (name, contents, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET contents = EXCLUDED.contents, updated_at = EXCLUDED.updated_at`,
	},
}

// SQLStore keeps documents in a single table of a SQL database.
type SQLStore struct {
	db *sql.DB
	q  sqlQueries
}

// OpenSQLite opens (or creates) a sqlite database at path, creating parent directories.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// a single connection keeps writers from tripping over sqlite's file lock
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// OpenPostgres opens a postgres connection pool through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	q, ok := queries[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	return &SQLStore{db: db, q: q}, nil
}

// Init creates the documents table if needed.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.create); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, name string) ([]byte, error) {
	var contents []byte
	err := s.db.QueryRowContext(ctx, s.q.load, name).Scan(&contents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return contents, nil
}

func (s *SQLStore) Save(ctx context.Context, name string, contents []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.save, name, contents, time.Now().UTC()); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Persistence = (*SQLStore)(nil)
