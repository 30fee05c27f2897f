// Package index implements the SQLite-backed secondary index (spec §4.B):
// fast lookup, full-text and structural search, sync bookkeeping, and the
// transaction log TxManager coordinates against the archive.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
)

// Store wraps the SQLite connection and migration state.
type Store struct {
	db *sql.DB
}

// Open opens or creates the index database at dbPath, enabling WAL mode and
// applying any pending migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "create index directory")
	}

	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "open index database").WithContext("path", dbPath)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-65536",
		"PRAGMA mmap_size=268435456",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, apperr.Wrap(apperr.DbOpen, err, "apply pragma").WithContext("pragma", p)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return apperr.Wrap(apperr.DbMigration, err, "create migrations table")
	}

	applied := map[int]bool{}
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return apperr.Wrap(apperr.DbMigration, err, "read migration state")
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.DbMigration, err, "scan migration version")
		}
		applied[v] = true
	}
	rows.Close()

	latest := 0
	for _, m := range migrations {
		if m.version > latest {
			latest = m.version
		}
	}
	for v := range applied {
		if v > latest {
			return apperr.New(apperr.DbMigration, "index schema is newer than this binary supports").
				WithContext("stored_version", fmt.Sprintf("%d", v)).WithContext("latest_known", fmt.Sprintf("%d", latest))
		}
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return apperr.Wrap(apperr.DbMigration, err, "begin migration transaction")
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.DbMigration, err, "apply migration").WithContext("version", fmt.Sprintf("%d", m.version))
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.DbMigration, err, "record migration version")
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.DbMigration, err, "commit migration")
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for components that need raw SQL
// (e.g. FTS5 match queries with custom ranking).
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a SQL transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "commit transaction")
	}
	return nil
}
