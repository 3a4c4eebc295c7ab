package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite class index. It implements bytecode.ClassLookup and
// owns the global modification stamp.
type Store struct {
	db *sql.DB

	// stamp mirrors the persisted metadata row so readers never hit SQLite.
	stamp atomic.Int64

	mu     sync.RWMutex
	loaded map[string]*loadedClass
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, loaded: make(map[string]*loadedClass)}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes and loads the persisted stamp.
// Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	stamp, err := readStamp(s.db)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.stamp.Store(stamp)
	return nil
}

// Stamp returns the global modification stamp. It advances whenever a
// commit changes at least one class.
func (s *Store) Stamp() int64 {
	return s.stamp.Load()
}

const stampKey = "modification_stamp"

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func readStamp(q queryRower) (int64, error) {
	var raw string
	err := q.QueryRow("SELECT value FROM metadata WHERE key = ?", stampKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read stamp: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stamp %q: %w", raw, err)
	}
	return n, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS classes (
  id              INTEGER PRIMARY KEY,
  name            TEXT NOT NULL UNIQUE,
  access          INTEGER NOT NULL DEFAULT 0,
  super_name      TEXT NOT NULL DEFAULT '',
  interfaces      TEXT NOT NULL DEFAULT '[]',
  source_file     TEXT NOT NULL DEFAULT '',
  hash            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS methods (
  id              INTEGER PRIMARY KEY,
  class_id        INTEGER NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  name            TEXT NOT NULL,
  descriptor      TEXT NOT NULL,
  access          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS insns (
  id              INTEGER PRIMARY KEY,
  method_id       INTEGER NOT NULL REFERENCES methods(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL,
  op              INTEGER NOT NULL,
  owner           TEXT NOT NULL DEFAULT '',
  name            TEXT NOT NULL DEFAULT '',
  descriptor      TEXT NOT NULL DEFAULT '',
  itf             BOOLEAN NOT NULL DEFAULT FALSE,
  type            TEXT NOT NULL DEFAULT '',
  var             INTEGER NOT NULL DEFAULT 0,
  int_operand     INTEGER NOT NULL DEFAULT 0,
  const_kind      TEXT NOT NULL DEFAULT '',
  const_value     TEXT NOT NULL DEFAULT '',
  label           INTEGER NOT NULL DEFAULT 0,
  line            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS local_variables (
  id              INTEGER PRIMARY KEY,
  method_id       INTEGER NOT NULL REFERENCES methods(id) ON DELETE CASCADE,
  slot            INTEGER NOT NULL,
  name            TEXT NOT NULL,
  descriptor      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_methods_class ON methods(class_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_methods_name ON methods(name);
CREATE INDEX IF NOT EXISTS idx_insns_method ON insns(method_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_insns_member ON insns(owner, name);
CREATE INDEX IF NOT EXISTS idx_local_variables_method ON local_variables(method_id);
`
