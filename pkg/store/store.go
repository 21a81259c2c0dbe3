// Package store persists the reconciliation state in SQLite: the processed
// extract markers, the per-permit current state, the sparse content-hashed
// snapshot history, the SCD2 ownership periods, and the cached external
// transfer and license-detail records.
//
// Temporal invariants are enforced structurally where SQLite can express
// them: a unique index over (permit_key, owner_identity, valid_from) makes
// period opening idempotent, and a partial unique index allows at most one
// open period per permit.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_date TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	ingested_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS permit_current (
	permit_key TEXT PRIMARY KEY,
	owner_orgnr TEXT,
	owner_name TEXT,
	owner_identity TEXT NOT NULL,
	snapshot_date TEXT NOT NULL,
	row_json TEXT NOT NULL,
	grunnrente_pliktig INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS permit_snapshot (
	snapshot_date TEXT NOT NULL,
	permit_key TEXT NOT NULL,
	row_json TEXT NOT NULL,
	row_hash TEXT NOT NULL,
	PRIMARY KEY (snapshot_date, permit_key)
);

CREATE TABLE IF NOT EXISTS ownership_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	permit_key TEXT NOT NULL,
	owner_orgnr TEXT,
	owner_name TEXT,
	owner_identity TEXT NOT NULL,
	valid_from TEXT NOT NULL,
	valid_to TEXT,
	tidsbegrenset TEXT,
	registered_from TEXT,
	registered_to TEXT,
	transfer_id INTEGER
);

CREATE TABLE IF NOT EXISTS license_transfers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	permit_key TEXT NOT NULL,
	transfer_key TEXT,
	journal_date TEXT,
	updated_at TEXT,
	current_owner_orgnr TEXT,
	current_owner_name TEXT,
	raw_json TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS license_details (
	permit_key TEXT PRIMARY KEY,
	original_owner_orgnr TEXT,
	original_owner_name TEXT,
	prod_area_code INTEGER,
	prod_area_name TEXT,
	prod_area_status TEXT,
	raw_json TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_current_owner ON permit_current(owner_orgnr);
CREATE INDEX IF NOT EXISTS idx_current_owner_ident ON permit_current(owner_identity);

CREATE INDEX IF NOT EXISTS idx_snap_key ON permit_snapshot(permit_key, snapshot_date);
CREATE INDEX IF NOT EXISTS idx_snap_hash ON permit_snapshot(permit_key, row_hash);

CREATE INDEX IF NOT EXISTS idx_ownerhist_key ON ownership_history(permit_key, valid_from);
CREATE INDEX IF NOT EXISTS idx_ownerhist_owner ON ownership_history(owner_orgnr, valid_from);
CREATE INDEX IF NOT EXISTS idx_ownerhist_ident ON ownership_history(owner_identity, valid_from);

CREATE INDEX IF NOT EXISTS idx_transfers_permit ON license_transfers(permit_key, journal_date);
CREATE INDEX IF NOT EXISTS idx_transfers_owner ON license_transfers(current_owner_orgnr, journal_date);

-- Re-applying a day must not duplicate a period start.
CREATE UNIQUE INDEX IF NOT EXISTS uq_ownership_period_start
ON ownership_history(permit_key, owner_identity, valid_from);

-- At most one open ownership period per permit.
CREATE UNIQUE INDEX IF NOT EXISTS uq_one_open_period_per_permit
ON ownership_history(permit_key)
WHERE valid_to IS NULL;

-- The pending-enrichment set: open org-owned periods without a registration
-- date, queried by the transfer backfill instead of scanning the table.
CREATE INDEX IF NOT EXISTS idx_ownerhist_pending_registration
ON ownership_history(permit_key)
WHERE valid_to IS NULL AND registered_from IS NULL AND owner_orgnr IS NOT NULL;
`

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx, letting
// every query run either standalone or inside a per-day transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the database handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single-writer batch model; one connection avoids SQLITE_BUSY between
	// the pool's connections.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	return New(db)
}

// New wraps an existing handle and applies the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for the invariant validator, which runs its
// checks as plain SQL over the full persisted state.
func (s *Store) DB() *sql.DB { return s.db }

// BeginTx starts the single atomic transaction one applied day executes in.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// Queries returns query access bound to the plain handle (autocommit).
func (s *Store) Queries() *Queries { return &Queries{db: s.db} }

// WithTx returns query access bound to tx.
func (s *Store) WithTx(tx *sql.Tx) *Queries { return &Queries{db: tx} }

// Queries executes the store's statements against a DBTX.
type Queries struct {
	db DBTX
}

// NewQueries binds queries to any DBTX. Tests use this with mocked handles.
func NewQueries(db DBTX) *Queries { return &Queries{db: db} }

// WipeDerived clears every table derived from extracts. A full rebuild
// replays all extracts into an empty store; the external caches
// (license_transfers, license_details) survive since they are append-only
// copies of upstream state, not derived from extracts.
func (q *Queries) WipeDerived(ctx context.Context) error {
	for _, table := range []string{"permit_current", "ownership_history", "permit_snapshot", "snapshots"} {
		if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table+";"); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return nil
}

// nullable maps "" to NULL, matching how the original schema stores absent
// owner fields.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableFrom(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func strOrNil(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
