/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements budget.ClientStore, budget.EntryStore, and reconcile.RunStore
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

STORAGE MODEL:
  Clients are stored as full JSON documents (the service/stage/package tree
  is deeply nested and read/written as a unit), with the identity and
  versioning columns pulled out alongside for querying and conditional
  writes. Time entries are a flat append-only table: no UPDATE, no DELETE,
  ever. Reconciliation runs keep the audit trail of the nightly sweep.

KEY TABLES:
  clients:             One row per client, doc JSON + version counter
  time_entries:        Immutable log of every deduction
  reconciliation_runs: History of auditor passes

OPTIMISTIC CONCURRENCY:
  CommitDeduction writes with `WHERE id = ? AND version = ?`. Zero rows
  affected means another writer got there first; the caller sees
  budget.ErrVersionConflict and re-reads. UpdateClient wraps a
  read-modify-write in a single database transaction instead, for callers
  (the reconciliation auditor) that must re-validate against the freshest
  document.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := budget.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - budget/store.go: Interface definitions
  - budget/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lawtime/budget-engine/budget"
	"github.com/lawtime/budget-engine/reconcile"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Clients (one JSON document per client, versioned)
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		client_type TEXT NOT NULL DEFAULT '',
		doc TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		last_updated TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_clients_type
		ON clients(client_type);

	-- Time entries (append-only log of deductions)
	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		stage_id TEXT,
		package_id TEXT,
		minutes INTEGER NOT NULL,
		entry_date TEXT NOT NULL,
		employee TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_time_entries_client
		ON time_entries(client_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_time_entries_service
		ON time_entries(client_id, service_id, created_at);

	-- Reconciliation runs (auditor history)
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		scanned INTEGER NOT NULL DEFAULT 0,
		mismatched INTEGER NOT NULL DEFAULT 0,
		fixed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		backup_path TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLIENT STORE (budget.ClientStore interface)
// =============================================================================

// GetClient returns one client document by ID.
func (s *Store) GetClient(ctx context.Context, id string) (*budget.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getClient(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getClient(ctx context.Context, db querier, id string) (*budget.Client, error) {
	var (
		doc         string
		version     int64
		lastUpdated sql.NullString
	)

	err := db.QueryRowContext(ctx,
		"SELECT doc, version, last_updated FROM clients WHERE id = ?",
		id,
	).Scan(&doc, &version, &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, &budget.NotFoundError{Kind: "client", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client %s: %w", id, err)
	}

	return decodeClient(id, doc, version, lastUpdated)
}

func decodeClient(id, doc string, version int64, lastUpdated sql.NullString) (*budget.Client, error) {
	var c budget.Client
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("failed to decode client %s: %w", id, err)
	}
	c.ID = id
	c.Version = version
	if lastUpdated.Valid && c.LastUpdated == nil {
		if t, err := time.Parse(time.RFC3339, lastUpdated.String); err == nil {
			c.LastUpdated = &t
		}
	}
	c.Normalize()
	return &c, nil
}

// ListClients returns every client document.
func (s *Store) ListClients(ctx context.Context) ([]*budget.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, doc, version, last_updated FROM clients ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*budget.Client
	for rows.Next() {
		var (
			id          string
			doc         string
			version     int64
			lastUpdated sql.NullString
		)
		if err := rows.Scan(&id, &doc, &version, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		c, err := decodeClient(id, doc, version, lastUpdated)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// SaveClient inserts or replaces a client document. The version counter is
// reset to 1 on insert and bumped on replace; intended for seeding and
// imports, not for the deduction path.
func (s *Store) SaveClient(ctx context.Context, c *budget.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode client %s: %w", c.ID, err)
	}

	query := `
		INSERT INTO clients (id, name, client_type, doc, version, last_updated)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			client_type = excluded.client_type,
			doc = excluded.doc,
			version = clients.version + 1,
			last_updated = excluded.last_updated
	`

	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.Name, string(c.Type), string(doc), formatTimePtr(c.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("failed to save client %s: %w", c.ID, err)
	}
	return nil
}

// CommitDeduction persists a deducted client and its time entry atomically.
// The write is conditional on the version the client was read at; a
// concurrent writer surfaces as budget.ErrVersionConflict so the engine
// can re-read and retry.
func (s *Store) CommitDeduction(ctx context.Context, c *budget.Client, entry budget.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode client %s: %w", c.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE clients
		SET doc = ?, version = version + 1, last_updated = ?, name = ?, client_type = ?
		WHERE id = ? AND version = ?
	`, string(doc), formatTimePtr(c.LastUpdated), c.Name, string(c.Type), c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("failed to update client %s: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		// Either the document moved under us or it is gone entirely.
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM clients WHERE id = ?", c.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check client %s: %w", c.ID, err)
		}
		if exists == 0 {
			return &budget.NotFoundError{Kind: "client", ID: c.ID}
		}
		return budget.ErrVersionConflict
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deduction: %w", err)
	}
	c.Version++
	return nil
}

// UpdateClient runs fn against the freshest copy of the client inside one
// database transaction. fn returning false writes nothing.
func (s *Store) UpdateClient(ctx context.Context, id string, fn func(fresh *budget.Client) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	c, err := getClient(ctx, tx, id)
	if err != nil {
		return err
	}

	changed, err := fn(c)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode client %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE clients
		SET doc = ?, version = version + 1, last_updated = ?, name = ?, client_type = ?
		WHERE id = ?
	`, string(doc), formatTimePtr(c.LastUpdated), c.Name, string(c.Type), id); err != nil {
		return fmt.Errorf("failed to update client %s: %w", id, err)
	}

	return tx.Commit()
}

// =============================================================================
// ENTRY STORE (budget.EntryStore interface)
// =============================================================================

func insertEntry(ctx context.Context, tx *sql.Tx, entry budget.TimeEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO time_entries
		(id, client_id, service_id, stage_id, package_id, minutes, entry_date, employee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.ClientID,
		entry.ServiceID,
		nullString(entry.StageID),
		nullString(entry.PackageID),
		entry.Minutes,
		entry.Date.UTC().Format(time.RFC3339),
		nullString(entry.Employee),
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record time entry: %w", err)
	}
	return nil
}

// EntriesByClient returns every time entry for a client, oldest first.
func (s *Store) EntriesByClient(ctx context.Context, clientID string) ([]budget.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, client_id, service_id, stage_id, package_id, minutes, entry_date, employee, created_at
		FROM time_entries
		WHERE client_id = ?
		ORDER BY created_at ASC
	`
	return s.queryEntries(ctx, query, clientID)
}

// EntriesByService returns every time entry for one service of a client.
func (s *Store) EntriesByService(ctx context.Context, clientID, serviceID string) ([]budget.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, client_id, service_id, stage_id, package_id, minutes, entry_date, employee, created_at
		FROM time_entries
		WHERE client_id = ? AND service_id = ?
		ORDER BY created_at ASC
	`
	return s.queryEntries(ctx, query, clientID, serviceID)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]budget.TimeEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}
	defer rows.Close()

	var entries []budget.TimeEntry
	for rows.Next() {
		var (
			e                  budget.TimeEntry
			stageID, packageID sql.NullString
			employee           sql.NullString
			entryDate          string
			createdAt          string
		)
		if err := rows.Scan(
			&e.ID, &e.ClientID, &e.ServiceID, &stageID, &packageID,
			&e.Minutes, &entryDate, &employee, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		e.StageID = stageID.String
		e.PackageID = packageID.String
		e.Employee = employee.String
		e.Date, _ = time.Parse(time.RFC3339, entryDate)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// RECONCILIATION RUNS (reconcile.RunStore interface)
// =============================================================================

// SaveRun records one auditor pass.
func (s *Store) SaveRun(ctx context.Context, r reconcile.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, mode, scanned, mismatched, fixed, failed, backup_path, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, string(r.Mode), r.Scanned, r.Mismatched, r.Fixed, r.Failed,
		nullString(r.BackupPath),
		r.StartedAt.UTC().Format(time.RFC3339),
		r.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// ListRuns returns all auditor runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]reconcile.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, scanned, mismatched, fixed, failed, backup_path, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []reconcile.Run
	for rows.Next() {
		var (
			r                      reconcile.Run
			mode                   string
			backupPath             sql.NullString
			startedAt, completedAt string
		)
		if err := rows.Scan(
			&r.ID, &mode, &r.Scanned, &r.Mismatched, &r.Fixed, &r.Failed,
			&backupPath, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		r.Mode = reconcile.Mode(mode)
		r.BackupPath = backupPath.String
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.CompletedAt, _ = time.Parse(time.RFC3339, completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"time_entries", "reconciliation_runs", "clients"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
