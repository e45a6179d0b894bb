/*
store.go - Persistence interfaces for the client tree and time entries

PURPOSE:
  Defines the contract between the ledger and the document store. The
  store persists one document per client (the whole embedded tree) and an
  append-only stream of time entries. Different implementations exist for
  SQLite and in-memory storage.

CONCURRENCY CONTRACT:
  GetClient returns a private, normalized copy carrying the document
  version it was read at. CommitDeduction is a conditional write: it
  succeeds only if the stored version still matches, otherwise it returns
  ErrVersionConflict and the caller re-reads and retries. This replaces
  the last-writer-wins overwrite that historically lost concurrent
  deductions.

APPEND-ONLY ENTRIES:
  Time entries have no update or delete operation. CommitDeduction writes
  the updated client document and appends the entry atomically, so every
  successfully deducted entry corresponds to exactly one package mutation.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite document store
  - budget/store: In-memory store for tests and development

SEE ALSO:
  - engine.go: Drives the read/apply/commit loop
  - reconcile:  Uses UpdateClient for transactional repair
*/
package budget

import "context"

// ClientStore persists client documents with optimistic concurrency.
type ClientStore interface {
	// GetClient returns a normalized private copy of the client document,
	// or ErrClientNotFound. The copy's Version field records the version
	// the document was read at.
	GetClient(ctx context.Context, id string) (*Client, error)

	// ListClients returns normalized copies of every client document.
	ListClients(ctx context.Context) ([]*Client, error)

	// CommitDeduction atomically writes the updated client document and
	// appends the time entry that produced it. The write is conditional
	// on c.Version still matching the stored version; on mismatch it
	// returns ErrVersionConflict and persists nothing.
	CommitDeduction(ctx context.Context, c *Client, entry TimeEntry) error

	// UpdateClient runs fn against a freshly-read copy of the document
	// inside a storage transaction. If fn returns true the mutated copy
	// is written back; false leaves the document untouched. Used by the
	// reconciliation auditor so a repair cannot race a deduction.
	UpdateClient(ctx context.Context, id string, fn func(fresh *Client) (bool, error)) error
}

// EntryStore reads back the append-only time-entry stream.
type EntryStore interface {
	// EntriesByClient returns all entries for a client, oldest first.
	EntriesByClient(ctx context.Context, clientID string) ([]TimeEntry, error)

	// EntriesByService returns all entries recorded against one service
	// of a client, oldest first.
	EntriesByService(ctx context.Context, clientID, serviceID string) ([]TimeEntry, error)
}
