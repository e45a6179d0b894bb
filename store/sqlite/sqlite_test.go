package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawtime/budget-engine/budget"
	"github.com/lawtime/budget-engine/reconcile"
	"github.com/lawtime/budget-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func seedClient(t *testing.T, s *sqlite.Store, id string) *budget.Client {
	t.Helper()
	c := &budget.Client{
		ID:   id,
		Name: "Test Client",
		Type: budget.TypeHours,
		Services: []budget.Service{{
			ID:   "svc-1",
			Type: budget.ServiceHours,
			Packages: []budget.Package{{
				ID:             "pkg-1",
				Status:         budget.StatusActive,
				TotalHours:     d(20),
				HoursUsed:      d(5),
				HoursRemaining: d(15),
			}},
		}},
	}
	budget.RecomputeTree(c)
	require.NoError(t, s.SaveClient(context.Background(), c))
	return c
}

func entryFor(clientID string) budget.TimeEntry {
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	return budget.TimeEntry{
		ID:        "entry-1",
		ClientID:  clientID,
		ServiceID: "svc-1",
		PackageID: "pkg-1",
		Minutes:   90,
		Date:      now,
		Employee:  "adv-cohen",
		CreatedAt: now,
	}
}

// =============================================================================
// CLIENT DOCUMENT ROUND TRIP
// =============================================================================

func TestStore_SaveAndGetClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, "client-1")

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)

	assert.Equal(t, "client-1", got.ID)
	assert.Equal(t, budget.TypeHours, got.Type)
	assert.EqualValues(t, 1, got.Version)
	require.Len(t, got.Services, 1)
	require.Len(t, got.Services[0].Packages, 1)
	assert.True(t, got.Services[0].Packages[0].HoursRemaining.Equal(d(15)))
	assert.True(t, got.HoursRemaining.Equal(d(15)))
}

func TestStore_GetClient_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetClient(context.Background(), "nobody")
	assert.ErrorIs(t, err, budget.ErrClientNotFound)
}

func TestStore_GetClient_NormalizesLegacyStatuses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &budget.Client{
		ID:   "client-legacy",
		Type: budget.TypeHours,
		Services: []budget.Service{{
			ID: "svc-1",
			Packages: []budget.Package{{
				ID:             "pkg-old",
				TotalHours:     d(10),
				HoursRemaining: d(10),
				// no status: written before the lifecycle existed
			}},
		}},
	}
	require.NoError(t, s.SaveClient(ctx, c))

	got, err := s.GetClient(ctx, "client-legacy")
	require.NoError(t, err)
	assert.Equal(t, budget.StatusActive, got.Services[0].Packages[0].Status)
}

func TestStore_ListClients(t *testing.T) {
	s := newTestStore(t)
	seedClient(t, s, "client-a")
	seedClient(t, s, "client-b")

	clients, err := s.ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "client-a", clients[0].ID)
	assert.Equal(t, "client-b", clients[1].ID)
}

// =============================================================================
// CONDITIONAL COMMIT
// =============================================================================

func TestStore_CommitDeduction_WritesDocumentAndEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, "client-1")

	c, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)

	c.Services[0].Packages[0].HoursUsed = d(6.5)
	c.Services[0].Packages[0].HoursRemaining = d(13.5)
	budget.RecomputeTree(c)

	require.NoError(t, s.CommitDeduction(ctx, c, entryFor("client-1")))
	assert.EqualValues(t, 2, c.Version, "commit bumps the caller's version token")

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
	assert.True(t, got.HoursRemaining.Equal(d(13.5)))

	entries, err := s.EntriesByClient(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entry-1", entries[0].ID)
	assert.Equal(t, 90, entries[0].Minutes)
	assert.Equal(t, "adv-cohen", entries[0].Employee)
}

func TestStore_CommitDeduction_StaleVersionConflicts(t *testing.T) {
	// GIVEN: Two readers of the same document
	// WHEN: Both try to commit
	// THEN: The second commit fails with ErrVersionConflict and writes
	//       neither the document nor its entry

	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, "client-1")

	first, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	second, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)

	require.NoError(t, s.CommitDeduction(ctx, first, entryFor("client-1")))

	late := entryFor("client-1")
	late.ID = "entry-2"
	err = s.CommitDeduction(ctx, second, late)
	assert.ErrorIs(t, err, budget.ErrVersionConflict)

	entries, err := s.EntriesByClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "losing commit must not record its entry")
}

func TestStore_CommitDeduction_MissingClient(t *testing.T) {
	s := newTestStore(t)

	ghost := &budget.Client{ID: "ghost", Version: 1}
	err := s.CommitDeduction(context.Background(), ghost, entryFor("ghost"))
	assert.ErrorIs(t, err, budget.ErrClientNotFound)
}

// =============================================================================
// TRANSACTIONAL UPDATE
// =============================================================================

func TestStore_UpdateClient_WritesWhenChanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, "client-1")

	err := s.UpdateClient(ctx, "client-1", func(fresh *budget.Client) (bool, error) {
		fresh.IsCritical = true
		return true, nil
	})
	require.NoError(t, err)

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.True(t, got.IsCritical)
	assert.EqualValues(t, 2, got.Version)
}

func TestStore_UpdateClient_NoWriteWhenUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, "client-1")

	err := s.UpdateClient(ctx, "client-1", func(fresh *budget.Client) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version, "declined update must not bump the version")
}

// =============================================================================
// ENTRY QUERIES
// =============================================================================

func TestStore_EntriesByService(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, "client-1")

	c, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	require.NoError(t, s.CommitDeduction(ctx, c, entryFor("client-1")))

	other := entryFor("client-1")
	other.ID = "entry-2"
	other.ServiceID = "svc-2"
	c, err = s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	require.NoError(t, s.CommitDeduction(ctx, c, other))

	entries, err := s.EntriesByService(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entry-1", entries[0].ID)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func TestStore_SaveAndListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	earlier := reconcile.Run{
		ID:          "run-1",
		Mode:        reconcile.ModeDryRun,
		Scanned:     40,
		Mismatched:  3,
		StartedAt:   time.Date(2026, time.March, 9, 2, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, time.March, 9, 2, 0, 5, 0, time.UTC),
	}
	later := reconcile.Run{
		ID:          "run-2",
		Mode:        reconcile.ModeExecute,
		Scanned:     40,
		Mismatched:  3,
		Fixed:       3,
		BackupPath:  "/backups/reconciliation-backup-2026-03-10T02-00-00Z.json",
		StartedAt:   time.Date(2026, time.March, 10, 2, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, time.March, 10, 2, 0, 7, 0, time.UTC),
	}
	require.NoError(t, s.SaveRun(ctx, earlier))
	require.NoError(t, s.SaveRun(ctx, later))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID, "newest first")
	assert.Equal(t, reconcile.ModeExecute, runs[0].Mode)
	assert.Equal(t, 3, runs[0].Fixed)
	assert.Equal(t, later.BackupPath, runs[0].BackupPath)
	assert.True(t, runs[0].StartedAt.Equal(later.StartedAt))
	assert.Equal(t, "run-1", runs[1].ID)
	assert.Empty(t, runs[1].BackupPath)
}
