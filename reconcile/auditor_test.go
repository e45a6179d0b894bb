package reconcile_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawtime/budget-engine/budget"
	"github.com/lawtime/budget-engine/budget/store"
	"github.com/lawtime/budget-engine/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var auditNow = time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// driftedClient has packages summing to 7h remaining but stored roots
// claiming 10h and no warning flags: the classic skipped-cascade shape.
func driftedClient(id string) *budget.Client {
	return &budget.Client{
		ID:   id,
		Type: budget.TypeHours,
		Services: []budget.Service{{
			ID:   "svc-1",
			Type: budget.ServiceHours,
			Packages: []budget.Package{{
				ID:             "pkg-1",
				Status:         budget.StatusActive,
				TotalHours:     d(20),
				HoursUsed:      d(13),
				HoursRemaining: d(7),
			}},
			Totals: budget.Totals{
				TotalHours:     d(20),
				HoursUsed:      d(13),
				HoursRemaining: d(7),
			},
		}},
		Totals: budget.Totals{
			TotalHours:       d(20),
			HoursUsed:        d(10),
			HoursRemaining:   d(10),
			MinutesRemaining: d(600),
		},
	}
}

func consistentClient(id string) *budget.Client {
	c := driftedClient(id)
	budget.RecomputeTree(c)
	return c
}

func newTestAuditor(t *testing.T, clients ...*budget.Client) (*reconcile.Auditor, *store.Memory) {
	mem := store.NewMemory()
	for _, c := range clients {
		mem.SeedClient(c)
	}
	a := &reconcile.Auditor{
		Clients:   mem,
		Entries:   mem,
		BackupDir: t.TempDir(),
		Now:       func() time.Time { return auditNow },
	}
	return a, mem
}

// =============================================================================
// DRY RUN
// =============================================================================

func TestAudit_DryRun_ReportsWithoutWriting(t *testing.T) {
	// GIVEN: One drifted client and one consistent one
	// WHEN: A dry-run audit passes over them
	// THEN: The drift is reported field by field and nothing is written

	a, mem := newTestAuditor(t, driftedClient("c-drift"), consistentClient("c-ok"))
	ctx := context.Background()

	summary, err := a.Audit(ctx, reconcile.ModeDryRun)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Mismatched)
	assert.Equal(t, 0, summary.Fixed)
	assert.Empty(t, summary.BackupPath, "dry runs never write backups")

	require.Len(t, summary.Mismatches, 1)
	m := summary.Mismatches[0]
	assert.Equal(t, "c-drift", m.ClientID)
	assert.Contains(t, m.Fields, "hoursRemaining")
	assert.Contains(t, m.Fields, "minutesRemaining")
	assert.True(t, m.Current.HoursRemaining.Equal(d(10)))
	assert.True(t, m.Expected.HoursRemaining.Equal(d(7)))

	stored, err := mem.GetClient(ctx, "c-drift")
	require.NoError(t, err)
	assert.True(t, stored.HoursRemaining.Equal(d(10)), "dry run must not repair")
}

func TestAudit_ToleranceSuppressesFloatResidue(t *testing.T) {
	// Stored values within 0.01h / 0.1min of the recomputed ones are not
	// drift, they're floating-point residue from the pre-decimal era.
	c := consistentClient("c-residue")
	c.HoursRemaining = c.HoursRemaining.Add(d(0.009))
	c.MinutesRemaining = c.MinutesRemaining.Add(d(0.09))

	a, _ := newTestAuditor(t, c)

	summary, err := a.Audit(context.Background(), reconcile.ModeDryRun)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Mismatched)
}

func TestAudit_FlagDriftIsDetected(t *testing.T) {
	// Remaining hours agree but the blocked flag is stale.
	c := consistentClient("c-flag")
	c.Services[0].Packages[0].HoursUsed = d(20)
	c.Services[0].Packages[0].HoursRemaining = decimal.Zero
	c.Services[0].Packages[0].Status = budget.StatusDepleted
	budget.RecomputeTree(c)
	c.IsBlocked = false // stale

	a, _ := newTestAuditor(t, c)

	summary, err := a.Audit(context.Background(), reconcile.ModeDryRun)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Mismatched)
	assert.Equal(t, []string{"isBlocked"}, summary.Mismatches[0].Fields)
	assert.True(t, summary.Mismatches[0].Expected.IsBlocked)
}

// =============================================================================
// EXECUTE
// =============================================================================

type runRecorder struct {
	runs []reconcile.Run
}

func (r *runRecorder) SaveRun(_ context.Context, run reconcile.Run) error {
	r.runs = append(r.runs, run)
	return nil
}

func (r *runRecorder) ListRuns(_ context.Context) ([]reconcile.Run, error) {
	return r.runs, nil
}

func TestAudit_Execute_BacksUpThenRepairs(t *testing.T) {
	// GIVEN: A drifted client
	// WHEN: The audit runs in execute mode
	// THEN: A JSON backup lands on disk first, the root fields are
	//       repaired, and the run is recorded

	a, mem := newTestAuditor(t, driftedClient("c-drift"))
	recorder := &runRecorder{}
	a.Runs = recorder
	ctx := context.Background()

	summary, err := a.Audit(ctx, reconcile.ModeExecute)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mismatched)
	assert.Equal(t, 1, summary.Fixed)
	assert.Equal(t, 0, summary.Failed)

	// Backup artifact
	require.NotEmpty(t, summary.BackupPath)
	assert.Equal(t, a.BackupDir, filepath.Dir(summary.BackupPath))
	raw, err := os.ReadFile(summary.BackupPath)
	require.NoError(t, err)
	var backup struct {
		MismatchCount int                  `json:"mismatchCount"`
		Mismatches    []reconcile.Mismatch `json:"mismatches"`
	}
	require.NoError(t, json.Unmarshal(raw, &backup))
	assert.Equal(t, 1, backup.MismatchCount)
	require.Len(t, backup.Mismatches, 1)
	assert.True(t, backup.Mismatches[0].Current.HoursRemaining.Equal(d(10)),
		"backup must preserve the pre-fix values")

	// Repaired document
	stored, err := mem.GetClient(ctx, "c-drift")
	require.NoError(t, err)
	assert.True(t, stored.HoursRemaining.Equal(d(7)))
	assert.True(t, stored.MinutesRemaining.Equal(decimal.NewFromInt(420)))
	require.NotNil(t, stored.LastUpdated)
	assert.True(t, stored.LastUpdated.Equal(auditNow))

	// The service tree itself is never rewritten by the auditor.
	assert.True(t, stored.Services[0].Packages[0].HoursRemaining.Equal(d(7)))

	// Run history
	require.Len(t, recorder.runs, 1)
	run := recorder.runs[0]
	assert.Equal(t, reconcile.ModeExecute, run.Mode)
	assert.Equal(t, 1, run.Fixed)
	assert.Equal(t, summary.BackupPath, run.BackupPath)
}

func TestAudit_Execute_NothingToFixWritesNoBackup(t *testing.T) {
	a, _ := newTestAuditor(t, consistentClient("c-ok"))

	summary, err := a.Audit(context.Background(), reconcile.ModeExecute)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Mismatched)
	assert.Empty(t, summary.BackupPath)

	files, err := os.ReadDir(a.BackupDir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

// staleListStore hands the auditor's scan an outdated drifted copy while
// the underlying store already holds the repaired document, simulating a
// deduction racing the nightly sweep.
type staleListStore struct {
	*store.Memory
	stale *budget.Client
}

func (s *staleListStore) ListClients(_ context.Context) ([]*budget.Client, error) {
	return []*budget.Client{s.stale}, nil
}

func TestAudit_Execute_ConcurrentRepairIsSkipped(t *testing.T) {
	// GIVEN: The scan saw drift, but by fix time the document is consistent
	// WHEN: The fix transaction re-validates against the fresh document
	// THEN: Nothing is written; the skip counts as neither fixed nor failed

	mem := store.NewMemory()
	mem.SeedClient(consistentClient("c-race"))

	a := &reconcile.Auditor{
		Clients:   &staleListStore{Memory: mem, stale: driftedClient("c-race")},
		BackupDir: t.TempDir(),
		Now:       func() time.Time { return auditNow },
	}

	before, err := mem.GetClient(context.Background(), "c-race")
	require.NoError(t, err)

	summary, err := a.Audit(context.Background(), reconcile.ModeExecute)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mismatched, "scan still reports what it saw")
	assert.Equal(t, 0, summary.Fixed)
	assert.Equal(t, 0, summary.Failed)

	after, err := mem.GetClient(context.Background(), "c-race")
	require.NoError(t, err)
	assert.Equal(t, before, after, "skipped fix must not touch the document")
}

// =============================================================================
// USAGE CROSS-CHECK
// =============================================================================

func TestVerifyUsage_ClassifiesServices(t *testing.T) {
	// Three services: one whose entries match its stored usage, one that
	// drifted, and one with usage predating the entry log.
	matched := consistentClient("c-matched")
	entryStore := store.NewMemory()
	entryStore.SeedClient(matched)

	drifted := consistentClient("c-drifted")
	entryStore.SeedClient(drifted)

	noSources := consistentClient("c-nosources")
	entryStore.SeedClient(noSources)

	engine := budget.NewEngine(entryStore)

	// c-matched: stored 13h used; reset usage to what entries will say.
	resetServiceUsage(t, entryStore, "c-matched")
	_, err := engine.ApplyTimeEntry(context.Background(), budget.DeductionInput{
		ClientID: "c-matched",
		Ref:      budget.ServiceRef{ServiceID: "svc-1"},
		Minutes:  120,
	})
	require.NoError(t, err)

	// c-drifted: one 30-minute entry against 13 stored hours.
	_, err = engine.ApplyTimeEntry(context.Background(), budget.DeductionInput{
		ClientID: "c-drifted",
		Ref:      budget.ServiceRef{ServiceID: "svc-1"},
		Minutes:  30,
	})
	require.NoError(t, err)

	// c-nosources: stored usage, no entries at all.

	a := &reconcile.Auditor{
		Clients: entryStore,
		Entries: entryStore,
		Now:     func() time.Time { return auditNow },
	}

	report, err := a.VerifyUsage(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Services)
	assert.Equal(t, 1, report.OK)
	assert.Equal(t, 1, report.Mismatched)
	assert.Equal(t, 1, report.NoSources)

	byClient := map[string]reconcile.UsageFinding{}
	for _, f := range report.Findings {
		byClient[f.ClientID] = f
	}
	assert.Equal(t, reconcile.UsageOK, byClient["c-matched"].Status)
	assert.Equal(t, reconcile.UsageMismatch, byClient["c-drifted"].Status)
	assert.Equal(t, reconcile.UsageNoSources, byClient["c-nosources"].Status)
	assert.True(t, byClient["c-drifted"].EntryHours.Equal(d(0.5)))
}

// resetServiceUsage zeroes the stored usage so subsequent engine entries
// fully account for it.
func resetServiceUsage(t *testing.T, mem *store.Memory, clientID string) {
	t.Helper()
	err := mem.UpdateClient(context.Background(), clientID, func(fresh *budget.Client) (bool, error) {
		p := &fresh.Services[0].Packages[0]
		p.HoursUsed = decimal.Zero
		p.HoursRemaining = p.TotalHours
		budget.RecomputeTree(fresh)
		return true, nil
	})
	require.NoError(t, err)
}
