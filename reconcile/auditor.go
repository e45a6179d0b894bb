/*
Package reconcile detects and repairs drift between stored client
aggregates and the values implied by their package trees.

PURPOSE:
  The deduction engine's upward cascade was historically skipped or
  partially applied when time was written through paths that bypassed the
  engine, leaving the cached root fields (hoursRemaining,
  minutesRemaining, isBlocked, isCritical) out of sync with the leaf
  packages the UI relies on for blocking decisions. The auditor recomputes
  every client bottom-up from scratch and diffs against the stored roots.

STATE MACHINE:
  Scan -> Diff -> (Dry-report | Fix) -> Summarize

  Scan:  read every client document, no filtering.
  Diff:  recompute the four root fields on a fresh copy (trusting no
         cached intermediate) and compare with epsilon tolerances
         (0.01 hours / 0.1 minutes) to avoid floating-point false
         positives.
  Dry:   default mode; report one record per mismatched client, write
         nothing.
  Fix:   explicit opt-in. A full JSON backup of every mismatch is written
         to durable storage before any mutation. Each client is then
         re-read inside a storage transaction, the mismatch is
         re-validated against the fresh document, and only the fields
         that still differ are written, plus a lastUpdated marker. One
         client's failure is logged and counted, never aborts the batch.

SEE ALSO:
  - backup.go: The pre-write backup artifact
  - usage.go:  Cross-check of service hoursUsed against time entries
  - cmd/auditor: CLI wrapper with the dry-run/execute contract
*/
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lawtime/budget-engine/budget"
)

// Mode selects between reporting and repairing.
type Mode string

const (
	ModeDryRun  Mode = "dry-run"
	ModeExecute Mode = "execute"
)

// =============================================================================
// FINDINGS
// =============================================================================

// RootFields is the quartet of derived root values under audit.
type RootFields struct {
	HoursRemaining   decimal.Decimal `json:"hoursRemaining"`
	MinutesRemaining decimal.Decimal `json:"minutesRemaining"`
	IsBlocked        bool            `json:"isBlocked"`
	IsCritical       bool            `json:"isCritical"`
}

// Mismatch is one drifted client: stored values versus recomputed ones.
type Mismatch struct {
	ClientID string            `json:"clientId"`
	Name     string            `json:"name,omitempty"`
	Type     budget.ClientType `json:"type,omitempty"`
	Fields   []string          `json:"fields"`
	Current  RootFields        `json:"current"`
	Expected RootFields        `json:"expected"`
}

// Summary is the result of one auditor run.
type Summary struct {
	Mode       Mode
	Scanned    int
	Mismatched int
	Fixed      int
	Failed     int
	BackupPath string
	Mismatches []Mismatch
}

// Run is the persisted record of an auditor run.
type Run struct {
	ID          string    `json:"id"`
	Mode        Mode      `json:"mode"`
	Scanned     int       `json:"scanned"`
	Mismatched  int       `json:"mismatched"`
	Fixed       int       `json:"fixed"`
	Failed      int       `json:"failed"`
	BackupPath  string    `json:"backupPath,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// RunStore persists auditor run history.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context) ([]Run, error)
}

// =============================================================================
// AUDITOR
// =============================================================================

// Auditor walks all clients and reconciles their root aggregates.
type Auditor struct {
	Clients budget.ClientStore
	Entries budget.EntryStore // only needed for VerifyUsage
	Runs    RunStore          // optional run history
	Log     *log.Logger

	// BackupDir receives the pre-write backup artifact in execute mode.
	BackupDir string

	// Now is overridable for tests; defaults to time.Now (UTC).
	Now func() time.Time
}

// Audit runs the full Scan -> Diff -> (report|fix) -> Summarize pass.
// Clients are processed sequentially, one transaction at a time: backup
// ordering is predictable and a batch never half-applies in parallel.
func (a *Auditor) Audit(ctx context.Context, mode Mode) (Summary, error) {
	started := a.now()
	summary := Summary{Mode: mode}

	clients, err := a.Clients.ListClients(ctx)
	if err != nil {
		return summary, fmt.Errorf("scan clients: %w", err)
	}
	summary.Scanned = len(clients)

	for _, c := range clients {
		if m, drifted := diffClient(c); drifted {
			summary.Mismatches = append(summary.Mismatches, m)
		}
	}
	summary.Mismatched = len(summary.Mismatches)

	for _, m := range summary.Mismatches {
		a.reportMismatch(m)
	}

	if mode == ModeExecute && summary.Mismatched > 0 {
		// Backup first. If the backup cannot be written nothing gets fixed.
		path, err := WriteBackup(a.BackupDir, mode, summary.Scanned, summary.Mismatches, started)
		if err != nil {
			return summary, fmt.Errorf("write backup: %w", err)
		}
		summary.BackupPath = path
		a.logf("backup saved to %s", path)

		for _, m := range summary.Mismatches {
			if err := a.fixClient(ctx, m.ClientID); err != nil {
				a.logf("fix %s FAILED: %v", m.ClientID, err)
				summary.Failed++
				continue
			}
			summary.Fixed++
		}
	}

	a.logf("scanned=%d mismatched=%d fixed=%d failed=%d",
		summary.Scanned, summary.Mismatched, summary.Fixed, summary.Failed)

	if a.Runs != nil {
		run := Run{
			ID:          uuid.NewString(),
			Mode:        mode,
			Scanned:     summary.Scanned,
			Mismatched:  summary.Mismatched,
			Fixed:       summary.Fixed,
			Failed:      summary.Failed,
			BackupPath:  summary.BackupPath,
			StartedAt:   started,
			CompletedAt: a.now(),
		}
		if err := a.Runs.SaveRun(ctx, run); err != nil {
			a.logf("record run: %v", err)
		}
	}

	return summary, nil
}

// fixClient repairs one client inside a storage transaction. The mismatch
// is re-validated against the freshly-read document: a concurrent
// deduction may already have brought the roots back in line, in which
// case nothing is written.
func (a *Auditor) fixClient(ctx context.Context, clientID string) error {
	return a.Clients.UpdateClient(ctx, clientID, func(fresh *budget.Client) (bool, error) {
		m, drifted := diffClient(fresh)
		if !drifted {
			a.logf("fix %s skipped: no longer mismatched", clientID)
			return false, nil
		}

		// Only the fields that actually differ are touched; the service
		// tree itself is never rewritten by the auditor.
		for _, f := range m.Fields {
			switch f {
			case "hoursRemaining":
				fresh.HoursRemaining = m.Expected.HoursRemaining
			case "minutesRemaining":
				fresh.MinutesRemaining = m.Expected.MinutesRemaining
			case "isBlocked":
				fresh.IsBlocked = m.Expected.IsBlocked
			case "isCritical":
				fresh.IsCritical = m.Expected.IsCritical
			}
		}
		now := a.now()
		fresh.LastUpdated = &now
		return true, nil
	})
}

// =============================================================================
// DIFF
// =============================================================================

// diffClient recomputes the root fields from scratch on a throwaway deep
// copy and compares them with the stored values. The given document is
// never mutated: in execute mode only the differing root fields may be
// written back, never recomputed intermediates.
func diffClient(c *budget.Client) (Mismatch, bool) {
	recomputed := cloneClient(c)
	budget.RecomputeTree(recomputed)

	current := RootFields{
		HoursRemaining:   c.HoursRemaining,
		MinutesRemaining: c.MinutesRemaining,
		IsBlocked:        c.IsBlocked,
		IsCritical:       c.IsCritical,
	}
	expected := RootFields{
		HoursRemaining:   recomputed.HoursRemaining,
		MinutesRemaining: recomputed.MinutesRemaining,
		IsBlocked:        recomputed.IsBlocked,
		IsCritical:       recomputed.IsCritical,
	}

	var fields []string
	if !budget.WithinHoursTolerance(current.HoursRemaining, expected.HoursRemaining) {
		fields = append(fields, "hoursRemaining")
	}
	if !budget.WithinMinutesTolerance(current.MinutesRemaining, expected.MinutesRemaining) {
		fields = append(fields, "minutesRemaining")
	}
	if current.IsBlocked != expected.IsBlocked {
		fields = append(fields, "isBlocked")
	}
	if current.IsCritical != expected.IsCritical {
		fields = append(fields, "isCritical")
	}
	if len(fields) == 0 {
		return Mismatch{}, false
	}

	return Mismatch{
		ClientID: c.ID,
		Name:     c.Name,
		Type:     c.Type,
		Fields:   fields,
		Current:  current,
		Expected: expected,
	}, true
}

func (a *Auditor) reportMismatch(m Mismatch) {
	a.logf("mismatch %s (%s) [type: %s] fields: %v", m.ClientID, m.Name, m.Type, m.Fields)
	for _, f := range m.Fields {
		switch f {
		case "hoursRemaining":
			a.logf("  hoursRemaining:   current=%s expected=%s", m.Current.HoursRemaining, m.Expected.HoursRemaining)
		case "minutesRemaining":
			a.logf("  minutesRemaining: current=%s expected=%s", m.Current.MinutesRemaining, m.Expected.MinutesRemaining)
		case "isBlocked":
			a.logf("  isBlocked:        current=%t expected=%t", m.Current.IsBlocked, m.Expected.IsBlocked)
		case "isCritical":
			a.logf("  isCritical:       current=%t expected=%t", m.Current.IsCritical, m.Expected.IsCritical)
		}
	}
}

func (a *Auditor) logf(format string, args ...any) {
	if a.Log != nil {
		a.Log.Printf(format, args...)
	}
}

func (a *Auditor) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// cloneClient deep-copies a document the same way the stores do, so the
// recomputation scratch copy shares nothing with the original tree.
func cloneClient(c *budget.Client) *budget.Client {
	raw, err := json.Marshal(c)
	if err != nil {
		panic("reconcile: client document not serializable: " + err.Error())
	}
	var out budget.Client
	if err := json.Unmarshal(raw, &out); err != nil {
		panic("reconcile: client document not deserializable: " + err.Error())
	}
	out.Version = c.Version
	return &out
}
