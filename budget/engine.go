/*
engine.go - The time-entry state transition

PURPOSE:
  Applies a submitted time entry against a client's billing tree: resolves
  the target service/stage, draws the hours from the single active
  package, cascades the recomputation upward, and persists the result.
  This is the only write path through which packages change.

ALGORITHM (one ApplyTimeEntry call):
  1. Validate input (positive minutes, service reference present).
  2. Read the client document (normalized, versioned).
  3. Resolve service, then stage for legal procedures.
  4. Find the active package; hard stop if none.
  5. Deduct from the package (clamped, see deduct.go).
  6. Recompute Stage -> Service -> Client, strictly in that order: each
     step reads the previous step's output.
  7. Conditionally write the document and append the entry atomically;
     on version conflict, re-read and retry from step 2.

FAILURE SEMANTICS:
  Any failure before the commit leaves stored data untouched — steps 3-6
  operate on a private copy. Expected failures (validation, not-found,
  no active package) come back as typed errors, never panics; only
  storage faults propagate unwrapped.

SEE ALSO:
  - deduct.go: The leaf primitive
  - recompute.go: The cascade
  - store.go: The optimistic-concurrency contract
*/
package budget

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// defaultCommitRetries bounds how many times a conflicting commit is
// retried before ErrVersionConflict surfaces to the caller.
const defaultCommitRetries = 3

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies time entries to client budgets.
type Engine struct {
	Store ClientStore

	// Clock is overridable for tests; defaults to time.Now (UTC).
	Clock func() time.Time

	// MaxRetries bounds commit retries on version conflict.
	MaxRetries int
}

// NewEngine creates an engine bound to a client store.
func NewEngine(store ClientStore) *Engine {
	return &Engine{
		Store:      store,
		Clock:      func() time.Time { return time.Now().UTC() },
		MaxRetries: defaultCommitRetries,
	}
}

// DeductionInput is a submitted time entry before resolution.
type DeductionInput struct {
	ClientID string
	Ref      ServiceRef
	Minutes  int
	Date     time.Time
	Employee string

	// EntryID is generated when empty. Callers that retry submissions can
	// supply their own for idempotent replays.
	EntryID string
}

// DeductionResult confirms where the hours landed.
type DeductionResult struct {
	EntryID   string
	ClientID  string
	ServiceID string
	StageID   string
	PackageID string

	// OverageMinutes is nonzero when the deduction exceeded the package's
	// remaining capacity and the excess was absorbed. The UI surfaces it
	// separately from package capacity.
	OverageMinutes decimal.Decimal

	// Root fields after the cascade, for budget-warning banners.
	HoursRemaining   decimal.Decimal
	MinutesRemaining decimal.Decimal
	IsBlocked        bool
	IsCritical       bool
}

// ApplyTimeEntry validates, deducts, recomputes and persists a time entry.
func (e *Engine) ApplyTimeEntry(ctx context.Context, in DeductionInput) (DeductionResult, error) {
	if in.Minutes <= 0 {
		return DeductionResult{}, ErrInvalidMinutes
	}
	if in.Ref.ServiceID == "" {
		return DeductionResult{}, ErrServiceRequired
	}

	retries := e.MaxRetries
	if retries <= 0 {
		retries = defaultCommitRetries
	}

	for attempt := 0; ; attempt++ {
		client, err := e.Store.GetClient(ctx, in.ClientID)
		if err != nil {
			return DeductionResult{}, err
		}
		if len(client.Services) == 0 {
			return DeductionResult{}, ErrNoServices
		}

		now := e.now()
		res, err := applyDeduction(client, in.Ref, in.Minutes, now)
		if err != nil {
			return DeductionResult{}, err
		}

		entry := TimeEntry{
			ID:        in.EntryID,
			ClientID:  in.ClientID,
			ServiceID: res.ServiceID,
			StageID:   res.StageID,
			PackageID: res.PackageID,
			Minutes:   in.Minutes,
			Date:      in.Date,
			Employee:  in.Employee,
			CreatedAt: now,
		}
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.Date.IsZero() {
			entry.Date = now
		}

		if err := e.Store.CommitDeduction(ctx, client, entry); err != nil {
			if errors.Is(err, ErrVersionConflict) && attempt < retries {
				continue
			}
			return DeductionResult{}, err
		}

		res.EntryID = entry.ID
		res.ClientID = in.ClientID
		res.HoursRemaining = client.HoursRemaining
		res.MinutesRemaining = client.MinutesRemaining
		res.IsBlocked = client.IsBlocked
		res.IsCritical = client.IsCritical
		return res, nil
	}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

// =============================================================================
// PURE APPLICATION - mutates the given private copy only
// =============================================================================

// applyDeduction resolves the target, deducts, and runs the upward
// cascade on the in-memory client. Package mutation and aggregate refresh
// are inseparable here: there is no way to return from this function with
// a touched leaf and stale roots.
func applyDeduction(c *Client, ref ServiceRef, minutes int, now time.Time) (DeductionResult, error) {
	svcIdx := -1
	for i := range c.Services {
		if c.Services[i].ID == ref.ServiceID {
			svcIdx = i
			break
		}
	}
	if svcIdx < 0 {
		return DeductionResult{}, &NotFoundError{Kind: "service", ID: ref.ServiceID}
	}
	svc := &c.Services[svcIdx]

	var stage *Stage
	if svc.Type == ServiceLegalProcedure {
		if ref.StageID == "" {
			return DeductionResult{}, ErrStageRequired
		}
		for i := range svc.Stages {
			if svc.Stages[i].ID == ref.StageID {
				stage = &svc.Stages[i]
				break
			}
		}
		if stage == nil {
			return DeductionResult{}, &NotFoundError{Kind: "stage", ID: ref.StageID}
		}
	}

	pkgs := svc.Packages
	if stage != nil {
		pkgs = stage.Packages
	}
	idx := findActivePackage(pkgs)
	if idx < 0 {
		return DeductionResult{}, ErrNoActivePackage
	}

	outcome := deductFromPackage(&pkgs[idx], minutes, now)

	if stage != nil {
		RecomputeStage(stage)
	}
	RecomputeService(svc)
	RecomputeClient(c)
	c.LastUpdated = &now

	res := DeductionResult{
		ServiceID:      svc.ID,
		PackageID:      pkgs[idx].ID,
		OverageMinutes: outcome.OverageMinutes,
	}
	if stage != nil {
		res.StageID = stage.ID
	}
	return res, nil
}
