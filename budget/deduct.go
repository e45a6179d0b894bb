/*
deduct.go - The package-level deduction primitive

PURPOSE:
  Applies worked minutes against a single hour package. This is the only
  code in the repository that mutates a package, and it is deliberately
  unexported: the sole path to it is the engine's ApplyTimeEntry, which
  always follows the mutation with the full recompute cascade. No caller
  can update a leaf without refreshing the aggregates above it.

OVER-DEDUCTION POLICY:
  Deducting past a package's remaining hours is not an error. The excess
  is clamped to zero and reported as overage; the budget is allowed to go
  over and the UI surfaces overage separately from package capacity.

SEE ALSO:
  - engine.go: The only caller
  - recompute.go: The cascade that must follow every deduction
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// deductionOutcome describes what happened to the package.
type deductionOutcome struct {
	HoursDeducted  decimal.Decimal
	OverageMinutes decimal.Decimal
	Depleted       bool
}

// deductFromPackage applies minutes of work to a package in place.
// Preconditions (validated by the engine, not here): minutes > 0 and the
// package is deductible. hoursRemaining never goes negative: the deficit
// is clamped and returned as overage. A package that reaches zero flips to
// depleted exactly once and records its closing time.
func deductFromPackage(p *Package, minutes int, now time.Time) deductionOutcome {
	hours := HoursFromMinutes(minutes)

	// Legacy packages predate the status field.
	if p.Status == "" {
		p.Status = StatusActive
	}

	p.HoursUsed = p.HoursUsed.Add(hours)

	out := deductionOutcome{HoursDeducted: hours}
	remaining := p.HoursRemaining.Sub(hours)
	if remaining.Sign() <= 0 {
		if remaining.Sign() < 0 {
			out.OverageMinutes = MinutesFromHours(remaining.Neg())
		}
		p.HoursRemaining = decimal.Zero
		p.Status = StatusDepleted
		closed := now
		p.ClosedDate = &closed
		out.Depleted = true
	} else {
		p.HoursRemaining = remaining
	}
	return out
}

// findActivePackage returns the index of the package the engine may draw
// from: the first package in list order that is deductible and still has
// hours. Returns -1 when none qualifies — the caller treats that as
// ErrNoActivePackage rather than promoting a pending package itself.
func findActivePackage(pkgs []Package) int {
	for i := range pkgs {
		if pkgs[i].Status.deductible() && pkgs[i].HoursRemaining.Sign() > 0 {
			return i
		}
	}
	return -1
}
