/*
recompute.go - Bottom-up aggregate recomputation

PURPOSE:
  Every hours/minutes field above the package level is a cache. These
  functions are the single invalidation contract for that cache: any
  mutation path that touches a package must run them, leaf upward, before
  the document is persisted or returned.

DETERMINISM:
  Each function is a pure function of the current tree state. Calling it
  twice with no intervening deduction yields identical output, which is
  what lets the reconciliation auditor recompute everything from scratch
  and diff against stored values.

SUM RULES:
  hoursRemaining sums only packages whose status counts toward remaining
  (active, pending, or the legacy empty status); depleted packages
  contribute zero. hoursUsed and totalHours sum all packages. Minutes
  fields are always round(hours * 60).

LEGACY FALLBACK:
  A stage or service with no packages at all predates the package model;
  its stored hour fields are kept verbatim and only the minutes fields are
  re-derived.

SEE ALSO:
  - engine.go: Runs the cascade after each deduction
  - reconcile: Runs RecomputeTree on a fresh copy to detect drift
*/
package budget

import "github.com/shopspring/decimal"

// RecomputeStage refreshes a stage's aggregates from its packages.
func RecomputeStage(st *Stage) {
	recomputeFromPackages(&st.Totals, st.Packages)
}

// RecomputeService refreshes a service's aggregates. Legal-procedure
// services sum their stages (each assumed already recomputed); flat
// services sum their own packages.
func RecomputeService(svc *Service) {
	switch {
	case svc.Type == ServiceLegalProcedure && len(svc.Stages) > 0:
		total, used, remaining := decimal.Zero, decimal.Zero, decimal.Zero
		for i := range svc.Stages {
			total = total.Add(svc.Stages[i].TotalHours)
			used = used.Add(svc.Stages[i].HoursUsed)
			remaining = remaining.Add(svc.Stages[i].HoursRemaining)
		}
		svc.TotalHours = total
		svc.HoursUsed = used
		svc.HoursRemaining = remaining
		deriveMinutes(&svc.Totals)
	case len(svc.Packages) > 0:
		recomputeFromPackages(&svc.Totals, svc.Packages)
	default:
		// Legacy service with no package model: hours stay verbatim.
		deriveMinutes(&svc.Totals)
	}
}

// RecomputeClient refreshes the root aggregates and the budget-warning
// flags. All services are summed regardless of type; the flags are only
// ever set for hours-billed clients. Staged clients intentionally carry no
// over-budget signal.
func RecomputeClient(c *Client) {
	total, used, remaining := decimal.Zero, decimal.Zero, decimal.Zero
	for i := range c.Services {
		total = total.Add(c.Services[i].TotalHours)
		used = used.Add(c.Services[i].HoursUsed)
		remaining = remaining.Add(c.Services[i].HoursRemaining)
	}
	c.TotalHours = total
	c.HoursUsed = used
	c.HoursRemaining = remaining
	deriveMinutes(&c.Totals)

	if c.Type.IsHours() {
		c.IsBlocked = remaining.Sign() <= 0
		c.IsCritical = !c.IsBlocked &&
			remaining.Sign() > 0 &&
			remaining.LessThanOrEqual(decimal.NewFromInt(5))
	} else {
		c.IsBlocked = false
		c.IsCritical = false
	}
}

// RecomputeTree refreshes the entire tree leaf upward, trusting no cached
// intermediate field. This is the recomputation the auditor applies fresh
// when checking a stored document for drift.
func RecomputeTree(c *Client) {
	for si := range c.Services {
		svc := &c.Services[si]
		for sti := range svc.Stages {
			RecomputeStage(&svc.Stages[sti])
		}
		RecomputeService(svc)
	}
	RecomputeClient(c)
}

func recomputeFromPackages(t *Totals, pkgs []Package) {
	if len(pkgs) == 0 {
		// Legacy record: stored hours are authoritative.
		deriveMinutes(t)
		return
	}

	total, used, remaining := decimal.Zero, decimal.Zero, decimal.Zero
	explicitTotals := false
	for i := range pkgs {
		p := &pkgs[i]
		if p.TotalHours.Sign() != 0 {
			explicitTotals = true
		}
		total = total.Add(p.TotalHours)
		used = used.Add(p.HoursUsed)
		if p.Status.countsTowardRemaining() {
			remaining = remaining.Add(p.HoursRemaining)
		}
	}

	// Packages imported before totals were tracked carry no explicit
	// capacity; the original stage/service total is preserved then.
	if explicitTotals {
		t.TotalHours = total
	}
	t.HoursUsed = used
	t.HoursRemaining = remaining
	deriveMinutes(t)
}

func deriveMinutes(t *Totals) {
	t.MinutesUsed = MinutesFromHours(t.HoursUsed)
	t.MinutesRemaining = MinutesFromHours(t.HoursRemaining)
}
