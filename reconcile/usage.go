package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lawtime/budget-engine/budget"
)

// UsageStatus classifies one service's hoursUsed against its time entries.
type UsageStatus string

const (
	UsageOK        UsageStatus = "ok"
	UsageMismatch  UsageStatus = "mismatch"
	UsageNoSources UsageStatus = "no-sources"
)

// UsageFinding is one service's stored usage versus the sum of its
// recorded time entries.
type UsageFinding struct {
	ClientID    string          `json:"clientId"`
	ServiceID   string          `json:"serviceId"`
	ServiceName string          `json:"serviceName,omitempty"`
	Status      UsageStatus     `json:"status"`
	StoredHours decimal.Decimal `json:"storedHours"`
	EntryHours  decimal.Decimal `json:"entryHours"`
	EntryCount  int             `json:"entryCount"`
}

// UsageReport aggregates the cross-check over all clients.
type UsageReport struct {
	Services   int
	OK         int
	Mismatched int
	NoSources  int
	Findings   []UsageFinding
}

// VerifyUsage cross-checks every service's stored hoursUsed against the
// sum of its append-only time entries (minutes / 60). Services with usage
// but no entries at all are reported separately: their hours predate the
// entry log or were written through a side channel, and there is nothing
// to reconcile them against. Read-only in every mode.
func (a *Auditor) VerifyUsage(ctx context.Context) (UsageReport, error) {
	var report UsageReport

	clients, err := a.Clients.ListClients(ctx)
	if err != nil {
		return report, fmt.Errorf("scan clients: %w", err)
	}

	for _, c := range clients {
		entries, err := a.Entries.EntriesByClient(ctx, c.ID)
		if err != nil {
			return report, fmt.Errorf("entries for %s: %w", c.ID, err)
		}
		byService := make(map[string][]budget.TimeEntry)
		for _, e := range entries {
			byService[e.ServiceID] = append(byService[e.ServiceID], e)
		}

		for _, svc := range c.Services {
			report.Services++
			f := UsageFinding{
				ClientID:    c.ID,
				ServiceID:   svc.ID,
				ServiceName: svc.Name,
				StoredHours: svc.HoursUsed,
			}
			for _, e := range byService[svc.ID] {
				f.EntryHours = f.EntryHours.Add(budget.HoursFromMinutes(e.Minutes))
				f.EntryCount++
			}

			switch {
			case f.EntryCount == 0 && svc.HoursUsed.Sign() > 0:
				f.Status = UsageNoSources
				report.NoSources++
			case budget.WithinHoursTolerance(f.StoredHours, f.EntryHours):
				f.Status = UsageOK
				report.OK++
			default:
				f.Status = UsageMismatch
				report.Mismatched++
				a.logf("usage mismatch %s/%s: stored=%s entries=%s (%d entries)",
					c.ID, svc.ID, f.StoredHours, f.EntryHours, f.EntryCount)
			}
			report.Findings = append(report.Findings, f)
		}
	}

	a.logf("usage check: services=%d ok=%d mismatched=%d no-sources=%d",
		report.Services, report.OK, report.Mismatched, report.NoSources)
	return report, nil
}
