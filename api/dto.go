/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines the JSON shapes exchanged with clients of the API. DTOs are kept
  separate from the domain types so the wire format can stay stable while
  the domain evolves.

NAMING QUIRK (timesheet contract):
  The timesheet system that submits entries predates the stage concept, so
  its field names do not match the tree. `parentServiceId` carries the
  service ID; `serviceId` carries the STAGE ID and is required only for
  legal_procedure submissions. The handlers translate; nothing below the
  API layer ever sees these names.

SEE ALSO:
  - handlers.go: Handlers that produce/consume these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/lawtime/budget-engine/budget"
	"github.com/lawtime/budget-engine/reconcile"
)

// =============================================================================
// TIME ENTRY SUBMISSION
// =============================================================================

// TimeEntryRequest is a deduction submitted by the timesheet system.
type TimeEntryRequest struct {
	ClientID        string `json:"clientId"`
	ServiceType     string `json:"serviceType"`
	ParentServiceID string `json:"parentServiceId,omitempty"`
	ServiceID       string `json:"serviceId"`
	Minutes         int    `json:"minutes"`
	Date            string `json:"date,omitempty"` // YYYY-MM-DD
	Employee        string `json:"employee,omitempty"`
}

// TimeEntryResponse reports the outcome of a deduction.
type TimeEntryResponse struct {
	Success          bool            `json:"success"`
	EntryID          string          `json:"entryId,omitempty"`
	PackageID        string          `json:"packageId,omitempty"`
	StageID          string          `json:"stageId,omitempty"`
	ServiceID        string          `json:"serviceId,omitempty"`
	OverageMinutes   decimal.Decimal `json:"overageMinutes"`
	HoursRemaining   decimal.Decimal `json:"hoursRemaining"`
	MinutesRemaining decimal.Decimal `json:"minutesRemaining"`
	IsBlocked        bool            `json:"isBlocked"`
	IsCritical       bool            `json:"isCritical"`
}

// =============================================================================
// READ MODELS
// =============================================================================

// ClientSummaryDTO is the list view of a client: identity plus the derived
// root aggregates, without the full service tree.
type ClientSummaryDTO struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             budget.ClientType `json:"type"`
	TotalHours       decimal.Decimal   `json:"totalHours"`
	HoursUsed        decimal.Decimal   `json:"hoursUsed"`
	HoursRemaining   decimal.Decimal   `json:"hoursRemaining"`
	MinutesRemaining decimal.Decimal   `json:"minutesRemaining"`
	IsBlocked        bool              `json:"isBlocked"`
	IsCritical       bool              `json:"isCritical"`
	LastUpdated      string            `json:"lastUpdated,omitempty"`
}

// TimeEntryDTO is one row of a client's deduction history.
type TimeEntryDTO struct {
	ID        string `json:"id"`
	ServiceID string `json:"serviceId"`
	StageID   string `json:"stageId,omitempty"`
	PackageID string `json:"packageId,omitempty"`
	Minutes   int    `json:"minutes"`
	Date      string `json:"date"`
	Employee  string `json:"employee,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// RunDTO is one reconciliation auditor run.
type RunDTO struct {
	ID          string         `json:"id"`
	Mode        reconcile.Mode `json:"mode"`
	Scanned     int            `json:"scanned"`
	Mismatched  int            `json:"mismatched"`
	Fixed       int            `json:"fixed"`
	Failed      int            `json:"failed"`
	BackupPath  string         `json:"backupPath,omitempty"`
	StartedAt   string         `json:"startedAt"`
	CompletedAt string         `json:"completedAt"`
}

// ErrorResponse is the standard error shape. Error is the user-facing
// text (Hebrew for expected conditions); Details carries the machine error
// for logs and debugging. Success is always false here; it lets timesheet
// callers branch on one field for both outcomes.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
