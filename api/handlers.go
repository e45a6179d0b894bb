/*
handlers.go - HTTP API handlers for the time-budget engine

PURPOSE:
  Exposes the budget engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Time entries:
    POST   /api/time-entries              Apply a deduction

  Clients:
    GET    /api/clients                   List client summaries
    GET    /api/clients/{id}              Full client document
    GET    /api/clients/{id}/entries      Deduction history

  Reconciliation:
    GET    /api/reconciliation/runs       Auditor run history

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, stores)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Client/service/stage not found
  - 409: Concurrent write conflict after retries
  - 422: No active package to deduct from
  - 500: Internal errors
  The `error` field carries the Hebrew user-facing message for expected
  conditions; `details` carries the machine error.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lawtime/budget-engine/budget"
	"github.com/lawtime/budget-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *budget.Engine
	Clients budget.ClientStore
	Entries budget.EntryStore
	Runs    reconcile.RunStore
}

// NewHandler creates a new handler around the engine and its stores.
func NewHandler(engine *budget.Engine, clients budget.ClientStore, entries budget.EntryStore, runs reconcile.RunStore) *Handler {
	return &Handler{
		Engine:  engine,
		Clients: clients,
		Entries: entries,
		Runs:    runs,
	}
}

// =============================================================================
// TIME ENTRY HANDLERS
// =============================================================================

// SubmitTimeEntry applies a timesheet deduction to a client's budget.
// POST /api/time-entries
func (h *Handler) SubmitTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req TimeEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input, err := toDeductionInput(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Engine.ApplyTimeEntry(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TimeEntryResponse{
		Success:          true,
		EntryID:          result.EntryID,
		PackageID:        result.PackageID,
		StageID:          result.StageID,
		ServiceID:        result.ServiceID,
		OverageMinutes:   result.OverageMinutes,
		HoursRemaining:   result.HoursRemaining,
		MinutesRemaining: result.MinutesRemaining,
		IsBlocked:        result.IsBlocked,
		IsCritical:       result.IsCritical,
	})
}

// toDeductionInput translates the timesheet wire contract into the
// engine's input. See the NAMING QUIRK note in dto.go: for
// legal_procedure submissions the wire serviceId is really a stage ID.
func toDeductionInput(req TimeEntryRequest) (budget.DeductionInput, error) {
	input := budget.DeductionInput{
		ClientID: req.ClientID,
		Minutes:  req.Minutes,
		Employee: req.Employee,
	}

	if req.ServiceType == string(budget.TypeLegalProcedure) {
		input.Ref = budget.ServiceRef{ServiceID: req.ParentServiceID, StageID: req.ServiceID}
	} else {
		// Flat submissions carry the service in parentServiceId too; very
		// old timesheet clients put it in serviceId instead.
		svc := req.ParentServiceID
		if svc == "" {
			svc = req.ServiceID
		}
		input.Ref = budget.ServiceRef{ServiceID: svc}
	}

	if req.Date != "" {
		t, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return input, budget.ErrInvalidDate
		}
		input.Date = t
	}

	return input, nil
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns summary rows for every client.
// GET /api/clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Clients.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientSummaryDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientSummary(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClient returns the full client document, service tree included.
// GET /api/clients/{id}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	client, err := h.Clients.GetClient(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, client)
}

// GetClientEntries returns a client's deduction history, oldest first.
// GET /api/clients/{id}/entries
func (h *Handler) GetClientEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// 404 for unknown clients rather than an empty history.
	if _, err := h.Clients.GetClient(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	entries, err := h.Entries.EntriesByClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	dtos := make([]TimeEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = TimeEntryDTO{
			ID:        e.ID,
			ServiceID: e.ServiceID,
			StageID:   e.StageID,
			PackageID: e.PackageID,
			Minutes:   e.Minutes,
			Date:      e.Date.Format("2006-01-02"),
			Employee:  e.Employee,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toClientSummary(c *budget.Client) ClientSummaryDTO {
	dto := ClientSummaryDTO{
		ID:               c.ID,
		Name:             c.Name,
		Type:             c.Type,
		TotalHours:       c.TotalHours,
		HoursUsed:        c.HoursUsed,
		HoursRemaining:   c.HoursRemaining,
		MinutesRemaining: c.MinutesRemaining,
		IsBlocked:        c.IsBlocked,
		IsCritical:       c.IsCritical,
	}
	if c.LastUpdated != nil {
		dto.LastUpdated = c.LastUpdated.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ListReconciliationRuns returns the auditor run history, newest first.
// GET /api/reconciliation/runs
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Runs.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reconciliation runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = RunDTO{
			ID:          run.ID,
			Mode:        run.Mode,
			Scanned:     run.Scanned,
			Mismatched:  run.Mismatched,
			Fixed:       run.Fixed,
			Failed:      run.Failed,
			BackupPath:  run.BackupPath,
			StartedAt:   run.StartedAt.Format(time.RFC3339),
			CompletedAt: run.CompletedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps domain errors to HTTP status codes. The response
// `error` field carries the Hebrew user-facing message.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case budget.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, budget.ErrNoActivePackage):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, budget.ErrVersionConflict):
		status = http.StatusConflict
	case budget.IsClientError(err):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, ErrorResponse{
		Error:   budget.UserMessage(err),
		Details: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
