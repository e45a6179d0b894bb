/*
errors.go - Centralized error types for the budget ledger

PURPOSE:
  All expected failure modes in one place. The deduction engine returns
  these as typed errors and never panics past its own boundary; callers
  distinguish categories with errors.Is and the helpers below.

ERROR CATEGORIES:
  1. Validation errors  - malformed input (non-positive minutes, missing refs)
  2. Not-found errors   - referenced client/service/stage absent from tree
  3. Capacity errors    - no active package; a business condition, not a fault
  4. Concurrency errors - optimistic version check failed (retryable)

USER MESSAGES:
  Budget failures are shown to staff in Hebrew with an actionable message;
  anything unexpected gets a generic retry prompt. UserMessage performs
  that mapping so HTTP handlers never hardcode strings.

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses and user messages
*/
package budget

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidMinutes is returned when a time entry carries zero or
	// negative minutes. This is a caller bug, never silently ignored.
	ErrInvalidMinutes = errors.New("minutes must be positive")

	// ErrInvalidDate is returned when a time entry carries a date that
	// does not parse as YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid entry date")

	// ErrClientNotFound is returned when the referenced client document
	// does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrNoServices is returned when the client exists but has no billing
	// services to deduct from.
	ErrNoServices = errors.New("client has no services")

	// ErrServiceNotFound is returned when the target service id is not in
	// the client's tree.
	ErrServiceNotFound = errors.New("service not found")

	// ErrStageNotFound is returned when the target stage id is not in the
	// legal-procedure service.
	ErrStageNotFound = errors.New("stage not found")

	// ErrServiceRequired is returned when a time entry omits the service
	// reference entirely.
	ErrServiceRequired = errors.New("service id required")

	// ErrStageRequired is returned when a legal-procedure deduction omits
	// the stage id.
	ErrStageRequired = errors.New("stage id required for legal procedure service")

	// ErrNoActivePackage is returned when the target stage/service has no
	// active package with remaining hours. This is a hard stop: the engine
	// never auto-advances to a pending package; staff must promote one.
	ErrNoActivePackage = errors.New("no active package to deduct from")

	// ErrVersionConflict is returned when the client document changed
	// between read and conditional write. Safe to retry.
	ErrVersionConflict = errors.New("client document modified concurrently")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which node of the billing tree was missing.
type NotFoundError struct {
	Kind string // "client", "service", "stage"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case "client":
		return ErrClientNotFound
	case "service":
		return ErrServiceNotFound
	case "stage":
		return ErrStageNotFound
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// or a legitimate business condition, as opposed to a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMinutes) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrServiceRequired) ||
		errors.Is(err, ErrStageRequired) ||
		errors.Is(err, ErrNoServices) ||
		errors.Is(err, ErrNoActivePackage)
}

// IsNotFound returns true if the error indicates a missing tree node.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrStageNotFound)
}

// IsRetryable returns true if repeating the operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// =============================================================================
// USER-FACING MESSAGES
// =============================================================================

// UserMessage maps an error to the Hebrew message shown to office staff.
// Unknown errors get a generic retry prompt so internal details never leak
// to the UI.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoActivePackage):
		return "אין חבילה פעילה לניכוי שעות"
	case errors.Is(err, ErrClientNotFound):
		return "לקוח לא נמצא"
	case errors.Is(err, ErrServiceNotFound):
		return "שירות לא נמצא"
	case errors.Is(err, ErrStageNotFound):
		return "שלב לא נמצא בשירות"
	case errors.Is(err, ErrServiceRequired):
		return "המשימה חסרה מידע על שירות"
	case errors.Is(err, ErrStageRequired):
		return "המשימה חסרה מידע על שלב"
	case errors.Is(err, ErrNoServices):
		return "ללקוח אין שירותים פעילים"
	case errors.Is(err, ErrInvalidMinutes):
		return "מספר הדקות חייב להיות גדול מאפס"
	case errors.Is(err, ErrInvalidDate):
		return "תאריך הדיווח אינו תקין"
	default:
		return "אירעה שגיאה במערכת, נסו שוב"
	}
}
