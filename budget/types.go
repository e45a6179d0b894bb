/*
Package budget provides the core hierarchical time-budget ledger.

PURPOSE:
  This package contains the data model and algorithms for tracking blocks
  of billable attorney hours. Each client owns a tree of billing entities
  (services, stages, hour packages); time entries deduct hours from the
  leaves and the derived aggregates at every level must stay consistent
  with them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client:   Root entity owning the whole billing tree plus derived
              budget-warning flags (isBlocked, isCritical)
  - Service:  Billing unit under a client; either a flat hourly plan
              (owns packages directly) or a staged legal procedure
  - Stage:    One phase of a legal procedure, owning packages
  - Package:  Leaf block of allotted hours with a lifecycle status
  - TimeEntry: Immutable record of work performed (append-only)

DESIGN PRINCIPLES:
  1. Aggregates are caches: every hours/minutes field above the package
     level is derived bottom-up and must be refreshed through the
     recompute pipeline after any leaf mutation.
  2. Precision: hours use decimal.Decimal to avoid floating-point drift.
  3. Normalization: legacy documents with missing package statuses are
     normalized once at read time, not branched on at every call site.

SEE ALSO:
  - deduct.go:    The package-level deduction primitive
  - recompute.go: Bottom-up aggregate recomputation
  - engine.go:    The full time-entry state transition
  - errors.go:    Error taxonomy and user-facing messages
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLIENT / SERVICE TYPES
// =============================================================================

// ClientType classifies how a client is billed. Legacy documents carry
// arbitrary or missing values; anything other than the two known types is
// treated as unknown and never sets budget-warning flags.
type ClientType string

const (
	TypeHours          ClientType = "hours"
	TypeLegalProcedure ClientType = "legal_procedure"
)

// IsHours reports whether budget-warning flags apply to this client type.
func (t ClientType) IsHours() bool { return t == TypeHours }

// ServiceType mirrors ClientType at the service level.
type ServiceType string

const (
	ServiceHours          ServiceType = "hours"
	ServiceLegalProcedure ServiceType = "legal_procedure"
)

// =============================================================================
// PACKAGE STATUS - Tagged lifecycle enum
// =============================================================================

// PackageStatus is the lifecycle state of an hour package. Historical
// documents omit the field entirely; Normalize maps those to StatusActive
// once at read time.
type PackageStatus string

const (
	StatusActive   PackageStatus = "active"
	StatusPending  PackageStatus = "pending"
	StatusDepleted PackageStatus = "depleted"
)

// countsTowardRemaining reports whether a package's remaining hours are
// included in aggregate sums. Depleted packages contribute nothing; an
// empty status is the legacy spelling of active.
func (s PackageStatus) countsTowardRemaining() bool {
	return s == StatusActive || s == StatusPending || s == ""
}

// deductible reports whether the deduction engine may draw from a package
// with this status. Pending packages hold hours but are never drawn from
// until staff promote them; consumption is strictly one package at a time.
func (s PackageStatus) deductible() bool {
	return s == StatusActive || s == ""
}

// =============================================================================
// TOTALS - Shared derived-aggregate shape
// =============================================================================

// Totals is the derived aggregate block shared by Stage, Service and
// Client. None of these fields are authoritative on their own: they are
// recomputed bottom-up from packages (see recompute.go).
type Totals struct {
	TotalHours       decimal.Decimal `json:"totalHours"`
	HoursUsed        decimal.Decimal `json:"hoursUsed"`
	HoursRemaining   decimal.Decimal `json:"hoursRemaining"`
	MinutesUsed      decimal.Decimal `json:"minutesUsed"`
	MinutesRemaining decimal.Decimal `json:"minutesRemaining"`
}

// =============================================================================
// THE BILLING TREE
// =============================================================================

// Package is the leaf unit of allotted time.
type Package struct {
	ID             string          `json:"id"`
	Status         PackageStatus   `json:"status,omitempty"`
	TotalHours     decimal.Decimal `json:"totalHours"`
	HoursUsed      decimal.Decimal `json:"hoursUsed"`
	HoursRemaining decimal.Decimal `json:"hoursRemaining"`
	ClosedDate     *time.Time      `json:"closedDate,omitempty"`
}

// Stage is one phase of a multi-phase legal procedure.
type Stage struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Packages []Package `json:"packages,omitempty"`
	Totals
}

// Service belongs to exactly one client. A legal-procedure service owns
// stages; a flat hourly service owns packages directly. Legacy services
// created before the package model have neither, and their stored
// hoursRemaining is read verbatim.
type Service struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	Type     ServiceType `json:"type,omitempty"`
	Stages   []Stage     `json:"stages,omitempty"`
	Packages []Package   `json:"packages,omitempty"`
	Totals
}

// Client is the root document. Services are embedded, not referenced: the
// client document is the unit of mutation and one write covers the whole
// tree.
type Client struct {
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	Type     ClientType `json:"type,omitempty"`
	Services []Service  `json:"services,omitempty"`
	Totals
	IsBlocked   bool       `json:"isBlocked"`
	IsCritical  bool       `json:"isCritical"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`

	// Version is the optimistic-concurrency token managed by the store.
	// It is not part of the document itself.
	Version int64 `json:"-"`
}

// Normalize applies the one-time read-side migration for legacy documents:
// packages without a status become active. Stores call this on every read
// so the rest of the code never branches on "status or no status".
func (c *Client) Normalize() {
	for si := range c.Services {
		svc := &c.Services[si]
		normalizePackages(svc.Packages)
		for sti := range svc.Stages {
			normalizePackages(svc.Stages[sti].Packages)
		}
	}
}

func normalizePackages(pkgs []Package) {
	for i := range pkgs {
		if pkgs[i].Status == "" {
			pkgs[i].Status = StatusActive
		}
	}
}

// =============================================================================
// TIME ENTRY - Append-only record of work performed
// =============================================================================

// TimeEntry records a single unit of work. Entries are the append-only
// source of truth; aggregates hold the once-applied deduction, they are
// never recomputed from entry history on read.
type TimeEntry struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	ServiceID string    `json:"serviceId"`
	StageID   string    `json:"stageId,omitempty"`
	PackageID string    `json:"packageId"`
	Minutes   int       `json:"minutes"`
	Date      time.Time `json:"date"`
	Employee  string    `json:"employee,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ServiceRef addresses the deduction target within a client's tree:
// a flat service by id, or a (service, stage) pair for legal procedures.
type ServiceRef struct {
	ServiceID string
	StageID   string
}
