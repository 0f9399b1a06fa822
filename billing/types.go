/*
Package billing implements the electricity-billing proration engine.

PURPOSE:
  Turns a room-level metered consumption reading over a billing cycle into
  per-resident monetary obligations, correctly handling residents who moved
  in, moved out, or transferred rooms mid-cycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - RateSchedule:    Price-per-unit with a validity window
  - BillingCycle:    One room's metered billing period and its lifecycle
  - OccupancyRecord: Time-bounded assignment of a student to a bed (read-only
                     input produced by the room-allocation workflow)
  - ResidentShare:   One student's slice of a cycle's cost, plus payment state
  - PaymentEntry:    Append-only record of money received against a share

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money and ratios, never float64
  2. Explicit time: evaluation dates and actors are passed in, not ambient
  3. Type safety: distinct ID types so a RoomID can't stand in for a BedID
  4. Auditability: payments are append-only; shares are replaced, not edited

SEE ALSO:
  - rate.go:      Rate schedule resolution
  - occupancy.go: Occupancy window extraction and day clamping
  - prorate.go:   Cost allocation and round-up-to-ten
  - engine.go:    Cycle lifecycle state machine
  - payment.go:   Payment ledger state machine
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	RateID      string
	RoomID      string
	BedID       string
	StudentID   string
	OccupancyID string
	CycleID     string
	ShareID     string
	PaymentID   string
)

// =============================================================================
// RATE SCHEDULE - Price per metered unit with a validity window
// =============================================================================

// RateSchedule defines the price of one metered unit over a validity window.
// ValidTo == nil means open-ended: valid until superseded by a later
// schedule. Among active schedules the windows must not overlap; the
// resolver tolerates (but never produces) violations of that invariant.
type RateSchedule struct {
	ID           RateID
	PricePerUnit decimal.Decimal
	ValidFrom    Date
	ValidTo      *Date // nil = open-ended
	Active       bool
}

// Covers reports whether the schedule's validity window contains the date.
func (r RateSchedule) Covers(d Date) bool {
	if d.Before(r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && d.After(*r.ValidTo) {
		return false
	}
	return true
}

// =============================================================================
// BILLING CYCLE - One room's metered period and its lifecycle
// =============================================================================

// CycleStatus is the lifecycle state of a billing cycle.
//
// Transitions:
//
//	Draft --calculate--> Calculated --finalize--> Finalized
//	Draft --retire-----> Cancelled
//	Calculated --calculate--> Calculated   (idempotent recompute)
//
// Finalized is terminal: no recompute, no meter or rate edits. Only the
// payment fields of the cycle's shares may change afterwards.
type CycleStatus string

const (
	CycleDraft      CycleStatus = "draft"
	CycleCalculated CycleStatus = "calculated"
	CycleFinalized  CycleStatus = "finalized"
	CycleCancelled  CycleStatus = "cancelled"
)

// BillingCycle is a room's electricity bill for one metered period.
//
// INVARIANTS:
//   - MeterEnd > MeterStart
//   - At most one active non-cancelled cycle per (RoomID, Period)
//   - TotalCost = ConsumedUnits * rate.PricePerUnit, recomputed only while
//     Status is Draft or Calculated
type BillingCycle struct {
	ID             CycleID
	RoomID         RoomID
	Period         Period
	MeterStart     int64
	MeterEnd       int64
	RateScheduleID RateID
	ConsumedUnits  int64
	TotalCost      decimal.Decimal
	Status         CycleStatus
	Active         bool

	// Version guards concurrent recomputes (optimistic locking).
	Version int

	// Audit fields
	CreatedBy    string
	CreatedAt    time.Time
	CalculatedAt *time.Time
}

// Recomputable reports whether the cycle may still be (re)calculated.
func (c BillingCycle) Recomputable() bool {
	return c.Status == CycleDraft || c.Status == CycleCalculated
}

// =============================================================================
// INVENTORY INPUTS - Beds and occupancy (read-only collaborator data)
// =============================================================================

// Bed maps a bed to its room. The mapping is stable and append-only.
type Bed struct {
	ID     BedID
	RoomID RoomID
}

// OccupancyRecord is a time-bounded assignment of a student to a bed,
// produced by the room-allocation approval workflow. The engine only reads
// these records. End == nil means still occupying at evaluation time.
type OccupancyRecord struct {
	ID        OccupancyID
	StudentID StudentID
	BedID     BedID
	Start     Date
	End       *Date // nil = still occupying
}

// IntersectsPeriod reports whether the occupancy overlaps [p.Start, p.End].
func (o OccupancyRecord) IntersectsPeriod(p Period) bool {
	if o.Start.After(p.End) {
		return false
	}
	return o.End == nil || o.End.AfterOrEqual(p.Start)
}

// =============================================================================
// RESIDENT SHARE - One student's slice of a cycle's cost
// =============================================================================

// PaymentStatus tracks money received against a share. It is a pure
// function of AmountPaid vs AmountDue, except for the explicit Cancelled
// state which is terminal.
type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentPartialPaid PaymentStatus = "partial_paid"
	PaymentPaid        PaymentStatus = "paid"
	PaymentCancelled   PaymentStatus = "cancelled"
)

// ResidentShare is one student's sub-bill for one cycle.
//
// INVARIANTS:
//   - sum(ShareRatio) over a cycle's shares == 1.0 (at stored precision)
//     whenever at least one resident had occupied days
//   - AmountPaid <= AmountDue
//   - AmountDue is a multiple of ten and never below the raw prorated amount
type ResidentShare struct {
	ID                ShareID
	CycleID           CycleID
	StudentID         StudentID
	OccupancyRecordID OccupancyID
	OccupiedDays      int
	ShareRatio        decimal.Decimal // 4-decimal audit precision
	AmountDue         decimal.Decimal
	AmountPaid        decimal.Decimal
	PaymentStatus     PaymentStatus
	PaidAt            *time.Time
}

// Outstanding returns the unpaid remainder of the share.
func (s ResidentShare) Outstanding() decimal.Decimal {
	return s.AmountDue.Sub(s.AmountPaid)
}

// =============================================================================
// PAYMENT ENTRY - Append-only ledger of money received
// =============================================================================

// PaymentEntry records a single payment against a share. Entries are
// append-only: corrections happen at the share level, never by editing a
// payment. IdempotencyKey, when set, is unique across all payments so a
// blind retry is rejected instead of double-charging.
type PaymentEntry struct {
	ID             PaymentID
	ShareID        ShareID
	Amount         decimal.Decimal
	ActorID        string
	IdempotencyKey string
	RecordedAt     time.Time
}
