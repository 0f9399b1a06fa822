/*
store.go - Persistence interfaces for the billing engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine is
  a library-level computation; everything it persists or reads goes
  through these interfaces so SQLite, PostgreSQL and in-memory stores are
  interchangeable.

KEY INTERFACES:
  RateStore:      Rate schedules (read for resolution, write for operators)
  InventoryStore: Beds and occupancy records (engine reads, collaborator writes)
  CycleStore:     Billing cycles with optimistic version checks
  ShareStore:     Resident shares (atomic replace per cycle, payment updates)
  PaymentStore:   Append-only payment ledger with unique idempotency keys
  TxStore:        Everything above, plus WithTx for atomic multi-write ops

TRANSACTIONAL CONTRACT:
  calculate and finalize must execute under WithTx spanning: read cycle,
  resolve rate, extract occupancy, delete old shares, insert new shares,
  update cycle status - all or nothing. A failure partway leaves the
  prior state intact rather than a half-replaced share set.

IMPLEMENTATIONS:
  - store/sqlite:         Production SQLite store
  - billing/store/memory: In-memory store for tests and dev
*/
package billing

import "context"

// =============================================================================
// RATE STORE
// =============================================================================

// RateStore persists rate schedules.
type RateStore interface {
	// SaveRateSchedule inserts or replaces a schedule.
	SaveRateSchedule(ctx context.Context, rate RateSchedule) error

	// ActiveRateSchedules returns all schedules with Active == true.
	ActiveRateSchedules(ctx context.Context) ([]RateSchedule, error)

	// ListRateSchedules returns every schedule, active or not.
	ListRateSchedules(ctx context.Context) ([]RateSchedule, error)
}

// =============================================================================
// INVENTORY STORE - Read-only from the engine's point of view
// =============================================================================

// InventoryStore persists the room/bed mapping and the occupancy records
// produced by the room-allocation workflow. The engine only reads; the
// save methods exist for the ingestion surface and for tests.
type InventoryStore interface {
	SaveBed(ctx context.Context, bed Bed) error

	// BedsInRoom returns every bed currently or historically in the room.
	BedsInRoom(ctx context.Context, roomID RoomID) ([]Bed, error)

	SaveOccupancy(ctx context.Context, rec OccupancyRecord) error

	// OccupanciesOnBeds returns records on the given beds whose interval
	// intersects the period: start <= period.End and (end is nil or
	// end >= period.Start).
	OccupanciesOnBeds(ctx context.Context, bedIDs []BedID, period Period) ([]OccupancyRecord, error)
}

// =============================================================================
// CYCLE STORE
// =============================================================================

// CycleStore persists billing cycles.
type CycleStore interface {
	InsertCycle(ctx context.Context, cycle BillingCycle) error

	// GetCycle returns the cycle or ErrCycleNotFound.
	GetCycle(ctx context.Context, id CycleID) (BillingCycle, error)

	// UpdateCycle writes the cycle if the stored version matches
	// cycle.Version, then increments it. Returns ErrConcurrentModification
	// on a version mismatch.
	UpdateCycle(ctx context.Context, cycle BillingCycle) error

	// OverlappingCycle returns an active, non-cancelled cycle for the room
	// whose window overlaps the period, or found == false.
	OverlappingCycle(ctx context.Context, roomID RoomID, period Period) (BillingCycle, bool, error)

	ListCycles(ctx context.Context) ([]BillingCycle, error)
	ListCyclesForRoom(ctx context.Context, roomID RoomID) ([]BillingCycle, error)
}

// =============================================================================
// SHARE STORE
// =============================================================================

// ShareStore persists resident shares.
type ShareStore interface {
	// ReplaceShares atomically deletes the cycle's existing shares and
	// inserts the new set. This is the only way shares are (re)created.
	ReplaceShares(ctx context.Context, cycleID CycleID, shares []ResidentShare) error

	// GetShare returns the share or ErrShareNotFound.
	GetShare(ctx context.Context, id ShareID) (ResidentShare, error)

	// UpdateSharePayment writes the payment fields (AmountPaid,
	// PaymentStatus, PaidAt) of an existing share. Never touches
	// AmountDue or ShareRatio.
	UpdateSharePayment(ctx context.Context, share ResidentShare) error

	SharesForCycle(ctx context.Context, cycleID CycleID) ([]ResidentShare, error)
	SharesForStudent(ctx context.Context, studentID StudentID) ([]ResidentShare, error)
}

// =============================================================================
// PAYMENT STORE - Append-only
// =============================================================================

// PaymentStore records payments. Append-only: no update, no delete.
type PaymentStore interface {
	// AppendPayment persists a payment entry. Returns ErrDuplicatePayment
	// if the idempotency key (when non-empty) already exists.
	AppendPayment(ctx context.Context, entry PaymentEntry) error

	PaymentsForShare(ctx context.Context, shareID ShareID) ([]PaymentEntry, error)
}

// =============================================================================
// AGGREGATE STORE INTERFACES
// =============================================================================

// Store is the full persistence surface of the engine.
type Store interface {
	RateStore
	InventoryStore
	CycleStore
	ShareStore
	PaymentStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed. Implementations
	// must serialize concurrent transactions touching the same rows.
	WithTx(ctx context.Context, fn func(Store) error) error
}
