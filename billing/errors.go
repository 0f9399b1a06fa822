/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All engine errors in one place for consistency and discoverability.
  Everything here is a recoverable validation failure reported to the
  caller with enough context to correct and retry; only infrastructure
  failures (storage unavailable) propagate as plain wrapped errors.

ERROR CATEGORIES:
  1. Resolution errors  - No rate covers the cycle, nobody lived in the room
  2. Validation errors  - Bad meter readings, overlapping cycles
  3. Lifecycle errors   - Transitions the state machine forbids
  4. Payment errors     - Overpayment, duplicate retry, cancel-after-paid

USAGE:
  if errors.Is(err, billing.ErrRateNotFound) { ... }

  var trans *billing.TransitionError
  if errors.As(err, &trans) { log.Warn("bad transition", "op", trans.Op) }
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRateNotFound is returned when no active rate schedule covers the
	// cycle start date. Recoverable: add a schedule and retry.
	ErrRateNotFound = errors.New("no rate schedule covers date")

	// ErrNoOccupants is returned when zero residents overlapped the cycle.
	// A room billed for a period nobody lived in cannot be split; this
	// signals a data-entry problem upstream.
	ErrNoOccupants = errors.New("no occupants in cycle")

	// ErrInvalidOccupancy is returned when the total occupied-day weight
	// is zero or negative.
	ErrInvalidOccupancy = errors.New("invalid occupancy: no occupied days")

	// ErrInvalidMeterReading is returned when meterEnd <= meterStart.
	ErrInvalidMeterReading = errors.New("invalid meter reading: end must exceed start")

	// ErrDuplicateCycle is returned when a new cycle's window overlaps an
	// existing non-cancelled cycle for the same room.
	ErrDuplicateCycle = errors.New("overlapping billing cycle exists for room")

	// ErrInvalidTransition is returned for lifecycle operations the state
	// machine forbids (e.g. calculate on a finalized cycle).
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrOverpayment is returned when a payment would push AmountPaid past
	// AmountDue. State is left unchanged.
	ErrOverpayment = errors.New("payment exceeds amount due")

	// ErrCancelAfterPaid is returned when cancelling a share that is
	// already fully paid.
	ErrCancelAfterPaid = errors.New("cannot cancel a paid share")

	// ErrDuplicatePayment is returned when a payment reuses an idempotency
	// key. Expected behavior for retries; the original payment stands.
	ErrDuplicatePayment = errors.New("duplicate payment idempotency key")

	// ErrInvalidAmount is returned for non-positive payment amounts.
	ErrInvalidAmount = errors.New("payment amount must be positive")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrCycleNotFound is returned when a referenced cycle doesn't exist.
	ErrCycleNotFound = errors.New("billing cycle not found")

	// ErrShareNotFound is returned when a referenced share doesn't exist.
	ErrShareNotFound = errors.New("resident share not found")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a competing recompute on the same cycle.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RateNotFoundError reports the uncovered date so the operator can add a
// schedule and retry.
type RateNotFoundError struct {
	Date Date
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("no active rate schedule covers %s", e.Date)
}

func (e *RateNotFoundError) Unwrap() error { return ErrRateNotFound }

// DuplicateCycleError reports the conflicting cycle window.
type DuplicateCycleError struct {
	RoomID     RoomID
	Period     Period
	ExistingID CycleID
}

func (e *DuplicateCycleError) Error() string {
	return fmt.Sprintf("room %s already has cycle %s overlapping %s",
		e.RoomID, e.ExistingID, e.Period)
}

func (e *DuplicateCycleError) Unwrap() error { return ErrDuplicateCycle }

// TransitionError reports a forbidden lifecycle operation.
type TransitionError struct {
	CycleID CycleID
	Status  CycleStatus
	Op      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s cycle %s in status %q", e.Op, e.CycleID, e.Status)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// OverpaymentError reports the amounts involved in a rejected payment.
type OverpaymentError struct {
	ShareID   ShareID
	AmountDue decimal.Decimal
	Paid      decimal.Decimal
	Requested decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("share %s: payment %v would exceed due %v (already paid %v)",
		e.ShareID, e.Requested, e.AmountDue, e.Paid)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a recoverable validation
// failure caused by the caller's input or timing.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRateNotFound) ||
		errors.Is(err, ErrNoOccupants) ||
		errors.Is(err, ErrInvalidOccupancy) ||
		errors.Is(err, ErrInvalidMeterReading) ||
		errors.Is(err, ErrDuplicateCycle) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrCancelAfterPaid) ||
		errors.Is(err, ErrDuplicatePayment) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCycleNotFound) ||
		errors.Is(err, ErrShareNotFound)
}

// IsRetryable returns true if the same call might succeed on retry.
// Note: calculate is safely retryable; recordPayment is NOT (rely on the
// idempotency key or the overpayment guard instead).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
