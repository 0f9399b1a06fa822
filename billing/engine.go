/*
engine.go - Billing cycle lifecycle

PURPOSE:
  The state machine governing a room bill:

    Draft --calculate--> Calculated --finalize--> Finalized
    Draft --retire-----> Cancelled
    Calculated --calculate--> Calculated   (idempotent recompute)

  calculate replaces the cycle's entire share set (replace-not-merge), so
  it is idempotent on unchanged inputs but destructive to payments already
  recorded against the old set. Finalization exists precisely to prevent
  recompute after money has moved: Finalized is terminal and freezes
  everything except the shares' payment fields.

CONCURRENCY:
  Every mutating operation runs inside store.WithTx, and cycle updates
  carry an optimistic version check. Two concurrent calculates on the same
  cycle serialize; the loser gets ErrConcurrentModification and may retry.
  Cycles are independent units of work - no cross-cycle locking.

SEE ALSO:
  - rate.go, occupancy.go, prorate.go: The three computations composed here
  - payment.go: Payments against the shares this engine produces
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine executes billing cycle operations against a transactional store.
// The clock is injected so calculations are reproducible in tests; no
// ambient "current date" is consulted anywhere.
type Engine struct {
	Store TxStore
	Now   func() time.Time
}

// NewEngine creates an engine with the real clock.
func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store, Now: time.Now}
}

// =============================================================================
// CYCLE CREATION
// =============================================================================

// CycleInput is an operator's metering input for a new cycle.
type CycleInput struct {
	RoomID     RoomID
	CycleStart Date
	CycleEnd   Date
	MeterStart int64
	MeterEnd   int64
	Actor      string
}

// CreateCycle validates the metering input and creates a Draft cycle.
//
// Rejections: malformed period, meterEnd <= meterStart, a window overlap
// with an existing non-cancelled cycle for the room (DuplicateCycleError),
// and no rate schedule covering the cycle start (RateNotFoundError - the
// cycle is refused rather than created unbillable).
func (e *Engine) CreateCycle(ctx context.Context, in CycleInput) (BillingCycle, error) {
	period := Period{Start: in.CycleStart, End: in.CycleEnd}
	if err := period.Validate(); err != nil {
		return BillingCycle{}, err
	}
	if in.MeterEnd <= in.MeterStart {
		return BillingCycle{}, fmt.Errorf("meter %d..%d: %w", in.MeterStart, in.MeterEnd, ErrInvalidMeterReading)
	}

	var created BillingCycle
	err := e.Store.WithTx(ctx, func(s Store) error {
		if existing, found, err := s.OverlappingCycle(ctx, in.RoomID, period); err != nil {
			return err
		} else if found {
			return &DuplicateCycleError{RoomID: in.RoomID, Period: period, ExistingID: existing.ID}
		}

		resolver := &RateResolver{Rates: s}
		rate, err := resolver.ResolveRate(ctx, period.Start)
		if err != nil {
			return err
		}

		created = BillingCycle{
			ID:             CycleID(uuid.NewString()),
			RoomID:         in.RoomID,
			Period:         period,
			MeterStart:     in.MeterStart,
			MeterEnd:       in.MeterEnd,
			RateScheduleID: rate.ID,
			ConsumedUnits:  in.MeterEnd - in.MeterStart,
			TotalCost:      decimal.Zero,
			Status:         CycleDraft,
			Active:         true,
			Version:        1,
			CreatedBy:      in.Actor,
			CreatedAt:      e.Now().UTC(),
		}
		return s.InsertCycle(ctx, created)
	})
	if err != nil {
		return BillingCycle{}, err
	}
	return created, nil
}

// =============================================================================
// CALCULATE - Prorate the cycle cost into resident shares
// =============================================================================

// CalcResult is the outcome of a calculate run.
type CalcResult struct {
	Cycle  BillingCycle
	Shares []ResidentShare
}

// Calculate resolves the rate, extracts occupancy, prorates the total cost
// and atomically replaces the cycle's share set, transitioning the cycle
// to Calculated.
//
// Idempotent given identical meter/rate/occupancy inputs: recomputing
// yields the same ratios, amounts and ordering. Destructive to payments
// recorded against the replaced shares - finalize the cycle before
// collecting money.
func (e *Engine) Calculate(ctx context.Context, cycleID CycleID, actor string) (CalcResult, error) {
	var result CalcResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		cycle, err := s.GetCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if !cycle.Recomputable() {
			return &TransitionError{CycleID: cycle.ID, Status: cycle.Status, Op: "calculate"}
		}
		if cycle.MeterEnd <= cycle.MeterStart {
			return fmt.Errorf("cycle %s meter %d..%d: %w",
				cycle.ID, cycle.MeterStart, cycle.MeterEnd, ErrInvalidMeterReading)
		}

		resolver := &RateResolver{Rates: s}
		rate, err := resolver.ResolveRate(ctx, cycle.Period.Start)
		if err != nil {
			return fmt.Errorf("cycle %s: %w", cycle.ID, err)
		}

		extractor := &OccupancyExtractor{Inventory: s}
		occupants, err := extractor.OccupantsDuring(ctx, cycle.RoomID, cycle.Period)
		if err != nil {
			return fmt.Errorf("cycle %s: %w", cycle.ID, err)
		}

		cycle.ConsumedUnits = cycle.MeterEnd - cycle.MeterStart
		cycle.TotalCost = rate.PricePerUnit.Mul(decimal.NewFromInt(cycle.ConsumedUnits))
		cycle.RateScheduleID = rate.ID

		weights := make([]Weight, len(occupants))
		for i, o := range occupants {
			weights[i] = Weight{Ref: string(o.Record.ID), Days: o.OccupiedDays}
		}
		allocations, err := Allocate(cycle.TotalCost, weights)
		if err != nil {
			return fmt.Errorf("cycle %s: %w", cycle.ID, err)
		}

		shares := make([]ResidentShare, len(allocations))
		for i, a := range allocations {
			shares[i] = ResidentShare{
				ID:                ShareID(uuid.NewString()),
				CycleID:           cycle.ID,
				StudentID:         occupants[i].Record.StudentID,
				OccupancyRecordID: occupants[i].Record.ID,
				OccupiedDays:      a.Days,
				ShareRatio:        a.ShareRatio,
				AmountDue:         a.AmountDue,
				AmountPaid:        decimal.Zero,
				PaymentStatus:     PaymentUnpaid,
			}
		}

		if err := s.ReplaceShares(ctx, cycle.ID, shares); err != nil {
			return fmt.Errorf("replace shares for cycle %s: %w", cycle.ID, err)
		}

		now := e.Now().UTC()
		cycle.Status = CycleCalculated
		cycle.CalculatedAt = &now
		if err := s.UpdateCycle(ctx, cycle); err != nil {
			return err
		}
		cycle.Version++

		result = CalcResult{Cycle: cycle, Shares: shares}
		return nil
	})
	if err != nil {
		return CalcResult{}, err
	}
	return result, nil
}

// =============================================================================
// FINALIZE / RETIRE
// =============================================================================

// Finalize freezes a Calculated cycle. After this, no recompute and no
// meter or rate edits are permitted; only payment fields on the cycle's
// shares may change.
func (e *Engine) Finalize(ctx context.Context, cycleID CycleID, actor string) (BillingCycle, error) {
	var finalized BillingCycle
	err := e.Store.WithTx(ctx, func(s Store) error {
		cycle, err := s.GetCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if cycle.Status != CycleCalculated {
			return &TransitionError{CycleID: cycle.ID, Status: cycle.Status, Op: "finalize"}
		}
		cycle.Status = CycleFinalized
		if err := s.UpdateCycle(ctx, cycle); err != nil {
			return err
		}
		cycle.Version++
		finalized = cycle
		return nil
	})
	if err != nil {
		return BillingCycle{}, err
	}
	return finalized, nil
}

// Retire soft-deletes a cycle that was never calculated. Only Draft cycles
// may be retired; anything further along must run its lifecycle.
func (e *Engine) Retire(ctx context.Context, cycleID CycleID, actor string) (BillingCycle, error) {
	var retired BillingCycle
	err := e.Store.WithTx(ctx, func(s Store) error {
		cycle, err := s.GetCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if cycle.Status != CycleDraft {
			return &TransitionError{CycleID: cycle.ID, Status: cycle.Status, Op: "retire"}
		}
		cycle.Status = CycleCancelled
		cycle.Active = false
		if err := s.UpdateCycle(ctx, cycle); err != nil {
			return err
		}
		cycle.Version++
		retired = cycle
		return nil
	})
	if err != nil {
		return BillingCycle{}, err
	}
	return retired, nil
}

// =============================================================================
// BATCH OPERATIONS
// =============================================================================

// BatchFailure reports one failed item of a batch operation.
type BatchFailure struct {
	Item   string
	Reason string
}

// BatchResult reports per-item outcomes. A partial failure never rolls
// back the successful items.
type BatchResult struct {
	Succeeded []string
	Failed    []BatchFailure
}

// FinalizeCycles finalizes each cycle independently, applying the same
// single-item preconditions per cycle.
func (e *Engine) FinalizeCycles(ctx context.Context, cycleIDs []CycleID, actor string) BatchResult {
	var result BatchResult
	for _, id := range cycleIDs {
		if _, err := e.Finalize(ctx, id, actor); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Item: string(id), Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, string(id))
	}
	return result
}
