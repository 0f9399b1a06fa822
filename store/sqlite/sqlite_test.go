package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltline/billing-engine/billing"
	"github.com/voltline/billing-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "billing_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func januaryCycle(t *testing.T, id string) billing.BillingCycle {
	return billing.BillingCycle{
		ID:     billing.CycleID(id),
		RoomID: "room-101",
		Period: billing.Period{
			Start: billing.NewDate(2024, time.January, 1),
			End:   billing.NewDate(2024, time.January, 31),
		},
		MeterStart:     1000,
		MeterEnd:       1300,
		RateScheduleID: "rate-1",
		ConsumedUnits:  300,
		TotalCost:      dec(t, "600000"),
		Status:         billing.CycleDraft,
		Active:         true,
		Version:        1,
		CreatedBy:      "op-1",
		CreatedAt:      time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC),
	}
}

func share(t *testing.T, id, cycleID, studentID, due string) billing.ResidentShare {
	return billing.ResidentShare{
		ID:                billing.ShareID(id),
		CycleID:           billing.CycleID(cycleID),
		StudentID:         billing.StudentID(studentID),
		OccupancyRecordID: "occ-1",
		OccupiedDays:      31,
		ShareRatio:        dec(t, "0.5"),
		AmountDue:         dec(t, due),
		AmountPaid:        decimal.Zero,
		PaymentStatus:     billing.PaymentUnpaid,
	}
}

// =============================================================================
// RATE SCHEDULE PERSISTENCE
// =============================================================================

func TestSQLite_RateSchedules_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	validTo := billing.NewDate(2024, time.June, 30)
	require.NoError(t, store.SaveRateSchedule(ctx, billing.RateSchedule{
		ID:           "rate-h1",
		PricePerUnit: dec(t, "2000"),
		ValidFrom:    billing.NewDate(2024, time.January, 1),
		ValidTo:      &validTo,
		Active:       true,
	}))
	require.NoError(t, store.SaveRateSchedule(ctx, billing.RateSchedule{
		ID:           "rate-h2",
		PricePerUnit: dec(t, "2200"),
		ValidFrom:    billing.NewDate(2024, time.July, 1),
		Active:       false,
	}))

	active, err := store.ActiveRateSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, billing.RateID("rate-h1"), active[0].ID)
	assert.True(t, active[0].PricePerUnit.Equal(dec(t, "2000")))
	require.NotNil(t, active[0].ValidTo)
	assert.True(t, active[0].ValidTo.Equal(validTo))

	all, err := store.ListRateSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Nil(t, all[1].ValidTo)
}

func TestSQLite_RateSchedules_UpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rate := billing.RateSchedule{
		ID:           "rate-1",
		PricePerUnit: dec(t, "2000"),
		ValidFrom:    billing.NewDate(2024, time.January, 1),
		Active:       true,
	}
	require.NoError(t, store.SaveRateSchedule(ctx, rate))

	rate.Active = false
	require.NoError(t, store.SaveRateSchedule(ctx, rate))

	active, err := store.ActiveRateSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// =============================================================================
// INVENTORY PERSISTENCE
// =============================================================================

func TestSQLite_OccupancyQuery_FiltersByBedAndWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBed(ctx, billing.Bed{ID: "bed-1", RoomID: "room-101"}))
	require.NoError(t, store.SaveBed(ctx, billing.Bed{ID: "bed-2", RoomID: "room-202"}))

	left := billing.NewDate(2023, time.December, 20)
	require.NoError(t, store.SaveOccupancy(ctx, billing.OccupancyRecord{
		ID: "occ-current", StudentID: "stu-a", BedID: "bed-1",
		Start: billing.NewDate(2024, time.January, 5),
	}))
	require.NoError(t, store.SaveOccupancy(ctx, billing.OccupancyRecord{
		ID: "occ-gone", StudentID: "stu-b", BedID: "bed-1",
		Start: billing.NewDate(2023, time.September, 1),
		End:   &left,
	}))
	require.NoError(t, store.SaveOccupancy(ctx, billing.OccupancyRecord{
		ID: "occ-other-room", StudentID: "stu-c", BedID: "bed-2",
		Start: billing.NewDate(2024, time.January, 1),
	}))

	january := billing.Period{
		Start: billing.NewDate(2024, time.January, 1),
		End:   billing.NewDate(2024, time.January, 31),
	}
	records, err := store.OccupanciesOnBeds(ctx, []billing.BedID{"bed-1"}, january)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, billing.OccupancyID("occ-current"), records[0].ID)

	beds, err := store.BedsInRoom(ctx, "room-101")
	require.NoError(t, err)
	require.Len(t, beds, 1)
	assert.Equal(t, billing.BedID("bed-1"), beds[0].ID)
}

// =============================================================================
// CYCLE PERSISTENCE
// =============================================================================

func TestSQLite_Cycle_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cycle := januaryCycle(t, "cyc-1")
	require.NoError(t, store.InsertCycle(ctx, cycle))

	loaded, err := store.GetCycle(ctx, "cyc-1")
	require.NoError(t, err)
	assert.Equal(t, cycle.RoomID, loaded.RoomID)
	assert.True(t, loaded.Period.Start.Equal(cycle.Period.Start))
	assert.True(t, loaded.Period.End.Equal(cycle.Period.End))
	assert.Equal(t, int64(300), loaded.ConsumedUnits)
	assert.True(t, loaded.TotalCost.Equal(cycle.TotalCost))
	assert.Equal(t, billing.CycleDraft, loaded.Status)
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, "op-1", loaded.CreatedBy)
	assert.Nil(t, loaded.CalculatedAt)
}

func TestSQLite_GetCycle_Missing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetCycle(context.Background(), "no-such-cycle")
	assert.ErrorIs(t, err, billing.ErrCycleNotFound)
}

func TestSQLite_UpdateCycle_OptimisticVersionCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertCycle(ctx, januaryCycle(t, "cyc-1")))

	current, err := store.GetCycle(ctx, "cyc-1")
	require.NoError(t, err)

	now := time.Now().UTC()
	current.Status = billing.CycleCalculated
	current.CalculatedAt = &now
	require.NoError(t, store.UpdateCycle(ctx, current))

	// Stored version advanced to 2; replaying version 1 must lose.
	err = store.UpdateCycle(ctx, current)
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)

	loaded, err := store.GetCycle(ctx, "cyc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, billing.CycleCalculated, loaded.Status)
	require.NotNil(t, loaded.CalculatedAt)
}

func TestSQLite_OverlappingCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertCycle(ctx, januaryCycle(t, "cyc-jan")))

	overlap := billing.Period{
		Start: billing.NewDate(2024, time.January, 15),
		End:   billing.NewDate(2024, time.February, 14),
	}
	found, ok, err := store.OverlappingCycle(ctx, "room-101", overlap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, billing.CycleID("cyc-jan"), found.ID)

	// Different room or disjoint window: no conflict
	_, ok, err = store.OverlappingCycle(ctx, "room-202", overlap)
	require.NoError(t, err)
	assert.False(t, ok)

	february := billing.Period{
		Start: billing.NewDate(2024, time.February, 1),
		End:   billing.NewDate(2024, time.February, 29),
	}
	_, ok, err = store.OverlappingCycle(ctx, "room-101", february)
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// SHARE PERSISTENCE
// =============================================================================

func TestSQLite_ReplaceShares_ReplacesAndKeepsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertCycle(ctx, januaryCycle(t, "cyc-1")))
	require.NoError(t, store.ReplaceShares(ctx, "cyc-1", []billing.ResidentShare{
		share(t, "old-1", "cyc-1", "stu-a", "300000"),
	}))
	require.NoError(t, store.ReplaceShares(ctx, "cyc-1", []billing.ResidentShare{
		share(t, "new-b", "cyc-1", "stu-b", "200000"),
		share(t, "new-a", "cyc-1", "stu-a", "400000"),
	}))

	shares, err := store.SharesForCycle(ctx, "cyc-1")
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, billing.ShareID("new-b"), shares[0].ID)
	assert.Equal(t, billing.ShareID("new-a"), shares[1].ID)

	_, err = store.GetShare(ctx, "old-1")
	assert.ErrorIs(t, err, billing.ErrShareNotFound)
}

func TestSQLite_UpdateSharePayment_OnlyPaymentFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertCycle(ctx, januaryCycle(t, "cyc-1")))
	original := share(t, "share-1", "cyc-1", "stu-a", "300000")
	require.NoError(t, store.ReplaceShares(ctx, "cyc-1", []billing.ResidentShare{original}))

	paidAt := time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC)
	updated := original
	updated.AmountPaid = dec(t, "300000")
	updated.PaymentStatus = billing.PaymentPaid
	updated.PaidAt = &paidAt
	// A tampered AmountDue must not be persisted by a payment update.
	updated.AmountDue = dec(t, "1")
	require.NoError(t, store.UpdateSharePayment(ctx, updated))

	loaded, err := store.GetShare(ctx, "share-1")
	require.NoError(t, err)
	assert.True(t, loaded.AmountPaid.Equal(dec(t, "300000")))
	assert.Equal(t, billing.PaymentPaid, loaded.PaymentStatus)
	require.NotNil(t, loaded.PaidAt)
	assert.True(t, loaded.PaidAt.Equal(paidAt))
	assert.True(t, loaded.AmountDue.Equal(dec(t, "300000")))
}

func TestSQLite_SharesForStudent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertCycle(ctx, januaryCycle(t, "cyc-1")))
	require.NoError(t, store.ReplaceShares(ctx, "cyc-1", []billing.ResidentShare{
		share(t, "share-a", "cyc-1", "stu-a", "300000"),
		share(t, "share-b", "cyc-1", "stu-b", "300000"),
	}))

	shares, err := store.SharesForStudent(ctx, "stu-a")
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, billing.ShareID("share-a"), shares[0].ID)
}

// =============================================================================
// PAYMENT LEDGER PERSISTENCE
// =============================================================================

func TestSQLite_AppendPayment_IdempotencyKeyUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := billing.PaymentEntry{
		ID:             "pay-1",
		ShareID:        "share-1",
		Amount:         dec(t, "100000"),
		ActorID:        "cashier-1",
		IdempotencyKey: "receipt-1",
		RecordedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.AppendPayment(ctx, entry))

	entry.ID = "pay-2"
	err := store.AppendPayment(ctx, entry)
	assert.ErrorIs(t, err, billing.ErrDuplicatePayment)

	// Entries without a key never collide.
	require.NoError(t, store.AppendPayment(ctx, billing.PaymentEntry{
		ID: "pay-3", ShareID: "share-1", Amount: dec(t, "1"), RecordedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.AppendPayment(ctx, billing.PaymentEntry{
		ID: "pay-4", ShareID: "share-1", Amount: dec(t, "1"), RecordedAt: time.Now().UTC(),
	}))

	entries, err := store.PaymentsForShare(ctx, "share-1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

// =============================================================================
// TRANSACTION BEHAVIOR
// =============================================================================

func TestSQLite_WithTx_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s billing.Store) error {
		if err := s.InsertCycle(ctx, januaryCycle(t, "cyc-1")); err != nil {
			return err
		}
		// Own writes are visible inside the transaction.
		if _, err := s.GetCycle(ctx, "cyc-1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetCycle(ctx, "cyc-1")
	assert.ErrorIs(t, err, billing.ErrCycleNotFound)
}

func TestSQLite_WithTx_CommitOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s billing.Store) error {
		if err := s.InsertCycle(ctx, januaryCycle(t, "cyc-1")); err != nil {
			return err
		}
		return s.ReplaceShares(ctx, "cyc-1", []billing.ResidentShare{
			share(t, "share-1", "cyc-1", "stu-a", "300000"),
		})
	})
	require.NoError(t, err)

	shares, err := store.SharesForCycle(ctx, "cyc-1")
	require.NoError(t, err)
	assert.Len(t, shares, 1)
}

// =============================================================================
// ENGINE-OVER-SQLITE INTEGRATION
// =============================================================================

func TestSQLite_EngineLifecycle_EndToEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRateSchedule(ctx, billing.RateSchedule{
		ID:           "rate-2024",
		PricePerUnit: dec(t, "2000"),
		ValidFrom:    billing.NewDate(2024, time.January, 1),
		Active:       true,
	}))
	require.NoError(t, store.SaveBed(ctx, billing.Bed{ID: "bed-1", RoomID: "room-101"}))
	require.NoError(t, store.SaveBed(ctx, billing.Bed{ID: "bed-2", RoomID: "room-101"}))
	require.NoError(t, store.SaveOccupancy(ctx, billing.OccupancyRecord{
		ID: "occ-a", StudentID: "stu-a", BedID: "bed-1",
		Start: billing.NewDate(2024, time.January, 1),
	}))
	moveIn := billing.NewDate(2024, time.January, 16)
	require.NoError(t, store.SaveOccupancy(ctx, billing.OccupancyRecord{
		ID: "occ-b", StudentID: "stu-b", BedID: "bed-2",
		Start: moveIn,
	}))

	engine := billing.NewEngine(store)
	cycle, err := engine.CreateCycle(ctx, billing.CycleInput{
		RoomID:     "room-101",
		CycleStart: billing.NewDate(2024, time.January, 1),
		CycleEnd:   billing.NewDate(2024, time.January, 31),
		MeterStart: 1000,
		MeterEnd:   1300,
		Actor:      "op-1",
	})
	require.NoError(t, err)

	result, err := engine.Calculate(ctx, cycle.ID, "op-1")
	require.NoError(t, err)
	require.Len(t, result.Shares, 2)
	assert.True(t, result.Cycle.TotalCost.Equal(dec(t, "600000")))

	// 31 and 16 occupied days over 47 total
	assert.Equal(t, 31, result.Shares[0].OccupiedDays)
	assert.Equal(t, 16, result.Shares[1].OccupiedDays)

	_, err = engine.Finalize(ctx, cycle.ID, "op-1")
	require.NoError(t, err)

	payment, err := engine.RecordPayment(ctx, billing.PaymentInput{
		ShareID:        result.Shares[0].ID,
		Amount:         result.Shares[0].AmountDue,
		Actor:          "cashier-1",
		IdempotencyKey: "receipt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentPaid, payment.PaymentStatus)

	loaded, err := store.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.CycleFinalized, loaded.Status)
}
