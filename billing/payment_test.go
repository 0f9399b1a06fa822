package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/voltline/billing-engine/billing"
	"github.com/voltline/billing-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newCalculatedShares builds a calculated January cycle and returns the
// engine, store and the cycle's two 300000 shares.
func newCalculatedShares(t *testing.T) (*billing.Engine, *store.Memory, []billing.ResidentShare) {
	t.Helper()
	engine, mem := newTestEngine(t)
	cycle := createJanuaryCycle(t, engine)
	result, err := engine.Calculate(context.Background(), cycle.ID, "op-1")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	return engine, mem, result.Shares
}

func pay(t *testing.T, engine *billing.Engine, shareID billing.ShareID, amount string) billing.ResidentShare {
	t.Helper()
	share, err := engine.RecordPayment(context.Background(), billing.PaymentInput{
		ShareID: shareID,
		Amount:  dec(amount),
		Actor:   "cashier-1",
	})
	if err != nil {
		t.Fatalf("pay %s on %s: %v", amount, shareID, err)
	}
	return share
}

// =============================================================================
// PAYMENT STATE MACHINE TESTS
// =============================================================================

func TestRecordPayment_PartialThenPaid(t *testing.T) {
	// GIVEN: An unpaid 300000 share
	// WHEN: Paying 100000 then 200000
	// THEN: PartialPaid after the first, Paid with PaidAt after the second

	engine, _, shares := newCalculatedShares(t)
	shareID := shares[0].ID

	after := pay(t, engine, shareID, "100000")
	if after.PaymentStatus != billing.PaymentPartialPaid {
		t.Errorf("expected partial_paid, got %s", after.PaymentStatus)
	}
	if after.PaidAt != nil {
		t.Error("expected PaidAt unset while partially paid")
	}
	if !after.Outstanding().Equal(dec("200000")) {
		t.Errorf("expected 200000 outstanding, got %v", after.Outstanding())
	}

	after = pay(t, engine, shareID, "200000")
	if after.PaymentStatus != billing.PaymentPaid {
		t.Errorf("expected paid, got %s", after.PaymentStatus)
	}
	if after.PaidAt == nil {
		t.Error("expected PaidAt set on crossing to fully paid")
	}
	if !after.Outstanding().IsZero() {
		t.Errorf("expected zero outstanding, got %v", after.Outstanding())
	}
}

func TestRecordPayment_Overpayment_RejectedStateUnchanged(t *testing.T) {
	// GIVEN: A share with 250000 of 300000 already paid
	// WHEN: Paying another 100000
	// THEN: OverpaymentError; amountPaid and status unchanged

	engine, mem, shares := newCalculatedShares(t)
	shareID := shares[0].ID
	pay(t, engine, shareID, "250000")

	_, err := engine.RecordPayment(context.Background(), billing.PaymentInput{
		ShareID: shareID,
		Amount:  dec("100000"),
		Actor:   "cashier-1",
	})
	if !errors.Is(err, billing.ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}

	var over *billing.OverpaymentError
	if !errors.As(err, &over) {
		t.Fatalf("expected *OverpaymentError, got %T", err)
	}
	if !over.Paid.Equal(dec("250000")) || !over.Requested.Equal(dec("100000")) {
		t.Errorf("expected error to carry paid 250000 / requested 100000, got %v / %v",
			over.Paid, over.Requested)
	}

	stored, err := mem.GetShare(context.Background(), shareID)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if !stored.AmountPaid.Equal(dec("250000")) {
		t.Errorf("expected amountPaid unchanged at 250000, got %v", stored.AmountPaid)
	}
	if stored.PaymentStatus != billing.PaymentPartialPaid {
		t.Errorf("expected status unchanged, got %s", stored.PaymentStatus)
	}

	// The rejected attempt must not land in the ledger either.
	entries, err := mem.PaymentsForShare(context.Background(), shareID)
	if err != nil {
		t.Fatalf("payments for share: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 ledger entry, got %d", len(entries))
	}
}

func TestRecordPayment_NonPositiveAmount_Rejected(t *testing.T) {
	engine, _, shares := newCalculatedShares(t)

	for _, amount := range []string{"0", "-50"} {
		_, err := engine.RecordPayment(context.Background(), billing.PaymentInput{
			ShareID: shares[0].ID,
			Amount:  dec(amount),
			Actor:   "cashier-1",
		})
		if !errors.Is(err, billing.ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestRecordPayment_ExactFullPayment_Paid(t *testing.T) {
	// GIVEN: An unpaid 300000 share
	// WHEN: Paying exactly 300000
	// THEN: Paid in one step

	engine, _, shares := newCalculatedShares(t)
	after := pay(t, engine, shares[0].ID, "300000")
	if after.PaymentStatus != billing.PaymentPaid {
		t.Errorf("expected paid, got %s", after.PaymentStatus)
	}
}

func TestRecordPayment_IdempotencyKeyReplay_Rejected(t *testing.T) {
	// GIVEN: A payment recorded under key "receipt-77"
	// WHEN: Replaying the same key
	// THEN: ErrDuplicatePayment; the original payment stands

	engine, mem, shares := newCalculatedShares(t)
	shareID := shares[0].ID

	_, err := engine.RecordPayment(context.Background(), billing.PaymentInput{
		ShareID:        shareID,
		Amount:         dec("100000"),
		Actor:          "cashier-1",
		IdempotencyKey: "receipt-77",
	})
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}

	_, err = engine.RecordPayment(context.Background(), billing.PaymentInput{
		ShareID:        shareID,
		Amount:         dec("100000"),
		Actor:          "cashier-1",
		IdempotencyKey: "receipt-77",
	})
	if !errors.Is(err, billing.ErrDuplicatePayment) {
		t.Fatalf("expected ErrDuplicatePayment, got %v", err)
	}

	stored, err := mem.GetShare(context.Background(), shareID)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if !stored.AmountPaid.Equal(dec("100000")) {
		t.Errorf("expected the replay to change nothing, amountPaid %v", stored.AmountPaid)
	}
}

func TestRecordPayment_LedgerIsAppendOnly(t *testing.T) {
	// GIVEN: Three successive payments
	// WHEN: Reading the ledger
	// THEN: Three entries in order, amounts preserved

	engine, mem, shares := newCalculatedShares(t)
	shareID := shares[0].ID
	for _, amount := range []string{"50000", "100000", "150000"} {
		pay(t, engine, shareID, amount)
	}

	entries, err := mem.PaymentsForShare(context.Background(), shareID)
	if err != nil {
		t.Fatalf("payments for share: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{"50000", "100000", "150000"}
	total := decimal.Zero
	for i, e := range entries {
		if !e.Amount.Equal(dec(want[i])) {
			t.Errorf("entry %d: expected %s, got %v", i, want[i], e.Amount)
		}
		if e.ActorID != "cashier-1" {
			t.Errorf("entry %d: expected actor recorded, got %q", i, e.ActorID)
		}
		total = total.Add(e.Amount)
	}
	if !total.Equal(dec("300000")) {
		t.Errorf("expected ledger to sum to 300000, got %v", total)
	}
}

// =============================================================================
// SHARE CANCELLATION TESTS
// =============================================================================

func TestCancelShare_BeforePaid_Succeeds(t *testing.T) {
	// GIVEN: A partially paid share
	// WHEN: Cancelling
	// THEN: Cancelled; further payments are rejected

	engine, _, shares := newCalculatedShares(t)
	shareID := shares[0].ID
	pay(t, engine, shareID, "100000")

	cancelled, err := engine.CancelShare(context.Background(), shareID, "op-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.PaymentStatus != billing.PaymentCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.PaymentStatus)
	}

	_, err = engine.RecordPayment(context.Background(), billing.PaymentInput{
		ShareID: shareID,
		Amount:  dec("10"),
		Actor:   "cashier-1",
	})
	if !errors.Is(err, billing.ErrInvalidTransition) {
		t.Errorf("expected payment on cancelled share rejected, got %v", err)
	}
}

func TestCancelShare_AfterPaid_Rejected(t *testing.T) {
	// GIVEN: A fully paid share
	// WHEN: Cancelling
	// THEN: ErrCancelAfterPaid

	engine, _, shares := newCalculatedShares(t)
	shareID := shares[0].ID
	pay(t, engine, shareID, "300000")

	_, err := engine.CancelShare(context.Background(), shareID, "op-1")
	if !errors.Is(err, billing.ErrCancelAfterPaid) {
		t.Fatalf("expected ErrCancelAfterPaid, got %v", err)
	}
}

// =============================================================================
// BATCH PAYMENT TESTS
// =============================================================================

func TestRecordPayments_PartialFailureKeepsSuccesses(t *testing.T) {
	// GIVEN: One valid payment, one overpayment, one unknown share
	// WHEN: Applying the batch
	// THEN: The valid payment lands; failures are reported per item

	engine, mem, shares := newCalculatedShares(t)

	result := engine.RecordPayments(context.Background(), []billing.PaymentInput{
		{ShareID: shares[0].ID, Amount: dec("300000"), Actor: "cashier-1"},
		{ShareID: shares[1].ID, Amount: dec("999999"), Actor: "cashier-1"},
		{ShareID: "no-such-share", Amount: dec("10"), Actor: "cashier-1"},
	})

	if len(result.Succeeded) != 1 || result.Succeeded[0] != string(shares[0].ID) {
		t.Errorf("expected only %s to succeed, got %v", shares[0].ID, result.Succeeded)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(result.Failed))
	}

	stored, err := mem.GetShare(context.Background(), shares[0].ID)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if stored.PaymentStatus != billing.PaymentPaid {
		t.Errorf("expected successful item to stick, got %s", stored.PaymentStatus)
	}
}
