/*
payment.go - Payment ledger per resident share

PURPOSE:
  The per-share payment state machine:

    Unpaid --pay--> PartialPaid --pay--> Paid
    (any state except Paid) --cancel--> Cancelled

  PaymentStatus is a pure function of AmountPaid vs AmountDue except for
  the explicit Cancelled state. Every accepted payment is also appended to
  the payment ledger, which enforces idempotency-key uniqueness: blindly
  replaying a payment with the same key is rejected instead of
  double-charging.

CONCURRENCY:
  RecordPayment runs read-amount/compare/write inside one store
  transaction, so two concurrent partial payments cannot both read a stale
  AmountPaid and slip past the overpayment guard.
*/
package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentInput describes a single payment against a share.
type PaymentInput struct {
	ShareID ShareID
	Amount  decimal.Decimal
	Actor   string

	// IdempotencyKey, when set, makes retries safe: a second submission
	// with the same key fails with ErrDuplicatePayment and changes nothing.
	IdempotencyKey string
}

// RecordPayment applies a payment to a share.
//
// Preconditions: the share is not Cancelled, amount > 0, and
// amountPaid + amount <= amountDue (otherwise OverpaymentError, state
// unchanged). Sets PaidAt the first time the share crosses to fully paid.
func (e *Engine) RecordPayment(ctx context.Context, in PaymentInput) (ResidentShare, error) {
	if !in.Amount.IsPositive() {
		return ResidentShare{}, fmt.Errorf("amount %v: %w", in.Amount, ErrInvalidAmount)
	}

	var updated ResidentShare
	err := e.Store.WithTx(ctx, func(s Store) error {
		share, err := s.GetShare(ctx, in.ShareID)
		if err != nil {
			return err
		}
		if share.PaymentStatus == PaymentCancelled {
			return fmt.Errorf("share %s is cancelled: %w", share.ID, ErrInvalidTransition)
		}

		newPaid := share.AmountPaid.Add(in.Amount)
		if newPaid.GreaterThan(share.AmountDue) {
			return &OverpaymentError{
				ShareID:   share.ID,
				AmountDue: share.AmountDue,
				Paid:      share.AmountPaid,
				Requested: in.Amount,
			}
		}

		entry := PaymentEntry{
			ID:             PaymentID(uuid.NewString()),
			ShareID:        share.ID,
			Amount:         in.Amount,
			ActorID:        in.Actor,
			IdempotencyKey: in.IdempotencyKey,
			RecordedAt:     e.Now().UTC(),
		}
		if err := s.AppendPayment(ctx, entry); err != nil {
			return err
		}

		share.AmountPaid = newPaid
		switch {
		case newPaid.GreaterThanOrEqual(share.AmountDue):
			if share.PaymentStatus != PaymentPaid {
				now := e.Now().UTC()
				share.PaidAt = &now
			}
			share.PaymentStatus = PaymentPaid
		case newPaid.IsPositive():
			share.PaymentStatus = PaymentPartialPaid
		}

		if err := s.UpdateSharePayment(ctx, share); err != nil {
			return err
		}
		updated = share
		return nil
	})
	if err != nil {
		return ResidentShare{}, err
	}
	return updated, nil
}

// CancelShare marks a share Cancelled. Rejected once the share is fully
// paid; Cancelled is final.
func (e *Engine) CancelShare(ctx context.Context, shareID ShareID, actor string) (ResidentShare, error) {
	var updated ResidentShare
	err := e.Store.WithTx(ctx, func(s Store) error {
		share, err := s.GetShare(ctx, shareID)
		if err != nil {
			return err
		}
		if share.PaymentStatus == PaymentPaid {
			return fmt.Errorf("share %s: %w", share.ID, ErrCancelAfterPaid)
		}
		share.PaymentStatus = PaymentCancelled
		if err := s.UpdateSharePayment(ctx, share); err != nil {
			return err
		}
		updated = share
		return nil
	})
	if err != nil {
		return ResidentShare{}, err
	}
	return updated, nil
}

// RecordPayments applies each payment independently and reports per-item
// outcomes. A bad row never blocks the rest of the batch.
func (e *Engine) RecordPayments(ctx context.Context, inputs []PaymentInput) BatchResult {
	var result BatchResult
	for _, in := range inputs {
		if _, err := e.RecordPayment(ctx, in); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Item: string(in.ShareID), Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, string(in.ShareID))
	}
	return result
}
