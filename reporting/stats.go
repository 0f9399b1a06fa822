/*
Package reporting derives read-only aggregate views over billing cycles
and resident shares: total billed, total collected, outstanding balances
and per-period breakdowns. Nothing here mutates state; the numbers are
recomputed from the store on every call.

Cancelled shares and cancelled cycles are excluded from all totals -
money nobody owes isn't outstanding.
*/
package reporting

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/voltline/billing-engine/billing"
)

// Summary is the headline money view across all cycles.
type Summary struct {
	TotalBilled    decimal.Decimal
	TotalCollected decimal.Decimal
	Outstanding    decimal.Decimal
	CycleCount     int
	ShareCount     int
	PaidShares     int
}

// PeriodBreakdown is a Summary sliced by cycle window.
type PeriodBreakdown struct {
	Period         billing.Period
	TotalBilled    decimal.Decimal
	TotalCollected decimal.Decimal
	Outstanding    decimal.Decimal
	CycleCount     int
}

// StudentStatement is one student's position across all their shares.
type StudentStatement struct {
	StudentID      billing.StudentID
	TotalBilled    decimal.Decimal
	TotalCollected decimal.Decimal
	Outstanding    decimal.Decimal
	Shares         []billing.ResidentShare
}

// Service computes reporting aggregates from the billing store.
type Service struct {
	Store billing.Store
}

func NewService(store billing.Store) *Service {
	return &Service{Store: store}
}

// Summarize computes the money view over every non-cancelled cycle.
func (s *Service) Summarize(ctx context.Context) (Summary, error) {
	cycles, err := s.Store.ListCycles(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list cycles: %w", err)
	}

	summary := Summary{
		TotalBilled:    decimal.Zero,
		TotalCollected: decimal.Zero,
		Outstanding:    decimal.Zero,
	}
	for _, cycle := range cycles {
		if cycle.Status == billing.CycleCancelled {
			continue
		}
		summary.CycleCount++

		shares, err := s.Store.SharesForCycle(ctx, cycle.ID)
		if err != nil {
			return Summary{}, fmt.Errorf("shares for cycle %s: %w", cycle.ID, err)
		}
		for _, share := range shares {
			if share.PaymentStatus == billing.PaymentCancelled {
				continue
			}
			summary.ShareCount++
			if share.PaymentStatus == billing.PaymentPaid {
				summary.PaidShares++
			}
			summary.TotalBilled = summary.TotalBilled.Add(share.AmountDue)
			summary.TotalCollected = summary.TotalCollected.Add(share.AmountPaid)
		}
	}
	summary.Outstanding = summary.TotalBilled.Sub(summary.TotalCollected)
	return summary, nil
}

// BreakdownByPeriod groups totals by cycle window, ordered by cycle start.
// Rooms billed over the same window share a bucket.
func (s *Service) BreakdownByPeriod(ctx context.Context) ([]PeriodBreakdown, error) {
	cycles, err := s.Store.ListCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}

	var (
		order   []string
		buckets = make(map[string]*PeriodBreakdown)
	)
	for _, cycle := range cycles {
		if cycle.Status == billing.CycleCancelled {
			continue
		}

		key := cycle.Period.String()
		bucket, ok := buckets[key]
		if !ok {
			bucket = &PeriodBreakdown{
				Period:         cycle.Period,
				TotalBilled:    decimal.Zero,
				TotalCollected: decimal.Zero,
			}
			buckets[key] = bucket
			order = append(order, key)
		}
		bucket.CycleCount++

		shares, err := s.Store.SharesForCycle(ctx, cycle.ID)
		if err != nil {
			return nil, fmt.Errorf("shares for cycle %s: %w", cycle.ID, err)
		}
		for _, share := range shares {
			if share.PaymentStatus == billing.PaymentCancelled {
				continue
			}
			bucket.TotalBilled = bucket.TotalBilled.Add(share.AmountDue)
			bucket.TotalCollected = bucket.TotalCollected.Add(share.AmountPaid)
		}
	}

	result := make([]PeriodBreakdown, len(order))
	for i, key := range order {
		b := buckets[key]
		b.Outstanding = b.TotalBilled.Sub(b.TotalCollected)
		result[i] = *b
	}
	return result, nil
}

// StatementFor returns one student's billed/collected position. Students
// who transferred rooms mid-cycle have multiple shares; totals sum them.
func (s *Service) StatementFor(ctx context.Context, studentID billing.StudentID) (StudentStatement, error) {
	shares, err := s.Store.SharesForStudent(ctx, studentID)
	if err != nil {
		return StudentStatement{}, fmt.Errorf("shares for student %s: %w", studentID, err)
	}

	stmt := StudentStatement{
		StudentID:      studentID,
		TotalBilled:    decimal.Zero,
		TotalCollected: decimal.Zero,
	}
	for _, share := range shares {
		if share.PaymentStatus == billing.PaymentCancelled {
			continue
		}
		stmt.Shares = append(stmt.Shares, share)
		stmt.TotalBilled = stmt.TotalBilled.Add(share.AmountDue)
		stmt.TotalCollected = stmt.TotalCollected.Add(share.AmountPaid)
	}
	stmt.Outstanding = stmt.TotalBilled.Sub(stmt.TotalCollected)
	return stmt, nil
}
