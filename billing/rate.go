/*
rate.go - Rate schedule resolution

PURPOSE:
  Answers "what does one metered unit cost on this date?". Among active
  schedules, validity windows must not overlap, so at most one schedule
  should cover any date. If overlapping rows ever exist the resolver
  picks the one with the latest ValidFrom instead of failing.

SEE ALSO:
  - types.go:  RateSchedule and its Covers predicate
  - engine.go: Calls ResolveRate at cycle creation and calculation
*/
package billing

import "context"

// RateResolver selects the effective rate schedule for a date.
// Side-effect-free: it only reads from the store.
type RateResolver struct {
	Rates RateStore
}

// ResolveRate returns the single active schedule covering the date.
//
// Selection: ValidFrom <= date and (ValidTo >= date or ValidTo is nil),
// latest ValidFrom wins if the non-overlap invariant is ever violated.
// Returns RateNotFoundError when no schedule covers the date; the caller
// must refuse to create or calculate a cycle in that case.
func (r *RateResolver) ResolveRate(ctx context.Context, date Date) (RateSchedule, error) {
	schedules, err := r.Rates.ActiveRateSchedules(ctx)
	if err != nil {
		return RateSchedule{}, err
	}

	var (
		best  RateSchedule
		found bool
	)
	for _, s := range schedules {
		if !s.Covers(date) {
			continue
		}
		if !found || s.ValidFrom.After(best.ValidFrom) {
			best = s
			found = true
		}
	}

	if !found {
		return RateSchedule{}, &RateNotFoundError{Date: date}
	}
	return best, nil
}
