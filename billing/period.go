package billing

// =============================================================================
// PERIOD - Inclusive day range [Start, End]
// =============================================================================

// Period is an inclusive day range. Billing cycles and clamped occupancy
// windows are both Periods; a single-day period has Days() == 1.
type Period struct {
	Start Date
	End   Date
}

// Validate rejects periods whose end precedes their start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrInvalidPeriod
	}
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains reports whether the date falls within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Overlaps reports whether the two inclusive ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && p.End.AfterOrEqual(other.Start)
}

// Clamp intersects the period with bounds. The second return value is false
// when the ranges do not actually overlap.
func (p Period) Clamp(bounds Period) (Period, bool) {
	clamped := Period{
		Start: MaxDate(p.Start, bounds.Start),
		End:   MinDate(p.End, bounds.End),
	}
	if clamped.Start.After(clamped.End) {
		return Period{}, false
	}
	return clamped, true
}

// Days returns the inclusive day count of the period.
func (p Period) Days() int {
	return InclusiveDays(p.Start, p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
