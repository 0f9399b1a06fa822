package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/voltline/billing-engine/billing"
)

func TestInclusiveDays(t *testing.T) {
	cases := []struct {
		from, to billing.Date
		want     int
	}{
		{date(2024, time.January, 1), date(2024, time.January, 31), 31},
		{date(2024, time.January, 16), date(2024, time.January, 31), 16},
		{date(2024, time.January, 1), date(2024, time.January, 15), 15},
		{date(2024, time.January, 5), date(2024, time.January, 5), 1},
		{date(2024, time.February, 1), date(2024, time.February, 29), 29}, // leap year
	}
	for _, c := range cases {
		if got := billing.InclusiveDays(c.from, c.to); got != c.want {
			t.Errorf("InclusiveDays(%s, %s): expected %d, got %d", c.from, c.to, c.want, got)
		}
	}
}

func TestPeriodValidate_EndBeforeStart(t *testing.T) {
	p := billing.Period{
		Start: date(2024, time.January, 31),
		End:   date(2024, time.January, 1),
	}
	if err := p.Validate(); !errors.Is(err, billing.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestPeriodClamp(t *testing.T) {
	bounds := billing.Period{
		Start: date(2024, time.January, 1),
		End:   date(2024, time.January, 31),
	}

	// Straddles the start: clamped to the bounds
	clamped, ok := billing.Period{
		Start: date(2023, time.December, 15),
		End:   date(2024, time.January, 10),
	}.Clamp(bounds)
	if !ok {
		t.Fatal("expected overlap")
	}
	if !clamped.Start.Equal(bounds.Start) || !clamped.End.Equal(date(2024, time.January, 10)) {
		t.Errorf("unexpected clamp %s", clamped)
	}
	if clamped.Days() != 10 {
		t.Errorf("expected 10 days, got %d", clamped.Days())
	}

	// Entirely outside: no overlap
	if _, ok := (billing.Period{
		Start: date(2024, time.March, 1),
		End:   date(2024, time.March, 31),
	}).Clamp(bounds); ok {
		t.Error("expected no overlap for a disjoint period")
	}
}

func TestPeriodOverlaps_SharedEndpointCounts(t *testing.T) {
	a := billing.Period{Start: date(2024, time.January, 1), End: date(2024, time.January, 15)}
	b := billing.Period{Start: date(2024, time.January, 15), End: date(2024, time.January, 31)}
	if !a.Overlaps(b) || !b.Overlaps(a) {
		t.Error("expected periods sharing an endpoint to overlap")
	}
}
