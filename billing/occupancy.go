/*
occupancy.go - Occupancy window extraction

PURPOSE:
  Determines who lived in a room during a billing cycle and for exactly
  how many days. This is the weight input for proration: each occupant's
  clamped day count becomes their share of the cycle's cost.

ALGORITHM:
  1. Resolve all beds belonging to the room
  2. Fetch occupancy records on those beds intersecting the cycle
  3. Clamp each record's window to the cycle boundaries
  4. Count inclusive days of the clamped window (both endpoints count)
  5. Drop records whose clamped window is empty

TRANSFERS:
  A resident who switched beds mid-cycle appears as two independent
  records over two disjoint day ranges. Each is prorated separately but
  carries the same StudentID - callers aggregating per student must sum,
  not overwrite. A hand-over day is counted for both the leaver and the
  replacement; that is intended (inclusive endpoints).

SEE ALSO:
  - period.go:  Clamp and inclusive day counting
  - prorate.go: Consumes the day weights produced here
*/
package billing

import (
	"context"
	"fmt"
	"sort"
)

// Occupant is one occupancy record's presence within a cycle, clamped to
// the cycle boundaries.
type Occupant struct {
	Record       OccupancyRecord
	Window       Period // clamped to the cycle
	OccupiedDays int
}

// OccupancyExtractor computes per-resident occupied-day counts for a room
// and cycle. Read-only: the engine never creates or mutates occupancy
// records, they belong to the room-allocation workflow.
type OccupancyExtractor struct {
	Inventory InventoryStore
}

// OccupantsDuring returns every resident with any presence in the room
// during the cycle, each with an exact occupied-day count clipped to the
// cycle. Zero occupants is a hard error: a room billed for a period nobody
// lived in cannot be split.
//
// Output order is deterministic: by occupancy start, then student, then
// record ID. Recomputing with unchanged inputs yields an identical list.
func (x *OccupancyExtractor) OccupantsDuring(ctx context.Context, roomID RoomID, cycle Period) ([]Occupant, error) {
	if err := cycle.Validate(); err != nil {
		return nil, err
	}

	beds, err := x.Inventory.BedsInRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("resolve beds for room %s: %w", roomID, err)
	}

	bedIDs := make([]BedID, len(beds))
	for i, b := range beds {
		bedIDs[i] = b.ID
	}

	records, err := x.Inventory.OccupanciesOnBeds(ctx, bedIDs, cycle)
	if err != nil {
		return nil, fmt.Errorf("load occupancies for room %s: %w", roomID, err)
	}

	var occupants []Occupant
	for _, rec := range records {
		if !rec.IntersectsPeriod(cycle) {
			continue
		}

		// Open-ended occupancy runs at least to the cycle end.
		recEnd := cycle.End
		if rec.End != nil {
			recEnd = *rec.End
		}

		window, ok := Period{Start: rec.Start, End: recEnd}.Clamp(cycle)
		if !ok {
			continue
		}

		occupants = append(occupants, Occupant{
			Record:       rec,
			Window:       window,
			OccupiedDays: window.Days(),
		})
	}

	if len(occupants) == 0 {
		return nil, fmt.Errorf("room %s over %s: %w", roomID, cycle, ErrNoOccupants)
	}

	sort.SliceStable(occupants, func(i, j int) bool {
		a, b := occupants[i], occupants[j]
		if !a.Window.Start.Equal(b.Window.Start) {
			return a.Window.Start.Before(b.Window.Start)
		}
		if a.Record.StudentID != b.Record.StudentID {
			return a.Record.StudentID < b.Record.StudentID
		}
		return a.Record.ID < b.Record.ID
	})

	return occupants, nil
}
