// Package store provides in-memory Store implementations for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/voltline/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.TxStore with plain maps. WithTx simulates a
// transaction by snapshotting state and restoring it on error.
type Memory struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	rates         map[billing.RateID]billing.RateSchedule
	beds          map[billing.BedID]billing.Bed
	occupancies   []billing.OccupancyRecord
	cycles        map[billing.CycleID]billing.BillingCycle
	shares        map[billing.ShareID]billing.ResidentShare
	sharesByCycle map[billing.CycleID][]billing.ShareID
	payments      []billing.PaymentEntry
	paymentKeys   map[string]bool
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func newMemState() memState {
	return memState{
		rates:         make(map[billing.RateID]billing.RateSchedule),
		beds:          make(map[billing.BedID]billing.Bed),
		cycles:        make(map[billing.CycleID]billing.BillingCycle),
		shares:        make(map[billing.ShareID]billing.ResidentShare),
		sharesByCycle: make(map[billing.CycleID][]billing.ShareID),
		paymentKeys:   make(map[string]bool),
	}
}

// WithTx executes fn against the locked state. On error the pre-call
// snapshot is restored, so partial writes never leak out.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() memState {
	c := newMemState()
	for k, v := range s.rates {
		c.rates[k] = v
	}
	for k, v := range s.beds {
		c.beds[k] = v
	}
	c.occupancies = append([]billing.OccupancyRecord(nil), s.occupancies...)
	for k, v := range s.cycles {
		c.cycles[k] = v
	}
	for k, v := range s.shares {
		c.shares[k] = v
	}
	for k, v := range s.sharesByCycle {
		c.sharesByCycle[k] = append([]billing.ShareID(nil), v...)
	}
	c.payments = append([]billing.PaymentEntry(nil), s.payments...)
	for k, v := range s.paymentKeys {
		c.paymentKeys[k] = v
	}
	return c
}

// =============================================================================
// LOCKED DELEGATES - Public methods take the lock, memState does the work
// =============================================================================

func (m *Memory) SaveRateSchedule(ctx context.Context, rate billing.RateSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveRateSchedule(ctx, rate)
}

func (m *Memory) ActiveRateSchedules(ctx context.Context) ([]billing.RateSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ActiveRateSchedules(ctx)
}

func (m *Memory) ListRateSchedules(ctx context.Context) ([]billing.RateSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListRateSchedules(ctx)
}

func (m *Memory) SaveBed(ctx context.Context, bed billing.Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveBed(ctx, bed)
}

func (m *Memory) BedsInRoom(ctx context.Context, roomID billing.RoomID) ([]billing.Bed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.BedsInRoom(ctx, roomID)
}

func (m *Memory) SaveOccupancy(ctx context.Context, rec billing.OccupancyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveOccupancy(ctx, rec)
}

func (m *Memory) OccupanciesOnBeds(ctx context.Context, bedIDs []billing.BedID, period billing.Period) ([]billing.OccupancyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.OccupanciesOnBeds(ctx, bedIDs, period)
}

func (m *Memory) InsertCycle(ctx context.Context, cycle billing.BillingCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertCycle(ctx, cycle)
}

func (m *Memory) GetCycle(ctx context.Context, id billing.CycleID) (billing.BillingCycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetCycle(ctx, id)
}

func (m *Memory) UpdateCycle(ctx context.Context, cycle billing.BillingCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateCycle(ctx, cycle)
}

func (m *Memory) OverlappingCycle(ctx context.Context, roomID billing.RoomID, period billing.Period) (billing.BillingCycle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.OverlappingCycle(ctx, roomID, period)
}

func (m *Memory) ListCycles(ctx context.Context) ([]billing.BillingCycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListCycles(ctx)
}

func (m *Memory) ListCyclesForRoom(ctx context.Context, roomID billing.RoomID) ([]billing.BillingCycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListCyclesForRoom(ctx, roomID)
}

func (m *Memory) ReplaceShares(ctx context.Context, cycleID billing.CycleID, shares []billing.ResidentShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ReplaceShares(ctx, cycleID, shares)
}

func (m *Memory) GetShare(ctx context.Context, id billing.ShareID) (billing.ResidentShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetShare(ctx, id)
}

func (m *Memory) UpdateSharePayment(ctx context.Context, share billing.ResidentShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateSharePayment(ctx, share)
}

func (m *Memory) SharesForCycle(ctx context.Context, cycleID billing.CycleID) ([]billing.ResidentShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.SharesForCycle(ctx, cycleID)
}

func (m *Memory) SharesForStudent(ctx context.Context, studentID billing.StudentID) ([]billing.ResidentShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.SharesForStudent(ctx, studentID)
}

func (m *Memory) AppendPayment(ctx context.Context, entry billing.PaymentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendPayment(ctx, entry)
}

func (m *Memory) PaymentsForShare(ctx context.Context, shareID billing.ShareID) ([]billing.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.PaymentsForShare(ctx, shareID)
}

// =============================================================================
// STATE IMPLEMENTATION (unlocked; memState implements billing.Store)
// =============================================================================

var _ billing.Store = (*memState)(nil)
var _ billing.TxStore = (*Memory)(nil)

func (s *memState) SaveRateSchedule(_ context.Context, rate billing.RateSchedule) error {
	s.rates[rate.ID] = rate
	return nil
}

func (s *memState) ActiveRateSchedules(_ context.Context) ([]billing.RateSchedule, error) {
	var result []billing.RateSchedule
	for _, r := range s.rates {
		if r.Active {
			result = append(result, r)
		}
	}
	sortRates(result)
	return result, nil
}

func (s *memState) ListRateSchedules(_ context.Context) ([]billing.RateSchedule, error) {
	result := make([]billing.RateSchedule, 0, len(s.rates))
	for _, r := range s.rates {
		result = append(result, r)
	}
	sortRates(result)
	return result, nil
}

func sortRates(rates []billing.RateSchedule) {
	sort.Slice(rates, func(i, j int) bool {
		if !rates[i].ValidFrom.Equal(rates[j].ValidFrom) {
			return rates[i].ValidFrom.Before(rates[j].ValidFrom)
		}
		return rates[i].ID < rates[j].ID
	})
}

func (s *memState) SaveBed(_ context.Context, bed billing.Bed) error {
	s.beds[bed.ID] = bed
	return nil
}

func (s *memState) BedsInRoom(_ context.Context, roomID billing.RoomID) ([]billing.Bed, error) {
	var result []billing.Bed
	for _, b := range s.beds {
		if b.RoomID == roomID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *memState) SaveOccupancy(_ context.Context, rec billing.OccupancyRecord) error {
	s.occupancies = append(s.occupancies, rec)
	return nil
}

func (s *memState) OccupanciesOnBeds(_ context.Context, bedIDs []billing.BedID, period billing.Period) ([]billing.OccupancyRecord, error) {
	wanted := make(map[billing.BedID]bool, len(bedIDs))
	for _, id := range bedIDs {
		wanted[id] = true
	}

	var result []billing.OccupancyRecord
	for _, rec := range s.occupancies {
		if wanted[rec.BedID] && rec.IntersectsPeriod(period) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *memState) InsertCycle(_ context.Context, cycle billing.BillingCycle) error {
	s.cycles[cycle.ID] = cycle
	return nil
}

func (s *memState) GetCycle(_ context.Context, id billing.CycleID) (billing.BillingCycle, error) {
	cycle, ok := s.cycles[id]
	if !ok {
		return billing.BillingCycle{}, billing.ErrCycleNotFound
	}
	return cycle, nil
}

func (s *memState) UpdateCycle(_ context.Context, cycle billing.BillingCycle) error {
	current, ok := s.cycles[cycle.ID]
	if !ok {
		return billing.ErrCycleNotFound
	}
	if current.Version != cycle.Version {
		return billing.ErrConcurrentModification
	}
	cycle.Version++
	s.cycles[cycle.ID] = cycle
	return nil
}

func (s *memState) OverlappingCycle(_ context.Context, roomID billing.RoomID, period billing.Period) (billing.BillingCycle, bool, error) {
	for _, c := range s.cycles {
		if c.RoomID != roomID || !c.Active || c.Status == billing.CycleCancelled {
			continue
		}
		if c.Period.Overlaps(period) {
			return c, true, nil
		}
	}
	return billing.BillingCycle{}, false, nil
}

func (s *memState) ListCycles(_ context.Context) ([]billing.BillingCycle, error) {
	result := make([]billing.BillingCycle, 0, len(s.cycles))
	for _, c := range s.cycles {
		result = append(result, c)
	}
	sortCycles(result)
	return result, nil
}

func (s *memState) ListCyclesForRoom(_ context.Context, roomID billing.RoomID) ([]billing.BillingCycle, error) {
	var result []billing.BillingCycle
	for _, c := range s.cycles {
		if c.RoomID == roomID {
			result = append(result, c)
		}
	}
	sortCycles(result)
	return result, nil
}

func sortCycles(cycles []billing.BillingCycle) {
	sort.Slice(cycles, func(i, j int) bool {
		if !cycles[i].Period.Start.Equal(cycles[j].Period.Start) {
			return cycles[i].Period.Start.Before(cycles[j].Period.Start)
		}
		return cycles[i].ID < cycles[j].ID
	})
}

func (s *memState) ReplaceShares(_ context.Context, cycleID billing.CycleID, shares []billing.ResidentShare) error {
	for _, id := range s.sharesByCycle[cycleID] {
		delete(s.shares, id)
	}
	ids := make([]billing.ShareID, len(shares))
	for i, share := range shares {
		s.shares[share.ID] = share
		ids[i] = share.ID
	}
	s.sharesByCycle[cycleID] = ids
	return nil
}

func (s *memState) GetShare(_ context.Context, id billing.ShareID) (billing.ResidentShare, error) {
	share, ok := s.shares[id]
	if !ok {
		return billing.ResidentShare{}, billing.ErrShareNotFound
	}
	return share, nil
}

func (s *memState) UpdateSharePayment(_ context.Context, share billing.ResidentShare) error {
	current, ok := s.shares[share.ID]
	if !ok {
		return billing.ErrShareNotFound
	}
	current.AmountPaid = share.AmountPaid
	current.PaymentStatus = share.PaymentStatus
	current.PaidAt = share.PaidAt
	s.shares[share.ID] = current
	return nil
}

func (s *memState) SharesForCycle(_ context.Context, cycleID billing.CycleID) ([]billing.ResidentShare, error) {
	ids := s.sharesByCycle[cycleID]
	result := make([]billing.ResidentShare, 0, len(ids))
	for _, id := range ids {
		if share, ok := s.shares[id]; ok {
			result = append(result, share)
		}
	}
	return result, nil
}

func (s *memState) SharesForStudent(_ context.Context, studentID billing.StudentID) ([]billing.ResidentShare, error) {
	var result []billing.ResidentShare
	for _, share := range s.shares {
		if share.StudentID == studentID {
			result = append(result, share)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *memState) AppendPayment(_ context.Context, entry billing.PaymentEntry) error {
	if entry.IdempotencyKey != "" {
		if s.paymentKeys[entry.IdempotencyKey] {
			return billing.ErrDuplicatePayment
		}
		s.paymentKeys[entry.IdempotencyKey] = true
	}
	s.payments = append(s.payments, entry)
	return nil
}

func (s *memState) PaymentsForShare(_ context.Context, shareID billing.ShareID) ([]billing.PaymentEntry, error) {
	var result []billing.PaymentEntry
	for _, p := range s.payments {
		if p.ShareID == shareID {
			result = append(result, p)
		}
	}
	return result, nil
}
