/*
Package sqlite provides a SQLite-backed implementation of the billing
storage interfaces.

PURPOSE:
  Implements billing.Store and billing.TxStore using SQLite. In production
  the same patterns apply to PostgreSQL - only minor dialect differences.

KEY TABLES:
  rate_schedules:    Price-per-unit validity windows
  beds:              Bed-to-room mapping (append-only collaborator input)
  occupancy_records: Student-to-bed assignments (read-only for the engine)
  billing_cycles:    Room bills with lifecycle status and version column
  resident_shares:   Per-student sub-bills, replaced wholesale on recompute
  payments:          Append-only payment ledger, unique idempotency key

CONCURRENCY:
  A sync.RWMutex serializes writers; cycle updates additionally carry an
  optimistic version check (UPDATE ... WHERE version = ?) so a competing
  recompute surfaces as billing.ErrConcurrentModification instead of a
  lost update.

WAL MODE:
  The database is opened with WAL so readers don't block the single
  writer and crash recovery is cheap.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  engine := billing.NewEngine(store)

SEE ALSO:
  - billing/store.go:        Interface definitions and contracts
  - billing/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/voltline/billing-engine/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Rate schedules (price per metered unit over a validity window)
	CREATE TABLE IF NOT EXISTS rate_schedules (
		id TEXT PRIMARY KEY,
		price_per_unit TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_schedules_active
		ON rate_schedules(active, valid_from);

	-- Beds (stable, append-only room mapping)
	CREATE TABLE IF NOT EXISTS beds (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_beds_room ON beds(room_id);

	-- Occupancy records (collaborator input; the engine never mutates these)
	CREATE TABLE IF NOT EXISTS occupancy_records (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		bed_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_occupancy_bed_dates
		ON occupancy_records(bed_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_occupancy_student
		ON occupancy_records(student_id);

	-- Billing cycles
	CREATE TABLE IF NOT EXISTS billing_cycles (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		cycle_start TEXT NOT NULL,
		cycle_end TEXT NOT NULL,
		meter_start INTEGER NOT NULL,
		meter_end INTEGER NOT NULL,
		rate_schedule_id TEXT NOT NULL,
		consumed_units INTEGER NOT NULL DEFAULT 0,
		total_cost TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'draft',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT,
		created_at TEXT NOT NULL,
		calculated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_room_window
		ON billing_cycles(room_id, cycle_start, cycle_end);
	CREATE INDEX IF NOT EXISTS idx_cycles_status
		ON billing_cycles(status);

	-- Resident shares (replaced wholesale by calculate)
	CREATE TABLE IF NOT EXISTS resident_shares (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		occupancy_record_id TEXT NOT NULL,
		occupied_days INTEGER NOT NULL,
		share_ratio TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		paid_at TEXT,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shares_cycle ON resident_shares(cycle_id, seq);
	CREATE INDEX IF NOT EXISTS idx_shares_student ON resident_shares(student_id);

	-- Payments (append-only ledger)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		share_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		actor_id TEXT,
		idempotency_key TEXT UNIQUE,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_share ON payments(share_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier abstracts *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RATE STORE
// =============================================================================

func (s *Store) SaveRateSchedule(ctx context.Context, rate billing.RateSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRateSchedule(ctx, s.db, rate)
}

func saveRateSchedule(ctx context.Context, q querier, rate billing.RateSchedule) error {
	query := `
		INSERT INTO rate_schedules (id, price_per_unit, valid_from, valid_to, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			price_per_unit = excluded.price_per_unit,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			active = excluded.active
	`
	_, err := q.ExecContext(ctx, query,
		rate.ID,
		rate.PricePerUnit.String(),
		rate.ValidFrom.String(),
		nullDate(rate.ValidTo),
		rate.Active,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate schedule: %w", err)
	}
	return nil
}

func (s *Store) ActiveRateSchedules(ctx context.Context) ([]billing.RateSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRates(ctx, s.db,
		`SELECT id, price_per_unit, valid_from, valid_to, active
		 FROM rate_schedules WHERE active = TRUE ORDER BY valid_from, id`)
}

func (s *Store) ListRateSchedules(ctx context.Context) ([]billing.RateSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRates(ctx, s.db,
		`SELECT id, price_per_unit, valid_from, valid_to, active
		 FROM rate_schedules ORDER BY valid_from, id`)
}

func queryRates(ctx context.Context, q querier, query string, args ...any) ([]billing.RateSchedule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate schedules: %w", err)
	}
	defer rows.Close()

	var rates []billing.RateSchedule
	for rows.Next() {
		var (
			r         billing.RateSchedule
			price     string
			validFrom string
			validTo   sql.NullString
		)
		if err := rows.Scan(&r.ID, &price, &validFrom, &validTo, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan rate schedule: %w", err)
		}
		r.PricePerUnit = mustDecimal(price)
		r.ValidFrom = mustDate(validFrom)
		if validTo.Valid {
			d := mustDate(validTo.String)
			r.ValidTo = &d
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// =============================================================================
// INVENTORY STORE
// =============================================================================

func (s *Store) SaveBed(ctx context.Context, bed billing.Bed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO beds (id, room_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET room_id = excluded.room_id
	`
	_, err := s.db.ExecContext(ctx, query, bed.ID, bed.RoomID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save bed: %w", err)
	}
	return nil
}

func (s *Store) BedsInRoom(ctx context.Context, roomID billing.RoomID) ([]billing.Bed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id FROM beds WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query beds: %w", err)
	}
	defer rows.Close()

	var beds []billing.Bed
	for rows.Next() {
		var b billing.Bed
		if err := rows.Scan(&b.ID, &b.RoomID); err != nil {
			return nil, fmt.Errorf("failed to scan bed: %w", err)
		}
		beds = append(beds, b)
	}
	return beds, rows.Err()
}

func (s *Store) SaveOccupancy(ctx context.Context, rec billing.OccupancyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO occupancy_records (id, student_id, bed_id, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			student_id = excluded.student_id,
			bed_id = excluded.bed_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.StudentID, rec.BedID,
		rec.Start.String(), nullDate(rec.End),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save occupancy record: %w", err)
	}
	return nil
}

func (s *Store) OccupanciesOnBeds(ctx context.Context, bedIDs []billing.BedID, period billing.Period) ([]billing.OccupancyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(bedIDs) == 0 {
		return nil, nil
	}

	// ISO dates compare correctly as strings.
	placeholders := strings.Repeat("?,", len(bedIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
		SELECT id, student_id, bed_id, start_date, end_date
		FROM occupancy_records
		WHERE bed_id IN (%s)
		  AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date, student_id, id
	`, placeholders)

	args := make([]any, 0, len(bedIDs)+2)
	for _, id := range bedIDs {
		args = append(args, id)
	}
	args = append(args, period.End.String(), period.Start.String())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy records: %w", err)
	}
	defer rows.Close()

	var records []billing.OccupancyRecord
	for rows.Next() {
		var (
			rec     billing.OccupancyRecord
			start   string
			endDate sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.BedID, &start, &endDate); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy record: %w", err)
		}
		rec.Start = mustDate(start)
		if endDate.Valid {
			d := mustDate(endDate.String)
			rec.End = &d
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// CYCLE STORE
// =============================================================================

const cycleColumns = `id, room_id, cycle_start, cycle_end, meter_start, meter_end,
	rate_schedule_id, consumed_units, total_cost, status, active, version,
	created_by, created_at, calculated_at`

func (s *Store) InsertCycle(ctx context.Context, cycle billing.BillingCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertCycle(ctx, s.db, cycle)
}

func insertCycle(ctx context.Context, q querier, cycle billing.BillingCycle) error {
	query := `
		INSERT INTO billing_cycles (` + cycleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		cycle.ID, cycle.RoomID,
		cycle.Period.Start.String(), cycle.Period.End.String(),
		cycle.MeterStart, cycle.MeterEnd,
		cycle.RateScheduleID, cycle.ConsumedUnits, cycle.TotalCost.String(),
		cycle.Status, cycle.Active, cycle.Version,
		cycle.CreatedBy,
		cycle.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(cycle.CalculatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

func (s *Store) GetCycle(ctx context.Context, id billing.CycleID) (billing.BillingCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCycle(ctx, s.db, id)
}

func getCycle(ctx context.Context, q querier, id billing.CycleID) (billing.BillingCycle, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM billing_cycles WHERE id = ?`, id)
	cycle, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.BillingCycle{}, billing.ErrCycleNotFound
	}
	return cycle, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (billing.BillingCycle, error) {
	var (
		c            billing.BillingCycle
		start, end   string
		totalCost    string
		createdBy    sql.NullString
		createdAt    string
		calculatedAt sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.RoomID, &start, &end, &c.MeterStart, &c.MeterEnd,
		&c.RateScheduleID, &c.ConsumedUnits, &totalCost, &c.Status, &c.Active,
		&c.Version, &createdBy, &createdAt, &calculatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Period = billing.Period{Start: mustDate(start), End: mustDate(end)}
	c.TotalCost = mustDecimal(totalCost)
	c.CreatedBy = createdBy.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if calculatedAt.Valid {
		t, _ := time.Parse(time.RFC3339, calculatedAt.String)
		c.CalculatedAt = &t
	}
	return c, nil
}

func (s *Store) UpdateCycle(ctx context.Context, cycle billing.BillingCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateCycle(ctx, s.db, cycle)
}

func updateCycle(ctx context.Context, q querier, cycle billing.BillingCycle) error {
	query := `
		UPDATE billing_cycles SET
			meter_start = ?, meter_end = ?, rate_schedule_id = ?,
			consumed_units = ?, total_cost = ?, status = ?, active = ?,
			calculated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, query,
		cycle.MeterStart, cycle.MeterEnd, cycle.RateScheduleID,
		cycle.ConsumedUnits, cycle.TotalCost.String(), cycle.Status, cycle.Active,
		nullTime(cycle.CalculatedAt),
		cycle.ID, cycle.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update cycle: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the cycle is gone or someone else bumped the version.
		if _, err := getCycle(ctx, q, cycle.ID); err != nil {
			return err
		}
		return billing.ErrConcurrentModification
	}
	return nil
}

func (s *Store) OverlappingCycle(ctx context.Context, roomID billing.RoomID, period billing.Period) (billing.BillingCycle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+cycleColumns+` FROM billing_cycles
		WHERE room_id = ? AND active = TRUE AND status != ?
		  AND cycle_start <= ? AND cycle_end >= ?
		LIMIT 1
	`, roomID, billing.CycleCancelled, period.End.String(), period.Start.String())

	cycle, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.BillingCycle{}, false, nil
	}
	if err != nil {
		return billing.BillingCycle{}, false, fmt.Errorf("failed to query overlapping cycle: %w", err)
	}
	return cycle, true, nil
}

func (s *Store) ListCycles(ctx context.Context) ([]billing.BillingCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryCycles(ctx, s.db,
		`SELECT `+cycleColumns+` FROM billing_cycles ORDER BY cycle_start, id`)
}

func (s *Store) ListCyclesForRoom(ctx context.Context, roomID billing.RoomID) ([]billing.BillingCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryCycles(ctx, s.db,
		`SELECT `+cycleColumns+` FROM billing_cycles WHERE room_id = ? ORDER BY cycle_start, id`,
		roomID)
}

func queryCycles(ctx context.Context, q querier, query string, args ...any) ([]billing.BillingCycle, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []billing.BillingCycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, cycle)
	}
	return cycles, rows.Err()
}

// =============================================================================
// SHARE STORE
// =============================================================================

const shareColumns = `id, cycle_id, student_id, occupancy_record_id, occupied_days,
	share_ratio, amount_due, amount_paid, payment_status, paid_at`

func (s *Store) ReplaceShares(ctx context.Context, cycleID billing.CycleID, shares []billing.ResidentShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replaceShares(ctx, s.db, cycleID, shares)
}

func replaceShares(ctx context.Context, q querier, cycleID billing.CycleID, shares []billing.ResidentShare) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM resident_shares WHERE cycle_id = ?`, cycleID); err != nil {
		return fmt.Errorf("failed to delete prior shares: %w", err)
	}

	query := `
		INSERT INTO resident_shares (` + shareColumns + `, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC().Format(time.RFC3339)
	for i, share := range shares {
		_, err := q.ExecContext(ctx, query,
			share.ID, share.CycleID, share.StudentID, share.OccupancyRecordID,
			share.OccupiedDays, share.ShareRatio.String(),
			share.AmountDue.String(), share.AmountPaid.String(),
			share.PaymentStatus, nullTime(share.PaidAt),
			i, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert share: %w", err)
		}
	}
	return nil
}

func (s *Store) GetShare(ctx context.Context, id billing.ShareID) (billing.ResidentShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getShare(ctx, s.db, id)
}

func getShare(ctx context.Context, q querier, id billing.ShareID) (billing.ResidentShare, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM resident_shares WHERE id = ?`, id)
	share, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.ResidentShare{}, billing.ErrShareNotFound
	}
	return share, err
}

func scanShare(row rowScanner) (billing.ResidentShare, error) {
	var (
		sh     billing.ResidentShare
		ratio  string
		due    string
		paid   string
		paidAt sql.NullString
	)
	err := row.Scan(
		&sh.ID, &sh.CycleID, &sh.StudentID, &sh.OccupancyRecordID,
		&sh.OccupiedDays, &ratio, &due, &paid, &sh.PaymentStatus, &paidAt,
	)
	if err != nil {
		return sh, err
	}
	sh.ShareRatio = mustDecimal(ratio)
	sh.AmountDue = mustDecimal(due)
	sh.AmountPaid = mustDecimal(paid)
	if paidAt.Valid {
		t, _ := time.Parse(time.RFC3339, paidAt.String)
		sh.PaidAt = &t
	}
	return sh, nil
}

func (s *Store) UpdateSharePayment(ctx context.Context, share billing.ResidentShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSharePayment(ctx, s.db, share)
}

func updateSharePayment(ctx context.Context, q querier, share billing.ResidentShare) error {
	res, err := q.ExecContext(ctx, `
		UPDATE resident_shares SET amount_paid = ?, payment_status = ?, paid_at = ?
		WHERE id = ?
	`, share.AmountPaid.String(), share.PaymentStatus, nullTime(share.PaidAt), share.ID)
	if err != nil {
		return fmt.Errorf("failed to update share payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return billing.ErrShareNotFound
	}
	return nil
}

func (s *Store) SharesForCycle(ctx context.Context, cycleID billing.CycleID) ([]billing.ResidentShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryShares(ctx, s.db,
		`SELECT `+shareColumns+` FROM resident_shares WHERE cycle_id = ? ORDER BY seq`,
		cycleID)
}

func (s *Store) SharesForStudent(ctx context.Context, studentID billing.StudentID) ([]billing.ResidentShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryShares(ctx, s.db,
		`SELECT `+shareColumns+` FROM resident_shares WHERE student_id = ? ORDER BY cycle_id, seq`,
		studentID)
}

func queryShares(ctx context.Context, q querier, query string, args ...any) ([]billing.ResidentShare, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	var shares []billing.ResidentShare
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, entry billing.PaymentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendPayment(ctx, s.db, entry)
}

func appendPayment(ctx context.Context, q querier, entry billing.PaymentEntry) error {
	query := `
		INSERT INTO payments (id, share_id, amount, actor_id, idempotency_key, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		entry.ID, entry.ShareID, entry.Amount.String(),
		entry.ActorID, nullString(entry.IdempotencyKey),
		entry.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (s *Store) PaymentsForShare(ctx context.Context, shareID billing.ShareID) ([]billing.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db, shareID)
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store mutex is
// held for the duration, serializing concurrent engine operations.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes all calls through the open transaction, so fn observes
// its own uncommitted writes.
type txStore struct {
	tx *sql.Tx
}

var _ billing.Store = (*txStore)(nil)
var _ billing.TxStore = (*Store)(nil)

func (t *txStore) SaveRateSchedule(ctx context.Context, rate billing.RateSchedule) error {
	return saveRateSchedule(ctx, t.tx, rate)
}

func (t *txStore) ActiveRateSchedules(ctx context.Context) ([]billing.RateSchedule, error) {
	return queryRates(ctx, t.tx,
		`SELECT id, price_per_unit, valid_from, valid_to, active
		 FROM rate_schedules WHERE active = TRUE ORDER BY valid_from, id`)
}

func (t *txStore) ListRateSchedules(ctx context.Context) ([]billing.RateSchedule, error) {
	return queryRates(ctx, t.tx,
		`SELECT id, price_per_unit, valid_from, valid_to, active
		 FROM rate_schedules ORDER BY valid_from, id`)
}

func (t *txStore) SaveBed(ctx context.Context, bed billing.Bed) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO beds (id, room_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET room_id = excluded.room_id
	`, bed.ID, bed.RoomID, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (t *txStore) BedsInRoom(ctx context.Context, roomID billing.RoomID) ([]billing.Bed, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, room_id FROM beds WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query beds: %w", err)
	}
	defer rows.Close()

	var beds []billing.Bed
	for rows.Next() {
		var b billing.Bed
		if err := rows.Scan(&b.ID, &b.RoomID); err != nil {
			return nil, err
		}
		beds = append(beds, b)
	}
	return beds, rows.Err()
}

func (t *txStore) SaveOccupancy(ctx context.Context, rec billing.OccupancyRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO occupancy_records (id, student_id, bed_id, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			student_id = excluded.student_id,
			bed_id = excluded.bed_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, rec.ID, rec.StudentID, rec.BedID, rec.Start.String(), nullDate(rec.End),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func (t *txStore) OccupanciesOnBeds(ctx context.Context, bedIDs []billing.BedID, period billing.Period) ([]billing.OccupancyRecord, error) {
	if len(bedIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(bedIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
		SELECT id, student_id, bed_id, start_date, end_date
		FROM occupancy_records
		WHERE bed_id IN (%s)
		  AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date, student_id, id
	`, placeholders)

	args := make([]any, 0, len(bedIDs)+2)
	for _, id := range bedIDs {
		args = append(args, id)
	}
	args = append(args, period.End.String(), period.Start.String())

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy records: %w", err)
	}
	defer rows.Close()

	var records []billing.OccupancyRecord
	for rows.Next() {
		var (
			rec     billing.OccupancyRecord
			start   string
			endDate sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.BedID, &start, &endDate); err != nil {
			return nil, err
		}
		rec.Start = mustDate(start)
		if endDate.Valid {
			d := mustDate(endDate.String)
			rec.End = &d
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *txStore) InsertCycle(ctx context.Context, cycle billing.BillingCycle) error {
	return insertCycle(ctx, t.tx, cycle)
}

func (t *txStore) GetCycle(ctx context.Context, id billing.CycleID) (billing.BillingCycle, error) {
	return getCycle(ctx, t.tx, id)
}

func (t *txStore) UpdateCycle(ctx context.Context, cycle billing.BillingCycle) error {
	return updateCycle(ctx, t.tx, cycle)
}

func (t *txStore) OverlappingCycle(ctx context.Context, roomID billing.RoomID, period billing.Period) (billing.BillingCycle, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+cycleColumns+` FROM billing_cycles
		WHERE room_id = ? AND active = TRUE AND status != ?
		  AND cycle_start <= ? AND cycle_end >= ?
		LIMIT 1
	`, roomID, billing.CycleCancelled, period.End.String(), period.Start.String())

	cycle, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.BillingCycle{}, false, nil
	}
	if err != nil {
		return billing.BillingCycle{}, false, err
	}
	return cycle, true, nil
}

func (t *txStore) ListCycles(ctx context.Context) ([]billing.BillingCycle, error) {
	return queryCycles(ctx, t.tx,
		`SELECT `+cycleColumns+` FROM billing_cycles ORDER BY cycle_start, id`)
}

func (t *txStore) ListCyclesForRoom(ctx context.Context, roomID billing.RoomID) ([]billing.BillingCycle, error) {
	return queryCycles(ctx, t.tx,
		`SELECT `+cycleColumns+` FROM billing_cycles WHERE room_id = ? ORDER BY cycle_start, id`,
		roomID)
}

func (t *txStore) ReplaceShares(ctx context.Context, cycleID billing.CycleID, shares []billing.ResidentShare) error {
	return replaceShares(ctx, t.tx, cycleID, shares)
}

func (t *txStore) GetShare(ctx context.Context, id billing.ShareID) (billing.ResidentShare, error) {
	return getShare(ctx, t.tx, id)
}

func (t *txStore) UpdateSharePayment(ctx context.Context, share billing.ResidentShare) error {
	return updateSharePayment(ctx, t.tx, share)
}

func (t *txStore) SharesForCycle(ctx context.Context, cycleID billing.CycleID) ([]billing.ResidentShare, error) {
	return queryShares(ctx, t.tx,
		`SELECT `+shareColumns+` FROM resident_shares WHERE cycle_id = ? ORDER BY seq`,
		cycleID)
}

func (t *txStore) SharesForStudent(ctx context.Context, studentID billing.StudentID) ([]billing.ResidentShare, error) {
	return queryShares(ctx, t.tx,
		`SELECT `+shareColumns+` FROM resident_shares WHERE student_id = ? ORDER BY cycle_id, seq`,
		studentID)
}

func (t *txStore) AppendPayment(ctx context.Context, entry billing.PaymentEntry) error {
	return appendPayment(ctx, t.tx, entry)
}

func (t *txStore) PaymentsForShare(ctx context.Context, shareID billing.ShareID) ([]billing.PaymentEntry, error) {
	return queryPayments(ctx, t.tx, shareID)
}

func queryPayments(ctx context.Context, q querier, shareID billing.ShareID) ([]billing.PaymentEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, share_id, amount, actor_id, idempotency_key, recorded_at
		FROM payments WHERE share_id = ? ORDER BY recorded_at, id
	`, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var entries []billing.PaymentEntry
	for rows.Next() {
		var (
			e          billing.PaymentEntry
			amount     string
			actorID    sql.NullString
			idemKey    sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.ShareID, &amount, &actorID, &idemKey, &recordedAt); err != nil {
			return nil, err
		}
		e.Amount = mustDecimal(amount)
		e.ActorID = actorID.String
		e.IdempotencyKey = idemKey.String
		e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mustDate(s string) billing.Date {
	d, err := billing.ParseDate(s)
	if err != nil {
		return billing.Date{}
	}
	return d
}

func nullDate(d *billing.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
