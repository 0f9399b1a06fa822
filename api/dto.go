/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts are decimal strings ("23340", "76670.00"), never floats.
  Dates are "YYYY-MM-DD"; timestamps are RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/voltline/billing-engine/billing"
	"github.com/voltline/billing-engine/reporting"
)

// =============================================================================
// RATE SCHEDULES
// =============================================================================

// RateScheduleDTO represents a rate schedule in API responses.
type RateScheduleDTO struct {
	ID           string  `json:"id"`
	PricePerUnit string  `json:"price_per_unit"`
	ValidFrom    string  `json:"valid_from"`
	ValidTo      *string `json:"valid_to,omitempty"`
	Active       bool    `json:"active"`
}

// CreateRateScheduleRequest is the request to register a rate schedule.
type CreateRateScheduleRequest struct {
	ID           string  `json:"id"`
	PricePerUnit string  `json:"price_per_unit"`
	ValidFrom    string  `json:"valid_from"`
	ValidTo      *string `json:"valid_to,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

// =============================================================================
// BEDS AND OCCUPANCY
// =============================================================================

// CreateBedRequest registers a bed within a room.
type CreateBedRequest struct {
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
}

// CreateOccupancyRequest records a student's stay on a bed.
type CreateOccupancyRequest struct {
	ID        string  `json:"id"`
	StudentID string  `json:"student_id"`
	BedID     string  `json:"bed_id"`
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date,omitempty"`
}

// OccupancyDTO represents an occupancy record in API responses.
type OccupancyDTO struct {
	ID        string  `json:"id"`
	StudentID string  `json:"student_id"`
	BedID     string  `json:"bed_id"`
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date,omitempty"`
}

// =============================================================================
// BILLING CYCLES
// =============================================================================

// CycleDTO represents a billing cycle in API responses.
type CycleDTO struct {
	ID             string  `json:"id"`
	RoomID         string  `json:"room_id"`
	CycleStart     string  `json:"cycle_start"`
	CycleEnd       string  `json:"cycle_end"`
	MeterStart     int64   `json:"meter_start"`
	MeterEnd       int64   `json:"meter_end"`
	ConsumedUnits  int64   `json:"consumed_units"`
	RateScheduleID string  `json:"rate_schedule_id"`
	TotalCost      string  `json:"total_cost"`
	Status         string  `json:"status"`
	Version        int     `json:"version"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      string  `json:"created_at"`
	CalculatedAt   *string `json:"calculated_at,omitempty"`
}

// CreateCycleRequest is the metering input for a new cycle.
type CreateCycleRequest struct {
	RoomID     string `json:"room_id"`
	CycleStart string `json:"cycle_start"`
	CycleEnd   string `json:"cycle_end"`
	MeterStart int64  `json:"meter_start"`
	MeterEnd   int64  `json:"meter_end"`
	Actor      string `json:"actor"`
}

// CalculateResponse is the outcome of a proration run.
type CalculateResponse struct {
	Cycle  CycleDTO   `json:"cycle"`
	Shares []ShareDTO `json:"shares"`
}

// FinalizeBatchRequest finalizes several cycles in one call.
type FinalizeBatchRequest struct {
	CycleIDs []string `json:"cycle_ids"`
	Actor    string   `json:"actor"`
}

// =============================================================================
// RESIDENT SHARES AND PAYMENTS
// =============================================================================

// ShareDTO represents a resident share in API responses.
type ShareDTO struct {
	ID                string  `json:"id"`
	CycleID           string  `json:"cycle_id"`
	StudentID         string  `json:"student_id"`
	OccupancyRecordID string  `json:"occupancy_record_id"`
	OccupiedDays      int     `json:"occupied_days"`
	ShareRatio        string  `json:"share_ratio"`
	AmountDue         string  `json:"amount_due"`
	AmountPaid        string  `json:"amount_paid"`
	PaymentStatus     string  `json:"payment_status"`
	PaidAt            *string `json:"paid_at,omitempty"`
}

// RecordPaymentRequest applies a payment to a share.
type RecordPaymentRequest struct {
	Amount         string `json:"amount"`
	Actor          string `json:"actor"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// BatchPaymentItem is one row of a batch payment request.
type BatchPaymentItem struct {
	ShareID        string `json:"share_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RecordPaymentsRequest applies several payments in one call.
type RecordPaymentsRequest struct {
	Payments []BatchPaymentItem `json:"payments"`
	Actor    string             `json:"actor"`
}

// PaymentDTO represents one ledger entry in API responses.
type PaymentDTO struct {
	ID             string `json:"id"`
	ShareID        string `json:"share_id"`
	Amount         string `json:"amount"`
	ActorID        string `json:"actor_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	RecordedAt     string `json:"recorded_at"`
}

// BatchResultDTO reports per-item outcomes of a batch operation.
type BatchResultDTO struct {
	Succeeded []string          `json:"succeeded"`
	Failed    []BatchFailureDTO `json:"failed"`
}

// BatchFailureDTO is one failed item of a batch operation.
type BatchFailureDTO struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// =============================================================================
// REPORTING
// =============================================================================

// SummaryDTO is the headline money view.
type SummaryDTO struct {
	TotalBilled    string `json:"total_billed"`
	TotalCollected string `json:"total_collected"`
	Outstanding    string `json:"outstanding"`
	CycleCount     int    `json:"cycle_count"`
	ShareCount     int    `json:"share_count"`
	PaidShares     int    `json:"paid_shares"`
}

// PeriodBreakdownDTO is a summary sliced by cycle window.
type PeriodBreakdownDTO struct {
	PeriodStart    string `json:"period_start"`
	PeriodEnd      string `json:"period_end"`
	TotalBilled    string `json:"total_billed"`
	TotalCollected string `json:"total_collected"`
	Outstanding    string `json:"outstanding"`
	CycleCount     int    `json:"cycle_count"`
}

// StatementDTO is one student's position across their shares.
type StatementDTO struct {
	StudentID      string     `json:"student_id"`
	TotalBilled    string     `json:"total_billed"`
	TotalCollected string     `json:"total_collected"`
	Outstanding    string     `json:"outstanding"`
	Shares         []ShareDTO `json:"shares"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCycleDTO(c billing.BillingCycle) CycleDTO {
	dto := CycleDTO{
		ID:             string(c.ID),
		RoomID:         string(c.RoomID),
		CycleStart:     c.Period.Start.String(),
		CycleEnd:       c.Period.End.String(),
		MeterStart:     c.MeterStart,
		MeterEnd:       c.MeterEnd,
		ConsumedUnits:  c.ConsumedUnits,
		RateScheduleID: string(c.RateScheduleID),
		TotalCost:      c.TotalCost.String(),
		Status:         string(c.Status),
		Version:        c.Version,
		CreatedBy:      c.CreatedBy,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
	if c.CalculatedAt != nil {
		s := c.CalculatedAt.Format(time.RFC3339)
		dto.CalculatedAt = &s
	}
	return dto
}

func toShareDTO(s billing.ResidentShare) ShareDTO {
	dto := ShareDTO{
		ID:                string(s.ID),
		CycleID:           string(s.CycleID),
		StudentID:         string(s.StudentID),
		OccupancyRecordID: string(s.OccupancyRecordID),
		OccupiedDays:      s.OccupiedDays,
		ShareRatio:        s.ShareRatio.String(),
		AmountDue:         s.AmountDue.String(),
		AmountPaid:        s.AmountPaid.String(),
		PaymentStatus:     string(s.PaymentStatus),
	}
	if s.PaidAt != nil {
		t := s.PaidAt.Format(time.RFC3339)
		dto.PaidAt = &t
	}
	return dto
}

func toShareDTOs(shares []billing.ResidentShare) []ShareDTO {
	dtos := make([]ShareDTO, len(shares))
	for i, s := range shares {
		dtos[i] = toShareDTO(s)
	}
	return dtos
}

func toRateDTO(r billing.RateSchedule) RateScheduleDTO {
	dto := RateScheduleDTO{
		ID:           string(r.ID),
		PricePerUnit: r.PricePerUnit.String(),
		ValidFrom:    r.ValidFrom.String(),
		Active:       r.Active,
	}
	if r.ValidTo != nil {
		s := r.ValidTo.String()
		dto.ValidTo = &s
	}
	return dto
}

func toBatchResultDTO(r billing.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{
		Succeeded: r.Succeeded,
		Failed:    make([]BatchFailureDTO, len(r.Failed)),
	}
	if dto.Succeeded == nil {
		dto.Succeeded = []string{}
	}
	for i, f := range r.Failed {
		dto.Failed[i] = BatchFailureDTO{Item: f.Item, Reason: f.Reason}
	}
	return dto
}

func toSummaryDTO(s reporting.Summary) SummaryDTO {
	return SummaryDTO{
		TotalBilled:    s.TotalBilled.String(),
		TotalCollected: s.TotalCollected.String(),
		Outstanding:    s.Outstanding.String(),
		CycleCount:     s.CycleCount,
		ShareCount:     s.ShareCount,
		PaidShares:     s.PaidShares,
	}
}
