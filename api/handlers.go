/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Rates:
    GET    /api/rates                    List rate schedules
    POST   /api/rates                    Register a rate schedule

  Inventory:
    POST   /api/beds                     Register a bed
    POST   /api/occupancies              Record an occupancy

  Cycles:
    GET    /api/cycles                   List cycles (?room_id= filters)
    POST   /api/cycles                   Create a draft cycle
    GET    /api/cycles/{id}              Get one cycle
    POST   /api/cycles/{id}/calculate    Prorate the cycle cost
    POST   /api/cycles/{id}/finalize     Freeze the cycle
    POST   /api/cycles/{id}/retire       Cancel a draft cycle
    GET    /api/cycles/{id}/shares       Shares of a cycle
    POST   /api/cycles/finalize          Batch finalize

  Shares and payments:
    GET    /api/shares/{id}              Get one share
    POST   /api/shares/{id}/payments     Record a payment
    GET    /api/shares/{id}/payments     Payment ledger of a share
    POST   /api/shares/{id}/cancel       Cancel a share
    POST   /api/payments/batch           Batch payments

  Reporting:
    GET    /api/reports/summary          Headline money view
    GET    /api/reports/periods          Per-period breakdown
    GET    /api/students/{id}/statement  One student's statement

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, forbidden transitions
  - 404: Resource not found
  - 409: Conflict (duplicate cycle, duplicate payment, version race)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltline/billing-engine/billing"
	"github.com/voltline/billing-engine/metrics"
	"github.com/voltline/billing-engine/reporting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *billing.Engine
	Store   billing.TxStore
	Reports *reporting.Service
}

// NewHandler creates a handler over the given store.
func NewHandler(store billing.TxStore) *Handler {
	return &Handler{
		Engine:  billing.NewEngine(store),
		Store:   store,
		Reports: reporting.NewService(store),
	}
}

// =============================================================================
// RATE SCHEDULE HANDLERS
// =============================================================================

// ListRates returns all rate schedules.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.Store.ListRateSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rate schedules", err)
		return
	}

	dtos := make([]RateScheduleDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = toRateDTO(rate)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRate registers a rate schedule.
func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req CreateRateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := decimal.NewFromString(req.PricePerUnit)
	if err != nil || !price.IsPositive() {
		writeError(w, http.StatusBadRequest, "price_per_unit must be a positive decimal string", err)
		return
	}
	validFrom, err := billing.ParseDate(req.ValidFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid valid_from format (use YYYY-MM-DD)", err)
		return
	}

	rate := billing.RateSchedule{
		ID:           billing.RateID(req.ID),
		PricePerUnit: price,
		ValidFrom:    validFrom,
		Active:       true,
	}
	if rate.ID == "" {
		rate.ID = billing.RateID(uuid.NewString())
	}
	if req.ValidTo != nil {
		validTo, err := billing.ParseDate(*req.ValidTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_to format (use YYYY-MM-DD)", err)
			return
		}
		if validTo.Before(validFrom) {
			writeError(w, http.StatusBadRequest, "valid_to must not precede valid_from", nil)
			return
		}
		rate.ValidTo = &validTo
	}
	if req.Active != nil {
		rate.Active = *req.Active
	}

	// Refuse windows that overlap an existing active schedule: at most one
	// rate may cover any given day.
	existing, err := h.Store.ActiveRateSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check rate schedules", err)
		return
	}
	if rate.Active {
		for _, other := range existing {
			if other.ID == rate.ID {
				continue
			}
			if rateWindowsOverlap(rate, other) {
				writeError(w, http.StatusConflict, "Validity window overlaps schedule "+string(other.ID), nil)
				return
			}
		}
	}

	if err := h.Store.SaveRateSchedule(r.Context(), rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateDTO(rate))
}

// rateWindowsOverlap treats a nil ValidTo as open-ended.
func rateWindowsOverlap(a, b billing.RateSchedule) bool {
	if a.ValidTo != nil && a.ValidTo.Before(b.ValidFrom) {
		return false
	}
	if b.ValidTo != nil && b.ValidTo.Before(a.ValidFrom) {
		return false
	}
	return true
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// CreateBed registers a bed within a room.
func (h *Handler) CreateBed(w http.ResponseWriter, r *http.Request) {
	var req CreateBedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.RoomID == "" {
		writeError(w, http.StatusBadRequest, "id and room_id are required", nil)
		return
	}

	bed := billing.Bed{ID: billing.BedID(req.ID), RoomID: billing.RoomID(req.RoomID)}
	if err := h.Store.SaveBed(r.Context(), bed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save bed", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// CreateOccupancy records a student's stay on a bed.
func (h *Handler) CreateOccupancy(w http.ResponseWriter, r *http.Request) {
	var req CreateOccupancyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StudentID == "" || req.BedID == "" {
		writeError(w, http.StatusBadRequest, "student_id and bed_id are required", nil)
		return
	}

	start, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	rec := billing.OccupancyRecord{
		ID:        billing.OccupancyID(req.ID),
		StudentID: billing.StudentID(req.StudentID),
		BedID:     billing.BedID(req.BedID),
		Start:     start,
	}
	if rec.ID == "" {
		rec.ID = billing.OccupancyID(uuid.NewString())
	}
	if req.EndDate != nil {
		end, err := billing.ParseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		if end.Before(start) {
			writeError(w, http.StatusBadRequest, "end_date must not precede start_date", nil)
			return
		}
		rec.End = &end
	}

	if err := h.Store.SaveOccupancy(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save occupancy", err)
		return
	}

	dto := OccupancyDTO{
		ID:        string(rec.ID),
		StudentID: string(rec.StudentID),
		BedID:     string(rec.BedID),
		StartDate: rec.Start.String(),
	}
	if rec.End != nil {
		s := rec.End.String()
		dto.EndDate = &s
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// CYCLE HANDLERS
// =============================================================================

// ListCycles returns all cycles, optionally filtered by room_id.
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	var (
		cycles []billing.BillingCycle
		err    error
	)
	if roomID := r.URL.Query().Get("room_id"); roomID != "" {
		cycles, err = h.Store.ListCyclesForRoom(r.Context(), billing.RoomID(roomID))
	} else {
		cycles, err = h.Store.ListCycles(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cycles", err)
		return
	}

	dtos := make([]CycleDTO, len(cycles))
	for i, c := range cycles {
		dtos[i] = toCycleDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCycle creates a draft cycle from metering input.
func (h *Handler) CreateCycle(w http.ResponseWriter, r *http.Request) {
	var req CreateCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := billing.ParseDate(req.CycleStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cycle_start format (use YYYY-MM-DD)", err)
		return
	}
	end, err := billing.ParseDate(req.CycleEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cycle_end format (use YYYY-MM-DD)", err)
		return
	}

	cycle, err := h.Engine.CreateCycle(r.Context(), billing.CycleInput{
		RoomID:     billing.RoomID(req.RoomID),
		CycleStart: start,
		CycleEnd:   end,
		MeterStart: req.MeterStart,
		MeterEnd:   req.MeterEnd,
		Actor:      req.Actor,
	})
	metrics.Observe(metrics.CyclesCreated, err)
	if err != nil {
		writeDomainError(w, "Failed to create cycle", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCycleDTO(cycle))
}

// GetCycle returns a single cycle.
func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	id := billing.CycleID(chi.URLParam(r, "id"))
	cycle, err := h.Store.GetCycle(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(cycle))
}

// CalculateCycle prorates the cycle cost into resident shares.
func (h *Handler) CalculateCycle(w http.ResponseWriter, r *http.Request) {
	id := billing.CycleID(chi.URLParam(r, "id"))
	actor := actorFrom(r)

	result, err := h.Engine.Calculate(r.Context(), id, actor)
	metrics.Observe(metrics.Calculations, err)
	if err != nil {
		writeDomainError(w, "Failed to calculate cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, CalculateResponse{
		Cycle:  toCycleDTO(result.Cycle),
		Shares: toShareDTOs(result.Shares),
	})
}

// FinalizeCycle freezes a calculated cycle.
func (h *Handler) FinalizeCycle(w http.ResponseWriter, r *http.Request) {
	id := billing.CycleID(chi.URLParam(r, "id"))
	cycle, err := h.Engine.Finalize(r.Context(), id, actorFrom(r))
	metrics.Observe(metrics.Finalizations, err)
	if err != nil {
		writeDomainError(w, "Failed to finalize cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(cycle))
}

// RetireCycle cancels a draft cycle.
func (h *Handler) RetireCycle(w http.ResponseWriter, r *http.Request) {
	id := billing.CycleID(chi.URLParam(r, "id"))
	cycle, err := h.Engine.Retire(r.Context(), id, actorFrom(r))
	if err != nil {
		writeDomainError(w, "Failed to retire cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(cycle))
}

// CycleShares returns the shares of a cycle.
func (h *Handler) CycleShares(w http.ResponseWriter, r *http.Request) {
	id := billing.CycleID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetCycle(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get cycle", err)
		return
	}
	shares, err := h.Store.SharesForCycle(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list shares", err)
		return
	}
	writeJSON(w, http.StatusOK, toShareDTOs(shares))
}

// FinalizeBatch finalizes several cycles, reporting per-item outcomes.
func (h *Handler) FinalizeBatch(w http.ResponseWriter, r *http.Request) {
	var req FinalizeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]billing.CycleID, len(req.CycleIDs))
	for i, id := range req.CycleIDs {
		ids[i] = billing.CycleID(id)
	}
	result := h.Engine.FinalizeCycles(r.Context(), ids, req.Actor)
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// =============================================================================
// SHARE AND PAYMENT HANDLERS
// =============================================================================

// GetShare returns a single resident share.
func (h *Handler) GetShare(w http.ResponseWriter, r *http.Request) {
	id := billing.ShareID(chi.URLParam(r, "id"))
	share, err := h.Store.GetShare(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get share", err)
		return
	}
	writeJSON(w, http.StatusOK, toShareDTO(share))
}

// RecordPayment applies a payment to a share.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := billing.ShareID(chi.URLParam(r, "id"))
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string", err)
		return
	}

	share, err := h.Engine.RecordPayment(r.Context(), billing.PaymentInput{
		ShareID:        id,
		Amount:         amount,
		Actor:          req.Actor,
		IdempotencyKey: req.IdempotencyKey,
	})
	metrics.Observe(metrics.Payments, err)
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toShareDTO(share))
}

// SharePayments returns the payment ledger of a share.
func (h *Handler) SharePayments(w http.ResponseWriter, r *http.Request) {
	id := billing.ShareID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetShare(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get share", err)
		return
	}
	entries, err := h.Store.PaymentsForShare(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(entries))
	for i, e := range entries {
		dtos[i] = PaymentDTO{
			ID:             string(e.ID),
			ShareID:        string(e.ShareID),
			Amount:         e.Amount.String(),
			ActorID:        e.ActorID,
			IdempotencyKey: e.IdempotencyKey,
			RecordedAt:     e.RecordedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CancelShare marks a share cancelled.
func (h *Handler) CancelShare(w http.ResponseWriter, r *http.Request) {
	id := billing.ShareID(chi.URLParam(r, "id"))
	share, err := h.Engine.CancelShare(r.Context(), id, actorFrom(r))
	if err != nil {
		writeDomainError(w, "Failed to cancel share", err)
		return
	}
	writeJSON(w, http.StatusOK, toShareDTO(share))
}

// RecordPaymentsBatch applies several payments, reporting per-item outcomes.
func (h *Handler) RecordPaymentsBatch(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inputs := make([]billing.PaymentInput, 0, len(req.Payments))
	for _, item := range req.Payments {
		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			// Let the engine reject it uniformly with the other failures.
			amount = decimal.Zero
		}
		inputs = append(inputs, billing.PaymentInput{
			ShareID:        billing.ShareID(item.ShareID),
			Amount:         amount,
			Actor:          req.Actor,
			IdempotencyKey: item.IdempotencyKey,
		})
	}
	result := h.Engine.RecordPayments(r.Context(), inputs)
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// Summary returns the headline money view.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reports.Summarize(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// PeriodBreakdowns returns totals grouped by cycle window.
func (h *Handler) PeriodBreakdowns(w http.ResponseWriter, r *http.Request) {
	breakdowns, err := h.Reports.BreakdownByPeriod(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build breakdown", err)
		return
	}

	dtos := make([]PeriodBreakdownDTO, len(breakdowns))
	for i, b := range breakdowns {
		dtos[i] = PeriodBreakdownDTO{
			PeriodStart:    b.Period.Start.String(),
			PeriodEnd:      b.Period.End.String(),
			TotalBilled:    b.TotalBilled.String(),
			TotalCollected: b.TotalCollected.String(),
			Outstanding:    b.Outstanding.String(),
			CycleCount:     b.CycleCount,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StudentStatement returns one student's billed/collected position.
func (h *Handler) StudentStatement(w http.ResponseWriter, r *http.Request) {
	id := billing.StudentID(chi.URLParam(r, "id"))
	stmt, err := h.Reports.StatementFor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, StatementDTO{
		StudentID:      string(stmt.StudentID),
		TotalBilled:    stmt.TotalBilled.String(),
		TotalCollected: stmt.TotalCollected.String(),
		Outstanding:    stmt.Outstanding.String(),
		Shares:         toShareDTOs(stmt.Shares),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// actorFrom identifies the operator for audit fields. Header-based for now;
// an auth middleware would populate this from a verified principal.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, billing.ErrDuplicateCycle),
		errors.Is(err, billing.ErrDuplicatePayment),
		billing.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
