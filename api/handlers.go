/*
handlers.go - HTTP request handlers for the deposit refund API

PURPOSE:
  Implements all REST API endpoints. Handlers are thin: decode the
  request, call the engine or the queue, encode the response.

ENDPOINTS:
  Calculation:
    POST /api/refunds/compute                   - Price an assessment, store nothing

  Deposits:
    GET  /api/deposits/{id}                     - Deposit reference data
    POST /api/deposits/{id}/assessments         - Compute and open a draft decision
    GET  /api/deposits/{id}/decision            - Latest decision, any status
    GET  /api/deposits/{id}/audit               - Audit trail, newest first
    POST /api/deposits/{id}/audit               - Manual audit note

  Decisions:
    POST /api/decisions                         - Open a draft from a precomputed result
    GET  /api/decisions/{id}                    - Get decision
    POST /api/decisions/{id}/submit             - Draft -> pending finance approval
    POST /api/decisions/{id}/finance-approval   - Approve or reject
    POST /api/decisions/{id}/hr-review          - Complete the HR review
    POST /api/decisions/{id}/report             - Record the generated report
    POST /api/decisions/{id}/notification       - Record the tenant notification

  Queue:
    GET  /api/queue?status=&limit=&offset=      - Approval queue, newest first
    GET  /api/queue/stats                       - Counts and refund totals
    GET  /api/queue/hr-review                   - Decisions awaiting HR review

ARCHITECTURE:
  Handler holds:
  - Engine: approval workflow and audit ledger
  - Queue: read-only projections
  - Deposits, Actors: reference data and display names
  - Seeder: reference data writes for the demo scenarios

ERROR HANDLING:
  Engine errors carry sentinels from deposit/errors.go. writeDomainError
  maps them to a status and a stable code:
    400 invalid_assessment, invalid_request, reserved_audit_action
    401 missing_actor (see requireActor)
    403 self_approval_forbidden
    404 not_found
    409 invalid_transition, duplicate_active_decision, already_reviewed,
        already_set, concurrent_modification (retryable)
    503 storage_unavailable (retryable)

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response types
  - deposit/workflow.go: Engine
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/warp/deposit-refunds/deposit"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ReferenceSeeder writes the reference data the demo scenarios need.
type ReferenceSeeder interface {
	SaveDeposit(ctx context.Context, ref deposit.DepositRef) error
	SaveActor(ctx context.Context, a deposit.Actor) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *deposit.Engine
	Queue    *deposit.Queue
	Deposits deposit.DepositLookup
	Actors   deposit.ActorResolver
	Seeder   ReferenceSeeder
	Logger   zerolog.Logger
}

// NewHandler creates a handler. Deposits and Seeder come from the same
// reference store; actor names default to raw ids until Actors is set.
func NewHandler(engine *deposit.Engine, queue *deposit.Queue, deposits deposit.DepositLookup, seeder ReferenceSeeder, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:   engine,
		Queue:    queue,
		Deposits: deposits,
		Actors:   deposit.IDActorResolver{},
		Seeder:   seeder,
		Logger:   log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

// ComputeRefund prices an assessment. Nothing is stored.
func (h *Handler) ComputeRefund(w http.ResponseWriter, r *http.Request) {
	var req ComputeRefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Engine.Calculator.Compute(req.Assessment, req.DepositTotal)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// DEPOSIT HANDLERS
// =============================================================================

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	ref, err := h.Deposits.GetDeposit(r.Context(), deposit.DepositID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// AssessDeposit computes the refund for an inspection and opens a draft
// decision with it.
func (h *Handler) AssessDeposit(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.Engine.Assess(r.Context(), deposit.DepositID(chi.URLParam(r, "id")), req.Assessment, actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetLatestDecision returns the deposit's most recent decision in any status.
func (h *Handler) GetLatestDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.LatestDecision(r.Context(), deposit.DepositID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetAuditTrail returns the deposit's audit trail, newest first, with
// actor display names.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	depositID := deposit.DepositID(chi.URLParam(r, "id"))
	if _, err := h.Deposits.GetDeposit(r.Context(), depositID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	entries, err := h.Engine.AuditTrail(r.Context(), depositID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	names := make(map[deposit.ActorID]string)
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		name, ok := names[e.ActorID]
		if !ok {
			name = h.Actors.DisplayName(r.Context(), e.ActorID)
			names[e.ActorID] = name
		}
		dtos[i] = toAuditEntryDTO(e, name)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddAuditNote appends a manual (non-workflow) entry.
func (h *Handler) AddAuditNote(w http.ResponseWriter, r *http.Request) {
	var req AuditNoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorFrom(r.Context())
	entry, err := h.Engine.AddAuditNote(r.Context(),
		deposit.DepositID(chi.URLParam(r, "id")),
		req.DecisionID, req.Action, req.Description, req.Data, actor,
	)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuditEntryDTO(entry, h.Actors.DisplayName(r.Context(), actor)))
}

// =============================================================================
// DECISION HANDLERS
// =============================================================================

// CreateDecision opens a draft for a client-computed result.
func (h *Handler) CreateDecision(w http.ResponseWriter, r *http.Request) {
	var req CreateDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.DepositID == "" {
		writeError(w, http.StatusBadRequest, "deposit_id is required", nil)
		return
	}
	d, err := h.Engine.CreateDecision(r.Context(), req.DepositID, req.Assessment, req.Result, actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.GetDecision(r.Context(), decisionID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.SubmitForFinanceApproval(r.Context(), decisionID(r), actorFrom(r.Context()))
	h.respondDecision(w, r, d, err)
}

// FinanceApproval approves or rejects a pending decision.
func (h *Handler) FinanceApproval(w http.ResponseWriter, r *http.Request) {
	var req FinanceApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Approve == nil {
		writeError(w, http.StatusBadRequest, "approve is required", nil)
		return
	}
	d, err := h.Engine.FinanceApprove(r.Context(), decisionID(r), actorFrom(r.Context()), *req.Approve, req.Notes)
	h.respondDecision(w, r, d, err)
}

func (h *Handler) HRReview(w http.ResponseWriter, r *http.Request) {
	var req HRReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.Engine.ApproveHRReview(r.Context(), decisionID(r), actorFrom(r.Context()), req.Notes)
	h.respondDecision(w, r, d, err)
}

func (h *Handler) MarkReportGenerated(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ReportPath) == "" {
		writeError(w, http.StatusBadRequest, "report_path is required", nil)
		return
	}
	d, err := h.Engine.MarkReportGenerated(r.Context(), decisionID(r), req.ReportPath, actorFrom(r.Context()))
	h.respondDecision(w, r, d, err)
}

func (h *Handler) MarkNotificationSent(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.Engine.MarkNotificationSent(r.Context(), decisionID(r), req.Recipients, actorFrom(r.Context()))
	h.respondDecision(w, r, d, err)
}

func (h *Handler) respondDecision(w http.ResponseWriter, r *http.Request, d *deposit.Decision, err error) {
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func decisionID(r *http.Request) deposit.DecisionID {
	return deposit.DecisionID(chi.URLParam(r, "id"))
}

// =============================================================================
// QUEUE HANDLERS
// =============================================================================

// ListQueue returns one page of decisions, newest first.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}
	filter := deposit.QueueFilter{Page: page}
	if s := r.URL.Query().Get("status"); s != "" {
		status := deposit.Status(s)
		filter.Status = &status
	}

	items, err := h.Queue.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueuePageDTO{Items: items, Limit: page.Limit, Offset: page.Offset})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HRReviewQueue(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}
	items, err := h.Queue.HRReviewQueue(r.Context(), page)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueuePageDTO{Items: items, Limit: page.Limit, Offset: page.Offset})
}

// parsePage reads limit and offset and applies the queue defaults.
func parsePage(r *http.Request) (deposit.Page, error) {
	var page deposit.Page
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return deposit.Page{}, fmt.Errorf("limit %q: %w", s, err)
		}
		page.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return deposit.Page{}, fmt.Errorf("offset %q: %w", s, err)
		}
		page.Offset = n
	}
	return page.Normalize()
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, deposit.ErrSelfApprovalForbidden):
		return http.StatusForbidden
	case deposit.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, deposit.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, deposit.ErrInvalidAssessment),
		errors.Is(err, deposit.ErrInvalidRequest),
		errors.Is(err, deposit.ErrReservedAuditAction):
		return http.StatusBadRequest
	case errors.Is(err, deposit.ErrInvalidTransition),
		errors.Is(err, deposit.ErrDuplicateActiveDecision),
		errors.Is(err, deposit.ErrAlreadyReviewed),
		errors.Is(err, deposit.ErrAlreadySet),
		errors.Is(err, deposit.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      deposit.Code(err),
		Retryable: deposit.IsRetryable(err),
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg("request failed")
		if status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "invalid_request"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
