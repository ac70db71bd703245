/*
workflow.go - Refund decision approval state machine

PURPOSE:
  Governs one refund decision from creation through finance approval and
  the independent HR review gate. Every committed change writes an audit
  entry in the same transaction.

STATE MACHINE:
  ┌───────┐  submit   ┌──────────────────────────┐  approve  ┌──────────┐
  │ Draft │ ────────▶ │ PendingFinanceApproval   │ ────────▶ │ Approved │
  └───────┘           └──────────────────────────┘           └──────────┘
                                   │  reject                 ┌──────────┐
                                   └───────────────────────▶ │ Rejected │
                                                             └──────────┘

  HR track (only when Result.RequiresHRReview):
    open -> reviewed, exactly once, in PendingFinanceApproval or a
    terminal state. Runs in parallel with finance; finance approval alone
    is enough to pay out, both are needed to close.

  After a terminal state only ReportGenerated and NotificationSent may
  change, once each.

OPTIMISTIC CONCURRENCY:
  1. Read the decision (version v) outside any transaction.
  2. Validate and build the next state in memory.
  3. WithTx: UpdateDecision(next, expected=v), then AppendAudit.
  A concurrent writer that committed first makes step 3 fail with
  ErrConcurrentModification; nothing is written. Re-read and retry.

SEPARATION OF DUTIES:
  The actor who submitted a decision may not approve or reject it.

USAGE:
  engine := deposit.NewEngine(store, deposits)

  d, err := engine.Assess(ctx, "dep-1", assessment, "inspector-7")
  d, err = engine.SubmitForFinanceApproval(ctx, d.ID, "inspector-7")
  d, err = engine.FinanceApprove(ctx, d.ID, "finance-2", true, "ok")

SEE ALSO:
  - calculator.go: Produces the RefundDecisionResult
  - audit.go: Ledger the engine writes to
  - store.go: TxStore port
*/
package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store      TxStore
	Deposits   DepositLookup
	Calculator *Calculator
	Events     EventPublisher
	Logger     zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

// NewEngine wires an engine with the default policy, a no-op publisher and
// a silent logger. Override the exported fields as needed.
func NewEngine(store TxStore, deposits DepositLookup) *Engine {
	return &Engine{
		Store:      store,
		Deposits:   deposits,
		Calculator: NewCalculator(DefaultPolicy()),
		Events:     NopPublisher{},
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      uuid.NewString,
	}
}

// Audit returns a ledger over the engine's store.
func (e *Engine) Audit() *AuditLedger {
	return e.ledgerOn(e.Store)
}

func (e *Engine) ledgerOn(s AuditStore) *AuditLedger {
	return &AuditLedger{Store: s, Now: e.Now, NewID: e.NewID}
}

// =============================================================================
// CREATE
// =============================================================================

// Assess prices an assessment against the deposit's total and opens a
// draft decision for it.
func (e *Engine) Assess(ctx context.Context, depositID DepositID, a Assessment, actor ActorID) (*Decision, error) {
	ref, err := e.Deposits.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	result, err := e.Calculator.Compute(a, ref.Total)
	if err != nil {
		return nil, err
	}
	return e.create(ctx, ref, a, result, actor)
}

// CreateDecision opens a draft decision for a precomputed result. The
// result is re-verified against the deposit's total; a hand-edited or
// stale result is rejected as an invalid assessment.
func (e *Engine) CreateDecision(
	ctx context.Context,
	depositID DepositID,
	a Assessment,
	result RefundDecisionResult,
	actor ActorID,
) (*Decision, error) {
	ref, err := e.Deposits.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if err := result.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := e.Calculator.Verify(a, ref.Total, result); err != nil {
		return nil, err
	}
	return e.create(ctx, ref, a, result, actor)
}

func (e *Engine) create(ctx context.Context, ref *DepositRef, a Assessment, result RefundDecisionResult, actor ActorID) (*Decision, error) {
	if actor == "" {
		return nil, fmt.Errorf("create decision: %w: actor is required", ErrInvalidRequest)
	}

	now := e.Now()
	d := &Decision{
		ID:         DecisionID(e.NewID()),
		DepositID:  ref.ID,
		Assessment: a.Clone(),
		Result:     result,
		Type:       result.DecisionType(),
		Status:     StatusDraft,
		CreatedBy:  actor,
		CreatedAt:  now,
		Version:    1,
		UpdatedAt:  now,
	}

	data := map[string]any{
		DataStatusAfter:      string(StatusDraft),
		"decision_type":      string(d.Type),
		"recommendation":     string(result.Recommendation),
		"refund_amount":      result.RefundAmount.StringFixed(2),
		"total_deductions":   result.TotalDeductions.StringFixed(2),
		"requires_hr_review": result.RequiresHRReview,
	}
	description := fmt.Sprintf("Refund decision created: %s, refund $%s of $%s",
		result.Recommendation, result.RefundAmount.StringFixed(2), result.DepositTotal.StringFixed(2))

	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.InsertDecision(ctx, *d); err != nil {
			return err
		}
		entry := e.ledgerOn(s).newEntry(d.DepositID, &d.ID, AuditDecisionCreated, description, data, actor, now)
		return s.AppendAudit(ctx, &entry)
	})
	if err != nil {
		e.Logger.Debug().Err(err).
			Str("deposit_id", string(ref.ID)).
			Str("actor_id", string(actor)).
			Msg("refund decision creation rejected")
		return nil, fmt.Errorf("create decision: %w", err)
	}

	e.Logger.Info().
		Str("decision_id", string(d.ID)).
		Str("deposit_id", string(d.DepositID)).
		Str("actor_id", string(actor)).
		Str("recommendation", string(result.Recommendation)).
		Str("refund_amount", result.RefundAmount.StringFixed(2)).
		Bool("requires_hr_review", result.RequiresHRReview).
		Msg("refund decision created")
	e.publish(ctx, d, AuditDecisionCreated, actor, now)

	return d.Clone(), nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// SubmitForFinanceApproval moves a draft into the finance queue.
// Re-submitting is an error, not a no-op.
func (e *Engine) SubmitForFinanceApproval(ctx context.Context, id DecisionID, actor ActorID) (*Decision, error) {
	const op = "submit_for_finance_approval"
	return e.transition(ctx, id, actor, op, func(d *Decision, now time.Time) (auditRecord, error) {
		if d.Status != StatusDraft {
			return auditRecord{}, reject(d, op, "only draft decisions can be submitted", ErrInvalidTransition)
		}
		d.Status = StatusPendingFinanceApproval
		d.SubmittedBy = actor
		d.SubmittedAt = &now
		return auditRecord{
			action:      AuditSubmittedForApproval,
			description: fmt.Sprintf("Submitted for finance approval by %s", actor),
			data:        map[string]any{},
		}, nil
	})
}

// FinanceApprove records the finance decision. approve=false rejects.
func (e *Engine) FinanceApprove(ctx context.Context, id DecisionID, approver ActorID, approve bool, notes string) (*Decision, error) {
	const op = "finance_approve"
	return e.transition(ctx, id, approver, op, func(d *Decision, now time.Time) (auditRecord, error) {
		if d.Status != StatusPendingFinanceApproval {
			return auditRecord{}, reject(d, op, "decision is not awaiting finance approval", ErrInvalidTransition)
		}
		if approver == d.SubmittedBy {
			return auditRecord{}, reject(d, op, fmt.Sprintf("%s submitted this decision", approver), ErrSelfApprovalForbidden)
		}

		action := AuditFinanceApproved
		verb := "approved"
		d.Status = StatusApproved
		if !approve {
			action = AuditFinanceRejected
			verb = "rejected"
			d.Status = StatusRejected
		}
		d.ApprovedBy = approver
		d.ApprovedAt = &now
		d.FinanceNotes = notes

		description := fmt.Sprintf("Finance %s refund of $%s", verb, d.Result.RefundAmount.StringFixed(2))
		if notes != "" {
			description += ": " + notes
		}
		return auditRecord{
			action:      action,
			description: description,
			data: map[string]any{
				"approved":      approve,
				"notes":         notes,
				"refund_amount": d.Result.RefundAmount.StringFixed(2),
			},
		}, nil
	})
}

// ApproveHRReview signs off the HR gate. Allowed once, and only after the
// decision has been submitted.
func (e *Engine) ApproveHRReview(ctx context.Context, id DecisionID, reviewer ActorID, notes string) (*Decision, error) {
	const op = "approve_hr_review"
	return e.transition(ctx, id, reviewer, op, func(d *Decision, now time.Time) (auditRecord, error) {
		if !d.Result.RequiresHRReview {
			return auditRecord{}, reject(d, op, "decision does not require HR review", ErrInvalidTransition)
		}
		if d.HRReviewed() {
			return auditRecord{}, reject(d, op, fmt.Sprintf("reviewed by %s", d.HRReviewedBy), ErrAlreadyReviewed)
		}
		if d.Status == StatusDraft {
			return auditRecord{}, reject(d, op, "decision must be submitted before HR review", ErrInvalidTransition)
		}

		d.HRReviewedBy = reviewer
		d.HRReviewedAt = &now
		d.HRNotes = notes

		description := fmt.Sprintf("HR review completed by %s", reviewer)
		if notes != "" {
			description += ": " + notes
		}
		return auditRecord{
			action:      AuditHRReviewCompleted,
			description: description,
			data:        map[string]any{"hr_notes": notes},
		}, nil
	})
}

// MarkReportGenerated records that the refund report exists at path.
func (e *Engine) MarkReportGenerated(ctx context.Context, id DecisionID, path string, actor ActorID) (*Decision, error) {
	const op = "mark_report_generated"
	return e.transition(ctx, id, actor, op, func(d *Decision, now time.Time) (auditRecord, error) {
		if !d.IsTerminal() {
			return auditRecord{}, reject(d, op, "reports are generated after the finance decision", ErrInvalidTransition)
		}
		if d.ReportGenerated {
			return auditRecord{}, reject(d, op, "report already generated", ErrAlreadySet)
		}
		d.ReportGenerated = true
		d.ReportPath = path
		return auditRecord{
			action:      AuditReportGenerated,
			description: "Refund report generated",
			data:        map[string]any{"report_path": path},
		}, nil
	})
}

// MarkNotificationSent records that the tenant notification went out.
func (e *Engine) MarkNotificationSent(ctx context.Context, id DecisionID, recipients []string, actor ActorID) (*Decision, error) {
	const op = "mark_notification_sent"
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%s: %w: at least one recipient is required", op, ErrInvalidRequest)
	}
	return e.transition(ctx, id, actor, op, func(d *Decision, now time.Time) (auditRecord, error) {
		if !d.IsTerminal() {
			return auditRecord{}, reject(d, op, "notifications are sent after the finance decision", ErrInvalidTransition)
		}
		if d.NotificationSent {
			return auditRecord{}, reject(d, op, "notification already sent", ErrAlreadySet)
		}
		d.NotificationSent = true
		d.NotificationSentAt = &now
		d.NotificationRecipients = append([]string(nil), recipients...)
		return auditRecord{
			action:      AuditNotificationSent,
			description: fmt.Sprintf("Refund notification sent to %d recipient(s)", len(recipients)),
			data:        map[string]any{"recipients": d.NotificationRecipients},
		}, nil
	})
}

// =============================================================================
// READS AND MANUAL ENTRIES
// =============================================================================

func (e *Engine) GetDecision(ctx context.Context, id DecisionID) (*Decision, error) {
	return e.Store.GetDecision(ctx, id)
}

// LatestDecision returns the most recent decision for a deposit in any
// status. A deposit with no decisions yields ErrDecisionNotFound.
func (e *Engine) LatestDecision(ctx context.Context, depositID DepositID) (*Decision, error) {
	if _, err := e.Deposits.GetDeposit(ctx, depositID); err != nil {
		return nil, err
	}
	decisions, err := e.Store.ListDecisions(ctx, DecisionFilter{DepositID: &depositID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("latest decision: %w", err)
	}
	if len(decisions) == 0 {
		return nil, fmt.Errorf("deposit %s: %w", depositID, ErrDecisionNotFound)
	}
	return &decisions[0], nil
}

// AuditTrail returns the deposit's audit entries newest first.
func (e *Engine) AuditTrail(ctx context.Context, depositID DepositID) ([]AuditEntry, error) {
	return e.Audit().Trail(ctx, depositID)
}

// AddAuditNote appends a manual entry. Workflow action types are refused
// so the trail only shows transitions that really happened.
func (e *Engine) AddAuditNote(
	ctx context.Context,
	depositID DepositID,
	decisionID *DecisionID,
	action AuditAction,
	description string,
	data map[string]any,
	actor ActorID,
) (AuditEntry, error) {
	if action.IsTransition() {
		return AuditEntry{}, fmt.Errorf("%w: %s", ErrReservedAuditAction, action)
	}
	if action == "" || actor == "" {
		return AuditEntry{}, fmt.Errorf("%w: action and actor are required", ErrInvalidRequest)
	}
	if _, err := e.Deposits.GetDeposit(ctx, depositID); err != nil {
		return AuditEntry{}, err
	}
	if decisionID != nil {
		d, err := e.Store.GetDecision(ctx, *decisionID)
		if err != nil {
			return AuditEntry{}, err
		}
		if d.DepositID != depositID {
			return AuditEntry{}, fmt.Errorf("%w: decision %s belongs to deposit %s", ErrInvalidRequest, d.ID, d.DepositID)
		}
	}
	return e.Audit().Append(ctx, depositID, decisionID, action, description, data, actor)
}

// =============================================================================
// INTERNALS
// =============================================================================

type auditRecord struct {
	action      AuditAction
	description string
	data        map[string]any
}

func reject(d *Decision, op, reason string, sentinel error) error {
	return &TransitionError{
		DecisionID: d.ID,
		Operation:  op,
		From:       d.Status,
		Reason:     reason,
		Err:        sentinel,
	}
}

func (e *Engine) transition(
	ctx context.Context,
	id DecisionID,
	actor ActorID,
	op string,
	apply func(d *Decision, now time.Time) (auditRecord, error),
) (*Decision, error) {
	if actor == "" {
		return nil, fmt.Errorf("%s: %w: actor is required", op, ErrInvalidRequest)
	}

	current, err := e.Store.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	next := current.Clone()
	rec, err := apply(next, now)
	if err != nil {
		e.Logger.Debug().Err(err).
			Str("decision_id", string(id)).
			Str("actor_id", string(actor)).
			Str("operation", op).
			Msg("refund decision transition rejected")
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = now

	rec.data[DataStatusBefore] = string(current.Status)
	rec.data[DataStatusAfter] = string(next.Status)

	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateDecision(ctx, *next, current.Version); err != nil {
			return err
		}
		entry := e.ledgerOn(s).newEntry(next.DepositID, &next.ID, rec.action, rec.description, rec.data, actor, now)
		return s.AppendAudit(ctx, &entry)
	})
	if err != nil {
		e.Logger.Debug().Err(err).
			Str("decision_id", string(id)).
			Str("operation", op).
			Int64("expected_version", current.Version).
			Msg("refund decision commit failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.Logger.Info().
		Str("decision_id", string(next.ID)).
		Str("deposit_id", string(next.DepositID)).
		Str("actor_id", string(actor)).
		Str("action", string(rec.action)).
		Str("status", string(next.Status)).
		Int64("version", next.Version).
		Msg("refund decision updated")
	e.publish(ctx, next, rec.action, actor, now)

	return next.Clone(), nil
}

func (e *Engine) publish(ctx context.Context, d *Decision, action AuditAction, actor ActorID, at time.Time) {
	if e.Events == nil {
		return
	}
	event := newDecisionEvent(d, action, actor, at)
	if err := e.Events.PublishDecisionEvent(ctx, event); err != nil {
		e.Logger.Warn().Err(err).
			Str("decision_id", string(d.ID)).
			Str("action", string(action)).
			Msg("decision event publish failed")
	}
}
