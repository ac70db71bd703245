/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that
  already have a stable JSON shape (Decision, Assessment, QueueItem,
  QueueStats) are returned as-is; everything else is wrapped here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Money fields accept either a JSON number or a decimal string and are
  always written back as decimal strings ("425.00" stays exact).

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - deposit/decision.go: Decision JSON shape
*/
package api

import (
	"time"

	"github.com/warp/deposit-refunds/deposit"
)

// =============================================================================
// CALCULATION
// =============================================================================

// ComputeRefundRequest prices an assessment without storing anything.
type ComputeRefundRequest struct {
	Assessment   deposit.Assessment `json:"assessment"`
	DepositTotal deposit.Money      `json:"deposit_total"`
}

// =============================================================================
// DECISIONS
// =============================================================================

// AssessRequest is the body of POST /api/deposits/{id}/assessments.
type AssessRequest struct {
	Assessment deposit.Assessment `json:"assessment"`
}

// CreateDecisionRequest opens a decision for a result the client already
// computed. The server re-verifies it.
type CreateDecisionRequest struct {
	DepositID  deposit.DepositID            `json:"deposit_id"`
	Assessment deposit.Assessment           `json:"assessment"`
	Result     deposit.RefundDecisionResult `json:"result"`
}

// FinanceApprovalRequest approves (true) or rejects (false) a decision.
type FinanceApprovalRequest struct {
	Approve *bool  `json:"approve"`
	Notes   string `json:"notes"`
}

type HRReviewRequest struct {
	Notes string `json:"notes"`
}

type ReportRequest struct {
	ReportPath string `json:"report_path"`
}

type NotificationRequest struct {
	Recipients []string `json:"recipients"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditNoteRequest appends a manual entry to a deposit's trail.
type AuditNoteRequest struct {
	DecisionID  *deposit.DecisionID `json:"decision_id,omitempty"`
	Action      deposit.AuditAction `json:"action"`
	Description string              `json:"description"`
	Data        map[string]any      `json:"data,omitempty"`
}

// AuditEntryDTO is an audit entry with the actor's display name.
type AuditEntryDTO struct {
	ID          deposit.AuditEntryID `json:"id"`
	Seq         int64                `json:"seq"`
	DepositID   deposit.DepositID    `json:"deposit_id"`
	DecisionID  *deposit.DecisionID  `json:"decision_id,omitempty"`
	Action      deposit.AuditAction  `json:"action"`
	Description string               `json:"description"`
	Data        map[string]any       `json:"data,omitempty"`
	ActorID     deposit.ActorID      `json:"actor_id"`
	ActorName   string               `json:"actor_name"`
	Timestamp   string               `json:"timestamp"`
}

func toAuditEntryDTO(e deposit.AuditEntry, actorName string) AuditEntryDTO {
	return AuditEntryDTO{
		ID:          e.ID,
		Seq:         e.Seq,
		DepositID:   e.DepositID,
		DecisionID:  e.DecisionID,
		Action:      e.Action,
		Description: e.Description,
		Data:        e.Data,
		ActorID:     e.ActorID,
		ActorName:   actorName,
		Timestamp:   e.Timestamp.Format(time.RFC3339Nano),
	}
}

// =============================================================================
// QUEUE
// =============================================================================

// QueuePageDTO is one page of the approval queue.
type QueuePageDTO struct {
	Items  []deposit.QueueItem `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioResultDTO reports what a scenario load touched.
type ScenarioResultDTO struct {
	Scenario  ScenarioDTO          `json:"scenario"`
	Deposits  []deposit.DepositID  `json:"deposits"`
	Decisions []deposit.DecisionID `json:"decisions"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
