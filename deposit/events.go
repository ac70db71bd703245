package deposit

import "time"

// DecisionEvent is published after a decision change commits. Consumers
// (notification rendering, payout) must treat the audit ledger as the
// source of truth; events are best-effort.
type DecisionEvent struct {
	DecisionID       DecisionID   `json:"decision_id"`
	DepositID        DepositID    `json:"deposit_id"`
	Action           AuditAction  `json:"action"`
	Status           Status       `json:"status"`
	DecisionType     DecisionType `json:"decision_type"`
	RefundAmount     Money        `json:"refund_amount"`
	RequiresHRReview bool         `json:"requires_hr_review"`
	HRReviewed       bool         `json:"hr_reviewed"`
	ActorID          ActorID      `json:"actor_id"`
	Version          int64        `json:"version"`
	OccurredAt       time.Time    `json:"occurred_at"`
}

// RoutingKey is the topic routing key for this event, e.g.
// "deposit.refund.finance_approved".
func (e DecisionEvent) RoutingKey() string {
	return "deposit.refund." + string(e.Action)
}

func newDecisionEvent(d *Decision, action AuditAction, actor ActorID, at time.Time) DecisionEvent {
	return DecisionEvent{
		DecisionID:       d.ID,
		DepositID:        d.DepositID,
		Action:           action,
		Status:           d.Status,
		DecisionType:     d.Type,
		RefundAmount:     d.Result.RefundAmount,
		RequiresHRReview: d.Result.RequiresHRReview,
		HRReviewed:       d.HRReviewed(),
		ActorID:          actor,
		Version:          d.Version,
		OccurredAt:       at,
	}
}
