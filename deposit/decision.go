package deposit

import "time"

// =============================================================================
// DECISION - The workflow's unit of work
// =============================================================================

type Status string

const (
	StatusDraft                  Status = "draft"
	StatusPendingFinanceApproval Status = "pending_finance_approval"
	StatusApproved               Status = "approved"
	StatusRejected               Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingFinanceApproval, StatusApproved, StatusRejected:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ActiveStatuses are the statuses that block a second decision on a deposit.
var ActiveStatuses = []Status{StatusDraft, StatusPendingFinanceApproval}

type DecisionType string

const (
	TypeApproved DecisionType = "approved"
	TypeDenied   DecisionType = "denied"
	TypePartial  DecisionType = "partial"
)

// Decision tracks one assessment through finance approval and HR review.
// Status and Type always agree with Result; Result never changes.
type Decision struct {
	ID        DecisionID `json:"id"`
	DepositID DepositID  `json:"deposit_id"`

	Assessment Assessment           `json:"assessment"`
	Result     RefundDecisionResult `json:"result"`
	Type       DecisionType         `json:"decision_type"`
	Status     Status               `json:"status"`

	CreatedBy   ActorID    `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedBy ActorID    `json:"submitted_by,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`

	ApprovedBy   ActorID    `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	FinanceNotes string     `json:"finance_notes,omitempty"`

	HRReviewedBy ActorID    `json:"hr_reviewed_by,omitempty"`
	HRReviewedAt *time.Time `json:"hr_reviewed_at,omitempty"`
	HRNotes      string     `json:"hr_notes,omitempty"`

	ReportGenerated        bool       `json:"report_generated"`
	ReportPath             string     `json:"report_path,omitempty"`
	NotificationSent       bool       `json:"notification_sent"`
	NotificationSentAt     *time.Time `json:"notification_sent_at,omitempty"`
	NotificationRecipients []string   `json:"notification_recipients,omitempty"`

	// Version is bumped on every committed change and is the
	// compare-and-swap token for UpdateDecision.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d *Decision) IsTerminal() bool { return d.Status.IsTerminal() }
func (d *Decision) IsActive() bool   { return !d.Status.IsTerminal() }

// HRReviewed reports whether the HR gate has been signed off.
func (d *Decision) HRReviewed() bool { return d.HRReviewedAt != nil }

// AwaitingHRReview is true while the HR track is still open.
func (d *Decision) AwaitingHRReview() bool {
	return d.Result.RequiresHRReview && !d.HRReviewed()
}

// IsDisbursable is true once finance has approved. HR review does not
// hold up the payout.
func (d *Decision) IsDisbursable() bool { return d.Status == StatusApproved }

// IsClosed is true when both tracks are done.
func (d *Decision) IsClosed() bool {
	return d.IsTerminal() && !d.AwaitingHRReview()
}

// Clone returns a copy that shares no mutable slices or pointers with d.
func (d *Decision) Clone() *Decision {
	c := *d
	c.Assessment = d.Assessment.Clone()
	if d.Result.Deductions != nil {
		c.Result.Deductions = append(make([]Deduction, 0, len(d.Result.Deductions)), d.Result.Deductions...)
	}
	if d.Result.Reasons != nil {
		c.Result.Reasons = append(make([]string, 0, len(d.Result.Reasons)), d.Result.Reasons...)
	}
	c.SubmittedAt = cloneTime(d.SubmittedAt)
	c.ApprovedAt = cloneTime(d.ApprovedAt)
	c.HRReviewedAt = cloneTime(d.HRReviewedAt)
	c.NotificationSentAt = cloneTime(d.NotificationSentAt)
	if d.NotificationRecipients != nil {
		c.NotificationRecipients = append([]string(nil), d.NotificationRecipients...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// =============================================================================
// DEPOSIT REFERENCE DATA - Read-only inputs owned by other systems
// =============================================================================

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentRefunded PaymentStatus = "refunded"
)

// DepositRef is the slice of deposit/assignment data the engine reads.
type DepositRef struct {
	ID            DepositID     `json:"id"`
	TenantName    string        `json:"tenant_name"`
	PropertyName  string        `json:"property_name"`
	RoomName      string        `json:"room_name"`
	Total         Money         `json:"total"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}
