/*
queue.go - Approval queue projection

PURPOSE:
  Read-only views over refund decisions for finance and HR. Nothing
  here writes; every call reads the store directly, so a write the
  engine acknowledged is visible to the next query.

VIEWS:
  List           decisions newest first, optional status filter, paged
  Stats          counts per status and refund totals
  HRReviewQueue  decisions whose HR track is still open

Items are enriched with tenant, property and room from DepositLookup.
A deposit the lookup no longer knows is listed without those fields.
*/
package deposit

import (
	"context"
	"fmt"
)

const (
	DefaultQueueLimit = 50
	MaxQueueLimit     = 200
)

// Page is a limit/offset window. A zero limit means DefaultQueueLimit.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies the default and the cap. Negative values are an
// invalid request.
func (p Page) Normalize() (Page, error) {
	if p.Limit < 0 || p.Offset < 0 {
		return Page{}, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidRequest)
	}
	if p.Limit == 0 {
		p.Limit = DefaultQueueLimit
	}
	if p.Limit > MaxQueueLimit {
		p.Limit = MaxQueueLimit
	}
	return p, nil
}

type QueueFilter struct {
	Status *Status
	Page   Page
}

// QueueItem is one row of the approval queue.
type QueueItem struct {
	Decision
	TenantName   string `json:"tenant_name,omitempty"`
	PropertyName string `json:"property_name,omitempty"`
	RoomName     string `json:"room_name,omitempty"`
}

// QueueStats aggregates over every decision. Pending counts drafts.
// PendingRefundAmount sums refunds not yet approved or rejected.
type QueueStats struct {
	Total                   int   `json:"total"`
	Pending                 int   `json:"pending"`
	RequiresFinanceApproval int   `json:"requires_finance_approval"`
	Approved                int   `json:"approved"`
	Rejected                int   `json:"rejected"`
	AwaitingHRReview        int   `json:"awaiting_hr_review"`
	TotalRefundAmount       Money `json:"total_refund_amount"`
	PendingRefundAmount     Money `json:"pending_refund_amount"`
}

// Add folds one decision into the stats. Stores without aggregate queries
// build QueueStats with it.
func (s *QueueStats) Add(d *Decision) {
	s.Total++
	switch d.Status {
	case StatusDraft:
		s.Pending++
	case StatusPendingFinanceApproval:
		s.RequiresFinanceApproval++
	case StatusApproved:
		s.Approved++
	case StatusRejected:
		s.Rejected++
	}
	if d.AwaitingHRReview() {
		s.AwaitingHRReview++
	}
	s.TotalRefundAmount = s.TotalRefundAmount.Add(d.Result.RefundAmount)
	if d.IsActive() {
		s.PendingRefundAmount = s.PendingRefundAmount.Add(d.Result.RefundAmount)
	}
}

type Queue struct {
	Store    DecisionStore
	Deposits DepositLookup
}

func NewQueue(store DecisionStore, deposits DepositLookup) *Queue {
	return &Queue{Store: store, Deposits: deposits}
}

// List returns one page of the queue, newest first.
func (q *Queue) List(ctx context.Context, filter QueueFilter) ([]QueueItem, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, *filter.Status)
	}
	page, err := filter.Page.Normalize()
	if err != nil {
		return nil, err
	}
	decisions, err := q.Store.ListDecisions(ctx, DecisionFilter{
		Status: filter.Status,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return q.enrich(ctx, decisions)
}

// HRReviewQueue lists decisions that require HR review and have not had
// one, newest first.
func (q *Queue) HRReviewQueue(ctx context.Context, page Page) ([]QueueItem, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	decisions, err := q.Store.ListDecisions(ctx, DecisionFilter{
		AwaitingHRReview: true,
		Limit:            page.Limit,
		Offset:           page.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list hr review queue: %w", err)
	}
	return q.enrich(ctx, decisions)
}

func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	stats, err := q.Store.DecisionStats(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

func (q *Queue) enrich(ctx context.Context, decisions []Decision) ([]QueueItem, error) {
	items := make([]QueueItem, 0, len(decisions))
	for _, d := range decisions {
		item := QueueItem{Decision: d}
		if q.Deposits != nil {
			ref, err := q.Deposits.GetDeposit(ctx, d.DepositID)
			switch {
			case err == nil:
				item.TenantName = ref.TenantName
				item.PropertyName = ref.PropertyName
				item.RoomName = ref.RoomName
			case !IsNotFound(err):
				return nil, fmt.Errorf("enrich queue item %s: %w", d.ID, err)
			}
		}
		items = append(items, item)
	}
	return items, nil
}
