/*
audit.go - Append-only audit ledger for deposits

PURPOSE:
  Records every workflow transition and every manual action taken
  against a deposit. The ledger is independent of the decision rows: a
  deposit's trail, replayed oldest first, reconstructs every status a
  decision passed through.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. ORDERED: Entries carry a store-assigned Seq and a server timestamp.
  3. DURABLE: An entry is acknowledged only after the store has it.
  4. TRUTHFUL: Transition entries are written in the same commit as the
     state change they describe, after it. No entry references a change
     that did not happen.

READ ORDER:
  Trail() returns newest first (what operators want to see).
  Chronological() flips it for replay.

SEE ALSO:
  - workflow.go: Appends transition entries inside WithTx
  - store.go: AuditStore interface
*/
package deposit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditAction string

const (
	AuditDecisionCreated      AuditAction = "decision_created"
	AuditSubmittedForApproval AuditAction = "submitted_for_approval"
	AuditFinanceApproved      AuditAction = "finance_approved"
	AuditFinanceRejected      AuditAction = "finance_rejected"
	AuditHRReviewCompleted    AuditAction = "hr_review_completed"
	AuditReportGenerated      AuditAction = "report_generated"
	AuditNotificationSent     AuditAction = "notification_sent"

	// Manual actions. Callers may also use their own action names.
	AuditNoteAdded     AuditAction = "note_added"
	AuditDepositViewed AuditAction = "deposit_viewed"
)

var reservedActions = map[AuditAction]bool{
	AuditDecisionCreated:      true,
	AuditSubmittedForApproval: true,
	AuditFinanceApproved:      true,
	AuditFinanceRejected:      true,
	AuditHRReviewCompleted:    true,
	AuditReportGenerated:      true,
	AuditNotificationSent:     true,
}

// IsTransition reports whether the action is owned by the workflow engine.
func (a AuditAction) IsTransition() bool { return reservedActions[a] }

// Keys used in AuditEntry.Data by transition entries.
const (
	DataStatusBefore = "status_before"
	DataStatusAfter  = "status_after"
)

// AuditEntry is an immutable record of one action against a deposit.
type AuditEntry struct {
	ID          AuditEntryID   `json:"id"`
	Seq         int64          `json:"seq"`
	DepositID   DepositID      `json:"deposit_id"`
	DecisionID  *DecisionID    `json:"decision_id,omitempty"`
	Action      AuditAction    `json:"action"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	ActorID     ActorID        `json:"actor_id"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Clone copies the entry so stored data can't be changed through the
// caller's map. Data values are JSON-shaped, a shallow copy is enough.
func (e AuditEntry) Clone() AuditEntry {
	c := e
	if e.DecisionID != nil {
		id := *e.DecisionID
		c.DecisionID = &id
	}
	if e.Data != nil {
		c.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return c
}

// =============================================================================
// AUDIT LEDGER
// =============================================================================

// AuditLedger is the read/append facade over an AuditStore.
type AuditLedger struct {
	Store AuditStore
	Now   func() time.Time
	NewID func() string
}

func NewAuditLedger(store AuditStore) *AuditLedger {
	return &AuditLedger{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Append writes one entry with a server-assigned id and timestamp.
func (l *AuditLedger) Append(
	ctx context.Context,
	depositID DepositID,
	decisionID *DecisionID,
	action AuditAction,
	description string,
	data map[string]any,
	actor ActorID,
) (AuditEntry, error) {
	entry := l.newEntry(depositID, decisionID, action, description, data, actor, l.Now())
	if err := l.Store.AppendAudit(ctx, &entry); err != nil {
		return AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

func (l *AuditLedger) newEntry(
	depositID DepositID,
	decisionID *DecisionID,
	action AuditAction,
	description string,
	data map[string]any,
	actor ActorID,
	at time.Time,
) AuditEntry {
	var ref *DecisionID
	if decisionID != nil {
		id := *decisionID
		ref = &id
	}
	return AuditEntry{
		ID:          AuditEntryID(l.NewID()),
		DepositID:   depositID,
		DecisionID:  ref,
		Action:      action,
		Description: description,
		Data:        data,
		ActorID:     actor,
		Timestamp:   at,
	}
}

// Trail returns the deposit's entries newest first.
func (l *AuditLedger) Trail(ctx context.Context, depositID DepositID) ([]AuditEntry, error) {
	entries, err := l.Store.LoadAudit(ctx, depositID)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Seq > entries[j].Seq
	})
	return entries, nil
}

// Chronological returns a copy of entries sorted oldest first.
func Chronological(entries []AuditEntry) []AuditEntry {
	out := append([]AuditEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ReplayStatuses rebuilds, per decision, the sequence of statuses recorded
// in a trail. The first element is the status the decision was created in.
func ReplayStatuses(entries []AuditEntry) map[DecisionID][]Status {
	history := make(map[DecisionID][]Status)
	for _, e := range Chronological(entries) {
		if e.DecisionID == nil || !e.Action.IsTransition() {
			continue
		}
		id := *e.DecisionID
		after, ok := statusFromData(e.Data, DataStatusAfter)
		if !ok {
			continue
		}
		seq := history[id]
		if len(seq) == 0 || seq[len(seq)-1] != after {
			seq = append(seq, after)
		}
		history[id] = seq
	}
	return history
}

func statusFromData(data map[string]any, key string) (Status, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case Status:
		return s, true
	case string:
		return Status(s), true
	}
	return "", false
}
