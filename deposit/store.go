/*
store.go - Persistence ports and external collaborators

PURPOSE:
  Defines the interface between the engine and its backing store, plus
  the read-only collaborators the engine consumes (deposit reference
  data, actor display names, event publishing).

KEY INTERFACES:
  DecisionStore:  Decisions with compare-and-swap updates
  AuditStore:     Append-only audit entries
  TxStore:        Atomic transition + audit writes
  DepositLookup:  Deposit/assignment reference data (read-only)
  ActorResolver:  Actor id -> display name
  EventPublisher: Outbound decision events

CONCURRENCY CONTRACT:
  - InsertDecision enforces "one active decision per deposit" atomically
    (unique index or equivalent), never read-then-write.
  - UpdateDecision is a compare-and-swap on Version. A stale version
    returns ErrConcurrentModification and writes nothing.

APPEND-ONLY CONTRACT:
  AuditStore has AppendAudit and LoadAudit. There is no update or delete.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - deposit/store/memory.go: In-memory for tests and dev

SEE ALSO:
  - workflow.go: Uses TxStore
  - audit.go: Uses AuditStore
  - queue.go: Uses DecisionStore read methods
*/
package deposit

import "context"

// =============================================================================
// DECISION STORE
// =============================================================================

// DecisionFilter selects decisions for the queue. Zero values mean "any".
type DecisionFilter struct {
	Status    *Status
	DepositID *DepositID

	// AwaitingHRReview restricts to decisions that require HR review and
	// have not had one.
	AwaitingHRReview bool

	Limit  int
	Offset int
}

type DecisionStore interface {
	// InsertDecision persists a new decision. Returns
	// ErrDuplicateActiveDecision if the deposit already has an active one.
	InsertDecision(ctx context.Context, d Decision) error

	// GetDecision returns ErrDecisionNotFound for unknown ids.
	GetDecision(ctx context.Context, id DecisionID) (*Decision, error)

	// UpdateDecision replaces the stored decision if its version still
	// equals expectedVersion.
	UpdateDecision(ctx context.Context, d Decision, expectedVersion int64) error

	// ListDecisions returns matches newest first.
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]Decision, error)

	// DecisionStats aggregates over all decisions.
	DecisionStats(ctx context.Context) (QueueStats, error)
}

// =============================================================================
// AUDIT STORE
// =============================================================================

type AuditStore interface {
	// AppendAudit persists an entry and assigns its Seq.
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	// LoadAudit returns every entry for a deposit, oldest first.
	LoadAudit(ctx context.Context, depositID DepositID) ([]AuditEntry, error)
}

// Store is the full persistence port.
type Store interface {
	DecisionStore
	AuditStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// DepositLookup reads deposit reference data. Returns ErrDepositNotFound
// for unknown deposits.
type DepositLookup interface {
	GetDeposit(ctx context.Context, id DepositID) (*DepositRef, error)
}

// Actor is a person who can act on decisions.
type Actor struct {
	ID          ActorID `json:"id"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
}

// ActorResolver maps an actor id to a human-readable name. Unknown actors
// resolve to their id.
type ActorResolver interface {
	DisplayName(ctx context.Context, id ActorID) string
}

// EventPublisher receives a DecisionEvent after every committed change.
type EventPublisher interface {
	PublishDecisionEvent(ctx context.Context, event DecisionEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishDecisionEvent(context.Context, DecisionEvent) error { return nil }

// IDActorResolver renders actors by their raw id.
type IDActorResolver struct{}

func (IDActorResolver) DisplayName(_ context.Context, id ActorID) string { return string(id) }
