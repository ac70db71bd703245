package deposit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-refunds/deposit"
	"github.com/warp/deposit-refunds/deposit/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	inspector = deposit.ActorID("inspector-1")
	finance   = deposit.ActorID("finance-1")
	hr        = deposit.ActorID("hr-1")
)

type fixture struct {
	engine   *deposit.Engine
	store    *store.TxMemory
	deposits *store.Deposits
	events   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewTxMemory()
	deposits := store.NewDeposits(
		deposit.DepositRef{ID: "dep-1", TenantName: "Ana Souza", PropertyName: "Maple House", RoomName: "2B", Total: deposit.Dollars(500), PaymentStatus: deposit.PaymentPaid},
		deposit.DepositRef{ID: "dep-2", TenantName: "Li Wei", PropertyName: "Maple House", RoomName: "3A", Total: deposit.Dollars(300), PaymentStatus: deposit.PaymentPaid},
	)
	events := &recordingPublisher{}

	engine := deposit.NewEngine(mem, deposits)
	engine.Events = events

	clock := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	engine.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}

	return &fixture{engine: engine, store: mem, deposits: deposits, events: events}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []deposit.DecisionEvent
	fail   bool
}

func (p *recordingPublisher) PublishDecisionEvent(_ context.Context, e deposit.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) actions() []deposit.AuditAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]deposit.AuditAction, len(p.events))
	for i, e := range p.events {
		out[i] = e.Action
	}
	return out
}

func earlyDeparture() deposit.Assessment {
	a := compliant()
	a.Residency = &deposit.Residency{ActualDepartureDate: deposit.NewDate(2025, time.April, 30)}
	return a
}

func (f *fixture) submitted(t *testing.T, a deposit.Assessment) *deposit.Decision {
	t.Helper()
	ctx := context.Background()
	d, err := f.engine.Assess(ctx, "dep-1", a, inspector)
	require.NoError(t, err)
	d, err = f.engine.SubmitForFinanceApproval(ctx, d.ID, inspector)
	require.NoError(t, err)
	return d
}

// =============================================================================
// CREATE
// =============================================================================

func TestEngine_Assess_CreatesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.Assess(ctx, "dep-1", compliant(), inspector)
	require.NoError(t, err)

	assert.Equal(t, deposit.StatusDraft, d.Status)
	assert.Equal(t, deposit.TypeApproved, d.Type)
	assert.Equal(t, int64(1), d.Version)
	assert.Equal(t, inspector, d.CreatedBy)
	assertMoney(t, "500", d.Result.RefundAmount)

	trail, err := f.engine.AuditTrail(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, deposit.AuditDecisionCreated, trail[0].Action)
	assert.Equal(t, []deposit.AuditAction{deposit.AuditDecisionCreated}, f.events.actions())
}

func TestEngine_CreateDecision_RejectsTamperedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := compliant()
	a.Cleaning = &deposit.CleaningStatus{}
	result, err := deposit.ComputeRefund(a, deposit.Dollars(500))
	require.NoError(t, err)

	result.RefundAmount = deposit.Dollars(480)
	result.TotalDeductions = deposit.Dollars(20)
	result.Deductions[0].Amount = deposit.Dollars(20)

	_, err = f.engine.CreateDecision(ctx, "dep-1", a, result, inspector)
	assert.ErrorIs(t, err, deposit.ErrInvalidAssessment)

	trail, err := f.engine.AuditTrail(ctx, "dep-1")
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestEngine_CreateDecision_AcceptsMatchingResult(t *testing.T) {
	f := newFixture(t)
	result, err := deposit.ComputeRefund(compliant(), deposit.Dollars(300))
	require.NoError(t, err)

	d, err := f.engine.CreateDecision(context.Background(), "dep-2", compliant(), result, inspector)
	require.NoError(t, err)
	assert.Equal(t, deposit.DepositID("dep-2"), d.DepositID)
}

func TestEngine_CreateDecision_UnknownDeposit(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Assess(context.Background(), "dep-404", compliant(), inspector)
	assert.ErrorIs(t, err, deposit.ErrDepositNotFound)
	assert.True(t, deposit.IsNotFound(err))
}

func TestEngine_CreateDecision_MissingActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Assess(context.Background(), "dep-1", compliant(), "")
	assert.ErrorIs(t, err, deposit.ErrInvalidRequest)
}

func TestEngine_DuplicateActiveDecision(t *testing.T) {
	// GIVEN: A deposit with a pending decision
	// WHEN: Another decision is created for the same deposit
	// THEN: DuplicateActiveDecision until the first one is terminal

	f := newFixture(t)
	ctx := context.Background()

	first := f.submitted(t, compliant())

	_, err := f.engine.Assess(ctx, "dep-1", compliant(), inspector)
	assert.ErrorIs(t, err, deposit.ErrDuplicateActiveDecision)

	_, err = f.engine.FinanceApprove(ctx, first.ID, finance, false, "re-inspect")
	require.NoError(t, err)

	second, err := f.engine.Assess(ctx, "dep-1", compliant(), inspector)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

// =============================================================================
// FINANCE TRACK
// =============================================================================

func TestEngine_HappyPath_Approved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.submitted(t, compliant())
	assert.Equal(t, deposit.StatusPendingFinanceApproval, d.Status)
	assert.Equal(t, inspector, d.SubmittedBy)
	require.NotNil(t, d.SubmittedAt)

	d, err := f.engine.FinanceApprove(ctx, d.ID, finance, true, "looks good")
	require.NoError(t, err)

	assert.Equal(t, deposit.StatusApproved, d.Status)
	assert.Equal(t, finance, d.ApprovedBy)
	assert.Equal(t, "looks good", d.FinanceNotes)
	assert.Equal(t, int64(3), d.Version)
	assert.True(t, d.IsDisbursable())
	assert.True(t, d.IsClosed())

	stored, err := f.engine.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d, stored)
}

func TestEngine_FinanceReject(t *testing.T) {
	f := newFixture(t)
	d := f.submitted(t, compliant())

	d, err := f.engine.FinanceApprove(context.Background(), d.ID, finance, false, "photos missing")
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusRejected, d.Status)
	assert.False(t, d.IsDisbursable())

	trail, err := f.engine.AuditTrail(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, deposit.AuditFinanceRejected, trail[0].Action)
}

func TestEngine_SelfApprovalForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.submitted(t, compliant())

	_, err := f.engine.FinanceApprove(ctx, d.ID, inspector, true, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, deposit.ErrSelfApprovalForbidden)

	var te *deposit.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, deposit.StatusPendingFinanceApproval, te.From)

	// Unchanged
	stored, err := f.engine.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusPendingFinanceApproval, stored.Status)
	assert.Equal(t, d.Version, stored.Version)
}

func TestEngine_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.engine.Assess(ctx, "dep-1", compliant(), inspector)
	require.NoError(t, err)

	// Draft cannot be approved
	_, err = f.engine.FinanceApprove(ctx, draft.ID, finance, true, "")
	assert.ErrorIs(t, err, deposit.ErrInvalidTransition)

	// Flags need a terminal state
	_, err = f.engine.MarkReportGenerated(ctx, draft.ID, "/reports/r.pdf", finance)
	assert.ErrorIs(t, err, deposit.ErrInvalidTransition)

	_, err = f.engine.SubmitForFinanceApproval(ctx, draft.ID, inspector)
	require.NoError(t, err)

	// Re-submitting is not a no-op
	_, err = f.engine.SubmitForFinanceApproval(ctx, draft.ID, inspector)
	assert.ErrorIs(t, err, deposit.ErrInvalidTransition)

	approved, err := f.engine.FinanceApprove(ctx, draft.ID, finance, true, "")
	require.NoError(t, err)

	// Terminal states don't move
	_, err = f.engine.FinanceApprove(ctx, approved.ID, "finance-2", false, "")
	assert.ErrorIs(t, err, deposit.ErrInvalidTransition)
	assert.Equal(t, "invalid_transition", deposit.Code(err))
}

func TestEngine_UnknownDecision(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitForFinanceApproval(context.Background(), "missing", inspector)
	assert.ErrorIs(t, err, deposit.ErrDecisionNotFound)
}

// =============================================================================
// HR TRACK
// =============================================================================

func TestEngine_ApproveHRReview_OnceOnly(t *testing.T) {
	// GIVEN: Early unauthorized departure, so HR review is required
	// WHEN: HR approves twice
	// THEN: First succeeds, second is AlreadyReviewed

	f := newFixture(t)
	ctx := context.Background()

	d := f.submitted(t, earlyDeparture())
	require.True(t, d.Result.RequiresHRReview)
	assert.True(t, d.AwaitingHRReview())

	reviewed, err := f.engine.ApproveHRReview(ctx, d.ID, hr, "confirmed with manager")
	require.NoError(t, err)
	assert.Equal(t, hr, reviewed.HRReviewedBy)
	assert.False(t, reviewed.AwaitingHRReview())
	assert.Equal(t, deposit.StatusPendingFinanceApproval, reviewed.Status)

	_, err = f.engine.ApproveHRReview(ctx, d.ID, "hr-2", "")
	assert.ErrorIs(t, err, deposit.ErrAlreadyReviewed)
}

func TestEngine_ApproveHRReview_AfterFinance(t *testing.T) {
	// GIVEN: Finance approved a decision that still needs HR review
	// THEN: Disbursable but not closed until HR signs off

	f := newFixture(t)
	ctx := context.Background()

	d := f.submitted(t, earlyDeparture())
	d, err := f.engine.FinanceApprove(ctx, d.ID, finance, true, "")
	require.NoError(t, err)
	assert.True(t, d.IsDisbursable())
	assert.False(t, d.IsClosed())

	d, err = f.engine.ApproveHRReview(ctx, d.ID, hr, "")
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusApproved, d.Status)
	assert.True(t, d.IsClosed())
}

func TestEngine_ApproveHRReview_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Not required
	plain := f.submitted(t, compliant())
	_, err := f.engine.ApproveHRReview(ctx, plain.ID, hr, "")
	assert.ErrorIs(t, err, deposit.ErrInvalidTransition)
	_, err = f.engine.FinanceApprove(ctx, plain.ID, finance, true, "")
	require.NoError(t, err)

	// Still draft
	draft, err := f.engine.Assess(ctx, "dep-1", earlyDeparture(), inspector)
	require.NoError(t, err)
	_, err = f.engine.ApproveHRReview(ctx, draft.ID, hr, "")
	assert.ErrorIs(t, err, deposit.ErrInvalidTransition)
}

// =============================================================================
// ONCE-ONLY FLAGS
// =============================================================================

func TestEngine_ReportAndNotificationFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.submitted(t, compliant())
	_, err := f.engine.FinanceApprove(ctx, d.ID, finance, true, "")
	require.NoError(t, err)

	d, err = f.engine.MarkReportGenerated(ctx, d.ID, "/reports/dep-1.pdf", finance)
	require.NoError(t, err)
	assert.True(t, d.ReportGenerated)
	assert.Equal(t, "/reports/dep-1.pdf", d.ReportPath)

	_, err = f.engine.MarkReportGenerated(ctx, d.ID, "/reports/again.pdf", finance)
	assert.ErrorIs(t, err, deposit.ErrAlreadySet)

	_, err = f.engine.MarkNotificationSent(ctx, d.ID, nil, finance)
	assert.ErrorIs(t, err, deposit.ErrInvalidRequest)

	d, err = f.engine.MarkNotificationSent(ctx, d.ID, []string{"ana@example.com"}, finance)
	require.NoError(t, err)
	assert.True(t, d.NotificationSent)
	require.NotNil(t, d.NotificationSentAt)
	assert.Equal(t, []string{"ana@example.com"}, d.NotificationRecipients)

	_, err = f.engine.MarkNotificationSent(ctx, d.ID, []string{"x@example.com"}, finance)
	assert.ErrorIs(t, err, deposit.ErrAlreadySet)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestEngine_AuditTrail_NPlusOneEntries(t *testing.T) {
	// GIVEN: A decision that goes through 4 transitions after creation
	// THEN: The trail has 5 entries, newest first, replaying the status path

	f := newFixture(t)
	ctx := context.Background()

	d := f.submitted(t, earlyDeparture())
	_, err := f.engine.ApproveHRReview(ctx, d.ID, hr, "")
	require.NoError(t, err)
	_, err = f.engine.FinanceApprove(ctx, d.ID, finance, true, "")
	require.NoError(t, err)
	_, err = f.engine.MarkReportGenerated(ctx, d.ID, "/r.pdf", finance)
	require.NoError(t, err)

	trail, err := f.engine.AuditTrail(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, trail, 5)

	wantNewestFirst := []deposit.AuditAction{
		deposit.AuditReportGenerated,
		deposit.AuditFinanceApproved,
		deposit.AuditHRReviewCompleted,
		deposit.AuditSubmittedForApproval,
		deposit.AuditDecisionCreated,
	}
	for i, want := range wantNewestFirst {
		assert.Equal(t, want, trail[i].Action, "entry %d", i)
		require.NotNil(t, trail[i].DecisionID)
		assert.Equal(t, d.ID, *trail[i].DecisionID)
	}
	for i := 1; i < len(trail); i++ {
		assert.Greater(t, trail[i-1].Seq, trail[i].Seq)
		assert.False(t, trail[i-1].Timestamp.Before(trail[i].Timestamp))
	}

	history := deposit.ReplayStatuses(trail)
	assert.Equal(t, []deposit.Status{
		deposit.StatusDraft,
		deposit.StatusPendingFinanceApproval,
		deposit.StatusApproved,
	}, history[d.ID])
}

func TestEngine_RejectedTransition_WritesNoAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.submitted(t, compliant())
	_, err := f.engine.FinanceApprove(ctx, d.ID, inspector, true, "")
	require.Error(t, err)

	trail, err := f.engine.AuditTrail(ctx, "dep-1")
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

func TestEngine_AuditTimestampMatchesTransition(t *testing.T) {
	// GIVEN: A clock that moves forward on every call
	// THEN: Each audit entry carries the same instant as the change it records

	f := newFixture(t)
	ctx := context.Background()

	d := f.submitted(t, compliant())
	approved, err := f.engine.FinanceApprove(ctx, d.ID, finance, true, "")
	require.NoError(t, err)

	trail, err := f.engine.AuditTrail(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, trail, 3)

	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, *approved.ApprovedAt, trail[0].Timestamp)
	assert.Equal(t, approved.UpdatedAt, trail[0].Timestamp)
	require.NotNil(t, d.SubmittedAt)
	assert.Equal(t, *d.SubmittedAt, trail[1].Timestamp)
	assert.Equal(t, approved.CreatedAt, trail[2].Timestamp)
}

// =============================================================================
// LATEST DECISION
// =============================================================================

func TestEngine_LatestDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.LatestDecision(ctx, "dep-1")
	assert.ErrorIs(t, err, deposit.ErrDecisionNotFound)

	_, err = f.engine.LatestDecision(ctx, "dep-404")
	assert.ErrorIs(t, err, deposit.ErrDepositNotFound)

	// GIVEN: A rejected decision, then a new draft for the same deposit
	first := f.submitted(t, compliant())
	_, err = f.engine.FinanceApprove(ctx, first.ID, finance, false, "recheck")
	require.NoError(t, err)

	latest, err := f.engine.LatestDecision(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
	assert.Equal(t, deposit.StatusRejected, latest.Status)

	second, err := f.engine.Assess(ctx, "dep-1", compliant(), inspector)
	require.NoError(t, err)

	// THEN: The newest decision wins, regardless of status
	latest, err = f.engine.LatestDecision(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, deposit.StatusDraft, latest.Status)

	// Other deposits are not mixed in
	_, err = f.engine.LatestDecision(ctx, "dep-2")
	assert.ErrorIs(t, err, deposit.ErrDecisionNotFound)
}

func TestEngine_AddAuditNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.Assess(ctx, "dep-1", compliant(), inspector)
	require.NoError(t, err)

	entry, err := f.engine.AddAuditNote(ctx, "dep-1", &d.ID, deposit.AuditNoteAdded,
		"Tenant disputed cleaning charge", map[string]any{"channel": "email"}, finance)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.NotZero(t, entry.Seq)

	// Workflow actions are reserved
	_, err = f.engine.AddAuditNote(ctx, "dep-1", &d.ID, deposit.AuditFinanceApproved, "fake", nil, finance)
	assert.ErrorIs(t, err, deposit.ErrReservedAuditAction)

	// Decision must belong to the deposit
	_, err = f.engine.AddAuditNote(ctx, "dep-2", &d.ID, deposit.AuditNoteAdded, "wrong deposit", nil, finance)
	assert.ErrorIs(t, err, deposit.ErrInvalidRequest)

	// Deposit must exist
	_, err = f.engine.AddAuditNote(ctx, "dep-404", nil, deposit.AuditNoteAdded, "", nil, finance)
	assert.ErrorIs(t, err, deposit.ErrDepositNotFound)

	trail, err := f.engine.AuditTrail(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, deposit.AuditNoteAdded, trail[0].Action)

	// Notes don't affect replay
	assert.Equal(t, []deposit.Status{deposit.StatusDraft}, deposit.ReplayStatuses(trail)[d.ID])
}

// =============================================================================
// EVENTS
// =============================================================================

func TestEngine_PublishFailure_DoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.events.fail = true

	d := f.submitted(t, compliant())
	assert.Equal(t, deposit.StatusPendingFinanceApproval, d.Status)
}

func TestEngine_EventsCarryStateAfterCommit(t *testing.T) {
	f := newFixture(t)
	d := f.submitted(t, earlyDeparture())

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()

	assert.Equal(t, deposit.AuditSubmittedForApproval, last.Action)
	assert.Equal(t, d.Version, last.Version)
	assert.Equal(t, deposit.StatusPendingFinanceApproval, last.Status)
	assert.True(t, last.RequiresHRReview)
	assert.Equal(t, "deposit.refund.submitted_for_approval", last.RoutingKey())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// gatedStore holds every GetDecision until n callers have arrived, so
// concurrent operations all read the same version.
type gatedStore struct {
	*store.TxMemory
	wg sync.WaitGroup
}

func (g *gatedStore) GetDecision(ctx context.Context, id deposit.DecisionID) (*deposit.Decision, error) {
	d, err := g.TxMemory.GetDecision(ctx, id)
	g.wg.Done()
	g.wg.Wait()
	return d, err
}

func TestEngine_ConcurrentFinanceApprove_ExactlyOneWins(t *testing.T) {
	// GIVEN: Two finance approvers acting on the same pending decision
	// WHEN: Both approve concurrently after reading the same version
	// THEN: Exactly one succeeds, the other gets ConcurrentModification

	f := newFixture(t)
	ctx := context.Background()
	d := f.submitted(t, compliant())

	gated := &gatedStore{TxMemory: f.store}
	gated.wg.Add(2)
	engine := deposit.NewEngine(gated, f.deposits)

	approvers := []deposit.ActorID{"finance-1", "finance-2"}
	errs := make([]error, len(approvers))
	var wg sync.WaitGroup
	for i, approver := range approvers {
		wg.Add(1)
		go func(i int, approver deposit.ActorID) {
			defer wg.Done()
			_, errs[i] = engine.FinanceApprove(ctx, d.ID, approver, i == 0, "")
		}(i, approver)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, deposit.ErrConcurrentModification):
			conflicts++
			assert.True(t, deposit.IsRetryable(err))
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	stored, err := f.store.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)

	trail, err := f.engine.AuditTrail(ctx, "dep-1")
	require.NoError(t, err)
	assert.Len(t, trail, 3, "only the winner writes an audit entry")
}

func TestEngine_ConcurrentCreate_OneActiveDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Assess(ctx, "dep-1", compliant(), inspector)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, deposit.ErrDuplicateActiveDecision)
	}
	assert.Equal(t, 1, created)
}
