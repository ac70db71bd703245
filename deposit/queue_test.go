package deposit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-refunds/deposit"
)

// seedQueue creates one decision per deposit in the given final states.
// Deposits are registered on the fly with a $500 total.
func seedQueue(t *testing.T, f *fixture, states []deposit.Status) []*deposit.Decision {
	t.Helper()
	ctx := context.Background()

	var out []*deposit.Decision
	for i, st := range states {
		id := deposit.DepositID("q-" + string(rune('a'+i)))
		f.deposits.Put(deposit.DepositRef{
			ID:           id,
			TenantName:   "Tenant " + string(id),
			PropertyName: "Oak Court",
			RoomName:     string(rune('A' + i)),
			Total:        deposit.Dollars(500),
		})

		a := compliant()
		if i%2 == 1 {
			a.Cleaning = &deposit.CleaningStatus{}
		}
		d, err := f.engine.Assess(ctx, id, a, inspector)
		require.NoError(t, err)

		if st != deposit.StatusDraft {
			d, err = f.engine.SubmitForFinanceApproval(ctx, d.ID, inspector)
			require.NoError(t, err)
		}
		switch st {
		case deposit.StatusApproved:
			d, err = f.engine.FinanceApprove(ctx, d.ID, finance, true, "")
			require.NoError(t, err)
		case deposit.StatusRejected:
			d, err = f.engine.FinanceApprove(ctx, d.ID, finance, false, "")
			require.NoError(t, err)
		}
		out = append(out, d)
	}
	return out
}

func TestQueue_List_NewestFirstWithStatusFilter(t *testing.T) {
	f := newFixture(t)
	seeded := seedQueue(t, f, []deposit.Status{
		deposit.StatusDraft,
		deposit.StatusPendingFinanceApproval,
		deposit.StatusPendingFinanceApproval,
		deposit.StatusApproved,
	})
	q := deposit.NewQueue(f.store, f.deposits)
	ctx := context.Background()

	all, err := q.List(ctx, deposit.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, seeded[3].ID, all[0].ID)
	assert.Equal(t, seeded[0].ID, all[3].ID)
	assert.Equal(t, "Oak Court", all[0].PropertyName)
	assert.Equal(t, "Tenant q-d", all[0].TenantName)

	pending := deposit.StatusPendingFinanceApproval
	items, err := q.List(ctx, deposit.QueueFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, seeded[2].ID, items[0].ID)
	assert.Equal(t, seeded[1].ID, items[1].ID)
}

func TestQueue_List_Pagination(t *testing.T) {
	f := newFixture(t)
	seeded := seedQueue(t, f, []deposit.Status{
		deposit.StatusDraft, deposit.StatusDraft, deposit.StatusDraft,
		deposit.StatusDraft, deposit.StatusDraft,
	})
	q := deposit.NewQueue(f.store, f.deposits)
	ctx := context.Background()

	page, err := q.List(ctx, deposit.QueueFilter{Page: deposit.Page{Limit: 2, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, seeded[3].ID, page[0].ID)
	assert.Equal(t, seeded[2].ID, page[1].ID)

	past, err := q.List(ctx, deposit.QueueFilter{Page: deposit.Page{Offset: 10}})
	require.NoError(t, err)
	assert.Empty(t, past)

	_, err = q.List(ctx, deposit.QueueFilter{Page: deposit.Page{Limit: -1}})
	assert.ErrorIs(t, err, deposit.ErrInvalidRequest)

	bogus := deposit.Status("archived")
	_, err = q.List(ctx, deposit.QueueFilter{Status: &bogus})
	assert.ErrorIs(t, err, deposit.ErrInvalidRequest)
}

func TestQueue_Stats(t *testing.T) {
	// GIVEN: Decisions in every status; odd ones carry a $75 cleaning charge
	// THEN: Counts per status and refund totals over all / active decisions

	f := newFixture(t)
	seedQueue(t, f, []deposit.Status{
		deposit.StatusDraft,                  // 500
		deposit.StatusPendingFinanceApproval, // 425
		deposit.StatusApproved,               // 500
		deposit.StatusRejected,               // 425
	})
	q := deposit.NewQueue(f.store, f.deposits)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.RequiresFinanceApproval)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, stats.AwaitingHRReview)
	assertMoney(t, "1850", stats.TotalRefundAmount)
	assertMoney(t, "925", stats.PendingRefundAmount)
}

func TestQueue_HRReviewQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	needsHR := f.submitted(t, earlyDeparture())
	seedQueue(t, f, []deposit.Status{deposit.StatusPendingFinanceApproval})

	q := deposit.NewQueue(f.store, f.deposits)
	items, err := q.HRReviewQueue(ctx, deposit.Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, needsHR.ID, items[0].ID)
	assert.Equal(t, "Ana Souza", items[0].TenantName)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AwaitingHRReview)

	_, err = f.engine.ApproveHRReview(ctx, needsHR.ID, hr, "")
	require.NoError(t, err)

	items, err = q.HRReviewQueue(ctx, deposit.Page{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueue_ReadsItsOwnWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := deposit.NewQueue(f.store, f.deposits)

	d := f.submitted(t, compliant())
	pending := deposit.StatusPendingFinanceApproval
	items, err := q.List(ctx, deposit.QueueFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = f.engine.FinanceApprove(ctx, d.ID, finance, true, "")
	require.NoError(t, err)

	items, err = q.List(ctx, deposit.QueueFilter{Status: &pending})
	require.NoError(t, err)
	assert.Empty(t, items)
}
