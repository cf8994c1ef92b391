package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

type memActionStore struct {
	actions map[string]*domain.AutoAction
	applied int
}

func newMemActionStore() *memActionStore {
	return &memActionStore{actions: make(map[string]*domain.AutoAction)}
}

func (m *memActionStore) InsertAction(_ context.Context, a domain.AutoAction) error {
	copied := a
	m.actions[a.ID] = &copied
	if a.Status == domain.ActionApplied {
		m.applied++
	}
	return nil
}

func (m *memActionStore) UpdateActionStatus(_ context.Context, id string, status domain.AutoActionStatus, reason string) error {
	a, ok := m.actions[id]
	if !ok {
		return domain.ErrActionNotFound
	}
	a.Status = status
	a.Reason = reason
	return nil
}

func (m *memActionStore) GetAction(_ context.Context, id string) (*domain.AutoAction, error) {
	a, ok := m.actions[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (m *memActionStore) CountAppliedSince(_ context.Context, _, _ string, _ time.Time) (int, error) {
	return m.applied, nil
}

func newTestGates(t *testing.T, limit int) (*Gates, *memActionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := newMemActionStore()
	return NewGates(store, rdb, limit, zap.NewNop()), store, mr
}

func TestUsageWithoutOrganization(t *testing.T) {
	g, _, _ := newTestGates(t, 2)

	usage, err := g.Usage(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.AutoPublishUsage{Used: 0, Remaining: 0, Limit: 0}, usage)
}

func TestEvaluateVetoChain(t *testing.T) {
	ctx := context.Background()

	t.Run("clean request is auto", func(t *testing.T) {
		g, _, _ := newTestGates(t, 2)
		eval, err := g.Evaluate(ctx, Request{
			OrganizationID: "org-1",
			Axis:           "headline",
			Confidence:     0.9,
			SampleSize:     120,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionAuto, eval.Decision)
		assert.Equal(t, 1, eval.QuotaRemaining, "auto decision accounts one unit in the answer")
	})

	t.Run("no organization", func(t *testing.T) {
		g, _, _ := newTestGates(t, 2)
		eval, err := g.Evaluate(ctx, Request{Confidence: 0.99, SampleSize: 500})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionNeedsApproval, eval.Decision)
	})

	t.Run("quota exhausted", func(t *testing.T) {
		g, store, _ := newTestGates(t, 2)
		store.applied = 2
		eval, err := g.Evaluate(ctx, Request{
			OrganizationID: "org-1", Axis: "headline", Confidence: 0.9, SampleSize: 120,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionNeedsApproval, eval.Decision)
		assert.Contains(t, eval.Reasons[0], "quota")
	})

	t.Run("high stakes CTA", func(t *testing.T) {
		g, _, _ := newTestGates(t, 2)
		eval, err := g.Evaluate(ctx, Request{
			OrganizationID: "org-1", Axis: AxisCTA, Confidence: 0.5, SampleSize: 200, HighStakes: true,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionNeedsApproval, eval.Decision)
		assert.Contains(t, eval.Reasons[0], "CTA")
	})

	t.Run("small sample", func(t *testing.T) {
		g, _, _ := newTestGates(t, 2)
		eval, err := g.Evaluate(ctx, Request{
			OrganizationID: "org-1", Axis: "headline", Confidence: 0.95, SampleSize: 20,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionNeedsApproval, eval.Decision)
		assert.Contains(t, eval.Reasons[0], "sample size")
	})

	t.Run("schedule axis uses softer threshold", func(t *testing.T) {
		g, _, _ := newTestGates(t, 2)
		eval, err := g.Evaluate(ctx, Request{
			OrganizationID: "org-1", Axis: AxisSchedule, Confidence: 0.77, SampleSize: 120,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionAuto, eval.Decision)

		eval, err = g.Evaluate(ctx, Request{
			OrganizationID: "org-1", Axis: "headline", Confidence: 0.77, SampleSize: 120,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionNeedsApproval, eval.Decision)
	})
}

func TestReserveQuotaIsAtomic(t *testing.T) {
	g, _, mr := newTestGates(t, 2)
	ctx := context.Background()

	ok, err := g.ReserveQuota(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.ReserveQuota(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Третья резервация за сутки упирается в лимит
	ok, err = g.ReserveQuota(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Счетчик откатился: ключ не превышает лимит
	day := time.Now().UTC().Format("2006-01-02")
	got, err := mr.Get("map:quota:autopublish:org-1:" + day)
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestReserveQuotaWithoutOrganization(t *testing.T) {
	g, _, _ := newTestGates(t, 2)
	ok, err := g.ReserveQuota(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogAndRevertAction(t *testing.T) {
	g, store, _ := newTestGates(t, 2)
	ctx := context.Background()

	logged, err := g.LogAutoAction(ctx, domain.AutoAction{
		OrganizationID: "org-1",
		ContentID:      "content-7",
		Confidence:     0.9,
		Reason:         "experiment winner promoted",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, logged.ID)
	assert.Equal(t, domain.ActionApplied, logged.Status)
	assert.Equal(t, domain.ActionTypeAutoPublish, logged.ActionType)

	require.NoError(t, g.MarkReverted(ctx, logged.ID, "operator rollback"))
	got, err := store.GetAction(ctx, logged.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionReverted, got.Status)

	err = g.MarkReverted(ctx, "missing-id", "whatever")
	assert.ErrorIs(t, err, domain.ErrActionNotFound)
}
