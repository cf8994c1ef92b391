package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

type stubTrustReader struct {
	score int
}

func (s stubTrustReader) Score(context.Context) (domain.TrustScore, error) {
	return domain.TrustScore{Score: s.score}, nil
}

type stubPriorityReader struct{}

func (stubPriorityReader) ListWeights(context.Context) ([]domain.PriorityWeight, error) {
	return []domain.PriorityWeight{
		{Agent: domain.RoleOptimizer, Weight: 0.4, Confidence: 0.8},
		{Agent: domain.RoleGovernance, Weight: 0.35, Confidence: 0.8},
		{Agent: domain.RoleLearning, Weight: 0.15, Confidence: 0.8},
		{Agent: domain.RoleInsight, Weight: 0.1, Confidence: 0.8},
	}, nil
}

func newTestAgent(t *testing.T, tenantID string, bus *Bus, trust TrustReader) (*Agent, *memMetricsStore) {
	t.Helper()
	store := &memMetricsStore{}
	return NewAgent(tenantID, bus, trust, stubPriorityReader{}, store, zap.NewNop()), store
}

func TestBroadcastLocalSnapshot(t *testing.T) {
	bus := newLocalBus()
	agent, store := newTestAgent(t, "tenant-a", bus, stubTrustReader{score: 85})

	snapshot, err := agent.BroadcastLocalSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tenant-a", snapshot.TenantID)
	assert.Equal(t, 85, snapshot.TrustScore)
	assert.Len(t, snapshot.Priorities, 4)

	// На шине два события: telemetry_sync и trust_aggregate
	recent := bus.Status().RecentEvents
	require.Len(t, recent, 2)
	assert.Equal(t, EventTelemetrySync, recent[0].Type)
	assert.Equal(t, EventTrustAggregate, recent[1].Type)

	// Rollup посчитан по единственному известному тенанту
	require.NotEmpty(t, store.records)
	assert.Equal(t, domain.NetworkHealthy, agent.Insight().NetworkHealth)

	history := agent.History()
	require.Len(t, history, 1)
	assert.Equal(t, snapshot.TenantID, history[0].TenantID)
}

func TestHistoryIsBoundedMostRecentFirst(t *testing.T) {
	bus := newLocalBus()
	agent, _ := newTestAgent(t, "tenant-a", bus, stubTrustReader{score: 85})

	for i := 0; i < historyCap+5; i++ {
		_, err := agent.BroadcastLocalSnapshot(context.Background())
		require.NoError(t, err)
	}

	history := agent.History()
	assert.Len(t, history, historyCap)
	assert.False(t, history[0].UpdatedAt.Before(history[len(history)-1].UpdatedAt))
}

func TestRemoteSyncUpdatesSnapshotsLatestWins(t *testing.T) {
	bus := newLocalBus()
	agent, _ := newTestAgent(t, "tenant-a", bus, stubTrustReader{score: 85})

	ingestRemote := func(score float64) {
		event := NewEvent(EventTelemetrySync, "tenant-b", map[string]any{
			"trustScore":    score,
			"syncLatencyMs": float64(12),
			"priorities": []any{
				map[string]any{"agent": "optimizer", "weight": 0.5, "confidence": 0.7},
			},
		})
		sig, err := Sign(event, "secret")
		require.NoError(t, err)
		event.Signature = sig
		require.NoError(t, bus.Ingest(context.Background(), event))
	}

	ingestRemote(40)
	ingestRemote(82)

	snapshots := agent.Snapshots()
	require.Len(t, snapshots, 1, "latest-wins per tenant")
	assert.Equal(t, 82, snapshots[0].TrustScore)
	require.Len(t, snapshots[0].Priorities, 1)
	assert.Equal(t, domain.RoleOptimizer, snapshots[0].Priorities[0].Agent)
}

func TestGlobalInsightReflectsRemoteTenants(t *testing.T) {
	bus := newLocalBus()
	agent, _ := newTestAgent(t, "tenant-a", bus, stubTrustReader{score: 90})

	_, err := agent.BroadcastLocalSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkHealthy, agent.Insight().NetworkHealth)

	// Лежащий сосед тянет сеть в critical: разброс доверия слишком велик
	event := NewEvent(EventTelemetrySync, "tenant-b", map[string]any{"trustScore": float64(20)})
	sig, err := Sign(event, "secret")
	require.NoError(t, err)
	event.Signature = sig
	require.NoError(t, bus.Ingest(context.Background(), event))

	assert.Equal(t, domain.NetworkCritical, agent.Insight().NetworkHealth)
	assert.Equal(t, 2, agent.Insight().Participants)
}
