package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

func TestAnalyzeGlobalFederationEmptyIsCritical(t *testing.T) {
	insight := AnalyzeGlobalFederation(nil)

	assert.Equal(t, domain.NetworkCritical, insight.NetworkHealth)
	assert.Equal(t, 0, insight.Participants)
	assert.Contains(t, insight.Summary, "critical")
}

func TestAnalyzeGlobalFederationClassification(t *testing.T) {
	cases := []struct {
		name   string
		scores map[string]int
		want   domain.NetworkHealth
	}{
		{
			name:   "high uniform trust is healthy",
			scores: map[string]int{"tenant-a": 88, "tenant-b": 85, "tenant-c": 90},
			want:   domain.NetworkHealthy,
		},
		{
			name:   "moderate trust is degraded",
			scores: map[string]int{"tenant-a": 70, "tenant-b": 62, "tenant-c": 75},
			want:   domain.NetworkDegraded,
		},
		{
			name:   "low trust is critical",
			scores: map[string]int{"tenant-a": 40, "tenant-b": 55},
			want:   domain.NetworkCritical,
		},
		{
			name:   "high average with huge spread is not healthy",
			scores: map[string]int{"tenant-a": 100, "tenant-b": 100, "tenant-c": 45},
			want:   domain.NetworkCritical,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			insight := AnalyzeGlobalFederation(snapshotsFor(tc.scores))
			assert.Equal(t, tc.want, insight.NetworkHealth)
		})
	}
}

func TestAnalyzeGlobalFederationSummaryListsTopPriorities(t *testing.T) {
	snapshots := []domain.FederationSnapshot{
		{
			TenantID:   "tenant-a",
			TrustScore: 85,
			Priorities: []domain.PriorityWeight{
				{Agent: domain.RoleOptimizer, Weight: 0.4},
				{Agent: domain.RoleGovernance, Weight: 0.3},
				{Agent: domain.RoleLearning, Weight: 0.2},
				{Agent: domain.RoleInsight, Weight: 0.1},
			},
		},
	}

	insight := AnalyzeGlobalFederation(snapshots)
	require.Len(t, insight.TopPriorities, 3, "summary carries at most top-3")
	assert.Equal(t, domain.RoleOptimizer, insight.TopPriorities[0].Agent)
	assert.Contains(t, insight.Summary, "optimizer")
}

type memMetricsStore struct {
	records map[string]domain.FederationMetricsRecord
}

func (m *memMetricsStore) UpsertFederationMetrics(_ context.Context, rec domain.FederationMetricsRecord) error {
	if m.records == nil {
		m.records = make(map[string]domain.FederationMetricsRecord)
	}
	m.records[rec.CycleID+"|"+rec.TenantID] = rec
	return nil
}

func TestRecordFederationMetricsIsIdempotentPerKey(t *testing.T) {
	store := &memMetricsStore{}
	insight := AnalyzeGlobalFederation(snapshotsFor(map[string]int{"tenant-a": 85, "tenant-b": 82}))

	require.NoError(t, RecordFederationMetrics(context.Background(), store, "cycle-1", "tenant-a", insight))
	require.NoError(t, RecordFederationMetrics(context.Background(), store, "cycle-1", "tenant-a", insight))

	assert.Len(t, store.records, 1, "same key overwrites")
	rec := store.records["cycle-1|tenant-a"]
	assert.Equal(t, insight.NetworkHealth, rec.NetworkHealth)
	assert.Equal(t, 2, rec.Participants)
}
