package protocol

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

func prio(n int) *int { return &n }

func validEvent() domain.MapEvent {
	return domain.MapEvent{
		TraceID: "t1",
		Type:    domain.EventRecommendation,
		Source:  domain.RoleOptimizer,
		Payload: map[string]any{
			"summary":    "optimize /landing hero copy",
			"route":      "/landing",
			"confidence": 0.8,
		},
	}
}

func TestParseEvent_Normalizes(t *testing.T) {
	ev, err := ParseEvent(validEvent())
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, 70, ev.PriorityValue(), "optimizer base priority")
}

func TestParseEvent_KeepsExplicitZeroPriority(t *testing.T) {
	candidate := validEvent()
	candidate.Priority = prio(0)

	ev, err := ParseEvent(candidate)
	require.NoError(t, err)
	assert.Equal(t, 0, ev.PriorityValue(), "explicit zero is not promoted to role base")

	// Незаданный приоритет по-прежнему получает базовый приоритет роли
	ev, err = ParseEvent(validEvent())
	require.NoError(t, err)
	assert.Equal(t, 70, ev.PriorityValue())
}

func TestParseEvent_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.MapEvent)
	}{
		{"missing summary", func(e *domain.MapEvent) { delete(e.Payload, "summary") }},
		{"empty summary", func(e *domain.MapEvent) { e.Payload["summary"] = "" }},
		{"nil payload", func(e *domain.MapEvent) { e.Payload = nil }},
		{"unknown type", func(e *domain.MapEvent) { e.Type = "telepathy" }},
		{"unknown source", func(e *domain.MapEvent) { e.Source = "ghost" }},
		{"unknown target", func(e *domain.MapEvent) { e.Target = "ghost" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)

			_, err := ParseEvent(ev)
			require.Error(t, err)

			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestEnsurePriority_Bounds(t *testing.T) {
	high := 250
	low := -40
	mid := 42

	assert.Equal(t, 100, EnsurePriority(domain.RoleOptimizer, &high))
	assert.Equal(t, 0, EnsurePriority(domain.RoleOptimizer, &low))
	assert.Equal(t, 42, EnsurePriority(domain.RoleOptimizer, &mid))

	// nil => базовый приоритет роли
	assert.Equal(t, 90, EnsurePriority(domain.RoleGovernance, nil))
	assert.Equal(t, 60, EnsurePriority(domain.RoleLearning, nil))
	assert.Equal(t, 40, EnsurePriority(domain.RoleFederation, nil))
}

func TestSortByGovernance_PriorityThenRoleThenTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	learning := domain.MapEvent{
		ID: "a", TraceID: "t1", Type: domain.EventEvaluation,
		Source: domain.RoleLearning, Priority: prio(60), Timestamp: base,
		Payload: map[string]any{"summary": "learning verdict"},
	}
	governance := domain.MapEvent{
		ID: "b", TraceID: "t1", Type: domain.EventPolicyUpdate,
		Source: domain.RoleGovernance, Priority: prio(90), Timestamp: base.Add(time.Minute),
		Payload: map[string]any{"summary": "governance verdict"},
	}

	sorted := SortByGovernance([]domain.MapEvent{learning, governance})
	assert.Equal(t, "b", sorted[0].ID, "higher priority wins")

	// Равные приоритеты: governance бьет learning за счет базового приоритета роли,
	// даже если governance-событие пришло позже.
	governance.Priority = prio(60)
	sorted = SortByGovernance([]domain.MapEvent{learning, governance})
	assert.Equal(t, "b", sorted[0].ID)

	// Полностью равные роли и приоритеты: раньше по времени — выше.
	later := learning
	later.ID = "c"
	later.Timestamp = base.Add(2 * time.Minute)
	sorted = SortByGovernance([]domain.MapEvent{later, learning})
	assert.Equal(t, "a", sorted[0].ID)
}

func TestSortByGovernance_DeterministicUnderPermutation(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []domain.MapEvent{
		{ID: "1", Source: domain.RoleLearning, Priority: prio(60), Timestamp: base},
		{ID: "2", Source: domain.RoleGovernance, Priority: prio(90), Timestamp: base.Add(time.Hour)},
		{ID: "3", Source: domain.RoleOptimizer, Priority: prio(90), Timestamp: base.Add(time.Minute)},
		{ID: "4", Source: domain.RoleInsight, Priority: prio(10), Timestamp: base},
	}

	want := SortByGovernance(events)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]domain.MapEvent, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := SortByGovernance(shuffled)
		require.Equal(t, want, got, "permutation %d", i)
	}
}
