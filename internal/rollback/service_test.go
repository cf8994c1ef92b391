package rollback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

type memLogStore struct {
	updates []domain.OptimizationLog
	err     error
}

func (m *memLogStore) UpdateLog(_ context.Context, l domain.OptimizationLog) error {
	if m.err != nil {
		return m.err
	}
	m.updates = append(m.updates, l)
	return nil
}

func sampleLogs() []domain.OptimizationLog {
	return []domain.OptimizationLog{
		{ID: "log-1", Route: "/landing", Status: domain.OptimizationApplied},
		{ID: "log-2", Route: "/pricing", Status: domain.OptimizationApplied, Notes: "applied by optimizer"},
	}
}

func TestProcessAutoRollbackSkipsMildRegression(t *testing.T) {
	store := &memLogStore{}
	svc := NewService(store, nil, nil, zap.NewNop())

	results, err := svc.ProcessAutoRollback(context.Background(), sampleLogs(), -0.02, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, store.updates, "no persistence below the threshold")
}

func TestProcessAutoRollbackSkipsEmptyLogs(t *testing.T) {
	store := &memLogStore{}
	svc := NewService(store, nil, nil, zap.NewNop())

	results, err := svc.ProcessAutoRollback(context.Background(), nil, -0.5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessAutoRollbackRevertsEveryLog(t *testing.T) {
	store := &memLogStore{}
	svc := NewService(store, nil, nil, zap.NewNop())

	results, err := svc.ProcessAutoRollback(context.Background(), sampleLogs(), -0.12, 0)
	require.NoError(t, err)
	require.Len(t, results, 2, "exactly one result per input log")

	for i, res := range results {
		assert.True(t, res.Rollback)
		assert.Equal(t, domain.OptimizationRejected, res.Status)
		assert.Contains(t, res.Message, "Regresi")
		assert.Equal(t, results[0].Message, res.Message, "shared message across the batch")

		updated := store.updates[i]
		assert.True(t, updated.Rollback)
		assert.Equal(t, domain.OptimizationRejected, updated.Status)
		assert.Contains(t, updated.Notes, "auto-rollback")
	}

	// Существующие заметки сохраняются
	assert.Contains(t, store.updates[1].Notes, "applied by optimizer")
}

func TestProcessAutoRollbackClampsThreshold(t *testing.T) {
	store := &memLogStore{}
	svc := NewService(store, nil, nil, zap.NewNop())

	// Порог +0.5 зажимается в 0: impact -0.01 <= 0 приводит к откату
	results, err := svc.ProcessAutoRollback(context.Background(), sampleLogs(), -0.01, 0.5)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Порог -5 зажимается в -1: impact -0.9 не дотягивает
	store.updates = nil
	results, err = svc.ProcessAutoRollback(context.Background(), sampleLogs(), -0.9, -5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessAutoRollbackPropagatesStoreError(t *testing.T) {
	svc := NewService(&memLogStore{err: assert.AnError}, nil, nil, zap.NewNop())

	_, err := svc.ProcessAutoRollback(context.Background(), sampleLogs(), -0.12, 0)
	require.Error(t, err)
}
