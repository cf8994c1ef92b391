package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/infra"
	"github.com/xela07ax/map-control-plane/internal/priority"
)

func TestAdaptiveIntervalMonotonicity(t *testing.T) {
	base := 300_000

	calm := AdaptiveInterval(AdaptiveSignals{Load: 0.1, ErrorRate: 0, TrustScore: 90, SuccessRate: 0.95}, base)
	loaded := AdaptiveInterval(AdaptiveSignals{Load: 0.9, ErrorRate: 0, TrustScore: 90, SuccessRate: 0.95}, base)
	assert.GreaterOrEqual(t, loaded, calm, "interval grows with load")

	clean := AdaptiveInterval(AdaptiveSignals{Load: 0.5, ErrorRate: 0, TrustScore: 70, SuccessRate: 0.8}, base)
	noisy := AdaptiveInterval(AdaptiveSignals{Load: 0.5, ErrorRate: 0.6, TrustScore: 70, SuccessRate: 0.8}, base)
	assert.GreaterOrEqual(t, noisy, clean, "interval grows with error rate")

	lowTrust := AdaptiveInterval(AdaptiveSignals{Load: 0.5, TrustScore: 20, SuccessRate: 0.8}, base)
	highTrust := AdaptiveInterval(AdaptiveSignals{Load: 0.5, TrustScore: 95, SuccessRate: 0.8}, base)
	assert.LessOrEqual(t, highTrust, lowTrust, "interval shrinks as trust grows")
}

func TestAdaptiveIntervalClamps(t *testing.T) {
	assert.Equal(t, MinIntervalMS, AdaptiveInterval(AdaptiveSignals{TrustScore: 100, SuccessRate: 1}, 10_000))
	assert.Equal(t, MaxIntervalMS, AdaptiveInterval(AdaptiveSignals{Load: 1, ErrorRate: 1}, 10_000_000))
}

// Стабы коллабораторов с подсчетом обращений.

type tickDeps struct {
	mu            sync.Mutex
	snapshotCalls int
	tickBlock     chan struct{}
	dispatched    []domain.MapEvent
}

func (d *tickDeps) Enabled() bool { return true }

func (d *tickDeps) Snapshot(context.Context, int) (domain.OrchestratorSnapshot, error) {
	d.mu.Lock()
	d.snapshotCalls++
	d.mu.Unlock()
	if d.tickBlock != nil {
		<-d.tickBlock
	}
	return domain.OrchestratorSnapshot{Enabled: true}, nil
}

func (d *tickDeps) DispatchEvent(_ context.Context, e domain.MapEvent) (*domain.MapEvent, error) {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, e)
	d.mu.Unlock()
	return &e, nil
}

func (d *tickDeps) UpdateAgentPriorities(_ context.Context, s priority.Signals) (priority.UpdateResult, error) {
	return priority.UpdateResult{
		Weights: priority.CalculateWeights(s),
		Summary: "Prioritas agen diperbarui",
	}, nil
}

func (d *tickDeps) Score(context.Context) (domain.TrustScore, error) {
	return domain.TrustScore{Score: 85, Metrics: domain.TrustMetrics{SuccessRate: 0.9}}, nil
}

func (d *tickDeps) Sample(context.Context) (Sample, error) {
	return Sample{BacklogSize: 3, AvgLatencyMS: 200}, nil
}

func (d *tickDeps) RunSweep(context.Context, float64) (domain.RecoveryLogEntry, error) {
	return domain.RecoveryLogEntry{Action: domain.RecoveryNoop}, nil
}

func (d *tickDeps) RecentLog(context.Context, int) ([]domain.RecoveryLogEntry, error) {
	return []domain.RecoveryLogEntry{{Action: domain.RecoveryNoop}}, nil
}

func newTestLoop(t *testing.T, enabled bool, deps *tickDeps) (*Loop, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(enabled, 300_000, deps, deps, deps, deps, deps, rdb, nil, zap.NewNop())
	return l, mr
}

func TestRunTickDisabledShortCircuits(t *testing.T) {
	deps := &tickDeps{}
	l, _ := newTestLoop(t, false, deps)

	res, err := l.RunTick(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Zero(t, deps.snapshotCalls, "disabled loop must not touch collaborators")
	assert.Equal(t, domain.LoopDisabled, l.State().State)
}

func TestRunTickAggregatesTelemetry(t *testing.T) {
	deps := &tickDeps{}
	l, mr := newTestLoop(t, true, deps)

	res, err := l.RunTick(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, res.Enabled)
	assert.GreaterOrEqual(t, res.Concurrency, 1)
	assert.GreaterOrEqual(t, res.IntervalMS, MinIntervalMS)
	assert.Len(t, res.Priorities, 4)
	assert.Len(t, res.History, 1)
	assert.NotEmpty(t, res.RecoveryLog)

	require.Len(t, deps.dispatched, 1, "summary event emitted")
	assert.Equal(t, domain.EventTelemetrySync, deps.dispatched[0].Type)

	// Состояние отзеркалено в Redis для консоли
	raw, err := mr.Get(infra.RedisKeyLoopState)
	require.NoError(t, err)
	assert.Contains(t, raw, `"state"`)
}

func TestRunTickWithoutEmitEvent(t *testing.T) {
	deps := &tickDeps{}
	l, _ := newTestLoop(t, true, deps)

	_, err := l.RunTick(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, deps.dispatched)
}

func TestRunTickSingleFlight(t *testing.T) {
	deps := &tickDeps{tickBlock: make(chan struct{})}
	l, _ := newTestLoop(t, true, deps)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.RunTick(context.Background(), false)
	}()

	// Ждем, пока первый тик застрянет в Snapshot
	require.Eventually(t, func() bool {
		deps.mu.Lock()
		defer deps.mu.Unlock()
		return deps.snapshotCalls == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Конкурирующий тик пропускается, не трогая коллабораторов повторно
	res, err := l.RunTick(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Enabled)

	deps.mu.Lock()
	assert.Equal(t, 1, deps.snapshotCalls)
	deps.mu.Unlock()

	close(deps.tickBlock)
	wg.Wait()
}

func TestStopIsIdempotent(t *testing.T) {
	deps := &tickDeps{}
	l, _ := newTestLoop(t, true, deps)

	l.Start(context.Background())
	l.Stop()
	l.Stop()
}

func TestStartStopCyclesDoNotRace(t *testing.T) {
	deps := &tickDeps{}
	l, _ := newTestLoop(t, true, deps)

	// Быстрые циклы старт/стоп: Stop обязан дождаться своей горутины
	// и не зависеть от l.done, который он же и обнуляет
	for i := 0; i < 200; i++ {
		l.Start(context.Background())
		l.Stop()
	}
	assert.Equal(t, domain.LoopIdle, l.State().State)
}

func TestStartDisabledDoesNothing(t *testing.T) {
	deps := &tickDeps{}
	l, _ := newTestLoop(t, false, deps)

	l.Start(context.Background())
	l.Stop()
	assert.Equal(t, domain.LoopDisabled, l.State().State)
}

func TestPauseResume(t *testing.T) {
	deps := &tickDeps{}
	l, _ := newTestLoop(t, true, deps)

	l.Pause()
	assert.Equal(t, domain.LoopPaused, l.State().State)

	// Прямой тик на паузе пропускается и состояние не сбрасывает
	_, err := l.RunTick(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopPaused, l.State().State)
	assert.Zero(t, deps.snapshotCalls, "paused loop must skip collaborators")

	l.Resume()
	assert.Equal(t, domain.LoopIdle, l.State().State)

	// Resume без паузы ничего не ломает
	l.Resume()
	assert.Equal(t, domain.LoopIdle, l.State().State)
}

func TestControlSignalsOverRedis(t *testing.T) {
	deps := &tickDeps{}
	l, mr := newTestLoop(t, true, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)
	defer l.Stop()

	require.Eventually(t, func() bool {
		mr.Publish(infra.RedisChanAutonomyControl, infra.AutonomySignalPause)
		return l.State().State == domain.LoopPaused
	}, 3*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		mr.Publish(infra.RedisChanAutonomyControl, infra.AutonomySignalResume)
		return l.State().State == domain.LoopIdle
	}, 3*time.Second, 50*time.Millisecond)
}
