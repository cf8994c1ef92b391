// Package loop — адаптивный контур автономии: на каждом тике сводит вместе
// снимок оркестратора, приоритеты, доверие, масштабирование и восстановление.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/infra"
	"github.com/xela07ax/map-control-plane/internal/priority"
	"github.com/xela07ax/map-control-plane/internal/scaler"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
)

const (
	// Границы адаптивного интервала совпадают с границами скейлера.
	MinIntervalMS = scaler.MinIntervalMS
	MaxIntervalMS = scaler.MaxIntervalMS

	historyCap = 20
)

// AdaptiveSignals — вход расчета интервала следующего тика.
type AdaptiveSignals struct {
	Load        float64 // [0,1]
	ErrorRate   float64 // [0,1]
	TrustScore  int     // 0-100
	SuccessRate float64 // [0,1]
}

// AdaptiveInterval — чистый расчет интервала: растет с нагрузкой и ошибками,
// сокращается при высоком доверии и успехе. Результат всегда в
// [MinIntervalMS, MaxIntervalMS].
func AdaptiveInterval(s AdaptiveSignals, baseIntervalMS int) int {
	load := clamp01(s.Load)
	errRate := clamp01(s.ErrorRate)
	trust := clamp01(float64(s.TrustScore) / 100)
	success := clamp01(s.SuccessRate)

	factor := (1 + 0.5*load + 1.0*errRate) * (1 - 0.2*trust) * (1 - 0.2*success)
	interval := int(float64(baseIntervalMS) * factor)

	if interval < MinIntervalMS {
		return MinIntervalMS
	}
	if interval > MaxIntervalMS {
		return MaxIntervalMS
	}
	return interval
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Dispatcher — оркестратор, как его видит петля.
type Dispatcher interface {
	Enabled() bool
	Snapshot(ctx context.Context, limit int) (domain.OrchestratorSnapshot, error)
	DispatchEvent(ctx context.Context, e domain.MapEvent) (*domain.MapEvent, error)
}

// PriorityUpdater пересчитывает и сохраняет веса агентов.
type PriorityUpdater interface {
	UpdateAgentPriorities(ctx context.Context, signals priority.Signals) (priority.UpdateResult, error)
}

// TrustReader — composite trust score.
type TrustReader interface {
	Score(ctx context.Context) (domain.TrustScore, error)
}

// Sample — замер бэклога и задержки из внешнего коллаборатора.
type Sample struct {
	BacklogSize  int
	AvgLatencyMS float64
}

// Sampler поставляет замеры для скейлера.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Sweeper — агент восстановления.
type Sweeper interface {
	RunSweep(ctx context.Context, errorRate float64) (domain.RecoveryLogEntry, error)
	RecentLog(ctx context.Context, limit int) ([]domain.RecoveryLogEntry, error)
}

// TickResult — агрегированная телеметрия одного тика.
type TickResult struct {
	Enabled     bool                      `json:"enabled"`
	Concurrency int                       `json:"concurrency"`
	IntervalMS  int                       `json:"interval_ms"`
	Priorities  []domain.PriorityWeight   `json:"priorities"`
	History     []scaler.Decision         `json:"history"`
	RecoveryLog []domain.RecoveryLogEntry `json:"recovery_log"`
}

type Loop struct {
	enabled        bool
	baseIntervalMS int

	orch       Dispatcher
	priorities PriorityUpdater
	trust      TrustReader
	sampler    Sampler
	recovery   Sweeper
	rdb        *redis.Client
	metrics    *telemetry.Metrics
	logger     *zap.Logger

	// Ровно один тик в полете: конкурирующий запрос пропускается
	tickInFlight int32

	mu              sync.Mutex
	state           domain.LoopState
	scaling         domain.ScalingState
	lastTickAt      time.Time
	lastSuccessRate float64
	hasLastSuccess  bool
	history         []scaler.Decision

	cancel context.CancelFunc
	done   chan struct{}
}

func New(enabled bool, baseIntervalMS int, orch Dispatcher, priorities PriorityUpdater, trust TrustReader, sampler Sampler, recovery Sweeper, rdb *redis.Client, metrics *telemetry.Metrics, logger *zap.Logger) *Loop {
	if baseIntervalMS <= 0 {
		baseIntervalMS = 300_000
	}
	state := domain.LoopIdle
	if !enabled {
		state = domain.LoopDisabled
	}
	return &Loop{
		enabled:        enabled,
		baseIntervalMS: baseIntervalMS,
		orch:           orch,
		priorities:     priorities,
		trust:          trust,
		sampler:        sampler,
		recovery:       recovery,
		rdb:            rdb,
		metrics:        metrics,
		logger:         logger.With(zap.String("mod", "loop")),
		state:          state,
		scaling:        domain.ScalingState{Concurrency: 1, IntervalMS: baseIntervalMS},
	}
}

// RunTick выполняет один тик контура. При выключенной автономии коротко
// замыкается, не трогая ни одного коллаборатора. Если тик уже в полете
// или петля на паузе, вызов пропускается и возвращает последнее
// известное состояние.
func (l *Loop) RunTick(ctx context.Context, emitEvent bool) (TickResult, error) {
	if !l.enabled {
		return TickResult{Enabled: false}, nil
	}

	if !atomic.CompareAndSwapInt32(&l.tickInFlight, 0, 1) {
		l.logger.Debug("tick skipped: previous tick still in flight")
		return l.snapshotResult(nil, nil), nil
	}
	defer atomic.StoreInt32(&l.tickInFlight, 0)

	// Пауза действует и на прямые вызовы, не только на таймер
	if l.paused() {
		l.logger.Debug("tick skipped: loop is paused")
		return l.snapshotResult(nil, nil), nil
	}

	started := time.Now()
	l.setState(domain.LoopRunning)
	defer l.setState(domain.LoopIdle)

	// 1. Снимок оркестратора
	snapshot, err := l.orch.Snapshot(ctx, 25)
	if err != nil {
		return TickResult{}, fmt.Errorf("orchestrator snapshot: %w", err)
	}

	// 2. Доверие
	score, err := l.trust.Score(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("trust score: %w", err)
	}

	// 3. Замер бэклога и задержки
	sample, err := l.sampler.Sample(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("sample telemetry: %w", err)
	}

	errorRate := score.Metrics.PolicyViolationRate
	load := clamp01(float64(sample.BacklogSize) / 50)

	l.mu.Lock()
	successDelta := 0.0
	if l.hasLastSuccess {
		successDelta = score.Metrics.SuccessRate - l.lastSuccessRate
	}
	l.lastSuccessRate = score.Metrics.SuccessRate
	l.hasLastSuccess = true
	current := l.scaling
	l.mu.Unlock()

	// 4. Пересчет приоритетов
	update, err := l.priorities.UpdateAgentPriorities(ctx, priority.Signals{
		Load:         load,
		SuccessDelta: successDelta,
		TrustScore:   score.Score,
		ErrorRate:    errorRate,
	})
	if err != nil {
		return TickResult{}, fmt.Errorf("update priorities: %w", err)
	}

	// 5. Масштабирование
	decision := scaler.Evaluate(scaler.Telemetry{
		BacklogSize:  sample.BacklogSize,
		AvgLatencyMS: sample.AvgLatencyMS,
		TrustScore:   score.Score,
		SuccessRate:  score.Metrics.SuccessRate,
	}, current)

	decision.State.IntervalMS = AdaptiveInterval(AdaptiveSignals{
		Load:        load,
		ErrorRate:   errorRate,
		TrustScore:  score.Score,
		SuccessRate: score.Metrics.SuccessRate,
	}, decision.State.IntervalMS)

	// 6. Свип восстановления
	sweep, err := l.recovery.RunSweep(ctx, errorRate)
	if err != nil {
		return TickResult{}, fmt.Errorf("recovery sweep: %w", err)
	}

	l.mu.Lock()
	l.scaling = decision.State
	l.lastTickAt = time.Now().UTC()
	l.history = append(l.history, decision)
	if len(l.history) > historyCap {
		l.history = l.history[len(l.history)-historyCap:]
	}
	l.mu.Unlock()

	// 7. Итоговое событие тика
	if emitEvent {
		_, err := l.orch.DispatchEvent(ctx, domain.MapEvent{
			Type:   domain.EventTelemetrySync,
			Source: domain.RoleInsight,
			Payload: map[string]any{
				"summary":         fmt.Sprintf("autonomy tick: %s, trust %d, backlog %d", decision.Status, score.Score, sample.BacklogSize),
				"scaling":         scaler.Describe(decision),
				"trustScore":      score.Score,
				"backlogSize":     sample.BacklogSize,
				"agents":          len(snapshot.Agents),
				"prioritySummary": update.Summary,
			},
		})
		if err != nil {
			l.logger.Warn("tick summary event failed", zap.Error(err))
		}
	}

	recoveryLog, err := l.recovery.RecentLog(ctx, 10)
	if err != nil {
		l.logger.Warn("recovery log read failed", zap.Error(err))
		recoveryLog = []domain.RecoveryLogEntry{sweep}
	}

	if l.metrics != nil {
		l.metrics.LoopTickDuration.Observe(time.Since(started).Seconds())
		l.metrics.AgentTrustScore.Set(float64(score.Score))
	}
	l.mirrorState(ctx)

	l.logger.Info("autonomy tick finished",
		zap.String("scaling", string(decision.Status)),
		zap.Int("trust", score.Score),
		zap.Int("backlog", sample.BacklogSize),
		zap.Duration("took", time.Since(started)),
	)
	return l.snapshotResult(update.Weights, recoveryLog), nil
}

func (l *Loop) snapshotResult(weights []domain.PriorityWeight, recoveryLog []domain.RecoveryLogEntry) TickResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := make([]scaler.Decision, len(l.history))
	copy(history, l.history)
	return TickResult{
		Enabled:     l.enabled,
		Concurrency: l.scaling.Concurrency,
		IntervalMS:  l.scaling.IntervalMS,
		Priorities:  weights,
		History:     history,
		RecoveryLog: recoveryLog,
	}
}

// Start запускает периодические тики. Повторный Start при работающей петле
// не делает ничего.
func (l *Loop) Start(ctx context.Context) {
	if !l.enabled {
		l.logger.Info("autonomy loop disabled by feature flag")
		return
	}

	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go l.run(runCtx, done)
	go l.listenControl(runCtx)
	l.logger.Info("autonomy loop started", zap.Int("base_interval_ms", l.baseIntervalMS))
}

// Stop останавливает петлю. Идемпотентен: повторный вызов безопасен,
// висячих таймеров не остается.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Info("autonomy loop stopped")
}

// Pause переводит петлю в paused: таймер продолжает идти, но тики
// пропускаются до Resume.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == domain.LoopDisabled {
		return
	}
	l.state = domain.LoopPaused
	l.logger.Info("autonomy loop paused")
}

// Resume снимает паузу.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != domain.LoopPaused {
		return
	}
	l.state = domain.LoopIdle
	l.logger.Info("autonomy loop resumed")
}

// State возвращает снимок без форсирования нового тика.
func (l *Loop) State() domain.LoopStateSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.LoopStateSnapshot{
		State:       l.state,
		Concurrency: l.scaling.Concurrency,
		IntervalMS:  l.scaling.IntervalMS,
		LastTickAt:  l.lastTickAt,
	}
}

// run закрывает именно тот канал, что был выдан ему при старте: Stop
// обнуляет l.done раньше, чем горутина успевает завершиться.
func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(l.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if l.paused() {
				l.mirrorState(ctx)
			} else {
				if _, err := l.RunTick(ctx, true); err != nil {
					l.logger.Error("autonomy tick failed", zap.Error(err))
				}
			}
			timer.Reset(l.currentInterval())
		}
	}
}

func (l *Loop) currentInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.scaling.IntervalMS) * time.Millisecond
}

func (l *Loop) paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == domain.LoopPaused
}

func (l *Loop) setState(s domain.LoopState) {
	l.mu.Lock()
	// Пауза переживает тики: setState(idle) не снимает ее
	if l.state == domain.LoopPaused && s == domain.LoopIdle {
		l.mu.Unlock()
		return
	}
	l.state = s
	l.mu.Unlock()
}

// mirrorState зеркалит снимок петли в Redis, чтобы Console API отвечал
// на запросы состояния без общей памяти с mapd.
func (l *Loop) mirrorState(ctx context.Context) {
	if l.rdb == nil {
		return
	}
	raw, err := json.Marshal(l.State())
	if err != nil {
		return
	}
	if err := l.rdb.Set(ctx, infra.RedisKeyLoopState, raw, time.Hour).Err(); err != nil {
		l.logger.Warn("loop state mirror failed", zap.Error(err))
	}
}
