// Package orchestrator — ядро межагентной координации: реестр агентов,
// диспетчеризация событий MAP и разрешение конфликтов.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/protocol"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
)

const (
	defaultSnapshotLimit = 25
	minSnapshotLimit     = 5
	maxSnapshotLimit     = 100
)

// EventStore — журнал событий протокола.
type EventStore interface {
	InsertEvent(ctx context.Context, e domain.MapEvent) error
	RecentEvents(ctx context.Context, limit int) ([]domain.MapEvent, error)
	LatestEvaluation(ctx context.Context, recommendationID string) (*domain.MapEvent, error)
}

// RegistryStore — персистентный реестр агентов. Пишется из mapd,
// читается также консолью.
type RegistryStore interface {
	UpsertRegistration(ctx context.Context, reg domain.AgentRegistration) error
	ListRegistrations(ctx context.Context) ([]domain.AgentRegistration, error)
}

type Orchestrator struct {
	events   EventStore
	registry RegistryStore
	enabled  bool
	metrics  *telemetry.Metrics
	logger   *zap.Logger

	// L1-кэш реестра: снапшоты не должны ходить в БД за статикой
	mu     sync.RWMutex
	agents map[string]domain.AgentRegistration
}

// New создает оркестратор. Флаг enabled считывается один раз на старте
// процесса: это аварийный рубильник всей оркестрации.
func New(events EventStore, registry RegistryStore, enabled bool, metrics *telemetry.Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		events:   events,
		registry: registry,
		enabled:  enabled,
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "orchestrator")),
		agents:   make(map[string]domain.AgentRegistration),
	}
}

// Enabled — аварийный рубильник. Каждый вызывающий обязан проверять его
// до того, как полагаться на оркестрацию.
func (o *Orchestrator) Enabled() bool { return o.enabled }

// RegisterAgent — идемпотентная регистрация: повторный вызов с тем же
// agent_id обновляет метаданные без дубликатов. StreamKey выводится
// детерминированно из agent_id, если не задан.
func (o *Orchestrator) RegisterAgent(ctx context.Context, reg domain.AgentRegistration) (domain.AgentRegistration, error) {
	if reg.AgentID == "" {
		return domain.AgentRegistration{}, fmt.Errorf("agent_id is required")
	}
	if reg.StreamKey == "" {
		reg.StreamKey = fmt.Sprintf("%s:stream:%s", RegistryNamespace, reg.AgentID)
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}

	if err := o.registry.UpsertRegistration(ctx, reg); err != nil {
		return domain.AgentRegistration{}, fmt.Errorf("persist registration: %w", err)
	}

	o.mu.Lock()
	o.agents[reg.AgentID] = reg
	o.mu.Unlock()

	o.logger.Info("agent registered",
		zap.String("agent_id", reg.AgentID),
		zap.String("stream_key", reg.StreamKey),
	)
	return reg, nil
}

// RegistryNamespace — префикс детерминированных stream-ключей агентов.
const RegistryNamespace = "map"

// DispatchEvent валидирует событие по схеме протокола, проставляет trace_id
// при его отсутствии и пишет РОВНО одну запись в журнал.
// При выключенной оркестрации — no-op, возвращающий nil.
// Нарушения схемы отклоняются без записи; ошибки БД пробрасываются как есть.
func (o *Orchestrator) DispatchEvent(ctx context.Context, candidate domain.MapEvent) (*domain.MapEvent, error) {
	if !o.enabled {
		return nil, nil
	}

	event, err := protocol.ParseEvent(candidate)
	if err != nil {
		if o.metrics != nil {
			o.metrics.EventsRejected.Inc()
		}
		return nil, err
	}

	if event.TraceID == "" {
		event.TraceID = uuid.NewString()
	}

	if err := o.events.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}

	if o.metrics != nil {
		o.metrics.EventsDispatched.WithLabelValues(string(event.Type), string(event.Source)).Inc()
	}
	o.logger.Debug("event dispatched",
		zap.String("trace_id", event.TraceID),
		zap.String("type", string(event.Type)),
		zap.String("source", string(event.Source)),
	)
	return &event, nil
}

// Snapshot возвращает реестр агентов плюс последние события (новые первыми)
// и вычисленные победители конфликтов. При выключенной оркестрации — только
// статический реестр с пустыми событиями.
func (o *Orchestrator) Snapshot(ctx context.Context, limit int) (domain.OrchestratorSnapshot, error) {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	if limit < minSnapshotLimit {
		limit = minSnapshotLimit
	}
	if limit > maxSnapshotLimit {
		limit = maxSnapshotLimit
	}

	snapshot := domain.OrchestratorSnapshot{
		Enabled:     o.enabled,
		Agents:      o.listAgents(ctx),
		Events:      []domain.MapEvent{},
		Conflicts:   []domain.ConflictResolution{},
		LastUpdated: time.Now().UTC(),
	}

	if !o.enabled {
		return snapshot, nil
	}

	events, err := o.events.RecentEvents(ctx, limit)
	if err != nil {
		return domain.OrchestratorSnapshot{}, fmt.Errorf("load recent events: %w", err)
	}
	snapshot.Events = events
	snapshot.Conflicts = detectConflicts(events)

	if o.metrics != nil && len(snapshot.Conflicts) > 0 {
		o.metrics.ConflictsTotal.Add(float64(len(snapshot.Conflicts)))
	}
	return snapshot, nil
}

// LatestEvaluationForRecommendation возвращает последнее событие evaluation,
// ссылающееся на рекомендацию, либо nil.
func (o *Orchestrator) LatestEvaluationForRecommendation(ctx context.Context, recommendationID string) (*domain.MapEvent, error) {
	if !o.enabled {
		return nil, nil
	}
	return o.events.LatestEvaluation(ctx, recommendationID)
}

func (o *Orchestrator) listAgents(ctx context.Context) []domain.AgentRegistration {
	o.mu.RLock()
	cached := make([]domain.AgentRegistration, 0, len(o.agents))
	for _, reg := range o.agents {
		cached = append(cached, reg)
	}
	o.mu.RUnlock()

	if len(cached) > 0 {
		return cached
	}

	// Холодный процесс (например, консоль): реестр читается из БД
	persisted, err := o.registry.ListRegistrations(ctx)
	if err != nil {
		o.logger.Warn("registry read failed, serving empty list", zap.Error(err))
		return []domain.AgentRegistration{}
	}

	o.mu.Lock()
	for _, reg := range persisted {
		o.agents[reg.AgentID] = reg
	}
	o.mu.Unlock()
	return persisted
}

// ResolveConflict — единственное правило разрешения конфликтов в системе.
// Из >= 2 событий одного trace_id побеждает первое после сортировки
// governance-компаратором. Чистая и детерминированная функция.
func ResolveConflict(events []domain.MapEvent) (domain.ConflictResolution, error) {
	if len(events) < 2 {
		return domain.ConflictResolution{}, fmt.Errorf("conflict requires at least 2 events, got %d", len(events))
	}
	traceID := events[0].TraceID
	for _, e := range events[1:] {
		if e.TraceID != traceID {
			return domain.ConflictResolution{}, fmt.Errorf("events span different traces (%q vs %q)", traceID, e.TraceID)
		}
	}

	sorted := protocol.SortByGovernance(events)
	return domain.ConflictResolution{
		TraceID:    traceID,
		Winner:     sorted[0],
		Contenders: len(events),
	}, nil
}

// detectConflicts группирует события снапшота по trace_id и разрешает группы
// с более чем одним событием.
func detectConflicts(events []domain.MapEvent) []domain.ConflictResolution {
	byTrace := make(map[string][]domain.MapEvent)
	order := make([]string, 0)
	for _, e := range events {
		if e.TraceID == "" {
			continue
		}
		if _, seen := byTrace[e.TraceID]; !seen {
			order = append(order, e.TraceID)
		}
		byTrace[e.TraceID] = append(byTrace[e.TraceID], e)
	}

	resolutions := make([]domain.ConflictResolution, 0)
	for _, traceID := range order {
		group := byTrace[traceID]
		if len(group) < 2 {
			continue
		}
		res, err := ResolveConflict(group)
		if err != nil {
			continue
		}
		resolutions = append(resolutions, res)
	}
	return resolutions
}
