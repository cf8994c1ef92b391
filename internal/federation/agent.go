package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

const historyCap = 20

// TrustReader — локальный composite trust.
type TrustReader interface {
	Score(ctx context.Context) (domain.TrustScore, error)
}

// PriorityReader — актуальные веса агентов.
type PriorityReader interface {
	ListWeights(ctx context.Context) ([]domain.PriorityWeight, error)
}

// Agent — федеративный агент тенанта: рассылает локальный снимок и
// сводит снимки остальных тенантов в глобальный инсайт.
type Agent struct {
	tenantID string
	bus      *Bus
	trust    TrustReader
	weights  PriorityReader
	store    MetricsStore
	logger   *zap.Logger

	mu        sync.RWMutex
	snapshots map[string]domain.FederationSnapshot
	history   []domain.FederationSnapshot // последние локальные снимки, новые первыми
	insight   domain.GlobalInsight
}

func NewAgent(tenantID string, bus *Bus, trust TrustReader, weights PriorityReader, store MetricsStore, logger *zap.Logger) *Agent {
	a := &Agent{
		tenantID:  tenantID,
		bus:       bus,
		trust:     trust,
		weights:   weights,
		store:     store,
		logger:    logger.With(zap.String("mod", "federation.agent")),
		snapshots: make(map[string]domain.FederationSnapshot),
	}
	bus.Subscribe(EventTelemetrySync, a.onRemoteSync)
	return a
}

// BroadcastLocalSnapshot собирает локальные trust и приоритеты, публикует
// telemetry_sync для peer-ов и локальный trust_aggregate, пишет rollup
// метрик цикла и пополняет внутреннюю историю.
func (a *Agent) BroadcastLocalSnapshot(ctx context.Context) (domain.FederationSnapshot, error) {
	started := time.Now()

	score, err := a.trust.Score(ctx)
	if err != nil {
		return domain.FederationSnapshot{}, fmt.Errorf("collect local trust: %w", err)
	}
	weights, err := a.weights.ListWeights(ctx)
	if err != nil {
		return domain.FederationSnapshot{}, fmt.Errorf("collect priorities: %w", err)
	}

	snapshot := domain.FederationSnapshot{
		TenantID:      a.tenantID,
		TrustScore:    score.Score,
		SyncLatencyMS: time.Since(started).Milliseconds(),
		Priorities:    weights,
		UpdatedAt:     time.Now().UTC(),
	}

	a.mu.Lock()
	a.snapshots[a.tenantID] = snapshot
	a.history = append([]domain.FederationSnapshot{snapshot}, a.history...)
	if len(a.history) > historyCap {
		a.history = a.history[:historyCap]
	}
	known := a.knownSnapshotsLocked()
	a.mu.Unlock()

	priorityPayload := make([]map[string]any, 0, len(weights))
	for _, w := range weights {
		priorityPayload = append(priorityPayload, map[string]any{
			"agent":      string(w.Agent),
			"weight":     w.Weight,
			"confidence": w.Confidence,
		})
	}

	if _, err := a.bus.Publish(ctx, NewEvent(EventTelemetrySync, a.tenantID, map[string]any{
		"trustScore":    snapshot.TrustScore,
		"syncLatencyMs": snapshot.SyncLatencyMS,
		"priorities":    priorityPayload,
	})); err != nil {
		return domain.FederationSnapshot{}, fmt.Errorf("publish telemetry sync: %w", err)
	}

	aggregate := AggregateTrustScores(known)
	if _, err := a.bus.Publish(ctx, NewEvent(EventTrustAggregate, a.tenantID, map[string]any{
		"participants": aggregate.Participants,
		"mean":         aggregate.Mean,
		"median":       aggregate.Median,
		"stdDev":       aggregate.StdDev,
	})); err != nil {
		a.logger.Warn("trust aggregate publish failed", zap.Error(err))
	}

	a.recompute(ctx, known)
	return snapshot, nil
}

// onRemoteSync принимает telemetry_sync другого тенанта: снимок latest-wins,
// затем пересчет глобального инсайта.
func (a *Agent) onRemoteSync(ctx context.Context, event domain.FederationEvent) {
	if event.TenantID == a.tenantID {
		return
	}

	snapshot := snapshotFromPayload(event)

	a.mu.Lock()
	a.snapshots[event.TenantID] = snapshot
	known := a.knownSnapshotsLocked()
	a.mu.Unlock()

	a.logger.Debug("remote federation snapshot ingested",
		zap.String("tenant", event.TenantID),
		zap.Int("trust", snapshot.TrustScore),
	)
	a.recompute(ctx, known)
}

func (a *Agent) recompute(ctx context.Context, snapshots []domain.FederationSnapshot) {
	insight := AnalyzeGlobalFederation(snapshots)

	a.mu.Lock()
	a.insight = insight
	a.mu.Unlock()

	cycleID := uuid.NewString()
	if err := RecordFederationMetrics(ctx, a.store, cycleID, a.tenantID, insight); err != nil {
		a.logger.Warn("federation metrics rollup failed", zap.Error(err))
	}
}

// Insight возвращает последний посчитанный глобальный инсайт.
func (a *Agent) Insight() domain.GlobalInsight {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.insight
}

// Snapshots возвращает известные снимки всех тенантов.
func (a *Agent) Snapshots() []domain.FederationSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.knownSnapshotsLocked()
}

// History возвращает последние локальные снимки, новые первыми.
func (a *Agent) History() []domain.FederationSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.FederationSnapshot, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Agent) knownSnapshotsLocked() []domain.FederationSnapshot {
	out := make([]domain.FederationSnapshot, 0, len(a.snapshots))
	for _, s := range a.snapshots {
		out = append(out, s)
	}
	return out
}

func snapshotFromPayload(event domain.FederationEvent) domain.FederationSnapshot {
	snapshot := domain.FederationSnapshot{
		TenantID:  event.TenantID,
		UpdatedAt: event.Timestamp,
	}
	if v, ok := event.Payload["trustScore"].(float64); ok {
		snapshot.TrustScore = int(v)
	}
	if v, ok := event.Payload["syncLatencyMs"].(float64); ok {
		snapshot.SyncLatencyMS = int64(v)
	}

	raw, ok := event.Payload["priorities"].([]any)
	if !ok {
		return snapshot
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		w := domain.PriorityWeight{UpdatedAt: event.Timestamp}
		if agent, ok := entry["agent"].(string); ok {
			w.Agent = domain.AgentRole(agent)
		}
		if weight, ok := entry["weight"].(float64); ok {
			w.Weight = weight
		}
		if confidence, ok := entry["confidence"].(float64); ok {
			w.Confidence = confidence
		}
		if w.Agent.IsValid() {
			snapshot.Priorities = append(snapshot.Priorities, w)
		}
	}
	return snapshot
}
