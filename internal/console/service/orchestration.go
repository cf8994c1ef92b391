package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/infra"
)

// SnapshotProvider — оркестратор, как его видит консоль.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, limit int) (domain.OrchestratorSnapshot, error)
}

// TrustReader — composite trust score.
type TrustReader interface {
	Score(ctx context.Context) (domain.TrustScore, error)
}

// Overview — агрегированный ответ дашборда оркестрации. Поля снимка
// лежат на верхнем уровне (enabled, agents, events, conflicts,
// last_updated), trust и loop добавлены рядом.
type Overview struct {
	domain.OrchestratorSnapshot
	Trust domain.TrustScore        `json:"trust"`
	Loop  domain.LoopStateSnapshot `json:"loop"`
}

// OrchestrationService читает состояние data plane без общей памяти с mapd:
// снимок и trust идут через Postgres, состояние петли — через Redis-зеркало.
type OrchestrationService struct {
	orch   SnapshotProvider
	trust  TrustReader
	rdb    *redis.Client
	logger *zap.Logger
}

func NewOrchestrationService(orch SnapshotProvider, trust TrustReader, rdb *redis.Client, logger *zap.Logger) *OrchestrationService {
	return &OrchestrationService{
		orch:   orch,
		trust:  trust,
		rdb:    rdb,
		logger: logger.Named("orchestration"),
	}
}

func (s *OrchestrationService) Overview(ctx context.Context, limit int) (Overview, error) {
	snapshot, err := s.orch.Snapshot(ctx, limit)
	if err != nil {
		return Overview{}, fmt.Errorf("orchestration_service: failed to load snapshot: %w", err)
	}

	trust, err := s.trust.Score(ctx)
	if err != nil {
		// Дашборд полезен и без свежего доверия
		s.logger.Warn("trust score unavailable for overview", zap.Error(err))
		trust = domain.ZeroTrustScore()
	}

	return Overview{
		OrchestratorSnapshot: snapshot,
		Trust:                trust,
		Loop:                 s.loopState(ctx),
	}, nil
}

// LoopState читает Redis-зеркало петли. Если mapd еще не писал состояние,
// петля считается выключенной.
func (s *OrchestrationService) LoopState(ctx context.Context) domain.LoopStateSnapshot {
	return s.loopState(ctx)
}

func (s *OrchestrationService) loopState(ctx context.Context) domain.LoopStateSnapshot {
	fallback := domain.LoopStateSnapshot{State: domain.LoopDisabled}
	if s.rdb == nil {
		return fallback
	}

	raw, err := s.rdb.Get(ctx, infra.RedisKeyLoopState).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("loop state read failed", zap.Error(err))
		}
		return fallback
	}

	var state domain.LoopStateSnapshot
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("loop state unmarshal failed", zap.Error(err))
		return fallback
	}
	return state
}

// ControlAutonomy публикует управляющий сигнал петле через Redis Pub/Sub.
func (s *OrchestrationService) ControlAutonomy(ctx context.Context, action string) error {
	switch action {
	case infra.AutonomySignalPause, infra.AutonomySignalResume:
	default:
		return fmt.Errorf("unknown autonomy action %q", action)
	}

	if err := s.rdb.Publish(ctx, infra.RedisChanAutonomyControl, action).Err(); err != nil {
		return fmt.Errorf("orchestration_service: failed to publish control signal: %w", err)
	}

	s.logger.Info("autonomy control signal sent", zap.String("action", action))
	return nil
}

// waitStateDeadline — сколько консоль ждет подтверждения смены состояния.
const waitStateDeadline = 2 * time.Second

// AwaitState опрашивает зеркало, пока петля не подтвердит новое состояние.
// Используется после ControlAutonomy, чтобы ответить оператору фактом.
func (s *OrchestrationService) AwaitState(ctx context.Context, want domain.LoopState) domain.LoopStateSnapshot {
	deadline := time.Now().Add(waitStateDeadline)
	for {
		state := s.loopState(ctx)
		if state.State == want || time.Now().After(deadline) {
			return state
		}
		select {
		case <-ctx.Done():
			return state
		case <-time.After(100 * time.Millisecond):
		}
	}
}
