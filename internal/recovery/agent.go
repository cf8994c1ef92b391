// Package recovery следит за регрессиями доверия между тиками контура
// и решает, нужен ли откат.
package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// Пороги регрессии между двумя последовательными снимками доверия.
const (
	rollbackDropPoints   = 15
	reevaluateDropPoints = 5
	errorRateCeiling     = 0.25
)

// Input — вход чистого анализа.
type Input struct {
	Agent            domain.AgentRole
	TrustScoreBefore int
	TrustScoreAfter  int
	ErrorRate        float64
	TraceID          string
}

// Analyze — чистое правило восстановления.
// Падение >= 15 пунктов или errorRate > 0.25 — откат. Падение >= 5 пунктов —
// переоценка. Иначе noop.
func Analyze(in Input) domain.RecoveryLogEntry {
	drop := in.TrustScoreBefore - in.TrustScoreAfter

	entry := domain.RecoveryLogEntry{
		Agent:            in.Agent,
		TrustScoreBefore: in.TrustScoreBefore,
		TrustScoreAfter:  in.TrustScoreAfter,
		TraceID:          in.TraceID,
	}

	switch {
	case drop >= rollbackDropPoints || in.ErrorRate > errorRateCeiling:
		entry.Action = domain.RecoveryRollback
		entry.Reason = fmt.Sprintf(
			"Regresi terdeteksi: trust turun %d poin (error rate %.2f), rollback diperlukan",
			drop, in.ErrorRate,
		)
	case drop >= reevaluateDropPoints:
		entry.Action = domain.RecoveryReevaluate
		entry.Reason = fmt.Sprintf("trust dropped %d points, scheduling reevaluation", drop)
	default:
		entry.Action = domain.RecoveryNoop
		entry.Reason = "trust stable, no recovery needed"
	}
	return entry
}

// TrustReader отдает текущий composite score.
type TrustReader interface {
	Score(ctx context.Context) (domain.TrustScore, error)
}

// LogStore сохраняет записи свипа.
type LogStore interface {
	InsertEntry(ctx context.Context, e domain.RecoveryLogEntry) (domain.RecoveryLogEntry, error)
	RecentEntries(ctx context.Context, limit int) ([]domain.RecoveryLogEntry, error)
}

// Agent держит последний увиденный score между свипами: "before" всегда
// предыдущий снимок, "after" всегда свежий.
type Agent struct {
	trust  TrustReader
	store  LogStore
	logger *zap.Logger

	mu        sync.Mutex
	lastScore int
	hasLast   bool
}

func NewAgent(trust TrustReader, store LogStore, logger *zap.Logger) *Agent {
	return &Agent{
		trust:  trust,
		store:  store,
		logger: logger.With(zap.String("mod", "recovery")),
	}
}

// RunSweep сравнивает свежий trust score с предыдущим, пишет запись в журнал
// и возвращает ее вместе с персистентным created_at.
func (a *Agent) RunSweep(ctx context.Context, errorRate float64) (domain.RecoveryLogEntry, error) {
	score, err := a.trust.Score(ctx)
	if err != nil {
		return domain.RecoveryLogEntry{}, fmt.Errorf("fetch trust score: %w", err)
	}

	a.mu.Lock()
	before := score.Score
	if a.hasLast {
		before = a.lastScore
	}
	a.lastScore = score.Score
	a.hasLast = true
	a.mu.Unlock()

	entry := Analyze(Input{
		Agent:            domain.RoleGovernance,
		TrustScoreBefore: before,
		TrustScoreAfter:  score.Score,
		ErrorRate:        errorRate,
	})
	entry.ID = uuid.NewString()

	saved, err := a.store.InsertEntry(ctx, entry)
	if err != nil {
		return domain.RecoveryLogEntry{}, fmt.Errorf("persist recovery entry: %w", err)
	}

	if saved.Action != domain.RecoveryNoop {
		a.logger.Warn("recovery sweep flagged regression",
			zap.String("action", string(saved.Action)),
			zap.Int("before", saved.TrustScoreBefore),
			zap.Int("after", saved.TrustScoreAfter),
		)
	}
	return saved, nil
}

// RecentLog отдает последние записи для телеметрии петли.
func (a *Agent) RecentLog(ctx context.Context, limit int) ([]domain.RecoveryLogEntry, error) {
	return a.store.RecentEntries(ctx, limit)
}
