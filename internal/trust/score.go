// Package trust пересчитывает составной показатель доверия к автономному
// контуру из истории исходов рекомендаций.
package trust

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// Веса свертки: успех важнее всего, затем откаты, затем нарушения политик.
const (
	successWeight   = 0.5
	rollbackWeight  = 0.3
	violationWeight = 0.2
)

// DeriveMetrics превращает сырые счетчики в ставки.
// При Total == 0 все ставки равны 0 (деление на ноль запрещено).
func DeriveMetrics(counts domain.TrustCounts) domain.TrustMetrics {
	m := domain.TrustMetrics{
		TotalRecommendations: counts.Total,
		Applied:              counts.Applied,
		Violations:           counts.PolicyViolations,
	}
	if counts.Total <= 0 {
		return m
	}
	total := float64(counts.Total)
	m.SuccessRate = float64(counts.Applied) / total
	m.RollbackRate = float64(counts.RolledBack) / total
	m.PolicyViolationRate = float64(counts.PolicyViolations) / total
	return m
}

// CalculateScore сворачивает ставки в единое число 0-100.
// Формула: (0.5*success + 0.3*(1-rollback) + 0.2*(1-violation)) * 100,
// округленная до ближайшего целого.
func CalculateScore(m domain.TrustMetrics) int {
	raw := successWeight*m.SuccessRate +
		rollbackWeight*(1-m.RollbackRate) +
		violationWeight*(1-m.PolicyViolationRate)

	score := int(math.Round(raw * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// CountsProvider поставляет счетчики исходов из журнала событий.
type CountsProvider interface {
	TrustCounts(ctx context.Context) (domain.TrustCounts, error)
}

type Service struct {
	counts CountsProvider
	logger *zap.Logger
}

func NewService(counts CountsProvider, logger *zap.Logger) *Service {
	return &Service{
		counts: counts,
		logger: logger.With(zap.String("mod", "trust")),
	}
}

// Score пересчитывает доверие по запросу. Отдельная строка в БД не хранится:
// источником правды всегда остается журнал событий.
func (s *Service) Score(ctx context.Context) (domain.TrustScore, error) {
	counts, err := s.counts.TrustCounts(ctx)
	if err != nil {
		return domain.ZeroTrustScore(), fmt.Errorf("load trust counts: %w", err)
	}

	metrics := DeriveMetrics(counts)
	score := domain.TrustScore{
		Score:   CalculateScore(metrics),
		Metrics: metrics,
	}

	s.logger.Debug("trust score recalculated",
		zap.Int("score", score.Score),
		zap.Int64("total", counts.Total),
	)
	return score, nil
}
