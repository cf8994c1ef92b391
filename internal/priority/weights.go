// Package priority пересчитывает относительные веса агентов из живых
// сигналов телеметрии и сохраняет их для следующего тика контура.
package priority

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// Signals — вход пересчета весов за один тик.
type Signals struct {
	Load         float64 // [0,1], загрузка конвейера рекомендаций
	SuccessDelta float64 // [-1,1], изменение success rate с прошлого тика
	TrustScore   int     // 0-100, текущий composite trust
	ErrorRate    float64 // [0,1]
}

// Базовые доли до нормализации. Governance всегда стартует выше остальных:
// надзор не должен обнуляться даже на идеальной телеметрии.
const (
	baseGovernance = 0.30
	baseOptimizer  = 0.35
	baseLearning   = 0.20
	baseInsight    = 0.15
)

// CalculateWeights — чистая функция: 4 записи, сумма весов ровно 1.0.
// Монотонность: governance растет при низком доверии и высоком error rate,
// learning растет при отрицательной дельте успеха, optimizer растет при
// высокой нагрузке и положительной дельте.
func CalculateWeights(s Signals) []domain.PriorityWeight {
	trust := clamp01(float64(s.TrustScore) / 100)
	load := clamp01(s.Load)
	errRate := clamp01(s.ErrorRate)
	delta := clampRange(s.SuccessDelta, -1, 1)

	governance := baseGovernance + 0.4*(1-trust) + 0.5*errRate

	learning := baseLearning
	if delta < 0 {
		learning += 0.5 * math.Min(1, -delta)
	}

	optimizer := baseOptimizer + 0.3*load
	if delta > 0 {
		optimizer += 0.3 * delta
	}

	insight := baseInsight

	total := governance + learning + optimizer + insight
	now := time.Now().UTC()
	// Уверенность растет со стабильностью: мало ошибок, малая дельта
	confidence := clamp01(1 - errRate - 0.5*math.Abs(delta))

	return []domain.PriorityWeight{
		{
			Agent:      domain.RoleOptimizer,
			Weight:     optimizer / total,
			Confidence: confidence,
			Rationale:  fmt.Sprintf("load=%.2f successDelta=%+.2f", load, delta),
			UpdatedAt:  now,
		},
		{
			Agent:      domain.RoleGovernance,
			Weight:     governance / total,
			Confidence: confidence,
			Rationale:  fmt.Sprintf("trust=%d errorRate=%.2f", s.TrustScore, errRate),
			UpdatedAt:  now,
		},
		{
			Agent:      domain.RoleLearning,
			Weight:     learning / total,
			Confidence: confidence,
			Rationale:  fmt.Sprintf("successDelta=%+.2f", delta),
			UpdatedAt:  now,
		},
		{
			Agent:      domain.RoleInsight,
			Weight:     insight / total,
			Confidence: confidence,
			Rationale:  "baseline reporting share",
			UpdatedAt:  now,
		},
	}
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WeightStore сохраняет вычисленные веса между тиками.
type WeightStore interface {
	UpsertWeight(ctx context.Context, w domain.PriorityWeight) error
}

// UpdateResult — итог пересчета: веса плюс человеко-читаемая сводка.
type UpdateResult struct {
	Weights []domain.PriorityWeight `json:"weights"`
	Summary string                  `json:"summary"`
}

type Service struct {
	store  WeightStore
	logger *zap.Logger
}

func NewService(store WeightStore, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With(zap.String("mod", "priority")),
	}
}

// UpdateAgentPriorities пересчитывает веса и делает ровно 4 upsert-а.
func (s *Service) UpdateAgentPriorities(ctx context.Context, signals Signals) (UpdateResult, error) {
	weights := CalculateWeights(signals)

	for _, w := range weights {
		if err := s.store.UpsertWeight(ctx, w); err != nil {
			return UpdateResult{}, fmt.Errorf("persist weight for %s: %w", w.Agent, err)
		}
	}

	top := weights[0]
	for _, w := range weights[1:] {
		if w.Weight > top.Weight {
			top = w
		}
	}
	summary := fmt.Sprintf("Prioritas agen diperbarui: %s memimpin dengan bobot %.2f", top.Agent, top.Weight)

	s.logger.Info("agent priorities updated",
		zap.String("leader", string(top.Agent)),
		zap.Float64("leader_weight", top.Weight),
	)
	return UpdateResult{Weights: weights, Summary: summary}, nil
}
