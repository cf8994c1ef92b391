// Package rollback откатывает примененные оптимизации при подтвержденной
// регрессии составного показателя эффективности.
package rollback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/telemetry"
)

// DefaultThreshold — порог регрессии по умолчанию: откат начинается,
// когда составной impact хуже -5%.
const DefaultThreshold = -0.05

// LogStore — журнал оптимизаций.
type LogStore interface {
	UpdateLog(ctx context.Context, l domain.OptimizationLog) error
}

type Service struct {
	store    LogStore
	capturer telemetry.Capturer
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

func NewService(store LogStore, capturer telemetry.Capturer, metrics *telemetry.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		capturer: capturer,
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "rollback")),
	}
}

// ProcessAutoRollback обрабатывает пакет журнальных записей одним решением:
// либо регрессия недостаточно серьезна и не трогается ничего, либо
// откатывается каждая запись. Threshold зажимается в [-1, 0].
func (s *Service) ProcessAutoRollback(ctx context.Context, logs []domain.OptimizationLog, compositeImpact float64, threshold float64) ([]domain.RollbackResult, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < -1 {
		threshold = -1
	}
	if threshold > 0 {
		threshold = 0
	}

	if len(logs) == 0 || compositeImpact > threshold {
		return []domain.RollbackResult{}, nil
	}

	now := time.Now().UTC()
	message := fmt.Sprintf(
		"Regresi komposit %.1f%% melewati ambang %.1f%%, optimasi dikembalikan otomatis",
		compositeImpact*100, threshold*100,
	)

	results := make([]domain.RollbackResult, 0, len(logs))
	for _, l := range logs {
		l.Status = domain.OptimizationRejected
		l.Rollback = true
		l.Notes = appendNote(l.Notes, fmt.Sprintf("[%s] auto-rollback: impact %.1f%%", now.Format(time.RFC3339), compositeImpact*100))
		l.UpdatedAt = now

		if err := s.store.UpdateLog(ctx, l); err != nil {
			return nil, fmt.Errorf("persist rollback for log %s: %w", l.ID, err)
		}

		if s.capturer != nil {
			s.capturer.Capture(telemetry.Event{
				Name: "optimization.rolled_back",
				Properties: map[string]any{
					"logId":   l.ID,
					"route":   l.Route,
					"impact":  compositeImpact,
					"message": message,
				},
			})
		}

		results = append(results, domain.RollbackResult{
			LogID:    l.ID,
			Status:   domain.OptimizationRejected,
			Rollback: true,
			Message:  message,
		})
	}

	if s.metrics != nil {
		s.metrics.RollbacksTotal.Add(float64(len(results)))
	}
	s.logger.Warn("auto rollback executed",
		zap.Int("logs", len(results)),
		zap.Float64("composite_impact", compositeImpact),
	)
	return results, nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
