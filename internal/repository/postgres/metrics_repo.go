package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// MetricsRepo — rollup-метрики федерации. Ключ (cycle_id, tenant_id):
// повторная запись того же цикла перезаписывает строку, а не дублирует.
type MetricsRepo struct {
	pool *pgxpool.Pool
}

func NewMetricsRepo(pool *pgxpool.Pool) *MetricsRepo {
	return &MetricsRepo{pool: pool}
}

func (r *MetricsRepo) UpsertFederationMetrics(ctx context.Context, rec domain.FederationMetricsRecord) error {
	query := `
		INSERT INTO federation_metrics
			(cycle_id, tenant_id, network_health, participants, average_trust, std_dev, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (cycle_id, tenant_id) DO UPDATE SET
			network_health = EXCLUDED.network_health,
			participants = EXCLUDED.participants,
			average_trust = EXCLUDED.average_trust,
			std_dev = EXCLUDED.std_dev,
			summary = EXCLUDED.summary`

	_, err := r.pool.Exec(ctx, query,
		rec.CycleID, rec.TenantID, string(rec.NetworkHealth),
		rec.Participants, rec.AverageTrust, rec.StdDev, rec.Summary)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert federation metrics: %w", err)
	}
	return nil
}
