package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// OptimizationRepo — журнал примененных оптимизаций, подлежащих
// пакетной переоценке сервисом отката.
type OptimizationRepo struct {
	pool *pgxpool.Pool
}

func NewOptimizationRepo(pool *pgxpool.Pool) *OptimizationRepo {
	return &OptimizationRepo{pool: pool}
}

// ListAppliedByRoute — кандидаты на откат по маршруту.
func (r *OptimizationRepo) ListAppliedByRoute(ctx context.Context, route string) ([]domain.OptimizationLog, error) {
	query := `
		SELECT id, route, status, rollback, notes, updated_at
		FROM optimization_logs
		WHERE route = $1 AND status = 'APPLIED' AND rollback = FALSE
		ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query, route)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list optimization logs: %w", err)
	}
	defer rows.Close()

	var results []domain.OptimizationLog
	for rows.Next() {
		var l domain.OptimizationLog
		if err := rows.Scan(&l.ID, &l.Route, &l.Status, &l.Rollback, &l.Notes, &l.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// UpdateLog фиксирует откат: статус, флаг rollback и дописанные notes.
func (r *OptimizationRepo) UpdateLog(ctx context.Context, l domain.OptimizationLog) error {
	query := `
		UPDATE optimization_logs
		SET status = $1, rollback = $2, notes = $3, updated_at = NOW()
		WHERE id = $4`

	ct, err := r.pool.Exec(ctx, query, l.Status, l.Rollback, l.Notes, l.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update optimization log: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: optimization log %s not found", l.ID)
	}
	return nil
}
