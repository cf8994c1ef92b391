package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// PriorityRepo хранит вычисленные веса агентов. Одна строка на агента,
// upsert по ключу agent на каждом тике петли.
type PriorityRepo struct {
	pool *pgxpool.Pool
}

func NewPriorityRepo(pool *pgxpool.Pool) *PriorityRepo {
	return &PriorityRepo{pool: pool}
}

func (r *PriorityRepo) UpsertWeight(ctx context.Context, w domain.PriorityWeight) error {
	query := `
		INSERT INTO agent_priorities (agent, weight, confidence, rationale, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent) DO UPDATE SET
			weight = EXCLUDED.weight,
			confidence = EXCLUDED.confidence,
			rationale = EXCLUDED.rationale,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		string(w.Agent), w.Weight, w.Confidence, w.Rationale, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert priority weight: %w", err)
	}
	return nil
}

func (r *PriorityRepo) ListWeights(ctx context.Context) ([]domain.PriorityWeight, error) {
	query := `
		SELECT agent, weight, confidence, rationale, updated_at
		FROM agent_priorities
		ORDER BY weight DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list priority weights: %w", err)
	}
	defer rows.Close()

	var results []domain.PriorityWeight
	for rows.Next() {
		var (
			w     domain.PriorityWeight
			agent string
		)
		if err := rows.Scan(&agent, &w.Weight, &w.Confidence, &w.Rationale, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Agent = domain.AgentRole(agent)
		results = append(results, w)
	}
	return results, rows.Err()
}
