package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// RecoveryRepo — append-only журнал решений восстановления.
type RecoveryRepo struct {
	pool *pgxpool.Pool
}

func NewRecoveryRepo(pool *pgxpool.Pool) *RecoveryRepo {
	return &RecoveryRepo{pool: pool}
}

// InsertEntry пишет запись и возвращает ее с проставленным created_at из БД.
func (r *RecoveryRepo) InsertEntry(ctx context.Context, e domain.RecoveryLogEntry) (domain.RecoveryLogEntry, error) {
	query := `
		INSERT INTO recovery_log (id, agent, action, reason, trust_score_before, trust_score_after, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		e.ID, string(e.Agent), string(e.Action), e.Reason,
		e.TrustScoreBefore, e.TrustScoreAfter, e.TraceID,
	).Scan(&e.CreatedAt)
	if err != nil {
		return domain.RecoveryLogEntry{}, fmt.Errorf("postgres: failed to insert recovery entry: %w", err)
	}
	return e, nil
}

// RecentEntries — последние решения восстановления, новые первыми.
func (r *RecoveryRepo) RecentEntries(ctx context.Context, limit int) ([]domain.RecoveryLogEntry, error) {
	query := `
		SELECT id, agent, action, reason, trust_score_before, trust_score_after, COALESCE(trace_id, ''), created_at
		FROM recovery_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list recovery entries: %w", err)
	}
	defer rows.Close()

	var results []domain.RecoveryLogEntry
	for rows.Next() {
		var (
			e             domain.RecoveryLogEntry
			agent, action string
		)
		if err := rows.Scan(&e.ID, &agent, &action, &e.Reason,
			&e.TrustScoreBefore, &e.TrustScoreAfter, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Agent = domain.AgentRole(agent)
		e.Action = domain.RecoveryAction(action)
		results = append(results, e)
	}
	return results, rows.Err()
}
