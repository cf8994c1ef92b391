package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// ActionRepo — аудит автономных действий. Строки создаются при применении,
// переводятся в reverted при откате и никогда не удаляются физически.
type ActionRepo struct {
	pool *pgxpool.Pool
}

func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

func (r *ActionRepo) InsertAction(ctx context.Context, a domain.AutoAction) error {
	query := `
		INSERT INTO auto_actions
			(id, organization_id, action_type, content_id, experiment_id, variant_id, reason, confidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.OrganizationID, a.ActionType, a.ContentID, a.ExperimentID,
		a.VariantID, a.Reason, a.Confidence, string(a.Status), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert auto action: %w", err)
	}
	return nil
}

// UpdateActionStatus переводит действие в новый статус (например, reverted).
func (r *ActionRepo) UpdateActionStatus(ctx context.Context, id string, status domain.AutoActionStatus, reason string) error {
	query := `
		UPDATE auto_actions
		SET status = $1, reason = $2, updated_at = NOW()
		WHERE id = $3`

	ct, err := r.pool.Exec(ctx, query, string(status), reason, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update auto action: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrActionNotFound
	}
	return nil
}

// GetAction возвращает аудит-строку или nil, если ее нет.
func (r *ActionRepo) GetAction(ctx context.Context, id string) (*domain.AutoAction, error) {
	query := `
		SELECT id, organization_id, action_type, content_id, experiment_id, variant_id,
		       reason, confidence, status, created_at, updated_at
		FROM auto_actions
		WHERE id = $1`

	a, err := scanAction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Возвращаем nil для 404 в хендлере
		}
		return nil, err
	}
	return a, nil
}

// ListActions — последние действия организации для аудит-дашборда.
func (r *ActionRepo) ListActions(ctx context.Context, organizationID string, limit int) ([]domain.AutoAction, error) {
	query := `
		SELECT id, organization_id, action_type, content_id, experiment_id, variant_id,
		       reason, confidence, status, created_at, updated_at
		FROM auto_actions
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list auto actions: %w", err)
	}
	defer rows.Close()

	var results []domain.AutoAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *a)
	}
	return results, rows.Err()
}

// CountAppliedSince считает примененные действия типа actionType с момента
// since (граница суток по UTC вычисляется вызывающей стороной).
func (r *ActionRepo) CountAppliedSince(ctx context.Context, organizationID, actionType string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM auto_actions
		WHERE organization_id = $1 AND action_type = $2 AND status = 'applied' AND created_at >= $3`

	var count int
	if err := r.pool.QueryRow(ctx, query, organizationID, actionType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: failed to count applied actions: %w", err)
	}
	return count, nil
}

func scanAction(row pgx.Row) (*domain.AutoAction, error) {
	var (
		a      domain.AutoAction
		status string
	)
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.ActionType, &a.ContentID,
		&a.ExperimentID, &a.VariantID, &a.Reason, &a.Confidence, &status,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = domain.AutoActionStatus(status)
	return &a, nil
}
