package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// RegistryRepo — персистентный реестр агентов. In-memory копия живет в
// оркестраторе (Hot Path); строки нужны, чтобы Console API читал реестр,
// не деля память с mapd.
type RegistryRepo struct {
	pool *pgxpool.Pool
}

func NewRegistryRepo(pool *pgxpool.Pool) *RegistryRepo {
	return &RegistryRepo{pool: pool}
}

// UpsertRegistration — идемпотентная регистрация: повторная запись того же
// agent_id обновляет метаданные, не создавая дубликатов.
func (r *RegistryRepo) UpsertRegistration(ctx context.Context, reg domain.AgentRegistration) error {
	query := `
		INSERT INTO agent_registry (agent_id, name, description, capabilities, priority, stream_key, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			capabilities = EXCLUDED.capabilities,
			priority = EXCLUDED.priority,
			stream_key = EXCLUDED.stream_key`

	_, err := r.pool.Exec(ctx, query,
		reg.AgentID, reg.Name, reg.Description, reg.Capabilities,
		reg.Priority, reg.StreamKey, reg.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert registration: %w", err)
	}
	return nil
}

// ListRegistrations — "холодная загрузка" реестра при старте и для снапшотов.
func (r *RegistryRepo) ListRegistrations(ctx context.Context) ([]domain.AgentRegistration, error) {
	query := `
		SELECT agent_id, name, description, capabilities, priority, stream_key, registered_at
		FROM agent_registry
		ORDER BY agent_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list registrations: %w", err)
	}
	defer rows.Close()

	var results []domain.AgentRegistration
	for rows.Next() {
		var reg domain.AgentRegistration
		if err := rows.Scan(&reg.AgentID, &reg.Name, &reg.Description,
			&reg.Capabilities, &reg.Priority, &reg.StreamKey, &reg.RegisteredAt); err != nil {
			return nil, err
		}
		results = append(results, reg)
	}
	return results, rows.Err()
}
