package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

// UserRepo — операторы консоли.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, email, username, password_hash, role, scopes, created_at, updated_at
		FROM console_users
		WHERE username = $1`

	var (
		u      domain.User
		scopes []byte
	)
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &scopes, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Нет пользователя — пусть сервис вернет invalid credentials
		}
		return nil, fmt.Errorf("postgres: failed to fetch user: %w", err)
	}

	if err := json.Unmarshal(scopes, &u.Scopes); err != nil {
		return nil, fmt.Errorf("postgres: corrupted scopes for user %s: %w", u.ID, err)
	}
	return &u, nil
}
