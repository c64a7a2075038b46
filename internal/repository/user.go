package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// UserRepo handles user persistence.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.PasswordChangedAt.IsZero() {
		u.PasswordChangedAt = now
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, status, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), int(u.Status),
		u.PasswordChangedAt, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.UserRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.scanOne(ctx, `SELECT id, username, email, password_hash, role, status, password_changed_at, created_at, updated_at FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.scanOne(ctx, `SELECT id, username, email, password_hash, role, status, password_changed_at, created_at, updated_at FROM users WHERE username = $1`, username)
}

func (r *UserRepo) scanOne(ctx context.Context, query string, arg string) (*model.User, error) {
	u := &model.User{}
	var role string
	var status int
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &status,
		&u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.UserRepo: %w", err)
	}
	u.Role = model.Role(role)
	u.Status = model.UserStatus(status)
	return u, nil
}

// MarkPasswordChanged bumps PasswordChangedAt, invalidating any JWT
// issued before now.
func (r *UserRepo) MarkPasswordChanged(ctx context.Context, id string, passwordHash string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, password_changed_at = now(), updated_at = now() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("repository.UserRepo.MarkPasswordChanged: %w", err)
	}
	return nil
}
