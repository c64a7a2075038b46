package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// APIKeyRepo handles api_keys CRUD. The key material is always
// AEAD-encrypted by the caller before it reaches this repository —
// api_key_encrypted is opaque here.
type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

func (r *APIKeyRepo) Create(ctx context.Context, k *model.APIKey) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (llm_id, alias, api_key_encrypted, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		k.LLMID, k.Alias, k.APIKeyEncrypted, k.Status,
	).Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.APIKeyRepo.Create: %w", err)
	}
	return nil
}

func (r *APIKeyRepo) ListByLLM(ctx context.Context, llmID string) ([]model.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, llm_id, alias, api_key_encrypted, status, created_at, updated_at
		FROM api_keys WHERE llm_id = $1 ORDER BY created_at`, llmID)
	if err != nil {
		return nil, fmt.Errorf("repository.APIKeyRepo.ListByLLM: %w", err)
	}
	defer rows.Close()

	var out []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.LLMID, &k.Alias, &k.APIKeyEncrypted, &k.Status, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.APIKeyRepo.ListByLLM: scan: %w", err)
		}
		out = append(out, k)
	}
	return out, nil
}

// NextActive returns an enabled key for llmID using round-robin via
// ORDER BY updated_at ASC, and bumps updated_at so the next call
// rotates to a different key — a poor man's load balance across
// multiple keys for the same vendor.
func (r *APIKeyRepo) NextActive(ctx context.Context, llmID string) (*model.APIKey, error) {
	k := &model.APIKey{}
	err := r.pool.QueryRow(ctx, `
		UPDATE api_keys SET updated_at = now()
		WHERE id = (
			SELECT id FROM api_keys WHERE llm_id = $1 AND status = 1
			ORDER BY updated_at ASC LIMIT 1
		)
		RETURNING id, llm_id, alias, api_key_encrypted, status, created_at, updated_at`,
		llmID,
	).Scan(&k.ID, &k.LLMID, &k.Alias, &k.APIKeyEncrypted, &k.Status, &k.CreatedAt, &k.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.APIKeyRepo.NextActive: %w", err)
	}
	return k, nil
}

func (r *APIKeyRepo) Disable(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET status = 0, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository.APIKeyRepo.Disable: %w", err)
	}
	return nil
}
