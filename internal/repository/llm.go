package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// LLMRepo handles llms CRUD, grounded on the upsert idiom in the
// teacher's mercury_configs repository.
type LLMRepo struct {
	pool *pgxpool.Pool
}

func NewLLMRepo(pool *pgxpool.Pool) *LLMRepo {
	return &LLMRepo{pool: pool}
}

func (r *LLMRepo) Create(ctx context.Context, l *model.LLM) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO llms (name, model_type, provider, model_name, base_url, api_version, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		l.Name, string(l.ModelType), l.Provider, l.ModelName, l.BaseURL, l.APIVersion, l.Status,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.LLMRepo.Create: %w", err)
	}
	return nil
}

func (r *LLMRepo) GetByID(ctx context.Context, id string) (*model.LLM, error) {
	l := &model.LLM{}
	var modelType string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, model_type, provider, model_name, base_url, api_version, status, created_at, updated_at
		FROM llms WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &modelType, &l.Provider, &l.ModelName, &l.BaseURL, &l.APIVersion, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.LLMRepo.GetByID: %w", err)
	}
	l.ModelType = model.ModelType(modelType)
	return l, nil
}

func (r *LLMRepo) ListByType(ctx context.Context, modelType model.ModelType) ([]model.LLM, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, model_type, provider, model_name, base_url, api_version, status, created_at, updated_at
		FROM llms WHERE model_type = $1 AND status = 1
		ORDER BY name`, string(modelType))
	if err != nil {
		return nil, fmt.Errorf("repository.LLMRepo.ListByType: %w", err)
	}
	defer rows.Close()

	var out []model.LLM
	for rows.Next() {
		var l model.LLM
		var mt string
		if err := rows.Scan(&l.ID, &l.Name, &mt, &l.Provider, &l.ModelName, &l.BaseURL, &l.APIVersion, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.LLMRepo.ListByType: scan: %w", err)
		}
		l.ModelType = model.ModelType(mt)
		out = append(out, l)
	}
	return out, nil
}

func (r *LLMRepo) Update(ctx context.Context, l *model.LLM) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE llms SET name = $1, provider = $2, model_name = $3, base_url = $4,
			api_version = $5, status = $6, updated_at = now()
		WHERE id = $7`,
		l.Name, l.Provider, l.ModelName, l.BaseURL, l.APIVersion, l.Status, l.ID,
	)
	if err != nil {
		return fmt.Errorf("repository.LLMRepo.Update: %w", err)
	}
	return nil
}
