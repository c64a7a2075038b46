package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// KnowledgeRepo handles knowledge_bases CRUD.
type KnowledgeRepo struct {
	pool *pgxpool.Pool
}

func NewKnowledgeRepo(pool *pgxpool.Pool) *KnowledgeRepo {
	return &KnowledgeRepo{pool: pool}
}

func (r *KnowledgeRepo) Create(ctx context.Context, k *model.Knowledge) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO knowledge_bases (user_id, name, embed_llm_id, vector_collection_name, chunk_size, chunk_overlap, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		k.UserID, k.Name, k.EmbedLLMID, k.VectorCollectionName, k.ChunkSize, k.ChunkOverlap, k.Status,
	).Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.KnowledgeRepo.Create: %w", err)
	}
	return nil
}

func (r *KnowledgeRepo) GetByID(ctx context.Context, id string) (*model.Knowledge, error) {
	return r.scanOne(ctx, `
		SELECT id, user_id, name, embed_llm_id, vector_collection_name, chunk_size, chunk_overlap,
		       document_count, total_chunks, status, created_at, updated_at
		FROM knowledge_bases WHERE id = $1`, id)
}

func (r *KnowledgeRepo) scanOne(ctx context.Context, query, id string) (*model.Knowledge, error) {
	k := &model.Knowledge{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&k.ID, &k.UserID, &k.Name, &k.EmbedLLMID, &k.VectorCollectionName, &k.ChunkSize, &k.ChunkOverlap,
		&k.DocumentCount, &k.TotalChunks, &k.Status, &k.CreatedAt, &k.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.KnowledgeRepo: %w", err)
	}
	return k, nil
}

func (r *KnowledgeRepo) ListByUser(ctx context.Context, userID string) ([]model.Knowledge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, embed_llm_id, vector_collection_name, chunk_size, chunk_overlap,
		       document_count, total_chunks, status, created_at, updated_at
		FROM knowledge_bases WHERE user_id = $1 AND status = 1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository.KnowledgeRepo.ListByUser: %w", err)
	}
	defer rows.Close()

	var out []model.Knowledge
	for rows.Next() {
		var k model.Knowledge
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.EmbedLLMID, &k.VectorCollectionName, &k.ChunkSize,
			&k.ChunkOverlap, &k.DocumentCount, &k.TotalChunks, &k.Status, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.KnowledgeRepo.ListByUser: scan: %w", err)
		}
		out = append(out, k)
	}
	return out, nil
}

// IncrementCounts adjusts document_count/total_chunks atomically, used
// after ingestion completes or a document is deleted (deltas may be
// negative).
func (r *KnowledgeRepo) IncrementCounts(ctx context.Context, id string, docDelta, chunkDelta int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE knowledge_bases SET document_count = document_count + $1, total_chunks = total_chunks + $2, updated_at = now()
		WHERE id = $3`,
		docDelta, chunkDelta, id,
	)
	if err != nil {
		return fmt.Errorf("repository.KnowledgeRepo.IncrementCounts: %w", err)
	}
	return nil
}

// Update writes the mutable columns only — vector_collection_name and
// embed_llm_id are immutable for the knowledge's lifetime and never
// appear here.
func (r *KnowledgeRepo) Update(ctx context.Context, id, name string, chunkSize, chunkOverlap int, status model.KnowledgeStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE knowledge_bases SET name = $1, chunk_size = $2, chunk_overlap = $3, status = $4, updated_at = now()
		WHERE id = $5`,
		name, chunkSize, chunkOverlap, int(status), id,
	)
	if err != nil {
		return fmt.Errorf("repository.KnowledgeRepo.Update: %w", err)
	}
	return nil
}

func (r *KnowledgeRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE knowledge_bases SET status = 0, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository.KnowledgeRepo.SoftDelete: %w", err)
	}
	return nil
}
