package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// DocumentRepo implements document metadata persistence with pgx. Chunk
// content and vectors never live here — see vectorstore.go and
// invertedindex.go.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO documents (knowledge_id, file_name, file_path, file_extension, file_size, mime_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		doc.KnowledgeID, doc.FileName, doc.FilePath, doc.FileExtension, doc.FileSize, doc.MimeType, string(doc.Status),
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.DocumentRepo.Create: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	doc := &model.Document{}
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, knowledge_id, file_name, file_path, file_extension, file_size, mime_type, status, chunk_count, error_msg, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.KnowledgeID, &doc.FileName, &doc.FilePath, &doc.FileExtension, &doc.FileSize,
		&doc.MimeType, &status, &doc.ChunkCount, &doc.ErrorMsg, &doc.CreatedAt, &doc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.DocumentRepo.GetByID: %w", err)
	}
	doc.Status = model.DocumentStatus(status)
	return doc, nil
}

func (r *DocumentRepo) ListByKnowledge(ctx context.Context, knowledgeID string, limit, offset int) ([]model.Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE knowledge_id = $1`, knowledgeID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.DocumentRepo.ListByKnowledge: count: %w", err)
	}

	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, knowledge_id, file_name, file_path, file_extension, file_size, mime_type, status, chunk_count, error_msg, created_at, updated_at
		FROM documents WHERE knowledge_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		knowledgeID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.DocumentRepo.ListByKnowledge: query: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var status string
		if err := rows.Scan(&d.ID, &d.KnowledgeID, &d.FileName, &d.FilePath, &d.FileExtension, &d.FileSize,
			&d.MimeType, &status, &d.ChunkCount, &d.ErrorMsg, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("repository.DocumentRepo.ListByKnowledge: scan: %w", err)
		}
		d.Status = model.DocumentStatus(status)
		docs = append(docs, d)
	}
	return docs, total, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.DocumentRepo.UpdateStatus: %w", err)
	}
	return nil
}

func (r *DocumentRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET status = $1, error_msg = $2, updated_at = $3 WHERE id = $4`,
		string(model.DocumentFailed), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.DocumentRepo.MarkFailed: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateChunkCount(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET chunk_count = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.DocumentRepo.UpdateChunkCount: %w", err)
	}
	return nil
}

// Delete removes the document row. Callers are responsible for the
// compensating deletes against the vector store and inverted index
// before this call succeeds, so a document row never outlives its
// chunks.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository.DocumentRepo.Delete: %w", err)
	}
	return nil
}
