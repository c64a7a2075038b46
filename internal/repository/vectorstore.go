package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// VectorStore implements the vector leg of retrieval over pgvector,
// generalizing the teacher's document_chunks table with a
// knowledge_id partition column so one physical table serves every
// Knowledge's collection.
type VectorStore struct {
	pool *pgxpool.Pool
}

func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

// CreateCollection registers knowledgeID in vector_collections. The
// physical storage is shared across all knowledge bases — this keeps
// the create/drop contract callers expect without a table per KB.
func (s *VectorStore) CreateCollection(ctx context.Context, knowledgeID string, dim int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vector_collections (knowledge_id, dimensions, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (knowledge_id) DO NOTHING`, knowledgeID, dim)
	if err != nil {
		return fmt.Errorf("repository.VectorStore.CreateCollection: %w", err)
	}
	return nil
}

func (s *VectorStore) DropCollection(ctx context.Context, knowledgeID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vector_collections WHERE knowledge_id = $1`, knowledgeID)
	if err != nil {
		return fmt.Errorf("repository.VectorStore.DropCollection: %w", err)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE knowledge_id = $1`, knowledgeID)
	if err != nil {
		return fmt.Errorf("repository.VectorStore.DropCollection: chunks: %w", err)
	}
	return nil
}

// Upsert writes chunks and their embeddings in a single batch, mirroring
// the teacher's ChunkRepo.BulkInsert.
func (s *VectorStore) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, c := range chunks {
		embedding := pgvector.NewVector(c.Vector)
		batch.Queue(`
			INSERT INTO document_chunks (chunk_id, document_id, knowledge_id, chunk_index, content, file_name, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (chunk_id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
			c.ChunkID, c.DocumentID, c.KnowledgeID, c.ChunkIndex, c.Content, c.FileName, embedding, now,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.VectorStore.Upsert: chunk %d: %w", i, err)
		}
	}
	return nil
}

// VectorResult is one similarity-search hit, score normalized to [0,1].
type VectorResult struct {
	Chunk model.Chunk
	Score float64
}

// Search runs an IVFFLAT-indexed inner-product search across all
// knowledgeIDs at once. probes mirrors nprobe=128 from a faiss-style
// tuning; set once per search session via SET LOCAL so it never leaks
// across pooled connections.
func (s *VectorStore) Search(ctx context.Context, queryVec []float32, knowledgeIDs []string, topK int) ([]VectorResult, error) {
	if len(knowledgeIDs) == 0 {
		return nil, nil
	}
	embedding := pgvector.NewVector(queryVec)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.VectorStore.Search: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET LOCAL ivfflat.probes = 128`); err != nil {
		return nil, fmt.Errorf("repository.VectorStore.Search: set probes: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT chunk_id, document_id, knowledge_id, chunk_index, content, file_name,
		       (1 + (embedding <#> $1::vector)) / 2 AS score
		FROM document_chunks
		WHERE knowledge_id = ANY($2)
		ORDER BY embedding <#> $1::vector
		LIMIT $3`,
		embedding, knowledgeIDs, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.VectorStore.Search: query: %w", err)
	}
	defer rows.Close()

	var out []VectorResult
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.Chunk.ChunkID, &r.Chunk.DocumentID, &r.Chunk.KnowledgeID,
			&r.Chunk.ChunkIndex, &r.Chunk.Content, &r.Chunk.FileName, &r.Score); err != nil {
			return nil, fmt.Errorf("repository.VectorStore.Search: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.VectorStore.Search: rows: %w", err)
	}
	return out, tx.Commit(ctx)
}

func (s *VectorStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("repository.VectorStore.DeleteByDocumentID: %w", err)
	}
	return nil
}

func (s *VectorStore) CountByKnowledge(ctx context.Context, knowledgeID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE knowledge_id = $1`, knowledgeID).Scan(&count)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("repository.VectorStore.CountByKnowledge: %w", err)
	}
	return count, nil
}
