package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// InvertedIndex implements the keyword leg of retrieval over
// Elasticsearch, generalizing the teacher's single Postgres
// ts_rank_cd query into a real separate full-text store per spec.
type InvertedIndex struct {
	client    *elasticsearch.Client
	indexName string
	cjk       bool // true once the boot probe confirms a CJK analyzer is installed
}

// NewInvertedIndex dials Elasticsearch and runs the CJK analyzer boot
// probe: GET _analyze with the configured analyzer name. On failure it
// falls back to the "standard" analyzer and reports degraded so
// handler.Health can surface it, rather than failing startup — a
// missing CJK analyzer degrades search quality, it does not make the
// index unusable.
func NewInvertedIndex(ctx context.Context, addresses []string, indexName, cjkAnalyzer string) (*InvertedIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("repository.NewInvertedIndex: client: %w", err)
	}

	idx := &InvertedIndex{client: client, indexName: indexName}
	idx.cjk = idx.probeAnalyzer(ctx, cjkAnalyzer)
	if !idx.cjk {
		slog.Warn("[DEBUG-REPO] cjk analyzer unavailable, falling back to standard analyzer", "analyzer", cjkAnalyzer)
	}
	return idx, nil
}

func (idx *InvertedIndex) probeAnalyzer(ctx context.Context, analyzer string) bool {
	if analyzer == "" {
		return false
	}
	body, _ := json.Marshal(map[string]string{"analyzer": analyzer, "text": "测试"})
	resp, err := idx.client.Indices.Analyze(
		idx.client.Indices.Analyze.WithContext(ctx),
		idx.client.Indices.Analyze.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return !resp.IsError()
}

func (idx *InvertedIndex) analyzerField() string {
	if idx.cjk {
		return "content"
	}
	return "content.standard"
}

type indexedChunk struct {
	ChunkID     string `json:"chunk_id"`
	DocumentID  string `json:"document_id"`
	KnowledgeID string `json:"knowledge_id"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
	FileName    string `json:"file_name"`
}

// Upsert indexes chunks via the bulk API, one create-or-replace action
// per chunk keyed by ChunkID so it stays addressable by the same ID
// used in the vector store.
func (idx *InvertedIndex) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, c := range chunks {
		meta, _ := json.Marshal(map[string]interface{}{
			"index": map[string]string{"_index": idx.indexName, "_id": c.ChunkID},
		})
		buf.Write(meta)
		buf.WriteByte('\n')

		doc, _ := json.Marshal(indexedChunk{
			ChunkID: c.ChunkID, DocumentID: c.DocumentID, KnowledgeID: c.KnowledgeID,
			ChunkIndex: c.ChunkIndex, Content: c.Content, FileName: c.FileName,
		})
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	resp, err := idx.client.Bulk(bytes.NewReader(buf.Bytes()),
		idx.client.Bulk.WithContext(ctx),
		idx.client.Bulk.WithIndex(idx.indexName),
	)
	if err != nil {
		return fmt.Errorf("repository.InvertedIndex.Upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("repository.InvertedIndex.Upsert: bulk error: %s", resp.String())
	}
	return nil
}

// KeywordResult is one full-text search hit, score normalized to [0,1]
// via s/(s+1) over Elasticsearch's raw BM25 score.
type KeywordResult struct {
	Chunk model.Chunk
	Score float64
}

// Search runs a multi-match query boosting content over a heading
// field, scoped to knowledgeIDs.
func (idx *InvertedIndex) Search(ctx context.Context, query string, knowledgeIDs []string, topK int) ([]KeywordResult, error) {
	if len(knowledgeIDs) == 0 {
		return nil, nil
	}

	body := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":  query,
						"fields": []string{idx.analyzerField() + "^2", "metadata.heading"},
					},
				},
				"filter": map[string]interface{}{
					"terms": map[string]interface{}{"knowledge_id": knowledgeIDs},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("repository.InvertedIndex.Search: marshal: %w", err)
	}

	resp, err := idx.client.Search(
		idx.client.Search.WithContext(ctx),
		idx.client.Search.WithIndex(idx.indexName),
		idx.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("repository.InvertedIndex.Search: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("repository.InvertedIndex.Search: query error: %s", resp.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64      `json:"_score"`
				Source indexedChunk `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("repository.InvertedIndex.Search: decode: %w", err)
	}

	out := make([]KeywordResult, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, KeywordResult{
			Chunk: model.Chunk{
				ChunkID: h.Source.ChunkID, DocumentID: h.Source.DocumentID, KnowledgeID: h.Source.KnowledgeID,
				ChunkIndex: h.Source.ChunkIndex, Content: h.Source.Content, FileName: h.Source.FileName,
			},
			Score: h.Score / (h.Score + 1),
		})
	}
	return out, nil
}

// GetByIDs hydrates chunk metadata for a set of chunk IDs, the
// mget-equivalent the retriever uses once per query to flesh out the
// fused candidate list.
func (idx *InvertedIndex) GetByIDs(ctx context.Context, chunkIDs []string) (map[string]model.Chunk, error) {
	if len(chunkIDs) == 0 {
		return map[string]model.Chunk{}, nil
	}

	docs := make([]map[string]string, len(chunkIDs))
	for i, id := range chunkIDs {
		docs[i] = map[string]string{"_id": id}
	}
	body, err := json.Marshal(map[string]interface{}{"docs": docs})
	if err != nil {
		return nil, fmt.Errorf("repository.InvertedIndex.GetByIDs: marshal: %w", err)
	}

	resp, err := idx.client.Mget(
		bytes.NewReader(body),
		idx.client.Mget.WithContext(ctx),
		idx.client.Mget.WithIndex(idx.indexName),
	)
	if err != nil {
		return nil, fmt.Errorf("repository.InvertedIndex.GetByIDs: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Docs []struct {
			Found  bool         `json:"found"`
			Source indexedChunk `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("repository.InvertedIndex.GetByIDs: decode: %w", err)
	}

	out := make(map[string]model.Chunk, len(parsed.Docs))
	for _, d := range parsed.Docs {
		if !d.Found {
			continue
		}
		out[d.Source.ChunkID] = model.Chunk{
			ChunkID: d.Source.ChunkID, DocumentID: d.Source.DocumentID, KnowledgeID: d.Source.KnowledgeID,
			ChunkIndex: d.Source.ChunkIndex, Content: d.Source.Content, FileName: d.Source.FileName,
		}
	}
	return out, nil
}

func (idx *InvertedIndex) DeleteByDocumentID(ctx context.Context, documentID string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]string{"document_id": documentID}},
	})
	resp, err := idx.client.DeleteByQuery(
		[]string{idx.indexName},
		bytes.NewReader(body),
		idx.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("repository.InvertedIndex.DeleteByDocumentID: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("repository.InvertedIndex.DeleteByDocumentID: %s", resp.String())
	}
	return nil
}

func (idx *InvertedIndex) DeleteByKnowledgeID(ctx context.Context, knowledgeID string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]string{"knowledge_id": knowledgeID}},
	})
	resp, err := idx.client.DeleteByQuery(
		[]string{idx.indexName},
		bytes.NewReader(body),
		idx.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("repository.InvertedIndex.DeleteByKnowledgeID: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("repository.InvertedIndex.DeleteByKnowledgeID: %s", resp.String())
	}
	return nil
}

// Degraded reports whether the CJK analyzer probe failed at boot.
func (idx *InvertedIndex) Degraded() bool {
	return !idx.cjk
}
