package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

const (
	// defaultTopK is the number of candidates fetched from each leg
	// before fusion.
	defaultTopK = 20
	// defaultReturnLimit is the number of fused, reranked results returned.
	defaultReturnLimit = 5
	// maxChunksPerDocument caps how many chunks from one document
	// survive deduplication.
	maxChunksPerDocument = 2
	// rrfK is the standard Reciprocal Rank Fusion constant.
	rrfK = 60

	weightSimilarity = 0.70
	weightRecency    = 0.15
	weightParentDoc  = 0.15
)

// QueryEmbedder abstracts query embedding for testability.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// VectorSearcher abstracts the vector leg.
type VectorSearcher interface {
	Search(ctx context.Context, queryVec []float32, knowledgeIDs []string, topK int) ([]VectorHit, error)
}

// KeywordSearcher abstracts the keyword leg.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, knowledgeIDs []string, topK int) ([]KeywordHit, error)
	GetByIDs(ctx context.Context, chunkIDs []string) (map[string]model.Chunk, error)
}

// LocalReranker is the fallback cross-encoder used when a robot has no
// remote rerank LLM bound. Runs in the bounded worker pool.
type LocalReranker interface {
	Rerank(ctx context.Context, query string, candidates []RankedChunk) ([]RankedChunk, error)
}

// KnowledgeLookup resolves which embedding model backs a knowledge base,
// since the vector leg must group knowledge IDs by embed_llm_id before
// fanning out — different knowledge bases may use different embedders.
type KnowledgeLookup interface {
	EmbedModelFor(ctx context.Context, knowledgeID string) (llmID string, modelName string, err error)
}

type VectorHit struct {
	Chunk model.Chunk
	Score float64
}

type KeywordHit struct {
	Chunk model.Chunk
	Score float64
}

// RankedChunk is a chunk with its final fused/reranked score.
type RankedChunk struct {
	Chunk      model.Chunk `json:"chunk"`
	Similarity float64     `json:"similarity"`
	FinalScore float64     `json:"finalScore"`
}

// RetrievalResult contains the ranked chunks and query metadata.
type RetrievalResult struct {
	Chunks              []RankedChunk `json:"chunks"`
	QueryEmbedding      []float32     `json:"-"`
	TotalCandidates     int           `json:"totalCandidates"`
	TotalDocumentsFound int           `json:"totalDocumentsFound"`
}

// RetrieverService runs the hybrid vector+keyword retrieval pipeline:
// parallel legs, RRF fusion, hydration, optional rerank, dedup.
type RetrieverService struct {
	embedder  QueryEmbedder
	vectors   VectorSearcher
	keyword   KeywordSearcher
	knowledge KnowledgeLookup
	reranker  LocalReranker  // nil disables the local fallback rerank
	remote    RemoteReranker // nil disables remote rerank LLMs
}

func NewRetrieverService(embedder QueryEmbedder, vectors VectorSearcher, keyword KeywordSearcher, knowledge KnowledgeLookup) *RetrieverService {
	return &RetrieverService{embedder: embedder, vectors: vectors, keyword: keyword, knowledge: knowledge}
}

func (s *RetrieverService) SetLocalReranker(r LocalReranker) {
	s.reranker = r
}

// RetrievalOptions tunes one retrieval call. A zero value falls back to
// defaultTopK candidates per leg and defaultReturnLimit results — the
// chat orchestrator overrides TopK/ReturnLimit from the robot's
// configured recall depth, and the recall evaluator overrides
// ReturnLimit up to its requested top_n.
type RetrievalOptions struct {
	TopK        int
	ReturnLimit int
	UseRerank   bool
}

func (o RetrievalOptions) normalize() RetrievalOptions {
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.ReturnLimit <= 0 {
		o.ReturnLimit = defaultReturnLimit
	}
	return o
}

// Retrieve groups knowledgeIDs by the embed_llm_id each knowledge base
// was created with, embeds the query once per distinct embedder, fans
// the vector and keyword legs out in parallel, fuses with RRF, hydrates
// metadata, optionally reranks, and deduplicates.
func (s *RetrieverService) Retrieve(ctx context.Context, query string, knowledgeIDs []string, opts RetrievalOptions) (*RetrievalResult, error) {
	if query == "" {
		return nil, fmt.Errorf("service.Retrieve: query is empty")
	}
	if len(knowledgeIDs) == 0 {
		return &RetrievalResult{Chunks: []RankedChunk{}}, nil
	}
	opts = opts.normalize()

	groups, err := s.groupByEmbedder(ctx, knowledgeIDs)
	if err != nil {
		return nil, fmt.Errorf("service.Retrieve: group by embedder: %w", err)
	}

	var mu sync.Mutex
	var groupHits [][]VectorHit
	var keywordHits []KeywordHit
	var primaryVec []float32

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keywordHits, err = s.keyword.Search(gCtx, query, knowledgeIDs, opts.TopK)
		return err
	})
	for llmID, ids := range groups {
		llmID, ids := llmID, ids
		g.Go(func() error {
			vecs, err := s.embedder.Embed(gCtx, []string{query}, llmID)
			if err != nil {
				return fmt.Errorf("embed via %s: %w", llmID, err)
			}
			hits, err := s.vectors.Search(gCtx, vecs[0], ids, opts.TopK)
			if err != nil {
				return fmt.Errorf("vector search via %s: %w", llmID, err)
			}
			mu.Lock()
			groupHits = append(groupHits, hits)
			if primaryVec == nil {
				primaryVec = vecs[0]
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.Retrieve: search: %w", err)
	}

	return s.fuseAndRank(ctx, query, interleaveVectorHits(groupHits), keywordHits, primaryVec, len(knowledgeIDs), opts)
}

// groupByEmbedder partitions knowledgeIDs by the embedding model each
// was indexed with — different knowledge bases may use different
// embedders, so the vector leg cannot fan out to all of them with one
// query vector.
func (s *RetrieverService) groupByEmbedder(ctx context.Context, knowledgeIDs []string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, kid := range knowledgeIDs {
		llmID, _, err := s.knowledge.EmbedModelFor(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("resolve embedder for knowledge %s: %w", kid, err)
		}
		groups[llmID] = append(groups[llmID], kid)
	}
	return groups, nil
}

// interleaveVectorHits merges per-embedder hit lists round-robin so no
// single embedder's results dominate the early ranks RRF weighs most —
// raw scores across different embedding spaces aren't comparable, but
// each list's internal rank order still is.
func interleaveVectorHits(groups [][]VectorHit) []VectorHit {
	var out []VectorHit
	for i := 0; ; i++ {
		any := false
		for _, g := range groups {
			if i < len(g) {
				out = append(out, g[i])
				any = true
			}
		}
		if !any {
			break
		}
	}
	return out
}

// RetrieveWithVec skips the embed+group step when the caller already
// has a vector (e.g. a cache hit), scoped to knowledge bases that share
// that vector's embedder.
func (s *RetrieverService) RetrieveWithVec(ctx context.Context, query string, queryVec []float32, knowledgeIDs []string, opts RetrievalOptions) (*RetrievalResult, error) {
	opts = opts.normalize()
	var vectorHits []VectorHit
	var keywordHits []KeywordHit

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorHits, err = s.vectors.Search(gCtx, queryVec, knowledgeIDs, opts.TopK)
		return err
	})
	g.Go(func() error {
		var err error
		keywordHits, err = s.keyword.Search(gCtx, query, knowledgeIDs, opts.TopK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.RetrieveWithVec: search: %w", err)
	}
	return s.fuseAndRank(ctx, query, vectorHits, keywordHits, queryVec, len(knowledgeIDs), opts)
}

func (s *RetrieverService) fuseAndRank(ctx context.Context, query string, vectorHits []VectorHit, keywordHits []KeywordHit, queryVec []float32, knowledgeCount int, opts RetrievalOptions) (*RetrievalResult, error) {
	slog.Info("[DEBUG-RETRIEVER] search done",
		"vector_candidates", len(vectorHits),
		"keyword_candidates", len(keywordHits),
		"knowledge_count", knowledgeCount,
	)

	fused := reciprocalRankFusion(vectorHits, keywordHits)
	if len(fused) == 0 {
		return &RetrievalResult{Chunks: []RankedChunk{}, QueryEmbedding: queryVec}, nil
	}

	docSet := make(map[string]struct{})
	for _, c := range fused {
		docSet[c.Chunk.DocumentID] = struct{}{}
	}

	ranked := make([]RankedChunk, len(fused))
	for i, c := range fused {
		ranked[i] = RankedChunk{Chunk: c.Chunk, Similarity: c.Score, FinalScore: c.Score}
	}

	if opts.UseRerank && s.reranker != nil {
		var err error
		ranked, err = s.reranker.Rerank(ctx, query, ranked)
		if err != nil {
			slog.Error("[DEBUG-RETRIEVER] local rerank failed, falling back to fused order", "error", err)
		}
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].FinalScore > ranked[j].FinalScore })
	deduped := deduplicate(ranked, maxChunksPerDocument)

	limit := opts.ReturnLimit
	if limit > len(deduped) {
		limit = len(deduped)
	}

	return &RetrievalResult{
		Chunks:              deduped[:limit],
		QueryEmbedding:      queryVec,
		TotalCandidates:     len(fused),
		TotalDocumentsFound: len(docSet),
	}, nil
}

type fusedHit struct {
	Chunk model.Chunk
	Score float64
}

// reciprocalRankFusion combines the vector and keyword legs:
// score = sum(1 / (k + rank_in_list + 1)) for each list the chunk
// appears in, k=60.
func reciprocalRankFusion(vectorHits []VectorHit, keywordHits []KeywordHit) []fusedHit {
	scores := make(map[string]float64)
	items := make(map[string]model.Chunk)

	for rank, hit := range vectorHits {
		id := hit.Chunk.ChunkID
		scores[id] += 1.0 / float64(rrfK+rank+1)
		if _, ok := items[id]; !ok {
			items[id] = hit.Chunk
		}
	}
	for rank, hit := range keywordHits {
		id := hit.Chunk.ChunkID
		scores[id] += 1.0 / float64(rrfK+rank+1)
		if _, ok := items[id]; !ok {
			items[id] = hit.Chunk
		}
	}

	out := make([]fusedHit, 0, len(items))
	for id, chunk := range items {
		out = append(out, fusedHit{Chunk: chunk, Score: scores[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// deduplicate limits the number of chunks from any single document.
func deduplicate(ranked []RankedChunk, maxPerDoc int) []RankedChunk {
	docCount := make(map[string]int)
	var result []RankedChunk
	for _, r := range ranked {
		if docCount[r.Chunk.DocumentID] >= maxPerDoc {
			continue
		}
		docCount[r.Chunk.DocumentID]++
		result = append(result, r)
	}
	return result
}
