package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// rerankRecallMultiplier widens the candidate pool fed into the
// reranker: recall_k = top_k * 4 when rerank is enabled.
const rerankRecallMultiplier = 4

const (
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceHybrid  = "hybrid"
)

// RemoteReranker calls a rerank-capable LLM by its row ID. Satisfied by
// LLMResolver.
type RemoteReranker interface {
	Rerank(ctx context.Context, llmID, query string, texts []string, topN int) ([]provider.RerankResult, error)
}

func (s *RetrieverService) SetRemoteReranker(r RemoteReranker) {
	s.remote = r
}

// HybridRetrieve is the retrieval entry point the chat orchestrator,
// the retrieval-test endpoint, and the recall evaluator share: parallel
// vector + keyword recall over the robot's knowledge bases, RRF fusion
// with per-leg source attribution, metadata hydration from the inverted
// index, and an optional rerank pass that replaces the fused scores.
func (s *RetrieverService) HybridRetrieve(ctx context.Context, robot *model.Robot, knowledgeIDs []string, query string, topK int) ([]model.RetrievedContext, error) {
	if query == "" {
		return nil, fmt.Errorf("service.HybridRetrieve: query is empty")
	}
	if len(knowledgeIDs) == 0 {
		return []model.RetrievedContext{}, nil
	}
	if topK <= 0 {
		topK = defaultReturnLimit
	}
	recallK := topK
	useRerank := robot != nil && robot.EnableRerank
	if useRerank {
		recallK = topK * rerankRecallMultiplier
	}

	vectorHits, keywordHits := s.recallLegs(ctx, query, knowledgeIDs, recallK)

	fused := fuseWithSources(vectorHits, keywordHits, recallK)
	if len(fused) == 0 {
		return []model.RetrievedContext{}, nil
	}

	s.hydrate(ctx, fused)

	if useRerank {
		reranked, err := s.rerankContexts(ctx, robot, query, fused, topK)
		if err != nil {
			slog.Error("[DEBUG-RETRIEVER] rerank failed, returning fused order", "error", err)
		} else {
			fused = reranked
		}
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// recallLegs runs the vector and keyword legs in parallel. A failing
// leg (or a failing embedder group within the vector leg) is logged
// and skipped — one degraded store never makes retrieval return an
// error instead of whatever the other store found.
func (s *RetrieverService) recallLegs(ctx context.Context, query string, knowledgeIDs []string, recallK int) ([]VectorHit, []KeywordHit) {
	var mu sync.Mutex
	var groupHits [][]VectorHit
	var keywordHits []KeywordHit

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.keyword.Search(gCtx, query, knowledgeIDs, recallK)
		if err != nil {
			slog.Error("[DEBUG-RETRIEVER] keyword leg failed, skipping", "error", err)
			return nil
		}
		mu.Lock()
		keywordHits = hits
		mu.Unlock()
		return nil
	})

	groups, err := s.groupByEmbedder(ctx, knowledgeIDs)
	if err != nil {
		slog.Error("[DEBUG-RETRIEVER] vector leg group resolution failed, skipping leg", "error", err)
		groups = nil
	}
	for llmID, ids := range groups {
		llmID, ids := llmID, ids
		g.Go(func() error {
			vecs, err := s.embedder.Embed(gCtx, []string{query}, llmID)
			if err != nil {
				slog.Error("[DEBUG-RETRIEVER] query embed failed, skipping group", "embed_llm_id", llmID, "error", err)
				return nil
			}
			hits, err := s.vectors.Search(gCtx, vecs[0], ids, recallK)
			if err != nil {
				slog.Error("[DEBUG-RETRIEVER] vector search failed, skipping group", "embed_llm_id", llmID, "error", err)
				return nil
			}
			mu.Lock()
			groupHits = append(groupHits, hits)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	vectorHits := interleaveVectorHits(groupHits)
	if len(vectorHits) > recallK {
		vectorHits = vectorHits[:recallK]
	}
	return vectorHits, keywordHits
}

// fuseWithSources runs Reciprocal Rank Fusion over both legs and tags
// each surviving chunk with where it came from. Ties in fused score
// break by leg priority: a vector-leg chunk sorts before a keyword-only
// chunk, and within one leg the earlier rank wins.
func fuseWithSources(vectorHits []VectorHit, keywordHits []KeywordHit, recallK int) []model.RetrievedContext {
	type entry struct {
		chunk    model.Chunk
		score    float64
		inVector bool
		inKey    bool
		bestRank int
	}
	byID := make(map[string]*entry)

	for rank, hit := range vectorHits {
		e, ok := byID[hit.Chunk.ChunkID]
		if !ok {
			e = &entry{chunk: hit.Chunk, bestRank: rank}
			byID[hit.Chunk.ChunkID] = e
		}
		e.inVector = true
		e.score += 1.0 / float64(rrfK+rank+1)
	}
	for rank, hit := range keywordHits {
		e, ok := byID[hit.Chunk.ChunkID]
		if !ok {
			e = &entry{chunk: hit.Chunk, bestRank: rank}
			byID[hit.Chunk.ChunkID] = e
		}
		e.inKey = true
		e.score += 1.0 / float64(rrfK+rank+1)
	}

	entries := make([]*entry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		if entries[i].inVector != entries[j].inVector {
			return entries[i].inVector
		}
		return entries[i].bestRank < entries[j].bestRank
	})
	if len(entries) > recallK {
		entries = entries[:recallK]
	}

	out := make([]model.RetrievedContext, len(entries))
	for i, e := range entries {
		source := SourceKeyword
		switch {
		case e.inVector && e.inKey:
			source = SourceHybrid
		case e.inVector:
			source = SourceVector
		}
		out[i] = model.RetrievedContext{
			ChunkID:    e.chunk.ChunkID,
			DocumentID: e.chunk.DocumentID,
			FileName:   e.chunk.FileName,
			Content:    e.chunk.Content,
			Score:      e.score,
			Source:     source,
		}
	}
	return out
}

// hydrate batch-fetches the fused chunk IDs from the inverted index in
// one mget and fills in content and filename. Vector-leg hits carry a
// truncated content preview, so the inverted index's full text wins
// when present; a chunk missing from the index keeps what it has.
func (s *RetrieverService) hydrate(ctx context.Context, contexts []model.RetrievedContext) {
	ids := make([]string, len(contexts))
	for i, c := range contexts {
		ids[i] = c.ChunkID
	}
	full, err := s.keyword.GetByIDs(ctx, ids)
	if err != nil {
		slog.Error("[DEBUG-RETRIEVER] hydration failed, keeping leg-local content", "error", err)
		return
	}
	for i := range contexts {
		if chunk, ok := full[contexts[i].ChunkID]; ok {
			contexts[i].Content = chunk.Content
			contexts[i].FileName = chunk.FileName
		}
	}
}

// rerankContexts replaces fused scores with rerank relevance: a remote
// rerank LLM when the robot binds one, the local metadata reranker
// otherwise. Ties after rerank keep input (fused) order.
func (s *RetrieverService) rerankContexts(ctx context.Context, robot *model.Robot, query string, contexts []model.RetrievedContext, topK int) ([]model.RetrievedContext, error) {
	if robot.RerankLLMID != nil && s.remote != nil {
		texts := make([]string, len(contexts))
		for i, c := range contexts {
			texts[i] = c.Content
		}
		results, err := s.remote.Rerank(ctx, *robot.RerankLLMID, query, texts, topK)
		if err != nil {
			return nil, fmt.Errorf("remote rerank: %w", err)
		}
		out := make([]model.RetrievedContext, 0, len(results))
		for _, r := range results {
			if r.Index < 0 || r.Index >= len(contexts) {
				continue
			}
			c := contexts[r.Index]
			c.Score = r.Score
			c.Source += "+rerank"
			out = append(out, c)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		return out, nil
	}

	if s.reranker == nil {
		return contexts, nil
	}
	ranked := make([]RankedChunk, len(contexts))
	for i, c := range contexts {
		ranked[i] = RankedChunk{
			Chunk: model.Chunk{
				ChunkID:    c.ChunkID,
				DocumentID: c.DocumentID,
				Content:    c.Content,
				FileName:   c.FileName,
			},
			Similarity: c.Score,
			FinalScore: c.Score,
		}
	}
	ranked, err := s.reranker.Rerank(ctx, query, ranked)
	if err != nil {
		return nil, fmt.Errorf("local rerank: %w", err)
	}
	bySource := make(map[string]string, len(contexts))
	for _, c := range contexts {
		bySource[c.ChunkID] = c.Source
	}
	out := make([]model.RetrievedContext, len(ranked))
	for i, r := range ranked {
		out[i] = model.RetrievedContext{
			ChunkID:    r.Chunk.ChunkID,
			DocumentID: r.Chunk.DocumentID,
			FileName:   r.Chunk.FileName,
			Content:    r.Chunk.Content,
			Score:      r.FinalScore,
			Source:     bySource[r.Chunk.ChunkID] + "+rerank",
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
