package service

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

func chunk(id string) model.Chunk {
	return model.Chunk{ChunkID: id, DocumentID: "doc-" + id, Content: "content-" + id, FileName: id + ".txt"}
}

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string, llmID string) ([][]float32, error) {
	s.calls++
	return [][]float32{{1, 0, 0}}, nil
}

type stubVectors struct {
	hits      []VectorHit
	lastTopK  int
	callCount int
	err       error
}

func (s *stubVectors) Search(ctx context.Context, queryVec []float32, knowledgeIDs []string, topK int) ([]VectorHit, error) {
	s.lastTopK = topK
	s.callCount++
	return s.hits, s.err
}

type stubKeyword struct {
	hits     []KeywordHit
	byID     map[string]model.Chunk
	lastTopK int
	err      error
}

func (s *stubKeyword) Search(ctx context.Context, query string, knowledgeIDs []string, topK int) ([]KeywordHit, error) {
	s.lastTopK = topK
	return s.hits, s.err
}

func (s *stubKeyword) GetByIDs(ctx context.Context, chunkIDs []string) (map[string]model.Chunk, error) {
	if s.byID == nil {
		return map[string]model.Chunk{}, nil
	}
	return s.byID, nil
}

type stubKnowledge struct{}

func (stubKnowledge) EmbedModelFor(ctx context.Context, knowledgeID string) (string, string, error) {
	return "embed-llm-1", "", nil
}

func newTestRetriever(vectors *stubVectors, keyword *stubKeyword) *RetrieverService {
	return NewRetrieverService(&stubEmbedder{}, vectors, keyword, stubKnowledge{})
}

func TestReciprocalRankFusion_TieMath(t *testing.T) {
	// a chunk at rank 0 in both legs fuses to 2/61, strictly above a
	// rank-0 single-leg chunk's 1/61
	both := chunk("both")
	vecOnly := chunk("vec-only")

	fused := fuseWithSources(
		[]VectorHit{{Chunk: both, Score: 0.9}, {Chunk: vecOnly, Score: 0.8}},
		[]KeywordHit{{Chunk: both, Score: 0.7}},
		10,
	)

	if fused[0].ChunkID != "both" {
		t.Fatalf("top chunk = %s, want both", fused[0].ChunkID)
	}
	if math.Abs(fused[0].Score-2.0/61.0) > 1e-12 {
		t.Errorf("fused score = %v, want 2/61", fused[0].Score)
	}
	if fused[0].Source != SourceHybrid {
		t.Errorf("source = %q, want hybrid", fused[0].Source)
	}
	if fused[1].Source != SourceVector {
		t.Errorf("second source = %q, want vector", fused[1].Source)
	}
}

func TestFuseWithSources_TieBreakPrefersVectorLeg(t *testing.T) {
	// same rank in opposite legs → equal fused score; vector leg wins
	v := chunk("v")
	k := chunk("k")
	fused := fuseWithSources(
		[]VectorHit{{Chunk: v, Score: 0.5}},
		[]KeywordHit{{Chunk: k, Score: 0.5}},
		10,
	)
	if fused[0].ChunkID != "v" {
		t.Errorf("tie should break toward the vector leg, got %s first", fused[0].ChunkID)
	}
	if fused[1].Source != SourceKeyword {
		t.Errorf("keyword chunk source = %q", fused[1].Source)
	}
}

func TestHybridRetrieve_WidensRecallForRerank(t *testing.T) {
	vectors := &stubVectors{}
	keyword := &stubKeyword{}
	svc := newTestRetriever(vectors, keyword)

	robot := &model.Robot{EnableRerank: false}
	if _, err := svc.HybridRetrieve(context.Background(), robot, []string{"kb-1"}, "q", 5); err != nil {
		t.Fatalf("HybridRetrieve: %v", err)
	}
	if vectors.lastTopK != 5 || keyword.lastTopK != 5 {
		t.Errorf("recall_k without rerank = (%d,%d), want (5,5)", vectors.lastTopK, keyword.lastTopK)
	}

	robot.EnableRerank = true
	if _, err := svc.HybridRetrieve(context.Background(), robot, []string{"kb-1"}, "q", 5); err != nil {
		t.Fatalf("HybridRetrieve: %v", err)
	}
	if vectors.lastTopK != 20 || keyword.lastTopK != 20 {
		t.Errorf("recall_k with rerank = (%d,%d), want (20,20)", vectors.lastTopK, keyword.lastTopK)
	}
}

func TestHybridRetrieve_HydratesFromInvertedIndex(t *testing.T) {
	c := chunk("c1")
	c.Content = "preview only"
	full := chunk("c1")
	full.Content = "the complete indexed text"
	full.FileName = "full.txt"

	vectors := &stubVectors{hits: []VectorHit{{Chunk: c, Score: 0.9}}}
	keyword := &stubKeyword{byID: map[string]model.Chunk{"c1": full}}
	svc := newTestRetriever(vectors, keyword)

	out, err := svc.HybridRetrieve(context.Background(), &model.Robot{}, []string{"kb-1"}, "q", 3)
	if err != nil {
		t.Fatalf("HybridRetrieve: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("result count = %d, want 1", len(out))
	}
	if out[0].Content != "the complete indexed text" {
		t.Errorf("content not hydrated: %q", out[0].Content)
	}
	if out[0].FileName != "full.txt" {
		t.Errorf("filename not hydrated: %q", out[0].FileName)
	}
}

func TestHybridRetrieve_DegradedLegIsSkippedNotFatal(t *testing.T) {
	kw := chunk("kw-1")
	vectors := &stubVectors{err: fmt.Errorf("pgvector down")}
	keyword := &stubKeyword{hits: []KeywordHit{{Chunk: kw, Score: 0.6}}}
	svc := newTestRetriever(vectors, keyword)

	out, err := svc.HybridRetrieve(context.Background(), &model.Robot{}, []string{"kb-1"}, "q", 3)
	if err != nil {
		t.Fatalf("HybridRetrieve should not fail when one leg is down: %v", err)
	}
	if len(out) != 1 || out[0].ChunkID != "kw-1" {
		t.Fatalf("expected the surviving keyword hit, got %v", out)
	}
	if out[0].Source != SourceKeyword {
		t.Errorf("source = %q, want keyword", out[0].Source)
	}
}

type stubRemoteReranker struct {
	gotLLMID string
	gotTopN  int
}

func (s *stubRemoteReranker) Rerank(ctx context.Context, llmID, query string, texts []string, topN int) ([]provider.RerankResult, error) {
	s.gotLLMID = llmID
	s.gotTopN = topN
	// reverse the input order with descending scores
	out := make([]provider.RerankResult, 0, len(texts))
	for i := len(texts) - 1; i >= 0; i-- {
		out = append(out, provider.RerankResult{Index: i, Score: float64(len(texts)-i) / float64(len(texts))})
	}
	return out, nil
}

func TestHybridRetrieve_RemoteRerankReplacesScores(t *testing.T) {
	a, b := chunk("a"), chunk("b")
	vectors := &stubVectors{hits: []VectorHit{{Chunk: a, Score: 0.9}, {Chunk: b, Score: 0.8}}}
	keyword := &stubKeyword{}
	svc := newTestRetriever(vectors, keyword)
	remote := &stubRemoteReranker{}
	svc.SetRemoteReranker(remote)

	rerankLLM := "rerank-llm-9"
	robot := &model.Robot{EnableRerank: true, RerankLLMID: &rerankLLM}

	out, err := svc.HybridRetrieve(context.Background(), robot, []string{"kb-1"}, "q", 2)
	if err != nil {
		t.Fatalf("HybridRetrieve: %v", err)
	}
	if remote.gotLLMID != rerankLLM {
		t.Errorf("rerank llm = %q", remote.gotLLMID)
	}
	if len(out) != 2 {
		t.Fatalf("result count = %d, want 2", len(out))
	}
	// reranker reversed the fused order
	if out[0].ChunkID != "b" {
		t.Errorf("top after rerank = %s, want b", out[0].ChunkID)
	}
	for _, c := range out {
		if c.Source != "vector+rerank" {
			t.Errorf("source = %q, want vector+rerank", c.Source)
		}
		if c.Score < 0 || c.Score > 1 {
			t.Errorf("score out of range: %v", c.Score)
		}
	}
}

func TestHybridRetrieve_EmptyKnowledgeReturnsEmpty(t *testing.T) {
	svc := newTestRetriever(&stubVectors{}, &stubKeyword{})
	out, err := svc.HybridRetrieve(context.Background(), &model.Robot{}, nil, "q", 5)
	if err != nil {
		t.Fatalf("HybridRetrieve: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}

func TestInterleaveVectorHits_RoundRobin(t *testing.T) {
	g1 := []VectorHit{{Chunk: chunk("a1")}, {Chunk: chunk("a2")}}
	g2 := []VectorHit{{Chunk: chunk("b1")}}
	out := interleaveVectorHits([][]VectorHit{g1, g2})
	want := []string{"a1", "b1", "a2"}
	for i, w := range want {
		if out[i].Chunk.ChunkID != w {
			t.Errorf("pos %d = %s, want %s", i, out[i].Chunk.ChunkID, w)
		}
	}
}

func TestDeduplicate_CapsChunksPerDocument(t *testing.T) {
	c1, c2, c3 := chunk("x"), chunk("y"), chunk("z")
	c1.DocumentID, c2.DocumentID, c3.DocumentID = "d", "d", "d"
	ranked := []RankedChunk{
		{Chunk: c1, FinalScore: 0.9},
		{Chunk: c2, FinalScore: 0.8},
		{Chunk: c3, FinalScore: 0.7},
	}
	out := deduplicate(ranked, 2)
	if len(out) != 2 {
		t.Errorf("dedup kept %d chunks, want 2", len(out))
	}
}
