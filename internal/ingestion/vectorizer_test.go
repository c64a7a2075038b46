package ingestion

import (
	"context"
	"fmt"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

type fakeEmbedder struct {
	calls   int
	batches []int
	fail    bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, embedModel string) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, len(texts))
	if f.fail {
		return nil, fmt.Errorf("embed backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeStore struct {
	name       string
	upserts    [][]model.Chunk
	deletes    []string
	failUpsert bool
	log        *[]string
}

func (f *fakeStore) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if f.log != nil {
		*f.log = append(*f.log, f.name+":upsert")
	}
	if f.failUpsert {
		return fmt.Errorf("%s unavailable", f.name)
	}
	f.upserts = append(f.upserts, chunks)
	return nil
}

func (f *fakeStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if f.log != nil {
		*f.log = append(*f.log, f.name+":delete:"+documentID)
	}
	f.deletes = append(f.deletes, documentID)
	return nil
}

func TestVectorize_ChunkIDsAreDocumentScoped(t *testing.T) {
	vectors := &fakeStore{name: "vec"}
	keyword := &fakeStore{name: "kw"}
	v := NewVectorizer(&fakeEmbedder{}, vectors, keyword)

	n, err := v.Vectorize(context.Background(), "doc-1", "kb-1", "a.txt", "llm-1", []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("Vectorize: %v", err)
	}
	if n != 3 {
		t.Fatalf("chunk count = %d, want 3", n)
	}

	written := vectors.upserts[0]
	for i, c := range written {
		want := fmt.Sprintf("doc-1_%d", i)
		if c.ChunkID != want {
			t.Errorf("chunk %d id = %q, want %q", i, c.ChunkID, want)
		}
		if c.ChunkIndex != i {
			t.Errorf("chunk %d index = %d", i, c.ChunkIndex)
		}
	}

	// both stores got the same chunk IDs
	kwWritten := keyword.upserts[0]
	for i := range written {
		if written[i].ChunkID != kwWritten[i].ChunkID {
			t.Errorf("chunk id mismatch between stores at %d", i)
		}
	}
}

func TestVectorize_WriteOrderAndIdempotentClear(t *testing.T) {
	var log []string
	vectors := &fakeStore{name: "vec", log: &log}
	keyword := &fakeStore{name: "kw", log: &log}
	v := NewVectorizer(&fakeEmbedder{}, vectors, keyword)

	if _, err := v.Vectorize(context.Background(), "doc-2", "kb-1", "a.txt", "llm-1", []string{"x"}); err != nil {
		t.Fatalf("Vectorize: %v", err)
	}

	want := []string{"vec:delete:doc-2", "kw:delete:doc-2", "vec:upsert", "kw:upsert"}
	if len(log) != len(want) {
		t.Fatalf("op log = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestVectorize_CompensatesWhenKeywordWriteFails(t *testing.T) {
	vectors := &fakeStore{name: "vec"}
	keyword := &fakeStore{name: "kw", failUpsert: true}
	v := NewVectorizer(&fakeEmbedder{}, vectors, keyword)

	_, err := v.Vectorize(context.Background(), "doc-3", "kb-1", "a.txt", "llm-1", []string{"x"})
	if err == nil {
		t.Fatal("expected error when inverted index write fails")
	}
	// initial clear + compensating delete
	if len(vectors.deletes) != 2 || vectors.deletes[1] != "doc-3" {
		t.Errorf("vector store deletes = %v, want compensating delete of doc-3", vectors.deletes)
	}
}

func TestVectorize_BatchesEmbedCalls(t *testing.T) {
	emb := &fakeEmbedder{}
	v := NewVectorizer(emb, &fakeStore{name: "vec"}, &fakeStore{name: "kw"})
	v.SetBatchSize(2)

	pieces := []string{"a", "b", "c", "d", "e"}
	if _, err := v.Vectorize(context.Background(), "doc-4", "kb-1", "a.txt", "llm-1", pieces); err != nil {
		t.Fatalf("Vectorize: %v", err)
	}
	if emb.calls != 3 {
		t.Errorf("embed calls = %d, want 3", emb.calls)
	}
	if emb.batches[0] != 2 || emb.batches[2] != 1 {
		t.Errorf("batch sizes = %v", emb.batches)
	}
}

func TestVectorize_EmbedFailureWritesNothing(t *testing.T) {
	vectors := &fakeStore{name: "vec"}
	keyword := &fakeStore{name: "kw"}
	v := NewVectorizer(&fakeEmbedder{fail: true}, vectors, keyword)

	if _, err := v.Vectorize(context.Background(), "doc-5", "kb-1", "a.txt", "llm-1", []string{"x"}); err == nil {
		t.Fatal("expected embed error")
	}
	if len(vectors.upserts) != 0 || len(keyword.upserts) != 0 {
		t.Error("stores were written despite embed failure")
	}
}
