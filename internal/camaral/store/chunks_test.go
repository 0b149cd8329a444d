package store_test

import (
	"context"
	"math"
	"testing"

	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

func insertChunk(t *testing.T, s *store.Store, content string, embedding []float32) int64 {
	t.Helper()
	id, err := s.InsertChunk(context.Background(), store.Chunk{
		Content:   content,
		Embedding: embedding,
	})
	if err != nil {
		t.Fatalf("InsertChunk(%q) failed: %v", content, err)
	}
	return id
}

func TestNearestChunksOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Query sits at the origin; distances are 1, 2, and 3.
	insertChunk(t, s, "far", []float32{3, 0, 0})
	insertChunk(t, s, "near", []float32{1, 0, 0})
	insertChunk(t, s, "middle", []float32{0, 2, 0})

	got, err := s.NearestChunks(ctx, []float32{0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("NearestChunks failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("NearestChunks returned %d results, want 3", len(got))
	}

	wantOrder := []string{"near", "middle", "far"}
	wantDist := []float64{1, 2, 3}
	for i := range got {
		if got[i].Chunk.Content != wantOrder[i] {
			t.Errorf("result[%d] = %q, want %q", i, got[i].Chunk.Content, wantOrder[i])
		}
		if math.Abs(got[i].Distance-wantDist[i]) > 1e-9 {
			t.Errorf("result[%d] distance = %v, want %v", i, got[i].Distance, wantDist[i])
		}
	}
}

func TestNearestChunksCapsAtK(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		insertChunk(t, s, "chunk", []float32{float32(i), 0})
	}

	got, err := s.NearestChunks(context.Background(), []float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("NearestChunks failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("NearestChunks returned %d results, want 2", len(got))
	}
}

func TestNearestChunksTieBreakIsStable(t *testing.T) {
	s := newTestStore(t)

	// Both chunks are at distance 1 from the query; ingestion order wins.
	first := insertChunk(t, s, "tie-a", []float32{1, 0})
	second := insertChunk(t, s, "tie-b", []float32{0, 1})
	if first >= second {
		t.Fatal("test setup: first chunk should have the lower id")
	}

	got, err := s.NearestChunks(context.Background(), []float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("NearestChunks failed: %v", err)
	}
	if got[0].Chunk.Content != "tie-a" || got[1].Chunk.Content != "tie-b" {
		t.Errorf("tie order = [%q, %q], want ingestion order [tie-a, tie-b]",
			got[0].Chunk.Content, got[1].Chunk.Content)
	}
}

func TestNearestChunksEmptyKnowledgeBase(t *testing.T) {
	s := newTestStore(t)

	got, err := s.NearestChunks(context.Background(), []float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("NearestChunks failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("NearestChunks on empty KB returned %d results, want 0", len(got))
	}
}

func TestNearestChunksDimensionMismatch(t *testing.T) {
	s := newTestStore(t)

	insertChunk(t, s, "three-dim", []float32{1, 2, 3})

	if _, err := s.NearestChunks(context.Background(), []float32{1, 2}, 1); err == nil {
		t.Error("NearestChunks should fail on dimension mismatch")
	}
}

func TestEmbeddingDim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dim, err := s.EmbeddingDim(ctx)
	if err != nil {
		t.Fatalf("EmbeddingDim failed: %v", err)
	}
	if dim != 0 {
		t.Errorf("EmbeddingDim on empty KB = %d, want 0", dim)
	}

	insertChunk(t, s, "c", []float32{1, 2, 3, 4})

	dim, err = s.EmbeddingDim(ctx)
	if err != nil {
		t.Fatalf("EmbeddingDim failed: %v", err)
	}
	if dim != 4 {
		t.Errorf("EmbeddingDim = %d, want 4", dim)
	}
}

func TestInsertDocument(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertDocument(context.Background(), "docs/handbook.md", "abc123")
	if err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	if id == 0 {
		t.Error("InsertDocument returned zero id")
	}
}
