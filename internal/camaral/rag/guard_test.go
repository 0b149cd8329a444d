package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return s.vec, s.err
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, s.err
}

type stubSearcher struct {
	chunks []store.ScoredChunk
	err    error
	gotK   int
}

func (s *stubSearcher) NearestChunks(_ context.Context, _ []float32, k int) ([]store.ScoredChunk, error) {
	s.gotK = k
	return s.chunks, s.err
}

func scored(content, metadata string, dist float64) store.ScoredChunk {
	return store.ScoredChunk{
		Chunk:    store.Chunk{Content: content, Metadata: metadata},
		Distance: dist,
	}
}

func TestGuardReturnsAllNeighborsWhenClosestPasses(t *testing.T) {
	searcher := &stubSearcher{chunks: []store.ScoredChunk{
		scored("close", "doc.md", 0.2),
		scored("farther", "doc.md", 0.9),
		scored("farthest", "doc.md", 5.0),
	}}
	g := NewGuard(&stubEmbedder{vec: []float32{1}}, searcher, 3, 1.0, nil)

	res, err := g.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Relevant() {
		t.Fatalf("expected relevant result, got reason %q", res.NoMatchReason)
	}
	// Only the closest neighbor is tested against the threshold. The one at
	// distance 5.0 still comes back.
	if len(res.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(res.Chunks))
	}
	if res.TopDistance != 0.2 {
		t.Errorf("TopDistance = %v, want 0.2", res.TopDistance)
	}
	if searcher.gotK != 3 {
		t.Errorf("searcher called with k=%d, want 3", searcher.gotK)
	}
}

func TestGuardRejectsWhenClosestBeyondThreshold(t *testing.T) {
	searcher := &stubSearcher{chunks: []store.ScoredChunk{
		scored("far", "", 1.5),
	}}
	g := NewGuard(&stubEmbedder{vec: []float32{1}}, searcher, 5, 1.0, nil)

	res, err := g.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Relevant() {
		t.Fatal("expected a no-match result")
	}
	if res.NoMatchReason != ReasonBelowThreshold {
		t.Errorf("NoMatchReason = %q, want %q", res.NoMatchReason, ReasonBelowThreshold)
	}
	if res.TopDistance != 1.5 {
		t.Errorf("TopDistance = %v, want 1.5", res.TopDistance)
	}
	if len(res.Chunks) != 0 {
		t.Errorf("rejected result should carry no chunks, got %d", len(res.Chunks))
	}
}

func TestGuardAcceptsExactlyAtThreshold(t *testing.T) {
	searcher := &stubSearcher{chunks: []store.ScoredChunk{scored("edge", "", 1.0)}}
	g := NewGuard(&stubEmbedder{vec: []float32{1}}, searcher, 5, 1.0, nil)

	res, err := g.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Relevant() {
		t.Errorf("distance equal to the threshold should pass, got reason %q", res.NoMatchReason)
	}
}

func TestGuardEmptyIndex(t *testing.T) {
	g := NewGuard(&stubEmbedder{vec: []float32{1}}, &stubSearcher{}, 5, 1.0, nil)

	res, err := g.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Relevant() {
		t.Fatal("empty index should produce a no-match result")
	}
	if res.NoMatchReason != ReasonEmptyIndex {
		t.Errorf("NoMatchReason = %q, want %q", res.NoMatchReason, ReasonEmptyIndex)
	}
	if res.FormatForModel() != NoMatchMessage {
		t.Errorf("FormatForModel() = %q, want the fixed no-match message", res.FormatForModel())
	}
}

func TestGuardPropagatesEmbedderError(t *testing.T) {
	wantErr := errors.New("boom")
	g := NewGuard(&stubEmbedder{err: wantErr}, &stubSearcher{}, 5, 1.0, nil)

	_, err := g.Search(context.Background(), "query")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped embedder error, got %v", err)
	}
}

func TestGuardPropagatesSearcherError(t *testing.T) {
	wantErr := errors.New("db gone")
	g := NewGuard(&stubEmbedder{vec: []float32{1}}, &stubSearcher{err: wantErr}, 5, 1.0, nil)

	_, err := g.Search(context.Background(), "query")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped searcher error, got %v", err)
	}
}

func TestFormatForModelJoinsWithProvenance(t *testing.T) {
	res := &Result{Chunks: []store.ScoredChunk{
		scored("First passage.", "guide.md p.1", 0.1),
		scored("Second passage.", "", 0.2),
	}}

	got := res.FormatForModel()
	want := "[guide.md p.1]\nFirst passage.\n\n---\n\nSecond passage."
	if got != want {
		t.Errorf("FormatForModel() = %q, want %q", got, want)
	}
	if strings.Contains(got, NoMatchMessage) {
		t.Error("relevant result must not contain the no-match message")
	}
}

func TestNewGuardDefaults(t *testing.T) {
	searcher := &stubSearcher{chunks: []store.ScoredChunk{scored("x", "", 0.1)}}
	g := NewGuard(&stubEmbedder{vec: []float32{1}}, searcher, 0, 0, nil)

	if _, err := g.Search(context.Background(), "query"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.gotK != DefaultTopK {
		t.Errorf("default topK = %d, want %d", searcher.gotK, DefaultTopK)
	}
	if g.threshold != DefaultThreshold {
		t.Errorf("default threshold = %v, want %v", g.threshold, DefaultThreshold)
	}
}
