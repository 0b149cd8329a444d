package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

const (
	// DefaultTopK is the number of neighbors fetched per query.
	DefaultTopK = 5

	// DefaultThreshold is the maximum L2 distance at which the closest
	// neighbor still counts as relevant.
	DefaultThreshold = 1.0

	// NoMatchMessage is the exact text handed to the model when retrieval
	// finds nothing relevant. The model is told to answer from it verbatim,
	// so it must never vary.
	NoMatchMessage = "No relevant passage found in the knowledge base."

	// ReasonBelowThreshold marks a query whose closest neighbor was farther
	// than the threshold allows.
	ReasonBelowThreshold = "below_threshold"

	// ReasonEmptyIndex marks a query against a knowledge base with no chunks.
	ReasonEmptyIndex = "empty_index"
)

// Searcher finds the chunks nearest to a query embedding. Satisfied by
// *store.Store.
type Searcher interface {
	NearestChunks(ctx context.Context, query []float32, k int) ([]store.ScoredChunk, error)
}

// Result is the outcome of one guarded retrieval.
type Result struct {
	// Chunks holds up to K scored chunks, ascending by distance. Empty when
	// the guard rejected the query.
	Chunks []store.ScoredChunk

	// TopDistance is the distance of the closest chunk found, regardless of
	// whether it passed the threshold. Zero when the index was empty.
	TopDistance float64

	// NoMatchReason is empty on success, otherwise one of the Reason*
	// constants.
	NoMatchReason string
}

// Relevant reports whether the query found usable context.
func (r *Result) Relevant() bool { return r.NoMatchReason == "" }

// FormatForModel renders the result as the tool output handed back to the
// model: either the fixed no-match sentence or the retrieved passages joined
// by horizontal rules, each prefixed with its provenance.
func (r *Result) FormatForModel() string {
	if !r.Relevant() {
		return NoMatchMessage
	}
	parts := make([]string, 0, len(r.Chunks))
	for _, sc := range r.Chunks {
		if sc.Chunk.Metadata != "" {
			parts = append(parts, fmt.Sprintf("[%s]\n%s", sc.Chunk.Metadata, sc.Chunk.Content))
		} else {
			parts = append(parts, sc.Chunk.Content)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Guard performs retrieval with a relevance cutoff. The decision is one-sided:
// only the closest chunk is tested against the threshold, and when it passes,
// every fetched neighbor is returned. Ranking what to actually use is the
// model's job; the guard only decides whether the knowledge base has anything
// to say at all.
type Guard struct {
	embedder  Embedder
	searcher  Searcher
	topK      int
	threshold float64
	logger    *slog.Logger
}

// NewGuard creates a retrieval guard. Zero topK and threshold values take the
// package defaults.
func NewGuard(embedder Embedder, searcher Searcher, topK int, threshold float64, logger *slog.Logger) *Guard {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		embedder:  embedder,
		searcher:  searcher,
		topK:      topK,
		threshold: threshold,
		logger:    logger,
	}
}

// Search embeds the query, fetches the nearest chunks, and applies the
// relevance cutoff. Returns an error only on embedding or storage failure;
// "nothing relevant" is a normal Result, not an error.
func (g *Guard) Search(ctx context.Context, query string) (*Result, error) {
	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	scored, err := g.searcher.NearestChunks(ctx, vec, g.topK)
	if err != nil {
		return nil, fmt.Errorf("rag: nearest chunks: %w", err)
	}

	if len(scored) == 0 {
		g.logger.DebugContext(ctx, "retrieval found empty index")
		return &Result{NoMatchReason: ReasonEmptyIndex}, nil
	}

	top := scored[0].Distance
	if top > g.threshold {
		g.logger.DebugContext(ctx, "retrieval below relevance threshold",
			slog.Float64("top_distance", top),
			slog.Float64("threshold", g.threshold))
		return &Result{TopDistance: top, NoMatchReason: ReasonBelowThreshold}, nil
	}

	g.logger.DebugContext(ctx, "retrieval matched",
		slog.Int("chunks", len(scored)),
		slog.Float64("top_distance", top))
	return &Result{Chunks: scored, TopDistance: top}, nil
}
