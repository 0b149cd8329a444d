// Package rag implements guarded nearest-neighbor retrieval over the
// knowledge base: embed the query, find the closest chunks, and refuse to
// answer when nothing is close enough.
package rag

import "context"

// Embedder produces vector embeddings for text. The same embedder (model and
// dimension) must be used at ingest time and at query time; mixing models
// makes distances meaningless, which is why the dimension is verified once at
// startup rather than per request.
type Embedder interface {
	// Embed produces a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one call. Used by ingestion.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
