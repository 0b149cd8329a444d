package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/danielbolivar/makers-challenge/internal/camaral/rag"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

// embedBatchSize is how many chunks go to the embedding API per call.
const embedBatchSize = 10

// Store is the slice of persistence ingestion needs. Satisfied by
// *store.Store.
type Store interface {
	InsertDocument(ctx context.Context, sourcePath, checksum string) (int64, error)
	InsertChunk(ctx context.Context, c store.Chunk) (int64, error)
}

// Ingestor reads source documents, chunks them, embeds the chunks in batches,
// and writes them to the knowledge base.
type Ingestor struct {
	store    Store
	embedder rag.Embedder
	opts     Options
	logger   *slog.Logger
}

// New creates an Ingestor with the given chunking options.
func New(st Store, embedder rag.Embedder, opts Options, logger *slog.Logger) *Ingestor {
	if opts.TargetSize <= 0 {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: st, embedder: embedder, opts: opts, logger: logger}
}

// IngestFile processes one text or markdown file and returns the number of
// chunks written.
func (g *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("ingest: read %s: %w", path, err)
	}

	chunks := Chunk(string(raw), g.opts)
	if len(chunks) == 0 {
		g.logger.WarnContext(ctx, "no text extracted", slog.String("path", path))
		return 0, nil
	}

	sum := sha256.Sum256(raw)
	docID, err := g.store.InsertDocument(ctx, path, hex.EncodeToString(sum[:]))
	if err != nil {
		return 0, fmt.Errorf("ingest: insert document: %w", err)
	}

	base := filepath.Base(path)
	written := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vectors, err := g.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return written, fmt.Errorf("ingest: embed batch: %w", err)
		}

		for i, content := range batch {
			ordinal := start + i
			_, err := g.store.InsertChunk(ctx, store.Chunk{
				DocumentID: docID,
				Ordinal:    ordinal,
				Content:    content,
				Embedding:  vectors[i],
				Metadata:   fmt.Sprintf("%s section %d", base, ordinal+1),
			})
			if err != nil {
				return written, fmt.Errorf("ingest: insert chunk %d: %w", ordinal, err)
			}
			written++
		}
	}

	g.logger.InfoContext(ctx, "document ingested",
		slog.String("path", path),
		slog.Int("chunks", written))
	return written, nil
}
