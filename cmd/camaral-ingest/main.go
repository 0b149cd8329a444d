// Command camaral-ingest loads text or markdown documents into the knowledge
// base: chunk, embed, insert. Run it before starting the assistant, and again
// whenever the source documents change.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/danielbolivar/makers-challenge/internal/camaral/config"
	"github.com/danielbolivar/makers-challenge/internal/camaral/ingest"
	"github.com/danielbolivar/makers-challenge/internal/camaral/observability"
	"github.com/danielbolivar/makers-challenge/internal/camaral/rag"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

func main() {
	targetSize := flag.Int("chunk-size", ingest.DefaultTargetSize, "target chunk size in bytes")
	maxSize := flag.Int("chunk-max", ingest.DefaultMaxSize, "maximum chunk size in bytes")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: camaral-ingest [flags] <file>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	observability.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := slog.Default()

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	// Refuse to mix embedding spaces. Everything in one database must share
	// one model and dimension.
	storedDim, err := st.EmbeddingDim(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: inspect knowledge base: %v\n", err)
		os.Exit(1)
	}
	if storedDim != 0 && storedDim != cfg.EmbeddingDim {
		fmt.Fprintf(os.Stderr, "Error: knowledge base embedded at dimension %d but config says %d\n", storedDim, cfg.EmbeddingDim)
		os.Exit(1)
	}

	embedder := rag.NewGeminiEmbedder(rag.GeminiEmbedderConfig{
		APIKey:    cfg.GeminiAPIKey,
		BaseURL:   cfg.GeminiBaseURL,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDim,
	})

	ing := ingest.New(st, embedder, ingest.Options{
		TargetSize: *targetSize,
		MaxSize:    *maxSize,
	}, logger)

	total := 0
	for _, path := range flag.Args() {
		n, err := ing.IngestFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: ingest %s: %v\n", path, err)
			os.Exit(1)
		}
		total += n
	}

	logger.Info("ingest complete",
		slog.Int("files", flag.NArg()),
		slog.Int("chunks", total))
}
