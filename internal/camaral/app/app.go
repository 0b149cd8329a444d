// Package app wires the Camaral assistant together and runs it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielbolivar/makers-challenge/internal/camaral/agent"
	"github.com/danielbolivar/makers-challenge/internal/camaral/channel/matrix"
	"github.com/danielbolivar/makers-challenge/internal/camaral/config"
	"github.com/danielbolivar/makers-challenge/internal/camaral/llm"
	"github.com/danielbolivar/makers-challenge/internal/camaral/memory"
	"github.com/danielbolivar/makers-challenge/internal/camaral/rag"
	"github.com/danielbolivar/makers-challenge/internal/camaral/ratelimit"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

// App is the assembled assistant.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	adapter *matrix.Adapter
}

// New builds the application from configuration: storage with migrations, the
// Gemini clients, retrieval, memory, the agent, and the Matrix adapter.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	embedder := rag.NewGeminiEmbedder(rag.GeminiEmbedderConfig{
		APIKey:    cfg.GeminiAPIKey,
		BaseURL:   cfg.GeminiBaseURL,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDim,
	})

	// A knowledge base embedded at one dimension is unusable at another.
	// Catch the mismatch at startup instead of returning garbage distances
	// per query.
	storedDim, err := st.EmbeddingDim(context.Background())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: inspect knowledge base: %w", err)
	}
	if storedDim != 0 && storedDim != cfg.EmbeddingDim {
		st.Close()
		return nil, fmt.Errorf("app: knowledge base embedded at dimension %d but config says %d; re-ingest or fix EMBEDDING_DIM", storedDim, cfg.EmbeddingDim)
	}
	if storedDim == 0 {
		logger.Warn("knowledge base is empty; every question will get the no-match answer until documents are ingested")
	}

	model := llm.NewGemini(llm.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.ChatModel,
	})

	guard := rag.NewGuard(embedder, st, cfg.RAGTopK, cfg.RAGSimilarityThreshold, logger)
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	manager := memory.NewManager(st, memory.NewLLMSummarizer(model), cfg.ConversationTimeout, cfg.SummaryTimeout, logger)
	responder := agent.New(st, guard, manager, limiter, model, cfg.ChatHistoryLimit, logger)

	adapter, err := matrix.New(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		Rooms:       cfg.Matrix.Rooms,
	}, responder, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &App{cfg: cfg, logger: logger, store: st, adapter: adapter}, nil
}

// Run starts the Matrix sync and blocks until an interrupt.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.logger.Info("starting Matrix sync",
		slog.String("homeserver", a.cfg.Matrix.Homeserver),
		slog.String("user_id", a.cfg.Matrix.UserID))
	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("app: start matrix adapter: %w", err)
	}

	a.logger.Info("camaral is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutting down")
	return nil
}

// Stop releases the adapter and the store.
func (a *App) Stop() {
	a.adapter.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}
