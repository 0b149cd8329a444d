package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultEmbeddingBase    = "https://generativelanguage.googleapis.com/v1beta"
	defaultEmbeddingModel   = "gemini-embedding-001"
	defaultEmbeddingDim     = 768
	defaultEmbeddingTimeout = 30 * time.Second
)

// GeminiEmbedderConfig configures the Gemini embedding provider.
type GeminiEmbedderConfig struct {
	// APIKey authenticates requests via the x-goog-api-key header.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to the public Generative
	// Language API. Useful for proxies and test servers.
	BaseURL string

	// Model is the embedding model to use. Defaults to gemini-embedding-001.
	Model string

	// Dimension is the requested output dimensionality. Every vector this
	// embedder produces has exactly this many components. Defaults to 768.
	Dimension int

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// GeminiEmbedder implements Embedder using the Gemini embedContent API.
// The same instance must be used for ingestion and for query-time search so
// that stored and query vectors live in the same space. Safe for concurrent
// use.
type GeminiEmbedder struct {
	cfg    GeminiEmbedderConfig
	client *http.Client
}

// NewGeminiEmbedder creates an Embedder backed by the Gemini API.
func NewGeminiEmbedder(cfg GeminiEmbedderConfig) *GeminiEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbeddingBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = defaultEmbeddingDim
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultEmbeddingTimeout
	}
	return &GeminiEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Dimension reports the output dimensionality this embedder requests. The
// startup check compares it against the dimension of vectors already stored.
func (e *GeminiEmbedder) Dimension() int { return e.cfg.Dimension }

// --- minimal Gemini embedContent wire types ---

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type embedRequest struct {
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type embedResponse struct {
	Embedding *struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Error *geminiError `json:"error,omitempty"`
}

type batchEmbedRequest struct {
	Requests []batchEmbedItem `json:"requests"`
}

type batchEmbedItem struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Embed produces a vector embedding for the given text by calling the Gemini
// embedContent endpoint.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	body := embedRequest{
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		OutputDimensionality: e.cfg.Dimension,
	}

	var embResp embedResponse
	url := fmt.Sprintf("%s/models/%s:embedContent", e.cfg.BaseURL, e.cfg.Model)
	if err := e.post(ctx, url, body, &embResp); err != nil {
		return nil, err
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("embedder gemini: API error (%s): %s", embResp.Error.Status, embResp.Error.Message)
	}
	if embResp.Embedding == nil || len(embResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedder gemini: no embedding returned")
	}
	return embResp.Embedding.Values, nil
}

// EmbedBatch embeds several texts in one batchEmbedContents call. The result
// has one vector per input, in input order.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := batchEmbedRequest{Requests: make([]batchEmbedItem, 0, len(texts))}
	for _, t := range texts {
		body.Requests = append(body.Requests, batchEmbedItem{
			Model:                "models/" + e.cfg.Model,
			Content:              geminiContent{Parts: []geminiPart{{Text: t}}},
			OutputDimensionality: e.cfg.Dimension,
		})
	}

	var embResp batchEmbedResponse
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", e.cfg.BaseURL, e.cfg.Model)
	if err := e.post(ctx, url, body, &embResp); err != nil {
		return nil, err
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("embedder gemini: API error (%s): %s", embResp.Error.Status, embResp.Error.Message)
	}
	if len(embResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder gemini: got %d embeddings for %d inputs", len(embResp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range embResp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GeminiEmbedder) post(ctx context.Context, url string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("embedder gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("embedder gemini: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", e.cfg.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("embedder gemini: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("embedder gemini: read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("embedder gemini: rate limit (HTTP 429)")
	}

	if err := json.Unmarshal(raw, respBody); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("embedder gemini: unexpected HTTP status %d", resp.StatusCode)
		}
		return fmt.Errorf("embedder gemini: decode response: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Embedder = (*GeminiEmbedder)(nil)
