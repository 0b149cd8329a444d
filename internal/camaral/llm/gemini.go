package llm

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
	defaultChatBase    = "https://generativelanguage.googleapis.com/v1beta"
	defaultChatModel   = "gemini-2.0-flash"
	defaultChatTimeout = 60 * time.Second
)

// GeminiConfig configures the Gemini chat provider.
type GeminiConfig struct {
	// APIKey authenticates requests via the x-goog-api-key header.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to the public Generative
	// Language API. Useful for proxies and test servers.
	BaseURL string

	// Model is the chat model to use. Defaults to gemini-2.0-flash.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 60 s.
	Timeout time.Duration
}

// geminiClient implements Client against the Gemini generateContent API.
type geminiClient struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini returns a Client backed by the Gemini API. The returned client is
// safe for concurrent use.
func NewGemini(cfg GeminiConfig) Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultChatBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultChatTimeout
	}
	return &geminiClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal generateContent wire types ---

type wireRequest struct {
	SystemInstruction *wireSystem     `json:"system_instruction,omitempty"`
	Contents          []Content       `json:"contents"`
	Tools             []wireTools     `json:"tools,omitempty"`
	GenerationConfig  *wireGeneration `json:"generationConfig,omitempty"`
}

type wireSystem struct {
	Parts []Part `json:"parts"`
}

type wireTools struct {
	FunctionDeclarations []Tool `json:"function_declarations"`
}

type wireGeneration struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate sends one generateContent call and interprets the first candidate.
func (c *geminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	body := wireRequest{Contents: req.Contents}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &wireSystem{Parts: []Part{{Text: req.SystemInstruction}}}
	}
	if len(req.Tools) > 0 {
		body.Tools = []wireTools{{FunctionDeclarations: req.Tools}}
	}
	if req.Deterministic || req.MaxOutputTokens > 0 {
		gen := &wireGeneration{MaxOutputTokens: req.MaxOutputTokens}
		if req.Deterministic {
			zero := 0.0
			gen.Temperature = &zero
		}
		body.GenerationConfig = gen
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w (HTTP 429)", ErrRateLimit)
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("llm: decode API response: %w", err)
	}

	if wire.Error != nil {
		return nil, fmt.Errorf("llm: API error (%s): %s", wire.Error.Status, wire.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm: unexpected HTTP status %d", resp.StatusCode)
	}
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrMalformedOutput)
	}

	return interpret(wire.Candidates[0].Content)
}

// interpret flattens a candidate's parts into text plus function calls.
func interpret(content Content) (*Response, error) {
	out := &Response{}
	for _, part := range content.Parts {
		switch {
		case part.Call != nil:
			out.Calls = append(out.Calls, *part.Call)
		case part.Text != "":
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += part.Text
		}
	}
	if out.Text == "" && len(out.Calls) == 0 {
		return nil, fmt.Errorf("%w: candidate carries neither text nor a function call", ErrMalformedOutput)
	}
	return out, nil
}
