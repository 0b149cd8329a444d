// Package config loads and validates Camaral's runtime configuration.
//
// Settings come from an optional YAML file (CAMARAL_CONFIG, default
// ./camaral.yaml when present) with environment variables taking precedence
// over file values. Fatal misconfiguration, such as a missing API key or a broken
// embedding dimension, is caught here at startup, never per request.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielbolivar/makers-challenge/common/environment"
)

// Defaults for the retrieval and memory knobs. The similarity threshold is an
// L2 distance bound: smaller is stricter.
const (
	DefaultTopK                = 5
	DefaultSimilarityThreshold = 1.0
	DefaultRateLimitRequests   = 20
	DefaultRateLimitWindow     = 60 * time.Second
	DefaultChatHistoryLimit    = 10
	DefaultConversationTimeout = 3600 * time.Second
	DefaultSummaryTimeout      = 30 * time.Second

	DefaultEmbeddingModel = "gemini-embedding-001"
	DefaultEmbeddingDim   = 768
	DefaultChatModel      = "gemini-2.0-flash"
)

// Config holds the full application configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Gemini API access. The key is only ever read from the environment or
	// the config file, never from chat.
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	GeminiBaseURL string `yaml:"gemini_base_url"`

	// EmbeddingModel and EmbeddingDim must match between ingest time and
	// query time; distances are meaningless otherwise.
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingDim   int    `yaml:"embedding_dim"`
	ChatModel      string `yaml:"chat_model"`

	RAGTopK                int     `yaml:"rag_top_k"`
	RAGSimilarityThreshold float64 `yaml:"rag_similarity_threshold"`

	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	ChatHistoryLimit    int           `yaml:"chat_history_limit"`
	ConversationTimeout time.Duration `yaml:"conversation_timeout"`
	SummaryTimeout      time.Duration `yaml:"summary_timeout"`

	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig holds the Matrix channel adapter settings.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
}

// Defaults returns a Config populated with the documented defaults.
func Defaults() *Config {
	return &Config{
		DatabasePath:           "./camaral.db",
		LogLevel:               "info",
		LogFormat:              "text",
		EmbeddingModel:         DefaultEmbeddingModel,
		EmbeddingDim:           DefaultEmbeddingDim,
		ChatModel:              DefaultChatModel,
		RAGTopK:                DefaultTopK,
		RAGSimilarityThreshold: DefaultSimilarityThreshold,
		RateLimitRequests:      DefaultRateLimitRequests,
		RateLimitWindow:        DefaultRateLimitWindow,
		ChatHistoryLimit:       DefaultChatHistoryLimit,
		ConversationTimeout:    DefaultConversationTimeout,
		SummaryTimeout:         DefaultSummaryTimeout,
	}
}

// Load builds the configuration: defaults, then the optional YAML file, then
// environment variable overrides. The result is validated.
func Load() (*Config, error) {
	cfg := Defaults()

	path := environment.StringOr("CAMARAL_CONFIG", "camaral.yaml")
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.mergeEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays YAML file values onto cfg. A missing file is not an
// error; a malformed one is.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// mergeEnv overlays environment variables onto cfg. A variable that is unset
// leaves the current (file or default) value in place.
func (c *Config) mergeEnv() {
	c.DatabasePath = environment.StringOr("DATABASE_PATH", c.DatabasePath)
	c.LogLevel = environment.StringOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = environment.StringOr("LOG_FORMAT", c.LogFormat)

	c.GeminiAPIKey = environment.StringOr("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiBaseURL = environment.StringOr("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.EmbeddingModel = environment.StringOr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDim = environment.IntOr("EMBEDDING_DIM", c.EmbeddingDim)
	c.ChatModel = environment.StringOr("CHAT_MODEL", c.ChatModel)

	c.RAGTopK = environment.IntOr("RAG_TOP_K", c.RAGTopK)
	c.RAGSimilarityThreshold = environment.Float64Or("RAG_SIMILARITY_THRESHOLD", c.RAGSimilarityThreshold)

	c.RateLimitRequests = environment.IntOr("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = environment.SecondsOr("RATE_LIMIT_WINDOW_SECONDS", c.RateLimitWindow)

	c.ChatHistoryLimit = environment.IntOr("CHAT_HISTORY_LIMIT", c.ChatHistoryLimit)
	c.ConversationTimeout = environment.SecondsOr("CONVERSATION_TIMEOUT_SECONDS", c.ConversationTimeout)
	c.SummaryTimeout = environment.SecondsOr("SUMMARY_TIMEOUT_SECONDS", c.SummaryTimeout)

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	if rooms := environment.StringOr("MATRIX_ROOMS", ""); rooms != "" {
		c.Matrix.Rooms = splitList(rooms)
	}
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return errors.New("config: GEMINI_API_KEY is required")
	}
	if c.DatabasePath == "" {
		return errors.New("config: database path must not be empty")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive, got %d", c.EmbeddingDim)
	}
	if c.RAGTopK <= 0 {
		return fmt.Errorf("config: RAG_TOP_K must be positive, got %d", c.RAGTopK)
	}
	if c.RAGSimilarityThreshold <= 0 {
		return fmt.Errorf("config: RAG_SIMILARITY_THRESHOLD must be positive, got %g", c.RAGSimilarityThreshold)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: rate limit window must be positive, got %v", c.RateLimitWindow)
	}
	if c.ChatHistoryLimit <= 0 {
		return fmt.Errorf("config: CHAT_HISTORY_LIMIT must be positive, got %d", c.ChatHistoryLimit)
	}
	if c.ConversationTimeout <= 0 {
		return fmt.Errorf("config: conversation timeout must be positive, got %v", c.ConversationTimeout)
	}
	if c.SummaryTimeout <= 0 {
		return fmt.Errorf("config: summary timeout must be positive, got %v", c.SummaryTimeout)
	}
	return nil
}
