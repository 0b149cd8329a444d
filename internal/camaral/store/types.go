package store

import "time"

// Turn roles. The conversation log only ever contains these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chunk is one retrievable unit of source text with its vector embedding.
// Immutable once ingested.
type Chunk struct {
	ID         int64
	DocumentID int64 // 0 when the chunk has no parent document row
	Ordinal    int
	Content    string
	Embedding  []float32
	Metadata   string // free-form provenance, e.g. "page 3"
	CreatedAt  time.Time
}

// ScoredChunk pairs a chunk with its distance to a query embedding.
// Ephemeral, produced per query, never persisted.
type ScoredChunk struct {
	Chunk    Chunk
	Distance float64
}

// Turn is a single message in a conversation.
type Turn struct {
	ID             int64
	ConversationID string
	UserID         string
	ChannelID      string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Profile is the long-term summary for one (user_id, channel_id) pair.
// Summary is always a complete, self-contained paragraph, never a delta.
type Profile struct {
	UserID    string
	ChannelID string
	Summary   string
	UpdatedAt time.Time
}
