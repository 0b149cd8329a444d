// Package llm provides the chat model client. It speaks the Gemini
// generateContent wire format directly, including function calling, so the
// agent loop can pass tool declarations and feed tool results back to the
// model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors callers branch on.
var (
	// ErrRateLimit marks an HTTP 429 from the provider.
	ErrRateLimit = errors.New("llm: provider rate limit")

	// ErrMalformedOutput marks a response the client could not interpret as
	// either text or a function call.
	ErrMalformedOutput = errors.New("llm: malformed model output")
)

// Conversation roles in the Gemini wire format. Assistant turns are sent back
// as "model".
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part is one piece of a content block. Exactly one field is set.
type Part struct {
	Text     string            `json:"text,omitempty"`
	Call     *FunctionCall     `json:"functionCall,omitempty"`
	Response *FunctionResponse `json:"functionResponse,omitempty"`
}

// Content is one turn in the request transcript.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// TextContent builds a plain text turn.
func TextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// Tool declares one callable function. Parameters holds a JSON Schema object
// describing the arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one generateContent call.
type Request struct {
	// SystemInstruction is prepended to the conversation as out-of-band
	// guidance. Optional.
	SystemInstruction string

	// Contents is the transcript, oldest first.
	Contents []Content

	// Tools the model may call this turn. Optional.
	Tools []Tool

	// Deterministic forces temperature 0. Used for summarization, where the
	// same transcript must always produce the same summary.
	Deterministic bool

	// MaxOutputTokens caps the reply length. Zero means provider default.
	MaxOutputTokens int
}

// Response is the model's reply: either text, or one or more function calls.
type Response struct {
	Text  string
	Calls []FunctionCall
}

// Client generates model responses.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
