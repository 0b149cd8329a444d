// Package agent orchestrates one chat turn: rate limiting, session
// resolution, context assembly, the model's tool loop, and persistence of the
// exchange.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danielbolivar/makers-challenge/internal/camaral/channel"
	"github.com/danielbolivar/makers-challenge/internal/camaral/llm"
	"github.com/danielbolivar/makers-challenge/internal/camaral/memory"
	"github.com/danielbolivar/makers-challenge/internal/camaral/rag"
	"github.com/danielbolivar/makers-challenge/internal/camaral/ratelimit"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

// Fixed user-facing strings. Exact wording is part of the product surface;
// tests pin them.
const (
	// RateLimitMessage is returned when a sender sends messages faster than the window allows.
	RateLimitMessage = "Too many messages. Please wait a moment before sending more."

	// ApologyMessage is returned on any internal failure. It deliberately
	// reveals nothing about the cause.
	ApologyMessage = "Something went wrong. Please try again later."
)

const systemPrompt = `You are a customer service agent for Camaral. Answer only from the provided knowledge base search results. If the answer is not there, say so and offer to escalate. Be concise and helpful.`

// DefaultHistoryLimit is the short-term window of prior turns sent as model
// context.
const DefaultHistoryLimit = 10

// maxToolRounds bounds the tool loop. A model that keeps calling the tool
// past this is cut off with whatever context it has gathered.
const maxToolRounds = 4

const searchToolName = "search_knowledge_base"

// searchToolSchema validates the model's tool arguments before they touch
// retrieval. The model is not trusted to emit well-formed JSON.
const searchToolSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"minLength": 1,
			"description": "The search query."
		}
	},
	"required": ["query"],
	"additionalProperties": false
}`

// TurnStore is the slice of persistence the agent needs. Satisfied by
// *store.Store.
type TurnStore interface {
	AppendTurn(ctx context.Context, t store.Turn) error
	LoadRecent(ctx context.Context, conversationID string, limit int) ([]store.Turn, error)
}

// Retriever performs one guarded knowledge base search. Satisfied by
// *rag.Guard.
type Retriever interface {
	Search(ctx context.Context, query string) (*rag.Result, error)
}

// SessionResolver decides which conversation an inbound message belongs to.
// Satisfied by *memory.Manager.
type SessionResolver interface {
	Begin(ctx context.Context, userID, channelID string) (memory.Session, error)
}

// Limiter admits or denies a sender. Satisfied by *ratelimit.Limiter via
// the Key helper.
type Limiter interface {
	CheckAndRecord(key string) bool
}

// Agent implements channel.Responder.
type Agent struct {
	store        TurnStore
	retriever    Retriever
	sessions     SessionResolver
	limiter      Limiter
	model        llm.Client
	historyLimit int
	logger       *slog.Logger
	argsSchema   *jsonschema.Schema
}

// New creates the agent. A zero historyLimit takes DefaultHistoryLimit.
func New(ts TurnStore, retriever Retriever, sessions SessionResolver, limiter Limiter, model llm.Client, historyLimit int, logger *slog.Logger) *Agent {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		store:        ts,
		retriever:    retriever,
		sessions:     sessions,
		limiter:      limiter,
		model:        model,
		historyLimit: historyLimit,
		logger:       logger,
		argsSchema:   jsonschema.MustCompileString("search_tool.json", searchToolSchema),
	}
}

// Respond handles one inbound message end to end. It always returns a
// deliverable Outbound; the error, when non-nil, is for the adapter's log
// only.
func (a *Agent) Respond(ctx context.Context, msg channel.Inbound) (channel.Outbound, error) {
	// Rate limiting comes first: a denied message consumes no model tokens,
	// no retrieval, and leaves no trace in the conversation log.
	if !a.limiter.CheckAndRecord(ratelimit.Key(msg.UserID, msg.ChannelID)) {
		a.logger.InfoContext(ctx, "message rate limited",
			slog.String("user_id", msg.UserID),
			slog.String("channel_id", msg.ChannelID))
		return channel.Outbound{Text: RateLimitMessage}, nil
	}

	sess, err := a.sessions.Begin(ctx, msg.UserID, msg.ChannelID)
	if err != nil {
		a.logger.ErrorContext(ctx, "session resolution failed", slog.String("error", err.Error()))
		return channel.Outbound{Text: ApologyMessage}, err
	}

	reply, err := a.runModel(ctx, msg, sess)
	if err != nil {
		a.logger.ErrorContext(ctx, "model turn failed",
			slog.String("conversation_id", sess.ConversationID),
			slog.String("error", err.Error()))
		return channel.Outbound{Text: ApologyMessage}, err
	}

	if err := a.persistExchange(ctx, msg, sess.ConversationID, reply); err != nil {
		a.logger.ErrorContext(ctx, "persisting exchange failed",
			slog.String("conversation_id", sess.ConversationID),
			slog.String("error", err.Error()))
		return channel.Outbound{Text: ApologyMessage}, err
	}

	return channel.Outbound{Text: reply}, nil
}

// runModel assembles the context and drives the tool loop until the model
// produces a text answer.
func (a *Agent) runModel(ctx context.Context, msg channel.Inbound, sess memory.Session) (string, error) {
	history, err := a.store.LoadRecent(ctx, sess.ConversationID, a.historyLimit)
	if err != nil {
		return "", fmt.Errorf("agent: load history: %w", err)
	}

	contents := make([]llm.Content, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == store.RoleAssistant {
			role = llm.RoleModel
		}
		contents = append(contents, llm.TextContent(role, t.Content))
	}
	contents = append(contents, llm.TextContent(llm.RoleUser, msg.Text))

	instruction := systemPrompt
	if sess.Profile.Summary != "" {
		instruction += "\n\nKnown user context (use for personalization only): " + sess.Profile.Summary
	}

	tools := []llm.Tool{{
		Name:        searchToolName,
		Description: "Search the company knowledge base for information relevant to the user query. Use this before answering questions about Camaral.",
		Parameters:  json.RawMessage(searchToolSchema),
	}}

	for round := 0; round <= maxToolRounds; round++ {
		req := llm.Request{
			SystemInstruction: instruction,
			Contents:          contents,
			Tools:             tools,
		}
		if round == maxToolRounds {
			// Last round: force an answer from the context gathered so far.
			req.Tools = nil
		}

		resp, err := a.model.Generate(ctx, req)
		if err != nil {
			return "", fmt.Errorf("agent: generate: %w", err)
		}

		if len(resp.Calls) == 0 {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return "", fmt.Errorf("agent: %w: empty text answer", llm.ErrMalformedOutput)
			}
			return text, nil
		}

		// Echo the model's calls back, then append one result per call.
		modelTurn := llm.Content{Role: llm.RoleModel}
		for i := range resp.Calls {
			modelTurn.Parts = append(modelTurn.Parts, llm.Part{Call: &resp.Calls[i]})
		}
		contents = append(contents, modelTurn)

		for _, call := range resp.Calls {
			output := a.runTool(ctx, call)
			contents = append(contents, llm.Content{
				Role: llm.RoleUser,
				Parts: []llm.Part{{Response: &llm.FunctionResponse{
					Name:     call.Name,
					Response: map[string]any{"result": output},
				}}},
			})
		}
	}

	return "", fmt.Errorf("agent: %w: no text answer after tool rounds", llm.ErrMalformedOutput)
}

// runTool executes one function call. Tool failures are reported back to the
// model as text rather than aborting the turn; the model can still answer or
// apologize from what it knows.
func (a *Agent) runTool(ctx context.Context, call llm.FunctionCall) string {
	if call.Name != searchToolName {
		a.logger.WarnContext(ctx, "model requested unknown tool", slog.String("tool", call.Name))
		return fmt.Sprintf("Unknown tool %q.", call.Name)
	}

	var raw any
	if err := json.Unmarshal(call.Args, &raw); err != nil {
		return "Invalid tool arguments: not valid JSON."
	}
	if err := a.argsSchema.Validate(raw); err != nil {
		a.logger.WarnContext(ctx, "model produced invalid tool arguments", slog.String("error", err.Error()))
		return "Invalid tool arguments: " + err.Error()
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return "Invalid tool arguments: not valid JSON."
	}

	res, err := a.retriever.Search(ctx, args.Query)
	if err != nil {
		a.logger.ErrorContext(ctx, "knowledge base search failed", slog.String("error", err.Error()))
		return "The knowledge base is temporarily unavailable."
	}
	return res.FormatForModel()
}

// persistExchange appends the user and assistant turns. The pair shares one
// conversation; the first append after a rollover is what establishes the new
// conversation ID in storage.
func (a *Agent) persistExchange(ctx context.Context, msg channel.Inbound, conversationID, reply string) error {
	userTurn := store.Turn{
		ConversationID: conversationID,
		UserID:         msg.UserID,
		ChannelID:      msg.ChannelID,
		Role:           store.RoleUser,
		Content:        msg.Text,
	}
	if err := a.store.AppendTurn(ctx, userTurn); err != nil {
		return fmt.Errorf("agent: append user turn: %w", err)
	}

	assistantTurn := store.Turn{
		ConversationID: conversationID,
		UserID:         msg.UserID,
		ChannelID:      msg.ChannelID,
		Role:           store.RoleAssistant,
		Content:        reply,
	}
	if err := a.store.AppendTurn(ctx, assistantTurn); err != nil {
		return fmt.Errorf("agent: append assistant turn: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ channel.Responder = (*Agent)(nil)
