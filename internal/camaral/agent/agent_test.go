package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danielbolivar/makers-challenge/internal/camaral/channel"
	"github.com/danielbolivar/makers-challenge/internal/camaral/llm"
	"github.com/danielbolivar/makers-challenge/internal/camaral/memory"
	"github.com/danielbolivar/makers-challenge/internal/camaral/rag"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

type stubTurnStore struct {
	history   []store.Turn
	appended  []store.Turn
	appendErr error
}

func (s *stubTurnStore) AppendTurn(_ context.Context, t store.Turn) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, t)
	return nil
}

func (s *stubTurnStore) LoadRecent(_ context.Context, _ string, _ int) ([]store.Turn, error) {
	return s.history, nil
}

type stubRetriever struct {
	result  *rag.Result
	err     error
	queries []string
}

func (s *stubRetriever) Search(_ context.Context, query string) (*rag.Result, error) {
	s.queries = append(s.queries, query)
	return s.result, s.err
}

type stubSessions struct {
	sess memory.Session
	err  error
}

func (s *stubSessions) Begin(_ context.Context, _, _ string) (memory.Session, error) {
	return s.sess, s.err
}

type stubLimiter struct {
	allow bool
	keys  []string
}

func (s *stubLimiter) CheckAndRecord(key string) bool {
	s.keys = append(s.keys, key)
	return s.allow
}

// scriptedModel replays canned responses and records every request.
type scriptedModel struct {
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (s *scriptedModel) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, errors.New("scriptedModel: out of responses")
	}
	return s.responses[i], nil
}

func textResponse(text string) *llm.Response { return &llm.Response{Text: text} }

func callResponse(query string) *llm.Response {
	args, _ := json.Marshal(map[string]string{"query": query})
	return &llm.Response{Calls: []llm.FunctionCall{{Name: searchToolName, Args: args}}}
}

func inbound() channel.Inbound {
	return channel.Inbound{UserID: "alice", ChannelID: "matrix", Text: "what is the return policy?"}
}

func newAgent(ts *stubTurnStore, r *stubRetriever, sess *stubSessions, lim *stubLimiter, model llm.Client) *Agent {
	return New(ts, r, sess, lim, model, 0, nil)
}

func TestRespondRateLimited(t *testing.T) {
	lim := &stubLimiter{allow: false}
	ts := &stubTurnStore{}
	model := &scriptedModel{}
	a := newAgent(ts, &stubRetriever{}, &stubSessions{}, lim, model)

	out, err := a.Respond(context.Background(), inbound())
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out.Text != RateLimitMessage {
		t.Errorf("Text = %q, want the fixed rate limit message", out.Text)
	}
	if len(model.requests) != 0 {
		t.Error("a denied message must not reach the model")
	}
	if len(ts.appended) != 0 {
		t.Error("a denied message must not be persisted")
	}
	if len(lim.keys) != 1 || lim.keys[0] != "alice:matrix" {
		t.Errorf("limiter keys = %v", lim.keys)
	}
}

func TestRespondDirectAnswer(t *testing.T) {
	ts := &stubTurnStore{}
	sess := &stubSessions{sess: memory.Session{ConversationID: "conv-1", State: memory.StateActive}}
	model := &scriptedModel{responses: []*llm.Response{textResponse("Hello! How can I help?")}}
	a := newAgent(ts, &stubRetriever{}, sess, &stubLimiter{allow: true}, model)

	out, err := a.Respond(context.Background(), inbound())
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out.Text != "Hello! How can I help?" {
		t.Errorf("Text = %q", out.Text)
	}

	// Zero tool calls is a valid path: greeting-style messages need none.
	if len(ts.appended) != 2 {
		t.Fatalf("appended %d turns, want 2", len(ts.appended))
	}
	if ts.appended[0].Role != store.RoleUser || ts.appended[1].Role != store.RoleAssistant {
		t.Errorf("turn roles = %q, %q", ts.appended[0].Role, ts.appended[1].Role)
	}
	if ts.appended[0].ConversationID != "conv-1" || ts.appended[1].ConversationID != "conv-1" {
		t.Error("both turns must share the resolved conversation")
	}
}

func TestRespondToolLoop(t *testing.T) {
	ts := &stubTurnStore{}
	retriever := &stubRetriever{result: &rag.Result{Chunks: []store.ScoredChunk{
		{Chunk: store.Chunk{Content: "Returns accepted within 30 days.", Metadata: "policy.md"}, Distance: 0.3},
	}}}
	model := &scriptedModel{responses: []*llm.Response{
		callResponse("return policy"),
		textResponse("You can return items within 30 days."),
	}}
	a := newAgent(ts, retriever, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	out, err := a.Respond(context.Background(), inbound())
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out.Text != "You can return items within 30 days." {
		t.Errorf("Text = %q", out.Text)
	}
	if len(retriever.queries) != 1 || retriever.queries[0] != "return policy" {
		t.Errorf("queries = %v", retriever.queries)
	}

	// The second request must carry the call echo and the tool result.
	second := model.requests[1]
	last := second.Contents[len(second.Contents)-1]
	if last.Parts[0].Response == nil || last.Parts[0].Response.Name != searchToolName {
		t.Fatalf("expected a functionResponse turn, got %+v", last)
	}
	result := last.Parts[0].Response.Response["result"].(string)
	if !strings.Contains(result, "Returns accepted within 30 days.") {
		t.Errorf("tool result = %q", result)
	}
	if !strings.Contains(result, "[policy.md]") {
		t.Errorf("tool result should carry provenance, got %q", result)
	}
}

func TestRespondNoMatchPassedVerbatim(t *testing.T) {
	retriever := &stubRetriever{result: &rag.Result{NoMatchReason: rag.ReasonBelowThreshold}}
	model := &scriptedModel{responses: []*llm.Response{
		callResponse("weather on mars"),
		textResponse("I couldn't find that in our knowledge base."),
	}}
	a := newAgent(&stubTurnStore{}, retriever, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	if _, err := a.Respond(context.Background(), inbound()); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	result := model.requests[1].Contents[len(model.requests[1].Contents)-1].Parts[0].Response.Response["result"].(string)
	if result != rag.NoMatchMessage {
		t.Errorf("tool result = %q, want the fixed no-match message verbatim", result)
	}
}

func TestRespondProfileInjectedIntoInstruction(t *testing.T) {
	sess := &stubSessions{sess: memory.Session{
		ConversationID: "c",
		Profile:        store.Profile{Summary: "Alice is a VP at Initech."},
	}}
	model := &scriptedModel{responses: []*llm.Response{textResponse("ok")}}
	a := newAgent(&stubTurnStore{}, &stubRetriever{}, sess, &stubLimiter{allow: true}, model)

	if _, err := a.Respond(context.Background(), inbound()); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	instr := model.requests[0].SystemInstruction
	if !strings.Contains(instr, "Known user context (use for personalization only): Alice is a VP at Initech.") {
		t.Errorf("profile missing from instruction:\n%s", instr)
	}
}

func TestRespondHistoryBecomesContext(t *testing.T) {
	ts := &stubTurnStore{history: []store.Turn{
		{Role: store.RoleUser, Content: "earlier question"},
		{Role: store.RoleAssistant, Content: "earlier answer"},
	}}
	model := &scriptedModel{responses: []*llm.Response{textResponse("ok")}}
	a := newAgent(ts, &stubRetriever{}, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	if _, err := a.Respond(context.Background(), inbound()); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	contents := model.requests[0].Contents
	if len(contents) != 3 {
		t.Fatalf("contents = %d turns, want 3", len(contents))
	}
	if contents[0].Role != llm.RoleUser || contents[1].Role != llm.RoleModel {
		t.Errorf("history roles = %q, %q", contents[0].Role, contents[1].Role)
	}
	if contents[2].Parts[0].Text != "what is the return policy?" {
		t.Errorf("new message must come last, got %q", contents[2].Parts[0].Text)
	}
}

func TestRespondInvalidToolArgsReportedToModel(t *testing.T) {
	retriever := &stubRetriever{}
	model := &scriptedModel{responses: []*llm.Response{
		{Calls: []llm.FunctionCall{{Name: searchToolName, Args: json.RawMessage(`{"query": 42}`)}}},
		textResponse("sorry, let me try again"),
	}}
	a := newAgent(&stubTurnStore{}, retriever, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	if _, err := a.Respond(context.Background(), inbound()); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(retriever.queries) != 0 {
		t.Error("invalid arguments must never reach retrieval")
	}
	result := model.requests[1].Contents[len(model.requests[1].Contents)-1].Parts[0].Response.Response["result"].(string)
	if !strings.Contains(result, "Invalid tool arguments") {
		t.Errorf("tool result = %q", result)
	}
}

func TestRespondToolRoundsBounded(t *testing.T) {
	retriever := &stubRetriever{result: &rag.Result{NoMatchReason: rag.ReasonBelowThreshold}}
	// The model calls the tool forever, then finally answers when tools are
	// withheld on the last round.
	responses := make([]*llm.Response, 0, maxToolRounds+1)
	for i := 0; i < maxToolRounds; i++ {
		responses = append(responses, callResponse("again"))
	}
	responses = append(responses, textResponse("final answer"))
	model := &scriptedModel{responses: responses}
	a := newAgent(&stubTurnStore{}, retriever, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	out, err := a.Respond(context.Background(), inbound())
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out.Text != "final answer" {
		t.Errorf("Text = %q", out.Text)
	}
	lastReq := model.requests[len(model.requests)-1]
	if len(lastReq.Tools) != 0 {
		t.Error("final round must withhold tools to force an answer")
	}
}

func TestRespondModelFailureApologizes(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("provider down")}}
	ts := &stubTurnStore{}
	a := newAgent(ts, &stubRetriever{}, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	out, err := a.Respond(context.Background(), inbound())
	if err == nil {
		t.Fatal("expected the underlying error for the adapter's log")
	}
	if out.Text != ApologyMessage {
		t.Errorf("Text = %q, want the fixed apology", out.Text)
	}
	if len(ts.appended) != 0 {
		t.Error("a failed turn must not be persisted")
	}
}

func TestRespondPersistFailureApologizes(t *testing.T) {
	ts := &stubTurnStore{appendErr: errors.New("disk full")}
	model := &scriptedModel{responses: []*llm.Response{textResponse("ok")}}
	a := newAgent(ts, &stubRetriever{}, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	out, err := a.Respond(context.Background(), inbound())
	if err == nil {
		t.Fatal("expected the underlying error for the adapter's log")
	}
	if out.Text != ApologyMessage {
		t.Errorf("Text = %q, want the fixed apology", out.Text)
	}
}

func TestRespondSessionFailureApologizes(t *testing.T) {
	sess := &stubSessions{err: errors.New("db gone")}
	a := newAgent(&stubTurnStore{}, &stubRetriever{}, sess, &stubLimiter{allow: true}, &scriptedModel{})

	out, err := a.Respond(context.Background(), inbound())
	if err == nil {
		t.Fatal("expected the underlying error")
	}
	if out.Text != ApologyMessage {
		t.Errorf("Text = %q", out.Text)
	}
}

func TestRespondRetrieverFailureStaysInBand(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("db gone")}
	model := &scriptedModel{responses: []*llm.Response{
		callResponse("return policy"),
		textResponse("I'm having trouble reaching the knowledge base."),
	}}
	a := newAgent(&stubTurnStore{}, retriever, &stubSessions{sess: memory.Session{ConversationID: "c"}}, &stubLimiter{allow: true}, model)

	out, err := a.Respond(context.Background(), inbound())
	if err != nil {
		t.Fatalf("a retrieval failure is reported to the model, not the caller: %v", err)
	}
	if out.Text != "I'm having trouble reaching the knowledge base." {
		t.Errorf("Text = %q", out.Text)
	}
	result := model.requests[1].Contents[len(model.requests[1].Contents)-1].Parts[0].Response.Response["result"].(string)
	if !strings.Contains(result, "temporarily unavailable") {
		t.Errorf("tool result = %q", result)
	}
}
