package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danielbolivar/makers-challenge/internal/camaral/llm"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

type captureClient struct {
	req  llm.Request
	resp *llm.Response
	err  error
}

func (c *captureClient) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.req = req
	return c.resp, c.err
}

func TestSummarizePromptShape(t *testing.T) {
	client := &captureClient{resp: &llm.Response{Text: "  Alice is a buyer at Initech.  "}}
	s := NewLLMSummarizer(client)

	got, err := s.Summarize(context.Background(), "", []store.Turn{
		{Role: store.RoleUser, Content: "Hi, I'm Alice from Initech"},
		{Role: store.RoleAssistant, Content: "Hello Alice"},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Alice is a buyer at Initech." {
		t.Errorf("summary = %q, want trimmed model text", got)
	}

	if !client.req.Deterministic {
		t.Error("summarization must run deterministically")
	}
	if len(client.req.Contents) != 1 {
		t.Fatalf("expected a single prompt turn, got %d", len(client.req.Contents))
	}
	prompt := client.req.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "(none)") {
		t.Error("empty previous summary must appear as (none)")
	}
	if !strings.Contains(prompt, "user: Hi, I'm Alice from Initech") {
		t.Errorf("transcript missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "assistant: Hello Alice") {
		t.Errorf("assistant turn missing from prompt:\n%s", prompt)
	}
}

func TestSummarizeCarriesPreviousSummary(t *testing.T) {
	client := &captureClient{resp: &llm.Response{Text: "updated"}}
	s := NewLLMSummarizer(client)

	if _, err := s.Summarize(context.Background(), "Alice works at Initech", []store.Turn{
		{Role: store.RoleUser, Content: "I got promoted to VP"},
	}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	prompt := client.req.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "Previous Profile: Alice works at Initech") {
		t.Errorf("previous summary missing from prompt:\n%s", prompt)
	}
}

func TestSummarizeEmptyTranscriptSkipsModel(t *testing.T) {
	client := &captureClient{err: errors.New("must not be called")}
	s := NewLLMSummarizer(client)

	got, err := s.Summarize(context.Background(), "keep me", nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "keep me" {
		t.Errorf("summary = %q, want previous summary", got)
	}
}

func TestSummarizePropagatesError(t *testing.T) {
	wantErr := errors.New("provider down")
	s := NewLLMSummarizer(&captureClient{err: wantErr})

	_, err := s.Summarize(context.Background(), "", []store.Turn{{Role: store.RoleUser, Content: "hi"}})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}
