package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielbolivar/makers-challenge/internal/camaral/llm"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

// profilePromptTmpl drives the profile update. It is CRM-shaped on purpose:
// keep who the user is and what they want, drop resolved support noise.
// Two printf verbs are substituted at call time:
//  1. %s previous profile summary, "(none)" when empty
//  2. %s transcript of the expired conversation
const profilePromptTmpl = `Act as an expert CRM Data Analyst. Your job is to update a client profile based on their latest conversation.

Inputs:
- Previous Profile: %s
- Recent Conversation: %s

Filtering rules:
1) EXTRACT (keep): Biographical data (Name, Job title, Company, Location). Business intent (Want to buy? Looking for API? Just curious?). Communication preferences (Formal? Technical? Direct?).
2) IGNORE (discard): Resolved technical support issues (bugs, load errors, UI questions). Empty greetings and goodbyes. One-off platform complaints.

Output: A single plain-text paragraph with the updated profile. If the conversation added no profile value (only ephemeral tech support), return the Previous Profile unchanged.`

const summaryMaxTokens = 1024

// LLMSummarizer implements Summarizer on the chat model. It runs the model
// deterministically at temperature zero; the same profile and transcript
// always produce the same summary, which makes interrupted rollovers safe to
// repeat.
type LLMSummarizer struct {
	client llm.Client
}

// NewLLMSummarizer creates a Summarizer backed by the given chat client.
func NewLLMSummarizer(client llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

// Summarize produces the updated profile paragraph for an expired
// conversation. Empty transcripts return the previous summary unchanged
// without a model call.
func (s *LLMSummarizer) Summarize(ctx context.Context, currentSummary string, turns []store.Turn) (string, error) {
	if len(turns) == 0 {
		return currentSummary, nil
	}

	previous := currentSummary
	if previous == "" {
		previous = "(none)"
	}
	prompt := fmt.Sprintf(profilePromptTmpl, previous, formatTranscript(turns))

	resp, err := s.client.Generate(ctx, llm.Request{
		Contents:        []llm.Content{llm.TextContent(llm.RoleUser, prompt)},
		Deterministic:   true,
		MaxOutputTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}
	if resp.Text == "" {
		return "", fmt.Errorf("summarizer: model returned no text")
	}
	return strings.TrimSpace(resp.Text), nil
}

// formatTranscript renders turns as "role: content" lines for the prompt.
func formatTranscript(turns []store.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", t.Role, t.Content)
	}
	return b.String()
}

// Compile-time interface satisfaction check.
var _ Summarizer = (*LLMSummarizer)(nil)
