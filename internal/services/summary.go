package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
)

// Summarizer condenses a run of messages into long-term memory text
type Summarizer interface {
	Summarize(ctx context.Context, userID string, messages []models.Message) (string, error)
}

// SummaryService summarizes conversations with the backend
type SummaryService struct {
	client llm.Client
}

func NewSummaryService(client llm.Client) *SummaryService {
	return &SummaryService{client: client}
}

// Summarize generates a summary of messages, oldest first
func (s *SummaryService) Summarize(ctx context.Context, userID string, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages found to summarize")
	}

	// Build conversation text
	var conversation strings.Builder
	for _, msg := range messages {
		speaker := "用户"
		if msg.Speaker == models.SpeakerAssistant {
			speaker = "助手"
		}
		fmt.Fprintf(&conversation, "%s: %s\n", speaker, msg.Text)
	}

	var out struct {
		Summary string `json:"summary"`
	}
	_, err := llm.CompleteJSON(ctx, s.client, &llm.Request{
		Operation:   llm.OpSummarize,
		System:      llm.SummarizePrompt,
		User:        conversation.String(),
		Temperature: 0.3,
		MaxTokens:   500,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary for %s: %w", userID, err)
	}

	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", fmt.Errorf("%w: %w: empty summary", models.ErrBackendUnavailable, llm.ErrMalformedOutput)
	}
	return summary, nil
}
