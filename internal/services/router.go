package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/models"
)

// routingWire accepts both the flat decision shape and the nested one some
// prompts produce (privacy_content_release, emotion_support).
type routingWire struct {
	ScanningTextOrVideo  bool                   `json:"scanning_text_or_video"`
	UserPreference       *models.UserPreference `json:"user_preference"`
	ContentRelease       *models.ContentRelease `json:"content_release"`
	NeedEmotionSupport   bool                   `json:"need_emotion_support"`
	EmotionSupportPrompt string                 `json:"emotion_support_prompt"`

	PrivacyContentRelease *struct {
		HasContentRelease   bool   `json:"has_content_release"`
		NeedPrivacyReminder string `json:"need_privacy_reminder"`
	} `json:"privacy_content_release"`
	EmotionSupport *struct {
		NeedEmotionSupport bool   `json:"need_emotion_support"`
		Prompt             string `json:"emotion_support_prompt_for_response_agent"`
	} `json:"emotion_support"`
}

// ParseRoutingDecision decodes a routing decision. Missing parts default to
// "not requested".
func ParseRoutingDecision(raw json.RawMessage) (*models.RoutingDecision, error) {
	var w routingWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", models.ErrBackendUnavailable, llm.ErrMalformedOutput, err)
	}

	d := &models.RoutingDecision{
		ScanningTextOrVideo:  w.ScanningTextOrVideo,
		NeedEmotionSupport:   w.NeedEmotionSupport,
		EmotionSupportPrompt: strings.TrimSpace(w.EmotionSupportPrompt),
	}
	if w.UserPreference != nil {
		d.UserPreference = *w.UserPreference
	}
	switch {
	case w.ContentRelease != nil:
		d.ContentRelease = *w.ContentRelease
	case w.PrivacyContentRelease != nil:
		d.ContentRelease = models.ContentRelease{
			HasContentRelease: w.PrivacyContentRelease.HasContentRelease,
			ReminderText:      w.PrivacyContentRelease.NeedPrivacyReminder,
		}
	}
	if w.EmotionSupport != nil {
		d.NeedEmotionSupport = d.NeedEmotionSupport || w.EmotionSupport.NeedEmotionSupport
		if d.EmotionSupportPrompt == "" {
			d.EmotionSupportPrompt = strings.TrimSpace(w.EmotionSupport.Prompt)
		}
	}
	d.ContentRelease.ReminderText = strings.TrimSpace(d.ContentRelease.ReminderText)
	return d, nil
}

// Route asks the backend for the routing decision of one event
func Route(ctx context.Context, client llm.Client, ev models.Event) (*models.RoutingDecision, error) {
	raw, err := llm.CompleteJSON(ctx, client, &llm.Request{
		Operation:   llm.OpRoute,
		System:      llm.RoutePrompt,
		User:        eventMessage(ev),
		Temperature: 0.1,
	}, nil)
	if err != nil {
		return nil, err
	}
	return ParseRoutingDecision(raw)
}

func eventMessage(ev models.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User utterance: %s\n", ev.Utterance)
	if ev.UIAction != "" {
		fmt.Fprintf(&b, "Action: %s\n", ev.UIAction)
	}
	fmt.Fprintf(&b, "Screenshot available: %t\n", ev.ScreenshotRef != "")
	return b.String()
}

// turnText is what gets stored as the user's message for an event
func turnText(ev models.Event) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(ev.Utterance); s != "" {
		parts = append(parts, s)
	}
	if ev.UIAction != "" {
		parts = append(parts, "[action] "+ev.UIAction)
	}
	if ev.ScreenshotRef != "" {
		parts = append(parts, "[screenshot] "+ev.ScreenshotRef)
	}
	return strings.Join(parts, "\n")
}
