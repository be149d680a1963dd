package models

import "strings"

// Event is one inbound interaction from an elderly user
type Event struct {
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id,omitempty"`
	Utterance     string `json:"utterance,omitempty"`
	ScreenshotRef string `json:"screenshot_ref,omitempty"`
	UIAction      string `json:"ui_action,omitempty"`
}

// Validate rejects events that carry nothing to act on
func (e *Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return NewValidationError("user_id", "user_id is required")
	}
	if strings.TrimSpace(e.Utterance) == "" && e.ScreenshotRef == "" && e.UIAction == "" {
		return NewValidationError("utterance", "one of utterance, screenshot_ref or ui_action is required")
	}
	return nil
}

// UserPreference is the preference part of a routing decision
type UserPreference struct {
	HasUserPreference     bool   `json:"has_user_preference"`
	PreferenceType        string `json:"preference_type"`
	PreferenceDescription string `json:"preference_description"`
}

// ContentRelease is the privacy-review part of a routing decision
type ContentRelease struct {
	HasContentRelease bool   `json:"has_content_release"`
	ReminderText      string `json:"reminder_text"`
}

// RoutingDecision is the structured intent parsed from an event
type RoutingDecision struct {
	ScanningTextOrVideo  bool           `json:"scanning_text_or_video"`
	UserPreference       UserPreference `json:"user_preference"`
	ContentRelease       ContentRelease `json:"content_release"`
	NeedEmotionSupport   bool           `json:"need_emotion_support"`
	EmotionSupportPrompt string         `json:"emotion_support_prompt"`
}

// Branch names reported in failed_branches
const (
	BranchRouting    = "routing"
	BranchDetection  = "detection"
	BranchToxic      = "toxic"
	BranchFakeNews   = "fake_news"
	BranchPrivacy    = "privacy"
	BranchPreference = "preference"
	BranchReview     = "privacy_review"
	BranchEmotion    = "emotion_support"
	BranchMemory     = "memory"
	BranchResponse   = "response"
)

// Action is one step the client UI should take
type Action struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// DetectionOutcome is one detector's contribution to a turn
type DetectionOutcome struct {
	DetectionType DetectionType `json:"detection_type"`
	Verdict       *Verdict      `json:"verdict,omitempty"`
	Cached        bool          `json:"cached"`
	Error         string        `json:"error,omitempty"`
}

// Failed reports whether the detector produced no verdict
func (o DetectionOutcome) Failed() bool {
	return o.Verdict == nil
}

// TurnResult is what the user receives for one event
type TurnResult struct {
	SessionID      string             `json:"session_id"`
	ReplySentence  string             `json:"reply_sentence"`
	ActionList     []Action           `json:"action_list"`
	UIReminders    []string           `json:"ui_reminders"`
	Detections     []DetectionOutcome `json:"detections,omitempty"`
	FailedBranches []string           `json:"failed_branches"`
	Degraded       bool               `json:"degraded"`
}
