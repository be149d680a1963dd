package models

import "time"

// Speaker identifies who produced a message
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Valid reports whether the speaker is one of the known values
func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Session is a conversation between one elderly user and the assistant
type Session struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	LastActiveAt time.Time  `db:"last_active_at" json:"last_active_at"`
	RetiredAt    *time.Time `db:"retired_at" json:"retired_at,omitempty"`
}

// Active reports whether the session may still receive messages at now
func (s *Session) Active(now time.Time, timeout time.Duration) bool {
	if s.RetiredAt != nil {
		return false
	}
	return now.Sub(s.LastActiveAt) < timeout
}

// Message is an immutable conversation turn. Seq increases monotonically
// across the whole store and is used for summary coverage ranges.
type Message struct {
	Seq       int64     `db:"seq" json:"seq"`
	SessionID string    `db:"session_id" json:"session_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Speaker   Speaker   `db:"speaker" json:"speaker"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MemorySummary condenses a contiguous range of a user's messages
type MemorySummary struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	SummaryText string    `db:"summary_text" json:"summary_text"`
	FromSeq     int64     `db:"from_seq" json:"from_seq"`
	ToSeq       int64     `db:"to_seq" json:"to_seq"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PreferenceRecord is unique per (UserID, PreferenceType); writes overwrite
type PreferenceRecord struct {
	UserID          string    `db:"user_id" json:"user_id"`
	PreferenceType  string    `db:"preference_type" json:"preference_type"`
	PreferenceValue string    `db:"preference_value" json:"preference_value"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// MemoryContext is what the response generator sees for one turn
type MemoryContext struct {
	RecentMessages []Message          `json:"recent_messages"`
	Preferences    []PreferenceRecord `json:"preferences"`
	Summary        *MemorySummary     `json:"summary,omitempty"`
}
