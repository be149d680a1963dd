package models

import "time"

// Relationship links an elderly user to a caregiver who receives their alerts
type Relationship struct {
	ElderUserID  string    `db:"elder_user_id" json:"elder_user_id"`
	ChildUserID  string    `db:"child_user_id" json:"child_user_id"`
	Relationship string    `db:"relationship" json:"relationship"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// NotificationStatus tracks delivery of a risk notification
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationRead    NotificationStatus = "read"
)

// ParseNotificationStatus validates a user-supplied status
func ParseNotificationStatus(s string) (NotificationStatus, error) {
	switch NotificationStatus(s) {
	case NotificationPending, NotificationSent, NotificationRead:
		return NotificationStatus(s), nil
	}
	return "", NewValidationError("status", "unsupported notification status %q", s)
}

// RiskNotification tells a caregiver about a risky detection for their elder
type RiskNotification struct {
	ID          string             `db:"id" json:"notification_id"`
	ElderUserID string             `db:"elder_user_id" json:"elder_user_id"`
	ChildUserID string             `db:"child_user_id" json:"child_user_id"`
	ContentType DetectionType      `db:"content_type" json:"content_type"`
	Category    string             `db:"category" json:"category"`
	RiskLevel   string             `db:"risk_level" json:"risk_level"`
	Platform    string             `db:"platform" json:"platform"`
	Suggestion  string             `db:"suggestion" json:"suggestion"`
	Status      NotificationStatus `db:"status" json:"status"`
	DetectedAt  time.Time          `db:"detected_at" json:"detected_at"`
}
