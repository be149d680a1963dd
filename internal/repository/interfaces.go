package repository

import (
	"context"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
)

// SessionRepository defines session storage operations
type SessionRepository interface {
	Create(ctx context.Context, session models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// LatestActive returns the most recently active unretired session of a user
	LatestActive(ctx context.Context, userID string) (*models.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// RetireIdle retires every session whose last activity is before cutoff
	RetireIdle(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// MessageRepository defines message storage operations. Messages are
// append-only; Append assigns the sequence number.
type MessageRepository interface {
	Append(ctx context.Context, message *models.Message) error
	ListRecentBySession(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	ListByUserAfterSeq(ctx context.Context, userID string, afterSeq int64, limit int) ([]models.Message, error)
	CountByUserAfterSeq(ctx context.Context, userID string, afterSeq int64) (int, error)
}

// SummaryRepository defines memory summary storage operations
type SummaryRepository interface {
	Create(ctx context.Context, summary models.MemorySummary) error
	Latest(ctx context.Context, userID string) (*models.MemorySummary, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.MemorySummary, error)
}

// PreferenceRepository defines preference storage operations
type PreferenceRepository interface {
	// Upsert overwrites the record for (user_id, preference_type)
	Upsert(ctx context.Context, pref models.PreferenceRecord) error
	ListByUser(ctx context.Context, userID string) ([]models.PreferenceRecord, error)
}

// DetectionRepository stores cached verdicts and the detection log
type DetectionRepository interface {
	GetResult(ctx context.Context, fingerprint string) (*models.DetectionResult, error)
	PutResult(ctx context.Context, result models.DetectionResult) error
	// ExpireResults marks every live result of a type as expired at the given time
	ExpireResults(ctx context.Context, detectionType models.DetectionType, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	AppendLog(ctx context.Context, entry *models.DetectionLogEntry) error
	// RecentLogs returns completed log entries newest first. An empty type
	// means every type.
	RecentLogs(ctx context.Context, userID string, detectionType models.DetectionType, limit int) ([]models.DetectionLogEntry, error)
}

// ProfileRepository persists the active configuration profile per service type
type ProfileRepository interface {
	Get(ctx context.Context, serviceType models.DetectionType) (*models.ConfigProfile, error)
	Save(ctx context.Context, profile *models.ConfigProfile) error
	List(ctx context.Context) ([]*models.ConfigProfile, error)
}

// RelationshipRepository defines elder/caregiver link storage
type RelationshipRepository interface {
	Create(ctx context.Context, rel models.Relationship) error
	ListCaregivers(ctx context.Context, elderUserID string) ([]models.Relationship, error)
	ListElders(ctx context.Context, childUserID string) ([]models.Relationship, error)
	Delete(ctx context.Context, elderUserID, childUserID string) error
}

// NotificationRepository defines risk notification storage
type NotificationRepository interface {
	Create(ctx context.Context, n models.RiskNotification) error
	Get(ctx context.Context, id string) (*models.RiskNotification, error)
	ListByChild(ctx context.Context, childUserID string, status models.NotificationStatus, limit int) ([]models.RiskNotification, error)
	UpdateStatus(ctx context.Context, id string, status models.NotificationStatus) error
}

// Store bundles every repository behind one handle
type Store interface {
	Sessions() SessionRepository
	Messages() MessageRepository
	Summaries() SummaryRepository
	Preferences() PreferenceRepository
	Detections() DetectionRepository
	Profiles() ProfileRepository
	Relationships() RelationshipRepository
	Notifications() NotificationRepository
}
