package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Pusher delivers a message to a connected caregiver. It reports false when
// the caregiver has no live connection.
type Pusher interface {
	Push(userID string, message interface{}) bool
}

// PushMessage is the envelope sent over the caregiver channel
type PushMessage struct {
	Type         string                   `json:"type"`
	Timestamp    time.Time                `json:"timestamp"`
	Notification *models.RiskNotification `json:"notification,omitempty"`
}

// DefaultRepeatWindow is how long a repeated risk on the same content stays silent
const DefaultRepeatWindow = 24 * time.Hour

// RiskEvent describes a risky detection for an elderly user. Events with the
// same fingerprint for the same elder within the repeat window notify once.
type RiskEvent struct {
	ElderUserID   string
	Fingerprint   string
	DetectionType models.DetectionType
	Category      string
	RiskLevel     string
	Platform      string
	Suggestion    string
}

// Notifier fans risk events out to the elder's caregivers
type Notifier struct {
	relationships repository.RelationshipRepository
	notifications repository.NotificationRepository
	pusher        Pusher
	logger        *logrus.Logger
	now           func() time.Time

	mu           sync.Mutex
	repeatWindow time.Duration
	notified     map[string]time.Time
}

// NewNotifier creates a notifier. pusher may be nil, in which case
// notifications stay pending until fetched.
func NewNotifier(store repository.Store, pusher Pusher, logger *logrus.Logger) *Notifier {
	return &Notifier{
		relationships: store.Relationships(),
		notifications: store.Notifications(),
		pusher:        pusher,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		repeatWindow:  DefaultRepeatWindow,
		notified:      make(map[string]time.Time),
	}
}

// SetRepeatWindow changes how long a repeated event is suppressed
func (n *Notifier) SetRepeatWindow(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.repeatWindow = d
}

// claim reserves the event's (elder, fingerprint) slot. It reports false
// when the same event was claimed within the repeat window.
func (n *Notifier) claim(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	for k, at := range n.notified {
		if now.Sub(at) >= n.repeatWindow {
			delete(n.notified, k)
		}
	}
	if _, seen := n.notified[key]; seen {
		return false
	}
	n.notified[key] = now
	return true
}

func (n *Notifier) release(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.notified, key)
}

// Notify creates one notification per linked caregiver and pushes it. A
// repeated event returns no notifications.
func (n *Notifier) Notify(ctx context.Context, ev RiskEvent) (_ []models.RiskNotification, err error) {
	if ev.Fingerprint != "" {
		key := ev.ElderUserID + "|" + ev.Fingerprint
		if !n.claim(key) {
			n.logger.WithFields(logrus.Fields{
				"elder_user_id": ev.ElderUserID,
				"fingerprint":   ev.Fingerprint,
			}).Debug("Repeated risk event, caregivers already notified")
			return nil, nil
		}
		defer func() {
			if err != nil {
				n.release(key)
			}
		}()
	}

	caregivers, err := n.relationships.ListCaregivers(ctx, ev.ElderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list caregivers: %w", err)
	}

	platform := ev.Platform
	if platform == "" {
		platform = "unknown"
	}
	suggestion := ev.Suggestion
	if suggestion == "" {
		suggestion = "请及时关注并处理相关风险"
	}

	out := make([]models.RiskNotification, 0, len(caregivers))
	for _, rel := range caregivers {
		note := models.RiskNotification{
			ID:          uuid.New().String(),
			ElderUserID: ev.ElderUserID,
			ChildUserID: rel.ChildUserID,
			ContentType: ev.DetectionType,
			Category:    ev.Category,
			RiskLevel:   ev.RiskLevel,
			Platform:    platform,
			Suggestion:  suggestion,
			Status:      models.NotificationPending,
			DetectedAt:  n.now(),
		}
		if err := n.notifications.Create(ctx, note); err != nil {
			return out, fmt.Errorf("failed to create notification: %w", err)
		}

		if n.pusher != nil && n.pusher.Push(note.ChildUserID, PushMessage{
			Type:         "risk_notification",
			Timestamp:    note.DetectedAt,
			Notification: &note,
		}) {
			if err := n.notifications.UpdateStatus(ctx, note.ID, models.NotificationSent); err != nil {
				n.logger.WithError(err).WithField("notification_id", note.ID).Warn("Failed to mark notification sent")
			} else {
				note.Status = models.NotificationSent
			}
		}

		n.logger.WithFields(logrus.Fields{
			"notification_id": note.ID,
			"elder_user_id":   note.ElderUserID,
			"child_user_id":   note.ChildUserID,
			"content_type":    note.ContentType,
			"status":          note.Status,
		}).Info("Risk notification created")
		out = append(out, note)
	}
	return out, nil
}

// List returns a caregiver's notifications, newest first
func (n *Notifier) List(ctx context.Context, childUserID string, status models.NotificationStatus, limit int) ([]models.RiskNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return n.notifications.ListByChild(ctx, childUserID, status, limit)
}

var statusOrder = map[models.NotificationStatus]int{
	models.NotificationPending: 0,
	models.NotificationSent:    1,
	models.NotificationRead:    2,
}

// MarkStatus moves a notification forward along pending, sent, read.
// childUserID, when set, must own the notification.
func (n *Notifier) MarkStatus(ctx context.Context, id, childUserID string, status models.NotificationStatus) (*models.RiskNotification, error) {
	note, err := n.notifications.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if childUserID != "" && note.ChildUserID != childUserID {
		return nil, models.ErrNotFound
	}
	if statusOrder[status] < statusOrder[note.Status] {
		return nil, models.NewValidationError("status", "cannot move notification from %s to %s", note.Status, status)
	}
	if status == note.Status {
		return note, nil
	}
	if err := n.notifications.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	note.Status = status
	return note, nil
}

// Link records that childUserID cares for elderUserID
func (n *Notifier) Link(ctx context.Context, elderUserID, childUserID, relationship string) (*models.Relationship, error) {
	if elderUserID == "" || childUserID == "" {
		return nil, models.NewValidationError("user_id", "elder_user_id and child_user_id are required")
	}
	if elderUserID == childUserID {
		return nil, models.NewValidationError("child_user_id", "a user cannot be their own caregiver")
	}
	rel := models.Relationship{
		ElderUserID:  elderUserID,
		ChildUserID:  childUserID,
		Relationship: relationship,
		CreatedAt:    n.now(),
	}
	if err := n.relationships.Create(ctx, rel); err != nil {
		return nil, fmt.Errorf("failed to link caregiver: %w", err)
	}
	return &rel, nil
}

// Unlink removes a caregiver link
func (n *Notifier) Unlink(ctx context.Context, elderUserID, childUserID string) error {
	return n.relationships.Delete(ctx, elderUserID, childUserID)
}

// Caregivers lists an elder's caregivers
func (n *Notifier) Caregivers(ctx context.Context, elderUserID string) ([]models.Relationship, error) {
	return n.relationships.ListCaregivers(ctx, elderUserID)
}

// Elders lists the elders a caregiver looks after
func (n *Notifier) Elders(ctx context.Context, childUserID string) ([]models.Relationship, error) {
	return n.relationships.ListElders(ctx, childUserID)
}
