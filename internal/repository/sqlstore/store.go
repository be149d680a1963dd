// Package sqlstore implements the repository interfaces on top of sqlx. Queries
// are written with ? placeholders and rebound for the connected driver, so the
// same code serves PostgreSQL and SQLite.
package sqlstore

import (
	"database/sql"
	"errors"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/jmoiron/sqlx"
)

// Store implements repository.Store
type Store struct {
	db *sqlx.DB

	sessions      *SessionRepository
	messages      *MessageRepository
	summaries     *SummaryRepository
	preferences   *PreferenceRepository
	detections    *DetectionRepository
	profiles      *ProfileRepository
	relationships *RelationshipRepository
	notifications *NotificationRepository
}

// New creates a store over an open connection
func New(db *sqlx.DB) *Store {
	return &Store{
		db:            db,
		sessions:      &SessionRepository{db: db},
		messages:      &MessageRepository{db: db},
		summaries:     &SummaryRepository{db: db},
		preferences:   &PreferenceRepository{db: db},
		detections:    &DetectionRepository{db: db},
		profiles:      &ProfileRepository{db: db},
		relationships: &RelationshipRepository{db: db},
		notifications: &NotificationRepository{db: db},
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Sessions() repository.SessionRepository           { return s.sessions }
func (s *Store) Messages() repository.MessageRepository           { return s.messages }
func (s *Store) Summaries() repository.SummaryRepository          { return s.summaries }
func (s *Store) Preferences() repository.PreferenceRepository     { return s.preferences }
func (s *Store) Detections() repository.DetectionRepository       { return s.detections }
func (s *Store) Profiles() repository.ProfileRepository           { return s.profiles }
func (s *Store) Relationships() repository.RelationshipRepository { return s.relationships }
func (s *Store) Notifications() repository.NotificationRepository { return s.notifications }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
