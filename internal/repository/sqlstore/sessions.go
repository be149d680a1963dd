package sqlstore

import (
	"context"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// SessionRepository implements repository.SessionRepository
type SessionRepository struct {
	db *sqlx.DB
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, session models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, created_at, last_active_at, retired_at)
		VALUES (:id, :user_id, :created_at, :last_active_at, :retired_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, session)
	return err
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	query := r.db.Rebind(`
		SELECT id, user_id, created_at, last_active_at, retired_at
		FROM sessions
		WHERE id = ?
	`)
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

// LatestActive returns the user's most recently active unretired session
func (r *SessionRepository) LatestActive(ctx context.Context, userID string) (*models.Session, error) {
	var session models.Session
	query := r.db.Rebind(`
		SELECT id, user_id, created_at, last_active_at, retired_at
		FROM sessions
		WHERE user_id = ? AND retired_at IS NULL
		ORDER BY last_active_at DESC
		LIMIT 1
	`)
	if err := r.db.GetContext(ctx, &session, query, userID); err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

// Touch records activity on a session
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := r.db.Rebind(`UPDATE sessions SET last_active_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RetireIdle retires sessions idle since before cutoff
func (r *SessionRepository) RetireIdle(ctx context.Context, cutoff, at time.Time) (int64, error) {
	query := r.db.Rebind(`
		UPDATE sessions SET retired_at = ?
		WHERE retired_at IS NULL AND last_active_at < ?
	`)
	res, err := r.db.ExecContext(ctx, query, at, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
