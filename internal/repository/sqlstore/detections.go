package sqlstore

import (
	"context"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// DetectionRepository implements repository.DetectionRepository
type DetectionRepository struct {
	db *sqlx.DB
}

// GetResult returns the stored result for a fingerprint, live or not
func (r *DetectionRepository) GetResult(ctx context.Context, fingerprint string) (*models.DetectionResult, error) {
	var result models.DetectionResult
	query := r.db.Rebind(`
		SELECT fingerprint, detection_type, verdict, prompt_version, created_at, expires_at
		FROM detection_results
		WHERE fingerprint = ?
	`)
	if err := r.db.GetContext(ctx, &result, query, fingerprint); err != nil {
		return nil, notFound(err)
	}
	return &result, nil
}

// PutResult stores a result, replacing any expired predecessor
func (r *DetectionRepository) PutResult(ctx context.Context, result models.DetectionResult) error {
	query := `
		INSERT INTO detection_results (fingerprint, detection_type, verdict, prompt_version, created_at, expires_at)
		VALUES (:fingerprint, :detection_type, :verdict, :prompt_version, :created_at, :expires_at)
		ON CONFLICT (fingerprint) DO UPDATE SET
			verdict = EXCLUDED.verdict,
			prompt_version = EXCLUDED.prompt_version,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.NamedExecContext(ctx, query, result)
	return err
}

// ExpireResults expires every live result of a detection type
func (r *DetectionRepository) ExpireResults(ctx context.Context, detectionType models.DetectionType, at time.Time) (int64, error) {
	query := r.db.Rebind(`
		UPDATE detection_results SET expires_at = ?
		WHERE detection_type = ? AND expires_at > ?
	`)
	res, err := r.db.ExecContext(ctx, query, at, detectionType, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes results that expired before the given time and are
// no longer referenced by the detection log.
func (r *DetectionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(`
		DELETE FROM detection_results
		WHERE expires_at < ?
		AND fingerprint NOT IN (SELECT fingerprint FROM detection_logs)
	`)
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendLog appends a detection log entry and sets its ID
func (r *DetectionRepository) AppendLog(ctx context.Context, entry *models.DetectionLogEntry) error {
	query := r.db.Rebind(`
		INSERT INTO detection_logs (user_id, detection_type, category, fingerprint, detected, risk_level, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	return r.db.QueryRowxContext(ctx, query,
		entry.UserID, entry.DetectionType, entry.Category, entry.Fingerprint,
		entry.Detected, entry.RiskLevel, entry.Outcome, entry.CreatedAt,
	).Scan(&entry.ID)
}

// RecentLogs returns a user's completed entries newest first
func (r *DetectionRepository) RecentLogs(ctx context.Context, userID string, detectionType models.DetectionType, limit int) ([]models.DetectionLogEntry, error) {
	var entries []models.DetectionLogEntry
	query := `
		SELECT id, user_id, detection_type, category, fingerprint, detected, risk_level, outcome, created_at
		FROM detection_logs
		WHERE user_id = ? AND outcome = ?`
	args := []interface{}{userID, models.OutcomeOK}
	if detectionType != "" {
		query += ` AND detection_type = ?`
		args = append(args, detectionType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return entries, nil
}
