package sqlstore

import (
	"context"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// MessageRepository implements repository.MessageRepository
type MessageRepository struct {
	db *sqlx.DB
}

// Append stores a message and sets its sequence number
func (r *MessageRepository) Append(ctx context.Context, message *models.Message) error {
	query := r.db.Rebind(`
		INSERT INTO messages (session_id, user_id, speaker, text, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING seq
	`)
	return r.db.QueryRowxContext(ctx, query,
		message.SessionID, message.UserID, message.Speaker, message.Text, message.CreatedAt,
	).Scan(&message.Seq)
}

// ListRecentBySession returns the last limit messages of a session, oldest first
func (r *MessageRepository) ListRecentBySession(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	query := r.db.Rebind(`
		SELECT seq, session_id, user_id, speaker, text, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`)
	if err := r.db.SelectContext(ctx, &messages, query, sessionID, limit); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListByUserAfterSeq returns a user's messages with seq > afterSeq, oldest first
func (r *MessageRepository) ListByUserAfterSeq(ctx context.Context, userID string, afterSeq int64, limit int) ([]models.Message, error) {
	var messages []models.Message
	query := r.db.Rebind(`
		SELECT seq, session_id, user_id, speaker, text, created_at
		FROM messages
		WHERE user_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`)
	if err := r.db.SelectContext(ctx, &messages, query, userID, afterSeq, limit); err != nil {
		return nil, err
	}
	return messages, nil
}

// CountByUserAfterSeq counts a user's messages with seq > afterSeq
func (r *MessageRepository) CountByUserAfterSeq(ctx context.Context, userID string, afterSeq int64) (int, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM messages WHERE user_id = ? AND seq > ?`)
	err := r.db.GetContext(ctx, &count, query, userID, afterSeq)
	return count, err
}

// SummaryRepository implements repository.SummaryRepository
type SummaryRepository struct {
	db *sqlx.DB
}

// Create appends a summary
func (r *SummaryRepository) Create(ctx context.Context, summary models.MemorySummary) error {
	query := `
		INSERT INTO memory_summaries (id, user_id, summary_text, from_seq, to_seq, created_at)
		VALUES (:id, :user_id, :summary_text, :from_seq, :to_seq, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, summary)
	return err
}

// Latest returns the summary covering the highest sequence range
func (r *SummaryRepository) Latest(ctx context.Context, userID string) (*models.MemorySummary, error) {
	var summary models.MemorySummary
	query := r.db.Rebind(`
		SELECT id, user_id, summary_text, from_seq, to_seq, created_at
		FROM memory_summaries
		WHERE user_id = ?
		ORDER BY to_seq DESC
		LIMIT 1
	`)
	if err := r.db.GetContext(ctx, &summary, query, userID); err != nil {
		return nil, notFound(err)
	}
	return &summary, nil
}

// ListByUser returns a user's summaries newest first
func (r *SummaryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.MemorySummary, error) {
	var summaries []models.MemorySummary
	query := r.db.Rebind(`
		SELECT id, user_id, summary_text, from_seq, to_seq, created_at
		FROM memory_summaries
		WHERE user_id = ?
		ORDER BY to_seq DESC
		LIMIT ?
	`)
	if err := r.db.SelectContext(ctx, &summaries, query, userID, limit); err != nil {
		return nil, err
	}
	return summaries, nil
}

// PreferenceRepository implements repository.PreferenceRepository
type PreferenceRepository struct {
	db *sqlx.DB
}

// Upsert overwrites the preference for (user_id, preference_type)
func (r *PreferenceRepository) Upsert(ctx context.Context, pref models.PreferenceRecord) error {
	query := `
		INSERT INTO preferences (user_id, preference_type, preference_value, updated_at)
		VALUES (:user_id, :preference_type, :preference_value, :updated_at)
		ON CONFLICT (user_id, preference_type) DO UPDATE SET
			preference_value = EXCLUDED.preference_value,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.NamedExecContext(ctx, query, pref)
	return err
}

// ListByUser returns every preference of a user, most recently updated first
func (r *PreferenceRepository) ListByUser(ctx context.Context, userID string) ([]models.PreferenceRecord, error) {
	var prefs []models.PreferenceRecord
	query := r.db.Rebind(`
		SELECT user_id, preference_type, preference_value, updated_at
		FROM preferences
		WHERE user_id = ?
		ORDER BY updated_at DESC, preference_type ASC
	`)
	if err := r.db.SelectContext(ctx, &prefs, query, userID); err != nil {
		return nil, err
	}
	return prefs, nil
}
