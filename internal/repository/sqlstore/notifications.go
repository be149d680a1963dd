package sqlstore

import (
	"context"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// RelationshipRepository implements repository.RelationshipRepository
type RelationshipRepository struct {
	db *sqlx.DB
}

// Create links an elder to a caregiver; relinking updates the label
func (r *RelationshipRepository) Create(ctx context.Context, rel models.Relationship) error {
	query := `
		INSERT INTO relationships (elder_user_id, child_user_id, relationship, created_at)
		VALUES (:elder_user_id, :child_user_id, :relationship, :created_at)
		ON CONFLICT (elder_user_id, child_user_id) DO UPDATE SET
			relationship = EXCLUDED.relationship
	`
	_, err := r.db.NamedExecContext(ctx, query, rel)
	return err
}

// ListCaregivers returns everyone watching over an elder
func (r *RelationshipRepository) ListCaregivers(ctx context.Context, elderUserID string) ([]models.Relationship, error) {
	var rels []models.Relationship
	query := r.db.Rebind(`
		SELECT elder_user_id, child_user_id, relationship, created_at
		FROM relationships
		WHERE elder_user_id = ?
		ORDER BY created_at
	`)
	if err := r.db.SelectContext(ctx, &rels, query, elderUserID); err != nil {
		return nil, err
	}
	return rels, nil
}

// ListElders returns every elder a caregiver watches over
func (r *RelationshipRepository) ListElders(ctx context.Context, childUserID string) ([]models.Relationship, error) {
	var rels []models.Relationship
	query := r.db.Rebind(`
		SELECT elder_user_id, child_user_id, relationship, created_at
		FROM relationships
		WHERE child_user_id = ?
		ORDER BY created_at
	`)
	if err := r.db.SelectContext(ctx, &rels, query, childUserID); err != nil {
		return nil, err
	}
	return rels, nil
}

// Delete unlinks an elder and a caregiver
func (r *RelationshipRepository) Delete(ctx context.Context, elderUserID, childUserID string) error {
	query := r.db.Rebind(`DELETE FROM relationships WHERE elder_user_id = ? AND child_user_id = ?`)
	res, err := r.db.ExecContext(ctx, query, elderUserID, childUserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// NotificationRepository implements repository.NotificationRepository
type NotificationRepository struct {
	db *sqlx.DB
}

// Create stores a notification
func (r *NotificationRepository) Create(ctx context.Context, n models.RiskNotification) error {
	query := `
		INSERT INTO risk_notifications (id, elder_user_id, child_user_id, content_type, category,
			risk_level, platform, suggestion, status, detected_at)
		VALUES (:id, :elder_user_id, :child_user_id, :content_type, :category,
			:risk_level, :platform, :suggestion, :status, :detected_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, n)
	return err
}

// Get returns a notification by ID
func (r *NotificationRepository) Get(ctx context.Context, id string) (*models.RiskNotification, error) {
	var n models.RiskNotification
	query := r.db.Rebind(`
		SELECT id, elder_user_id, child_user_id, content_type, category,
			risk_level, platform, suggestion, status, detected_at
		FROM risk_notifications
		WHERE id = ?
	`)
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// ListByChild returns a caregiver's notifications newest first. An empty
// status matches every status.
func (r *NotificationRepository) ListByChild(ctx context.Context, childUserID string, status models.NotificationStatus, limit int) ([]models.RiskNotification, error) {
	var list []models.RiskNotification
	query := `
		SELECT id, elder_user_id, child_user_id, content_type, category,
			risk_level, platform, suggestion, status, detected_at
		FROM risk_notifications
		WHERE child_user_id = ?`
	args := []interface{}{childUserID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, limit)

	if err := r.db.SelectContext(ctx, &list, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateStatus moves a notification to a new status
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, status models.NotificationStatus) error {
	query := r.db.Rebind(`UPDATE risk_notifications SET status = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}
