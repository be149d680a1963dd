package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// ProfileRepository implements repository.ProfileRepository
type ProfileRepository struct {
	db *sqlx.DB
}

type profileRow struct {
	ServiceType         string    `db:"service_type"`
	ParentScores        string    `db:"parent_scores"`
	ChildScores         string    `db:"child_scores"`
	CombinedScores      string    `db:"combined_scores"`
	Tiers               string    `db:"tiers"`
	ActivePrompt        string    `db:"active_prompt"`
	ActivePromptVersion int       `db:"active_prompt_version"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (row *profileRow) toModel() (*models.ConfigProfile, error) {
	p := &models.ConfigProfile{
		ServiceType:         models.DetectionType(row.ServiceType),
		ActivePrompt:        row.ActivePrompt,
		ActivePromptVersion: row.ActivePromptVersion,
		UpdatedAt:           row.UpdatedAt,
	}
	for _, f := range []struct {
		raw string
		dst interface{}
	}{
		{row.ParentScores, &p.ParentScores},
		{row.ChildScores, &p.ChildScores},
		{row.CombinedScores, &p.CombinedScores},
		{row.Tiers, &p.Tiers},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode profile %s: %w", row.ServiceType, err)
		}
	}
	return p, nil
}

func fromModel(p *models.ConfigProfile) (*profileRow, error) {
	row := &profileRow{
		ServiceType:         string(p.ServiceType),
		ActivePrompt:        p.ActivePrompt,
		ActivePromptVersion: p.ActivePromptVersion,
		UpdatedAt:           p.UpdatedAt,
	}
	for _, f := range []struct {
		src interface{}
		dst *string
	}{
		{p.ParentScores, &row.ParentScores},
		{p.ChildScores, &row.ChildScores},
		{p.CombinedScores, &row.CombinedScores},
		{p.Tiers, &row.Tiers},
	} {
		b, err := json.Marshal(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = string(b)
	}
	return row, nil
}

// Get returns the persisted profile of a service type
func (r *ProfileRepository) Get(ctx context.Context, serviceType models.DetectionType) (*models.ConfigProfile, error) {
	var row profileRow
	query := r.db.Rebind(`
		SELECT service_type, parent_scores, child_scores, combined_scores, tiers,
			active_prompt, active_prompt_version, updated_at
		FROM config_profiles
		WHERE service_type = ?
	`)
	if err := r.db.GetContext(ctx, &row, query, serviceType); err != nil {
		return nil, notFound(err)
	}
	return row.toModel()
}

// Save replaces the persisted profile of its service type
func (r *ProfileRepository) Save(ctx context.Context, profile *models.ConfigProfile) error {
	row, err := fromModel(profile)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO config_profiles (service_type, parent_scores, child_scores, combined_scores, tiers,
			active_prompt, active_prompt_version, updated_at)
		VALUES (:service_type, :parent_scores, :child_scores, :combined_scores, :tiers,
			:active_prompt, :active_prompt_version, :updated_at)
		ON CONFLICT (service_type) DO UPDATE SET
			parent_scores = EXCLUDED.parent_scores,
			child_scores = EXCLUDED.child_scores,
			combined_scores = EXCLUDED.combined_scores,
			tiers = EXCLUDED.tiers,
			active_prompt = EXCLUDED.active_prompt,
			active_prompt_version = EXCLUDED.active_prompt_version,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.NamedExecContext(ctx, query, row)
	return err
}

// List returns every persisted profile
func (r *ProfileRepository) List(ctx context.Context) ([]*models.ConfigProfile, error) {
	var rows []profileRow
	query := `
		SELECT service_type, parent_scores, child_scores, combined_scores, tiers,
			active_prompt, active_prompt_version, updated_at
		FROM config_profiles
		ORDER BY service_type
	`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	profiles := make([]*models.ConfigProfile, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
