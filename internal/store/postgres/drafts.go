package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

// DraftStore implements store.DraftStore using PostgreSQL.
type DraftStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *DraftStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Save upserts a draft.
func (s *DraftStore) Save(ctx context.Context, d *models.Draft) error {
	values, err := json.Marshal(d.Values)
	if err != nil {
		return fmt.Errorf("marshaling draft values: %w", err)
	}
	if d.SavedAt.IsZero() {
		d.SavedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO drafts (user_email, template_name, form_values, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_email, template_name)
		DO UPDATE SET form_values = EXCLUDED.form_values, saved_at = EXCLUDED.saved_at`

	if _, err := s.conn().ExecContext(ctx, query, d.UserEmail, d.TemplateName, values, d.SavedAt); err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}

// Get returns a draft.
func (s *DraftStore) Get(ctx context.Context, userEmail, templateName string) (*models.Draft, error) {
	query := `
		SELECT user_email, template_name, form_values, saved_at
		FROM drafts
		WHERE user_email = $1 AND template_name = $2`

	var (
		d      models.Draft
		values []byte
	)
	err := s.conn().QueryRowContext(ctx, query, userEmail, templateName).Scan(
		&d.UserEmail, &d.TemplateName, &values, &d.SavedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying draft: %w", err)
	}

	if err := json.Unmarshal(values, &d.Values); err != nil {
		return nil, fmt.Errorf("unmarshaling draft values: %w", err)
	}
	return &d, nil
}

// Delete removes a draft.
func (s *DraftStore) Delete(ctx context.Context, userEmail, templateName string) error {
	query := `DELETE FROM drafts WHERE user_email = $1 AND template_name = $2`
	if _, err := s.conn().ExecContext(ctx, query, userEmail, templateName); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}
