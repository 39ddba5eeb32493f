package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

// CredentialStore implements store.CredentialStore using PostgreSQL.
type CredentialStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *CredentialStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const credentialColumns = `user_email, cloud, subscription_id, project_id, tenant_id, client_id, secret, updated_at`

// Save upserts a credential.
func (s *CredentialStore) Save(ctx context.Context, c *models.Credential) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_email, cloud) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			project_id = EXCLUDED.project_id,
			tenant_id = EXCLUDED.tenant_id,
			client_id = EXCLUDED.client_id,
			secret = EXCLUDED.secret,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn().ExecContext(ctx, query,
		c.UserEmail,
		string(c.Cloud),
		c.SubscriptionID,
		c.ProjectID,
		c.TenantID,
		c.ClientID,
		c.Secret,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// Get returns the credential for a cloud.
func (s *CredentialStore) Get(ctx context.Context, userEmail string, cloud models.Cloud) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE user_email = $1 AND cloud = $2`

	c, err := scanCredential(s.conn().QueryRowContext(ctx, query, userEmail, string(cloud)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return c, nil
}

// List returns all credentials of a user.
func (s *CredentialStore) List(ctx context.Context, userEmail string) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE user_email = $1 ORDER BY cloud`

	rows, err := s.conn().QueryContext(ctx, query, userEmail)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return out, nil
}

// Delete removes the credential for a cloud.
func (s *CredentialStore) Delete(ctx context.Context, userEmail string, cloud models.Cloud) error {
	query := `DELETE FROM credentials WHERE user_email = $1 AND cloud = $2`
	if _, err := s.conn().ExecContext(ctx, query, userEmail, string(cloud)); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var (
		c     models.Credential
		cloud string
	)
	err := row.Scan(
		&c.UserEmail,
		&cloud,
		&c.SubscriptionID,
		&c.ProjectID,
		&c.TenantID,
		&c.ClientID,
		&c.Secret,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Cloud = models.Cloud(cloud)
	return &c, nil
}
