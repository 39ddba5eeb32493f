// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/multicloud-portal/portal/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionStore persists portal sessions.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, s *models.Session) error
	// Get retrieves a session by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions past their expiry and returns how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// DraftStore persists unsent form state keyed by user and template.
type DraftStore interface {
	// Save upserts a draft. Last write wins.
	Save(ctx context.Context, d *models.Draft) error
	// Get returns the draft for a template, or ErrNotFound.
	Get(ctx context.Context, userEmail, templateName string) (*models.Draft, error)
	// Delete removes a draft.
	Delete(ctx context.Context, userEmail, templateName string) error
}

// CredentialStore persists custom cloud credentials. Secrets are stored
// exactly as given; callers encrypt them first.
type CredentialStore interface {
	// Save upserts the credential for a user and cloud.
	Save(ctx context.Context, c *models.Credential) error
	// Get returns the credential for a cloud, or ErrNotFound.
	Get(ctx context.Context, userEmail string, cloud models.Cloud) (*models.Credential, error)
	// List returns all credentials of a user.
	List(ctx context.Context, userEmail string) ([]*models.Credential, error)
	// Delete removes the credential for a cloud.
	Delete(ctx context.Context, userEmail string, cloud models.Cloud) error
}

// LogStore archives deployment log entries as they are relayed.
type LogStore interface {
	// Append stores entries. Entries already stored (same deployment and seq) are skipped.
	Append(ctx context.Context, entries []models.LogEntry) error
	// List returns stored entries for a deployment in seq order.
	List(ctx context.Context, deploymentID string, limit int) ([]models.LogEntry, error)
	// DeleteForDeployment removes all entries for a deployment.
	DeleteForDeployment(ctx context.Context, deploymentID string) error
}

// DeploymentStore mirrors the last known state of deployments seen by the portal.
type DeploymentStore interface {
	// Upsert records the latest state. A terminal status is never overwritten.
	Upsert(ctx context.Context, d *models.Deployment) error
	// Get returns the mirrored deployment, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Deployment, error)
	// List returns mirrored deployments, newest first.
	List(ctx context.Context, filter models.DeploymentFilter) ([]*models.Deployment, error)
	// Delete removes the mirror entry.
	Delete(ctx context.Context, id string) error
}

// Store is the main interface for database operations.
type Store interface {
	Sessions() SessionStore
	Drafts() DraftStore
	Credentials() CredentialStore
	Logs() LogStore
	Deployments() DeploymentStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
