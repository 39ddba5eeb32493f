package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

// DeploymentStore implements store.DeploymentStore using PostgreSQL.
type DeploymentStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *DeploymentStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const deploymentColumns = `id, template_name, provider_type, cloud_provider, resource_group, location,
	parameters, tags, status, task_id, outputs, error_message, created_at, started_at, completed_at`

// Upsert records the latest known state of a deployment. Rows already in a
// terminal status are left untouched.
func (s *DeploymentStore) Upsert(ctx context.Context, d *models.Deployment) error {
	params, err := marshalNullable(d.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling parameters: %w", err)
	}
	outputs, err := marshalNullable(d.Outputs)
	if err != nil {
		return fmt.Errorf("marshaling outputs: %w", err)
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO deployments (` + deploymentColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			template_name = EXCLUDED.template_name,
			provider_type = EXCLUDED.provider_type,
			cloud_provider = EXCLUDED.cloud_provider,
			resource_group = EXCLUDED.resource_group,
			location = EXCLUDED.location,
			parameters = COALESCE(EXCLUDED.parameters, deployments.parameters),
			tags = EXCLUDED.tags,
			status = EXCLUDED.status,
			task_id = COALESCE(NULLIF(EXCLUDED.task_id, ''), deployments.task_id),
			outputs = COALESCE(EXCLUDED.outputs, deployments.outputs),
			error_message = EXCLUDED.error_message,
			created_at = COALESCE(deployments.created_at, EXCLUDED.created_at),
			started_at = COALESCE(EXCLUDED.started_at, deployments.started_at),
			completed_at = COALESCE(EXCLUDED.completed_at, deployments.completed_at),
			updated_at = EXCLUDED.updated_at
		WHERE deployments.status NOT IN ('completed', 'failed')`

	_, err = s.conn().ExecContext(ctx, query,
		d.ID,
		d.TemplateName,
		d.ProviderType,
		d.CloudProvider,
		d.ResourceGroup,
		d.Location,
		params,
		pq.Array(tags),
		string(d.Status),
		d.TaskID,
		outputs,
		d.ErrorMessage,
		d.CreatedAt,
		d.StartedAt,
		d.CompletedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting deployment: %w", err)
	}
	return nil
}

// Get retrieves a deployment by ID.
func (s *DeploymentStore) Get(ctx context.Context, id string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`

	d, err := scanDeployment(s.conn().QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying deployment: %w", err)
	}
	return d, nil
}

// List returns deployments matching filter, newest first.
func (s *DeploymentStore) List(ctx context.Context, filter models.DeploymentFilter) ([]*models.Deployment, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProviderType != "" {
		args = append(args, filter.ProviderType)
		where = append(where, fmt.Sprintf("provider_type = $%d", len(args)))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		where = append(where, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}

	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC NULLS LAST`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deployments: %w", err)
	}
	defer rows.Close()

	var out []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployments: %w", err)
	}
	return out, nil
}

// Delete removes the mirror entry.
func (s *DeploymentStore) Delete(ctx context.Context, id string) error {
	if _, err := s.conn().ExecContext(ctx, `DELETE FROM deployments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting deployment: %w", err)
	}
	return nil
}

func scanDeployment(row rowScanner) (*models.Deployment, error) {
	var (
		d                               models.Deployment
		status                          string
		params, outputs                 []byte
		createdAt, startedAt, completed sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.TemplateName,
		&d.ProviderType,
		&d.CloudProvider,
		&d.ResourceGroup,
		&d.Location,
		&params,
		pq.Array(&d.Tags),
		&status,
		&d.TaskID,
		&outputs,
		&d.ErrorMessage,
		&createdAt,
		&startedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	d.Status = models.DeploymentStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &d.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshaling parameters: %w", err)
		}
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &d.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshaling outputs: %w", err)
		}
	}
	d.CreatedAt = nullTimePtr(createdAt)
	d.StartedAt = nullTimePtr(startedAt)
	d.CompletedAt = nullTimePtr(completed)
	return &d, nil
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
