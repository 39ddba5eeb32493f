package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/multicloud-portal/portal/internal/models"
)

// LogStore implements store.LogStore using PostgreSQL.
type LogStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *LogStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Append stores entries, skipping ones already archived.
func (s *LogStore) Append(ctx context.Context, entries []models.LogEntry) error {
	query := `
		INSERT INTO deployment_logs (deployment_id, seq, ts, level, phase, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (deployment_id, seq) DO NOTHING`

	for _, e := range entries {
		var details []byte
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("marshaling log details: %w", err)
			}
			details = b
		}

		_, err := s.conn().ExecContext(ctx, query,
			e.DeploymentID,
			e.Seq,
			e.Timestamp.UTC(),
			string(e.Level),
			string(e.Phase),
			e.Message,
			details,
		)
		if err != nil {
			return fmt.Errorf("inserting log entry: %w", err)
		}
	}
	return nil
}

// List retrieves log entries for a deployment in arrival order.
func (s *LogStore) List(ctx context.Context, deploymentID string, limit int) ([]models.LogEntry, error) {
	query := `
		SELECT deployment_id, seq, ts, level, phase, message, details
		FROM deployment_logs
		WHERE deployment_id = $1
		ORDER BY seq ASC`
	args := []any{deploymentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var (
			e            models.LogEntry
			level, phase string
			details      []byte
		)
		if err := rows.Scan(&e.DeploymentID, &e.Seq, &e.Timestamp, &level, &phase, &e.Message, &details); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		e.Level = models.LogLevel(level)
		e.Phase = models.LogPhase(phase)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				s.logger.Warn("dropping unreadable log details", "deployment_id", e.DeploymentID, "seq", e.Seq)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating logs: %w", err)
	}
	return entries, nil
}

// DeleteForDeployment removes all log entries for a deployment.
func (s *LogStore) DeleteForDeployment(ctx context.Context, deploymentID string) error {
	if _, err := s.conn().ExecContext(ctx, `DELETE FROM deployment_logs WHERE deployment_id = $1`, deploymentID); err != nil {
		return fmt.Errorf("deleting logs: %w", err)
	}
	return nil
}
