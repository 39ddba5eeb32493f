package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *SessionStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	query := `
		INSERT INTO sessions (id, email, username, role, token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.conn().ExecContext(ctx, query,
		sess.ID,
		sess.User.Email,
		sess.User.Username,
		string(sess.User.Role),
		sess.Token,
		sess.CreatedAt.UTC(),
		sess.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, email, username, role, token, created_at, expires_at
		FROM sessions
		WHERE id = $1`

	var (
		sess models.Session
		role string
	)
	err := s.conn().QueryRowContext(ctx, query, id).Scan(
		&sess.ID,
		&sess.User.Email,
		&sess.User.Username,
		&role,
		&sess.Token,
		&sess.CreatedAt,
		&sess.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	sess.User.Role = models.Role(role)
	sess.User = auth.WithDerivedPermissions(sess.User)
	sess.User.IsActive = true
	return &sess, nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.conn().ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("removed expired sessions", "count", n)
	}
	return n, nil
}
