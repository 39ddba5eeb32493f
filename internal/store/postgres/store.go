// Package postgres provides PostgreSQL implementation of the store interfaces.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/multicloud-portal/portal/internal/store"
)

//go:embed schema.sql
var schema string

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	sessions    *SessionStore
	drafts      *DraftStore
	credentials *CredentialStore
	logs        *LogStore
	deployments *DeploymentStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewPostgresStore connects, verifies the connection and applies the schema.
func NewPostgresStore(ctx context.Context, cfg *Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := newStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

func newStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:          db,
		logger:      logger,
		sessions:    &SessionStore{db: db, logger: logger},
		drafts:      &DraftStore{db: db, logger: logger},
		credentials: &CredentialStore{db: db, logger: logger},
		logs:        &LogStore{db: db, logger: logger},
		deployments: &DeploymentStore{db: db, logger: logger},
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Sessions() store.SessionStore       { return s.sessions }
func (s *PostgresStore) Drafts() store.DraftStore           { return s.drafts }
func (s *PostgresStore) Credentials() store.CredentialStore { return s.credentials }
func (s *PostgresStore) Logs() store.LogStore               { return s.logs }
func (s *PostgresStore) Deployments() store.DeploymentStore { return s.deployments }

// WithTx executes the given function within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&txStore{tx: tx, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// txStore wraps a transaction and implements the Store interface.
type txStore struct {
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *txStore) Sessions() store.SessionStore {
	return &SessionStore{tx: s.tx, logger: s.logger}
}

func (s *txStore) Drafts() store.DraftStore {
	return &DraftStore{tx: s.tx, logger: s.logger}
}

func (s *txStore) Credentials() store.CredentialStore {
	return &CredentialStore{tx: s.tx, logger: s.logger}
}

func (s *txStore) Logs() store.LogStore {
	return &LogStore{tx: s.tx, logger: s.logger}
}

func (s *txStore) Deployments() store.DeploymentStore {
	return &DeploymentStore{tx: s.tx, logger: s.logger}
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already in a transaction
	return fn(s)
}

func (s *txStore) Ping(ctx context.Context) error { return nil }

func (s *txStore) Close() error { return nil }

// queryable is an interface that both *sql.DB and *sql.Tx implement.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
