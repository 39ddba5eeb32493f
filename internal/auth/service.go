// Package auth provides portal sessions and role-based authorization.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

// Common errors returned by the auth service.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrMissingClaims    = errors.New("missing required claims")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrSessionNotFound  = errors.New("session not found")
)

// Claims represents the JWT claims structure.
type Claims struct {
	SessionID string    `json:"sid"`
	Email     string    `json:"email"`
	Exp       time.Time `json:"exp"`
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret   []byte
	TokenExpiry time.Duration
}

// Service issues portal session tokens. The deployment API's own bearer
// token stays in the session store and is attached to upstream calls.
type Service struct {
	jwtSecret   []byte
	tokenExpiry time.Duration
	sessions    store.SessionStore
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new authentication service.
func NewService(cfg *Config, sessions store.SessionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jwtSecret:   cfg.JWTSecret,
		tokenExpiry: cfg.TokenExpiry,
		sessions:    sessions,
		logger:      logger,
		now:         time.Now,
	}
}

// StartSession stores a session for an authenticated user and returns a
// signed token referencing it.
func (s *Service) StartSession(ctx context.Context, user models.User, upstreamToken string) (string, *models.Session, error) {
	if user.Email == "" || upstreamToken == "" {
		return "", nil, ErrMissingClaims
	}

	now := s.now()
	session := &models.Session{
		ID:        uuid.NewString(),
		User:      WithDerivedPermissions(user),
		Token:     upstreamToken,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenExpiry),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("storing session: %w", err)
	}

	token, err := s.GenerateToken(session.ID, user.Email)
	if err != nil {
		_ = s.sessions.Delete(ctx, session.ID)
		return "", nil, err
	}
	return token, session, nil
}

// Resolve validates a portal token and loads its session.
func (s *Service) Resolve(ctx context.Context, tokenString string) (*models.Session, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session.Expired(s.now()) {
		_ = s.sessions.Delete(ctx, session.ID)
		return nil, ErrExpiredToken
	}
	return session, nil
}

// EndSession deletes a session. Used for logout and when the deployment API
// rejects the session's bearer token.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// GenerateToken creates a new JWT for the given session.
func (s *Service) GenerateToken(sessionID, email string) (string, error) {
	if sessionID == "" {
		return "", ErrMissingClaims
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":   sessionID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenExpiry).Unix(),
		"nbf":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sid, ok := mapClaims["sub"].(string)
	if !ok || sid == "" {
		return nil, ErrMissingClaims
	}
	email, _ := mapClaims["email"].(string)

	expFloat, ok := mapClaims["exp"].(float64)
	if !ok {
		return nil, ErrMissingClaims
	}

	return &Claims{
		SessionID: sid,
		Email:     email,
		Exp:       time.Unix(int64(expFloat), 0),
	}, nil
}

// ExtractBearerToken extracts the token from a Bearer authorization header.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
