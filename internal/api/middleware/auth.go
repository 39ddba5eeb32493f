package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/models"
)

type contextKey string

// SessionKey is the context key for the authenticated session.
const SessionKey contextKey = "session"

// GetSession returns the authenticated session, or nil outside the /v1 routes.
func GetSession(ctx context.Context) *models.Session {
	if v, ok := ctx.Value(SessionKey).(*models.Session); ok {
		return v
	}
	return nil
}

// GetUserEmail returns the authenticated user's email.
func GetUserEmail(ctx context.Context) string {
	if s := GetSession(ctx); s != nil {
		return s.User.Email
	}
	return ""
}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

// AuthMiddleware resolves portal session tokens.
type AuthMiddleware struct {
	authService *auth.Service
	logger      *slog.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(authService *auth.Service, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		authService: authService,
		logger:      logger,
	}
}

// Authenticate validates the bearer token and loads its session. Browsers
// cannot set headers on EventSource or websocket requests, so the token is
// also accepted as the access_token query parameter.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, r, apierrors.NewUnauthorizedError("Missing authentication"))
			return
		}

		session, err := m.authService.Resolve(r.Context(), token)
		if err != nil {
			m.logger.Debug("session resolution failed", "error", err)
			switch {
			case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrSessionNotFound):
				writeError(w, r, apierrors.NewSessionExpiredError())
			default:
				writeError(w, r, apierrors.NewUnauthorizedError("Invalid token"))
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// RequirePermission rejects sessions whose role lacks perm.
func RequirePermission(perm models.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSession(r.Context())
			if session == nil {
				writeError(w, r, apierrors.NewUnauthorizedError("Authentication required"))
				return
			}
			if err := auth.CheckRolePermission(session.User.Role, perm); err != nil {
				writeError(w, r, apierrors.NewForbiddenError("Missing permission: "+string(perm)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err *apierrors.APIError) {
	apierrors.WriteErrorWithRequestID(w, err, middleware.GetReqID(r.Context()))
}
