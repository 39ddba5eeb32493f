package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
	"github.com/multicloud-portal/portal/internal/upstream"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteError writes a structured error carrying the request ID.
func WriteError(w http.ResponseWriter, r *http.Request, err *apierrors.APIError) {
	apierrors.WriteErrorWithRequestID(w, err, chimiddleware.GetReqID(r.Context()))
}

// WriteBadRequest writes a 400 validation error.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewValidationError(message))
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewNotFoundError(message))
}

// WriteInternalError writes a 500 response.
func WriteInternalError(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewInternalError(message))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// Gateway gives handlers a deployment API client authorized as the caller
// and maps deployment API failures onto gateway errors.
type Gateway struct {
	client *upstream.Client
	auth   *auth.Service
	logger *slog.Logger
}

// NewGateway creates a gateway around an unauthenticated base client.
func NewGateway(client *upstream.Client, authSvc *auth.Service, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{client: client, auth: authSvc, logger: logger}
}

// ClientFor returns a client carrying the session's deployment API token.
func (g *Gateway) ClientFor(r *http.Request) *upstream.Client {
	if s := middleware.GetSession(r.Context()); s != nil {
		return g.client.WithToken(s.Token)
	}
	return g.client
}

// Anonymous returns the client without credentials, for login and registration.
func (g *Gateway) Anonymous() *upstream.Client {
	return g.client
}

// ExpireSession ends the caller's session. Called when the deployment API
// no longer accepts the session's token.
func (g *Gateway) ExpireSession(ctx context.Context, session *models.Session) {
	if session == nil || g.auth == nil {
		return
	}
	if err := g.auth.EndSession(context.WithoutCancel(ctx), session.ID); err != nil {
		g.logger.Warn("failed to end expired session", "session_id", session.ID, "error", err)
		return
	}
	g.logger.Info("session expired by deployment API", "user", session.User.Email)
}

// Fail writes the gateway error for a failed deployment API call.
func (g *Gateway) Fail(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			WriteError(w, r, apierrors.NewUpstreamError("Deployment API timed out").WithStatus(http.StatusGatewayTimeout))
			return
		}
		g.logger.Error("deployment API unreachable", "path", r.URL.Path, "error", err)
		WriteError(w, r, apierrors.NewUpstreamError("Deployment API unavailable"))
		return
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized:
		g.ExpireSession(r.Context(), middleware.GetSession(r.Context()))
		WriteError(w, r, apierrors.NewSessionExpiredError())
	case apiErr.StatusCode == http.StatusNotFound:
		WriteError(w, r, apierrors.NewNotFoundError(messageOr(apiErr, "Not found")))
	case len(apiErr.Validation) > 0:
		var fields apierrors.ValidationErrors
		for _, fe := range apiErr.Validation {
			fields.Add(fe.Path(), fe.Msg)
		}
		WriteError(w, r, fields.ToAPIError().WithStatus(apiErr.StatusCode))
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		code := apierrors.CodeValidationError
		switch apiErr.StatusCode {
		case http.StatusForbidden:
			code = apierrors.CodeForbidden
		case http.StatusConflict:
			code = apierrors.CodeConflict
		}
		WriteError(w, r, apierrors.New(code, messageOr(apiErr, "Request rejected")).WithStatus(apiErr.StatusCode))
	default:
		g.logger.Warn("deployment API error", "path", r.URL.Path, "status", apiErr.StatusCode, "error", err)
		WriteError(w, r, apierrors.NewUpstreamError(messageOr(apiErr, "Deployment API error")))
	}
}

func messageOr(e *upstream.APIError, fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// storeFail maps store errors.
func storeFail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, r, what+" not found")
		return
	}
	logger.Error("store operation failed", "what", what, "error", err)
	WriteInternalError(w, r, "Failed to access "+what)
}
