// Package handlers provides HTTP handlers for the gateway API.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/upstream"
)

// AuthHandler handles login, registration and session endpoints.
type AuthHandler struct {
	gateway     *Gateway
	authService *auth.Service
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(gw *Gateway, authSvc *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		gateway:     gw,
		authService: authSvc,
		logger:      logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// Login authenticates against the deployment API and opens a gateway session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		WriteBadRequest(w, r, "Email and password are required")
		return
	}

	result, err := h.gateway.Anonymous().Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if upstream.IsUnauthorized(err) {
			WriteError(w, r, apierrors.NewUnauthorizedError("Invalid email or password"))
			return
		}
		h.gateway.Fail(w, r, err)
		return
	}

	user := result.User
	if user.Email == "" {
		user.Email = req.Email
	}
	h.openSession(w, r, user, result.AccessToken, http.StatusOK)
}

func (h *AuthHandler) openSession(w http.ResponseWriter, r *http.Request, user models.User, upstreamToken string, status int) {
	token, session, err := h.authService.StartSession(r.Context(), user, upstreamToken)
	if err != nil {
		h.logger.Error("failed to start session", "user", user.Email, "error", err)
		WriteInternalError(w, r, "Failed to start session")
		return
	}
	h.logger.Info("user logged in", "user", session.User.Email, "role", session.User.Role)
	WriteJSON(w, status, sessionResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		User:      session.User,
	})
}

// Register creates an account and logs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req upstream.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	var verrs apierrors.ValidationErrors
	if req.Email == "" {
		verrs.Add("email", "email is required")
	}
	if len(req.Password) < 8 {
		verrs.Add("password", "password must be at least 8 characters")
	}
	if req.Username == "" {
		req.Username = strings.SplitN(req.Email, "@", 2)[0]
	}
	// Registration never grants more than the default role.
	req.Role = ""
	if verrs.HasErrors() {
		WriteError(w, r, verrs.ToAPIError())
		return
	}

	client := h.gateway.Anonymous()
	if _, err := client.Register(r.Context(), req); err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	result, err := client.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	h.openSession(w, r, result.User, result.AccessToken, http.StatusCreated)
}

// Logout ends the caller's session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if err := h.authService.EndSession(r.Context(), session.ID); err != nil {
		h.logger.Error("failed to end session", "error", err)
		WriteInternalError(w, r, "Failed to log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's profile. The deployment API's view is preferred;
// the profile stored at login is used when it cannot be reached.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	user, err := h.gateway.ClientFor(r).Me(r.Context())
	if err != nil {
		if upstream.IsUnauthorized(err) {
			h.gateway.Fail(w, r, err)
			return
		}
		h.logger.Debug("profile refresh failed, using session profile", "error", err)
		WriteJSON(w, http.StatusOK, session.User)
		return
	}
	WriteJSON(w, http.StatusOK, auth.WithDerivedPermissions(*user))
}
