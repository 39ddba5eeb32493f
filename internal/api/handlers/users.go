package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/upstream"
)

// UsersHandler handles account administration. All routes require manage_users.
type UsersHandler struct {
	gateway *Gateway
	logger  *slog.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(gw *Gateway, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{gateway: gw, logger: logger}
}

// List returns all accounts.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.gateway.ClientFor(r).ListUsers(r.Context())
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	for i := range users {
		users[i] = auth.WithDerivedPermissions(users[i])
	}
	WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Update changes an account's role, name, password or active flag.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	var req upstream.UserUpdate
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if req.Role != nil && !req.Role.IsValid() {
		WriteError(w, r, apierrors.NewValidationErrorWithFields(
			apierrors.AddFieldError("role", "role must be one of admin, user, viewer")))
		return
	}
	if req.Password != nil && len(*req.Password) < 8 {
		WriteError(w, r, apierrors.NewValidationErrorWithFields(
			apierrors.AddFieldError("password", "password must be at least 8 characters")))
		return
	}
	if email == middleware.GetUserEmail(r.Context()) && req.Role != nil && *req.Role != models.RoleAdmin {
		WriteError(w, r, apierrors.NewConflictError("Cannot remove your own admin role"))
		return
	}

	user, err := h.gateway.ClientFor(r).UpdateUser(r.Context(), email, req)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	h.logger.Info("user updated", "target", email, "by", middleware.GetUserEmail(r.Context()))
	WriteJSON(w, http.StatusOK, auth.WithDerivedPermissions(*user))
}

// Delete removes an account.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if email == middleware.GetUserEmail(r.Context()) {
		WriteError(w, r, apierrors.NewConflictError("Cannot delete your own account"))
		return
	}
	if err := h.gateway.ClientFor(r).DeleteUser(r.Context(), email); err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	h.logger.Info("user deleted", "target", email, "by", middleware.GetUserEmail(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
