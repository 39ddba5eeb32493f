package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/secrets"
	"github.com/multicloud-portal/portal/internal/store"
)

// SettingsHandler serves per-user state kept by the gateway: form drafts and
// custom cloud credentials.
type SettingsHandler struct {
	store      store.Store
	cipher     *secrets.Cipher
	autosavers *forms.Autosavers
	logger     *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(st store.Store, cipher *secrets.Cipher, autosavers *forms.Autosavers, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:      st,
		cipher:     cipher,
		autosavers: autosavers,
		logger:     logger,
	}
}

// GetDraft returns the caller's draft for a template.
func (h *SettingsHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.store.Drafts().Get(r.Context(), middleware.GetUserEmail(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		storeFail(w, r, h.logger, "draft", err)
		return
	}
	WriteJSON(w, http.StatusOK, draft)
}

// PutDraft saves the caller's draft immediately.
func (h *SettingsHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Values map[string]string `json:"values"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	email, name := middleware.GetUserEmail(r.Context()), chi.URLParam(r, "name")

	// A pending autosave would overwrite this explicit save with older values.
	if h.autosavers != nil {
		h.autosavers.Discard(email, name)
	}
	draft := &models.Draft{
		UserEmail:    email,
		TemplateName: name,
		Values:       req.Values,
		SavedAt:      time.Now().UTC(),
	}
	if draft.Values == nil {
		draft.Values = map[string]string{}
	}
	if err := h.store.Drafts().Save(r.Context(), draft); err != nil {
		storeFail(w, r, h.logger, "draft", err)
		return
	}
	WriteJSON(w, http.StatusOK, draft)
}

// DeleteDraft clears the caller's draft and any pending autosave.
func (h *SettingsHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	email, name := middleware.GetUserEmail(r.Context()), chi.URLParam(r, "name")
	if h.autosavers != nil {
		h.autosavers.Discard(email, name)
	}
	if err := h.store.Drafts().Delete(r.Context(), email, name); err != nil {
		storeFail(w, r, h.logger, "draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCredentials returns the caller's custom credentials with secrets redacted.
func (h *SettingsHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.store.Credentials().List(r.Context(), middleware.GetUserEmail(r.Context()))
	if err != nil {
		storeFail(w, r, h.logger, "credentials", err)
		return
	}
	out := make([]models.Credential, len(creds))
	for i, c := range creds {
		out[i] = c.Redacted()
	}
	WriteJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

func parseCloud(s string) (models.Cloud, bool) {
	switch c := models.Cloud(strings.ToLower(s)); c {
	case models.CloudAzure, models.CloudGCP, models.CloudAWS:
		return c, true
	}
	return "", false
}

// PutCredential stores the caller's custom credential for a cloud. The
// secret is encrypted before it reaches the store. An empty secret keeps
// the one already stored.
func (h *SettingsHandler) PutCredential(w http.ResponseWriter, r *http.Request) {
	cloud, ok := parseCloud(chi.URLParam(r, "cloud"))
	if !ok {
		WriteNotFound(w, r, "Unknown cloud")
		return
	}

	var cred models.Credential
	if err := decodeBody(r, &cred); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	email := middleware.GetUserEmail(r.Context())
	cred.UserEmail = email
	cred.Cloud = cloud
	cred.UpdatedAt = time.Now().UTC()

	if cloud == models.CloudGCP && cred.ProjectID == "" && cred.SubscriptionID != "" {
		cred.ProjectID = cred.SubscriptionID
	}
	if cred.SubscriptionID == "" && cred.ProjectID == "" {
		WriteError(w, r, apierrors.NewValidationErrorWithFields(
			apierrors.AddFieldError("subscription_id", "subscription or project ID is required")))
		return
	}

	if cred.Secret == "" || cred.Secret == "********" {
		cred.Secret = ""
		if prev, err := h.store.Credentials().Get(r.Context(), email, cloud); err == nil {
			cred.Secret = prev.Secret
		}
	}
	if h.cipher == nil && cred.Secret != "" && !secrets.IsSealed(cred.Secret) {
		WriteInternalError(w, r, "Credential encryption is not configured")
		return
	}
	if h.cipher != nil {
		sealed, err := h.cipher.SealCredential(cred)
		if err != nil {
			h.logger.Error("failed to encrypt credential", "cloud", cloud, "error", err)
			WriteInternalError(w, r, "Failed to encrypt credential")
			return
		}
		cred = sealed
	}

	if err := h.store.Credentials().Save(r.Context(), &cred); err != nil {
		storeFail(w, r, h.logger, "credential", err)
		return
	}
	h.logger.Info("custom credential saved", "user", email, "cloud", cloud)
	WriteJSON(w, http.StatusOK, cred.Redacted())
}

// DeleteCredential removes the caller's credential for a cloud.
func (h *SettingsHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	cloud, ok := parseCloud(chi.URLParam(r, "cloud"))
	if !ok {
		WriteNotFound(w, r, "Unknown cloud")
		return
	}
	if err := h.store.Credentials().Delete(r.Context(), middleware.GetUserEmail(r.Context()), cloud); err != nil {
		storeFail(w, r, h.logger, "credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
