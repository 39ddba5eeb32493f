package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
	"github.com/multicloud-portal/portal/internal/upstream"
)

// TemplateHandler serves the template catalog and the parameter forms built from it.
type TemplateHandler struct {
	gateway    *Gateway
	drafts     store.DraftStore
	autosavers *forms.Autosavers
	catalog    *forms.Catalog
	logger     *slog.Logger
}

// NewTemplateHandler creates a new template handler. A nil catalog disables cascades.
func NewTemplateHandler(gw *Gateway, drafts store.DraftStore, autosavers *forms.Autosavers, catalog *forms.Catalog, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{
		gateway:    gw,
		drafts:     drafts,
		autosavers: autosavers,
		catalog:    catalog,
		logger:     logger,
	}
}

// loadTemplate fetches a template with its parameters in declaration order.
func loadTemplate(ctx context.Context, client *upstream.Client, providerType, name string) (*models.Template, error) {
	t, err := client.GetTemplate(ctx, providerType, name)
	if err != nil {
		return nil, err
	}
	if t.Name == "" {
		t.Name = name
	}
	if t.ProviderType == "" {
		t.ProviderType = providerType
	}
	if len(t.Parameters) == 0 {
		params, err := client.GetParameters(ctx, providerType, name)
		if err != nil {
			return nil, err
		}
		t.Parameters = params
	}
	return t, nil
}

// Providers lists the available provider types.
func (h *TemplateHandler) Providers(w http.ResponseWriter, r *http.Request) {
	providers, err := h.gateway.ClientFor(r).ListProviders(r.Context())
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// List returns templates, optionally filtered by ?provider_type and ?cloud.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	templates, err := h.gateway.ClientFor(r).ListTemplates(r.Context(), q.Get("provider_type"), q.Get("cloud"))
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

// Get returns one template with its parameters.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := loadTemplate(r.Context(), h.gateway.ClientFor(r), chi.URLParam(r, "providerType"), chi.URLParam(r, "name"))
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// Metadata returns the template's extended metadata.
func (h *TemplateHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.gateway.ClientFor(r).GetMetadata(r.Context(), chi.URLParam(r, "providerType"), chi.URLParam(r, "name"))
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, md)
}

type formResponse struct {
	Template     string                 `json:"template_name"`
	ProviderType string                 `json:"provider_type"`
	Controls     []forms.Control        `json:"controls"`
	Values       map[string]string      `json:"values"`
	Changes      []forms.Change         `json:"changes,omitempty"`
	Errors       forms.ValidationErrors `json:"errors,omitempty"`
	DraftSavedAt *time.Time             `json:"draft_saved_at,omitempty"`
}

func (h *TemplateHandler) buildForm(r *http.Request) (*models.Template, *forms.Form, error) {
	t, err := loadTemplate(r.Context(), h.gateway.ClientFor(r), chi.URLParam(r, "providerType"), chi.URLParam(r, "name"))
	if err != nil {
		return nil, nil, err
	}
	return t, forms.Synthesize(t.Name, t.Parameters, h.catalog), nil
}

// Form returns the parameter form of a template with the caller's draft applied.
func (h *TemplateHandler) Form(w http.ResponseWriter, r *http.Request) {
	t, form, err := h.buildForm(r)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}

	resp := formResponse{Template: t.Name, ProviderType: t.ProviderType}
	draft, err := h.drafts.Get(r.Context(), middleware.GetUserEmail(r.Context()), t.Name)
	switch {
	case err == nil:
		form.Restore(draft.Values)
		resp.DraftSavedAt = &draft.SavedAt
	case !errors.Is(err, store.ErrNotFound):
		h.logger.Warn("failed to load draft", "template", t.Name, "error", err)
	}

	resp.Controls = form.Controls()
	resp.Values = form.Values()
	WriteJSON(w, http.StatusOK, resp)
}

type formChangeRequest struct {
	Values map[string]string `json:"values"`
	Field  string            `json:"field"`
	Value  string            `json:"value"`
}

// ApplyChange sets one field on a form holding the posted values and returns
// the resulting state, including cascade resets. The new values are saved
// as a draft after the autosave delay.
func (h *TemplateHandler) ApplyChange(w http.ResponseWriter, r *http.Request) {
	var req formChangeRequest
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if req.Field == "" {
		WriteError(w, r, apierrors.NewValidationErrorWithFields(apierrors.AddFieldError("field", "field is required")))
		return
	}

	t, form, err := h.buildForm(r)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	form.Restore(req.Values)

	changes, err := form.Set(req.Field, req.Value)
	if err != nil {
		if errors.Is(err, forms.ErrUnknownField) {
			WriteNotFound(w, r, err.Error())
			return
		}
		WriteError(w, r, apierrors.NewValidationErrorWithFields(apierrors.AddFieldError(req.Field, err.Error())))
		return
	}

	values := form.Values()
	if h.autosavers != nil {
		h.autosavers.Touch(middleware.GetUserEmail(r.Context()), t.Name, values)
	}

	WriteJSON(w, http.StatusOK, formResponse{
		Template:     t.Name,
		ProviderType: t.ProviderType,
		Controls:     form.Controls(),
		Values:       values,
		Changes:      changes,
		Errors:       form.Validate(),
	})
}

// EstimateCost forwards parameters to the cost estimator.
func (h *TemplateHandler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parameters map[string]any `json:"parameters"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	est, err := h.gateway.ClientFor(r).EstimateCost(r.Context(), chi.URLParam(r, "providerType"), chi.URLParam(r, "name"), req.Parameters)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, est)
}
