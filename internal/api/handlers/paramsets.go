package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/models"
)

// ParameterSetHandler manages saved parameter sets.
type ParameterSetHandler struct {
	gateway *Gateway
	logger  *slog.Logger
}

// NewParameterSetHandler creates a new parameter set handler.
func NewParameterSetHandler(gw *Gateway, logger *slog.Logger) *ParameterSetHandler {
	return &ParameterSetHandler{gateway: gw, logger: logger}
}

func validateParameterSet(ps *models.ParameterSet) *apierrors.APIError {
	var verrs apierrors.ValidationErrors
	ps.Name = strings.TrimSpace(ps.Name)
	if ps.Name == "" {
		verrs.Add("name", "name is required")
	}
	if ps.TemplateName == "" {
		verrs.Add("template_name", "template name is required")
	}
	if ps.Parameters == nil {
		ps.Parameters = map[string]any{}
	}
	if verrs.HasErrors() {
		return verrs.ToAPIError()
	}
	return nil
}

// List returns saved sets, optionally for one ?template_name.
func (h *ParameterSetHandler) List(w http.ResponseWriter, r *http.Request) {
	sets, err := h.gateway.ClientFor(r).ListParameterSets(r.Context(), r.URL.Query().Get("template_name"))
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"parameter_sets": sets})
}

// Get returns one saved set.
func (h *ParameterSetHandler) Get(w http.ResponseWriter, r *http.Request) {
	ps, err := h.gateway.ClientFor(r).GetParameterSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ps)
}

// Create saves a new set.
func (h *ParameterSetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var ps models.ParameterSet
	if err := decodeBody(r, &ps); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if apiErr := validateParameterSet(&ps); apiErr != nil {
		WriteError(w, r, apiErr)
		return
	}
	created, err := h.gateway.ClientFor(r).CreateParameterSet(r.Context(), ps)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

// Update replaces a saved set.
func (h *ParameterSetHandler) Update(w http.ResponseWriter, r *http.Request) {
	var ps models.ParameterSet
	if err := decodeBody(r, &ps); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if apiErr := validateParameterSet(&ps); apiErr != nil {
		WriteError(w, r, apiErr)
		return
	}
	updated, err := h.gateway.ClientFor(r).UpdateParameterSet(r.Context(), chi.URLParam(r, "id"), ps)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

// Delete removes a saved set.
func (h *ParameterSetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.ClientFor(r).DeleteParameterSet(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
