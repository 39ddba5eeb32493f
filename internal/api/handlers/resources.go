package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/upstream"
	"github.com/multicloud-portal/portal/internal/validation"
)

// ResourceHandler serves resource groups and the subscription and location lookups.
type ResourceHandler struct {
	gateway *Gateway
	lookups *upstream.LookupCache
	logger  *slog.Logger
}

// NewResourceHandler creates a new resource handler.
func NewResourceHandler(gw *Gateway, lookups *upstream.LookupCache, logger *slog.Logger) *ResourceHandler {
	if lookups == nil {
		lookups = upstream.NewLookupCache(0)
	}
	return &ResourceHandler{gateway: gw, lookups: lookups, logger: logger}
}

func scope(r *http.Request) (providerType, subscriptionID string) {
	q := r.URL.Query()
	return q.Get("provider_type"), q.Get("subscription_id")
}

// ListGroups returns the resource groups in a subscription.
func (h *ResourceHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	provider, sub := scope(r)
	groups, err := h.gateway.ClientFor(r).ListResourceGroups(r.Context(), provider, sub)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"resource_groups": groups})
}

// CreateGroup creates a resource group.
func (h *ResourceHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req upstream.ResourceGroupRequest
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	var verrs apierrors.ValidationErrors
	addFieldError(&verrs, "name", validation.ValidateResourceGroup(req.Name))
	addFieldError(&verrs, "location", validation.ValidateLocation(req.Location))
	if verrs.HasErrors() {
		WriteError(w, r, verrs.ToAPIError())
		return
	}

	rg, err := h.gateway.ClientFor(r).CreateResourceGroup(r.Context(), req)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rg)
}

// DeleteGroup deletes a resource group and everything in it.
func (h *ResourceHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	provider, sub := scope(r)
	if err := h.gateway.ClientFor(r).DeleteResourceGroup(r.Context(), chi.URLParam(r, "name"), provider, sub); err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListResources returns the resources inside a group.
func (h *ResourceHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	provider, sub := scope(r)
	resources, err := h.gateway.ClientFor(r).ListResources(r.Context(), chi.URLParam(r, "name"), provider, sub)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

// Subscriptions returns the cached subscription list.
func (h *ResourceHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.lookups.Subscriptions(r.Context(), h.gateway.ClientFor(r))
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// Locations returns the cached region list for ?cloud (default azure).
func (h *ResourceHandler) Locations(w http.ResponseWriter, r *http.Request) {
	cloud := models.CloudAzure
	if c := r.URL.Query().Get("cloud"); c != "" {
		parsed, ok := parseCloud(c)
		if !ok {
			WriteBadRequest(w, r, "Unknown cloud")
			return
		}
		cloud = parsed
	}
	locs, err := h.lookups.Locations(r.Context(), h.gateway.ClientFor(r), cloud)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"locations": locs})
}

// addFieldError records a validation failure under field.
func addFieldError(verrs *apierrors.ValidationErrors, field string, err error) {
	if err == nil {
		return
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		verrs.Add(field, verr.Message)
		return
	}
	verrs.Add(field, err.Error())
}
