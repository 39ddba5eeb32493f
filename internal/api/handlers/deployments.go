package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/relay"
	"github.com/multicloud-portal/portal/internal/store"
	"github.com/multicloud-portal/portal/internal/submit"
	"github.com/multicloud-portal/portal/internal/upstream"
	"github.com/multicloud-portal/portal/internal/validation"
)

// DeploymentHandler submits deployments and serves their records.
type DeploymentHandler struct {
	gateway      *Gateway
	store        store.Store
	orchestrator *submit.Orchestrator
	hub          *relay.Hub
	autosavers   *forms.Autosavers
	logger       *slog.Logger
}

// NewDeploymentHandler creates a new deployment handler.
func NewDeploymentHandler(gw *Gateway, st store.Store, orch *submit.Orchestrator, hub *relay.Hub, autosavers *forms.Autosavers, logger *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{
		gateway:      gw,
		store:        st,
		orchestrator: orch,
		hub:          hub,
		autosavers:   autosavers,
		logger:       logger,
	}
}

// SubmitRequest is the body of a deployment submission. Values are the raw
// form values, including resource_group, location and subscription_id.
type SubmitRequest struct {
	TemplateName string            `json:"template_name"`
	ProviderType string            `json:"provider_type"`
	Values       map[string]string `json:"values"`
	Tags         []string          `json:"tags,omitempty"`
}

// SubmitResponse identifies the queued deployment and where to follow it.
type SubmitResponse struct {
	submit.Result
	EventsURL  string `json:"events_url"`
	LogsURL    string `json:"logs_url"`
	DetailsURL string `json:"details_url"`
}

// Submit validates and queues a deployment. Field errors are answered with
// 400 before anything is sent; rejections by the deployment API with 422.
func (h *DeploymentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if req.TemplateName == "" || req.ProviderType == "" {
		var verrs apierrors.ValidationErrors
		if req.TemplateName == "" {
			verrs.Add("template_name", "template name is required")
		}
		if req.ProviderType == "" {
			verrs.Add("provider_type", "provider type is required")
		}
		WriteError(w, r, verrs.ToAPIError())
		return
	}

	ctx := r.Context()
	client := h.gateway.ClientFor(r)
	email := middleware.GetUserEmail(ctx)

	tmpl, err := loadTemplate(ctx, client, req.ProviderType, req.TemplateName)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}

	result, err := h.orchestrator.Submit(ctx, client, submit.Request{
		UserEmail:    email,
		Template:     tmpl,
		ProviderType: req.ProviderType,
		Values:       req.Values,
		Tags:         req.Tags,
	})
	if err != nil {
		h.submitFailed(w, r, err)
		return
	}

	top, _ := submit.Split(req.Values)
	now := time.Now().UTC()
	mirror := &models.Deployment{
		ID:            result.DeploymentID,
		TemplateName:  tmpl.Name,
		ProviderType:  result.ProviderType,
		CloudProvider: string(models.CloudForProvider(result.ProviderType)),
		ResourceGroup: strings.TrimSpace(top.ResourceGroup),
		Location:      strings.TrimSpace(top.Location),
		Tags:          append(validation.SplitTags(top.Tags), req.Tags...),
		Status:        models.DeploymentStatusPending,
		TaskID:        result.TaskID,
		CreatedAt:     &now,
	}
	if err := h.store.Deployments().Upsert(ctx, mirror); err != nil {
		h.logger.Warn("failed to mirror submitted deployment", "deployment_id", result.DeploymentID, "error", err)
	}

	// The draft has served its purpose once the deployment is queued.
	if h.autosavers != nil {
		h.autosavers.Discard(email, tmpl.Name)
	}
	if err := h.store.Drafts().Delete(ctx, email, tmpl.Name); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Debug("failed to clear draft", "template", tmpl.Name, "error", err)
	}

	base := "/v1/deployments/" + result.DeploymentID
	WriteJSON(w, http.StatusAccepted, SubmitResponse{
		Result:     *result,
		EventsURL:  base + "/events",
		LogsURL:    base + "/logs",
		DetailsURL: relay.DetailsURL(result.DeploymentID),
	})
}

func (h *DeploymentHandler) submitFailed(w http.ResponseWriter, r *http.Request, err error) {
	var serr *submit.Error
	if !errors.As(err, &serr) {
		h.logger.Error("deployment submission failed", "error", err)
		WriteInternalError(w, r, submit.FallbackMessage)
		return
	}

	if serr.IsValidation() {
		var verrs apierrors.ValidationErrors
		for _, fe := range serr.Fields {
			verrs.Add(fe.Field, fe.Message)
		}
		apiErr := verrs.ToAPIError()
		apiErr.Message = serr.Message
		WriteError(w, r, apiErr)
		return
	}

	if upstream.IsUnauthorized(serr.Err) {
		h.gateway.Fail(w, r, serr.Err)
		return
	}

	apiErr := apierrors.New(apierrors.CodeDeploymentRejected, serr.Message)
	var upErr *upstream.APIError
	switch {
	case errors.As(serr.Err, &upErr) && len(upErr.Validation) > 0:
		var fields apierrors.ValidationErrors
		for _, fe := range upErr.Validation {
			fields.Add(fe.Path(), fe.Msg)
		}
		apiErr = apiErr.WithDetails(map[string]any{"fields": fields})
	case errors.As(serr.Err, &upErr) && upErr.StatusCode >= 500:
		apiErr = apiErr.WithStatus(http.StatusBadGateway)
	case upErr == nil:
		apiErr = apiErr.WithStatus(http.StatusBadGateway)
	}
	WriteError(w, r, apiErr)
}

// List returns deployments filtered by ?status, ?provider_type, ?tag and
// ?limit. When the deployment API is unreachable the gateway's mirror of
// the last known states is served instead.
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.DeploymentFilter{
		Status:       q.Get("status"),
		ProviderType: q.Get("provider_type"),
		Tag:          q.Get("tag"),
		Limit:        queryInt(r, "limit", 0),
	}

	deployments, err := h.gateway.ClientFor(r).ListDeployments(r.Context(), filter)
	if err != nil {
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) || errors.Is(r.Context().Err(), context.Canceled) {
			h.gateway.Fail(w, r, err)
			return
		}
		h.logger.Warn("deployment API unreachable, serving mirror", "error", err)
		mirrored, merr := h.store.Deployments().List(r.Context(), filter)
		if merr != nil {
			h.gateway.Fail(w, r, err)
			return
		}
		w.Header().Set("X-Portal-Source", "mirror")
		WriteJSON(w, http.StatusOK, map[string]any{"deployments": mirrored, "count": len(mirrored)})
		return
	}

	for i := range deployments {
		h.remember(r.Context(), &deployments[i])
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deployments": deployments, "count": len(deployments)})
}

// remember updates the mirror, ignoring failures.
func (h *DeploymentHandler) remember(ctx context.Context, d *models.Deployment) {
	if d.ID == "" {
		return
	}
	cp := *d
	if err := h.store.Deployments().Upsert(ctx, &cp); err != nil {
		h.logger.Debug("failed to mirror deployment", "deployment_id", d.ID, "error", err)
	}
}

// DetailResponse is a deployment with its background task and, while
// someone follows it, the live relay state.
type DetailResponse struct {
	Deployment *models.Deployment `json:"deployment"`
	Task       *models.TaskStatus `json:"task,omitempty"`
	Live       *relay.Snapshot    `json:"live,omitempty"`
	Duration   string             `json:"duration,omitempty"`
}

// Get returns a deployment. The task status is best-effort.
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	client := h.gateway.ClientFor(r)

	d, err := client.GetDeployment(r.Context(), id)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	h.remember(r.Context(), d)

	resp := DetailResponse{Deployment: d}
	if d.TaskID != "" && !d.Status.IsTerminal() {
		task, err := client.GetTaskStatus(r.Context(), d.TaskID)
		if err != nil {
			h.logger.Debug("task status unavailable", "task_id", d.TaskID, "error", err)
		} else {
			resp.Task = task
		}
	}
	if h.hub != nil {
		if snap, ok := h.hub.Snapshot(id); ok {
			snap.Logs = nil
			resp.Live = &snap
		}
	}
	if dur, ok := d.Duration(time.Now()); ok {
		resp.Duration = dur.Round(time.Second).String()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Status returns the deployment's status report.
func (h *DeploymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.gateway.ClientFor(r).GetDeploymentStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// UpdateTags replaces a deployment's tags.
func (h *DeploymentHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if err := validation.ValidateTags(req.Tags); err != nil {
		var verrs apierrors.ValidationErrors
		var verr *validation.Error
		if errors.As(err, &verr) {
			verrs.Add(verr.Field, verr.Message)
		} else {
			verrs.Add("tags", err.Error())
		}
		WriteError(w, r, verrs.ToAPIError())
		return
	}

	d, err := h.gateway.ClientFor(r).UpdateTags(r.Context(), chi.URLParam(r, "id"), req.Tags)
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	h.remember(r.Context(), d)
	WriteJSON(w, http.StatusOK, d)
}

// Delete removes a deployment record along with the gateway's archived logs
// and mirror entry.
func (h *DeploymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.gateway.ClientFor(r).DeleteDeployment(r.Context(), id); err != nil {
		h.gateway.Fail(w, r, err)
		return
	}

	err := h.store.WithTx(r.Context(), func(tx store.Store) error {
		if err := tx.Logs().DeleteForDeployment(r.Context(), id); err != nil {
			return err
		}
		if err := tx.Deployments().Delete(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("failed to clear local deployment data", "deployment_id", id, "error", err)
	}
	h.logger.Info("deployment deleted", "deployment_id", id, "by", middleware.GetUserEmail(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Tags returns every tag in use.
func (h *DeploymentHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.gateway.ClientFor(r).ListTags(r.Context())
	if err != nil {
		h.gateway.Fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tags": tags})
}
