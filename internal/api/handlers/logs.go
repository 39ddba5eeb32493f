package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/relay"
	"github.com/multicloud-portal/portal/internal/store"
)

const maxArchivedLogs = 10000

// LogHandler serves relayed deployment logs.
type LogHandler struct {
	logs   store.LogStore
	hub    *relay.Hub
	logger *slog.Logger
}

// NewLogHandler creates a new log handler.
func NewLogHandler(logs store.LogStore, hub *relay.Hub, logger *slog.Logger) *LogHandler {
	return &LogHandler{logs: logs, hub: hub, logger: logger}
}

// LogsResponse is a filtered view of a deployment's logs.
type LogsResponse struct {
	DeploymentID string            `json:"deployment_id"`
	Filter       relay.Filter      `json:"filter"`
	Logs         []models.LogEntry `json:"logs"`
	Total        int               `json:"total"`
	Matched      int               `json:"matched"`
	Live         bool              `json:"live"`
}

// Get handles GET /v1/deployments/{id}/logs. Entries come from the running
// relay when one follows the deployment, otherwise from the archive.
// ?level, ?phase and ?search filter; ?limit keeps the newest matches.
func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	filter := relay.Filter{
		Level:  q.Get("level"),
		Phase:  q.Get("phase"),
		Search: q.Get("search"),
	}

	var (
		entries []models.LogEntry
		live    bool
	)
	if h.hub != nil {
		if snap, ok := h.hub.Snapshot(id); ok {
			entries, live = snap.Logs, true
		}
	}
	if !live {
		archived, err := h.logs.List(r.Context(), id, maxArchivedLogs)
		if err != nil {
			storeFail(w, r, h.logger, "logs", err)
			return
		}
		entries = archived
	}

	matched := filter.Apply(entries)
	count := len(matched)
	if limit := queryInt(r, "limit", 0); limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	WriteJSON(w, http.StatusOK, LogsResponse{
		DeploymentID: id,
		Filter:       filter,
		Logs:         matched,
		Total:        len(entries),
		Matched:      count,
		Live:         live,
	})
}
