package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/relay"
)

const (
	pingInterval   = 15 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// EventsHandler relays a deployment's live logs and status changes to
// browsers over Server-Sent Events or a websocket.
type EventsHandler struct {
	gateway *Gateway
	hub     *relay.Hub
	logger  *slog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(gw *Gateway, hub *relay.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{gateway: gw, hub: hub, logger: logger}
}

// sendFunc delivers one named event to the client.
type sendFunc func(event string, data any) error

// follow subscribes to the deployment and forwards events until the relay
// closes, the client leaves, or the session expires. The first event is a
// snapshot of the relay; live log events already in it are skipped.
func (h *EventsHandler) follow(ctx context.Context, r *http.Request, id string, send sendFunc) error {
	sub, snap, err := h.hub.Subscribe(id, h.gateway.ClientFor(r))
	if err != nil {
		return err
	}
	defer h.hub.Unsubscribe(sub)

	if err := send("snapshot", snap); err != nil {
		return err
	}
	var lastSeq int64
	for _, e := range snap.Logs {
		lastSeq = max(lastSeq, e.Seq)
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if err := send("ping", map[string]int64{"time": time.Now().Unix()}); err != nil {
				return err
			}
		case ev, ok := <-sub.Ch:
			if !ok {
				return send("closed", map[string]string{"deployment_id": id})
			}
			if ev.Kind == relay.EventLog && ev.Log != nil {
				if ev.Log.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Log.Seq
			}
			if err := send(string(ev.Kind), ev); err != nil {
				return err
			}
			if ev.SessionExpired {
				h.gateway.ExpireSession(ctx, middleware.GetSession(ctx))
				return nil
			}
			if ev.Kind == relay.EventClosed {
				return nil
			}
		}
	}
}

// Stream handles GET /v1/deployments/{id}/events.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternalError(w, r, "Streaming unsupported")
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	started := false
	send := func(event string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	h.logger.Info("event stream started", "deployment_id", id, "user", middleware.GetUserEmail(r.Context()))
	err := h.follow(r.Context(), r, id, send)
	switch {
	case errors.Is(err, relay.ErrHubClosed) && !started:
		WriteError(w, r, apierrors.New(apierrors.CodeInternalError, "Server is shutting down").WithStatus(http.StatusServiceUnavailable))
	case err != nil:
		h.logger.Debug("event stream ended", "deployment_id", id, "error", err)
	default:
		h.logger.Info("event stream closed", "deployment_id", id)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Socket handles GET /v1/deployments/{id}/ws. Each relayed event is sent
// as a JSON text message {"event": kind, "data": payload}.
func (h *EventsHandler) Socket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "deployment_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Time{})

	// The client only sends control frames; a read error means it left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(event string, data any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(wsMessage{Event: event, Data: data})
	}

	h.logger.Info("event socket opened", "deployment_id", id, "user", middleware.GetUserEmail(r.Context()))
	if err := h.follow(ctx, r, id, send); err != nil {
		h.logger.Debug("event socket ended", "deployment_id", id, "error", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
