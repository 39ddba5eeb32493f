package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/metrics"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/relay"
	"github.com/multicloud-portal/portal/internal/store/memory"
	"github.com/multicloud-portal/portal/internal/submit"
	"github.com/multicloud-portal/portal/internal/upstream"
	"github.com/multicloud-portal/portal/pkg/config"
)

// fakeAPI is a deployment API good enough for the gateway's routes.
type fakeAPI struct {
	deploys   atomic.Int32
	lastBody  atomic.Value
	revoked   sync.Map
	streamRun chan struct{}
}

func envelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": status < 300, "data": data})
}

func (f *fakeAPI) authorized(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if _, gone := f.revoked.Load(token); gone || token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
		return false
	}
	return true
}

func (f *fakeAPI) handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret-password" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		role := strings.SplitN(body.Email, "@", 2)[0]
		envelope(w, http.StatusOK, map[string]any{
			"access_token": "tok-" + body.Email,
			"token_type":   "bearer",
			"user":         map[string]any{"email": body.Email, "role": role, "is_active": true},
		})
	})
	r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		email := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer tok-")
		envelope(w, http.StatusOK, map[string]any{
			"user":        map[string]any{"email": email, "role": strings.SplitN(email, "@", 2)[0]},
			"permissions": []string{"read", "write", "deploy", "delete", "manage_users"},
		})
	})
	r.Get("/templates/{provider}/{name}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		envelope(w, http.StatusOK, map[string]any{
			"name":          chi.URLParam(r, "name"),
			"provider_type": chi.URLParam(r, "provider"),
			"parameters": []map[string]any{
				{"name": "vmCount", "type": "int", "required": true},
				{"name": "enableBackup", "type": "bool", "default": false},
				{"name": "sku", "type": "string", "allowed_values": []string{"Basic", "Standard"}, "default": "Basic"},
			},
		})
	})
	r.Post("/deploy", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.deploys.Add(1)
		raw, _ := io.ReadAll(r.Body)
		f.lastBody.Store(raw)
		envelope(w, http.StatusOK, map[string]any{
			"deployment_id":  "deploy-42",
			"status":         "pending",
			"task_id":        "task-42",
			"resource_group": "rg-web",
		})
	})
	r.Get("/deployments/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		envelope(w, http.StatusOK, map[string]any{"deployment_id": chi.URLParam(r, "id"), "status": "running"})
	})
	r.Get("/deployments/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f.streamRun != nil {
			<-f.streamRun
		}
		frames := []string{
			`{"type":"log","level":"INFO","phase":"validating","message":"Validating template"}`,
			`{"type":"log","level":"ERROR","phase":"applying","message":"Quota warning"}`,
			`{"type":"complete","message":"done","outputs":{"url":"https://app"}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			w.(http.Flusher).Flush()
		}
	})
	return r
}

type harness struct {
	t      *testing.T
	api    *fakeAPI
	store  *memory.Store
	server *Server
	http   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := &fakeAPI{}
	up := httptest.NewServer(api.handler())
	t.Cleanup(up.Close)

	cfg := config.LoadWithDefaults()
	cfg.UpstreamURL = up.URL

	st := memory.New()
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte("test-secret-key-at-least-32-characters"),
		TokenExpiry: time.Hour,
	}, st.Sessions(), logger)
	hub := relay.NewHub(relay.Config{StatusInterval: time.Hour, NavigateDelay: 10 * time.Millisecond}, 32, st, m, logger)
	t.Cleanup(hub.Close)

	srv := NewServer(cfg, Dependencies{
		Store:        st,
		Auth:         authSvc,
		Upstream:     upstream.NewClient(up.URL, 5*time.Second),
		Lookups:      upstream.NewLookupCache(time.Minute),
		Hub:          hub,
		Orchestrator: submit.New(st.Credentials(), nil, m, logger),
		Autosavers:   forms.NewAutosavers(st.Drafts(), time.Hour, logger),
		Catalog:      forms.DefaultCatalog(),
		Metrics:      m,
	}, logger)

	gw := httptest.NewServer(srv.Router())
	t.Cleanup(gw.Close)
	return &harness{t: t, api: api, store: st, server: srv, http: gw}
}

func (h *harness) do(method, path, token string, body any) *http.Response {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, h.http.URL+path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) login(email string) string {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "secret-password"})
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	var body struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decode(h.t, resp, &body)
	return body.Token
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body apierrors.APIError
	decode(t, resp, &body)
	return body.Code
}

func TestLoginAndProfile(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "user@example.com", "password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d", resp.StatusCode)
	}

	token := h.login("user@example.com")
	resp = h.do(http.MethodGet, "/v1/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", resp.StatusCode)
	}
	var me models.User
	decode(t, resp, &me)
	// Permissions reported upstream are replaced by the role's set.
	if me.Role != models.RoleUser || len(me.Permissions) != 3 {
		t.Errorf("me = %+v", me)
	}

	if resp := h.do(http.MethodPost, "/v1/auth/logout", token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}
	resp = h.do(http.MethodGet, "/v1/auth/me", token, nil)
	if resp.StatusCode != http.StatusUnauthorized || errorCode(t, resp) != apierrors.CodeSessionExpired {
		t.Errorf("after logout: status %d", resp.StatusCode)
	}
}

func TestViewerCannotDeploy(t *testing.T) {
	h := newHarness(t)
	token := h.login("viewer@example.com")

	resp := h.do(http.MethodPost, "/v1/deployments", token, map[string]any{
		"template_name": "web-app", "provider_type": "azure",
		"values": map[string]string{"resource_group": "rg", "location": "eastus", "vmCount": "1"},
	})
	if resp.StatusCode != http.StatusForbidden || errorCode(t, resp) != apierrors.CodeForbidden {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if h.api.deploys.Load() != 0 {
		t.Error("deployment API should not be called")
	}
}

func TestSubmitValidationMakesNoRequest(t *testing.T) {
	h := newHarness(t)
	token := h.login("user@example.com")

	resp := h.do(http.MethodPost, "/v1/deployments", token, map[string]any{
		"template_name": "web-app", "provider_type": "azure",
		"values": map[string]string{"location": "eastus", "vmCount": "three"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			Fields []apierrors.ValidationError `json:"fields"`
		} `json:"details"`
	}
	decode(t, resp, &body)
	if body.Code != apierrors.CodeValidationError || len(body.Details.Fields) != 2 {
		t.Errorf("body = %+v", body)
	}
	if !strings.HasPrefix(body.Message, "Please fix the following: ") {
		t.Errorf("message = %q", body.Message)
	}
	if h.api.deploys.Load() != 0 {
		t.Error("deployment API should not be called")
	}
}

func TestSubmitQueuesAndMirrors(t *testing.T) {
	h := newHarness(t)
	token := h.login("user@example.com")
	ctx := context.Background()
	_ = h.store.Drafts().Save(ctx, &models.Draft{UserEmail: "user@example.com", TemplateName: "web-app", Values: map[string]string{"vmCount": "2"}})

	resp := h.do(http.MethodPost, "/v1/deployments", token, map[string]any{
		"template_name": "web-app", "provider_type": "bicep",
		"values": map[string]string{"resource_group": "rg-web", "location": "eastus", "vmCount": "3", "enableBackup": "true", "tags": "env:dev"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		DeploymentID string `json:"deployment_id"`
		ProviderType string `json:"provider_type"`
		EventsURL    string `json:"events_url"`
	}
	decode(t, resp, &body)
	if body.DeploymentID != "deploy-42" || body.ProviderType != "azure" || body.EventsURL != "/v1/deployments/deploy-42/events" {
		t.Errorf("body = %+v", body)
	}

	var sent upstream.DeployRequest
	_ = json.Unmarshal(h.api.lastBody.Load().([]byte), &sent)
	if sent.ResourceGroup != "rg-web" || sent.Parameters["vmCount"] != float64(3) || sent.Parameters["enableBackup"] != true {
		t.Errorf("payload = %+v", sent)
	}
	if len(sent.Tags) != 1 || sent.Tags[0] != "env:dev" {
		t.Errorf("tags = %v", sent.Tags)
	}

	mirror, err := h.store.Deployments().Get(ctx, "deploy-42")
	if err != nil || mirror.Status != models.DeploymentStatusPending || mirror.TaskID != "task-42" {
		t.Errorf("mirror = %+v, %v", mirror, err)
	}
	if _, err := h.store.Drafts().Get(ctx, "user@example.com", "web-app"); err == nil {
		t.Error("draft should be cleared after submission")
	}
}

func TestUpstreamUnauthorizedEndsSession(t *testing.T) {
	h := newHarness(t)
	token := h.login("user@example.com")
	h.api.revoked.Store("tok-user@example.com", true)

	resp := h.do(http.MethodGet, "/v1/templates/azure/web-app", token, nil)
	if resp.StatusCode != http.StatusUnauthorized || errorCode(t, resp) != apierrors.CodeSessionExpired {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// The gateway session went with the upstream token.
	h.api.revoked.Delete("tok-user@example.com")
	resp = h.do(http.MethodGet, "/v1/auth/me", token, nil)
	if resp.StatusCode != http.StatusUnauthorized || errorCode(t, resp) != apierrors.CodeSessionExpired {
		t.Errorf("reused token: status %d", resp.StatusCode)
	}
}

func TestFormAppliesDraft(t *testing.T) {
	h := newHarness(t)
	token := h.login("user@example.com")
	_ = h.store.Drafts().Save(context.Background(), &models.Draft{
		UserEmail: "user@example.com", TemplateName: "web-app",
		Values: map[string]string{"vmCount": "5", "sku": "Standard"}, SavedAt: time.Now(),
	})

	resp := h.do(http.MethodGet, "/v1/templates/azure/web-app/form", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Controls     []forms.Control   `json:"controls"`
		Values       map[string]string `json:"values"`
		DraftSavedAt *time.Time        `json:"draft_saved_at"`
	}
	decode(t, resp, &body)
	if len(body.Controls) != 3 || body.Values["vmCount"] != "5" || body.Values["sku"] != "Standard" || body.DraftSavedAt == nil {
		t.Errorf("form = %+v", body)
	}
	if body.Controls[2].Widget != forms.WidgetSelect {
		t.Errorf("sku widget = %s", body.Controls[2].Widget)
	}
}

func readEvents(t *testing.T, resp *http.Response, until string) []string {
	t.Helper()
	done := make(chan []string, 1)
	go func() {
		var names []string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				names = append(names, name)
				if name == until {
					break
				}
			}
		}
		done <- names
	}()
	select {
	case names := <-done:
		return names
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s event", until)
		return nil
	}
}

func TestEventStreamRelaysAndArchives(t *testing.T) {
	h := newHarness(t)
	token := h.login("user@example.com")
	h.api.streamRun = make(chan struct{})

	resp := h.do(http.MethodGet, "/v1/deployments/deploy-7/events?access_token="+token, "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// Headers go out with the snapshot, so the subscription is in place.
	close(h.api.streamRun)
	names := readEvents(t, resp, "closed")

	if names[0] != "snapshot" {
		t.Errorf("first event = %s", names[0])
	}
	count := map[string]int{}
	for _, n := range names {
		count[n]++
	}
	if count["log"] != 2 || count["complete"] != 1 || count["navigate"] != 1 {
		t.Errorf("events = %v", names)
	}

	// Archived logs are filterable once the relay is gone.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp = h.do(http.MethodGet, "/v1/deployments/deploy-7/logs?level=ERROR", token, nil)
		var body struct {
			Logs    []models.LogEntry `json:"logs"`
			Total   int               `json:"total"`
			Matched int               `json:"matched"`
			Live    bool              `json:"live"`
		}
		decode(t, resp, &body)
		if !body.Live {
			if body.Total != 2 || body.Matched != 1 || body.Logs[0].Message != "Quota warning" {
				t.Errorf("logs = %+v", body)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("relay did not stop")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var body struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	decode(t, resp, &body)
	if _, ok := body.Components["database"]; !ok {
		t.Errorf("components = %v", body.Components)
	}
	if _, ok := body.Components["upstream"]; !ok {
		t.Errorf("components = %v", body.Components)
	}

	resp = h.do(http.MethodGet, "/metrics", "", nil)
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "portal_http_requests_total") {
		t.Errorf("metrics missing request counter")
	}
}
