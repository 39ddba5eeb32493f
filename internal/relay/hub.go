package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/multicloud-portal/portal/internal/metrics"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("relay hub closed")

const storeTimeout = 5 * time.Second

// Hub shares one relay per deployment between all of its subscribers.
// A relay starts with its first subscriber and stops when the last one leaves.
// Relayed logs are archived and status changes mirrored into the store.
type Hub struct {
	cfg         Config
	broker      *Broker
	logs        store.LogStore
	deployments store.DeploymentStore
	metrics     *metrics.Metrics
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	relays map[string]*Relay
	closed bool
}

// NewHub creates a hub. buffer is the per-subscriber event buffer.
func NewHub(cfg Config, buffer int, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:         cfg,
		broker:      NewBroker(buffer, logger),
		logs:        st.Logs(),
		deployments: st.Deployments(),
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		relays:      make(map[string]*Relay),
	}
	h.broker.onDrop = func(*Subscriber, Event) { m.RelayDropped.Inc() }
	return h
}

// Subscribe attaches to the deployment's relay, starting one if needed, and
// returns the subscription with the relay's state at the moment of
// subscribing. Log events in the snapshot may also arrive on the channel;
// their Seq identifies duplicates.
func (h *Hub) Subscribe(deploymentID string, src Source) (*Subscriber, Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, Snapshot{}, ErrHubClosed
	}

	r, ok := h.relays[deploymentID]
	if !ok || finished(r) {
		r = New(deploymentID, countingSource{Source: src, m: h.metrics}, h.cfg, h.publish, h.logger)
		h.relays[deploymentID] = r
		h.metrics.RelaysActive.Inc()
		r.Start(h.ctx)
		go h.watch(r)
		h.logger.Info("relay started", "deployment_id", deploymentID)
	}

	sub := h.broker.Subscribe(deploymentID)
	h.metrics.RelaySubscribers.Inc()
	return sub, r.Snapshot(), nil
}

// Unsubscribe detaches a subscriber, stopping the relay when it was the last one.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	if !h.broker.Unsubscribe(sub) {
		h.mu.Unlock()
		return
	}
	h.metrics.RelaySubscribers.Dec()

	var idle *Relay
	if h.broker.CountFor(sub.DeploymentID) == 0 {
		idle = h.relays[sub.DeploymentID]
		delete(h.relays, sub.DeploymentID)
	}
	h.mu.Unlock()

	if idle != nil {
		idle.Stop()
		h.logger.Info("relay stopped, no subscribers left", "deployment_id", sub.DeploymentID)
	}
}

// Snapshot returns the state of a running relay.
func (h *Hub) Snapshot(deploymentID string) (Snapshot, bool) {
	h.mu.Lock()
	r, ok := h.relays[deploymentID]
	h.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Active returns the number of running relays.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.relays)
}

// Close stops every relay. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	relays := make([]*Relay, 0, len(h.relays))
	for _, r := range h.relays {
		relays = append(relays, r)
	}
	h.relays = make(map[string]*Relay)
	h.mu.Unlock()

	for _, r := range relays {
		r.Stop()
	}
	h.broker.CloseAll()
	h.metrics.RelaySubscribers.Set(0)
	h.cancel()
}

func (h *Hub) watch(r *Relay) {
	<-r.Done()
	h.metrics.RelaysActive.Dec()

	h.mu.Lock()
	if h.relays[r.ID()] == r && h.broker.CountFor(r.ID()) == 0 {
		delete(h.relays, r.ID())
	}
	h.mu.Unlock()
}

// countingSource counts status checks.
type countingSource struct {
	Source
	m *metrics.Metrics
}

func (c countingSource) GetDeploymentStatus(ctx context.Context, id string) (*models.DeploymentStatusReport, error) {
	c.m.RelayPolls.Inc()
	return c.Source.GetDeploymentStatus(ctx, id)
}

func finished(r *Relay) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}

// publish records an event and hands it to subscribers.
func (h *Hub) publish(ev Event) {
	h.metrics.RelayEvents.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case EventLog:
		h.archive(ev)
	case EventStatus:
		h.mirror(ev)
	case EventComplete:
		h.metrics.RelayOutcomes.WithLabelValues("completed").Inc()
	case EventError:
		if ev.Status == models.DeploymentStatusFailed {
			h.metrics.RelayOutcomes.WithLabelValues("failed").Inc()
		} else {
			h.metrics.RelayOutcomes.WithLabelValues("stream_error").Inc()
		}
	case EventTimeout:
		h.metrics.RelayOutcomes.WithLabelValues("timeout").Inc()
	}

	h.broker.Publish(ev)
}

func (h *Hub) archive(ev Event) {
	if ev.Log == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
	defer cancel()

	if err := h.logs.Append(ctx, []models.LogEntry{*ev.Log}); err != nil {
		h.logger.Warn("failed to archive log entry",
			"deployment_id", ev.DeploymentID,
			"seq", ev.Log.Seq,
			"error", err,
		)
		return
	}
	h.metrics.LogsArchived.Inc()
}

func (h *Hub) mirror(ev Event) {
	ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
	defer cancel()

	var d models.Deployment
	switch {
	case ev.Deployment != nil:
		d = *ev.Deployment
		d.Status = ev.Status
	default:
		cur, err := h.deployments.Get(ctx, ev.DeploymentID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			d = models.Deployment{ID: ev.DeploymentID, Status: models.DeploymentStatusPending}
		case err != nil:
			h.logger.Warn("failed to load deployment mirror", "deployment_id", ev.DeploymentID, "error", err)
			return
		default:
			d = *cur
		}
		if err := d.Apply(ev.Status); err != nil {
			return
		}
	}
	if d.ID == "" {
		d.ID = ev.DeploymentID
	}

	if err := h.deployments.Upsert(ctx, &d); err != nil {
		h.logger.Warn("failed to mirror deployment", "deployment_id", ev.DeploymentID, "error", err)
	}
}
