// Package relay follows a running deployment: it reads the deployment's
// event stream, polls its status, keeps the ordered log, and fans events out
// to subscribers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/schedule"
	"github.com/multicloud-portal/portal/internal/upstream"
)

// Source is the part of the deployment API a relay reads from.
type Source interface {
	OpenStream(ctx context.Context, deploymentID string) (*upstream.EventStream, error)
	GetDeploymentStatus(ctx context.Context, deploymentID string) (*models.DeploymentStatusReport, error)
}

// Config controls polling and navigation timing.
type Config struct {
	StatusInterval  time.Duration
	MaxPollAttempts int // zero polls until a terminal status
	NavigateDelay   time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		StatusInterval:  30 * time.Second,
		MaxPollAttempts: 120,
		NavigateDelay:   2 * time.Second,
	}
}

// EventKind is the type of a relayed event.
type EventKind string

const (
	EventLog      EventKind = "log"
	EventStatus   EventKind = "status"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
	EventTimeout  EventKind = "timeout"
	EventNavigate EventKind = "navigate"
	EventClosed   EventKind = "closed"
)

// Event is one update delivered to subscribers.
type Event struct {
	Kind         EventKind               `json:"type"`
	DeploymentID string                  `json:"deployment_id"`
	Status       models.DeploymentStatus `json:"status,omitempty"`
	Phase        string                  `json:"phase,omitempty"`
	Progress     *int                    `json:"progress,omitempty"`
	Message      string                  `json:"message,omitempty"`
	Log          *models.LogEntry        `json:"log,omitempty"`
	Outputs      map[string]any          `json:"outputs,omitempty"`
	URL          string                  `json:"url,omitempty"`

	// SessionExpired marks errors caused by the deployment API rejecting the session's token.
	SessionExpired bool `json:"session_expired,omitempty"`

	// Deployment carries the full record when the event came from a status check.
	Deployment *models.Deployment `json:"-"`
}

// Snapshot is a copy of a relay's state.
type Snapshot struct {
	DeploymentID string                  `json:"deployment_id"`
	Status       models.DeploymentStatus `json:"status"`
	Phase        string                  `json:"phase,omitempty"`
	Progress     int                     `json:"progress"`
	Logs         []models.LogEntry       `json:"logs"`
	Outputs      map[string]any          `json:"outputs,omitempty"`
	Error        string                  `json:"error,omitempty"`
	StreamOpen   bool                    `json:"stream_open"`
	Polling      bool                    `json:"polling"`
	PollAttempts int                     `json:"poll_attempts"`
	TimedOut     bool                    `json:"timed_out"`
}

// DetailsURL is where a completed deployment's details are shown.
func DetailsURL(deploymentID string) string {
	return "/deployments/" + deploymentID
}

// Relay follows one deployment. The stream reader and the status poller run
// independently; all state changes go through the relay's lock.
type Relay struct {
	id     string
	src    Source
	cfg    Config
	emit   func(Event)
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	gen          uint64
	started      bool
	status       models.DeploymentStatus
	phase        string
	progress     int
	logs         []models.LogEntry
	seq          int64
	outputs      map[string]any
	errMsg       string
	streamOpen   bool
	polling      bool
	pollAttempts int
	timedOut     bool
	stopPoll     context.CancelFunc
	navigate     *schedule.Task
	cancel       context.CancelFunc
	done         chan struct{}
}

// New creates a relay for a deployment. emit receives every event and must
// not block.
func New(deploymentID string, src Source, cfg Config, emit func(Event), logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	return &Relay{
		id:     deploymentID,
		src:    src,
		cfg:    cfg,
		emit:   emit,
		logger: logger.With("deployment_id", deploymentID),
		now:    time.Now,
		status: models.DeploymentStatusPending,
		done:   make(chan struct{}),
	}
}

// ID returns the deployment the relay follows.
func (r *Relay) ID() string { return r.id }

// Done is closed once the stream and poller have both ended and any
// scheduled navigation has fired.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Start begins following the deployment in the background.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	pollCtx, stopPoll := context.WithCancel(gctx)
	r.stopPoll = stopPoll
	r.streamOpen = true
	r.polling = true
	gen := r.gen
	r.mu.Unlock()

	go r.run(g, gctx, pollCtx, gen)
}

func (r *Relay) run(g *errgroup.Group, ctx, pollCtx context.Context, gen uint64) {
	defer close(r.done)

	g.Go(func() error { return r.readStream(ctx, gen) })
	g.Go(func() error { return r.poll(pollCtx, gen) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("relay ended with error", "error", err)
	}

	r.mu.Lock()
	nav := r.navigate
	r.mu.Unlock()
	if nav != nil {
		<-nav.Done()
	}

	r.update(gen, func() []Event {
		return []Event{{Kind: EventClosed, Status: r.status}}
	})
}

// Stop ends the relay and waits for its goroutines. Results that arrive
// while stopping are discarded.
func (r *Relay) Stop() {
	r.mu.Lock()
	r.gen++
	started := r.started
	cancel := r.cancel
	nav := r.navigate
	r.streamOpen = false
	r.polling = false
	r.mu.Unlock()

	if !started {
		return
	}
	nav.Stop()
	cancel()
	<-r.done
}

// update applies fn under the lock when gen is still current and emits the
// events it returns.
func (r *Relay) update(gen uint64, fn func() []Event) bool {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return false
	}
	events := fn()
	r.mu.Unlock()

	for _, ev := range events {
		ev.DeploymentID = r.id
		r.emit(ev)
	}
	return true
}

func (r *Relay) readStream(ctx context.Context, gen uint64) error {
	stream, err := r.src.OpenStream(ctx, r.id)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("failed to open event stream", "error", err)
		r.update(gen, func() []Event {
			r.streamOpen = false
			return []Event{{
				Kind:           EventError,
				Message:        fmt.Sprintf("log stream unavailable: %v", err),
				SessionExpired: upstream.IsUnauthorized(err),
			}}
		})
		if upstream.IsUnauthorized(err) {
			return err
		}
		return nil
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			closed := errors.Is(err, upstream.ErrStreamClosed)
			r.update(gen, func() []Event {
				r.streamOpen = false
				if closed {
					return nil
				}
				return []Event{{Kind: EventError, Message: "log stream interrupted"}}
			})
			if !closed {
				r.logger.Warn("event stream error", "error", err)
			}
			return nil
		}
		if !r.update(gen, func() []Event { return r.handle(ev) }) {
			return nil
		}
	}
}

// handle applies one stream event. Called with the lock held.
func (r *Relay) handle(ev upstream.Event) []Event {
	switch ev.Type {
	case upstream.EventLog:
		entry := ev.LogEntry(r.id, r.now())
		r.seq++
		entry.Seq = r.seq
		r.logs = append(r.logs, entry)
		return []Event{{Kind: EventLog, Log: &entry}}

	case upstream.EventStatus:
		return r.transition(models.ParseDeploymentStatus(ev.Status), ev.Message, nil)

	case upstream.EventProgress:
		var events []Event
		if ev.Progress != nil {
			r.progress = *ev.Progress
		}
		if ev.Phase != "" {
			r.phase = ev.Phase
		}
		p := r.progress
		events = append(events, Event{Kind: EventProgress, Phase: r.phase, Progress: &p})
		if ev.Status != "" {
			events = append(events, r.transition(models.ParseDeploymentStatus(ev.Status), "", nil)...)
		}
		return events

	case upstream.EventComplete:
		if ev.Outputs != nil {
			r.outputs = ev.Outputs
		}
		r.streamOpen = false
		return r.transition(models.DeploymentStatusCompleted, ev.Message, nil)

	case upstream.EventError:
		// A failed deployment arrives as a status frame. An error frame only
		// ends the stream; the poller still decides the outcome.
		r.streamOpen = false
		msg := ev.Message
		if msg == "" {
			msg = "log stream ended with an error"
		}
		return []Event{{Kind: EventError, Message: msg}}

	case upstream.EventDone:
		r.streamOpen = false
	}
	return nil
}

// transition moves to next if allowed. Reaching a terminal status stops the
// poller; completion also schedules navigation to the details view.
// Called with the lock held.
func (r *Relay) transition(next models.DeploymentStatus, message string, d *models.Deployment) []Event {
	if r.status == next && !next.IsTerminal() {
		if d != nil {
			return []Event{{Kind: EventStatus, Status: next, Deployment: d}}
		}
		return nil
	}
	if !r.status.CanTransitionTo(next) {
		return nil
	}
	r.status = next

	switch next {
	case models.DeploymentStatusCompleted:
		r.halt()
		r.scheduleNavigate()
		return []Event{
			{Kind: EventStatus, Status: next, Message: message, Deployment: d},
			{Kind: EventComplete, Status: next, Message: message, Outputs: r.outputs},
		}
	case models.DeploymentStatusFailed:
		r.halt()
		if message == "" && d != nil {
			message = d.ErrorMessage
		}
		if message == "" {
			message = "Deployment failed"
		}
		r.errMsg = message
		return []Event{
			{Kind: EventStatus, Status: next, Message: message, Deployment: d},
			{Kind: EventError, Status: next, Message: message},
		}
	default:
		return []Event{{Kind: EventStatus, Status: next, Message: message, Deployment: d}}
	}
}

func (r *Relay) halt() {
	r.polling = false
	if r.stopPoll != nil {
		r.stopPoll()
	}
}

func (r *Relay) scheduleNavigate() {
	if r.navigate != nil || r.cancel == nil {
		return
	}
	gen := r.gen
	r.navigate = schedule.After(context.Background(), r.cfg.NavigateDelay, func(context.Context) {
		r.update(gen, func() []Event {
			return []Event{{Kind: EventNavigate, Status: models.DeploymentStatusCompleted, URL: DetailsURL(r.id)}}
		})
	})
}

func (r *Relay) poll(ctx context.Context, gen uint64) error {
	if !r.checkStatus(ctx, gen) {
		return nil
	}
	return ignoreCanceled(schedule.Run(ctx, r.cfg.StatusInterval, func(ctx context.Context) bool {
		return r.checkStatus(ctx, gen)
	}))
}

// checkStatus makes one status request. It reports whether polling should continue.
func (r *Relay) checkStatus(ctx context.Context, gen uint64) bool {
	report, err := r.src.GetDeploymentStatus(ctx, r.id)
	if ctx.Err() != nil {
		return false
	}

	cont := true
	ok := r.update(gen, func() []Event {
		r.pollAttempts++
		var events []Event
		if upstream.IsUnauthorized(err) {
			r.polling = false
			cont = false
			return []Event{{Kind: EventError, Status: r.status, Message: "Session expired", SessionExpired: true}}
		}
		if err != nil {
			r.logger.Debug("status check failed", "attempt", r.pollAttempts, "error", err)
		} else {
			d := report.Deployment
			if len(d.Outputs) > 0 {
				r.outputs = d.Outputs
			}
			events = r.transition(d.Status, "", &d)
		}

		if r.status.IsTerminal() {
			cont = false
			return events
		}
		if r.cfg.MaxPollAttempts > 0 && r.pollAttempts >= r.cfg.MaxPollAttempts {
			r.timedOut = true
			r.polling = false
			cont = false
			events = append(events, Event{
				Kind:    EventTimeout,
				Status:  r.status,
				Message: fmt.Sprintf("Stopped checking status after %d attempts", r.pollAttempts),
			})
		}
		return events
	})
	return ok && cont
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Snapshot returns a copy of the relay's state.
func (r *Relay) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		DeploymentID: r.id,
		Status:       r.status,
		Phase:        r.phase,
		Progress:     r.progress,
		Logs:         slices.Clone(r.logs),
		Outputs:      r.outputs,
		Error:        r.errMsg,
		StreamOpen:   r.streamOpen,
		Polling:      r.polling,
		PollAttempts: r.pollAttempts,
		TimedOut:     r.timedOut,
	}
}

// Logs returns the accumulated log entries that pass f.
func (r *Relay) Logs(f Filter) []models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return f.Apply(r.logs)
}
