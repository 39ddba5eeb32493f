package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
)

// EventType identifies a frame on a deployment's event stream.
type EventType string

const (
	EventStatus   EventType = "status"
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Event is one decoded frame from a deployment's event stream.
type Event struct {
	Type      EventType      `json:"type"`
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Level     string         `json:"level,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Progress  *int           `json:"progress,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
}

// Terminal reports whether the stream ends after this event.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError || e.Type == EventDone
}

// LogEntry converts a log event into a log entry. Text lines without level
// or phase fields are parsed in the bracketed log format.
func (e Event) LogEntry(deploymentID string, now time.Time) models.LogEntry {
	if e.Level == "" && e.Phase == "" && e.Timestamp == "" {
		entry := models.ParseLogLine(e.Message, now)
		entry.DeploymentID = deploymentID
		return entry
	}
	return models.LogEntry{
		DeploymentID: deploymentID,
		Timestamp:    models.ParseTimestamp(e.Timestamp, now),
		Level:        models.NormalizeLevel(e.Level),
		Phase:        models.NormalizePhase(e.Phase),
		Message:      e.Message,
		Details:      e.Details,
	}
}

// ErrStreamClosed is returned by Next once the stream has ended.
var ErrStreamClosed = errors.New("event stream closed")

// EventStream reads server-sent events from an open response body.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	// done is set by Close from another goroutine.
	done atomic.Bool
}

// OpenStream opens the event stream for a deployment. The stream stays open
// until the server ends it, ctx is cancelled, or Close is called.
func (c *Client) OpenStream(ctx context.Context, deploymentID string) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.url("/deployments/"+escape(deploymentID)+"/logs", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, parseError(resp.StatusCode, raw)
	}
	return NewEventStream(resp.Body), nil
}

// NewEventStream wraps a reader producing text/event-stream data.
func NewEventStream(body io.ReadCloser) *EventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &EventStream{body: body, scanner: sc}
}

// Next blocks until the next event arrives. It returns ErrStreamClosed after
// a terminal event or when the server closes the connection.
func (s *EventStream) Next() (Event, error) {
	if s.done.Load() {
		return Event{}, ErrStreamClosed
	}

	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			ev, err := decodeEvent(strings.Join(data, "\n"))
			if err != nil {
				data = data[:0]
				continue
			}
			if ev.Terminal() {
				s.done.Store(true)
			}
			return ev, nil
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if s.done.Swap(true) {
		return Event{}, ErrStreamClosed
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("reading event stream: %w", err)
	}
	if len(data) > 0 {
		if ev, err := decodeEvent(strings.Join(data, "\n")); err == nil {
			return ev, nil
		}
	}
	return Event{}, ErrStreamClosed
}

// Close releases the underlying connection. It may be called while Next is
// blocked; Next then returns ErrStreamClosed.
func (s *EventStream) Close() error {
	s.done.Store(true)
	return s.body.Close()
}

func decodeEvent(data string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return Event{}, err
	}
	if ev.Type == "" {
		ev.Type = EventLog
	}
	return ev, nil
}
