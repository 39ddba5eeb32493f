package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/upstream"
)

// fakeSource serves an event stream through a pipe and answers status
// checks from a function.
type fakeSource struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	openErr error
	status  func(call int) (models.DeploymentStatus, error)
	calls   atomic.Int32
}

func newFakeSource(status func(call int) (models.DeploymentStatus, error)) *fakeSource {
	pr, pw := io.Pipe()
	return &fakeSource{pr: pr, pw: pw, status: status}
}

func (f *fakeSource) OpenStream(ctx context.Context, id string) (*upstream.EventStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return upstream.NewEventStream(f.pr), nil
}

func (f *fakeSource) GetDeploymentStatus(ctx context.Context, id string) (*models.DeploymentStatusReport, error) {
	n := int(f.calls.Add(1))
	st, err := f.status(n)
	if err != nil {
		return nil, err
	}
	return &models.DeploymentStatusReport{Deployment: models.Deployment{ID: id, Status: st}}, nil
}

func (f *fakeSource) send(t *testing.T, frame map[string]any) {
	t.Helper()
	b, _ := json.Marshal(frame)
	if _, err := fmt.Fprintf(f.pw, "data: %s\n\n", b); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func always(st models.DeploymentStatus) func(int) (models.DeploymentStatus, error) {
	return func(int) (models.DeploymentStatus, error) { return st, nil }
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) find(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func fastConfig() Config {
	return Config{StatusInterval: 5 * time.Millisecond, MaxPollAttempts: 0, NavigateDelay: 10 * time.Millisecond}
}

func TestRelayAccumulatesLogsInOrder(t *testing.T) {
	src := newFakeSource(always(models.DeploymentStatusRunning))
	rec := &recorder{}
	r := New("deploy-1", src, Config{StatusInterval: time.Hour}, rec.emit, nil)
	r.Start(context.Background())
	defer r.Stop()

	src.send(t, map[string]any{"type": "log", "level": "INFO", "phase": "initialization", "message": "one"})
	src.send(t, map[string]any{"type": "log", "level": "WARNING", "phase": "planning", "message": "two"})
	src.send(t, map[string]any{"type": "log", "message": "[2024-05-01 10:00:00] [ERROR] [applying] three"})

	eventually(t, "three logs", func() bool { return len(r.Snapshot().Logs) == 3 })

	logs := r.Snapshot().Logs
	for i, want := range []string{"one", "two", "three"} {
		if logs[i].Message != want || logs[i].Seq != int64(i+1) {
			t.Errorf("log %d = %q seq %d", i, logs[i].Message, logs[i].Seq)
		}
	}
	if logs[2].Level != models.LogLevelError || logs[2].Phase != models.PhaseApplying {
		t.Errorf("bracketed line not parsed: %+v", logs[2])
	}
	if r.Snapshot().Status != models.DeploymentStatusRunning {
		t.Errorf("expected running from the status check, got %s", r.Snapshot().Status)
	}
}

func TestRelayFailedStopsPollingAndKeepsLogs(t *testing.T) {
	var fail atomic.Bool
	src := newFakeSource(func(int) (models.DeploymentStatus, error) {
		if fail.Load() {
			return models.DeploymentStatusFailed, nil
		}
		return models.DeploymentStatusRunning, nil
	})
	rec := &recorder{}
	r := New("deploy-2", src, fastConfig(), rec.emit, nil)
	r.Start(context.Background())
	defer r.Stop()

	src.send(t, map[string]any{"type": "log", "level": "INFO", "message": "starting"})
	src.send(t, map[string]any{"type": "log", "level": "ERROR", "message": "quota exceeded"})
	eventually(t, "logs", func() bool { return len(r.Snapshot().Logs) == 2 })

	fail.Store(true)
	eventually(t, "failed status", func() bool { return r.Snapshot().Status == models.DeploymentStatusFailed })

	calls := src.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if src.calls.Load() != calls {
		t.Errorf("polling continued after failure: %d -> %d calls", calls, src.calls.Load())
	}

	snap := r.Snapshot()
	if snap.Polling {
		t.Error("snapshot should report polling stopped")
	}
	if len(snap.Logs) != 2 {
		t.Errorf("logs should be left intact, got %d", len(snap.Logs))
	}
	ev, ok := rec.find(EventError)
	if !ok || ev.Message == "" {
		t.Errorf("expected an error event with a message, got %+v", ev)
	}
}

func TestRelayTimeoutAfterMaxAttempts(t *testing.T) {
	src := newFakeSource(always(models.DeploymentStatusRunning))
	rec := &recorder{}
	cfg := fastConfig()
	cfg.MaxPollAttempts = 3
	r := New("deploy-3", src, cfg, rec.emit, nil)
	r.Start(context.Background())
	defer r.Stop()

	eventually(t, "timeout", func() bool { return r.Snapshot().TimedOut })

	snap := r.Snapshot()
	if snap.PollAttempts != 3 || src.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d (calls %d)", snap.PollAttempts, src.calls.Load())
	}
	if _, ok := rec.find(EventTimeout); !ok {
		t.Error("expected a timeout event")
	}
	if snap.Status != models.DeploymentStatusRunning {
		t.Errorf("timeout must not change the status, got %s", snap.Status)
	}
}

func TestRelayCompletedNavigates(t *testing.T) {
	src := newFakeSource(always(models.DeploymentStatusRunning))
	rec := &recorder{}
	r := New("deploy-4", src, fastConfig(), rec.emit, nil)
	r.Start(context.Background())
	defer r.Stop()

	src.send(t, map[string]any{"type": "complete", "message": "Deployment completed", "outputs": map[string]any{"ip": "10.0.0.4"}})

	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not finish after completion")
	}

	nav, ok := rec.find(EventNavigate)
	if !ok || nav.URL != "/deployments/deploy-4" {
		t.Fatalf("expected navigate event, got %v", rec.kinds())
	}
	snap := r.Snapshot()
	if snap.Status != models.DeploymentStatusCompleted || snap.Outputs["ip"] != "10.0.0.4" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != EventClosed {
		t.Errorf("closed should be the last event, got %v", kinds)
	}
}

func TestRelayStreamOpenErrorKeepsPolling(t *testing.T) {
	src := newFakeSource(func(call int) (models.DeploymentStatus, error) {
		if call < 3 {
			return models.DeploymentStatusRunning, nil
		}
		return models.DeploymentStatusCompleted, nil
	})
	src.openErr = errors.New("connection refused")
	rec := &recorder{}
	r := New("deploy-5", src, fastConfig(), rec.emit, nil)
	r.Start(context.Background())
	defer r.Stop()

	eventually(t, "completion via polling", func() bool {
		return r.Snapshot().Status == models.DeploymentStatusCompleted
	})
	if r.Snapshot().StreamOpen {
		t.Error("stream should be reported closed")
	}
	if _, ok := rec.find(EventError); !ok {
		t.Error("expected a stream error event")
	}
}

func TestRelayStopDiscardsLateResults(t *testing.T) {
	release := make(chan struct{})
	src := newFakeSource(func(int) (models.DeploymentStatus, error) {
		<-release
		return models.DeploymentStatusCompleted, nil
	})
	rec := &recorder{}
	r := New("deploy-6", src, fastConfig(), rec.emit, nil)
	r.Start(context.Background())

	eventually(t, "status check in flight", func() bool { return src.calls.Load() == 1 })
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	r.Stop()

	if st := r.Snapshot().Status; st != models.DeploymentStatusPending {
		t.Errorf("late result applied after Stop: %s", st)
	}
	for _, k := range rec.kinds() {
		if k == EventStatus || k == EventComplete || k == EventClosed {
			t.Errorf("unexpected event %s after Stop", k)
		}
	}
}

func TestRelayIgnoresBackwardTransitions(t *testing.T) {
	src := newFakeSource(always(models.DeploymentStatusPending))
	rec := &recorder{}
	r := New("deploy-7", src, Config{StatusInterval: time.Hour}, rec.emit, nil)
	r.Start(context.Background())
	defer r.Stop()

	src.send(t, map[string]any{"type": "status", "status": "running"})
	eventually(t, "running", func() bool { return r.Snapshot().Status == models.DeploymentStatusRunning })
	src.send(t, map[string]any{"type": "status", "status": "pending"})
	src.send(t, map[string]any{"type": "progress", "progress": 40, "phase": "applying"})
	eventually(t, "progress", func() bool { return r.Snapshot().Progress == 40 })

	if st := r.Snapshot().Status; st != models.DeploymentStatusRunning {
		t.Errorf("status moved backwards to %s", st)
	}
	if ph := r.Snapshot().Phase; ph != "applying" {
		t.Errorf("phase = %q", ph)
	}
}

func TestRelayStreamErrorLeavesStatusToPoller(t *testing.T) {
	var done atomic.Bool
	src := newFakeSource(func(int) (models.DeploymentStatus, error) {
		if done.Load() {
			return models.DeploymentStatusCompleted, nil
		}
		return models.DeploymentStatusRunning, nil
	})
	rec := &recorder{}
	r := New("deploy-8", src, fastConfig(), rec.emit, nil)
	r.Start(context.Background())
	defer r.Stop()

	src.send(t, map[string]any{"type": "status", "status": "running"})
	src.send(t, map[string]any{"type": "error", "message": "database connection reset"})
	eventually(t, "stream closed", func() bool { return !r.Snapshot().StreamOpen })

	ev, ok := rec.find(EventError)
	if !ok || ev.Message != "database connection reset" || ev.Status != "" {
		t.Fatalf("expected a stream error event without a status, got %+v", ev)
	}
	snap := r.Snapshot()
	if snap.Status != models.DeploymentStatusRunning || !snap.Polling {
		t.Fatalf("stream error changed the deployment: status=%s polling=%v", snap.Status, snap.Polling)
	}

	calls := src.calls.Load()
	eventually(t, "polling continues", func() bool { return src.calls.Load() > calls+1 })

	done.Store(true)
	eventually(t, "completion via polling", func() bool {
		return r.Snapshot().Status == models.DeploymentStatusCompleted
	})
}

func TestRelayStopWhileStreamBlocked(t *testing.T) {
	src := newFakeSource(always(models.DeploymentStatusRunning))
	rec := &recorder{}
	r := New("deploy-9", src, Config{StatusInterval: time.Hour}, rec.emit, nil)
	r.Start(context.Background())

	src.send(t, map[string]any{"type": "log", "message": "one"})
	eventually(t, "first log", func() bool { return len(r.Snapshot().Logs) == 1 })

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while the stream was blocked")
	}
	select {
	case <-r.Done():
	default:
		t.Error("relay not done after Stop")
	}
}
