package relay

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/multicloud-portal/portal/internal/metrics"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store/memory"
)

func receive(t *testing.T, sub *Subscriber, kind EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Ch:
			if !ok {
				t.Fatalf("channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestHubSharesRelayAndArchives(t *testing.T) {
	st := memory.New()
	m := metrics.New()
	hub := NewHub(Config{StatusInterval: time.Hour}, 16, st, m, nil)
	defer hub.Close()

	src := newFakeSource(always(models.DeploymentStatusRunning))
	a, _, err := hub.Subscribe("deploy-h1", src)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	b, _, err := hub.Subscribe("deploy-h1", newFakeSource(always(models.DeploymentStatusRunning)))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if hub.Active() != 1 {
		t.Fatalf("expected one shared relay, got %d", hub.Active())
	}

	src.send(t, map[string]any{"type": "log", "level": "INFO", "phase": "planning", "message": "plan ready"})
	for _, sub := range []*Subscriber{a, b} {
		ev := receive(t, sub, EventLog)
		if ev.Log == nil || ev.Log.Message != "plan ready" || ev.DeploymentID != "deploy-h1" {
			t.Errorf("unexpected log event %+v", ev)
		}
	}

	eventually(t, "archived log", func() bool {
		logs, _ := st.Logs().List(context.Background(), "deploy-h1", 0)
		return len(logs) == 1
	})
	eventually(t, "mirrored status", func() bool {
		d, err := st.Deployments().Get(context.Background(), "deploy-h1")
		return err == nil && d.Status == models.DeploymentStatusRunning
	})
	if got := testutil.ToFloat64(m.RelaySubscribers); got != 2 {
		t.Errorf("subscriber gauge = %v, want 2", got)
	}

	hub.Unsubscribe(a)
	if hub.Active() != 1 {
		t.Error("relay should keep running while a subscriber remains")
	}
	hub.Unsubscribe(b)
	if hub.Active() != 0 {
		t.Error("relay should stop when the last subscriber leaves")
	}
	eventually(t, "active gauge", func() bool { return testutil.ToFloat64(m.RelaysActive) == 0 })
}

func TestHubSnapshotOnSubscribe(t *testing.T) {
	st := memory.New()
	hub := NewHub(Config{StatusInterval: time.Hour}, 16, st, nil, nil)
	defer hub.Close()

	src := newFakeSource(always(models.DeploymentStatusRunning))
	first, _, _ := hub.Subscribe("deploy-h2", src)
	src.send(t, map[string]any{"type": "log", "message": "one"})
	src.send(t, map[string]any{"type": "log", "message": "two"})
	receive(t, first, EventLog)
	receive(t, first, EventLog)

	_, snap, err := hub.Subscribe("deploy-h2", src)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(snap.Logs) != 2 || snap.Logs[1].Seq != 2 {
		t.Errorf("late subscriber should see existing logs, got %+v", snap.Logs)
	}
}

func TestHubOutcomeMetricsAndMirror(t *testing.T) {
	st := memory.New()
	m := metrics.New()
	hub := NewHub(fastConfig(), 16, st, m, nil)
	defer hub.Close()

	src := newFakeSource(always(models.DeploymentStatusRunning))
	sub, _, _ := hub.Subscribe("deploy-h3", src)
	src.send(t, map[string]any{"type": "status", "status": "failed", "message": "quota exceeded"})

	ev := receive(t, sub, EventError)
	if ev.Message != "quota exceeded" {
		t.Errorf("unexpected error message %q", ev.Message)
	}
	eventually(t, "failed mirror", func() bool {
		d, err := st.Deployments().Get(context.Background(), "deploy-h3")
		return err == nil && d.Status == models.DeploymentStatusFailed
	})
	if got := testutil.ToFloat64(m.RelayOutcomes.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed outcomes = %v, want 1", got)
	}
	eventually(t, "counted status check", func() bool { return testutil.ToFloat64(m.RelayPolls) >= 1 })
}

func TestHubClose(t *testing.T) {
	hub := NewHub(Config{StatusInterval: time.Hour}, 16, memory.New(), nil, nil)
	sub, _, _ := hub.Subscribe("deploy-h4", newFakeSource(always(models.DeploymentStatusRunning)))
	hub.Close()

	select {
	case _, ok := <-sub.Ch:
		for ok {
			_, ok = <-sub.Ch
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber channel not closed")
	}
	if _, _, err := hub.Subscribe("deploy-h4", nil); err != ErrHubClosed {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
}
