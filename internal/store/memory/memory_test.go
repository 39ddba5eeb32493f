package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

var _ store.Store = (*Store)(nil)

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Sessions().Create(ctx, &models.Session{ID: "live", ExpiresAt: now.Add(time.Hour)})
	_ = s.Sessions().Create(ctx, &models.Session{ID: "old", ExpiresAt: now.Add(-time.Minute)})

	n, err := s.Sessions().DeleteExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired = %d, %v; want 1", n, err)
	}
	if _, err := s.Sessions().Get(ctx, "old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired session should be gone, got %v", err)
	}
	if _, err := s.Sessions().Get(ctx, "live"); err != nil {
		t.Errorf("live session should remain, got %v", err)
	}
}

func TestDraftIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	values := map[string]string{"vmName": "a"}
	_ = s.Drafts().Save(ctx, &models.Draft{UserEmail: "u", TemplateName: "vm", Values: values})
	values["vmName"] = "mutated"

	d, err := s.Drafts().Get(ctx, "u", "vm")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Values["vmName"] != "a" {
		t.Errorf("stored draft changed through caller's map: %q", d.Values["vmName"])
	}
}

func TestLogAppendSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	batch := []models.LogEntry{
		{DeploymentID: "d", Seq: 1, Message: "one"},
		{DeploymentID: "d", Seq: 2, Message: "two"},
	}
	_ = s.Logs().Append(ctx, batch)
	_ = s.Logs().Append(ctx, append(batch, models.LogEntry{DeploymentID: "d", Seq: 3, Message: "three"}))

	entries, _ := s.Logs().List(ctx, "d", 0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Errorf("entry %d has seq %d", i, e.Seq)
		}
	}
	if limited, _ := s.Logs().List(ctx, "d", 2); len(limited) != 2 {
		t.Errorf("limit not applied: %d", len(limited))
	}
}

func TestDeploymentUpsertKeepsTerminal(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Deployments().Upsert(ctx, &models.Deployment{ID: "d", Status: models.DeploymentStatusFailed})
	_ = s.Deployments().Upsert(ctx, &models.Deployment{ID: "d", Status: models.DeploymentStatusRunning})

	d, err := s.Deployments().Get(ctx, "d")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Status != models.DeploymentStatusFailed {
		t.Errorf("terminal status overwritten: %s", d.Status)
	}
}

func TestDeploymentListFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Now()
	t1 := t0.Add(time.Minute)
	_ = s.Deployments().Upsert(ctx, &models.Deployment{ID: "a", ProviderType: "azure", Tags: []string{"prod"}, Status: models.DeploymentStatusRunning, CreatedAt: &t0})
	_ = s.Deployments().Upsert(ctx, &models.Deployment{ID: "b", ProviderType: "azure", Tags: []string{"dev"}, Status: models.DeploymentStatusRunning, CreatedAt: &t1})
	_ = s.Deployments().Upsert(ctx, &models.Deployment{ID: "c", ProviderType: "terraform-gcp", Status: models.DeploymentStatusCompleted, CreatedAt: &t1})

	all, _ := s.Deployments().List(ctx, models.DeploymentFilter{ProviderType: "azure"})
	if len(all) != 2 || all[0].ID != "b" {
		t.Errorf("expected newest azure deployment first, got %v", all)
	}
	tagged, _ := s.Deployments().List(ctx, models.DeploymentFilter{Tag: "prod"})
	if len(tagged) != 1 || tagged[0].ID != "a" {
		t.Errorf("tag filter failed: %v", tagged)
	}
	done, _ := s.Deployments().List(ctx, models.DeploymentFilter{Status: "completed"})
	if len(done) != 1 || done[0].ID != "c" {
		t.Errorf("status filter failed: %v", done)
	}
}

func TestCredentialsPerCloud(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Credentials().Save(ctx, &models.Credential{UserEmail: "u", Cloud: models.CloudGCP, ProjectID: "p"})
	_ = s.Credentials().Save(ctx, &models.Credential{UserEmail: "u", Cloud: models.CloudAzure, SubscriptionID: "s"})
	_ = s.Credentials().Save(ctx, &models.Credential{UserEmail: "other", Cloud: models.CloudAzure})

	list, _ := s.Credentials().List(ctx, "u")
	if len(list) != 2 || list[0].Cloud != models.CloudAzure {
		t.Errorf("unexpected list %v", list)
	}
	_ = s.Credentials().Delete(ctx, "u", models.CloudGCP)
	if _, err := s.Credentials().Get(ctx, "u", models.CloudGCP); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}
