package models

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genDeploymentStatus generates a random known DeploymentStatus.
func genDeploymentStatus() gopter.Gen {
	return gen.OneConstOf(
		DeploymentStatusPending,
		DeploymentStatusRunning,
		DeploymentStatusCompleted,
		DeploymentStatusFailed,
	)
}

// **Feature: deployment-portal, Property 1: Terminal deployments are immutable**
// For any deployment that reached completed or failed, applying any status
// SHALL fail and leave the status unchanged.
func TestTerminalDeploymentImmutable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("terminal status never changes", prop.ForAll(
		func(terminal DeploymentStatus, next DeploymentStatus) bool {
			d := &Deployment{ID: "deploy-1", Status: terminal}
			err := d.Apply(next)
			return err == ErrTerminalDeployment && d.Status == terminal
		},
		gen.OneConstOf(DeploymentStatusCompleted, DeploymentStatusFailed),
		genDeploymentStatus(),
	))

	properties.TestingRun(t)
}

// **Feature: deployment-portal, Property 2: Status only moves forward**
// For any sequence of reported statuses, the applied status rank never decreases.
func TestDeploymentStatusMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("rank is non-decreasing", prop.ForAll(
		func(seq []DeploymentStatus) bool {
			d := &Deployment{Status: DeploymentStatusPending}
			prev := d.Status.rank()
			for _, s := range seq {
				_ = d.Apply(s)
				if d.Status.rank() < prev {
					return false
				}
				prev = d.Status.rank()
			}
			return true
		},
		gen.SliceOf(genDeploymentStatus()),
	))

	properties.TestingRun(t)
}

func TestParseDeploymentStatus(t *testing.T) {
	tests := []struct {
		in   string
		want DeploymentStatus
	}{
		{"pending", DeploymentStatusPending},
		{"RUNNING", DeploymentStatusRunning},
		{"succeeded", DeploymentStatusCompleted},
		{"completed", DeploymentStatusCompleted},
		{" failed ", DeploymentStatusFailed},
		{"cancelled", DeploymentStatus("cancelled")},
	}
	for _, tt := range tests {
		if got := ParseDeploymentStatus(tt.in); got != tt.want {
			t.Errorf("ParseDeploymentStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeploymentDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	d := &Deployment{}
	if _, ok := d.Duration(end); ok {
		t.Fatal("expected no duration before start")
	}

	d.StartedAt = &start
	if got, _ := d.Duration(start.Add(time.Minute)); got != time.Minute {
		t.Errorf("live duration = %v, want 1m", got)
	}

	d.CompletedAt = &end
	if got, _ := d.Duration(end.Add(time.Hour)); got != 90*time.Second {
		t.Errorf("finished duration = %v, want 90s", got)
	}
}

func TestParseLogLine(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("structured with details", func(t *testing.T) {
		e := ParseLogLine(`[2026-04-30T12:00:01] [WARN] [planning] Plan has changes - {"add": 3}`, now)
		if e.Level != LogLevelWarning {
			t.Errorf("level = %q", e.Level)
		}
		if e.Phase != PhasePlanning {
			t.Errorf("phase = %q", e.Phase)
		}
		if e.Message != "Plan has changes" {
			t.Errorf("message = %q", e.Message)
		}
		if e.Details["add"] != float64(3) {
			t.Errorf("details = %v", e.Details)
		}
		if e.Timestamp.Year() != 2026 || e.Timestamp.Hour() != 12 {
			t.Errorf("timestamp = %v", e.Timestamp)
		}
	})

	t.Run("no phase", func(t *testing.T) {
		e := ParseLogLine(`[2026-04-30 12:00:01] [ERROR] boom`, now)
		if e.Phase != PhaseUnknown || e.Level != LogLevelError || e.Message != "boom" {
			t.Errorf("got %+v", e)
		}
	})

	t.Run("unstructured", func(t *testing.T) {
		e := ParseLogLine("terraform init", now)
		if e.Level != LogLevelInfo || e.Phase != PhaseUnknown || !e.Timestamp.Equal(now) || e.Message != "terraform init" {
			t.Errorf("got %+v", e)
		}
	})
}

func TestCloudForProvider(t *testing.T) {
	cases := map[string]Cloud{
		"azure":           CloudAzure,
		"bicep":           CloudAzure,
		"terraform-azure": CloudAzure,
		"gcp":             CloudGCP,
		"terraform-gcp":   CloudGCP,
		"terraform-aws":   CloudAWS,
	}
	for in, want := range cases {
		if got := CloudForProvider(in); got != want {
			t.Errorf("CloudForProvider(%q) = %q, want %q", in, got, want)
		}
	}
}
