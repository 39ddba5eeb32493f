// Package models provides data models for the multi-cloud deployment portal.
package models

import (
	"errors"
	"strings"
	"time"
)

// DeploymentStatus represents the current state of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusPending   DeploymentStatus = "pending"
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusCompleted DeploymentStatus = "completed"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// ErrTerminalDeployment is returned when a status change is attempted on a finished deployment.
var ErrTerminalDeployment = errors.New("deployment already reached a terminal status")

// ErrInvalidTransition is returned for status changes that move backwards.
var ErrInvalidTransition = errors.New("invalid deployment status transition")

// ParseDeploymentStatus normalizes a status string reported by the deployment API.
// Unknown values are returned as-is so callers can surface them.
func ParseDeploymentStatus(s string) DeploymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "accepted":
		return DeploymentStatusPending
	case "running", "in_progress", "started":
		return DeploymentStatusRunning
	case "completed", "succeeded", "success":
		return DeploymentStatusCompleted
	case "failed", "failure", "error":
		return DeploymentStatusFailed
	default:
		return DeploymentStatus(s)
	}
}

// IsTerminal reports whether no further status change is possible.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusCompleted || s == DeploymentStatusFailed
}

// IsValid returns true if the status is one of the known states.
func (s DeploymentStatus) IsValid() bool {
	switch s {
	case DeploymentStatusPending, DeploymentStatusRunning, DeploymentStatusCompleted, DeploymentStatusFailed:
		return true
	default:
		return false
	}
}

func (s DeploymentStatus) rank() int {
	switch s {
	case DeploymentStatusPending:
		return 0
	case DeploymentStatusRunning:
		return 1
	case DeploymentStatusCompleted, DeploymentStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Transitions only move forward: pending -> running -> {completed, failed}.
// Re-reporting the current status is allowed for non-terminal states.
func (s DeploymentStatus) CanTransitionTo(next DeploymentStatus) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if !s.IsValid() {
		return true
	}
	return next.rank() >= s.rank()
}

// String returns the string representation of the status.
func (s DeploymentStatus) String() string {
	return string(s)
}

// ValidDeploymentStatuses returns all known statuses in lifecycle order.
func ValidDeploymentStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		DeploymentStatusPending,
		DeploymentStatusRunning,
		DeploymentStatusCompleted,
		DeploymentStatusFailed,
	}
}

// Deployment is a single execution of a template against a target cloud.
type Deployment struct {
	ID            string           `json:"deployment_id"`
	TemplateName  string           `json:"template_name"`
	ProviderType  string           `json:"provider_type"`
	CloudProvider string           `json:"cloud_provider,omitempty"`
	ResourceGroup string           `json:"resource_group"`
	Location      string           `json:"location,omitempty"`
	Parameters    map[string]any   `json:"parameters,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	Status        DeploymentStatus `json:"status"`
	TaskID        string           `json:"celery_task_id,omitempty"`
	Outputs       map[string]any   `json:"outputs,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	CreatedAt     *time.Time       `json:"created_at,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Apply moves the deployment to next, refusing any change once terminal.
func (d *Deployment) Apply(next DeploymentStatus) error {
	if d.Status == next && !next.IsTerminal() {
		return nil
	}
	if d.Status.IsTerminal() {
		return ErrTerminalDeployment
	}
	if !d.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	d.Status = next
	return nil
}

// Duration returns how long the deployment has run, measured up to now for live deployments.
func (d *Deployment) Duration(now time.Time) (time.Duration, bool) {
	if d.StartedAt == nil {
		return 0, false
	}
	if d.CompletedAt != nil {
		return d.CompletedAt.Sub(*d.StartedAt), true
	}
	return now.Sub(*d.StartedAt), true
}

// DeploymentStatusReport is the status endpoint's view of a deployment.
type DeploymentStatusReport struct {
	Deployment
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// TaskStatus describes the background task executing a deployment.
type TaskStatus struct {
	TaskID   string         `json:"task_id"`
	State    string         `json:"state"`
	Phase    string         `json:"phase"`
	Progress int            `json:"progress"`
	Status   string         `json:"status"`
	Info     map[string]any `json:"info,omitempty"`
}

// DeploymentFilter narrows a deployment listing.
type DeploymentFilter struct {
	Status       string
	ProviderType string
	Tag          string
	Limit        int
}

// SubmitResult is returned by the deployment API after queueing a deployment.
type SubmitResult struct {
	DeploymentID  string `json:"deployment_id"`
	Status        string `json:"status"`
	TaskID        string `json:"task_id,omitempty"`
	ResourceGroup string `json:"resource_group,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Template      string `json:"template,omitempty"`
	Message       string `json:"message,omitempty"`
}
