package models

import (
	"strings"
	"time"
)

// Draft is an unsent form state, saved per user and template.
type Draft struct {
	UserEmail    string            `json:"-"`
	TemplateName string            `json:"template_name"`
	Values       map[string]string `json:"values"`
	SavedAt      time.Time         `json:"saved_at"`
}

// Cloud identifies a cloud platform for credential lookup.
type Cloud string

const (
	CloudAzure Cloud = "azure"
	CloudGCP   Cloud = "gcp"
	CloudAWS   Cloud = "aws"
)

// CloudForProvider maps a provider type (azure, terraform-gcp, ...) to its cloud.
func CloudForProvider(providerType string) Cloud {
	p := strings.ToLower(providerType)
	switch {
	case strings.HasSuffix(p, "gcp"):
		return CloudGCP
	case strings.HasSuffix(p, "aws"):
		return CloudAWS
	default:
		return CloudAzure
	}
}

// Credential holds the custom account settings a user stored for one cloud.
// Secret is kept encrypted at rest.
type Credential struct {
	UserEmail      string    `json:"-"`
	Cloud          Cloud     `json:"cloud"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	ProjectID      string    `json:"project_id,omitempty"`
	TenantID       string    `json:"tenant_id,omitempty"`
	ClientID       string    `json:"client_id,omitempty"`
	Secret         string    `json:"secret,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Redacted returns a copy safe to hand back to clients.
func (c Credential) Redacted() Credential {
	if c.Secret != "" {
		c.Secret = "********"
	}
	return c
}

// ParameterSet is a named, reusable set of parameter values for a template.
type ParameterSet struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	TemplateName string         `json:"template_name"`
	ProviderType string         `json:"provider_type"`
	Parameters   map[string]any `json:"parameters"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
}

// ResourceGroup is a cloud resource container.
type ResourceGroup struct {
	Name      string            `json:"name"`
	Location  string            `json:"location"`
	Tags      map[string]string `json:"tags,omitempty"`
	State     string            `json:"provisioning_state,omitempty"`
	Resources int               `json:"resource_count,omitempty"`
}

// Resource is a cloud resource inside a resource group.
type Resource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location,omitempty"`
}

// Location is a deployable region.
type Location struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// Subscription is a cloud account scope (Azure subscription or GCP project).
type Subscription struct {
	ID    string `json:"subscription_id"`
	Name  string `json:"display_name,omitempty"`
	State string `json:"state,omitempty"`
}
