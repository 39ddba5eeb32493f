package models

import "strings"

// ParameterType is the declared type of a template parameter.
type ParameterType string

const (
	ParamString       ParameterType = "string"
	ParamSecureString ParameterType = "securestring"
	ParamInt          ParameterType = "int"
	ParamBool         ParameterType = "bool"
	ParamArray        ParameterType = "array"
	ParamObject       ParameterType = "object"
)

// NormalizeParameterType folds the spellings used by Bicep and Terraform
// templates onto the canonical set. Unknown types are treated as strings.
func NormalizeParameterType(s string) ParameterType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "number":
		return ParamInt
	case "bool", "boolean":
		return ParamBool
	case "array", "list", "set", "tuple":
		return ParamArray
	case "object", "map":
		return ParamObject
	case "securestring", "secure_string", "sensitive":
		return ParamSecureString
	default:
		return ParamString
	}
}

// ParameterSpec describes one input a template accepts.
type ParameterSpec struct {
	Name          string        `json:"name"`
	Type          ParameterType `json:"type"`
	Description   string        `json:"description,omitempty"`
	Default       any           `json:"default,omitempty"`
	Required      bool          `json:"required"`
	AllowedValues []any         `json:"allowed_values,omitempty"`
}

// Template is an infrastructure template available for deployment.
type Template struct {
	Name          string          `json:"name"`
	DisplayName   string          `json:"display_name,omitempty"`
	Description   string          `json:"description,omitempty"`
	ProviderType  string          `json:"provider_type"`
	CloudProvider string          `json:"cloud_provider,omitempty"`
	Format        string          `json:"format,omitempty"`
	Version       string          `json:"version,omitempty"`
	Path          string          `json:"path,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Parameters    []ParameterSpec `json:"parameters,omitempty"`
}

// TemplateMetadata carries the extended metadata of a template.
type TemplateMetadata struct {
	TemplateName    string         `json:"template_name"`
	ProviderType    string         `json:"provider_type"`
	Category        string         `json:"category,omitempty"`
	CostEstimate    map[string]any `json:"cost_estimate,omitempty"`
	ValidationRules map[string]any `json:"validation_rules,omitempty"`
	Examples        []any          `json:"examples,omitempty"`
	Raw             map[string]any `json:"-"`
}

// CostEstimate is the projected monthly cost for a set of parameters.
type CostEstimate struct {
	TemplateName string             `json:"template_name,omitempty"`
	Currency     string             `json:"currency"`
	MonthlyCost  float64            `json:"monthly_cost"`
	Breakdown    map[string]float64 `json:"breakdown,omitempty"`
	Notes        []string           `json:"notes,omitempty"`
	Raw          map[string]any     `json:"details,omitempty"`
}

// Provider summarizes a provider type and its template count.
type Provider struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Format        string `json:"format,omitempty"`
	CloudProvider string `json:"cloud,omitempty"`
	TemplateCount int    `json:"template_count"`
}
