package upstream

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/multicloud-portal/portal/internal/models"
)

// ListProviders returns the available provider types.
func (c *Client) ListProviders(ctx context.Context) ([]models.Provider, error) {
	var result struct {
		Providers []models.Provider `json:"providers"`
	}
	if err := c.get(ctx, "/providers", nil, &result); err != nil {
		return nil, err
	}
	return result.Providers, nil
}

// ListTemplates returns templates, optionally filtered by provider type and cloud.
func (c *Client) ListTemplates(ctx context.Context, providerType, cloud string) ([]models.Template, error) {
	q := url.Values{}
	if providerType != "" {
		q.Set("provider_type", providerType)
	}
	if cloud != "" {
		q.Set("cloud", cloud)
	}

	var result struct {
		Templates []models.Template `json:"templates"`
	}
	if err := c.get(ctx, "/templates", q, &result); err != nil {
		return nil, err
	}
	return result.Templates, nil
}

// GetTemplate returns a template's details.
func (c *Client) GetTemplate(ctx context.Context, providerType, name string) (*models.Template, error) {
	var t models.Template
	if err := c.get(ctx, templatePath(providerType, name), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetParameters returns the template's parameters in declaration order.
func (c *Client) GetParameters(ctx context.Context, providerType, name string) ([]models.ParameterSpec, error) {
	var result struct {
		Parameters []rawParameter `json:"parameters"`
	}
	if err := c.get(ctx, templatePath(providerType, name)+"/parameters", nil, &result); err != nil {
		return nil, err
	}

	specs := make([]models.ParameterSpec, len(result.Parameters))
	for i, p := range result.Parameters {
		specs[i] = p.spec()
	}
	return specs, nil
}

// GetMetadata returns the template's extended metadata.
func (c *Client) GetMetadata(ctx context.Context, providerType, name string) (*models.TemplateMetadata, error) {
	var raw map[string]any
	if err := c.get(ctx, templatePath(providerType, name)+"/metadata", nil, &raw); err != nil {
		return nil, err
	}

	md := &models.TemplateMetadata{TemplateName: name, ProviderType: providerType, Raw: raw}
	if b, err := json.Marshal(raw); err == nil {
		_ = json.Unmarshal(b, md)
	}
	return md, nil
}

// EstimateCost returns a cost estimate for the given parameters.
func (c *Client) EstimateCost(ctx context.Context, providerType, name string, params map[string]any) (*models.CostEstimate, error) {
	if params == nil {
		params = map[string]any{}
	}
	var raw map[string]any
	if err := c.post(ctx, templatePath(providerType, name)+"/estimate-cost", params, &raw); err != nil {
		return nil, err
	}
	return costEstimateFrom(name, raw), nil
}

// costEstimateFrom reads the estimate fields the API is known to use.
func costEstimateFrom(name string, raw map[string]any) *models.CostEstimate {
	est := &models.CostEstimate{TemplateName: name, Currency: "USD", Raw: raw}
	for _, key := range []string{"monthly_cost", "total_monthly_cost", "estimated_monthly_cost", "total"} {
		if v, ok := raw[key].(float64); ok {
			est.MonthlyCost = v
			break
		}
	}
	if cur, ok := raw["currency"].(string); ok && cur != "" {
		est.Currency = cur
	}
	if bd, ok := raw["breakdown"].(map[string]any); ok {
		est.Breakdown = make(map[string]float64, len(bd))
		for k, v := range bd {
			if f, ok := v.(float64); ok {
				est.Breakdown[k] = f
			}
		}
	}
	if notes, ok := raw["notes"].([]any); ok {
		for _, n := range notes {
			if s, ok := n.(string); ok {
				est.Notes = append(est.Notes, s)
			}
		}
	}
	return est
}

func templatePath(providerType, name string) string {
	return "/templates/" + escape(providerType) + "/" + escape(name)
}

// rawParameter accepts both the current and the older parameter schema spelling.
type rawParameter struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	Default       any    `json:"default"`
	DefaultValue  any    `json:"defaultValue"`
	Required      *bool  `json:"required"`
	AllowedValues []any  `json:"allowed_values"`
	AllowedAlt    []any  `json:"allowedValues"`
}

func (p rawParameter) spec() models.ParameterSpec {
	s := models.ParameterSpec{
		Name:          p.Name,
		Type:          models.NormalizeParameterType(p.Type),
		Description:   p.Description,
		Default:       p.Default,
		AllowedValues: p.AllowedValues,
	}
	if s.Default == nil {
		s.Default = p.DefaultValue
	}
	if len(s.AllowedValues) == 0 {
		s.AllowedValues = p.AllowedAlt
	}
	if p.Required != nil {
		s.Required = *p.Required
	} else {
		s.Required = s.Default == nil
	}
	return s
}
