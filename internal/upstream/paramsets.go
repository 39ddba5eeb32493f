package upstream

import (
	"context"
	"net/url"

	"github.com/multicloud-portal/portal/internal/models"
)

// ListParameterSets returns saved parameter sets, optionally for one template.
func (c *Client) ListParameterSets(ctx context.Context, templateName string) ([]models.ParameterSet, error) {
	q := url.Values{}
	if templateName != "" {
		q.Set("template_name", templateName)
	}
	var result struct {
		ParameterSets []models.ParameterSet `json:"parameter_sets"`
	}
	if err := c.get(ctx, "/parameter-sets", q, &result); err != nil {
		return nil, err
	}
	return result.ParameterSets, nil
}

// GetParameterSet returns one saved parameter set.
func (c *Client) GetParameterSet(ctx context.Context, id string) (*models.ParameterSet, error) {
	var ps models.ParameterSet
	if err := c.get(ctx, "/parameter-sets/"+escape(id), nil, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// CreateParameterSet saves a new parameter set.
func (c *Client) CreateParameterSet(ctx context.Context, ps models.ParameterSet) (*models.ParameterSet, error) {
	var out models.ParameterSet
	if err := c.post(ctx, "/parameter-sets", ps, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateParameterSet replaces a saved parameter set.
func (c *Client) UpdateParameterSet(ctx context.Context, id string, ps models.ParameterSet) (*models.ParameterSet, error) {
	var out models.ParameterSet
	if err := c.put(ctx, "/parameter-sets/"+escape(id), ps, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteParameterSet removes a saved parameter set.
func (c *Client) DeleteParameterSet(ctx context.Context, id string) error {
	return c.delete(ctx, "/parameter-sets/"+escape(id), nil, nil)
}
