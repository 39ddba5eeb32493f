package upstream

import (
	"context"
	"net/url"
	"strconv"

	"github.com/multicloud-portal/portal/internal/models"
)

// DeployCredentials carries a user's custom cloud account settings.
type DeployCredentials struct {
	TenantID     string `json:"tenant_id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// DeployRequest is the payload for queueing a deployment.
type DeployRequest struct {
	TemplateName   string             `json:"template_name"`
	ProviderType   string             `json:"provider_type"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	ResourceGroup  string             `json:"resource_group"`
	Location       string             `json:"location"`
	Parameters     map[string]any     `json:"parameters"`
	Tags           []string           `json:"tags"`
	Credentials    *DeployCredentials `json:"credentials,omitempty"`
}

// Deploy queues a deployment.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*models.SubmitResult, error) {
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	var result models.SubmitResult
	if err := c.post(ctx, "/deploy", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDeployments returns deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, filter models.DeploymentFilter) ([]models.Deployment, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.ProviderType != "" {
		q.Set("provider_type", filter.ProviderType)
	}
	if filter.Tag != "" {
		q.Set("tag", filter.Tag)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var result struct {
		Deployments []models.Deployment `json:"deployments"`
	}
	if err := c.get(ctx, "/deployments", q, &result); err != nil {
		return nil, err
	}
	for i := range result.Deployments {
		result.Deployments[i].Status = models.ParseDeploymentStatus(string(result.Deployments[i].Status))
	}
	return result.Deployments, nil
}

// GetDeployment returns a deployment.
func (c *Client) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	var d models.Deployment
	if err := c.get(ctx, "/deployments/"+escape(id), nil, &d); err != nil {
		return nil, err
	}
	d.Status = models.ParseDeploymentStatus(string(d.Status))
	return &d, nil
}

// GetDeploymentStatus returns the deployment with its elapsed duration.
func (c *Client) GetDeploymentStatus(ctx context.Context, id string) (*models.DeploymentStatusReport, error) {
	var r models.DeploymentStatusReport
	if err := c.get(ctx, "/deployments/"+escape(id)+"/status", nil, &r); err != nil {
		return nil, err
	}
	r.Status = models.ParseDeploymentStatus(string(r.Status))
	return &r, nil
}

// DeleteDeployment removes a deployment record.
func (c *Client) DeleteDeployment(ctx context.Context, id string) error {
	return c.delete(ctx, "/deployments/"+escape(id), nil, nil)
}

// UpdateTags replaces a deployment's tags.
func (c *Client) UpdateTags(ctx context.Context, id string, tags []string) (*models.Deployment, error) {
	if tags == nil {
		tags = []string{}
	}
	var d models.Deployment
	if err := c.put(ctx, "/deployments/"+escape(id)+"/tags", tags, &d); err != nil {
		return nil, err
	}
	d.Status = models.ParseDeploymentStatus(string(d.Status))
	return &d, nil
}

// ListTags returns every tag used across deployments.
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var result struct {
		Tags []string `json:"tags"`
	}
	if err := c.get(ctx, "/deployments/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Tags, nil
}

// GetTaskStatus returns the state of the background task running a deployment.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	var ts models.TaskStatus
	if err := c.get(ctx, "/tasks/"+escape(taskID)+"/status", nil, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}
