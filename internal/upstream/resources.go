package upstream

import (
	"context"
	"net/url"

	"github.com/multicloud-portal/portal/internal/models"
)

// ResourceGroupRequest creates a resource group.
type ResourceGroupRequest struct {
	Name           string            `json:"name"`
	Location       string            `json:"location"`
	ProviderType   string            `json:"provider_type"`
	SubscriptionID string            `json:"subscription_id"`
	Tags           map[string]string `json:"tags,omitempty"`
}

func scopeQuery(providerType, subscriptionID string) url.Values {
	q := url.Values{}
	if providerType != "" {
		q.Set("provider_type", providerType)
	}
	if subscriptionID != "" {
		q.Set("subscription_id", subscriptionID)
	}
	return q
}

// ListResourceGroups returns the resource groups in a subscription.
func (c *Client) ListResourceGroups(ctx context.Context, providerType, subscriptionID string) ([]models.ResourceGroup, error) {
	var result struct {
		ResourceGroups []models.ResourceGroup `json:"resource_groups"`
	}
	if err := c.get(ctx, "/resource-groups", scopeQuery(providerType, subscriptionID), &result); err != nil {
		return nil, err
	}
	return result.ResourceGroups, nil
}

// CreateResourceGroup creates a resource group.
func (c *Client) CreateResourceGroup(ctx context.Context, req ResourceGroupRequest) (*models.ResourceGroup, error) {
	var rg models.ResourceGroup
	if err := c.post(ctx, "/resource-groups", req, &rg); err != nil {
		return nil, err
	}
	return &rg, nil
}

// DeleteResourceGroup deletes a resource group and everything in it.
func (c *Client) DeleteResourceGroup(ctx context.Context, name, providerType, subscriptionID string) error {
	return c.delete(ctx, "/resource-groups/"+escape(name), scopeQuery(providerType, subscriptionID), nil)
}

// ListResources returns the resources inside a resource group.
func (c *Client) ListResources(ctx context.Context, group, providerType, subscriptionID string) ([]models.Resource, error) {
	var result struct {
		Resources []models.Resource `json:"resources"`
	}
	path := "/resource-groups/" + escape(group) + "/resources"
	if err := c.get(ctx, path, scopeQuery(providerType, subscriptionID), &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListSubscriptions returns the subscriptions the API can deploy into.
func (c *Client) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var result struct {
		Subscriptions []models.Subscription `json:"subscriptions"`
	}
	if err := c.get(ctx, "/subscriptions", nil, &result); err != nil {
		return nil, err
	}
	return result.Subscriptions, nil
}

// ListLocations returns deployable regions for a cloud.
func (c *Client) ListLocations(ctx context.Context, cloud models.Cloud) ([]models.Location, error) {
	var result struct {
		Locations []models.Location `json:"locations"`
		Regions   []models.Location `json:"regions"`
	}
	path := "/api/azure/locations"
	if cloud == models.CloudGCP {
		path = "/api/gcp/regions"
	}
	if err := c.get(ctx, path, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Locations) > 0 {
		return result.Locations, nil
	}
	return result.Regions, nil
}
