package upstream

import (
	"context"

	"github.com/multicloud-portal/portal/internal/models"
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        models.User `json:"user"`
}

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Username string      `json:"username"`
	FullName string      `json:"full_name,omitempty"`
	Role     models.Role `json:"role,omitempty"`
}

// UserUpdate changes an account. Nil fields are left unchanged.
type UserUpdate struct {
	Username *string      `json:"username,omitempty"`
	FullName *string      `json:"full_name,omitempty"`
	Password *string      `json:"password,omitempty"`
	Role     *models.Role `json:"role,omitempty"`
	IsActive *bool        `json:"is_active,omitempty"`
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/auth/login", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	var result struct {
		User models.User `json:"user"`
	}
	if err := c.post(ctx, "/auth/register", req, &result); err != nil {
		return nil, err
	}
	return &result.User, nil
}

// Me returns the profile behind the client's token.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var result struct {
		User        models.User         `json:"user"`
		Permissions []models.Permission `json:"permissions"`
	}
	if err := c.get(ctx, "/auth/me", nil, &result); err != nil {
		return nil, err
	}
	result.User.Permissions = result.Permissions
	return &result.User, nil
}

// ListUsers returns all accounts. Requires manage_users upstream.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var result struct {
		Users []models.User `json:"users"`
	}
	if err := c.get(ctx, "/auth/users", nil, &result); err != nil {
		return nil, err
	}
	return result.Users, nil
}

// UpdateUser changes the account identified by email.
func (c *Client) UpdateUser(ctx context.Context, email string, update UserUpdate) (*models.User, error) {
	var result struct {
		User models.User `json:"user"`
	}
	if err := c.put(ctx, "/auth/users/"+escape(email), update, &result); err != nil {
		return nil, err
	}
	return &result.User, nil
}

// DeleteUser removes the account identified by email.
func (c *Client) DeleteUser(ctx context.Context, email string) error {
	return c.delete(ctx, "/auth/users/"+escape(email), nil, nil)
}
