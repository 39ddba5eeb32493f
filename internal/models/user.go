package models

import "time"

// Role is a user's access level. admin includes everything user has,
// and user includes everything viewer has.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// IsValid returns true for the known roles.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser || r == RoleViewer
}

// Permission names a capability granted through a role.
type Permission string

const (
	PermRead        Permission = "read"
	PermWrite       Permission = "write"
	PermDeploy      Permission = "deploy"
	PermDelete      Permission = "delete"
	PermManageUsers Permission = "manage_users"
)

// User is an account known to the deployment API.
type User struct {
	ID          string       `json:"id,omitempty"`
	Email       string       `json:"email"`
	Username    string       `json:"username,omitempty"`
	FullName    string       `json:"full_name,omitempty"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions,omitempty"`
	IsActive    bool         `json:"is_active"`
}

// Session is an authenticated portal session. Token is the bearer token
// issued by the deployment API and is never returned to portal clients.
type Session struct {
	ID        string    `json:"id"`
	User      User      `json:"user"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
