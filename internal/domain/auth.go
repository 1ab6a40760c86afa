package domain

import (
	"context"
	"fmt"
	"strings"
)

// ProjectRole is a member's role within a project.
type ProjectRole string

const (
	ProjectRoleOwner  ProjectRole = "OWNER"
	ProjectRoleEditor ProjectRole = "EDITOR"
	ProjectRoleViewer ProjectRole = "VIEWER"
)

// AllProjectRoles lists every valid project role for validation purposes.
var AllProjectRoles = []ProjectRole{ProjectRoleOwner, ProjectRoleEditor, ProjectRoleViewer}

// Permission represents a granular project action that can be authorized.
type Permission string

const (
	PermProjectView   Permission = "project:view"
	PermProjectEdit   Permission = "project:edit"
	PermProjectDelete Permission = "project:delete"
	PermChatSend      Permission = "chat:send"
	PermFileEdit      Permission = "file:edit"
	PermDeploy        Permission = "project:deploy"
	PermMemberManage  Permission = "member:manage"
)

// RolePermissions maps each role to its granted permissions.
// Higher roles include all permissions of lower roles plus their own.
var RolePermissions = map[ProjectRole][]Permission{
	ProjectRoleOwner: {
		PermProjectView, PermProjectEdit, PermProjectDelete,
		PermChatSend, PermFileEdit, PermDeploy,
		PermMemberManage,
	},
	ProjectRoleEditor: {
		PermProjectView, PermProjectEdit,
		PermChatSend, PermFileEdit, PermDeploy,
	},
	ProjectRoleViewer: {
		PermProjectView,
	},
}

// Can reports whether role grants perm. An empty role is treated as
// unknown and grants nothing but viewing, matching how the backend omits
// the role for legacy projects the caller can already see.
func (r ProjectRole) Can(perm Permission) bool {
	if r == "" {
		return perm == PermProjectView
	}
	for _, p := range RolePermissions[r] {
		if p == perm {
			return true
		}
	}
	return false
}

// Authorize returns ErrForbidden when role lacks perm.
func Authorize(role ProjectRole, perm Permission) error {
	if role.Can(perm) {
		return nil
	}
	return fmt.Errorf("%w: role %s lacks %s", ErrForbidden, displayRole(role), perm)
}

func displayRole(r ProjectRole) string {
	if r == "" {
		return "(none)"
	}
	return string(r)
}

// ParseProjectRole converts user input (any case) to a ProjectRole.
func ParseProjectRole(s string) (ProjectRole, error) {
	r := ProjectRole(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range AllProjectRoles {
		if r == valid {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown project role %q", ErrInvalidInput, s)
}

// LoginCredentials is the body of the login request.
type LoginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the body of the signup request.
type SignupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// UserInfo is the locally stored identity of the logged-in user.
type UserInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	Token     string    `json:"token"`
	ProjectID string    `json:"projectId,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
}

// Credentials is what the credential store persists between runs.
type Credentials struct {
	Token string    `json:"token"`
	User  *UserInfo `json:"user,omitempty"`
}

// CredentialStore persists the auth token and user info between runs.
type CredentialStore interface {
	Load() (*Credentials, error)
	Save(creds Credentials) error
	Clear() error
}

// TokenSource supplies the current bearer token for outbound requests.
// An empty token with nil error means "not logged in".
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }
