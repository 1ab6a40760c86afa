package domain

import "time"

// ProjectSummary is one row of the project list.
type ProjectSummary struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	Role         ProjectRole `json:"role,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Project is the detail view of a single project.
type Project struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Role      ProjectRole `json:"role,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
}

// ProjectRequest creates or renames a project.
type ProjectRequest struct {
	Name string `json:"name"`
}

// ProjectMember is one collaborator on a project.
type ProjectMember struct {
	UserID    int64       `json:"userId"`
	Username  string      `json:"username"`
	Name      string      `json:"name,omitempty"`
	Role      ProjectRole `json:"role"`
	InvitedAt *time.Time  `json:"invitedAt,omitempty"`
}

// InviteMemberRequest adds a collaborator by username (email).
type InviteMemberRequest struct {
	Username string      `json:"username"`
	Role     ProjectRole `json:"role"`
}

// FileNodeType distinguishes files from directories in the tree.
type FileNodeType string

const (
	FileNodeFile      FileNodeType = "file"
	FileNodeDirectory FileNodeType = "directory"
)

// FileNode is one node of the project file tree.
type FileNode struct {
	Name     string       `json:"name"`
	Path     string       `json:"path"`
	Type     FileNodeType `json:"type"`
	Children []*FileNode  `json:"children,omitempty"`
}

// DeployResponse carries the preview URL returned by a deploy.
type DeployResponse struct {
	PreviewURL string `json:"previewUrl"`
}
