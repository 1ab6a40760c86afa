package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"project-companion/internal/domain"
)

// Login exchanges email and password for a token.
func (c *Client) Login(ctx context.Context, creds domain.LoginCredentials) (*domain.AuthResponse, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}
	var out domain.AuthResponse
	err := c.do(ctx, call{
		op: "Login", method: http.MethodPost, path: "/api/auth/login",
		body: creds, anonymous: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup registers a new account and returns its token.
func (c *Client) Signup(ctx context.Context, req domain.SignupRequest) (*domain.AuthResponse, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: email, name and password are required", domain.ErrInvalidInput)
	}
	var out domain.AuthResponse
	err := c.do(ctx, call{
		op: "Signup", method: http.MethodPost, path: "/api/auth/signup",
		body: req, anonymous: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects returns the projects visible to the caller.
func (c *Client) ListProjects(ctx context.Context) ([]domain.ProjectSummary, error) {
	var out []domain.ProjectSummary
	err := c.do(ctx, call{op: "ListProjects", method: http.MethodGet, path: "/api/projects"}, &out)
	return out, err
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewSubSystemError("project", "API.CreateProject", domain.ErrInvalidInput, "name is required")
	}
	var out domain.Project
	err := c.do(ctx, call{
		op: "CreateProject", method: http.MethodPost, path: "/api/projects",
		body: domain.ProjectRequest{Name: name}, subsystem: "project",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProject returns one project, including the caller's role in it.
func (c *Client) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	var out domain.Project
	err := c.do(ctx, call{
		op: "GetProject", method: http.MethodGet, path: projectPath(projectID), subsystem: "project",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameProject changes a project's name.
func (c *Client) RenameProject(ctx context.Context, projectID, name string) (*domain.Project, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewSubSystemError("project", "API.RenameProject", domain.ErrInvalidInput, "name is required")
	}
	var out domain.Project
	err := c.do(ctx, call{
		op: "RenameProject", method: http.MethodPatch, path: projectPath(projectID),
		body: domain.ProjectRequest{Name: name}, subsystem: "project",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	if err := requireID("project", projectID); err != nil {
		return err
	}
	return c.do(ctx, call{
		op: "DeleteProject", method: http.MethodDelete, path: projectPath(projectID), subsystem: "project",
	}, nil)
}

type fileListResponse struct {
	Files []struct {
		Path string `json:"path"`
	} `json:"files"`
}

// ListFilePaths returns the paths of every file in the project.
func (c *Client) ListFilePaths(ctx context.Context, projectID string) ([]string, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	var out fileListResponse
	err := c.do(ctx, call{
		op: "ListFiles", method: http.MethodGet,
		path: "/api/project/" + url.PathEscape(projectID) + "/files", subsystem: "project",
	}, &out)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(out.Files))
	for _, f := range out.Files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// ListFiles returns the project's files as a tree.
func (c *Client) ListFiles(ctx context.Context, projectID string) ([]*domain.FileNode, error) {
	paths, err := c.ListFilePaths(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return BuildFileTree(paths), nil
}

// GetFileContent returns the contents of one project file.
func (c *Client) GetFileContent(ctx context.Context, projectID, path string) (string, error) {
	if err := requireID("project", projectID); err != nil {
		return "", err
	}
	if path == "" {
		return "", domain.NewSubSystemError("file", "API.GetFileContent", domain.ErrInvalidInput, "path is required")
	}
	var out struct {
		Content string `json:"content"`
	}
	err := c.do(ctx, call{
		op: "GetFileContent", method: http.MethodGet,
		path:  "/api/project/" + url.PathEscape(projectID) + "/files/content",
		query: url.Values{"path": {path}}, subsystem: "file",
	}, &out)
	return out.Content, err
}

// DownloadZip streams the project archive to w and returns the bytes
// written.
func (c *Client) DownloadZip(ctx context.Context, projectID string, w io.Writer) (int64, error) {
	if err := requireID("project", projectID); err != nil {
		return 0, err
	}
	req := call{
		op: "DownloadZip", method: http.MethodGet,
		path: projectPath(projectID, "files", "download-zip"), subsystem: "project",
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, c.wrap(req, fmt.Errorf("copy archive: %w", err))
	}
	return n, nil
}

// ListMembers returns a project's collaborators.
func (c *Client) ListMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	var out []domain.ProjectMember
	err := c.do(ctx, call{
		op: "ListMembers", method: http.MethodGet, path: projectPath(projectID, "members"), subsystem: "project",
	}, &out)
	return out, err
}

// InviteMember adds a collaborator to a project.
func (c *Client) InviteMember(ctx context.Context, projectID string, req domain.InviteMemberRequest) (*domain.ProjectMember, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Username) == "" {
		return nil, domain.NewSubSystemError("member", "API.InviteMember", domain.ErrInvalidInput, "username is required")
	}
	var out domain.ProjectMember
	err := c.do(ctx, call{
		op: "InviteMember", method: http.MethodPost, path: projectPath(projectID, "members"),
		body: req, subsystem: "member",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMemberRole changes a collaborator's role.
func (c *Client) UpdateMemberRole(ctx context.Context, projectID string, userID int64, role domain.ProjectRole) (*domain.ProjectMember, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	var out domain.ProjectMember
	err := c.do(ctx, call{
		op: "UpdateMemberRole", method: http.MethodPatch,
		path: projectPath(projectID, "members", strconv.FormatInt(userID, 10)),
		body: struct {
			Role domain.ProjectRole `json:"role"`
		}{role},
		subsystem: "member",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveMember removes a collaborator from a project.
func (c *Client) RemoveMember(ctx context.Context, projectID string, userID int64) error {
	if err := requireID("project", projectID); err != nil {
		return err
	}
	return c.do(ctx, call{
		op: "RemoveMember", method: http.MethodDelete,
		path:      projectPath(projectID, "members", strconv.FormatInt(userID, 10)),
		subsystem: "member",
	}, nil)
}

// GetChatHistory returns a project's chat messages, oldest first.
func (c *Client) GetChatHistory(ctx context.Context, projectID string) ([]domain.ChatMessage, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	var out []domain.ChatMessage
	err := c.do(ctx, call{
		op: "GetChatHistory", method: http.MethodGet,
		path: "/api/chat/projects/" + url.PathEscape(projectID), subsystem: "project",
	}, &out)
	return out, err
}

// Deploy publishes the project and returns its preview URL.
func (c *Client) Deploy(ctx context.Context, projectID string) (*domain.DeployResponse, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	var out domain.DeployResponse
	err := c.do(ctx, call{
		op: "Deploy", method: http.MethodPost, path: projectPath(projectID, "deploy"), subsystem: "project",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

var _ domain.HistoryFetcher = (*Client)(nil)
