package domain

// Workspace is the editable file map shown by the code viewer.
// Set overwrites; there are no deletions while a turn is running.
type Workspace interface {
	Get(path string) (string, bool)
	Set(path, content string) error
}

// WorkspaceSnapshotter is implemented by workspaces that can copy their
// whole contents at once.
type WorkspaceSnapshotter interface {
	Snapshot() map[string]string
}
