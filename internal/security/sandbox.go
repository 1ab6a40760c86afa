// Package security confines file operations to a root directory.
package security

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"project-companion/internal/domain"
)

// Sandbox enforces path constraints for file operations.
type Sandbox struct {
	root string // absolute, resolved root
}

// NewSandbox creates a sandbox rooted at the given directory, creating it
// when it does not exist.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved}, nil
}

// Resolve maps a slash-separated path relative to the root onto the
// filesystem, rejecting absolute paths and anything that escapes the root.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("%q is not a relative path", rel))
	}
	return s.ValidatePath(filepath.Join(s.root, filepath.FromSlash(rel)))
}

// ValidatePath checks that a requested path resolves to within the sandbox.
// Symlinks are resolved on the longest existing prefix of the path, so paths
// whose parent directories do not exist yet are accepted.
func (s *Sandbox) ValidatePath(requested string) (string, error) {
	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err.Error())
	}

	existing, rest := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			abs = filepath.Join(resolved, rest)
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err.Error())
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}

	if !s.isWithinRoot(abs) {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", abs, s.root))
	}
	return abs, nil
}

// Rel returns the slash-separated path of abs relative to the root.
func (s *Sandbox) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", domain.NewDomainError("Sandbox.Rel", domain.ErrPathOutsideSandbox, abs)
	}
	return filepath.ToSlash(rel), nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

func (s *Sandbox) isWithinRoot(p string) bool {
	return p == s.root || strings.HasPrefix(p, s.root+string(os.PathSeparator))
}
