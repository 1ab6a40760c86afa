package api

import (
	"sort"
	"strings"

	"project-companion/internal/domain"
)

// BuildFileTree turns flat slash-separated paths into a tree. Each level
// lists directories before files, then names alphabetically ignoring case.
// A path that later turns out to be a directory prefix becomes a directory.
func BuildFileTree(paths []string) []*domain.FileNode {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	var root []*domain.FileNode
	nodes := make(map[string]*domain.FileNode)

	for _, p := range sorted {
		var parts []string
		for _, part := range strings.Split(p, "/") {
			if part != "" {
				parts = append(parts, part)
			}
		}

		level := &root
		for i, part := range parts {
			full := strings.Join(parts[:i+1], "/")
			last := i == len(parts)-1

			n, ok := nodes[full]
			if !ok {
				n = &domain.FileNode{Name: part, Path: full, Type: domain.FileNodeFile}
				if !last {
					n.Type = domain.FileNodeDirectory
				}
				nodes[full] = n
				*level = append(*level, n)
			} else if !last && n.Type == domain.FileNodeFile {
				n.Type = domain.FileNodeDirectory
			}
			level = &n.Children
		}
	}

	sortTree(root)
	return root
}

func sortTree(nodes []*domain.FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Type != b.Type {
			return a.Type == domain.FileNodeDirectory
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
	for _, n := range nodes {
		if len(n.Children) > 0 {
			sortTree(n.Children)
		}
	}
}

// WalkFiles calls fn for every file node in depth-first display order.
func WalkFiles(nodes []*domain.FileNode, fn func(*domain.FileNode)) {
	for _, n := range nodes {
		if n.Type == domain.FileNodeDirectory {
			WalkFiles(n.Children, fn)
			continue
		}
		fn(n)
	}
}
