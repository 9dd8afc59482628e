package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Discover walks root up to maxDepth directories deep and returns the
// paths of git working trees that are not already registered. It is a
// read-only scan: discovery and registration are separate operations.
func (r *Registry) Discover(root string, maxDepth int) ([]string, error) {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	registered := make(map[string]bool)
	r.mu.RLock()
	for _, repo := range r.repos {
		registered[filepath.Clean(repo.Path)] = true
	}
	r.mu.RUnlock()

	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			r.logger.Debug().Err(err).Str("path", path).Msg("discover: skipping unreadable entry")
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if depth(root, path) > maxDepth {
			return fs.SkipDir
		}
		if isWorkTree(path) {
			if !registered[filepath.Clean(path)] {
				found = append(found, path)
			}
			// Never descend into a repository looking for nested ones.
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// depth counts path separators between root and path.
func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
