package registry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/p-blackswan/repomux/internal/access"
)

// Repository is a registered codebase. Name is the stable, case-sensitive
// identity; everything else is mutable metadata.
type Repository struct {
	Name          string             `json:"name"`
	Path          string             `json:"path"`
	RemoteURL     string             `json:"remote_url,omitempty"`
	Description   string             `json:"description,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	LastAccessed  time.Time          `json:"last_accessed"`
	AccessControl access.ControlList `json:"access_control"`
}

// Valid reports whether the repository's path still exists and is a git
// working tree.
func (r *Repository) Valid() bool {
	return isWorkTree(r.Path)
}

// clone returns a deep copy so callers never share the registry's
// internal maps.
func (r *Repository) clone() *Repository {
	cp := *r
	cp.AccessControl = make(access.ControlList, len(r.AccessControl))
	for user, perms := range r.AccessControl {
		cp.AccessControl[user] = append([]access.Permission(nil), perms...)
	}
	return &cp
}

// isWorkTree reports whether path exists and contains a .git directory.
func isWorkTree(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

// ValidationIssue describes a registered repository whose filesystem root
// is unreachable or no longer a git working tree.
type ValidationIssue struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// GitProbe supplies the git facts the registry needs without owning a
// git driver itself: the configured remote of a working tree, whether it
// has uncommitted changes, and its checked-out branch.
type GitProbe interface {
	Remote(path string) (string, error)
	Dirty(path string) (bool, error)
	Branch(path string) (string, error)
}

// Stats is a live snapshot of a registered repository's working tree.
// Branch and Dirty are only populated when the root is reachable and a
// git prober is wired.
type Stats struct {
	Name      string `json:"name"`
	Branch    string `json:"branch,omitempty"`
	Dirty     bool   `json:"dirty"`
	RemoteURL string `json:"remote_url,omitempty"`
	Reachable bool   `json:"reachable"`
}
