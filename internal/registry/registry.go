// Package registry maintains the durable catalog of known repositories
// and their access control lists.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/repomux/internal/access"
	rerrors "github.com/p-blackswan/repomux/internal/errors"
)

// catalog is the on-disk shape of the registry. It mirrors the layout the
// admin tooling expects: a name-keyed repository map plus the default
// repository name.
type catalog struct {
	Repositories map[string]*Repository `json:"repositories"`
	Order        []string               `json:"order,omitempty"`
	Default      string                 `json:"default_repository,omitempty"`
}

// Registry is the in-memory catalog backed by a JSON file. The whole file
// is read at startup and rewritten atomically after every mutation, so a
// crash never leaves a partially written catalog behind.
type Registry struct {
	mu          sync.RWMutex
	path        string
	repos       map[string]*Repository
	order       []string // insertion order, stable across restarts
	defaultName string
	probe       GitProbe
	invalidate  func(name string)
	logger      zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithGitProbe wires a git prober for remote detection and dirty checks.
func WithGitProbe(p GitProbe) Option {
	return func(r *Registry) { r.probe = p }
}

// WithHandleInvalidator registers a hook run after a repository leaves
// the catalog, so cached per-repository git handles can be dropped.
func WithHandleInvalidator(fn func(name string)) Option {
	return func(r *Registry) { r.invalidate = fn }
}

// New loads the catalog at path, creating the parent directory if needed.
// A missing catalog file is an empty registry, not an error.
func New(path string, logger zerolog.Logger, opts ...Option) (*Registry, error) {
	r := &Registry{
		path:   path,
		repos:  make(map[string]*Repository),
		logger: logger.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.logger.Info().Str("path", r.path).Msg("no existing catalog, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}

	var cat catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parsing catalog %s: %w", r.path, err)
	}

	r.repos = cat.Repositories
	if r.repos == nil {
		r.repos = make(map[string]*Repository)
	}
	for _, repo := range r.repos {
		if repo.AccessControl == nil {
			repo.AccessControl = make(access.ControlList)
		}
	}

	// Rebuild insertion order; catalogs written by older tooling carry no
	// order list, so fall back to creation time.
	r.order = cat.Order
	if len(r.order) != len(r.repos) {
		r.order = r.order[:0]
		for name := range r.repos {
			r.order = append(r.order, name)
		}
		sort.Slice(r.order, func(i, j int) bool {
			return r.repos[r.order[i]].CreatedAt.Before(r.repos[r.order[j]].CreatedAt)
		})
	}

	if cat.Default != "" {
		if _, ok := r.repos[cat.Default]; ok {
			r.defaultName = cat.Default
		} else {
			r.logger.Warn().Str("default", cat.Default).Msg("catalog default names an unknown repository, clearing")
		}
	}

	r.logger.Info().Int("repositories", len(r.repos)).Msg("catalog loaded")
	return nil
}

// save rewrites the catalog atomically: write to a temp file in the same
// directory, then rename over the target. Callers must hold r.mu.
func (r *Registry) save() error {
	cat := catalog{
		Repositories: r.repos,
		Order:        r.order,
		Default:      r.defaultName,
	}
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}

// RegisterOptions carries the optional attributes of a registration.
type RegisterOptions struct {
	RemoteURL   string
	Description string
	// Grantee, when set, receives admin on the new repository.
	Grantee string
}

// Register adds a repository to the catalog. The path must be an absolute
// path to an existing git working tree, and the name must be unused. The
// first registered repository becomes the default.
func (r *Registry) Register(name, path string, opts RegisterOptions) (*Repository, error) {
	if name == "" {
		return nil, fmt.Errorf("register: %w: empty name", rerrors.ErrInvalidPath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.repos[name]; exists {
		return nil, fmt.Errorf("register %q: %w", name, rerrors.ErrDuplicateName)
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("register %q: %w: path must be absolute", name, rerrors.ErrInvalidPath)
	}
	if !isWorkTree(path) {
		return nil, fmt.Errorf("register %q at %s: %w", name, path, rerrors.ErrInvalidPath)
	}

	remote := opts.RemoteURL
	if remote == "" && r.probe != nil {
		detected, err := r.probe.Remote(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("could not detect remote URL")
		} else {
			remote = detected
		}
	}

	now := time.Now()
	repo := &Repository{
		Name:          name,
		Path:          path,
		RemoteURL:     remote,
		Description:   opts.Description,
		CreatedAt:     now,
		LastAccessed:  now,
		AccessControl: make(access.ControlList),
	}
	if opts.Grantee != "" {
		repo.AccessControl[opts.Grantee] = []access.Permission{access.Admin}
	}

	r.repos[name] = repo
	r.order = append(r.order, name)
	if len(r.repos) == 1 {
		r.defaultName = name
	}

	if err := r.save(); err != nil {
		// Roll back so a failed persist never leaves phantom state.
		delete(r.repos, name)
		r.order = r.order[:len(r.order)-1]
		if r.defaultName == name {
			r.defaultName = ""
		}
		return nil, err
	}

	r.logger.Info().Str("repo", name).Str("path", path).Msg("repository registered")
	return repo.clone(), nil
}

// Get returns the named repository, refreshing its last-access timestamp.
func (r *Registry) Get(name string) (*Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, ok := r.repos[name]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", name, rerrors.ErrRepoNotFound)
	}
	repo.LastAccessed = time.Now()
	if err := r.save(); err != nil {
		r.logger.Warn().Err(err).Str("repo", name).Msg("failed to persist last-access update")
	}
	return repo.clone(), nil
}

// Names returns all registered names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List returns repositories in insertion order. A non-empty user filters
// the result to repositories where the user holds at least read.
func (r *Registry) List(user string) []*Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Repository, 0, len(r.order))
	for _, name := range r.order {
		repo := r.repos[name]
		if user != "" && !access.Check(repo.AccessControl, user, access.Read) {
			continue
		}
		out = append(out, repo.clone())
	}
	return out
}

// UnregisterOptions controls unregistration behaviour.
type UnregisterOptions struct {
	// Force skips the uncommitted-changes safety check.
	Force bool
	// Strict makes unregistering an unknown name an error instead of a
	// no-op.
	Strict bool
}

// Unregister removes a repository from the catalog. Unknown names are a
// no-op unless Strict. Repositories with uncommitted changes are refused
// unless Force.
func (r *Registry) Unregister(name string, opts UnregisterOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, ok := r.repos[name]
	if !ok {
		if opts.Strict {
			return fmt.Errorf("unregister %q: %w", name, rerrors.ErrRepoNotFound)
		}
		return nil
	}

	if !opts.Force && r.probe != nil && repo.Valid() {
		dirty, err := r.probe.Dirty(repo.Path)
		if err != nil {
			r.logger.Warn().Err(err).Str("repo", name).Msg("dirty check failed, refusing unregister without force")
			return fmt.Errorf("unregister %q: %w", name, rerrors.ErrUnsafeUnregister)
		}
		if dirty {
			return fmt.Errorf("unregister %q: %w", name, rerrors.ErrUnsafeUnregister)
		}
	}

	prevDefault := r.defaultName
	idx := -1
	delete(r.repos, name)
	for i, n := range r.order {
		if n == name {
			idx = i
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.defaultName == name {
		r.defaultName = ""
		if len(r.order) > 0 {
			r.defaultName = r.order[0]
			r.logger.Info().Str("default", r.defaultName).Msg("default repository reassigned")
		}
	}

	if err := r.save(); err != nil {
		r.repos[name] = repo
		if idx >= 0 {
			r.order = append(r.order, "")
			copy(r.order[idx+1:], r.order[idx:])
			r.order[idx] = name
		}
		r.defaultName = prevDefault
		return err
	}
	if r.invalidate != nil {
		r.invalidate(name)
	}
	r.logger.Info().Str("repo", name).Msg("repository unregistered")
	return nil
}

// SetDefault marks the named repository as the default target. Exactly
// one repository holds the flag at a time.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.repos[name]; !ok {
		return fmt.Errorf("set default %q: %w", name, rerrors.ErrRepoNotFound)
	}
	prev := r.defaultName
	r.defaultName = name
	if err := r.save(); err != nil {
		r.defaultName = prev
		return err
	}
	r.logger.Info().Str("repo", name).Msg("default repository set")
	return nil
}

// Default returns the default repository, or ErrRepoNotFound when none is
// configured.
func (r *Registry) Default() (*Repository, error) {
	r.mu.RLock()
	name := r.defaultName
	r.mu.RUnlock()

	if name == "" {
		return nil, fmt.Errorf("default: %w", rerrors.ErrRepoNotFound)
	}
	return r.Get(name)
}

// DefaultName returns the default repository name ("" if unset).
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Grant replaces the user's grant set on the named repository.
func (r *Registry) Grant(name, user string, perms ...access.Permission) error {
	for _, p := range perms {
		if !access.Valid(p) {
			return fmt.Errorf("grant on %q: unknown permission %q", name, p)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	repo, ok := r.repos[name]
	if !ok {
		return fmt.Errorf("grant on %q: %w", name, rerrors.ErrRepoNotFound)
	}
	prev, had := repo.AccessControl[user]
	repo.AccessControl[user] = append([]access.Permission(nil), perms...)
	if err := r.save(); err != nil {
		if had {
			repo.AccessControl[user] = prev
		} else {
			delete(repo.AccessControl, user)
		}
		return err
	}
	r.logger.Info().Str("repo", name).Str("user", user).Interface("permissions", perms).Msg("access granted")
	return nil
}

// Revoke removes all of a user's grants on the named repository.
func (r *Registry) Revoke(name, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, ok := r.repos[name]
	if !ok {
		return fmt.Errorf("revoke on %q: %w", name, rerrors.ErrRepoNotFound)
	}
	prev, had := repo.AccessControl[user]
	if !had {
		return fmt.Errorf("revoke on %q: user %q holds no grants", name, user)
	}
	delete(repo.AccessControl, user)
	if err := r.save(); err != nil {
		repo.AccessControl[user] = prev
		return err
	}
	r.logger.Info().Str("repo", name).Str("user", user).Msg("access revoked")
	return nil
}

// Stats reports the live working-tree state of a registered repository:
// current branch, uncommitted changes, configured remote. An unreachable
// root yields Reachable=false rather than an error; probe failures on a
// reachable tree are surfaced.
func (r *Registry) Stats(name string) (*Stats, error) {
	r.mu.RLock()
	repo, ok := r.repos[name]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("stats for %q: %w", name, rerrors.ErrRepoNotFound)
	}
	path := repo.Path
	remote := repo.RemoteURL
	r.mu.RUnlock()

	st := &Stats{Name: name, RemoteURL: remote}
	if !isWorkTree(path) {
		return st, nil
	}
	st.Reachable = true
	if r.probe == nil {
		return st, nil
	}

	branch, err := r.probe.Branch(path)
	if err != nil {
		return nil, fmt.Errorf("stats for %q: %w", name, err)
	}
	st.Branch = branch

	dirty, err := r.probe.Dirty(path)
	if err != nil {
		return nil, fmt.Errorf("stats for %q: %w", name, err)
	}
	st.Dirty = dirty
	return st, nil
}

// Validate reports registered repositories whose filesystem root is
// missing or no longer a git working tree. It never mutates state and is
// meant for operational health checks, not hot paths.
func (r *Registry) Validate() []ValidationIssue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var issues []ValidationIssue
	for _, name := range r.order {
		repo := r.repos[name]
		if _, err := os.Stat(repo.Path); err != nil {
			issues = append(issues, ValidationIssue{Name: name, Path: repo.Path, Detail: "path unreachable"})
			continue
		}
		if !isWorkTree(repo.Path) {
			issues = append(issues, ValidationIssue{Name: name, Path: repo.Path, Detail: "not a git working tree"})
		}
	}
	return issues
}
