package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// ErrNotFound is returned by Get for ids the registry does not hold.
var ErrNotFound = errors.New("repo not found")

// File is the top-level structure parsed from repos.yaml.
type File struct {
	Repos []RepoConfig `yaml:"repos"`
}

// RepoConfig describes one repository under audit. Values are read once per
// run and never mutated.
type RepoConfig struct {
	ID          string               `yaml:"id" json:"id"`
	Name        string               `yaml:"name" json:"name"`
	Path        string               `yaml:"path" json:"path,omitempty"`
	URL         string               `yaml:"url" json:"url,omitempty"`
	Ref         string               `yaml:"ref" json:"ref,omitempty"`
	Tags        []string             `yaml:"tags" json:"tags,omitempty"`
	CanWrite    bool                 `yaml:"can_write" json:"can_write"`
	RemoteOnly  bool                 `yaml:"remote_only" json:"remote_only,omitempty"`
	Unreachable bool                 `yaml:"unreachable" json:"unreachable,omitempty"`
	Publish     PublishTarget        `yaml:"publish" json:"publish,omitempty"`
	Checks      []pipeline.CheckSpec `yaml:"checks" json:"checks,omitempty"`
}

// PublishTarget names the GitHub repository issues are filed against.
type PublishTarget struct {
	Owner string `yaml:"owner" json:"owner,omitempty"`
	Repo  string `yaml:"repo" json:"repo,omitempty"`
}

// Configured reports whether both owner and repo are set.
func (p PublishTarget) Configured() bool {
	return p.Owner != "" && p.Repo != ""
}

// IsRemoteOnly reports whether the repo has no local checkout.
func (r RepoConfig) IsRemoteOnly() bool {
	return r.RemoteOnly || (r.Path == "" && r.URL != "")
}

// DisplayName returns Name, falling back to ID.
func (r RepoConfig) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// HasTag reports whether the repo carries tag.
func (r RepoConfig) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	IDs  []string
	Tags []string // a repo matches when it carries any of them
}

// Registry is an immutable, ordered set of repositories.
type Registry struct {
	repos []RepoConfig
	byID  map[string]int
}

// New builds a registry, rejecting invalid entries.
func New(repos []RepoConfig) (*Registry, error) {
	if errs := Validate(repos); len(errs) > 0 {
		return nil, fmt.Errorf("invalid registry: %w", errors.Join(toErrors(errs)...))
	}
	r := &Registry{repos: make([]RepoConfig, len(repos)), byID: make(map[string]int, len(repos))}
	copy(r.repos, repos)
	for i, repo := range r.repos {
		r.byID[repo.ID] = i
	}
	return r, nil
}

// Load reads repos.yaml. Relative local paths resolve against the file's directory.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i := range f.Repos {
		p := f.Repos[i].Path
		if p != "" && !filepath.IsAbs(p) {
			f.Repos[i].Path = filepath.Join(base, p)
		}
	}
	return New(f.Repos)
}

// Get returns the repo with id, or ErrNotFound.
func (r *Registry) Get(id string) (RepoConfig, error) {
	i, ok := r.byID[id]
	if !ok {
		return RepoConfig{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return r.repos[i], nil
}

// List returns the repos matching f in registry order.
func (r *Registry) List(f Filter) []RepoConfig {
	var ids map[string]bool
	if len(f.IDs) > 0 {
		ids = make(map[string]bool, len(f.IDs))
		for _, id := range f.IDs {
			ids[id] = true
		}
	}
	var out []RepoConfig
	for _, repo := range r.repos {
		if ids != nil && !ids[repo.ID] {
			continue
		}
		if len(f.Tags) > 0 && !anyTag(repo, f.Tags) {
			continue
		}
		out = append(out, repo)
	}
	return out
}

// Len returns the number of repos.
func (r *Registry) Len() int {
	return len(r.repos)
}

func anyTag(repo RepoConfig, tags []string) bool {
	for _, t := range tags {
		if repo.HasTag(t) {
			return true
		}
	}
	return false
}
