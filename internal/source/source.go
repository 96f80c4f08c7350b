// Package source produces bounded file listings of repositories under audit.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/registry"
)

// ErrUnavailable marks a repository whose source cannot be reached at all.
// Callers report such repositories as skipped rather than failed.
var ErrUnavailable = errors.New("source unavailable")

// Options bound a listing.
type Options struct {
	Patterns     []string // include only matching paths when non-empty
	Exclude      []string // skip matching paths or directory names
	MaxFiles     int
	MaxFileBytes int64
}

// Listing is a bounded view of a repository's files.
type Listing struct {
	Root      string
	Commit    string
	Branch    string
	Files     []pipeline.SourceFile
	Truncated bool
	maxBytes  int64
}

// NewListing wraps an existing file list, e.g. one received over the wire,
// so its files can be read with the same bound.
func NewListing(root string, files []pipeline.SourceFile, maxFileBytes int64) *Listing {
	return &Listing{Root: root, Files: files, maxBytes: maxFileBytes}
}

// Read returns up to MaxFileBytes of the file at the repo-relative path rel.
func (l *Listing) Read(rel string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("path %q escapes repository root", rel)
	}
	f, err := os.Open(filepath.Join(l.Root, clean))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if l.maxBytes > 0 {
		r = io.LimitReader(f, l.maxBytes)
	}
	return io.ReadAll(r)
}

// MaxFileBytes returns the per-file read bound of the listing.
func (l *Listing) MaxFileBytes() int64 {
	return l.maxBytes
}

// Provider fetches a listing for a repository.
type Provider interface {
	Fetch(ctx context.Context, repo registry.RepoConfig, opts Options) (*Listing, error)
}

// Router sends repositories with a local path to Local and URL-only
// repositories to Remote.
type Router struct {
	Local  Provider
	Remote Provider
}

func (r *Router) Fetch(ctx context.Context, repo registry.RepoConfig, opts Options) (*Listing, error) {
	if repo.Unreachable {
		return nil, fmt.Errorf("repo %q: %w: marked unreachable", repo.ID, ErrUnavailable)
	}
	if repo.Path != "" && !repo.RemoteOnly {
		return r.Local.Fetch(ctx, repo, opts)
	}
	if repo.URL == "" {
		return nil, fmt.Errorf("repo %q: %w: no path or url", repo.ID, ErrUnavailable)
	}
	if r.Remote == nil {
		return nil, fmt.Errorf("repo %q: %w: remote fetching is not configured", repo.ID, ErrUnavailable)
	}
	return r.Remote.Fetch(ctx, repo, opts)
}
