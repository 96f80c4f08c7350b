package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/lucasnoah/auditfactory/internal/registry"
)

// GitProvider shallow-clones remote repositories into a cache directory and
// lists the clone. An existing clone is refreshed with a pull.
type GitProvider struct {
	cacheDir string
}

func NewGitProvider(cacheDir string) *GitProvider {
	return &GitProvider{cacheDir: cacheDir}
}

func (p *GitProvider) Fetch(ctx context.Context, repo registry.RepoConfig, opts Options) (*Listing, error) {
	if repo.URL == "" {
		return nil, fmt.Errorf("repo %q has no url: %w", repo.ID, ErrUnavailable)
	}
	dir := filepath.Join(p.cacheDir, repo.ID)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if err := pull(ctx, dir, repo.Ref); err != nil {
			return nil, fmt.Errorf("refresh clone of %s: %w", repo.URL, err)
		}
		return listDir(ctx, dir, opts)
	}

	if err := os.MkdirAll(p.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", p.cacheDir, err)
	}
	cloneOpts := &git.CloneOptions{
		URL:          repo.URL,
		Depth:        1,
		SingleBranch: true,
	}
	if repo.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(repo.Ref)
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, cloneOpts); err != nil {
		_ = os.RemoveAll(dir)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("clone %s: %w", repo.URL, err)
	}
	return listDir(ctx, dir, opts)
}

func pull(ctx context.Context, dir, ref string) error {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}
	wt, err := r.Worktree()
	if err != nil {
		return err
	}
	pullOpts := &git.PullOptions{RemoteName: "origin", Depth: 1, SingleBranch: true}
	if ref != "" {
		pullOpts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	err = wt.PullContext(ctx, pullOpts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}
