package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/registry"
)

// LocalProvider lists a checkout on the local filesystem.
type LocalProvider struct{}

func (p *LocalProvider) Fetch(ctx context.Context, repo registry.RepoConfig, opts Options) (*Listing, error) {
	return listDir(ctx, repo.Path, opts)
}

func listDir(ctx context.Context, root string, opts Options) (*Listing, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", root, ErrUnavailable)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", root, ErrUnavailable)
	}

	l := &Listing{Root: root, maxBytes: opts.MaxFileBytes}
	l.Commit, l.Branch = headOf(root)

	var files []pipeline.SourceFile
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" || excluded(rel, d.Name(), opts.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || excluded(rel, d.Name(), opts.Exclude) || !included(rel, d.Name(), opts.Patterns) {
			return nil
		}
		if opts.MaxFiles > 0 && len(files) >= opts.MaxFiles {
			l.Truncated = true
			return filepath.SkipAll
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, pipeline.SourceFile{Path: rel, Size: fi.Size()})
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	l.Files = files
	return l, nil
}

// headOf returns the HEAD commit and branch of the git repository at root,
// or empty strings when root is not a repository.
func headOf(root string) (commit, branch string) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", ""
	}
	head, err := repo.Head()
	if err != nil {
		return "", ""
	}
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return head.Hash().String(), branch
}

func excluded(rel, name string, patterns []string) bool {
	for _, pat := range patterns {
		if matches(pat, rel, name) {
			return true
		}
	}
	return false
}

func included(rel, name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	return excluded(rel, name, patterns)
}

// matches tests pat against the base name and the full relative path.
func matches(pat, rel, name string) bool {
	if ok, _ := path.Match(pat, name); ok {
		return true
	}
	ok, _ := path.Match(pat, rel)
	return ok
}
