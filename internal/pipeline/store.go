package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ArtifactStore persists run artifacts. Writes are append-style: a path is
// written once per run, and rewriting it replaces the earlier payload.
type ArtifactStore interface {
	Write(ctx context.Context, path string, payload any) error
}

// ArtifactReader reads artifacts back for reporting.
type ArtifactReader interface {
	Read(ctx context.Context, path string, v any) error
}

// ErrArtifactNotFound is returned by readers for paths that were never written.
var ErrArtifactNotFound = errors.New("artifact not found")

// SummaryPath is where a portfolio run's summary is written.
func SummaryPath(runID string) string {
	return path.Join("runs", runID, "summary.json")
}

// RepoArtifactPath is where one repository's issue specs are written.
func RepoArtifactPath(runID, repoID string) string {
	return path.Join("runs", runID, "repos", repoID+".json")
}

// RepoArtifact is the payload persisted for one repository in a run.
type RepoArtifact struct {
	RunID         string      `json:"run_id"`
	RepoID        string      `json:"repo_id"`
	Mode          Mode        `json:"mode"`
	Commit        string      `json:"commit,omitempty"`
	CorrelationID string      `json:"correlation_id"`
	Findings      []Finding   `json:"findings"`
	Issues        []IssueSpec `json:"issues"`
	Fixes         []Fix       `json:"fixes,omitempty"`
	Verdict       *QAVerdict  `json:"verdict,omitempty"`
	GeneratedAt   string      `json:"generated_at"`
}

// FSStore keeps artifacts as JSON files under a base directory.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a store rooted at baseDir. The directory is created on first write.
func NewFSStore(baseDir string) *FSStore {
	return &FSStore{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *FSStore) BaseDir() string {
	return s.baseDir
}

func (s *FSStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" || strings.Contains(p, "..") {
		return "", fmt.Errorf("invalid artifact path %q", p)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

// Write stores payload as pretty-printed JSON at path.
func (s *FSStore) Write(ctx context.Context, p string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := writeJSONFile(full, payload); err != nil {
		return fmt.Errorf("write artifact %s: %w", p, err)
	}
	return nil
}

// Read decodes the artifact at path into v.
func (s *FSStore) Read(_ context.Context, p string, v any) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := readJSONFile(full, v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", p, ErrArtifactNotFound)
		}
		return err
	}
	return nil
}

// ListRuns returns the run ids that have a summary, newest directory first.
func (s *FSStore) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "runs"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}
	type run struct {
		id  string
		mod int64
	}
	var runs []run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(s.baseDir, "runs", e.Name(), "summary.json"))
		if err != nil {
			continue
		}
		runs = append(runs, run{id: e.Name(), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].mod > runs[j].mod })
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}
