package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
)

// Artifact kinds, derived from the artifact path.
const (
	KindSummary = "summary"
	KindRepo    = "repo"
	KindOther   = "other"
)

// classify derives the kind, run id and repo id of an artifact path laid
// out by pipeline.SummaryPath and pipeline.RepoArtifactPath.
func classify(path string) (kind, runID, repoID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "runs" {
		return KindOther, "", ""
	}
	runID = parts[1]
	switch {
	case len(parts) == 3 && parts[2] == "summary.json":
		return KindSummary, runID, ""
	case len(parts) == 4 && parts[2] == "repos" && strings.HasSuffix(parts[3], ".json"):
		return KindRepo, runID, strings.TrimSuffix(parts[3], ".json")
	}
	return KindOther, runID, ""
}

// Write stores payload as JSONB at path, replacing any earlier payload.
func (d *DB) Write(ctx context.Context, path string, payload any) error {
	if path == "" || strings.Contains(path, "..") {
		return fmt.Errorf("invalid artifact path %q", path)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", path, err)
	}
	kind, runID, repoID := classify(path)
	_, err = d.pool.Exec(ctx, `
		INSERT INTO artifacts (path, kind, run_id, repo_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (path) DO UPDATE
		SET kind = EXCLUDED.kind, run_id = EXCLUDED.run_id, repo_id = EXCLUDED.repo_id,
		    payload = EXCLUDED.payload, written_at = now()`,
		path, kind, runID, repoID, data)
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// Read decodes the artifact at path into v.
func (d *DB) Read(ctx context.Context, path string, v any) error {
	var data []byte
	err := d.pool.QueryRow(ctx, "SELECT payload FROM artifacts WHERE path = $1", path).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", path, pipeline.ErrArtifactNotFound)
	}
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode artifact %s: %w", path, err)
	}
	return nil
}

// RunArtifacts lists the artifact paths written for a run.
func (d *DB) RunArtifacts(ctx context.Context, runID string) ([]string, error) {
	rows, err := d.pool.Query(ctx, "SELECT path FROM artifacts WHERE run_id = $1 ORDER BY path", runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan artifacts: %w", err)
	}
	return paths, nil
}

// Summaries returns up to limit run summaries, most recently written first.
// A limit of zero or less returns all of them.
func (d *DB) Summaries(ctx context.Context, limit int) ([]*portfolio.Result, error) {
	query := "SELECT payload FROM artifacts WHERE kind = $1 ORDER BY written_at DESC, path DESC"
	args := []any{KindSummary}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan summaries: %w", err)
	}
	out := make([]*portfolio.Result, 0, len(payloads))
	for _, p := range payloads {
		var res portfolio.Result
		if err := json.Unmarshal(p, &res); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, &res)
	}
	return out, nil
}
