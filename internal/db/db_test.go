package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
)

// testDB connects to AUDITFACTORY_TEST_DATABASE_URL, resetting the schema.
// Tests that need Postgres are skipped when it is unset.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("AUDITFACTORY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUDITFACTORY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := Open(ctx, url)
	require.NoError(t, err)
	require.NoError(t, d.Reset(ctx))
	t.Cleanup(d.Close)
	return d
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path, kind, run, repo string
	}{
		{pipeline.SummaryPath("r1"), KindSummary, "r1", ""},
		{pipeline.RepoArtifactPath("r1", "svc-a"), KindRepo, "r1", "svc-a"},
		{"runs/r1/notes.txt", KindOther, "r1", ""},
		{"misc/thing.json", KindOther, "", ""},
		{"runs", KindOther, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			kind, run, repo := classify(tt.path)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.run, run)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "::not a url::")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	require.NoError(t, d.Migrate(ctx))

	var version int
	require.NoError(t, d.pool.QueryRow(ctx, "SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestWriteRead_Upserts(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	path := pipeline.RepoArtifactPath("run-1", "svc-a")

	require.NoError(t, d.Write(ctx, path, pipeline.RepoArtifact{RunID: "run-1", RepoID: "svc-a", Findings: []pipeline.Finding{}, Issues: []pipeline.IssueSpec{}}))
	require.NoError(t, d.Write(ctx, path, pipeline.RepoArtifact{RunID: "run-1", RepoID: "svc-a", Commit: "abc", Findings: []pipeline.Finding{}, Issues: []pipeline.IssueSpec{}}))

	var got pipeline.RepoArtifact
	require.NoError(t, d.Read(ctx, path, &got))
	assert.Equal(t, "abc", got.Commit)

	paths, err := d.RunArtifacts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestRead_NotFound(t *testing.T) {
	d := testDB(t)
	var v map[string]any
	err := d.Read(context.Background(), "runs/none/summary.json", &v)
	assert.ErrorIs(t, err, pipeline.ErrArtifactNotFound)
}

func TestWrite_RejectsTraversal(t *testing.T) {
	d := &DB{}
	assert.Error(t, d.Write(context.Background(), "../etc/passwd", map[string]string{}))
	assert.Error(t, d.Write(context.Background(), "", map[string]string{}))
}

func TestSummaries_NewestFirst(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		res := &portfolio.Result{RunID: id, Mode: pipeline.ModeDryRun, Task: "audit", StartedAt: time.Now().UTC(), Repos: []portfolio.RepoResult{}}
		require.NoError(t, d.Write(ctx, pipeline.SummaryPath(id), res))
		require.NoError(t, d.Write(ctx, pipeline.RepoArtifactPath(id, "svc"), map[string]string{"repo_id": "svc"}))
	}

	got, err := d.Summaries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "run-3", got[0].RunID)
	assert.Equal(t, "run-2", got[1].RunID)

	all, err := d.Summaries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
