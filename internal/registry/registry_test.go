package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

const sampleYAML = `
repos:
  - id: api
    name: API service
    path: services/api
    tags: [backend, go]
    can_write: true
    publish:
      owner: acme
      repo: api
    checks:
      - name: lint
        command: npx eslint -f json .
        parser: eslint
        timeout: 2m
  - id: web
    path: /srv/web
    tags: [frontend]
  - id: infra
    url: https://github.com/acme/infra.git
    ref: main
  - id: legacy
    path: /srv/legacy
    unreachable: true
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "repos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeRegistry(t, sampleYAML)
	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	api, err := reg.Get("api")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "services/api"), api.Path)
	assert.True(t, api.CanWrite)
	assert.True(t, api.Publish.Configured())
	require.Len(t, api.Checks, 1)
	assert.Equal(t, 2*time.Minute, api.Checks[0].Timeout)
	assert.Equal(t, "API service", api.DisplayName())

	web, err := reg.Get("web")
	require.NoError(t, err)
	assert.Equal(t, "/srv/web", web.Path)
	assert.Equal(t, "web", web.DisplayName())

	infra, _ := reg.Get("infra")
	assert.True(t, infra.IsRemoteOnly())
	assert.False(t, api.IsRemoteOnly())
}

func TestGet_NotFound(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)
	_, err = reg.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestList_Filters(t *testing.T) {
	reg, err := Load(writeRegistry(t, sampleYAML))
	require.NoError(t, err)

	ids := func(rs []RepoConfig) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []string{"api", "web", "infra", "legacy"}, ids(reg.List(Filter{})))
	assert.Equal(t, []string{"api", "web"}, ids(reg.List(Filter{Tags: []string{"go", "frontend"}})))
	assert.Equal(t, []string{"web", "legacy"}, ids(reg.List(Filter{IDs: []string{"legacy", "web"}})))
	assert.Empty(t, reg.List(Filter{IDs: []string{"api"}, Tags: []string{"frontend"}}))
}

func TestValidate(t *testing.T) {
	errs := Validate([]RepoConfig{
		{ID: "a", Path: "/x"},
		{ID: "a", Path: "/y"},
		{ID: "", Path: "/z"},
		{ID: "bad/id", Path: "/z"},
		{ID: "nolocation"},
		{ID: "half", Path: "/p", Publish: PublishTarget{Owner: "acme"}},
		{ID: "chk", Path: "/p", Checks: []pipeline.CheckSpec{{Name: "x", Command: "true", Parser: "pylint"}}},
	})

	fields := make(map[string]string)
	for _, e := range errs {
		fields[e.Field] = e.Message
	}
	assert.Contains(t, fields["repos[1].id"], "duplicate")
	assert.Equal(t, "is required", fields["repos[2].id"])
	assert.Contains(t, fields, "repos[3].id")
	assert.Contains(t, fields["repos[4]"], "path or url")
	assert.Contains(t, fields, "repos[5].publish")
	assert.Contains(t, fields["repos[6].checks[0].parser"], "pylint")
	assert.Len(t, errs, 6)
}

func TestNew_RejectsInvalid(t *testing.T) {
	_, err := New([]RepoConfig{{ID: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repos[0]: one of path or url is required")
}
