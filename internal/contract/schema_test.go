package contract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func violation(t *testing.T, err error) *ViolationError {
	t.Helper()
	var ve *ViolationError
	require.True(t, errors.As(err, &ve), "expected *ViolationError, got %v", err)
	return ve
}

func TestValidate_NilSchemaAcceptsAnything(t *testing.T) {
	assert.NoError(t, Validate(nil, map[string]any{"x": 1}))
	assert.NoError(t, Validate(&Schema{}, "anything"))
}

func TestValidate_RequiredField(t *testing.T) {
	s := Object(map[string]*Schema{"repo_id": NonEmpty()}, "repo_id")

	ve := violation(t, Validate(s, map[string]any{}))
	assert.Equal(t, "repo_id", ve.Field)
	assert.Equal(t, "is required", ve.Reason)

	ve = violation(t, Validate(s, map[string]any{"repo_id": nil}))
	assert.Equal(t, "repo_id", ve.Field)
}

func TestValidate_NestedFieldPath(t *testing.T) {
	c, ok := DefaultRegistry().Lookup(RoleAnalyzer, SkillAnalyze)
	require.True(t, ok)

	out := map[string]any{
		"findings": []any{
			map[string]any{"id": "F1", "category": "secret", "severity": "critical", "message": "m"},
			map[string]any{"id": "F2", "category": "lint", "severity": "catastrophic", "message": "m"},
		},
	}
	ve := violation(t, Validate(c.Output, out))
	assert.Equal(t, "findings[1].severity", ve.Field)
	assert.Contains(t, ve.Reason, "enum")
}

func TestValidate_NullMemberIsAbsent(t *testing.T) {
	s := Object(map[string]*Schema{"checks": ListOf(Text()), "repo_id": NonEmpty()}, "repo_id")
	assert.NoError(t, Validate(s, map[string]any{"repo_id": "api", "checks": nil}))
}

func TestValidate_EmptyRequiredList(t *testing.T) {
	c, ok := DefaultRegistry().Lookup(RoleIssueWriter, SkillSpecifyIssues)
	require.True(t, ok)

	ve := violation(t, Validate(c.Input, map[string]any{"repo_id": "api", "findings": []any{}}))
	assert.Equal(t, "findings", ve.Field)
	assert.Equal(t, "must not be empty", ve.Reason)
}

func TestValidate_DeepestFailingField(t *testing.T) {
	c, ok := DefaultRegistry().Lookup(RolePublisher, SkillPublish)
	require.True(t, ok)

	in := map[string]any{
		"repo_id": "api",
		"owner":   "acme",
		"repo":    "api",
		"issues": []any{
			map[string]any{"title": "ok", "severity": "low", "finding_ids": []any{"F1"}},
			map[string]any{"title": "bad", "severity": "low", "finding_ids": []any{"F2", "  "}},
			map[string]any{"title": "", "severity": "low", "finding_ids": []any{"F3"}},
		},
	}
	ve := violation(t, Validate(c.Input, in))
	assert.Equal(t, "issues[1].finding_ids[1]", ve.Field)
	assert.Equal(t, "must not be empty", ve.Reason)
}

func TestNewRegistry_RejectsBadSchema(t *testing.T) {
	_, err := NewRegistry(Contract{Role: "a", Skill: "b", Input: &Schema{Type: "string", Pattern: "("}})
	assert.Error(t, err)
}

func TestValidate_Types(t *testing.T) {
	tests := []struct {
		name   string
		schema *Schema
		value  any
		ok     bool
	}{
		{"string ok", Text(), "x", true},
		{"string wrong", Text(), 3.0, false},
		{"blank non-empty", NonEmpty(), "  ", false},
		{"multi-byte non-empty", NonEmpty(), "ü", true},
		{"integer from json", Integer(), 12.0, true},
		{"integer from go", Integer(), 12, true},
		{"fractional integer", Integer(), 1.5, false},
		{"number", Number(), 1.5, true},
		{"bool", Bool(), true, true},
		{"bool wrong", Bool(), "true", false},
		{"enum ok", OneOf("pass", "fail"), "pass", true},
		{"enum wrong", OneOf("pass", "fail"), "maybe", false},
		{"array", stringList(), []any{"a", "b"}, true},
		{"array bad item", stringList(), []any{"a", 2.0}, false},
		{"empty non-empty array", NonEmptyListOf(Text()), []any{}, false},
		{"object wrong", Object(nil), []any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, tt.value)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_ExtraFieldsIgnored(t *testing.T) {
	s := Object(map[string]*Schema{"a": Text()})
	assert.NoError(t, Validate(s, map[string]any{"a": "x", "extra": 1.0}))
}

func TestViolationError_Message(t *testing.T) {
	err := &ViolationError{Field: "issues[0].title", Reason: "must not be empty"}
	assert.Equal(t, "contract violation at issues[0].title: must not be empty", err.Error())
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, len(Builtin()), r.Len())

	_, ok := r.Lookup(RolePublisher, SkillPublish)
	assert.True(t, ok)
	_, ok = r.Lookup(RolePublisher, SkillAnalyze)
	assert.False(t, ok)

	_, err := NewRegistry(Contract{Role: "a", Skill: "b"}, Contract{Role: "a", Skill: "b"})
	assert.Error(t, err)
	_, err = NewRegistry(Contract{Role: "a"})
	assert.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	type payload struct {
		RepoID string   `json:"repo_id"`
		Count  int      `json:"count"`
		Tags   []string `json:"tags"`
	}
	m, err := Encode(payload{RepoID: "api", Count: 2, Tags: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, m["count"])

	var back payload
	require.NoError(t, Decode(map[string]any{"repo_id": "api", "count": 2.0, "unknown": true}, &back))
	assert.Equal(t, "api", back.RepoID)
	assert.Equal(t, 2, back.Count)
}
