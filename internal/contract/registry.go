package contract

import "fmt"

// Roles and the skills each built-in role exposes.
const (
	RoleAnalyzer    = "analyzer"
	RoleIssueWriter = "issue-writer"
	RolePlanner     = "planner"
	RoleImplementer = "implementer"
	RoleQA          = "qa"
	RolePublisher   = "publisher"

	SkillAnalyze       = "analyze"
	SkillSpecifyIssues = "specify-issues"
	SkillPlanFix       = "plan-fix"
	SkillImplementFix  = "implement-fix"
	SkillQAValidate    = "qa-validate"
	SkillPublish       = "publish"
)

// Contract declares the input and output shape of one (role, skill).
type Contract struct {
	Role   string
	Skill  string
	Input  *Schema
	Output *Schema
}

type key struct{ role, skill string }

// Registry holds the contracts known to a dispatcher. It is built once at
// startup and read-only afterwards.
type Registry struct {
	contracts map[key]Contract
}

// NewRegistry builds a registry from cs. Duplicate (role, skill) pairs and
// schemas that do not resolve are an error.
func NewRegistry(cs ...Contract) (*Registry, error) {
	r := &Registry{contracts: make(map[key]Contract, len(cs))}
	for _, c := range cs {
		if c.Role == "" || c.Skill == "" {
			return nil, fmt.Errorf("contract missing role or skill: %q/%q", c.Role, c.Skill)
		}
		k := key{c.Role, c.Skill}
		if _, dup := r.contracts[k]; dup {
			return nil, fmt.Errorf("duplicate contract %s/%s", c.Role, c.Skill)
		}
		for _, s := range []*Schema{c.Input, c.Output} {
			if s == nil {
				continue
			}
			if _, err := compile(s); err != nil {
				return nil, fmt.Errorf("contract %s/%s: %w", c.Role, c.Skill, err)
			}
		}
		r.contracts[k] = c
	}
	return r, nil
}

// Lookup returns the contract for (role, skill).
func (r *Registry) Lookup(role, skill string) (Contract, bool) {
	c, ok := r.contracts[key{role, skill}]
	return c, ok
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	return len(r.contracts)
}

var severityEnum = []string{"critical", "high", "medium", "low", "info"}

func stringList() *Schema { return ListOf(Text()) }

func findingSchema() *Schema {
	return &Schema{
		Type:     "object",
		Required: []string{"id", "category", "severity", "message"},
		Properties: map[string]*Schema{
			"id":       NonEmpty(),
			"category": NonEmpty(),
			"severity": OneOf(severityEnum...),
			"file":     Text(),
			"line":     Integer(),
			"message":  NonEmpty(),
			"rule":     Text(),
		},
	}
}

func issueSchema() *Schema {
	return &Schema{
		Type:     "object",
		Required: []string{"title", "severity", "finding_ids"},
		Properties: map[string]*Schema{
			"title":       NonEmpty(),
			"body":        Text(),
			"severity":    OneOf(severityEnum...),
			"category":    Text(),
			"files":       stringList(),
			"finding_ids": NonEmptyListOf(NonEmpty()),
		},
	}
}

func planStepSchema() *Schema {
	return &Schema{
		Type:     "object",
		Required: []string{"issue", "action"},
		Properties: map[string]*Schema{
			"issue":       NonEmpty(),
			"action":      NonEmpty(),
			"files":       stringList(),
			"finding_ids": stringList(),
			"automatable": Bool(),
		},
	}
}

func fixSchema() *Schema {
	return &Schema{
		Type:     "object",
		Required: []string{"issue", "patch", "resolves"},
		Properties: map[string]*Schema{
			"issue":    NonEmpty(),
			"file":     Text(),
			"patch":    NonEmpty(),
			"resolves": stringList(),
		},
	}
}

// Builtin returns the contracts of the built-in agent roles.
func Builtin() []Contract {
	return []Contract{
		{
			Role:  RoleAnalyzer,
			Skill: SkillAnalyze,
			Input: &Schema{
				Type:     "object",
				Required: []string{"repo_id", "root", "files"},
				Properties: map[string]*Schema{
					"repo_id": NonEmpty(),
					"root":    NonEmpty(),
					"commit":  Text(),
					"files": ListOf(&Schema{
						Type:       "object",
						Required:   []string{"path"},
						Properties: map[string]*Schema{"path": NonEmpty(), "size": Integer()},
					}),
					"truncated":        Bool(),
					"max_file_bytes":   Integer(),
					"large_file_bytes": Integer(),
					"checks": ListOf(&Schema{
						Type:     "object",
						Required: []string{"name", "command"},
						Properties: map[string]*Schema{
							"name":    NonEmpty(),
							"command": NonEmpty(),
							"parser":  Text(),
							"timeout": Integer(),
						},
					}),
				},
			},
			Output: &Schema{
				Type:       "object",
				Required:   []string{"findings"},
				Properties: map[string]*Schema{"findings": ListOf(findingSchema())},
			},
		},
		{
			Role:  RoleIssueWriter,
			Skill: SkillSpecifyIssues,
			Input: &Schema{
				Type:     "object",
				Required: []string{"repo_id", "findings"},
				Properties: map[string]*Schema{
					"repo_id":  NonEmpty(),
					"task":     Text(),
					"commit":   Text(),
					"findings": NonEmptyListOf(findingSchema()),
				},
			},
			Output: &Schema{
				Type:       "object",
				Required:   []string{"issues"},
				Properties: map[string]*Schema{"issues": ListOf(issueSchema())},
			},
		},
		{
			Role:  RolePlanner,
			Skill: SkillPlanFix,
			Input: &Schema{
				Type:     "object",
				Required: []string{"repo_id", "issues"},
				Properties: map[string]*Schema{
					"repo_id": NonEmpty(),
					"issues":  ListOf(issueSchema()),
				},
			},
			Output: &Schema{
				Type:       "object",
				Required:   []string{"steps"},
				Properties: map[string]*Schema{"steps": ListOf(planStepSchema())},
			},
		},
		{
			Role:  RoleImplementer,
			Skill: SkillImplementFix,
			Input: &Schema{
				Type:     "object",
				Required: []string{"repo_id", "root", "steps"},
				Properties: map[string]*Schema{
					"repo_id": NonEmpty(),
					"root":    NonEmpty(),
					"steps":   ListOf(planStepSchema()),
				},
			},
			Output: &Schema{
				Type:       "object",
				Required:   []string{"fixes"},
				Properties: map[string]*Schema{"fixes": ListOf(fixSchema())},
			},
		},
		{
			Role:  RoleQA,
			Skill: SkillQAValidate,
			Input: &Schema{
				Type:     "object",
				Required: []string{"repo_id", "mode", "findings", "issues"},
				Properties: map[string]*Schema{
					"repo_id":  NonEmpty(),
					"mode":     OneOf("preview", "dry-run", "create"),
					"findings": ListOf(findingSchema()),
					"issues":   ListOf(issueSchema()),
					"fixes":    ListOf(fixSchema()),
				},
			},
			Output: &Schema{
				Type:     "object",
				Required: []string{"verdict"},
				Properties: map[string]*Schema{
					"verdict": OneOf("pass", "fail", "needs-review"),
					"notes":   Text(),
				},
			},
		},
		{
			Role:  RolePublisher,
			Skill: SkillPublish,
			Input: &Schema{
				Type:     "object",
				Required: []string{"repo_id", "owner", "repo", "issues"},
				Properties: map[string]*Schema{
					"repo_id": NonEmpty(),
					"owner":   NonEmpty(),
					"repo":    NonEmpty(),
					"issues":  NonEmptyListOf(issueSchema()),
				},
			},
			Output: &Schema{
				Type:     "object",
				Required: []string{"published"},
				Properties: map[string]*Schema{
					"published": ListOf(&Schema{
						Type:     "object",
						Required: []string{"title"},
						Properties: map[string]*Schema{
							"title":    NonEmpty(),
							"number":   Integer(),
							"url":      Text(),
							"existing": Bool(),
						},
					}),
				},
			},
		},
	}
}

// DefaultRegistry returns a registry holding the built-in contracts. It
// panics if a built-in schema does not resolve.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(err)
	}
	return r
}
