package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// Status is the outcome of one repository in a portfolio run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// Request asks for a set of repositories to be audited.
type Request struct {
	RunID         string            `json:"run_id,omitempty"`
	RepoIDs       []string          `json:"repo_ids,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Mode          pipeline.Mode     `json:"mode"`
	Task          string            `json:"task"`
	Environment   string            `json:"environment,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Remediate     bool              `json:"remediate,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// Validate rejects requests that cannot start a run.
func (r Request) Validate() error {
	if !r.Mode.Valid() {
		return &pipeline.ConfigError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", r.Mode)}
	}
	if strings.TrimSpace(r.Task) == "" {
		return &pipeline.ConfigError{Field: "task", Message: "is required"}
	}
	for i, id := range r.RepoIDs {
		if strings.TrimSpace(id) == "" {
			return &pipeline.ConfigError{Field: fmt.Sprintf("repo_ids[%d]", i), Message: "must not be empty"}
		}
	}
	return nil
}

// RepoResult is one repository's entry in a portfolio run.
type RepoResult struct {
	RepoID        string           `json:"repo_id"`
	Name          string           `json:"name"`
	Status        Status           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	Error         string           `json:"error,omitempty"`
	Pipeline      *pipeline.Result `json:"pipeline,omitempty"`
	Duration      time.Duration    `json:"duration_ns"`
	CorrelationID string           `json:"correlation_id"`
}

// Ranked is one row of a repository ranking.
type Ranked struct {
	RepoID          string  `json:"repo_id"`
	IssuesFound     int     `json:"issues_found"`
	ComplianceScore float64 `json:"compliance_score"`
}

// Aggregates summarise a run. They are computed from the RepoResults alone.
type Aggregates struct {
	ReposTotal             int            `json:"repos_total"`
	ReposAnalyzed          int            `json:"repos_analyzed"`
	ReposSkipped           int            `json:"repos_skipped"`
	ReposErrored           int            `json:"repos_errored"`
	IssuesFound            int            `json:"issues_found"`
	IssuesFixed            int            `json:"issues_fixed"`
	FixRate                float64        `json:"fix_rate"`
	MeanComplianceScore    float64        `json:"mean_compliance_score"`
	IssuesBySeverity       map[string]int `json:"issues_by_severity"`
	IssuesByType           map[string]int `json:"issues_by_type"`
	ReposByIssueCount      []Ranked       `json:"repos_by_issue_count"`
	ReposByComplianceScore []Ranked       `json:"repos_by_compliance_score"`
}

// Result is the outcome of a portfolio run.
type Result struct {
	RunID         string        `json:"run_id"`
	Mode          pipeline.Mode `json:"mode"`
	Task          string        `json:"task"`
	CorrelationID string        `json:"correlation_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Duration      time.Duration `json:"duration_ns"`
	Repos         []RepoResult  `json:"repos"`
	Aggregates    Aggregates    `json:"aggregates"`
	SummaryRef    string        `json:"summary_ref,omitempty"`
}
