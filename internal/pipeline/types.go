package pipeline

import (
	"fmt"
	"time"
)

// Mode controls which side effects a run may perform.
type Mode string

const (
	ModePreview Mode = "preview" // no writes of any kind
	ModeDryRun  Mode = "dry-run" // artifacts only
	ModeCreate  Mode = "create"  // artifacts, and publishing once QA passes
)

// ParseMode validates s as a run mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", &ConfigError{Field: "mode", Message: fmt.Sprintf("unknown mode %q (want preview, dry-run or create)", s)}
	}
	return m, nil
}

func (m Mode) Valid() bool {
	switch m {
	case ModePreview, ModeDryRun, ModeCreate:
		return true
	}
	return false
}

// WritesArtifacts reports whether the mode may touch the artifact store.
func (m Mode) WritesArtifacts() bool {
	return m == ModeDryRun || m == ModeCreate
}

// Severity of a finding. The zero value is not valid.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank orders severities: critical is 0, info is 4, unknown values sort last.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

// Finding is a single observation produced by the analyzer.
type Finding struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
	Rule     string   `json:"rule,omitempty"`
}

// Location renders the file and line hint, e.g. "src/app.go:12".
func (f Finding) Location() string {
	switch {
	case f.File == "":
		return ""
	case f.Line > 0:
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	default:
		return f.File
	}
}

// IssueSpec is a publishable issue covering one or more findings.
type IssueSpec struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Severity   Severity `json:"severity"`
	Category   string   `json:"category"`
	Files      []string `json:"files,omitempty"`
	FindingIDs []string `json:"finding_ids"`
}

// Verdict is the QA decision on a run's output.
type Verdict string

const (
	VerdictPass        Verdict = "pass"
	VerdictFail        Verdict = "fail"
	VerdictNeedsReview Verdict = "needs-review"
)

type QAVerdict struct {
	Verdict Verdict `json:"verdict"`
	Notes   string  `json:"notes,omitempty"`
}

// PlanStep is one remediation step proposed for an issue.
type PlanStep struct {
	Issue       string   `json:"issue"`
	Action      string   `json:"action"`
	Files       []string `json:"files,omitempty"`
	FindingIDs  []string `json:"finding_ids"`
	Automatable bool     `json:"automatable"`
}

// Fix is a proposed change. Fixes are recorded as patches and never applied
// to the audited working tree.
type Fix struct {
	Issue    string   `json:"issue"`
	File     string   `json:"file"`
	Patch    string   `json:"patch"`
	Resolves []string `json:"resolves"`
}

// PublishedIssue is an issue that exists on the tracker after publishing.
type PublishedIssue struct {
	Title    string `json:"title"`
	Number   int    `json:"number"`
	URL      string `json:"url"`
	Existing bool   `json:"existing,omitempty"`
}

// State is a pipeline state machine state.
type State string

const (
	StateResolveRepo      State = "RESOLVE_REPO"
	StateAnalyze          State = "ANALYZE"
	StateSpecifyIssues    State = "SPECIFY_ISSUES"
	StatePlanFix          State = "PLAN_FIX"
	StateImplementFix     State = "IMPLEMENT_FIX"
	StateQAValidate       State = "QA_VALIDATE"
	StatePersistOrPublish State = "PERSIST_OR_PUBLISH"
	StateDone             State = "DONE"
	StateError            State = "ERROR"
)

// Stage names recorded on StageOutcomes.
const (
	StageResolveRepo   = "resolve_repo"
	StageAnalyze       = "analyze"
	StageSpecifyIssues = "specify_issues"
	StagePlanFix       = "plan_fix"
	StageImplementFix  = "implement_fix"
	StageQAValidate    = "qa_validate"
	StagePersist       = "persist"
	StagePublish       = "publish"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// StageOutcome records one stage of one repository's pipeline.
type StageOutcome struct {
	Stage         string        `json:"stage"`
	Status        Status        `json:"status"`
	Duration      time.Duration `json:"duration_ns"`
	Error         string        `json:"error,omitempty"`
	PayloadRef    string        `json:"payload_ref,omitempty"`
	CorrelationID string        `json:"correlation_id"`
}

// Error kinds recorded on a Result in the ERROR state.
const (
	ErrKindRepoNotFound      = "repo_not_found"
	ErrKindSourceUnavailable = "source_unavailable"
	ErrKindSource            = "source_error"
	ErrKindContract          = "contract_violation"
	ErrKindDispatch          = "dispatch_error"
	ErrKindCancelled         = "cancelled"
	ErrKindStage             = "stage_error"
)

// Result is the outcome of one repository's pipeline.
type Result struct {
	RunID            string           `json:"run_id,omitempty"`
	RepoID           string           `json:"repo_id"`
	Mode             Mode             `json:"mode"`
	CorrelationID    string           `json:"correlation_id"`
	State            State            `json:"state"`
	Stages           []StageOutcome   `json:"stages"`
	Commit           string           `json:"commit,omitempty"`
	Findings         []Finding        `json:"findings,omitempty"`
	Issues           []IssueSpec      `json:"issues,omitempty"`
	Plan             []PlanStep       `json:"plan,omitempty"`
	Fixes            []Fix            `json:"fixes,omitempty"`
	Verdict          *QAVerdict       `json:"verdict,omitempty"`
	Published        []PublishedIssue `json:"published,omitempty"`
	ArtifactRef      string           `json:"artifact_ref,omitempty"`
	Downgraded       bool             `json:"downgraded,omitempty"`
	DowngradeReason  string           `json:"downgrade_reason,omitempty"`
	IssuesFound      int              `json:"issues_found"`
	IssuesFixed      int              `json:"issues_fixed"`
	IssuesBySeverity map[string]int   `json:"issues_by_severity"`
	IssuesByType     map[string]int   `json:"issues_by_type"`
	ComplianceScore  float64          `json:"compliance_score"`
	Error            string           `json:"error,omitempty"`
	ErrorKind        string           `json:"error_kind,omitempty"`
}

// Failed reports whether the pipeline ended in the ERROR state.
func (r *Result) Failed() bool {
	return r.State == StateError
}

// Outcome returns the outcome recorded for stage, if any.
func (r *Result) Outcome(stage string) (StageOutcome, bool) {
	for _, o := range r.Stages {
		if o.Stage == stage {
			return o, true
		}
	}
	return StageOutcome{}, false
}

// TaskRequest asks for one repository to be audited.
type TaskRequest struct {
	RunID         string            `json:"run_id,omitempty"`
	RepoID        string            `json:"repo_id"`
	Task          string            `json:"task"`
	Environment   string            `json:"environment,omitempty"`
	Mode          Mode              `json:"mode"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Remediate     bool              `json:"remediate,omitempty"`
}

// Validate rejects malformed requests before any stage runs.
func (r TaskRequest) Validate() error {
	if r.RepoID == "" {
		return &ConfigError{Field: "repo_id", Message: "is required"}
	}
	if !r.Mode.Valid() {
		return &ConfigError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", r.Mode)}
	}
	return nil
}

// ConfigError reports a malformed request or configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[string]int {
	out := make(map[string]int)
	for _, f := range findings {
		out[string(f.Severity)]++
	}
	return out
}

// CountByCategory tallies findings per category.
func CountByCategory(findings []Finding) map[string]int {
	out := make(map[string]int)
	for _, f := range findings {
		out[f.Category]++
	}
	return out
}
