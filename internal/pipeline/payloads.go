package pipeline

import "time"

// Request and response bodies exchanged with agent roles. They travel as
// JSON objects whether the role is served in-process or remotely.

// SourceFile is one entry of a bounded repository listing.
type SourceFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// CheckSpec configures a read-only command check run by the analyzer.
type CheckSpec struct {
	Name    string        `json:"name" yaml:"name"`
	Command string        `json:"command" yaml:"command"`
	Parser  string        `json:"parser,omitempty" yaml:"parser"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

type AnalyzeRequest struct {
	RepoID         string       `json:"repo_id"`
	Root           string       `json:"root"`
	Commit         string       `json:"commit,omitempty"`
	Files          []SourceFile `json:"files"`
	Truncated      bool         `json:"truncated,omitempty"`
	MaxFileBytes   int64        `json:"max_file_bytes,omitempty"`
	LargeFileBytes int64        `json:"large_file_bytes,omitempty"`
	Checks         []CheckSpec  `json:"checks,omitempty"`
}

type AnalyzeResponse struct {
	Findings []Finding `json:"findings"`
}

type SpecifyRequest struct {
	RepoID   string    `json:"repo_id"`
	Task     string    `json:"task,omitempty"`
	Commit   string    `json:"commit,omitempty"`
	Findings []Finding `json:"findings"`
}

type SpecifyResponse struct {
	Issues []IssueSpec `json:"issues"`
}

type PlanRequest struct {
	RepoID string      `json:"repo_id"`
	Issues []IssueSpec `json:"issues"`
}

type PlanResponse struct {
	Steps []PlanStep `json:"steps"`
}

type ImplementRequest struct {
	RepoID string     `json:"repo_id"`
	Root   string     `json:"root"`
	Steps  []PlanStep `json:"steps"`
}

type ImplementResponse struct {
	Fixes []Fix `json:"fixes"`
}

type QARequest struct {
	RepoID   string      `json:"repo_id"`
	Mode     Mode        `json:"mode"`
	Findings []Finding   `json:"findings"`
	Issues   []IssueSpec `json:"issues"`
	Fixes    []Fix       `json:"fixes,omitempty"`
}

type PublishRequest struct {
	RepoID string      `json:"repo_id"`
	Owner  string      `json:"owner"`
	Repo   string      `json:"repo"`
	Issues []IssueSpec `json:"issues"`
}

type PublishResponse struct {
	Published []PublishedIssue `json:"published"`
}
