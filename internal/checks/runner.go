package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// DefaultTimeout bounds a check that does not set its own timeout.
const DefaultTimeout = 2 * time.Minute

// Result holds the structured output of a check run.
type Result struct {
	CheckName  string             `json:"check_name"`
	Passed     bool               `json:"passed"`
	ExitCode   int                `json:"exit_code"`
	DurationMs int                `json:"duration_ms"`
	Summary    string             `json:"summary"`
	Findings   []pipeline.Finding `json:"findings"`
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes read-only checks inside a repository and turns their
// output into findings.
type Runner struct {
	cmd CommandRunner
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{cmd: cmd}
}

// Run executes a single check in dir. A check that times out yields a
// failed result rather than an error; err is reserved for checks that
// could not be started or were cancelled by the caller.
func (r *Runner) Run(ctx context.Context, dir string, spec pipeline.CheckSpec) (*Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, spec.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return &Result{
				CheckName:  spec.Name,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Findings: []pipeline.Finding{{
					Category: "check",
					Severity: pipeline.SeverityLow,
					Message:  fmt.Sprintf("check %q did not finish within %s", spec.Name, timeout),
					Rule:     spec.Name,
				}},
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", spec.Name, err)
	}

	parsed := parserFor(spec.Parser).Parse(stdout, stderr, exitCode)
	findings := make([]pipeline.Finding, 0, len(parsed.Findings))
	for _, f := range parsed.Findings {
		f.File = relativeTo(dir, f.File)
		if f.Rule == "" {
			f.Rule = spec.Name
		}
		findings = append(findings, f)
	}

	return &Result{
		CheckName:  spec.Name,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   findings,
	}, nil
}

// relativeTo rewrites absolute tool paths under dir as repo-relative paths.
func relativeTo(dir, file string) string {
	if file == "" || !filepath.IsAbs(file) {
		return file
	}
	rel, err := filepath.Rel(dir, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return file
	}
	return filepath.ToSlash(rel)
}
