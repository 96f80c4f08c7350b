package agents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/templates"
)

// Planner turns issues into remediation steps.
type Planner struct {
	templates *templates.Set
}

type remedy struct {
	action      string
	automatable bool
}

// remedyFor picks the action for an issue. Only remedies that can be
// expressed as a self-contained patch are automatable.
func remedyFor(is pipeline.IssueSpec) remedy {
	switch is.Category {
	case CategorySecret:
		if is.Severity == pipeline.SeverityHigh {
			return remedy{"Untrack the committed credential files and ignore them in .gitignore; rotate anything they contained", true}
		}
		return remedy{"Revoke and rotate the exposed credentials, remove them from the tree and history, and load them from the environment", false}
	case CategoryDocumentation:
		return remedy{"Add a README describing the project's purpose, setup and usage", true}
	case CategoryCompliance:
		return remedy{"Choose a license and add a LICENSE file", false}
	case CategoryTesting:
		return remedy{"Add automated tests and run them in CI", false}
	case CategoryHygiene:
		return remedy{"Move large binaries out of the repository or into Git LFS", false}
	case CategoryMaintainability:
		return remedy{"Triage the TODO/FIXME markers into tracked issues", false}
	case "dependency":
		return remedy{"Upgrade the affected dependencies to patched versions", false}
	default:
		return remedy{"Resolve the reported problems", false}
	}
}

// Plan returns one step per issue, in issue order.
func (p *Planner) Plan(_ context.Context, req pipeline.PlanRequest) (pipeline.PlanResponse, error) {
	steps := make([]pipeline.PlanStep, 0, len(req.Issues))
	for _, is := range req.Issues {
		r := remedyFor(is)
		files := append([]string{}, is.Files...)
		action, err := p.templates.Render(templates.PlanStep, templates.Vars{
			"action": r.action,
			"files":  strings.Join(files, ", "),
		})
		if err != nil {
			return pipeline.PlanResponse{}, err
		}
		steps = append(steps, pipeline.PlanStep{
			Issue:       is.Title,
			Action:      action,
			Files:       files,
			FindingIDs:  append([]string{}, is.FindingIDs...),
			Automatable: r.automatable,
		})
	}
	return pipeline.PlanResponse{Steps: steps}, nil
}

// Implementer proposes patches for automatable steps. Patches are returned
// as unified diffs and never applied to the working tree.
type Implementer struct{}

// maxGitignoreBytes bounds how much of an existing .gitignore is read.
const maxGitignoreBytes = 1 << 20

func (im *Implementer) Implement(ctx context.Context, req pipeline.ImplementRequest) (pipeline.ImplementResponse, error) {
	fixes := []pipeline.Fix{}
	for _, st := range req.Steps {
		if err := ctx.Err(); err != nil {
			return pipeline.ImplementResponse{}, err
		}
		if !st.Automatable {
			continue
		}
		file, patch, err := im.patchFor(req, st)
		if err != nil {
			return pipeline.ImplementResponse{}, err
		}
		if patch == "" {
			continue
		}
		resolves := append([]string{}, st.FindingIDs...)
		fixes = append(fixes, pipeline.Fix{Issue: st.Issue, File: file, Patch: patch, Resolves: resolves})
	}
	return pipeline.ImplementResponse{Fixes: fixes}, nil
}

func (im *Implementer) patchFor(req pipeline.ImplementRequest, st pipeline.PlanStep) (string, string, error) {
	switch {
	case strings.HasPrefix(st.Action, "Add a README"):
		lines := []string{
			"# " + req.RepoID,
			"",
			"## Overview",
			"",
			"Describe what this project does.",
			"",
			"## Getting started",
			"",
			"Describe how to build, test and run it.",
		}
		return "README.md", newFilePatch("README.md", lines), nil
	case strings.HasPrefix(st.Action, "Untrack the committed credential files"):
		if len(st.Files) == 0 {
			return "", "", nil
		}
		existing, err := readBounded(filepath.Join(req.Root, ".gitignore"), maxGitignoreBytes)
		if err != nil {
			return "", "", fmt.Errorf("read .gitignore: %w", err)
		}
		var add []string
		for _, f := range st.Files {
			entry := "/" + strings.TrimPrefix(f, "/")
			if !containsLine(existing, entry) {
				add = append(add, entry)
			}
		}
		if len(add) == 0 {
			return "", "", nil
		}
		return ".gitignore", appendPatch(".gitignore", existing, add), nil
	}
	return "", "", nil
}

func newFilePatch(name string, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n@@ -0,0 +1,%d @@\n", name, len(lines))
	for _, l := range lines {
		b.WriteString("+" + l + "\n")
	}
	return b.String()
}

// appendPatch adds lines after the last line of existing. A nil existing
// means the file is created.
func appendPatch(name string, existing []byte, lines []string) string {
	if existing == nil {
		return newFilePatch(name, lines)
	}
	n := bytes.Count(existing, []byte("\n"))
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		n++
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n@@ -%d,0 +%d,%d @@\n", name, name, n, n+1, len(lines))
	for _, l := range lines {
		b.WriteString("+" + l + "\n")
	}
	return b.String()
}

// readBounded returns nil, nil when the file does not exist.
func readBounded(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func containsLine(data []byte, line string) bool {
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}
