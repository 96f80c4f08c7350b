package agents

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/lucasnoah/auditfactory/internal/checks"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/source"
)

// Finding rules produced by the analyzer itself. Command checks use their
// own rule names.
const (
	RuleSecret         = "secret"
	RuleSensitiveFile  = "sensitive-file"
	RuleMissingReadme  = "missing-readme"
	RuleMissingLicense = "missing-license"
	RuleMissingTests   = "missing-tests"
	RuleLargeFile      = "large-file"
	RuleTodoMarker     = "todo-marker"
	RuleTruncated      = "truncated-listing"
	RuleUnreadable     = "unreadable-file"
)

// Finding categories.
const (
	CategorySecret          = "secret"
	CategoryDocumentation   = "documentation"
	CategoryCompliance      = "compliance"
	CategoryTesting         = "testing"
	CategoryHygiene         = "hygiene"
	CategoryMaintainability = "maintainability"
	CategoryCoverage        = "coverage"
)

var textExtensions = map[string]bool{
	".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".rs": true, ".c": true, ".h": true,
	".cpp": true, ".cs": true, ".php": true, ".swift": true, ".scala": true, ".sh": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true, ".ini": true, ".cfg": true,
	".conf": true, ".properties": true, ".env": true, ".tf": true, ".sql": true, ".xml": true,
	".md": true, ".txt": true,
}

var keyFileNames = map[string]bool{
	"id_rsa": true, "id_dsa": true, "id_ecdsa": true, "id_ed25519": true,
	".npmrc": true, ".pypirc": true, ".netrc": true, "credentials.json": true,
}

var keyFileExtensions = map[string]bool{".pem": true, ".key": true, ".p12": true, ".pfx": true, ".jks": true}

// Analyzer scans a bounded repository listing with a fixed rule set and the
// repository's configured command checks.
type Analyzer struct {
	checks  *checks.Runner
	secrets SecretScanner
}

// Analyze returns the repository's findings, ordered most severe first and
// numbered F001, F002, ...
func (a *Analyzer) Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (pipeline.AnalyzeResponse, error) {
	info, err := os.Stat(req.Root)
	if err != nil {
		return pipeline.AnalyzeResponse{}, fmt.Errorf("repository root: %w", err)
	}
	if !info.IsDir() {
		return pipeline.AnalyzeResponse{}, fmt.Errorf("repository root %s is not a directory", req.Root)
	}
	listing := source.NewListing(req.Root, req.Files, req.MaxFileBytes)
	var findings []pipeline.Finding

	findings = append(findings, structureFindings(req.Files)...)
	if req.Truncated {
		findings = append(findings, pipeline.Finding{
			Category: CategoryCoverage,
			Severity: pipeline.SeverityInfo,
			Message:  fmt.Sprintf("file listing truncated at %d files; results are partial", len(req.Files)),
			Rule:     RuleTruncated,
		})
	}

	for _, f := range req.Files {
		if err := ctx.Err(); err != nil {
			return pipeline.AnalyzeResponse{}, err
		}
		if isSensitiveFile(f.Path) {
			findings = append(findings, pipeline.Finding{
				Category: CategorySecret,
				Severity: pipeline.SeverityHigh,
				File:     f.Path,
				Message:  "credential or key file committed to the repository",
				Rule:     RuleSensitiveFile,
			})
		}
		if req.LargeFileBytes > 0 && f.Size > req.LargeFileBytes {
			findings = append(findings, pipeline.Finding{
				Category: CategoryHygiene,
				Severity: pipeline.SeverityLow,
				File:     f.Path,
				Message:  fmt.Sprintf("large file (%d bytes) checked in", f.Size),
				Rule:     RuleLargeFile,
			})
		}
		if !isText(f.Path) {
			continue
		}
		data, err := listing.Read(f.Path)
		if err != nil {
			findings = append(findings, pipeline.Finding{
				Category: CategoryCoverage,
				Severity: pipeline.SeverityInfo,
				File:     f.Path,
				Message:  fmt.Sprintf("file could not be read: %v", err),
				Rule:     RuleUnreadable,
			})
			continue
		}
		if bytes.IndexByte(data, 0) >= 0 {
			continue
		}
		findings = append(findings, contentFindings(f.Path, string(data), a.secrets)...)
	}

	if a.checks != nil {
		for _, spec := range req.Checks {
			res, err := a.checks.Run(ctx, req.Root, spec)
			if err != nil {
				return pipeline.AnalyzeResponse{}, fmt.Errorf("check %s: %w", spec.Name, err)
			}
			findings = append(findings, res.Findings...)
		}
	}

	return pipeline.AnalyzeResponse{Findings: Number(findings)}, nil
}

// Number sorts findings most severe first, then by category, file, line and
// message, and assigns sequential ids.
func Number(findings []pipeline.Finding) []pipeline.Finding {
	out := append([]pipeline.Finding{}, findings...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Message < b.Message
	})
	for i := range out {
		out[i].ID = fmt.Sprintf("F%03d", i+1)
	}
	return out
}

// structureFindings reports files every repository is expected to have.
func structureFindings(files []pipeline.SourceFile) []pipeline.Finding {
	var hasReadme, hasLicense, hasTests bool
	for _, f := range files {
		dir, base := path.Split(f.Path)
		upper := strings.ToUpper(base)
		if dir == "" {
			hasReadme = hasReadme || strings.HasPrefix(upper, "README")
			hasLicense = hasLicense || strings.HasPrefix(upper, "LICENSE") || strings.HasPrefix(upper, "LICENCE") || strings.HasPrefix(upper, "COPYING")
		}
		hasTests = hasTests || isTestPath(f.Path)
	}

	var out []pipeline.Finding
	if !hasReadme {
		out = append(out, pipeline.Finding{
			Category: CategoryDocumentation,
			Severity: pipeline.SeverityLow,
			Message:  "repository has no README",
			Rule:     RuleMissingReadme,
		})
	}
	if !hasLicense {
		out = append(out, pipeline.Finding{
			Category: CategoryCompliance,
			Severity: pipeline.SeverityMedium,
			Message:  "repository has no LICENSE file",
			Rule:     RuleMissingLicense,
		})
	}
	if !hasTests {
		out = append(out, pipeline.Finding{
			Category: CategoryTesting,
			Severity: pipeline.SeverityMedium,
			Message:  "no test files found",
			Rule:     RuleMissingTests,
		})
	}
	return out
}

// contentFindings scans one text file for secrets and TODO markers.
func contentFindings(file, content string, secrets SecretScanner) []pipeline.Finding {
	var out []pipeline.Finding
	if secrets != nil {
		for _, s := range secrets.Scan(content) {
			msg := "possible secret"
			if s.Description != "" {
				msg += ": " + s.Description
			}
			out = append(out, pipeline.Finding{
				Category: CategorySecret,
				Severity: pipeline.SeverityCritical,
				File:     file,
				Line:     s.Line,
				Message:  msg,
				Rule:     RuleSecret + ":" + s.Rule,
			})
		}
	}

	markers, first := 0, 0
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "TODO") || strings.Contains(line, "FIXME") {
			markers++
			if first == 0 {
				first = i + 1
			}
		}
	}
	if markers > 0 {
		out = append(out, pipeline.Finding{
			Category: CategoryMaintainability,
			Severity: pipeline.SeverityInfo,
			File:     file,
			Line:     first,
			Message:  fmt.Sprintf("%d TODO/FIXME marker(s)", markers),
			Rule:     RuleTodoMarker,
		})
	}
	return out
}

func isText(p string) bool {
	base := path.Base(p)
	if strings.HasPrefix(base, ".env") {
		return true
	}
	return textExtensions[strings.ToLower(path.Ext(base))]
}

func isSensitiveFile(p string) bool {
	base := path.Base(p)
	if keyFileNames[base] || keyFileExtensions[strings.ToLower(path.Ext(base))] {
		return true
	}
	if base == ".env" {
		return true
	}
	if strings.HasPrefix(base, ".env.") {
		switch strings.TrimPrefix(base, ".env.") {
		case "example", "sample", "template", "dist":
			return false
		}
		return true
	}
	return false
}

func isTestPath(p string) bool {
	for _, seg := range strings.Split(path.Dir(p), "/") {
		switch seg {
		case "test", "tests", "__tests__", "spec":
			return true
		}
	}
	base := strings.ToLower(path.Base(p))
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.HasSuffix(base, "_test.py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	return false
}
