package agents

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/templates"
)

// IssueWriter groups findings into issue specs, one per category and
// severity, each with a rendered markdown body.
type IssueWriter struct {
	templates *templates.Set
}

var categoryTitles = map[string]string{
	CategorySecret:          "Secret",
	CategoryDocumentation:   "Documentation",
	CategoryCompliance:      "Compliance",
	CategoryTesting:         "Testing",
	CategoryHygiene:         "Repository hygiene",
	CategoryMaintainability: "Maintainability",
	CategoryCoverage:        "Audit coverage",
	"lint":                  "Lint",
	"type-error":            "Type errors",
	"dependency":            "Dependency vulnerabilities",
	"check":                 "Failing check",
}

var categorySummaries = map[string]string{
	CategorySecret:          "Credentials or key material are present in the repository. Anything committed should be treated as compromised.",
	CategoryDocumentation:   "The repository is missing documentation contributors rely on.",
	CategoryCompliance:      "The repository does not declare the terms it is distributed under.",
	CategoryTesting:         "No automated tests were found.",
	CategoryHygiene:         "Files that do not belong in version control were found.",
	CategoryMaintainability: "Outstanding TODO/FIXME markers were found.",
	CategoryCoverage:        "The audit could not cover the whole repository.",
	"lint":                  "The configured linter reported problems.",
	"type-error":            "The type checker reported errors.",
	"dependency":            "Dependencies with known advisories are in use.",
	"check":                 "A configured check failed.",
}

func categoryTitle(c string) string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	if c == "" {
		return "Finding"
	}
	r, size := utf8.DecodeRuneInString(c)
	return string(unicode.ToUpper(r)) + c[size:]
}

type groupKey struct {
	category string
	severity pipeline.Severity
}

// Specify returns one IssueSpec per (category, severity) group, most severe
// first. Every finding lands in exactly one issue.
func (w *IssueWriter) Specify(_ context.Context, req pipeline.SpecifyRequest) (pipeline.SpecifyResponse, error) {
	groups := map[groupKey][]pipeline.Finding{}
	var keys []groupKey
	for _, f := range req.Findings {
		k := groupKey{f.Category, f.Severity}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], f)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].severity.Rank() != keys[j].severity.Rank() {
			return keys[i].severity.Rank() < keys[j].severity.Rank()
		}
		return keys[i].category < keys[j].category
	})

	issues := make([]pipeline.IssueSpec, 0, len(keys))
	for _, k := range keys {
		is, err := w.issue(req, k, groups[k])
		if err != nil {
			return pipeline.SpecifyResponse{}, err
		}
		issues = append(issues, is)
	}
	return pipeline.SpecifyResponse{Issues: issues}, nil
}

func (w *IssueWriter) issue(req pipeline.SpecifyRequest, k groupKey, fs []pipeline.Finding) (pipeline.IssueSpec, error) {
	ids := make([]string, 0, len(fs))
	files := []string{}
	seen := map[string]bool{}
	var lines []string
	for _, f := range fs {
		ids = append(ids, f.ID)
		if f.File != "" && !seen[f.File] {
			seen[f.File] = true
			files = append(files, f.File)
		}
		line := fmt.Sprintf("- **%s** %s", f.ID, f.Message)
		if loc := f.Location(); loc != "" {
			line = fmt.Sprintf("- **%s** `%s` %s", f.ID, loc, f.Message)
		}
		if f.Rule != "" {
			line += fmt.Sprintf(" _(%s)_", f.Rule)
		}
		lines = append(lines, line)
	}
	sort.Strings(files)

	title := fmt.Sprintf("%s: %s", categoryTitle(k.category), fs[0].Message)
	if len(fs) > 1 {
		title = fmt.Sprintf("%s: %d %s findings", categoryTitle(k.category), len(fs), k.severity)
	}

	fileList := make([]string, len(files))
	for i, f := range files {
		fileList[i] = "- `" + f + "`"
	}
	body, err := w.templates.Render(templates.IssueBody, templates.Vars{
		"title":    title,
		"severity": string(k.severity),
		"category": k.category,
		"count":    strconv.Itoa(len(fs)),
		"summary":  categorySummaries[k.category],
		"findings": strings.Join(lines, "\n"),
		"files":    strings.Join(fileList, "\n"),
		"task":     req.Task,
		"repo_id":  req.RepoID,
		"commit":   req.Commit,
	})
	if err != nil {
		return pipeline.IssueSpec{}, err
	}
	return pipeline.IssueSpec{
		Title:      title,
		Body:       body,
		Severity:   k.severity,
		Category:   k.category,
		Files:      files,
		FindingIDs: ids,
	}, nil
}
