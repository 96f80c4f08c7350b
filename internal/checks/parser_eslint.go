package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// ESLintParser parses ESLint JSON output (eslint -f json).
type ESLintParser struct{}

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   string `json:"ruleId"`
	Severity int    `json:"severity"` // 1=warning, 2=error
	Message  string `json:"message"`
	Line     int    `json:"line"`
}

func (p *ESLintParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var files []eslintFile
	if err := json.Unmarshal([]byte(stdout), &files); err != nil {
		res := (&GenericParser{}).Parse(stdout, stderr, exitCode)
		res.Summary = fmt.Sprintf("exit code %d (could not parse ESLint JSON)", exitCode)
		return res
	}

	var errs, warnings int
	var findings []pipeline.Finding
	for _, f := range files {
		for _, m := range f.Messages {
			sev := pipeline.SeverityLow
			if m.Severity == 2 {
				sev = pipeline.SeverityMedium
				errs++
			} else {
				warnings++
			}
			findings = append(findings, pipeline.Finding{
				Category: "lint",
				Severity: sev,
				File:     f.FilePath,
				Line:     m.Line,
				Message:  m.Message,
				Rule:     m.RuleID,
			})
		}
	}

	return ParseResult{
		Passed:   errs == 0,
		Summary:  fmt.Sprintf("%d errors, %d warnings", errs, warnings),
		Findings: findings,
	}
}
