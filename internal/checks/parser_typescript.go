package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// TypeScriptParser parses tsc --noEmit output.
type TypeScriptParser struct{}

// tsc output format: src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (p *TypeScriptParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var findings []pipeline.Finding

	// tsc outputs to stdout
	for _, line := range strings.Split(stdout, "\n") {
		m := tscLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		findings = append(findings, pipeline.Finding{
			Category: "type-error",
			Severity: pipeline.SeverityHigh,
			File:     m[1],
			Line:     lineNum,
			Message:  m[5],
			Rule:     m[4],
		})
	}

	passed := exitCode == 0
	summary := fmt.Sprintf("%d errors", len(findings))
	if passed {
		summary = "no errors"
	}
	return ParseResult{Passed: passed, Summary: summary, Findings: findings}
}
