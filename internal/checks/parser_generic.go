package checks

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// GenericParser is the fallback parser: a non-zero exit is one finding
// carrying the tail of the command's output.
type GenericParser struct{}

// maxOutputLen caps how much output the generic finding retains.
const maxOutputLen = 2000

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}
	}

	combined := strings.TrimSpace(stdout)
	if s := strings.TrimSpace(stderr); s != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += s
	}
	// Keep the tail; error summaries are usually at the end.
	if len(combined) > maxOutputLen {
		combined = "…(truncated)\n" + combined[len(combined)-maxOutputLen:]
	}

	msg := fmt.Sprintf("check exited with code %d", exitCode)
	if combined != "" {
		msg += ":\n" + combined
	}
	return ParseResult{
		Passed:  false,
		Summary: fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr)),
		Findings: []pipeline.Finding{{
			Category: "check",
			Severity: pipeline.SeverityMedium,
			Message:  msg,
		}},
	}
}
