package checks

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// NPMAuditParser parses npm audit --json output.
type NPMAuditParser struct{}

type npmAuditOutput struct {
	Metadata struct {
		Vulnerabilities struct {
			Critical int `json:"critical"`
			High     int `json:"high"`
			Moderate int `json:"moderate"`
			Low      int `json:"low"`
			Info     int `json:"info"`
			Total    int `json:"total"`
		} `json:"vulnerabilities"`
	} `json:"metadata"`
	Vulnerabilities map[string]npmVulnerability `json:"vulnerabilities"`
}

type npmVulnerability struct {
	Name     string          `json:"name"`
	Severity string          `json:"severity"`
	Range    string          `json:"range"`
	Via      json.RawMessage `json:"via"`
}

// npmSeverity maps npm's scale onto finding severities.
var npmSeverity = map[string]pipeline.Severity{
	"critical": pipeline.SeverityCritical,
	"high":     pipeline.SeverityHigh,
	"moderate": pipeline.SeverityMedium,
	"low":      pipeline.SeverityLow,
	"info":     pipeline.SeverityInfo,
}

func (p *NPMAuditParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var raw npmAuditOutput
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		res := (&GenericParser{}).Parse(stdout, stderr, exitCode)
		res.Summary = fmt.Sprintf("exit code %d (could not parse npm audit JSON)", exitCode)
		return res
	}

	names := make([]string, 0, len(raw.Vulnerabilities))
	for name := range raw.Vulnerabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []pipeline.Finding
	for _, name := range names {
		vuln := raw.Vulnerabilities[name]
		sev, ok := npmSeverity[vuln.Severity]
		if !ok {
			sev = pipeline.SeverityMedium
		}
		msg := fmt.Sprintf("vulnerable dependency %s", name)
		if title := advisoryTitle(vuln.Via); title != "" {
			msg += ": " + title
		}
		if vuln.Range != "" {
			msg += fmt.Sprintf(" (%s)", vuln.Range)
		}
		findings = append(findings, pipeline.Finding{
			Category: "dependency",
			Severity: sev,
			File:     "package.json",
			Message:  msg,
			Rule:     "npm-audit",
		})
	}

	v := raw.Metadata.Vulnerabilities
	passed := exitCode == 0
	summary := fmt.Sprintf("%d vulnerabilities (%d critical, %d high, %d moderate, %d low)",
		v.Total, v.Critical, v.High, v.Moderate, v.Low)
	if passed && len(findings) == 0 {
		summary = "no vulnerabilities found"
	}
	return ParseResult{Passed: passed, Summary: summary, Findings: findings}
}

// advisoryTitle returns the first advisory title in a "via" list. Entries are
// either advisory objects or names of other vulnerable packages.
func advisoryTitle(via json.RawMessage) string {
	var entries []json.RawMessage
	if err := json.Unmarshal(via, &entries); err != nil {
		return ""
	}
	for _, e := range entries {
		var adv struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(e, &adv) == nil && adv.Title != "" {
			return adv.Title
		}
	}
	return ""
}
