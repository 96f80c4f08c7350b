package checks

import "github.com/lucasnoah/auditfactory/internal/pipeline"

// ParseResult holds the normalized output from a parser.
type ParseResult struct {
	Passed   bool               `json:"passed"`
	Summary  string             `json:"summary"`
	Findings []pipeline.Finding `json:"findings"`
}

// Parser converts raw command output into findings. Finding ids are left
// empty; the analyzer numbers findings once all rules have run.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}

var parsers = map[string]Parser{
	"eslint":     &ESLintParser{},
	"typescript": &TypeScriptParser{},
	"npm-audit":  &NPMAuditParser{},
	"generic":    &GenericParser{},
}

// KnownParser reports whether name selects a parser.
func KnownParser(name string) bool {
	_, ok := parsers[name]
	return ok
}

// parserFor returns the named parser, falling back to generic.
func parserFor(name string) Parser {
	if p, ok := parsers[name]; ok {
		return p
	}
	return parsers["generic"]
}
