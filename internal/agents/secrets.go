package agents

import (
	"fmt"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Secret is a credential-like match in file content.
type Secret struct {
	Rule        string
	Description string
	Line        int
}

// SecretScanner finds secrets in file content.
type SecretScanner interface {
	Scan(content string) []Secret
}

// GitleaksScanner scans with the default gitleaks rule set.
type GitleaksScanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksScanner loads the default gitleaks configuration.
func NewGitleaksScanner() (*GitleaksScanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	return &GitleaksScanner{detector: d}, nil
}

// Scan reports secrets in content. The matched value is not returned.
func (g *GitleaksScanner) Scan(content string) []Secret {
	g.mu.Lock()
	found := g.detector.DetectString(content)
	g.mu.Unlock()

	out := make([]Secret, 0, len(found))
	for _, f := range found {
		out = append(out, Secret{Rule: f.RuleID, Description: f.Description, Line: f.StartLine})
	}
	return out
}
