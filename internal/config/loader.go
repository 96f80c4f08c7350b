package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: AUDITFACTORY_PORTFOLIO__MAX_IN_FLIGHT -> portfolio.max_in_flight.
const EnvPrefix = "AUDITFACTORY_"

const maxConfigFileSize = 1024 * 1024

// Load reads configuration from the YAML file at path (skipped when path is
// empty), applies environment overrides and then defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if path != "" && cfg.Registry.Path != "" && !filepath.IsAbs(cfg.Registry.Path) {
		cfg.Registry.Path = filepath.Join(filepath.Dir(path), cfg.Registry.Path)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./auditfactory.yaml, ~/.auditfactory/config.yaml.
// With no file present it returns defaults plus environment overrides.
func LoadDefault() (*Config, error) {
	candidates := []string{"auditfactory.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".auditfactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Load("")
}

// DefaultSkillPolicies are applied to skills the config does not mention.
func DefaultSkillPolicies() map[string]SkillPolicy {
	return map[string]SkillPolicy{
		"analyze":        {Timeout: 5 * time.Minute, Retryable: true},
		"specify-issues": {Timeout: 60 * time.Second, Retryable: true},
		"plan-fix":       {Timeout: 60 * time.Second, Retryable: true},
		"implement-fix":  {Timeout: 2 * time.Minute, Retryable: false},
		"qa-validate":    {Timeout: 60 * time.Second, Retryable: true},
		"publish":        {Timeout: 2 * time.Minute, Retryable: false},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "repos.yaml"
	}

	if cfg.Source.MaxFiles == 0 {
		cfg.Source.MaxFiles = 5000
	}
	if cfg.Source.MaxFileBytes == 0 {
		cfg.Source.MaxFileBytes = 1 << 20
	}
	if len(cfg.Source.Exclude) == 0 {
		cfg.Source.Exclude = []string{".git", "node_modules", "vendor", "dist", "build"}
	}
	if cfg.Source.CacheDir == "" {
		cfg.Source.CacheDir = filepath.Join(homeDir(), ".auditfactory", "clones")
	}

	if cfg.Analyzer.LargeFileBytes == 0 {
		cfg.Analyzer.LargeFileBytes = 5 << 20
	}

	if cfg.Dispatch.SubjectPrefix == "" {
		cfg.Dispatch.SubjectPrefix = "auditfactory.agents"
	}
	if cfg.Dispatch.Roles == nil {
		cfg.Dispatch.Roles = make(map[string]RoleConfig)
	}
	for role, rc := range cfg.Dispatch.Roles {
		if rc.Backend == "" {
			rc.Backend = BackendLocal
		}
		cfg.Dispatch.Roles[role] = rc
	}
	if cfg.Dispatch.Skills == nil {
		cfg.Dispatch.Skills = make(map[string]SkillPolicy)
	}
	for skill, p := range DefaultSkillPolicies() {
		got, ok := cfg.Dispatch.Skills[skill]
		if !ok {
			cfg.Dispatch.Skills[skill] = p
			continue
		}
		if got.Timeout == 0 {
			got.Timeout = p.Timeout
			cfg.Dispatch.Skills[skill] = got
		}
	}

	if cfg.Portfolio.MaxInFlight == 0 {
		cfg.Portfolio.MaxInFlight = 1
	}
	if cfg.Portfolio.DefaultMode == "" {
		cfg.Portfolio.DefaultMode = "preview"
	}

	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = ArtifactsFS
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = filepath.Join(homeDir(), ".auditfactory", "artifacts")
	}
	if cfg.Publish.GitHubToken == "" {
		cfg.Publish.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
	if len(cfg.Publish.Labels) == 0 {
		cfg.Publish.Labels = []string{"auditfactory"}
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "auditfactory.events"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AgentServer.Host == "" {
		cfg.AgentServer.Host = "127.0.0.1"
	}
	if cfg.AgentServer.Port == 0 {
		cfg.AgentServer.Port = 8421
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
