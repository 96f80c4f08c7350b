package config

import "time"

// Config is the application configuration parsed from auditfactory.yaml and
// AUDITFACTORY_* environment variables.
type Config struct {
	Registry    RegistryConfig    `koanf:"registry" yaml:"registry"`
	Source      SourceConfig      `koanf:"source" yaml:"source"`
	Analyzer    AnalyzerConfig    `koanf:"analyzer" yaml:"analyzer"`
	Dispatch    DispatchConfig    `koanf:"dispatch" yaml:"dispatch"`
	Portfolio   PortfolioConfig   `koanf:"portfolio" yaml:"portfolio"`
	Artifacts   ArtifactsConfig   `koanf:"artifacts" yaml:"artifacts"`
	Publish     PublishConfig     `koanf:"publish" yaml:"publish"`
	Events      EventsConfig      `koanf:"events" yaml:"events"`
	Logging     LoggingConfig     `koanf:"logging" yaml:"logging"`
	Server      ServerConfig      `koanf:"server" yaml:"server"`
	AgentServer AgentServerConfig `koanf:"agent_server" yaml:"agent_server"`
}

// RegistryConfig locates the repository registry file.
type RegistryConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// SourceConfig bounds repository listings.
type SourceConfig struct {
	Patterns     []string `koanf:"patterns" yaml:"patterns"`
	Exclude      []string `koanf:"exclude" yaml:"exclude"`
	MaxFiles     int      `koanf:"max_files" yaml:"max_files"`
	MaxFileBytes int64    `koanf:"max_file_bytes" yaml:"max_file_bytes"`
	CacheDir     string   `koanf:"cache_dir" yaml:"cache_dir"` // clones of remote repositories
}

// AnalyzerConfig tunes the built-in analyzer.
type AnalyzerConfig struct {
	LargeFileBytes int64 `koanf:"large_file_bytes" yaml:"large_file_bytes"`
	Secrets        bool  `koanf:"secrets" yaml:"secrets"`
}

// DispatchConfig selects a backend per role and a policy per skill.
type DispatchConfig struct {
	NATSURL       string                 `koanf:"nats_url" yaml:"nats_url"`
	SubjectPrefix string                 `koanf:"subject_prefix" yaml:"subject_prefix"`
	Roles         map[string]RoleConfig  `koanf:"roles" yaml:"roles"`
	Skills        map[string]SkillPolicy `koanf:"skills" yaml:"skills"`
}

// Backend names.
const (
	BackendLocal = "local"
	BackendHTTP  = "http"
	BackendNATS  = "nats"
)

// RoleConfig routes one agent role.
type RoleConfig struct {
	Backend   string        `koanf:"backend" yaml:"backend"`
	Endpoint  string        `koanf:"endpoint" yaml:"endpoint"`
	RateLimit float64       `koanf:"rate_limit" yaml:"rate_limit"` // calls per second, 0 = unlimited
	Burst     int           `koanf:"burst" yaml:"burst"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"` // transport-level ceiling for HTTP
}

// SkillPolicy controls per-call timeout and retry for one skill.
type SkillPolicy struct {
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	Retryable bool          `koanf:"retryable" yaml:"retryable"`
}

// PortfolioConfig tunes multi-repository runs.
type PortfolioConfig struct {
	MaxInFlight int    `koanf:"max_in_flight" yaml:"max_in_flight"`
	DefaultMode string `koanf:"default_mode" yaml:"default_mode"`
}

// Artifact store backends.
const (
	ArtifactsFS       = "fs"
	ArtifactsPostgres = "postgres"
)

// ArtifactsConfig selects where run artifacts are written.
type ArtifactsConfig struct {
	Backend     string `koanf:"backend" yaml:"backend"`
	Dir         string `koanf:"dir" yaml:"dir"`
	DatabaseURL string `koanf:"database_url" yaml:"database_url"`
}

// PublishConfig configures the GitHub issue publisher.
type PublishConfig struct {
	GitHubToken string   `koanf:"github_token" yaml:"github_token"`
	BaseURL     string   `koanf:"base_url" yaml:"base_url"` // GitHub Enterprise API root
	Labels      []string `koanf:"labels" yaml:"labels"`
}

// EventsConfig configures run event notifications.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// ServerConfig configures the caller-facing HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host" yaml:"host"`
	Port            int           `koanf:"port" yaml:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AgentServerConfig configures the remote agent endpoint.
type AgentServerConfig struct {
	Host    string `koanf:"host" yaml:"host"`
	Port    int    `koanf:"port" yaml:"port"`
	NATS    bool   `koanf:"nats" yaml:"nats"` // also answer requests on dispatch.subject_prefix
}
