package config

import (
	"fmt"
	"sort"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validModes = map[string]bool{"preview": true, "dry-run": true, "create": true}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Registry.Path == "" {
		errs = append(errs, ValidationError{Field: "registry.path", Message: "is required"})
	}
	if cfg.Source.MaxFiles < 0 {
		errs = append(errs, ValidationError{Field: "source.max_files", Message: "must not be negative"})
	}
	if cfg.Source.MaxFileBytes < 0 {
		errs = append(errs, ValidationError{Field: "source.max_file_bytes", Message: "must not be negative"})
	}

	roles := make([]string, 0, len(cfg.Dispatch.Roles))
	for role := range cfg.Dispatch.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		rc := cfg.Dispatch.Roles[role]
		prefix := "dispatch.roles." + role
		switch rc.Backend {
		case BackendLocal:
		case BackendHTTP:
			if rc.Endpoint == "" {
				errs = append(errs, ValidationError{Field: prefix + ".endpoint", Message: "is required for the http backend"})
			}
		case BackendNATS:
			if cfg.Dispatch.NATSURL == "" {
				errs = append(errs, ValidationError{Field: "dispatch.nats_url", Message: fmt.Sprintf("is required when role %q uses the nats backend", role)})
			}
		default:
			errs = append(errs, ValidationError{Field: prefix + ".backend", Message: fmt.Sprintf("unknown backend %q (want local, http or nats)", rc.Backend)})
		}
		if rc.RateLimit < 0 {
			errs = append(errs, ValidationError{Field: prefix + ".rate_limit", Message: "must not be negative"})
		}
	}

	skills := make([]string, 0, len(cfg.Dispatch.Skills))
	for skill := range cfg.Dispatch.Skills {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	for _, skill := range skills {
		p := cfg.Dispatch.Skills[skill]
		if p.Timeout < 0 {
			errs = append(errs, ValidationError{Field: "dispatch.skills." + skill + ".timeout", Message: "must not be negative"})
		}
		if skill == "publish" && p.Retryable {
			errs = append(errs, ValidationError{Field: "dispatch.skills.publish.retryable", Message: "publish is not idempotent and cannot be retried"})
		}
	}

	if cfg.Portfolio.MaxInFlight < 1 {
		errs = append(errs, ValidationError{Field: "portfolio.max_in_flight", Message: "must be at least 1"})
	}
	if !validModes[cfg.Portfolio.DefaultMode] {
		errs = append(errs, ValidationError{Field: "portfolio.default_mode", Message: fmt.Sprintf("unknown mode %q", cfg.Portfolio.DefaultMode)})
	}

	switch cfg.Artifacts.Backend {
	case ArtifactsFS:
		if cfg.Artifacts.Dir == "" {
			errs = append(errs, ValidationError{Field: "artifacts.dir", Message: "is required for the fs backend"})
		}
	case ArtifactsPostgres:
		if cfg.Artifacts.DatabaseURL == "" {
			errs = append(errs, ValidationError{Field: "artifacts.database_url", Message: "is required for the postgres backend"})
		}
	default:
		errs = append(errs, ValidationError{Field: "artifacts.backend", Message: fmt.Sprintf("unknown backend %q (want fs or postgres)", cfg.Artifacts.Backend)})
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: "must be between 0 and 65535"})
	}
	if cfg.AgentServer.Port < 0 || cfg.AgentServer.Port > 65535 {
		errs = append(errs, ValidationError{Field: "agent_server.port", Message: "must be between 0 and 65535"})
	}
	if cfg.AgentServer.NATS && cfg.Dispatch.NATSURL == "" {
		errs = append(errs, ValidationError{Field: "agent_server.nats", Message: "requires dispatch.nats_url"})
	}

	return errs
}
