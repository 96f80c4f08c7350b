package registry

import (
	"fmt"
	"regexp"

	"github.com/lucasnoah/auditfactory/internal/checks"
	"github.com/lucasnoah/auditfactory/internal/config"
)

// ids become artifact path segments.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate returns every structural problem in repos (empty if valid).
func Validate(repos []RepoConfig) []config.ValidationError {
	var errs []config.ValidationError
	seen := make(map[string]bool)

	for i, r := range repos {
		prefix := fmt.Sprintf("repos[%d]", i)
		switch {
		case r.ID == "":
			errs = append(errs, config.ValidationError{Field: prefix + ".id", Message: "is required"})
		case !idPattern.MatchString(r.ID):
			errs = append(errs, config.ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("%q may only contain letters, digits, '.', '_' and '-'", r.ID)})
		case seen[r.ID]:
			errs = append(errs, config.ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate repo ID %q", r.ID)})
		}
		seen[r.ID] = true

		if r.Path == "" && r.URL == "" {
			errs = append(errs, config.ValidationError{Field: prefix, Message: "one of path or url is required"})
		}
		if (r.Publish.Owner == "") != (r.Publish.Repo == "") {
			errs = append(errs, config.ValidationError{Field: prefix + ".publish", Message: "owner and repo must be set together"})
		}

		for j, c := range r.Checks {
			cp := fmt.Sprintf("%s.checks[%d]", prefix, j)
			if c.Name == "" {
				errs = append(errs, config.ValidationError{Field: cp + ".name", Message: "is required"})
			}
			if c.Command == "" {
				errs = append(errs, config.ValidationError{Field: cp + ".command", Message: "is required"})
			}
			if c.Parser != "" && !checks.KnownParser(c.Parser) {
				errs = append(errs, config.ValidationError{Field: cp + ".parser", Message: fmt.Sprintf("unrecognized parser %q", c.Parser)})
			}
		}
	}
	return errs
}

func toErrors(errs []config.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}
