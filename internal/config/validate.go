package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
)

var validate = validator.New()

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but acsf-tools only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade acsf-tools or lower the config version")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errors.New(errors.ErrConfig,
				describeFieldError(verrs[0]),
				suggestionFor(verrs[0]))
		}
		return errors.WrapWithCode(err, errors.ErrConfig, "Config validation failed", "Check acsf-tools.yaml")
	}

	return nil
}

// describeFieldError turns a validator error into a readable sentence.
func describeFieldError(fe validator.FieldError) string {
	field := yamlPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed the %q check", field, fe.Tag())
	}
}

func suggestionFor(fe validator.FieldError) string {
	switch yamlPath(fe.Namespace()) {
	case "site.group":
		return "Set site.group in acsf-tools.yaml or export AH_SITE_GROUP"
	case "site.env":
		return "Set site.env in acsf-tools.yaml or export AH_SITE_ENVIRONMENT"
	}
	return "Fix the value in acsf-tools.yaml or the matching ACSF_* environment variable"
}

// yamlPath converts "Config.Site.Group" into "site.group".
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

// snake lower-cases a Go field name; acronym runs stay together ("SitesJSON" -> "sites_json").
func snake(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		prevLower = !upper
		b.WriteRune(r)
	}
	return b.String()
}
