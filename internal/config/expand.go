package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Vars are the values substituted into path templates.
type Vars struct {
	Group       string
	Env         string
	DB          string
	Name        string
	MachineName string
}

// Vars returns the template variables known from the config alone.
func (c *Config) Vars() Vars {
	return Vars{Group: c.Site.Group, Env: c.Site.Env}
}

// ExpandTilde replaces ~ or ~/path with the user's home directory.
// Does not support ~username syntax - just ~ for the current user.
func ExpandTilde(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}

	return path
}

// Expand replaces placeholders in a path template.
// Supported placeholders:
//   - {group}        - hosting site group
//   - {env}          - hosting environment
//   - {db}           - site database name
//   - {name}         - site name from the registry
//   - {machine_name} - site machine name derived from its platform domain
//
// Unknown placeholders are left untouched.
func Expand(template string, vars Vars) string {
	if template == "" {
		return template
	}

	r := strings.NewReplacer(
		"{group}", vars.Group,
		"{env}", vars.Env,
		"{db}", vars.DB,
		"{name}", vars.Name,
		"{machine_name}", vars.MachineName,
	)
	return ExpandTilde(r.Replace(template))
}
