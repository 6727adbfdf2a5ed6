package exec

import (
	"fmt"
	"regexp"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
)

// commandNotFoundPatterns are regex patterns to detect "command not found" errors
// from various shells. These require exit code 127.
var commandNotFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)-bash: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)(\S+): not found`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
}

// dependencyNotFoundPatterns detect when a tool (like make) fails because
// a dependency command isn't available. These can have various exit codes.
var dependencyNotFoundPatterns = []*regexp.Regexp{
	// make: go: No such file or directory
	regexp.MustCompile(`(?i)make: (\S+): No such file or directory`),
	// npm: 'go' is not recognized as an internal or external command
	regexp.MustCompile(`(?i)'(\S+)' is not recognized`),
	// /bin/sh: go: not found (from scripts)
	regexp.MustCompile(`(?i)/bin/sh: (\S+): not found`),
	// env: go: No such file or directory (from #!/usr/bin/env go)
	regexp.MustCompile(`(?i)env: (\S+): No such file or directory`),
}

// IsCommandNotFound checks if the error output indicates a missing command.
// Returns the command name (if extractable) and whether it's a command-not-found error.
func IsCommandNotFound(stderr string, exitCode int) (string, bool) {
	// Exit code 127 is the standard for command not found
	if exitCode != 127 {
		return "", false
	}

	// Try to extract the command name from stderr
	for _, pattern := range commandNotFoundPatterns {
		if matches := pattern.FindStringSubmatch(stderr); len(matches) > 1 {
			return matches[1], true
		}
	}

	// Exit code is 127 but couldn't extract command name
	return "", true
}

// IsDependencyNotFound checks if a tool failed because a dependency command is missing.
// This catches cases like make failing because 'go' isn't installed.
// Returns the missing command name and whether it was detected.
func IsDependencyNotFound(stderr string) (string, bool) {
	for _, pattern := range dependencyNotFoundPatterns {
		if matches := pattern.FindStringSubmatch(stderr); len(matches) > 1 {
			return matches[1], true
		}
	}
	return "", false
}

// HandleExecError turns a missing-binary failure into an actionable error.
// It returns nil when the output doesn't point at a missing command.
func HandleExecError(argv []string, stderr string, exitCode int) error {
	cmdName, notFound := IsCommandNotFound(stderr, exitCode)
	if !notFound {
		cmdName, notFound = IsDependencyNotFound(stderr)
	}
	if !notFound {
		return nil
	}

	displayCmd := cmdName
	if displayCmd == "" {
		if len(argv) > 0 {
			displayCmd = argv[0]
		} else {
			displayCmd = "command"
		}
	}

	suggestion := fmt.Sprintf(`'%s' wasn't found in PATH on this web node.

Fixes:

1. Check it is installed:
   which %s

2. Point the tool at it explicitly in acsf-tools.yaml:
   drush:
     binary: /path/to/drush
   background:
     script: /path/to/post-deployment.sh`, displayCmd, displayCmd)

	return errors.New(errors.ErrExec,
		fmt.Sprintf("'%s' not found in PATH", displayCmd),
		suggestion)
}
