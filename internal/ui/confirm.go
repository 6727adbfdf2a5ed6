package ui

import (
	"os"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"golang.org/x/term"
)

// isTerminal is swapped in tests.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// runConfirm is swapped in tests.
var runConfirm = func(title, description string, value *bool) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Value(value),
		),
	).Run()
}

// Confirm asks the operator to confirm a destructive action. assumeYes
// (from --yes) skips the prompt. Without a terminal there is nobody to ask,
// so an error is returned instead of guessing.
func Confirm(title, description string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !isTerminal() {
		return false, errors.New(errors.ErrConfig,
			"Confirmation required but stdin is not a terminal",
			"Pass --yes to run non-interactively")
	}

	var ok bool
	if err := runConfirm(title, description, &ok); err != nil {
		return false, nil
	}
	return ok, nil
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
