// Package ui holds the terminal building blocks shared by the commands:
// the color palette and status symbols used with lipgloss, go-pretty tables
// for site and status listings, and the confirmation prompt guarding
// destructive sweeps.
//
// Use DisableColors() to switch to monochrome output (for --no-color).
package ui
