package ui

// Unicode symbols for unit and task states.
const (
	SymbolSuccess  = "✓" // Succeeded
	SymbolFail     = "✗" // Failed
	SymbolPending  = "○" // Not started
	SymbolProgress = "◐" // Running
	SymbolComplete = "●"
	SymbolSkipped  = "⊘" // Skipped
	SymbolLocked   = "⊡" // LockRecord held
)
