// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — kernel log helpers (zero-alloc, cold paths only)
//
// Purpose:
//   - Logs boot, process-stop and shootdown diagnostics without fmt.
//   - Fatal is the single exit for broken kernel invariants.
//
// Notes:
//   - Every line is "PREFIX: message\n" written in one write(2).
//   - Never call from the per-tick path.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"sync/atomic"

	"smpcore/utils"
)

// quiet suppresses all output. Fatal still panics.
var quiet atomic.Bool

// SetQuiet toggles log suppression; tests and benchmarks turn it on.
func SetQuiet(q bool) { quiet.Store(q) }

// DropError logs an error with a prefix. A nil error prints the prefix alone,
// which is how tagged warnings are emitted.
//
//go:nosplit
//go:inline
//go:registerparams
func DropError(prefix string, err error) {
	if quiet.Load() {
		return
	}
	if err != nil {
		utils.PrintWarning(prefix + ": " + err.Error() + "\n")
		return
	}
	utils.PrintWarning(prefix + "\n")
}

// DropMessage logs a diagnostic line.
//
//go:nosplit
//go:inline
//go:registerparams
func DropMessage(prefix, message string) {
	if quiet.Load() {
		return
	}
	utils.PrintWarning(prefix + ": " + message + "\n")
}

// InvariantError is the panic value raised by Fatal.
type InvariantError struct {
	Where string
	What  string
}

func (e *InvariantError) Error() string {
	return "kernel invariant violated in " + e.Where + ": " + e.What
}

// Fatal reports a violated kernel invariant and panics. There is no recovery
// path: every other core relies on the data model being intact.
func Fatal(where, what string) {
	err := &InvariantError{Where: where, What: what}
	if !quiet.Load() {
		utils.PrintWarning("PANIC: " + err.Error() + "\n")
	}
	panic(err)
}
