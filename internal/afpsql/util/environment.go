package util

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether f is an interactive terminal/TTY. Used to pick
// the default run mode: pipe mode when stdin is not a TTY, single-shot CLI
// mode otherwise.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
