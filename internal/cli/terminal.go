package cli

import (
	"log/slog"

	"golang.org/x/term"
)

// ttyProbe reports whether a file descriptor is an interactive terminal.
// Carried as a function field on the CLI so tests can force either answer
// without owning a tty.
type ttyProbe func(fd int) bool

// termTTY answers via golang.org/x/term.
func termTTY(fd int) bool {
	interactive := term.IsTerminal(fd)
	slog.Debug("terminal detection result", "fd", fd, "is_terminal", interactive)
	return interactive
}

// isInteractiveTerminal decides whether transport keys and the progress
// line are available on this stdin.
func (c *CLI) isInteractiveTerminal(fd int) bool {
	if c.isTTY == nil {
		c.isTTY = termTTY
	}
	return c.isTTY(fd)
}
