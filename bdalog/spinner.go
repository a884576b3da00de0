package bdalog

import (
	"fmt"
	"io"
	"os"
)

// Spinner renders a single refreshing status line, per SPEC_FULL.md
// §11's runtime-statistics status line (the teacher has no spinner of
// its own; this is grounded in the original Rust implementation's
// get_bda_status plus the general "progress" ambient concern spec.md
// §7 names). It is a no-op when out is not a terminal, so piping a run
// to a file never fills it with carriage-return noise.
type Spinner struct {
	out      io.Writer
	isTTY    bool
	lastLen  int
}

// NewSpinner returns a Spinner writing to out. tty should reflect
// whether out is attached to an interactive terminal (the caller
// decides, e.g. via a TTY-detection helper in cmd/bda).
func NewSpinner(out io.Writer, tty bool) *Spinner {
	return &Spinner{out: out, isTTY: tty}
}

// Update overwrites the current status line with line. A no-op when
// the spinner is not attached to a TTY.
func (s *Spinner) Update(line string) {
	if !s.isTTY {
		return
	}
	pad := ""
	if s.lastLen > len(line) {
		pad = fmt.Sprintf("%*s", s.lastLen-len(line), "")
	}
	fmt.Fprintf(s.out, "\r%s%s", line, pad)
	s.lastLen = len(line)
}

// Done prints a trailing newline once the tracked task finishes, so
// later log lines don't collide with the last status render.
func (s *Spinner) Done() {
	if !s.isTTY {
		return
	}
	fmt.Fprintln(s.out)
}

// IsTerminal is a tiny helper cmd/bda can use to decide whether to
// attach a live Spinner to stderr.
func IsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
