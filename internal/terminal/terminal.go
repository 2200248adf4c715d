// Package terminal detects what the attached terminal can do: whether
// stdout and stderr are TTYs, whether color is wanted, and its width.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY       bool
	StderrIsTTY bool
	NoColor     bool
	Width       int
	ForceFlag   bool // Set when --no-color flag is used
}

// Detect returns terminal information for the current process.
func Detect() *Info {
	return detect(int(os.Stdout.Fd()), int(os.Stderr.Fd()), os.LookupEnv)
}

func detect(stdoutFD, stderrFD int, lookup func(string) (string, bool)) *Info {
	info := &Info{
		IsTTY:       term.IsTerminal(stdoutFD),
		StderrIsTTY: term.IsTerminal(stderrFD),
		Width:       80,
	}

	if info.IsTTY {
		if w, _, err := term.GetSize(stdoutFD); err == nil && w > 0 {
			info.Width = w
		}
	}

	// https://no-color.org/
	_, info.NoColor = lookup("NO_COLOR")

	if v, _ := lookup("TERM"); v == "dumb" {
		info.NoColor = true
	}

	return info
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	return !t.ForceFlag && t.IsTTY && !t.NoColor
}

// Interactive reports whether a human is likely watching. Used to decide
// whether logs go to stderr by default.
func (t *Info) Interactive() bool {
	return t.IsTTY && t.StderrIsTTY
}

// SpinnersEnabled returns true if spinners should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}
