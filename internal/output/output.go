// Package output provides CLI output handling.
//
// Commands write through a Writer so that tests can capture output, so
// that --json and --quiet behave the same everywhere, and so that color and
// spinners are only used on a real terminal.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/lunatix-dev/lunatix/internal/terminal"
)

// Status symbols
const (
	CheckMark   = "\u2713" // ✓
	XMark       = "\u2717" // ✗
	WarningMark = "\u26A0" // ⚠
	InfoMark    = "\u2139" // ℹ
)

type contextKey struct{}

// Writer handles CLI output with multiple modes.
type Writer struct {
	Out   io.Writer
	Err   io.Writer
	JSON  bool
	Quiet bool

	terminal *terminal.Info

	success *color.Color
	failure *color.Color
	warning *color.Color
	info    *color.Color
	muted   *color.Color
	key     *color.Color
}

// Default returns a Writer configured for stdout/stderr.
func Default() *Writer {
	return NewWriter(os.Stdout, os.Stderr, terminal.Detect())
}

// NewWriter creates a Writer with custom writers and terminal info.
func NewWriter(out, errOut io.Writer, term *terminal.Info) *Writer {
	w := &Writer{
		Out:      out,
		Err:      errOut,
		terminal: term,
		success:  color.New(color.FgGreen),
		failure:  color.New(color.FgRed),
		warning:  color.New(color.FgYellow),
		info:     color.New(color.FgCyan),
		muted:    color.New(color.FgHiBlack),
		key:      color.New(color.Bold),
	}

	if !term.ColorEnabled() {
		color.NoColor = true
	}

	return w
}

// WithContext stores the Writer in the context.
func (w *Writer) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// FromContext retrieves the Writer from context, or returns Default().
func FromContext(ctx context.Context) *Writer {
	if w, ok := ctx.Value(contextKey{}).(*Writer); ok {
		return w
	}

	return Default()
}

// Terminal returns the terminal info.
func (w *Writer) Terminal() *terminal.Info {
	return w.terminal
}

// SetNoColor disables colored output.
func (w *Writer) SetNoColor(disabled bool) {
	w.terminal.ForceFlag = disabled
	if disabled {
		color.NoColor = true
	}
}

// Print writes to stdout (respects quiet mode).
func (w *Writer) Print(format string, args ...any) {
	if !w.Quiet {
		fmt.Fprintf(w.Out, format, args...)
	}
}

// Println writes a line to stdout (respects quiet mode).
func (w *Writer) Println(args ...any) {
	if !w.Quiet {
		fmt.Fprintln(w.Out, args...)
	}
}

// PrintJSON outputs structured data as indented JSON. It ignores quiet mode.
func (w *Writer) PrintJSON(v any) error {
	enc := json.NewEncoder(w.Out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// Result prints v as JSON in JSON mode and calls human otherwise.
func (w *Writer) Result(v any, human func()) error {
	if w.JSON {
		return w.PrintJSON(v)
	}

	if human != nil {
		human()
	}

	return nil
}

// KeyValue is one row of KeyValues output.
type KeyValue struct {
	Key   string
	Value string
}

// KeyValues prints aligned "key  value" rows.
func (w *Writer) KeyValues(rows ...KeyValue) {
	if w.Quiet {
		return
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r.Key))
	}

	for _, r := range rows {
		label := r.Key + ":" + strings.Repeat(" ", width-len(r.Key))
		if w.terminal.ColorEnabled() {
			label = w.key.Sprint(label)
		}

		fmt.Fprintf(w.Out, "%s  %s\n", label, r.Value)
	}
}

// Error writes to stderr.
func (w *Writer) Error(format string, args ...any) {
	fmt.Fprintf(w.Err, format, args...)
}

// Write implements io.Writer, writing to Out.
func (w *Writer) Write(p []byte) (int, error) {
	if w.Quiet {
		return len(p), nil
	}

	return w.Out.Write(p)
}

func (w *Writer) status(dst io.Writer, tone *color.Color, mark, msg string) {
	if w.terminal.ColorEnabled() {
		tone.Fprint(dst, mark+" ")
		fmt.Fprintln(dst, msg)

		return
	}

	fmt.Fprintln(dst, mark+" "+msg)
}

// Success writes a success message with a checkmark.
func (w *Writer) Success(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, w.success, CheckMark, fmt.Sprintf(format, args...))
	}
}

// Failure writes an error message with an X mark to stderr.
func (w *Writer) Failure(format string, args ...any) {
	w.status(w.Err, w.failure, XMark, fmt.Sprintf(format, args...))
}

// Warning writes a warning message.
func (w *Writer) Warning(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, w.warning, WarningMark, fmt.Sprintf(format, args...))
	}
}

// Info writes an info message.
func (w *Writer) Info(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, w.info, InfoMark, fmt.Sprintf(format, args...))
	}
}

// Muted writes muted/gray text.
func (w *Writer) Muted(format string, args ...any) {
	if w.Quiet {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if w.terminal.ColorEnabled() {
		w.muted.Fprintln(w.Out, msg)
		return
	}

	fmt.Fprintln(w.Out, msg)
}

// Spinner creates a spinner for long operations. On a non-TTY or in quiet
// or JSON mode it degrades to plain "message... done" text.
func (w *Writer) Spinner(message string) *Spinner {
	sp := &Spinner{message: message, writer: w}

	if w.Quiet || w.JSON || !w.terminal.SpinnersEnabled() {
		sp.disabled = true
		return sp
	}

	sp.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.spinner.Writer = w.Out
	sp.spinner.Suffix = " " + message

	return sp
}

// Spinner wraps briandowns/spinner with graceful fallback.
type Spinner struct {
	spinner  *spinner.Spinner
	message  string
	writer   *Writer
	disabled bool
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	if s.disabled {
		if !s.writer.JSON {
			s.writer.Print("%s... ", s.message)
		}

		return
	}

	s.spinner.Start()
}

// Stop stops the spinner animation.
func (s *Spinner) Stop() {
	if !s.disabled {
		s.spinner.Stop()
	}
}

// UpdateMessage changes the spinner message.
func (s *Spinner) UpdateMessage(message string) {
	s.message = message
	if !s.disabled {
		s.spinner.Suffix = " " + message
	}
}

// StopWithSuccess stops spinner and shows success message.
func (s *Spinner) StopWithSuccess(message string) {
	s.finish("done", message, s.writer.Success)
}

// StopWithFailure stops spinner and shows failure message.
func (s *Spinner) StopWithFailure(message string) {
	s.finish("failed", message, s.writer.Failure)
}

// StopWithWarning stops spinner and shows warning message.
func (s *Spinner) StopWithWarning(message string) {
	s.finish("warning", message, s.writer.Warning)
}

func (s *Spinner) finish(word, message string, report func(string, ...any)) {
	if s.disabled {
		if !s.writer.JSON {
			s.writer.Println(word)
		}
	} else {
		s.spinner.Stop()
	}

	if message != "" && !s.writer.JSON {
		report("%s", message)
	}
}
