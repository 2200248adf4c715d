// Package errors provides structured CLI error types for lunatix.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess = 0  // Successful execution
	ExitGeneral = 1  // General error
	ExitNetwork = 3  // Backend or bridge unreachable
	ExitConfig  = 4  // Configuration error
	ExitTimeout = 5  // Wait timed out
	ExitSpawn   = 6  // Sidecar could not be started
	ExitUsage   = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// SpawnFailed returns an error for a sidecar that could not be started.
// Common causes are recognized from the error text and given a specific hint.
func SpawnFailed(name string, cause error) *CLIError {
	text := ""
	if cause != nil {
		text = cause.Error()
	}

	hint := "Run 'lunatix doctor' to check the sidecar installation"

	switch {
	case containsAny(text, "binary not found", "executable file not found", "no such file"):
		hint = fmt.Sprintf("Install %s next to lunatix, add it to PATH, or set sidecar.path", name)
	case containsAny(text, "permission denied"):
		hint = fmt.Sprintf("Make the %s binary executable", name)
	case containsAny(text, "exec format error"):
		hint = fmt.Sprintf("The %s binary was built for a different platform", name)
	case containsAny(text, "shut down"):
		hint = "The window was closed; restart lunatix serve"
	}

	return &CLIError{
		Message: fmt.Sprintf("Failed to start %s", name),
		Hint:    hint,
		Cause:   cause,
		Code:    ExitSpawn,
	}
}

// BackendUnreachable returns an error when the backend status probe fails.
func BackendUnreachable(url string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Backend not reachable at %s", url),
		Hint:    "Start it with 'lunatix mode standalone' or point to a running server with 'lunatix mode remote <url>'",
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// BackendIncompatible returns an error for a backend older than supported.
func BackendIncompatible(version, minVersion string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Backend version %s is not supported", version),
		Hint:    fmt.Sprintf("Upgrade the backend to %s or newer", minVersion),
		Code:    ExitGeneral,
	}
}

// BackendWaitTimedOut returns an error when the backend never became ready.
func BackendWaitTimedOut(url, timeout string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Backend at %s not ready after %s", url, timeout),
		Hint:    "Increase --timeout or check the sidecar output with --log-level=debug",
		Cause:   cause,
		Code:    ExitTimeout,
	}
}

// BridgeUnavailable returns an error when no bridge answers at addr.
func BridgeUnavailable(addr string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("No lunatix bridge at %s", addr),
		Hint:    "Start it with 'lunatix serve' or pass --bridge-addr",
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// InvalidURL returns an error for a malformed backend URL.
func InvalidURL(raw string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid backend URL: %q", raw),
		Hint:    "Use an absolute http:// or https:// URL, e.g. https://api.example.com",
		Cause:   cause,
		Code:    ExitUsage,
	}
}

// ConfigFailed returns an error for configuration read or save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your lunatix config directory or run 'lunatix doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// UnknownConfigKey returns an error for a key lunatix does not read.
func UnknownConfigKey(key string, known []string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Unknown config key: %s", key),
		Hint:    fmt.Sprintf("Known keys: %s", strings.Join(known, ", ")),
		Code:    ExitUsage,
	}
}

// UnknownSidecar returns an error for a sidecar name with no manifest.
func UnknownSidecar(name string, known []string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Unknown sidecar: %s", name),
		Hint:    fmt.Sprintf("Available sidecars: %s", strings.Join(known, ", ")),
		Code:    ExitConfig,
	}
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
