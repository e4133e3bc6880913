// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for all speechrig commands.
//
// STANDARDIZED PATTERN:
//   - ALWAYS return errors (never just print and return nil)
//   - Let Run decide how to display errors and which exit code to use
//   - Use structured error types so GetExitCode can classify with errors.As

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/unicorn-commander/speechrig/internal/config"
	"github.com/unicorn-commander/speechrig/internal/install"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitEnvironmentError indicates a missing container toolchain
	ExitEnvironmentError = 4
	// ExitExhaustedError indicates no backend came up healthy
	ExitExhaustedError = 5
	// ExitAbortedError indicates the operator interrupted the run
	ExitAbortedError = 6
)

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "install", "status")
	Action  string // Action being performed (e.g., "load config")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// ConfigError represents an unreadable or invalid configuration.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{
		Command: command,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Example: example,
	}
}

// =============================================================================
// ERROR DISPLAY HELPERS
// =============================================================================

// DisplayError writes an error in a consistent format.
//
// In JSON mode, outputs the JSONResponse envelope on w.
// In normal mode, displays a formatted error message.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		resp := NewJSONErrorResponse(command, err)
		resp.Data = errorDetails(err)
		_ = resp.Print(w)
		return
	}

	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(w, "%s %s\n", DimStyle.Render("hint:"), hint)
	}
}

// errorDetails returns structured fields for JSON error output.
func errorDetails(err error) map[string]interface{} {
	output := map[string]interface{}{
		"exit_code": GetExitCode(err),
	}

	var validationErr *ValidationError
	var configErr *ConfigError
	var envErr *install.EnvironmentError
	var exhaustedErr *install.ExhaustedError
	var abortedErr *install.AbortedError
	switch {
	case errors.As(err, &validationErr):
		output["error_type"] = "validation_error"
		output["field"] = validationErr.Field
		output["value"] = validationErr.Value
	case errors.As(err, &configErr):
		output["error_type"] = "config_error"
		output["path"] = configErr.Path
	case errors.As(err, &envErr):
		output["error_type"] = "environment_error"
	case errors.As(err, &exhaustedErr):
		output["error_type"] = "exhausted_error"
		output["service"] = exhaustedErr.Service
		output["attempts"] = exhaustedErr.Attempts
	case errors.As(err, &abortedErr):
		output["error_type"] = "aborted_error"
		output["phase"] = abortedErr.Phase
	default:
		output["error_type"] = "generic_error"
	}
	return output
}

func errorHint(err error) string {
	switch GetExitCode(err) {
	case ExitUsageError:
		return "run 'speechrig help' for usage"
	case ExitEnvironmentError:
		return "install Docker with the compose plugin and make sure the daemon is running"
	case ExitExhaustedError:
		return "check the service logs with 'docker compose logs', or pin a backend with --stt-backend/--tts-backend"
	}
	return ""
}

// =============================================================================
// EXIT CODE CLASSIFICATION
// =============================================================================

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}

	var abortedErr *install.AbortedError
	if errors.As(err, &abortedErr) || errors.Is(err, context.Canceled) {
		return ExitAbortedError
	}

	var envErr *install.EnvironmentError
	if errors.As(err, &envErr) {
		return ExitEnvironmentError
	}

	var exhaustedErr *install.ExhaustedError
	if errors.As(err, &exhaustedErr) {
		return ExitExhaustedError
	}

	var configErr *ConfigError
	var validateErrs config.ValidateErrors
	if errors.As(err, &configErr) || errors.As(err, &validateErrs) {
		return ExitConfigError
	}

	return ExitGeneralError
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// =============================================================================
// COMMON ERROR CONSTRUCTORS
// =============================================================================

// ErrInvalidFormat creates an error for invalid format.
func ErrInvalidFormat(field, value, expected string) error {
	return NewValidationErrorWithExample(field, value, "invalid format", expected)
}
