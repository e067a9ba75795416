package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arthur-debert/nanosync/internal/validation"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/nanosync/store"
)

// CLIError represents a user-friendly CLI error with context and suggestions
type CLIError struct {
	Operation   string   // The operation that failed (e.g., "get", "list", "watch")
	Cause       string   // The underlying cause (e.g., "document not found")
	Details     string   // Additional technical details
	Suggestions []string // Helpful suggestions for the user
	Underlying  error    // Original error for debugging
}

// Error implements the error interface
func (e *CLIError) Error() string {
	var msg strings.Builder

	if e.Operation != "" {
		msg.WriteString(fmt.Sprintf("Failed to %s", e.Operation))
	} else {
		msg.WriteString("Operation failed")
	}
	if e.Cause != "" {
		msg.WriteString(fmt.Sprintf(": %s", e.Cause))
	}
	if e.Details != "" {
		msg.WriteString(fmt.Sprintf(" (%s)", e.Details))
	}

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			msg.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return msg.String()
}

// Unwrap returns the underlying error for error chain compatibility
func (e *CLIError) Unwrap() error {
	return e.Underlying
}

// NewValidationError creates an error for bad arguments or flags
func NewValidationError(operation, field, value string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("invalid %s: %q", field, value),
		Suggestions: suggestions,
	}
}

// NewNotFoundError creates an error for missing documents
func NewNotFoundError(operation, path string, underlying error) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("document %q not found", path),
		Suggestions: []string{"Run 'nanosync list <collection>' to see existing documents"},
		Underlying:  underlying,
	}
}

// NewConfigError creates an error for configuration issues
func NewConfigError(operation, issue string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("configuration error: %s", issue),
		Suggestions: suggestions,
	}
}

// NewStoreError creates an error for store failures
func NewStoreError(operation string, underlying error, suggestions ...string) *CLIError {
	cause := "store operation failed"
	details := ""

	if underlying != nil {
		details = underlying.Error()

		errStr := strings.ToLower(underlying.Error())
		switch {
		case strings.Contains(errStr, "permission denied"):
			cause = "insufficient permissions to access database"
		case strings.Contains(errStr, "acquire lock"):
			cause = "database is currently locked by another process"
		case strings.Contains(errStr, "parse json"):
			cause = "database file is not valid JSON"
		}
	}

	return &CLIError{
		Operation:   operation,
		Cause:       cause,
		Details:     details,
		Suggestions: suggestions,
		Underlying:  underlying,
	}
}

// wrapError turns a library error into a CLIError
func wrapError(operation, path string, err error) error {
	var cliErr *CLIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cliErr):
		return err
	case errors.Is(err, remote.ErrNotFound):
		return NewNotFoundError(operation, path, err)
	case errors.Is(err, validation.ErrInvalidPath):
		return &CLIError{
			Operation: operation,
			Cause:     fmt.Sprintf("invalid path %q", path),
			Details:   err.Error(),
			Suggestions: []string{
				"Document paths have an even number of segments, e.g. users/alice",
				"Collection paths have an odd number of segments, e.g. users or users/alice/posts",
			},
			Underlying: err,
		}
	case errors.Is(err, store.ErrAlreadyExists):
		return &CLIError{Operation: operation, Cause: "document already exists", Details: err.Error(), Underlying: err}
	default:
		return NewStoreError(operation, err)
	}
}
