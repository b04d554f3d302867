// Package pipeline contains pure functions for parsing and planning deploy
// pipelines. This is part of the Functional Core - all functions are pure
// with no I/O.
package pipeline

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("pipeline spec is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrMissingProject = errors.New("pipeline must name a project")
	ErrInvalidProject = errors.New("project name must be a valid slug")
	ErrNoWork         = errors.New("pipeline must pull images or run a compose file")

	// Stage configuration errors
	ErrInvalidSource  = errors.New("invalid source configuration")
	ErrInvalidEnvFile = errors.New("invalid env file configuration")
	ErrInvalidImage   = errors.New("invalid image reference")
	ErrInvalidProbe   = errors.New("invalid probe configuration")
	ErrInvalidRecipe  = errors.New("invalid build recipe")
)

// SpecError wraps errors with context about where validation failed.
type SpecError struct {
	Field   string // e.g., "probes.http.attempts"
	Message string
	Err     error
}

func (e *SpecError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *SpecError) Unwrap() error {
	return e.Err
}

// NewSpecError creates a new SpecError.
func NewSpecError(field, message string, err error) *SpecError {
	return &SpecError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
