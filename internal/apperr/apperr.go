package apperr

import (
	"fmt"
)

// MissingArgumentError indicates a required input was not supplied.
type MissingArgumentError struct {
	Msg string
}

func (e MissingArgumentError) Error() string {
	return "missing argument: " + e.Msg
}

// ValidationError indicates malformed or policy-violating input.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string {
	return e.Msg
}

// ToolError indicates an external process (git, gh) failed or was not found.
type ToolError struct {
	Tool    string
	Command string
	Details string
}

func (e ToolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Tool, e.Details)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Tool, e.Command, e.Details)
}

// SessionAPIError is a failure reported by the session API. Status is zero
// when no HTTP response was received.
type SessionAPIError struct {
	Message string
	Status  int
}

func (e SessionAPIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("JulesApiError: %s", e.Message)
	}
	return fmt.Sprintf("JulesApiError(status=%d): %s", e.Status, e.Message)
}

// ParseError indicates malformed YAML or JSON.
type ParseError struct {
	What    string
	Details string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %s", e.What, e.Details)
}

func Validation(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func MissingArgument(format string, args ...any) error {
	return MissingArgumentError{Msg: fmt.Sprintf(format, args...)}
}
