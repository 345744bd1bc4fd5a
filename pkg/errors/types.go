// Package errors defines the typed errors shared across the service.
package errors

import (
	"fmt"
	"strings"
)

// PlatformUnreachableError reports that the automation platform could not
// be reached or answered with a server-side failure. It is retryable.
type PlatformUnreachableError struct {
	// Op names the client operation, e.g. "getVersion".
	Op string

	// StatusCode is the HTTP status when the platform answered at all.
	StatusCode int

	Cause error
}

func (e *PlatformUnreachableError) Error() string {
	msg := fmt.Sprintf("platform unreachable during %s", e.Op)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *PlatformUnreachableError) Unwrap() error {
	return e.Cause
}

// PlatformError is a non-retryable rejection by the platform, such as an
// authentication failure or a refused payload.
type PlatformError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform rejected %s (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("platform rejected %s (status %d): %s", e.Op, e.StatusCode, e.Message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g. "workflow", "pattern", "node type").
	Resource string

	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Is lets errors.Is match any NotFoundError regardless of its fields.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ConflictError describes contradictory relationship proposals between
// patterns. Conflicts are surfaced for an operator and never resolved
// automatically.
type ConflictError struct {
	PatternID     string
	ConflictsWith []string
	// Relationships lists the contested relationships as "from -kind-> to".
	Relationships []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pattern %s conflicts with %s over %s",
		e.PatternID, strings.Join(e.ConflictsWith, ", "), strings.Join(e.Relationships, "; "))
}
