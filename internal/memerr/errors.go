// Package memerr defines the error taxonomy shared across the memory engine.
package memerr

import (
	"errors"
	"fmt"
)

// ErrEmbeddingUnavailable signals that the embedding provider is down or too
// slow. Recall absorbs it by disabling the semantic strategy for that call.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// NotFoundError reports an unknown entity or group.
type NotFoundError struct {
	Kind  string // "concept", "memory", "connection", "group"
	ID    string
	Group string
}

func (e NotFoundError) Error() string {
	if e.Group != "" {
		return fmt.Sprintf("%s %q not found in group %q", e.Kind, e.ID, e.Group)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// NewNotFound creates a NotFoundError scoped to a group.
func NewNotFound(kind, id, group string) NotFoundError {
	return NotFoundError{Kind: kind, ID: id, Group: group}
}

// ValidationError reports malformed formation or query input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// NewValidation creates a ValidationError for a field.
func NewValidation(field, reason string) ValidationError {
	return ValidationError{Field: field, Reason: reason}
}

// CrossGroupError reports an attempted link between entities of different
// groups. Group partitions never share edges.
type CrossGroupError struct {
	ID        string
	WantGroup string
	GotGroup  string
}

func (e CrossGroupError) Error() string {
	return fmt.Sprintf("entity %q belongs to group %q, not %q", e.ID, e.GotGroup, e.WantGroup)
}

// IsCrossGroup reports whether err is a CrossGroupError.
func IsCrossGroup(err error) bool {
	var cg CrossGroupError
	return errors.As(err, &cg)
}

// ConflictError reports a racing mutation. In-process writers serialize on
// the group lock and cannot conflict; this arises only when another process
// holds the shared database file past the busy timeout. Callers retry once
// before surfacing it.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q: %s", e.Kind, e.ID, e.Reason)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}
