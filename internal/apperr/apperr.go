// Package apperr defines the closed error taxonomy shared by the repository,
// engine, server, and SDK. Expected failures travel as *Error values; nothing
// in the core panics for an outcome a caller can act on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates every expected failure class.
type Kind string

const (
	NotFound           Kind = "not_found"
	Validation         Kind = "validation_error"
	VersionConflict    Kind = "version_conflict"
	OrphanRejected     Kind = "orphan_rejected"
	CrossProjectSprint Kind = "cross_project_sprint"
	InvalidTransition  Kind = "invalid_transition"
	Timeout            Kind = "timeout"
	Unavailable        Kind = "unavailable"
)

// ProblemTypeBase prefixes the stable problem `type` URI for each kind.
const ProblemTypeBase = "https://taskline.dev/problems/"

// Error is a taxonomy value. Entity and ID are optional context for the
// problem payload's instance URI.
type Error struct {
	Kind    Kind
	Message string
	Entity  string
	ID      string
}

func (e *Error) Error() string {
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Entity, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches errors carrying the same kind, so callers can branch with
// errors.Is(err, apperr.KindError(apperr.NotFound)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindError returns a bare sentinel for errors.Is comparisons.
func KindError(k Kind) error { return &Error{Kind: k} }

// KindOf extracts the taxonomy kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(entity, id string) *Error {
	return &Error{Kind: NotFound, Entity: entity, ID: id, Message: "does not exist"}
}

func Validationf(format string, args ...any) *Error {
	return New(Validation, format, args...)
}

func VersionConflictf(entity, id string, expected int64) *Error {
	return &Error{
		Kind:    VersionConflict,
		Entity:  entity,
		ID:      id,
		Message: fmt.Sprintf("version %d is stale; re-read before retrying", expected),
	}
}

func OrphanRejectedf(entity string) *Error {
	return &Error{Kind: OrphanRejected, Entity: entity, Message: "project_id is required; orphans are not allowed"}
}

func CrossProjectSprintf(sprintID, sprintProject, taskProject string) *Error {
	return &Error{
		Kind:    CrossProjectSprint,
		Entity:  "sprint",
		ID:      sprintID,
		Message: fmt.Sprintf("sprint belongs to project %s, not %s", sprintProject, taskProject),
	}
}

func InvalidTransitionf(from, to string) *Error {
	return New(InvalidTransition, "cannot transition %s -> %s", from, to)
}

// HTTPStatus maps a kind to its wire status code.
func HTTPStatus(k Kind) int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case Validation, OrphanRejected, CrossProjectSprint, InvalidTransition:
		return http.StatusBadRequest
	case VersionConflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusGatewayTimeout
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Title is the human heading used in problem payloads.
func Title(k Kind) string {
	switch k {
	case NotFound:
		return "Not Found"
	case Validation:
		return "Validation Error"
	case VersionConflict:
		return "Version Conflict"
	case OrphanRejected:
		return "Orphan Rejected"
	case CrossProjectSprint:
		return "Cross-Project Sprint"
	case InvalidTransition:
		return "Invalid Transition"
	case Timeout:
		return "Timeout"
	case Unavailable:
		return "Unavailable"
	default:
		return "Internal Error"
	}
}

// ProblemType is the stable type URI for a kind.
func ProblemType(k Kind) string { return ProblemTypeBase + string(k) }

// Retryable reports whether a client may replay the same request without
// re-reading. Conflicts and validation failures are deliberately excluded.
func Retryable(k Kind) bool { return k == Timeout || k == Unavailable }
