package service

import (
	"errors"
	"fmt"

	"github.com/lexflow/backend/internal/model"
)

// ValidationError reports malformed input. Field names the offending key,
// variable or item.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PermissionError reports that the caller may not perform Action.
type PermissionError struct {
	Action string
}

func (e *PermissionError) Error() string {
	return "permission denied: " + e.Action
}

type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// StateConflictError reports an illegal transition. State is the document's
// state at the time of the attempt.
type StateConflictError struct {
	State   model.DocumentState
	Message string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s (state %s)", e.Message, e.State)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func denied(action string) error {
	return &PermissionError{Action: action}
}

func notFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

func conflict(state model.DocumentState, format string, args ...interface{}) error {
	return &StateConflictError{State: state, Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsPermission(err error) bool {
	var e *PermissionError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsStateConflict(err error) bool {
	var e *StateConflictError
	return errors.As(err, &e)
}
