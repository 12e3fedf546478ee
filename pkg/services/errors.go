// Package services provides the workflow operations behind the HTTP API.
package services

import (
	"errors"
	"fmt"

	"github.com/unifyos/unify/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrEmptyOwnerID         = errors.New("owner ID cannot be empty")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowHasNoActions = errors.New("workflow has no actions")
	ErrInvalidTrigger       = errors.New("invalid trigger")
	ErrInvalidAction        = errors.New("invalid action")

	// Precondition Errors (412 Precondition Failed).
	ErrTriggerAppNotConnected = errors.New("trigger app not connected")

	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	// ErrExecutionNotFound is returned when an execution is not found.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowHasNoActions) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidAction)
}

// IsPreconditionError checks if an error is an unmet precondition that should return HTTP 412.
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrTriggerAppNotConnected)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the API error code carried by err, if any.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}

	return ""
}
