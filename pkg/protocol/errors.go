package protocol

import (
	"errors"
	"fmt"
)

// ActionExecutionError is a provider-side failure of a single action.
type ActionExecutionError struct {
	App     string
	Task    string
	Message string
	Timeout bool
}

func (e *ActionExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s/%s: timeout", e.App, e.Task)
	}

	return fmt.Sprintf("%s/%s: %s", e.App, e.Task, e.Message)
}

// NewActionError builds an ActionExecutionError from a message.
func NewActionError(app, task, format string, args ...any) *ActionExecutionError {
	return &ActionExecutionError{
		App:     app,
		Task:    task,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsActionError extracts an ActionExecutionError from err.
func AsActionError(err error) (*ActionExecutionError, bool) {
	var actionErr *ActionExecutionError
	if errors.As(err, &actionErr) {
		return actionErr, true
	}

	return nil, false
}
