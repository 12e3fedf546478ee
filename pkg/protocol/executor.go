// Package protocol defines the contract between the engine and provider app executors.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unifyos/unify/pkg/models"
)

// Task describes one operation an executor can perform.
type Task struct {
	Name        string
	Description string
	// Schema is the JSON schema that action configs for this task must satisfy.
	Schema map[string]any
}

// Request carries everything an executor needs to run one action.
type Request struct {
	ExecutionID string
	WorkflowID  string
	Action      models.Action
	// Token is nil for executors that do not require credentials.
	Token   *models.Token
	Payload map[string]any
}

// ActionExecutor performs actions against one provider app.
type ActionExecutor interface {
	// App is the provider app id actions are routed by.
	App() string
	Name() string
	Tasks() []Task

	// RequiresToken reports whether the user's token for App must be resolved
	// before Execute is called.
	RequiresToken() bool

	// Execute runs the action. Provider failures are reported as
	// *ActionExecutionError; the context carries the per-action deadline.
	Execute(ctx context.Context, req Request) (map[string]any, error)
}

// DecodeConfig decodes an action config map into a typed task config.
func DecodeConfig(config map[string]any, target any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode action config: %w", err)
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("decode action config: %w", err)
	}

	return nil
}
