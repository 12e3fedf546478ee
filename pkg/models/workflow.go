// Package models defines the core domain models for trigger-action workflow automation.
package models

import "time"

// Workflow is a stored automation definition: one trigger and an ordered chain of actions.
type Workflow struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"        validate:"required"`
	Name           string     `json:"name"            validate:"required"`
	Trigger        Trigger    `json:"trigger"         validate:"required"`
	Actions        []Action   `json:"actions"         validate:"required,min=1,dive"`
	Enabled        bool       `json:"enabled"`
	ExecutionCount int64      `json:"execution_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Trigger is the (app, event, config) tuple that causes a workflow to be considered for execution.
type Trigger struct {
	App    string         `json:"app"    validate:"required"`
	Event  string         `json:"event"  validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// Action is one step of the ordered action chain, targeting a provider app.
type Action struct {
	App    string         `json:"app"    validate:"required"`
	Task   string         `json:"task"   validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// IsDeleted reports whether the workflow reached its terminal deleted state.
func (w *Workflow) IsDeleted() bool {
	return w.DeletedAt != nil
}

// SnapshotActions returns a deep enough copy of the action chain so that
// concurrent edits of the workflow cannot alter an in-flight execution.
func (w *Workflow) SnapshotActions() []Action {
	snapshot := make([]Action, len(w.Actions))

	for i, action := range w.Actions {
		config := make(map[string]any, len(action.Config))
		for k, v := range action.Config {
			config[k] = v
		}

		snapshot[i] = Action{
			App:    action.App,
			Task:   action.Task,
			Config: config,
		}
	}

	return snapshot
}

// Status is the user-facing label of the workflow list.
func (w *Workflow) Status() string {
	if w.Enabled {
		return "active"
	}

	return "paused"
}
