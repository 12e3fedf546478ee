// Package registry routes actions to the executor of their provider app.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownApp    = errors.New("no executor registered for app")
	ErrUnknownTask   = errors.New("task not supported by app")
	ErrInvalidConfig = errors.New("invalid action config")
	ErrDuplicateApp  = errors.New("executor already registered for app")
)

type entry struct {
	executor protocol.ActionExecutor
	schemas  map[string]*gojsonschema.Schema
}

// Registry holds executors keyed by app id.
type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log,
		entries: make(map[string]*entry),
	}
}

// Register adds an executor and compiles the config schema of each task.
func (r *Registry) Register(executor protocol.ActionExecutor) error {
	schemas := make(map[string]*gojsonschema.Schema)

	for _, task := range executor.Tasks() {
		if task.Schema == nil {
			continue
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(task.Schema))
		if err != nil {
			return fmt.Errorf("schema of %s/%s: %w", executor.App(), task.Name, err)
		}

		schemas[task.Name] = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[executor.App()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateApp, executor.App())
	}

	r.entries[executor.App()] = &entry{executor: executor, schemas: schemas}

	r.logger.Debug("Registered executor", "app", executor.App(), "tasks", len(executor.Tasks()))

	return nil
}

// Executor returns the executor for app.
func (r *Registry) Executor(app string) (protocol.ActionExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[app]
	if !ok {
		return nil, false
	}

	return e.executor, true
}

// Apps lists registered app ids in lexical order.
func (r *Registry) Apps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apps := make([]string, 0, len(r.entries))
	for app := range r.entries {
		apps = append(apps, app)
	}

	slices.Sort(apps)

	return apps
}

// ValidateAction checks that the action targets a known app and task and
// that its config satisfies the task schema.
func (r *Registry) ValidateAction(action models.Action) error {
	r.mu.RLock()
	e, ok := r.entries[action.App]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, action.App)
	}

	if !hasTask(e.executor, action.Task) {
		return fmt.Errorf("%w: %s/%s", ErrUnknownTask, action.App, action.Task)
	}

	schema, ok := e.schemas[action.Task]
	if !ok {
		return nil
	}

	config := action.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %w", ErrInvalidConfig, action.App, action.Task, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("%w: %s/%s: %s", ErrInvalidConfig, action.App, action.Task, strings.Join(messages, "; "))
	}

	return nil
}

func hasTask(executor protocol.ActionExecutor, name string) bool {
	return slices.ContainsFunc(executor.Tasks(), func(task protocol.Task) bool {
		return task.Name == name
	})
}
