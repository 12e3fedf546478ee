// Package log provides an executor that writes rendered messages to the service log.
package log

import (
	"context"
	"log/slog"
	"strings"

	"github.com/unifyos/unify/pkg/protocol"
	"github.com/unifyos/unify/pkg/template"
)

const TaskWrite = "write"

type writeConfig struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

// Executor implements protocol.ActionExecutor for the log app.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("module", "log_executor")}
}

func (*Executor) App() string { return "log" }

func (*Executor) Name() string { return "Log" }

func (*Executor) RequiresToken() bool { return false }

func (*Executor) Tasks() []protocol.Task {
	return []protocol.Task{
		{
			Name:        TaskWrite,
			Description: "Logs a message at a specified level. Supports templating for dynamic content.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":     "string",
						"examples": []string{"Received {{.trigger.subject}} at {{now}}"},
					},
					"level": map[string]any{
						"type":    "string",
						"default": "info",
						"enum":    []string{"debug", "info", "warn", "warning", "error"},
					},
				},
				"required": []string{"message"},
			},
		},
	}
}

func (e *Executor) Execute(ctx context.Context, req protocol.Request) (map[string]any, error) {
	var config writeConfig

	err := protocol.DecodeConfig(req.Action.Config, &config)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), TaskWrite, "%s", err.Error())
	}

	message, err := template.RenderString(config.Message, template.Data(req.ExecutionID, req.WorkflowID, req.Payload))
	if err != nil {
		return nil, protocol.NewActionError(e.App(), TaskWrite, "%s", err.Error())
	}

	level := parseLevel(config.Level)

	e.logger.Log(ctx, level, message,
		"workflow_id", req.WorkflowID,
		"execution_id", req.ExecutionID,
	)

	return map[string]any{
		"message": message,
		"level":   level.String(),
	}, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
