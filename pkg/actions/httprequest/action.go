// Package httprequest provides the generic HTTP request executor.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/unifyos/unify/pkg/protocol"
	"github.com/unifyos/unify/pkg/template"
)

const TaskRequest = "request"

var (
	// ErrHTTPRequestURLInvalid is returned when the rendered URL is empty.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned when the server keeps answering with 5xx.
	ErrHTTPServerError = errors.New("server error during HTTP request")
)

// RetryConfig defines retry behavior for 5xx answers.
type RetryConfig struct {
	Attempts int `json:"attempts"`
	Delay    int `json:"delay"` // milliseconds
}

// Action is the decoded config of one http/request action.
type Action struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Retry   RetryConfig       `json:"retry"`
}

// NewAction decodes and normalizes an action config.
func NewAction(config map[string]any) (*Action, error) {
	var action Action

	err := protocol.DecodeConfig(config, &action)
	if err != nil {
		return nil, err
	}

	if action.URL == "" {
		return nil, ErrHTTPRequestURLInvalid
	}

	action.Method = strings.ToUpper(action.Method)
	if action.Method == "" {
		action.Method = http.MethodGet
	}

	if action.Headers == nil {
		action.Headers = map[string]string{}
	}

	if action.Retry.Attempts < 1 {
		action.Retry.Attempts = 1
	}

	return &action, nil
}

// Executor implements protocol.ActionExecutor for the http app.
type Executor struct {
	client *http.Client
	logger *slog.Logger
}

func NewExecutor(client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = http.DefaultClient
	}

	return &Executor{client: client, logger: logger.With("module", "http_request_executor")}
}

func (e *Executor) App() string { return "http" }

func (e *Executor) Name() string { return "HTTP Request" }

func (e *Executor) RequiresToken() bool { return false }

func (e *Executor) Tasks() []protocol.Task {
	return []protocol.Task{
		{
			Name:        TaskRequest,
			Description: "Performs an HTTP request to a specified URL with optional headers and body.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"minLength":   1,
						"description": "The URL to send the request to. Supports templating.",
						"examples":    []string{"https://api.example.com/users/{{.trigger.user_id}}"},
					},
					"method": map[string]any{
						"type": "string",
						"enum": []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
					},
					"headers": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "string"},
					},
					"body": map[string]any{
						"type":     "string",
						"examples": []string{`{"subject": "{{.trigger.subject}}", "at": "{{now}}"}`},
					},
					"retry": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
							"delay":    map[string]any{"type": "integer", "minimum": 0, "maximum": 30000},
						},
					},
				},
				"required":             []string{"url"},
				"additionalProperties": false,
			},
		},
	}
}

func (e *Executor) Execute(ctx context.Context, req protocol.Request) (map[string]any, error) {
	action, err := NewAction(req.Action.Config)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), TaskRequest, "%s", err.Error())
	}

	data := template.Data(req.ExecutionID, req.WorkflowID, req.Payload)

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= action.Retry.Attempts; attempt++ {
		if attempt > 1 {
			e.logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "max_attempts", action.Retry.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(action.Retry.Delay) * time.Millisecond):
			}
		}

		request, err := action.buildRequest(ctx, data)
		if err != nil {
			return nil, protocol.NewActionError(e.App(), TaskRequest, "%s", err.Error())
		}

		resp, err = e.client.Do(request)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = fmt.Errorf("http request failed: %w", err)
			resp = nil

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < action.Retry.Attempts {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %w", resp.StatusCode, ErrHTTPServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, protocol.NewActionError(e.App(), TaskRequest, "all attempts failed, last error: %v", lastErr)
	}

	return e.processResponse(ctx, resp)
}

func (a *Action) buildRequest(ctx context.Context, data map[string]any) (*http.Request, error) {
	url, err := template.RenderString(a.URL, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	if strings.TrimSpace(url) == "" {
		return nil, ErrHTTPRequestURLInvalid
	}

	body, err := template.RenderString(a.Body, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render body template: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		headerValue, err := template.RenderString(value, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, headerValue)
	}

	return req, nil
}

func (e *Executor) processResponse(ctx context.Context, resp *http.Response) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), TaskRequest, "failed to read response body: %s", err.Error())
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, protocol.NewActionError(e.App(), TaskRequest, "status %d", resp.StatusCode)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	e.logger.DebugContext(ctx, "HTTP request completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
