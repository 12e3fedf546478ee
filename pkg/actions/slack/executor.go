// Package slack sends messages through the Slack Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/unifyos/unify/pkg/protocol"
	"github.com/unifyos/unify/pkg/template"
)

const (
	// DefaultBaseURL is the Slack Web API root.
	DefaultBaseURL = "https://slack.com/api"

	TaskSendMessage = "send_message"
)

type sendMessageConfig struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type postMessageResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// Executor implements protocol.ActionExecutor for the slack app.
type Executor struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewExecutor creates a Slack executor. An empty baseURL selects DefaultBaseURL.
func NewExecutor(baseURL string, client *http.Client, logger *slog.Logger) *Executor {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Executor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With("module", "slack_executor"),
	}
}

func (e *Executor) App() string { return "slack" }

func (e *Executor) Name() string { return "Slack" }

func (e *Executor) RequiresToken() bool { return true }

func (e *Executor) Tasks() []protocol.Task {
	return []protocol.Task{
		{
			Name:        TaskSendMessage,
			Description: "Posts a message to a channel. Text supports templating against the trigger data.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel": map[string]any{
						"type":        "string",
						"minLength":   1,
						"description": "Channel id or name, e.g. #general",
					},
					"text": map[string]any{
						"type":      "string",
						"minLength": 1,
						"examples":  []string{"New email from {{.trigger.from}}: {{.trigger.subject}}"},
					},
				},
				"required": []string{"channel", "text"},
			},
		},
	}
}

func (e *Executor) Execute(ctx context.Context, req protocol.Request) (map[string]any, error) {
	if req.Action.Task != TaskSendMessage {
		return nil, protocol.NewActionError(e.App(), req.Action.Task, "unsupported task")
	}

	if req.Token == nil || req.Token.AccessToken == "" {
		return nil, protocol.NewActionError(e.App(), req.Action.Task, "missing access token")
	}

	var config sendMessageConfig

	err := protocol.DecodeConfig(req.Action.Config, &config)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), req.Action.Task, "%s", err.Error())
	}

	data := template.Data(req.ExecutionID, req.WorkflowID, req.Payload)

	channel, err := template.RenderString(config.Channel, data)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), req.Action.Task, "%s", err.Error())
	}

	text, err := template.RenderString(config.Text, data)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), req.Action.Task, "%s", err.Error())
	}

	response, err := e.postMessage(ctx, req.Token.AccessToken, postMessageRequest{Channel: channel, Text: text})
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "Slack message posted",
		"execution_id", req.ExecutionID,
		"channel", response.Channel,
		"ts", response.TS,
	)

	return map[string]any{
		"channel": response.Channel,
		"ts":      response.TS,
	}, nil
}

func (e *Executor) postMessage(ctx context.Context, accessToken string, message postMessageRequest) (*postMessageResponse, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode slack message: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create slack request: %w", err)
	}

	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := e.client.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, protocol.NewActionError(e.App(), TaskSendMessage, "request failed: %s", err.Error())
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), TaskSendMessage, "read response: %s", err.Error())
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, protocol.NewActionError(e.App(), TaskSendMessage, "slack returned status %d", resp.StatusCode)
	}

	var response postMessageResponse

	err = json.Unmarshal(raw, &response)
	if err != nil {
		return nil, protocol.NewActionError(e.App(), TaskSendMessage, "invalid slack response: %s", err.Error())
	}

	if !response.OK {
		return nil, protocol.NewActionError(e.App(), TaskSendMessage, "%s", response.Error)
	}

	return &response, nil
}
