package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unifyos/unify/pkg/cmd"
	"github.com/unifyos/unify/pkg/web"
)

const devConfig = `
connections:
  - user_id: user-1
    app: gmail
    access_token: dev
    account_id: acct-1
`

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "unify.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(devConfig), 0o600))

	logger := slog.New(slog.DiscardHandler)

	rt, err := cmd.NewRuntime(t.Context(), logger, cmd.RuntimeOptions{
		ServiceName: "unify-api",
		ConfigFile:  configFile,
		DatabaseURL: "memory://",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = rt.Close()
	})

	return NewAPI(logger, rt, dispatcher(nil, rt)).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Unify API", body)
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			status, _ := get(t, app, path)
			assert.Equal(t, http.StatusOK, status)
		})
	}

	status, body := get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "slack")
}

func TestAPI_WebhookRunsWorkflow(t *testing.T) {
	app := setupTestApp(t)

	create := map[string]any{
		"owner_id": "user-1",
		"name":     "Log new emails",
		"trigger":  map[string]any{"app": "gmail", "event": "new_email"},
		"actions": []any{
			map[string]any{"app": "log", "task": "write", "config": map[string]any{"message": "{{ .trigger.subject }}"}},
		},
	}

	payload, err := json.Marshal(create)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	var created web.WorkflowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	event := []byte(`{"event_type":"new_email","event_id":"m1","account_id":"acct-1","payload":{"subject":"hi"}}`)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/gmail", bytes.NewReader(event))
	req.Header.Set("Content-Type", "application/json")

	resp, err = app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	status, body := get(t, app, "/workflows/"+created.ID+"/executions")
	require.Equal(t, http.StatusOK, status)

	var listed struct {
		Executions []struct {
			Status string `json:"status"`
		} `json:"executions"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listed))
	require.Len(t, listed.Executions, 1)
	assert.Equal(t, "succeeded", listed.Executions[0].Status)
}
