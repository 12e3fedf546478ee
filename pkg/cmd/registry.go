package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/unifyos/unify/pkg/actions/httprequest"
	logaction "github.com/unifyos/unify/pkg/actions/log"
	"github.com/unifyos/unify/pkg/actions/slack"
	"github.com/unifyos/unify/pkg/protocol"
	"github.com/unifyos/unify/pkg/registry"
)

// NewRegistry registers the native executors. The HTTP client timeout is a
// ceiling above the per-action context deadline.
func NewRegistry(log *slog.Logger, slackBaseURL string, actionTimeout time.Duration) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)
	client := &http.Client{Timeout: actionTimeout + 5*time.Second}

	for _, executor := range []protocol.ActionExecutor{
		slack.NewExecutor(slackBaseURL, client, log),
		httprequest.NewExecutor(client, log),
		logaction.NewExecutor(log),
	} {
		err := reg.Register(executor)
		if err != nil {
			return nil, err
		}
	}

	return reg, nil
}
