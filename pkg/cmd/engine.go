package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unifyos/unify/pkg/config"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/otelhelper"
	"github.com/unifyos/unify/pkg/registry"
	"github.com/unifyos/unify/pkg/workflow"
)

// Runtime is everything a process needs to turn events into executions.
type Runtime struct {
	Config   *config.Config
	Stores   *Stores
	Registry *registry.Registry
	Ingestor *ingest.Ingestor
	Engine   *workflow.Engine

	closers []func() error
}

type RuntimeOptions struct {
	ServiceName    string
	ConfigFile     string
	DatabaseURL    string
	CredentialsKey string
	RedisURL       string
	Tracing        bool
	// Overrides win over the config file when positive.
	ActionTimeout time.Duration
	DedupWindow   time.Duration
	Publisher     eventbus.EventPublisher
}

// NewRuntime loads the config file and wires stores, executors, dedup and
// the engine.
func NewRuntime(ctx context.Context, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, opts)

	rt := &Runtime{Config: cfg}

	tracer := otelhelper.NoopTracer()
	if opts.Tracing {
		var shutdown otelhelper.ShutdownFunc

		tracer, shutdown, err = otelhelper.NewTracer(ctx, opts.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		rt.closers = append(rt.closers, func() error { return shutdown(context.Background()) })
	}

	stores, memoryTokens, err := NewStores(ctx, logger, opts.DatabaseURL, opts.CredentialsKey)
	if err != nil {
		return nil, rt.fail(err)
	}

	rt.Stores = stores
	rt.closers = append(rt.closers, func() error { return stores.Persistence.Close(context.Background()) })

	if memoryTokens != nil {
		cfg.Seed(memoryTokens)
	}

	rt.Registry, err = NewRegistry(logger, cfg.Slack.BaseURL, cfg.Engine.ActionTimeout)
	if err != nil {
		return nil, rt.fail(err)
	}

	dedup, closeDedup, err := NewDeduplicator(ctx, opts.RedisURL, cfg.Engine.DedupWindow, cfg.Engine.DedupCapacity)
	if err != nil {
		return nil, rt.fail(err)
	}

	rt.closers = append(rt.closers, closeDedup)

	rt.Ingestor = ingest.NewIngestor(logger, stores.Resolver, dedup)

	err = cfg.RegisterNormalizers(rt.Ingestor)
	if err != nil {
		return nil, rt.fail(err)
	}

	orchestratorOpts := []workflow.Option{
		workflow.WithActionTimeout(cfg.Engine.ActionTimeout),
		workflow.WithTracer(tracer),
	}

	if opts.Publisher != nil {
		orchestratorOpts = append(orchestratorOpts, workflow.WithPublisher(opts.Publisher))
	}

	orchestrator := workflow.NewOrchestrator(stores.Persistence, rt.Registry, stores.Credentials, logger, orchestratorOpts...)
	matcher := workflow.NewMatcher(stores.Persistence.WorkflowRepository(), tracer, logger)
	rt.Engine = workflow.NewEngine(rt.Ingestor, matcher, orchestrator, logger)

	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}

	rt.closers = nil

	return errors.Join(errs...)
}

func (rt *Runtime) fail(err error) error {
	_ = rt.Close()

	return err
}

func applyOverrides(cfg *config.Config, opts RuntimeOptions) {
	if opts.ActionTimeout > 0 {
		cfg.Engine.ActionTimeout = opts.ActionTimeout
	}

	if opts.DedupWindow > 0 {
		cfg.Engine.DedupWindow = opts.DedupWindow
	}
}
