// Package scheduler runs workflows triggered by cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence"
)

const (
	// App is the trigger app of scheduled workflows.
	App = "schedule"
	// EventCron is the only trigger event of App; config.cron holds the expression.
	EventCron = "cron"

	DefaultRefreshInterval = 30 * time.Second
)

var ErrMissingExpression = errors.New("schedule trigger requires a cron expression")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runner runs one workflow for a synthesized trigger event.
type Runner interface {
	RunWorkflow(ctx context.Context, workflow *models.Workflow, event *models.TriggerEvent) (*models.WorkflowExecution, error)
}

type entry struct {
	id         cron.EntryID
	expression string
}

// Scheduler keeps one cron entry per enabled scheduled workflow and
// refreshes the set from the execution store periodically.
type Scheduler struct {
	workflows persistence.WorkflowRepository
	runner    Runner
	logger    *slog.Logger
	cron      *cron.Cron
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(workflows persistence.WorkflowRepository, runner Runner, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	logger = logger.With("module", "scheduler")
	cronLog := cronLogger{logger: logger}

	return &Scheduler{
		workflows: workflows,
		runner:    runner,
		logger:    logger,
		interval:  interval,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
		),
		now: func() time.Time {
			return time.Now().UTC()
		},
		entries: make(map[string]entry),
	}
}

// ValidateTrigger checks the cron expression of a schedule trigger.
func ValidateTrigger(trigger models.Trigger) error {
	if trigger.Event != EventCron {
		return fmt.Errorf("unknown schedule event %q", trigger.Event)
	}

	expression, _ := trigger.Config["cron"].(string)
	if expression == "" {
		return ErrMissingExpression
	}

	_, err := parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()

		return errors.New("scheduler already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	err := s.Refresh(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Initial schedule refresh failed", "error", err)
	}

	s.cron.Start()

	go s.loop(ctx)

	s.logger.InfoContext(ctx, "Scheduler started", "refresh_interval", s.interval)

	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.Refresh(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Schedule refresh failed", "error", err)
			}
		}
	}
}

// Stop stops the refresh loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	<-s.cron.Stop().Done()
}

// Refresh reconciles cron entries with the enabled scheduled workflows.
func (s *Scheduler) Refresh(ctx context.Context) error {
	workflows, err := s.workflows.ListByTriggerApp(ctx, App)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]struct{}, len(workflows))

	for _, workflow := range workflows {
		err := ValidateTrigger(workflow.Trigger)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping scheduled workflow", "workflow_id", workflow.ID, "error", err)

			continue
		}

		expression := workflow.Trigger.Config["cron"].(string)
		active[workflow.ID] = struct{}{}

		if existing, ok := s.entries[workflow.ID]; ok {
			if existing.expression == expression {
				continue
			}

			s.cron.Remove(existing.id)
		}

		workflowID := workflow.ID

		id, err := s.cron.AddFunc(expression, func() {
			s.Fire(ctx, workflowID, s.now())
		})
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to schedule workflow", "workflow_id", workflow.ID, "error", err)
			delete(s.entries, workflow.ID)

			continue
		}

		s.entries[workflow.ID] = entry{id: id, expression: expression}
		s.logger.DebugContext(ctx, "Scheduled workflow", "workflow_id", workflow.ID, "cron", expression)
	}

	for workflowID, existing := range s.entries {
		if _, ok := active[workflowID]; !ok {
			s.cron.Remove(existing.id)
			delete(s.entries, workflowID)
			s.logger.DebugContext(ctx, "Unscheduled workflow", "workflow_id", workflowID)
		}
	}

	return nil
}

// Scheduled returns how many workflows currently have a cron entry.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Fire runs the current version of the workflow for the tick at. The event
// id is derived from the tick minute so the same tick never runs twice.
func (s *Scheduler) Fire(ctx context.Context, workflowID string, at time.Time) {
	logger := s.logger.With("workflow_id", workflowID)

	workflow, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		logger.WarnContext(ctx, "Scheduled workflow unavailable", "error", err)

		return
	}

	if !workflow.Enabled || workflow.Trigger.App != App {
		logger.DebugContext(ctx, "Scheduled workflow no longer active")

		return
	}

	tick := at.UTC().Truncate(time.Minute)

	event := &models.TriggerEvent{
		App:       App,
		EventType: EventCron,
		UserID:    workflow.OwnerID,
		EventID:   fmt.Sprintf("%s@%d", workflow.ID, tick.Unix()),
		Payload: map[string]any{
			"scheduled_at": tick.Format(time.RFC3339),
			"cron":         workflow.Trigger.Config["cron"],
		},
		ReceivedAt: s.now(),
	}

	execution, err := s.runner.RunWorkflow(ctx, workflow, event)
	if err != nil {
		logger.WarnContext(ctx, "Scheduled run not recorded", "event_id", event.EventID, "error", err)

		return
	}

	logger.InfoContext(ctx, "Scheduled run finished", "execution_id", execution.ID, "status", execution.Status)
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
