// Package trigger provides recurring, cron-scheduled execution of
// workflows, additive to and independent of the core scheduler in
// internal/engine. A Trigger owns no persistence: each fire builds a
// fresh *engine.Workflow from a caller-supplied factory and runs it to
// completion.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alfredcs/AgentFlow/internal/engine"
	"github.com/alfredcs/AgentFlow/internal/logging"
	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// WorkflowFactory builds a fresh workflow to run on the next fire. A new
// *engine.Workflow must be returned on every call since a Workflow's
// Execute may only be called once.
type WorkflowFactory func() (*engine.Workflow, error)

// ResultHandler is notified after each fire, whether or not the run
// succeeded. err is set only for factory or Execute errors; a workflow
// that completes with schema.WorkflowFailed status is reported via
// bundle, not err.
type ResultHandler func(bundle *schema.ResultBundle, err error)

// Trigger fires a WorkflowFactory on a cron schedule, deduplicating
// overlapping fires of the same trigger (a slow run is never started
// twice concurrently), mirroring the teacher's inflight-tracking
// scheduler loop.
type Trigger struct {
	name     string
	expr     string
	factory  WorkflowFactory
	onResult ResultHandler

	schedule cron.Schedule

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflight sync.Mutex
	running  bool
}

// New parses cronExpr (standard 5-field: minute hour dom month dow) and
// builds a Trigger. name identifies the trigger in logs.
func New(name, cronExpr string, factory WorkflowFactory, onResult ResultHandler) (*Trigger, error) {
	if factory == nil {
		return nil, schema.NewError(schema.ErrValidation, "trigger factory must not be nil")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrValidation, "parse cron expression %q: %v", cronExpr, err).WithCause(err)
	}
	return &Trigger{
		name:     name,
		expr:     cronExpr,
		factory:  factory,
		onResult: onResult,
		schedule: schedule,
	}, nil
}

// Start launches the trigger's background loop. It returns an error if
// already started.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return fmt.Errorf("trigger %q already started", t.name)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.loop(loopCtx)
	logging.L().Info("trigger started", "trigger", t.name, "cron", t.expr)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
}

func (t *Trigger) loop(ctx context.Context) {
	defer close(t.done)

	now := time.Now()
	next := t.schedule.Next(now)

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fireAt := <-timer.C:
			t.fire(ctx, fireAt)
			next = t.schedule.Next(fireAt)
		}
	}
}

func (t *Trigger) fire(ctx context.Context, at time.Time) {
	t.inflight.Lock()
	if t.running {
		t.inflight.Unlock()
		logging.L().WarnContext(ctx, "trigger fire skipped, previous run still in flight", "trigger", t.name, "scheduled_at", at)
		return
	}
	t.running = true
	t.inflight.Unlock()

	defer func() {
		t.inflight.Lock()
		t.running = false
		t.inflight.Unlock()
	}()

	wf, err := t.factory()
	if err != nil {
		logging.L().ErrorContext(ctx, "trigger workflow factory failed", "trigger", t.name, "error", err)
		if t.onResult != nil {
			t.onResult(nil, err)
		}
		return
	}

	runCtx := logging.WithWorkflowID(ctx, wf.ID)
	logging.L().InfoContext(runCtx, "trigger firing workflow", "trigger", t.name, "workflow_id", wf.ID)

	bundle, err := wf.Execute(runCtx)
	if err != nil {
		logging.L().ErrorContext(runCtx, "trigger workflow execution errored", "trigger", t.name, "error", err)
	}
	if t.onResult != nil {
		t.onResult(bundle, err)
	}
}
