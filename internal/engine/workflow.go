package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alfredcs/AgentFlow/internal/expressions"
	"github.com/alfredcs/AgentFlow/internal/logging"
	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// Workflow is the scheduler's public type (spec §3, §4.F). A caller
// constructs one, adds steps with AddStep, and calls Execute exactly
// once.
type Workflow struct {
	ID     string
	Name   string
	Policy schema.ExecutionPolicy

	mu        sync.Mutex
	steps     map[string]*Step
	stepOrder []string
	status    schema.WorkflowStatus
	results   map[string]any

	hist *history
	gate *expressions.GateEngine
	proj *expressions.ProjectionEngine
}

// New constructs an empty Workflow with the given policy. Zero or negative
// WorkflowTimeout, MaxStepRetries, MaxParallelSteps and DefaultStepTimeout,
// and an empty LogVerbosity, fall back to schema.DefaultExecutionPolicy's
// values. ParallelismEnabled and MaxWorkflowRetries are used as given.
func New(name string, policy schema.ExecutionPolicy) (*Workflow, error) {
	gate, err := expressions.NewGateEngine()
	if err != nil {
		return nil, err
	}

	def := schema.DefaultExecutionPolicy()
	if policy.WorkflowTimeout <= 0 {
		policy.WorkflowTimeout = def.WorkflowTimeout
	}
	if policy.MaxStepRetries <= 0 {
		policy.MaxStepRetries = def.MaxStepRetries
	}
	if policy.MaxParallelSteps <= 0 {
		policy.MaxParallelSteps = def.MaxParallelSteps
	}
	if policy.DefaultStepTimeout <= 0 {
		policy.DefaultStepTimeout = def.DefaultStepTimeout
	}
	if policy.LogVerbosity == "" {
		policy.LogVerbosity = def.LogVerbosity
	}

	return &Workflow{
		ID:      uuid.NewString(),
		Name:    name,
		Policy:  policy,
		steps:   make(map[string]*Step),
		results: make(map[string]any),
		status:  schema.WorkflowPending,
		hist:    &history{},
		gate:    gate,
		proj:    expressions.NewProjectionEngine(),
	}, nil
}

// AddStep records a step keyed by id, requiring id uniqueness. The graph
// is not validated until Execute runs (spec §4.F).
func (w *Workflow) AddStep(step *Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if step.ID == "" {
		return schema.NewError(schema.ErrValidation, "step id must not be empty")
	}
	if _, exists := w.steps[step.ID]; exists {
		return schema.NewErrorf(schema.ErrValidation, "step %q already added to workflow", step.ID)
	}
	step.status = schema.StepPending
	w.steps[step.ID] = step
	w.stepOrder = append(w.stepOrder, step.ID)
	return nil
}

// Status returns the workflow's current lifecycle state.
func (w *Workflow) Status() schema.WorkflowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Workflow) transition(to schema.WorkflowStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !schema.CanTransitionWorkflow(w.status, to) {
		return schema.NewErrorf(schema.ErrValidation, "invalid workflow transition %s -> %s", w.status, to)
	}
	w.status = to
	return nil
}

// Execute runs the workflow to completion (or terminal failure), per the
// six-step algorithm of spec §4.F. It must be called exactly once.
func (w *Workflow) Execute(ctx context.Context) (*schema.ResultBundle, error) {
	start := time.Now()

	dagView, err := buildDAG(w.steps, w.stepOrder)
	if err != nil {
		// A validation failure here happens before a single step has run,
		// but WorkflowPending has no direct edge to WorkflowFailed: the
		// workflow is considered to have started (and immediately failed),
		// not to have never started, so it passes through WorkflowRunning
		// first to keep Status() consistent with the returned bundle.
		if terr := w.transition(schema.WorkflowRunning); terr != nil {
			return nil, terr
		}
		_ = w.transition(schema.WorkflowFailed)
		return w.bundle(schema.WorkflowFailed, start, err.(*schema.FlowError)), nil
	}

	if err := w.transition(schema.WorkflowRunning); err != nil {
		return nil, err
	}
	w.hist.append(schema.EventWorkflowStart, "", 0, 0, map[string]any{"workflow_id": w.ID, "name": w.Name})

	var lastErr *schema.FlowError
	for attempt := 0; attempt <= w.Policy.MaxWorkflowRetries; attempt++ {
		bundle, ferr := w.runOnce(ctx, dagView, start)
		if ferr == nil {
			return bundle, nil
		}
		lastErr = ferr

		if !ferr.IsRetryable() || attempt == w.Policy.MaxWorkflowRetries {
			_ = w.transition(schema.WorkflowFailed)
			w.hist.append(schema.EventWorkflowEnd, "", attempt, time.Since(start), map[string]any{"status": schema.WorkflowFailed, "error": ferr.Error()})
			return w.bundle(schema.WorkflowFailed, start, ferr), nil
		}

		delay := computeBackoff(2*time.Second, 30*time.Second, attempt)
		logging.L().WarnContext(ctx, "workflow execution failed, retrying", "workflow_id", w.ID, "attempt", attempt+1, "delay", delay)
		if werr := waitForBackoff(ctx, delay); werr != nil {
			_ = w.transition(schema.WorkflowFailed)
			return w.bundle(schema.WorkflowFailed, start, werr.(*schema.FlowError)), nil
		}
		w.resetForRetry()
	}

	_ = w.transition(schema.WorkflowFailed)
	return w.bundle(schema.WorkflowFailed, start, lastErr), nil
}

// resetForRetry restores every step to pending and clears results ahead
// of a full workflow-level retry attempt.
func (w *Workflow) resetForRetry() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.steps {
		s.setStatus(schema.StepPending)
		s.mu.Lock()
		s.attempt = 0
		s.result = nil
		s.err = nil
		s.elapsed = 0
		s.mu.Unlock()
	}
	w.results = make(map[string]any)
}

// runOnce executes every wave once. A transient aggregate failure (every
// failed step in the failing wave shares a retryable kind) is returned
// as an error so Execute's outer loop can retry the whole workflow; a
// non-retryable failure aborts the workflow permanently.
func (w *Workflow) runOnce(ctx context.Context, dagView *dag, start time.Time) (*schema.ResultBundle, *schema.FlowError) {
	workflowCtx := ctx
	var cancel context.CancelFunc
	if w.Policy.WorkflowTimeout > 0 {
		workflowCtx, cancel = context.WithTimeout(ctx, w.Policy.WorkflowTimeout)
		defer cancel()
	}

	poolSize := w.Policy.MaxParallelSteps
	if !w.Policy.ParallelismEnabled {
		poolSize = 1
	}
	pool := newWorkerPool(poolSize)

	for _, wave := range dagView.levels {
		if len(wave) == 0 {
			continue
		}

		if workflowCtx.Err() != nil {
			return w.timeoutBundle(dagView, wave, start, workflowCtx.Err()), nil
		}

		waveFailed := false
		var waveErrs []*schema.FlowError
		var mu sync.Mutex

		for _, id := range wave {
			id := id
			step := w.steps[id]

			runFn := func() {
				ferr := w.runStep(workflowCtx, step)
				if ferr != nil {
					mu.Lock()
					waveFailed = true
					waveErrs = append(waveErrs, ferr)
					mu.Unlock()
				}
			}

			if w.Policy.ParallelismEnabled {
				if err := pool.run(workflowCtx, runFn); err != nil {
					return w.timeoutBundle(dagView, wave, start, err), nil
				}
			} else {
				runFn()
			}
		}
		pool.wait()

		// The workflow deadline can fire while a step is mid-flight: the
		// step's own context inherits it and fails with step_timeout, but
		// the workflow-level cause is the workflow's own deadline, not the
		// step's, and must be reported as such (not the step's kind).
		if workflowCtx.Err() != nil {
			return w.timeoutBundle(dagView, wave, start, workflowCtx.Err()), nil
		}

		if waveFailed {
			w.skipAllPendingAfter(dagView, wave)

			waveErrKinds := make([]schema.ErrorKind, len(waveErrs))
			for i, e := range waveErrs {
				waveErrKinds[i] = e.Kind
			}
			if allSameRetryableKind(waveErrKinds) {
				return nil, schema.NewErrorf(waveErrKinds[0], "wave containing steps %v failed transiently", wave)
			}
			_ = w.transition(schema.WorkflowFailed)
			terminalErr := waveErrs[0]
			w.hist.append(schema.EventWorkflowEnd, "", 0, time.Since(start), map[string]any{"status": schema.WorkflowFailed, "error": terminalErr.Error()})
			return w.bundle(schema.WorkflowFailed, start, terminalErr), nil
		}
	}

	_ = w.transition(schema.WorkflowCompleted)
	w.hist.append(schema.EventWorkflowEnd, "", 0, time.Since(start), map[string]any{"status": schema.WorkflowCompleted})
	return w.bundle(schema.WorkflowCompleted, start, nil), nil
}

func allSameRetryableKind(kinds []schema.ErrorKind) bool {
	if len(kinds) == 0 {
		return false
	}
	first := kinds[0]
	if !first.IsRetryable() {
		return false
	}
	for _, k := range kinds {
		if k != first {
			return false
		}
	}
	return true
}

// runStep executes one step's full lifecycle: gating, effective-input
// composition, the per-step retry loop, and history/result commitment.
// Returns a non-nil FlowError only for a terminal (post-retry) failure.
func (w *Workflow) runStep(ctx context.Context, step *Step) *schema.FlowError {
	results := w.snapshotResults()

	if step.RunIf != "" {
		allowed, err := w.gate.Evaluate(step.RunIf, results, step.Inputs)
		if err != nil {
			step.setStatus(schema.StepFailed)
			return asFlowErr(err).WithStep(step.ID)
		}
		if !allowed {
			step.setStatus(schema.StepSkipped)
			w.hist.append(schema.EventStepStart, step.ID, 0, 0, map[string]any{"skipped": true, "reason": "run_if evaluated false"})
			return nil
		}
	}

	w.hist.append(schema.EventStepStart, step.ID, 0, 0, nil)

	effective, err := w.composeInputs(ctx, step)
	if err != nil {
		step.setStatus(schema.StepFailed)
		err = err.WithStep(step.ID)
		w.commitError(step, err)
		return err
	}

	stepTimeout := w.Policy.DefaultStepTimeout
	if step.Agent != nil && step.Agent.Config.InvocationTimeout > 0 {
		stepTimeout = step.Agent.Config.InvocationTimeout
	}

	if stepTimeout == 0 {
		ferr := schema.NewErrorf(schema.ErrStepTimeout, "step %q has a zero-duration deadline", step.ID).WithStep(step.ID)
		step.setStatus(schema.StepFailed)
		w.commitError(step, ferr)
		w.hist.append(schema.EventStepFailure, step.ID, 0, 0, map[string]any{"error": ferr.Error()})
		return ferr
	}

	var lastErr *schema.FlowError
	for attempt := 0; attempt <= w.Policy.MaxStepRetries; attempt++ {
		step.setStatus(schema.StepRunning)
		step.mu.Lock()
		step.attempt = attempt + 1
		step.mu.Unlock()

		attemptStart := time.Now()
		w.hist.append(schema.EventStepAttempt, step.ID, attempt+1, 0, nil)

		stepCtx := ctx
		var cancel context.CancelFunc
		if stepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, stepTimeout)
		}
		result, execErr := step.Agent.Execute(logging.WithStepID(stepCtx, step.ID), effective)
		if cancel != nil {
			cancel()
		}
		elapsed := time.Since(attemptStart)

		if execErr == nil {
			step.setStatus(schema.StepSuccess)
			w.commitResult(step, result)
			step.mu.Lock()
			step.elapsed = elapsed
			step.mu.Unlock()
			w.hist.append(schema.EventStepSuccess, step.ID, attempt+1, elapsed, nil)
			return nil
		}

		ferr := asFlowErr(execErr)
		if stepCtx.Err() == context.DeadlineExceeded {
			ferr = schema.NewErrorf(schema.ErrStepTimeout, "step %q exceeded its deadline", step.ID).WithCause(execErr)
		}
		ferr = ferr.WithStep(step.ID)
		lastErr = ferr

		if !ferr.IsRetryable() || attempt == w.Policy.MaxStepRetries {
			step.setStatus(schema.StepFailed)
			w.commitError(step, ferr)
			step.mu.Lock()
			step.elapsed = elapsed
			step.mu.Unlock()
			w.hist.append(schema.EventStepFailure, step.ID, attempt+1, elapsed, map[string]any{"error": ferr.Error()})
			return ferr
		}

		delay := computeBackoff(1*time.Second, 15*time.Second, attempt)
		w.hist.append(schema.EventStepRetry, step.ID, attempt+1, elapsed, map[string]any{"error": ferr.Error(), "delay": delay.String()})
		if werr := waitForBackoff(ctx, delay); werr != nil {
			ferr := asFlowErr(werr).WithStep(step.ID)
			step.setStatus(schema.StepFailed)
			w.commitError(step, ferr)
			return ferr
		}
	}

	step.setStatus(schema.StepFailed)
	w.commitError(step, lastErr)
	return lastErr
}

// composeInputs augments a step's literal input map with a synthetic
// "<depId>_result" entry per dependency, applying that dependency's jq
// selector (if any) before injection (spec §4.F step 3, DOMAIN STACK
// item 2).
func (w *Workflow) composeInputs(ctx context.Context, step *Step) (map[string]any, *schema.FlowError) {
	effective := make(map[string]any, len(step.Inputs)+len(step.Dependencies))
	for k, v := range step.Inputs {
		effective[k] = v
	}

	w.mu.Lock()
	depResults := make(map[string]any, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		depResults[dep] = w.results[dep]
	}
	w.mu.Unlock()

	for _, dep := range step.Dependencies {
		selector := step.selectorFor(dep)
		projected, err := w.proj.Project(ctx, selector, depResults[dep])
		if err != nil {
			return nil, asFlowErr(err)
		}
		effective[fmt.Sprintf("%s_result", dep)] = projected
	}

	return effective, nil
}

func (w *Workflow) snapshotResults() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	results := make(map[string]any, len(w.results))
	for k, v := range w.results {
		results[k] = v
	}
	return results
}

func (w *Workflow) commitResult(step *Step, result any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	step.mu.Lock()
	step.result = result
	step.mu.Unlock()
	w.results[step.ID] = result
}

func (w *Workflow) commitError(step *Step, err *schema.FlowError) {
	step.mu.Lock()
	defer step.mu.Unlock()
	step.err = err
}

// skipRemaining marks every non-terminal step in wave as skipped.
func (w *Workflow) skipRemaining(wave []string) {
	for _, id := range wave {
		step := w.steps[id]
		if step.Status() == schema.StepPending || step.Status() == schema.StepRunning {
			step.setStatus(schema.StepSkipped)
		}
	}
}

// skipAllPendingAfter marks every step in every wave after the failing
// wave as skipped (spec §4.F step 3: "remaining steps are marked
// skipped").
func (w *Workflow) skipAllPendingAfter(dagView *dag, failedWave []string) {
	failedSet := make(map[string]bool, len(failedWave))
	for _, id := range failedWave {
		failedSet[id] = true
	}
	var pastFailedWave bool
	for _, wave := range dagView.levels {
		if !pastFailedWave {
			for _, id := range wave {
				if failedSet[id] {
					pastFailedWave = true
					break
				}
			}
			continue
		}
		for _, id := range wave {
			step := w.steps[id]
			if step.Status() == schema.StepPending {
				step.setStatus(schema.StepSkipped)
			}
		}
	}
}

// timeoutBundle aborts the current wave and reports the workflow's own
// deadline as the cause, marking workflow_end as cancelled (spec §4.F
// step 4, §8 scenario 6). Used whether the deadline is observed before a
// wave starts or after it finishes.
func (w *Workflow) timeoutBundle(dagView *dag, wave []string, start time.Time, cause error) *schema.ResultBundle {
	w.skipRemaining(wave)
	w.skipAllPendingAfter(dagView, wave)
	_ = w.transition(schema.WorkflowFailed)
	werr := schema.NewError(schema.ErrWorkflowTimeout, "workflow deadline exceeded").WithCause(cause)
	w.hist.append(schema.EventWorkflowEnd, "", 0, time.Since(start), map[string]any{"status": schema.WorkflowFailed, "error": werr.Error(), "cancelled": true})
	return w.bundle(schema.WorkflowFailed, start, werr)
}

func (w *Workflow) bundle(status schema.WorkflowStatus, start time.Time, err *schema.FlowError) *schema.ResultBundle {
	w.mu.Lock()
	resultsCopy := make(map[string]any, len(w.results))
	for k, v := range w.results {
		resultsCopy[k] = v
	}
	w.mu.Unlock()

	metrics := w.computeMetrics(start)

	return &schema.ResultBundle{
		WorkflowID: w.ID,
		Status:     status,
		Results:    resultsCopy,
		History:    w.hist.snapshot(),
		Metrics:    metrics,
		Err:        err,
	}
}

func (w *Workflow) computeMetrics(start time.Time) schema.MetricsBundle {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := schema.MetricsBundle{
		TotalSteps:    len(w.steps),
		TotalElapsed:  time.Since(start),
		StepDurations: make(map[string]time.Duration, len(w.steps)),
	}

	for id, step := range w.steps {
		step.mu.Lock()
		status := step.status
		attempt := step.attempt
		elapsed := step.elapsed
		step.mu.Unlock()

		switch status {
		case schema.StepSuccess:
			m.CompletedSteps++
			if attempt > 1 {
				m.RetriedSteps++
			}
		case schema.StepFailed:
			m.FailedSteps++
		}
		if elapsed > 0 {
			m.StepDurations[id] = elapsed
		}
	}
	return m
}

func asFlowErr(err error) *schema.FlowError {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe
	}
	return schema.NewError(schema.ErrValidation, err.Error()).WithCause(err)
}
