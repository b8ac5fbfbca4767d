package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

// LocalScheme prefixes script paths that name an in-process objective.
const LocalScheme = "go://"

// ReportFunc publishes one intermediate value of a running objective.
type ReportFunc func(step int, value float64)

// Objective is a trial body run in-process. It returns the trial's
// best_model_score, or nil to let the last report stand.
type Objective func(ctx context.Context, params domain.Params, report ReportFunc) (*float64, error)

// LocalExecutor runs registered objectives as goroutines. Reports go to the
// spec's Reporter as they are produced.
type LocalExecutor struct {
	mu         sync.Mutex
	objectives map[string]Objective
	runs       map[string]*localRun
}

type localRun struct {
	cancel context.CancelFunc
	done   bool
	err    error
	best   *float64
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{
		objectives: map[string]Objective{},
		runs:       map[string]*localRun{},
	}
}

func (e *LocalExecutor) Register(name string, objective Objective) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objectives[strings.TrimSpace(name)] = objective
}

func (e *LocalExecutor) Kind() string {
	return "local"
}

func (e *LocalExecutor) Ping(ctx context.Context) error {
	return nil
}

func (e *LocalExecutor) Submit(ctx context.Context, spec JobSpec) (Execution, error) {
	name := strings.TrimPrefix(strings.TrimSpace(spec.ScriptPath), LocalScheme)

	e.mu.Lock()
	objective, ok := e.objectives[name]
	if !ok {
		e.mu.Unlock()
		return Execution{}, fmt.Errorf("%w: no local objective %q", ErrInvalidJobSpec, name)
	}
	if _, exists := e.runs[spec.Name]; exists {
		e.mu.Unlock()
		return Execution{}, fmt.Errorf("%w: execution %s already submitted", ErrInvalidJobSpec, spec.Name)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	run := &localRun{cancel: cancel}
	e.runs[spec.Name] = run
	e.mu.Unlock()

	report := func(step int, value float64) {
		if spec.Reporter == nil || runCtx.Err() != nil {
			return
		}
		_ = spec.Reporter.Deliver(spec.SweepID, spec.TrialID, []domain.Report{{Value: value, Step: step}}, nil)
	}

	go func() {
		defer cancel()
		best, err := runObjective(runCtx, objective, spec.Params.Clone(), report)
		e.mu.Lock()
		run.done, run.err, run.best = true, err, best
		e.mu.Unlock()
	}()

	return Execution{Name: spec.Name, SweepID: spec.SweepID, TrialID: spec.TrialID, Executor: e.Kind()}, nil
}

func runObjective(ctx context.Context, objective Objective, params domain.Params, report ReportFunc) (best *float64, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("objective panicked: %v", v)
		}
	}()
	return objective(ctx, params, report)
}

func (e *LocalExecutor) Inspect(ctx context.Context, execution Execution) (Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[execution.Name]
	if !ok {
		return Observation{}, fmt.Errorf("%w: %s", ErrUnknownTrial, execution.Name)
	}
	if !run.done {
		return Observation{Status: StatusRunning}, nil
	}
	if run.err != nil {
		msg := run.err.Error()
		if errors.Is(run.err, context.Canceled) {
			msg = "stopped"
		}
		return Observation{Status: StatusFailed, Message: msg, BestModelScore: run.best}, nil
	}
	return Observation{Status: StatusSucceeded, BestModelScore: run.best}, nil
}

func (e *LocalExecutor) Stop(ctx context.Context, execution Execution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.runs[execution.Name]; ok {
		run.cancel()
	}
	return nil
}

// Forget drops the bookkeeping of a finished run.
func (e *LocalExecutor) Forget(execution Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.runs[execution.Name]; ok && run.done {
		delete(e.runs, execution.Name)
	}
}
