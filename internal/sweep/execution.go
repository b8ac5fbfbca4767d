package sweep

import (
	"context"
	"errors"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

// ErrInfrastructure marks launch failures that are not the trial's fault: the
// code channel or the execution backend is unavailable. A launch error
// wrapping it fails the whole sweep instead of the trial.
var ErrInfrastructure = errors.New("execution infrastructure unavailable")

// Execution is the handle on one dispatched trial. Every method must return
// without waiting on the trial.
type Execution interface {
	IsAlive() bool
	// PollReports returns the reports received since the previous call, in
	// arrival order.
	PollReports() []domain.Report
	TerminalStatus() domain.TerminalStatus
	BestModelScore() *float64
	// Stop asks the backend to terminate the trial; it does not wait.
	Stop()
}

// LaunchRequest is what a Launcher needs to start one trial.
type LaunchRequest struct {
	SweepID      string
	TrialID      int
	RestartCount int
	ScriptPath   string
	ScriptArgs   []string
	Framework    string
	Params       domain.Params
	CloudCompute string
	NumNodes     int
	Requirements []string
	Logger       string
	Monitor      string
	CodeURL      string
}

// Launcher dispatches trials to an execution backend.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (Execution, error)
}

type LauncherFunc func(ctx context.Context, req LaunchRequest) (Execution, error)

func (f LauncherFunc) Launch(ctx context.Context, req LaunchRequest) (Execution, error) {
	return f(ctx, req)
}
