package runtimeexec

import (
	"context"
	"errors"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

// Executor is the execution backend surface used by the Launcher. Submit and
// Inspect may block on the backend; the Launcher never calls them from a
// scheduler tick.
type Executor interface {
	Kind() string
	Submit(ctx context.Context, spec JobSpec) (Execution, error)
	Inspect(ctx context.Context, execution Execution) (Observation, error)
	Stop(ctx context.Context, execution Execution) error
	Ping(ctx context.Context) error
}

// Reporter receives progress from in-process trials.
type Reporter interface {
	Deliver(sweepID string, trialID int, reports []domain.Report, bestModelScore *float64) error
}

type JobSpec struct {
	Name         string
	SweepID      string
	TrialID      int
	RestartCount int
	ImageRef     string
	Command      []string
	ScriptPath   string
	Args         []string
	Params       domain.Params
	Framework    string
	Logger       string
	Monitor      string
	Requirements []string
	CodeURL      string
	ReportURL    string
	Token        string
	Resources    Resources
	NumNodes     int
	Env          map[string]string
	Reporter     Reporter
}

type Execution struct {
	Name      string
	SweepID   string
	TrialID   int
	Executor  string
	Namespace string
}

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Observation struct {
	Status         string
	Message        string
	BestModelScore *float64
	Details        map[string]any
}

func (o Observation) Terminal() bool {
	return o.Status == StatusSucceeded || o.Status == StatusFailed
}

var (
	// ErrInvalidJobSpec marks submissions that fail because of the trial's own
	// settings; every other Submit error is a backend problem.
	ErrInvalidJobSpec = errors.New("invalid job spec")
	ErrUnknownTrial   = errors.New("unknown trial execution")
	ErrTrialClosed    = errors.New("trial execution no longer accepts reports")
)
