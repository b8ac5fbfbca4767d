package domain

import (
	"fmt"
	"strings"
	"time"
)

// TrialState represents the lifecycle state of a trial.
type TrialState string

const (
	TrialStatePending   TrialState = "pending"
	TrialStateRunning   TrialState = "running"
	TrialStateSucceeded TrialState = "succeeded"
	TrialStatePruned    TrialState = "pruned"
	TrialStateFailed    TrialState = "failed"
)

var trialTransitions = map[TrialState][]TrialState{
	TrialStatePending:   {TrialStateRunning, TrialStateFailed},
	TrialStateRunning:   {TrialStateSucceeded, TrialStatePruned, TrialStateFailed},
	TrialStateSucceeded: {},
	TrialStatePruned:    {},
	TrialStateFailed:    {},
}

func (s TrialState) Valid() bool {
	_, ok := trialTransitions[s]
	return ok
}

func (s TrialState) Terminal() bool {
	switch s {
	case TrialStateSucceeded, TrialStatePruned, TrialStateFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTrial returns true when a trial may move from one state to another.
func CanTransitionTrial(from, to TrialState) bool {
	for _, candidate := range trialTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTrialTransition ensures a trial state transition is allowed.
func ValidateTrialTransition(from, to TrialState) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid trial state transition %q -> %q", from, to)
	}
	if !CanTransitionTrial(from, to) {
		return fmt.Errorf("trial state transition %q -> %q not allowed", from, to)
	}
	return nil
}

// TerminalStatus is what an execution collaborator reports about completion.
type TerminalStatus string

const (
	TerminalNone      TerminalStatus = ""
	TerminalSucceeded TerminalStatus = "succeeded"
	TerminalFailed    TerminalStatus = "failed"
)

// NormalizeTerminalStatus maps executor status strings onto terminal statuses.
func NormalizeTerminalStatus(value string) TerminalStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "succeeded", "success", "completed", "complete":
		return TerminalSucceeded
	case "failed", "error", "canceled":
		return TerminalFailed
	default:
		return TerminalNone
	}
}

// Report is one intermediate progress value emitted by a trial.
type Report struct {
	Value float64 `json:"value" yaml:"value"`
	Step  int     `json:"step" yaml:"step"`
}

// Params holds one concrete value per search-space parameter.
type Params map[string]any

func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// TrialRecord is the immutable record of a terminal trial.
type TrialRecord struct {
	ID             string     `json:"record_id,omitempty"`
	SweepID        string     `json:"sweep_id"`
	Generation     string     `json:"generation,omitempty"`
	TrialID        int        `json:"trial_id"`
	Params         Params     `json:"params"`
	Monitor        string     `json:"monitor,omitempty"`
	Reports        []Report   `json:"reports"`
	BestModelScore *float64   `json:"best_model_score,omitempty"`
	Score          *float64   `json:"score,omitempty"`
	State          TrialState `json:"state"`
	Succeeded      bool       `json:"succeeded"`
	RestartCount   int        `json:"restart_count"`
	Message        string     `json:"message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        time.Time  `json:"ended_at"`
}

func (r TrialRecord) Validate() error {
	if strings.TrimSpace(r.SweepID) == "" {
		return fmt.Errorf("sweep id is required")
	}
	if r.TrialID < 0 {
		return fmt.Errorf("trial id must be >= 0")
	}
	if !r.State.Terminal() {
		return fmt.Errorf("trial record state must be terminal (got %q)", r.State)
	}
	if r.Succeeded != (r.State == TrialStateSucceeded) {
		return fmt.Errorf("succeeded flag disagrees with state %q", r.State)
	}
	return nil
}
