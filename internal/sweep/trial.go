package sweep

import (
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid trial transition")
	ErrNotRunning        = errors.New("trial is not running")
)

// Trial is one sampled-parameter execution owned by a Sweep.
type Trial struct {
	sweepID string
	id      int
	params  domain.Params
	monitor string

	state          domain.TrialState
	reports        []domain.Report
	bestModelScore *float64
	score          *float64
	message        string
	exec           Execution
	startedAt      time.Time
	endedAt        time.Time
}

func newTrial(sweepID string, id int, params domain.Params, monitor string) *Trial {
	return &Trial{
		sweepID: sweepID,
		id:      id,
		params:  params.Clone(),
		monitor: monitor,
		state:   domain.TrialStatePending,
	}
}

func (t *Trial) ID() int                  { return t.id }
func (t *Trial) State() domain.TrialState { return t.state }
func (t *Trial) Params() domain.Params    { return t.params.Clone() }

func (t *Trial) Reports() []domain.Report {
	out := make([]domain.Report, len(t.reports))
	copy(out, t.reports)
	return out
}

func (t *Trial) transition(to domain.TrialState) error {
	if err := domain.ValidateTrialTransition(t.state, to); err != nil {
		return fmt.Errorf("%w: trial %d: %v", ErrInvalidTransition, t.id, err)
	}
	t.state = to
	return nil
}

func (t *Trial) start(exec Execution, now time.Time) error {
	if err := t.transition(domain.TrialStateRunning); err != nil {
		return err
	}
	t.exec = exec
	t.startedAt = now
	return nil
}

func (t *Trial) end(to domain.TrialState, score *float64, message string, now time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, to)
	}
	if err := t.transition(to); err != nil {
		return err
	}
	t.score = score
	t.message = message
	t.endedAt = now
	return nil
}

// appendReport adds a report; only running trials accept reports.
func (t *Trial) appendReport(r domain.Report) error {
	if t.state != domain.TrialStateRunning {
		return fmt.Errorf("%w: trial %d is %s", ErrNotRunning, t.id, t.state)
	}
	t.reports = append(t.reports, r)
	return nil
}

func (t *Trial) values() []float64 {
	out := make([]float64, len(t.reports))
	for i, r := range t.reports {
		out[i] = r.Value
	}
	return out
}

func (t *Trial) lastValue() *float64 {
	if len(t.reports) == 0 {
		return nil
	}
	v := t.reports[len(t.reports)-1].Value
	return &v
}

// finalScore is best_model_score when set, else the last report value.
func (t *Trial) finalScore() *float64 {
	if t.bestModelScore != nil {
		v := *t.bestModelScore
		return &v
	}
	return t.lastValue()
}

// bestObserved is the best score seen so far under direction: best_model_score
// when the execution published one, else the best report value.
func (t *Trial) bestObserved(direction domain.Direction) *float64 {
	if t.bestModelScore != nil {
		v := *t.bestModelScore
		return &v
	}
	var best *float64
	for _, r := range t.reports {
		if best == nil || direction.Better(r.Value, *best) {
			v := r.Value
			best = &v
		}
	}
	return best
}

func (t *Trial) record(restartCount int) domain.TrialRecord {
	rec := domain.TrialRecord{
		SweepID:      t.sweepID,
		TrialID:      t.id,
		Params:       t.params.Clone(),
		Monitor:      t.monitor,
		Reports:      t.Reports(),
		State:        t.state,
		Succeeded:    t.state == domain.TrialStateSucceeded,
		RestartCount: restartCount,
		Message:      t.message,
		StartedAt:    t.startedAt,
		EndedAt:      t.endedAt,
	}
	if t.bestModelScore != nil {
		v := *t.bestModelScore
		rec.BestModelScore = &v
	}
	if t.score != nil {
		v := *t.score
		rec.Score = &v
	}
	return rec
}

// TrialStatus is a read-only view of a trial.
type TrialStatus struct {
	TrialID        int               `json:"trial_id"`
	State          domain.TrialState `json:"state"`
	Params         domain.Params     `json:"params"`
	Reports        int               `json:"reports"`
	LastReport     *float64          `json:"last_report,omitempty"`
	BestModelScore *float64          `json:"best_model_score,omitempty"`
	Score          *float64          `json:"score,omitempty"`
	Message        string            `json:"message,omitempty"`
}

func (t *Trial) status() TrialStatus {
	st := TrialStatus{
		TrialID:    t.id,
		State:      t.state,
		Params:     t.params.Clone(),
		Reports:    len(t.reports),
		LastReport: t.lastValue(),
		Message:    t.message,
	}
	if t.bestModelScore != nil {
		v := *t.bestModelScore
		st.BestModelScore = &v
	}
	if t.score != nil {
		v := *t.score
		st.Score = &v
	}
	return st
}
