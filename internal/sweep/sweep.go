package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/animus-hpo/internal/algorithm"
	"github.com/animus-labs/animus-hpo/internal/domain"
)

var (
	ErrNotFailed       = errors.New("sweep has not failed")
	ErrSweepIDMismatch = errors.New("sweep id mismatch")
)

// Sweep owns the trials of one search campaign. It is not safe for concurrent
// use; the Sweeper serializes every call.
type Sweep struct {
	cfg       domain.SweepConfig
	algorithm algorithm.Algorithm
	launcher  Launcher
	logger    *slog.Logger
	now       func() time.Time

	trials        []*Trial
	active        []*Trial
	terminalCount int
	outbox        []domain.TrialRecord

	generation    string
	restartCount  int
	hasFailed     bool
	failureReason string
	codeURL       string
}

type Option func(*Sweep)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweep) { s.logger = logger }
}

// WithGeneration tags every record of the sweep. A sweep id reused after
// removal gets a new generation so its trial ids do not collide with history.
func WithGeneration(generation string) Option {
	return func(s *Sweep) { s.generation = generation }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweep) { s.now = now }
}

// New validates cfg and registers its distributions with alg.
func New(cfg domain.SweepConfig, alg algorithm.Algorithm, launcher Launcher, opts ...Option) (*Sweep, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alg == nil {
		return nil, errors.New("algorithm is required")
	}
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	s := &Sweep{
		cfg:       cfg,
		algorithm: alg,
		launcher:  launcher,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	alg.RegisterDistributions(cfg.Distributions)
	return s, nil
}

func (s *Sweep) ID() string                 { return s.cfg.SweepID }
func (s *Sweep) Generation() string         { return s.generation }
func (s *Sweep) Config() domain.SweepConfig { return s.cfg }
func (s *Sweep) HasFailed() bool            { return s.hasFailed }
func (s *Sweep) RestartCount() int          { return s.restartCount }
func (s *Sweep) Created() int               { return len(s.trials) }

// Completed reports whether n_trials trials reached a terminal state.
func (s *Sweep) Completed() bool {
	return s.terminalCount >= s.cfg.NumTrials
}

// NonTerminal counts pending and running trials.
func (s *Sweep) NonTerminal() int {
	return len(s.active)
}

// SetCodeURL records where workers fetch the sweep code from.
func (s *Sweep) SetCodeURL(url string) {
	s.codeURL = url
}

// MarkFailed sets the sticky failure flag. Ticks are no-ops until Restart.
func (s *Sweep) MarkFailed(reason string) {
	if s.hasFailed {
		return
	}
	s.hasFailed = true
	s.failureReason = reason
	s.logWarn("sweep failed", "reason", reason)
}

// Restart clears the failure flag and bumps the restart count. Execution
// settings (script, arguments, compute, requirements) are taken from cfg; the
// search space and trial history are kept. Pending trials are dispatched
// again on the next tick.
func (s *Sweep) Restart(cfg domain.SweepConfig) error {
	if !s.hasFailed {
		return fmt.Errorf("%w: %s", ErrNotFailed, s.cfg.SweepID)
	}
	cfg = cfg.WithDefaults()
	if cfg.SweepID != s.cfg.SweepID {
		return fmt.Errorf("%w: %q != %q", ErrSweepIDMismatch, cfg.SweepID, s.cfg.SweepID)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg.ScriptPath = cfg.ScriptPath
	s.cfg.ScriptArgs = cfg.ScriptArgs
	s.cfg.Framework = cfg.Framework
	s.cfg.CloudCompute = cfg.CloudCompute
	s.cfg.NumNodes = cfg.NumNodes
	s.cfg.Requirements = cfg.Requirements
	s.cfg.Logger = cfg.Logger

	s.restartCount++
	s.hasFailed = false
	s.failureReason = ""
	s.codeURL = ""
	s.logInfo("sweep restarted", "restart_count", s.restartCount)
	return nil
}

// Tick advances every non-terminal trial and admits new ones up to the
// concurrency cap. It never waits on a trial.
func (s *Sweep) Tick(ctx context.Context) {
	if s.hasFailed {
		return
	}

	for _, t := range s.active {
		if t.state == domain.TrialStateRunning {
			s.advance(t)
		}
	}
	s.compact()

	// Pending trials left over from an infrastructure failure go first.
	for _, t := range s.active {
		if t.state != domain.TrialStatePending {
			continue
		}
		if !s.dispatch(ctx, t) {
			s.compact()
			return
		}
	}
	s.compact()

	for len(s.active) < s.cfg.SimultaneousTrials && len(s.trials) < s.cfg.NumTrials {
		id := len(s.trials)
		s.logDebug("admitting trial", "trial_id", id, "non_terminal", len(s.active))
		params := s.algorithm.TrialStart(id)
		t := newTrial(s.cfg.SweepID, id, params, s.cfg.Monitor)
		s.trials = append(s.trials, t)
		s.active = append(s.active, t)
		if err := s.cfg.Distributions.CheckParams(params); err != nil {
			s.finish(t, domain.TrialStateFailed, nil, "invalid parameters: "+err.Error())
		} else if !s.dispatch(ctx, t) {
			break
		}
		s.compact()
	}
	s.compact()
}

// dispatch launches a pending trial. It returns false when the sweep failed.
func (s *Sweep) dispatch(ctx context.Context, t *Trial) bool {
	exec, err := s.launcher.Launch(ctx, LaunchRequest{
		SweepID:      s.cfg.SweepID,
		TrialID:      t.id,
		RestartCount: s.restartCount,
		ScriptPath:   s.cfg.ScriptPath,
		ScriptArgs:   append([]string(nil), s.cfg.ScriptArgs...),
		Framework:    s.cfg.Framework,
		Params:       t.params.Clone(),
		CloudCompute: s.cfg.CloudCompute,
		NumNodes:     s.cfg.NumNodes,
		Requirements: append([]string(nil), s.cfg.Requirements...),
		Logger:       s.cfg.Logger,
		Monitor:      s.cfg.Monitor,
		CodeURL:      s.codeURL,
	})
	switch {
	case err == nil && exec != nil:
	case err != nil && errors.Is(err, ErrInfrastructure):
		s.MarkFailed(fmt.Sprintf("launch trial %d: %v", t.id, err))
		return false
	default:
		if err == nil {
			err = errors.New("launcher returned no execution")
		}
		s.finish(t, domain.TrialStateFailed, nil, "launch failed: "+err.Error())
		return true
	}
	if err := t.start(exec, s.now()); err != nil {
		panic(err)
	}
	s.logInfo("trial started", "trial_id", t.id, "params", t.params)
	return true
}

// advance applies new reports and the execution's terminal status.
func (s *Sweep) advance(t *Trial) {
	for _, r := range t.exec.PollReports() {
		if err := t.appendReport(r); err != nil {
			panic(err)
		}
		if s.algorithm.ShouldPrune(t.id, t.values()) {
			t.exec.Stop()
			s.finish(t, domain.TrialStatePruned, t.lastValue(), "")
			return
		}
	}

	switch t.exec.TerminalStatus() {
	case domain.TerminalSucceeded:
		s.captureBestModelScore(t)
		s.finish(t, domain.TrialStateSucceeded, t.finalScore(), "")
	case domain.TerminalFailed:
		s.captureBestModelScore(t)
		s.finish(t, domain.TrialStateFailed, t.bestObserved(s.cfg.Direction), "execution failed")
	default:
		if !t.exec.IsAlive() {
			s.captureBestModelScore(t)
			s.finish(t, domain.TrialStateFailed, t.bestObserved(s.cfg.Direction), "execution unreachable")
		}
	}
}

func (s *Sweep) captureBestModelScore(t *Trial) {
	if score := t.exec.BestModelScore(); score != nil {
		v := *score
		t.bestModelScore = &v
	}
}

// finish moves t to a terminal state, informs the algorithm once and queues
// the record for the Sweeper.
func (s *Sweep) finish(t *Trial, state domain.TrialState, score *float64, message string) {
	if err := t.end(state, score, message, s.now()); err != nil {
		panic(err)
	}
	s.algorithm.TrialEnd(t.id, score)
	s.terminalCount++
	rec := t.record(s.restartCount)
	rec.Generation = s.generation
	s.outbox = append(s.outbox, rec)

	attrs := []any{"trial_id", t.id, "state", string(state)}
	if score != nil {
		attrs = append(attrs, "score", *score)
	}
	if message != "" {
		attrs = append(attrs, "message", message)
	}
	s.logInfo("trial finished", attrs...)
}

func (s *Sweep) compact() {
	kept := s.active[:0]
	for _, t := range s.active {
		if !t.state.Terminal() {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = kept
}

// DrainTerminal returns the records of trials that became terminal since the
// previous call.
func (s *Sweep) DrainTerminal() []domain.TrialRecord {
	out := s.outbox
	s.outbox = nil
	return out
}

// Shutdown asks every dispatched, non-terminal trial to stop.
func (s *Sweep) Shutdown() {
	for _, t := range s.active {
		if t.exec != nil {
			t.exec.Stop()
		}
	}
}

// Status is an aggregate snapshot of a sweep.
type Status struct {
	SweepID            string           `json:"sweep_id"`
	Generation         string           `json:"generation,omitempty"`
	Direction          domain.Direction `json:"direction"`
	Algorithm          string           `json:"algorithm"`
	NumTrials          int              `json:"n_trials"`
	SimultaneousTrials int              `json:"simultaneous_trials"`
	Created            int              `json:"created"`
	Pending            int              `json:"pending"`
	Running            int              `json:"running"`
	Succeeded          int              `json:"succeeded"`
	Pruned             int              `json:"pruned"`
	Failed             int              `json:"failed"`
	RestartCount       int              `json:"restart_count"`
	HasFailed          bool             `json:"has_failed"`
	FailureReason      string           `json:"failure_reason,omitempty"`
	Completed          bool             `json:"completed"`
	BestTrialID        *int             `json:"best_trial_id,omitempty"`
	BestScore          *float64         `json:"best_score,omitempty"`
	BestParams         domain.Params    `json:"best_params,omitempty"`
	Trials             []TrialStatus    `json:"trials"`
}

// Phase is a one-word summary of the status.
func (st Status) Phase() string {
	switch {
	case st.HasFailed:
		return "failed"
	case st.Completed:
		return "completed"
	case st.Running > 0 || st.Pending > 0:
		return "running"
	default:
		return "pending"
	}
}

func (s *Sweep) Status() Status {
	st := Status{
		SweepID:            s.cfg.SweepID,
		Generation:         s.generation,
		Direction:          s.cfg.Direction,
		Algorithm:          s.cfg.Algorithm,
		NumTrials:          s.cfg.NumTrials,
		SimultaneousTrials: s.cfg.SimultaneousTrials,
		Created:            len(s.trials),
		RestartCount:       s.restartCount,
		HasFailed:          s.hasFailed,
		FailureReason:      s.failureReason,
		Completed:          s.Completed(),
		Trials:             make([]TrialStatus, 0, len(s.trials)),
	}
	var best *Trial
	for _, t := range s.trials {
		switch t.state {
		case domain.TrialStatePending:
			st.Pending++
		case domain.TrialStateRunning:
			st.Running++
		case domain.TrialStateSucceeded:
			st.Succeeded++
			if t.score != nil && (best == nil || s.cfg.Direction.Better(*t.score, *best.score)) {
				best = t
			}
		case domain.TrialStatePruned:
			st.Pruned++
		case domain.TrialStateFailed:
			st.Failed++
		}
		st.Trials = append(st.Trials, t.status())
	}
	if best != nil {
		id := best.id
		score := *best.score
		st.BestTrialID = &id
		st.BestScore = &score
		st.BestParams = best.params.Clone()
	}
	return st
}

func (s *Sweep) logInfo(msg string, attrs ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Info(msg, append([]any{"sweep_id", s.cfg.SweepID}, attrs...)...)
}

func (s *Sweep) logDebug(msg string, attrs ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, append([]any{"sweep_id", s.cfg.SweepID}, attrs...)...)
}

func (s *Sweep) logWarn(msg string, attrs ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, append([]any{"sweep_id", s.cfg.SweepID}, attrs...)...)
}
