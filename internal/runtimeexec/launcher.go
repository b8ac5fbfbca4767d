package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/sweep"
)

// TokenIssuer mints the credential a remote trial uses to post reports.
type TokenIssuer interface {
	IssueTrialToken(sweepID string, trialID int) (string, error)
}

type TokenIssuerFunc func(sweepID string, trialID int) (string, error)

func (f TokenIssuerFunc) IssueTrialToken(sweepID string, trialID int) (string, error) {
	return f(sweepID, trialID)
}

type LauncherConfig struct {
	ImageRef           string
	Entrypoint         []string
	ReportBaseURL      string
	Env                map[string]string
	SyncInterval       time.Duration
	SubmitTimeout      time.Duration
	InspectTimeout     time.Duration
	MaxInspectFailures int
	Tokens             TokenIssuer
}

func (c LauncherConfig) withDefaults() LauncherConfig {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 2 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 2 * time.Minute
	}
	if c.InspectTimeout <= 0 {
		c.InspectTimeout = 10 * time.Second
	}
	if c.MaxInspectFailures <= 0 {
		c.MaxInspectFailures = 5
	}
	if c.Entrypoint == nil {
		c.Entrypoint = []string{"python"}
	}
	return c
}

type trialKey struct {
	sweepID string
	trialID int
}

// Launcher adapts an Executor to sweep.Launcher. Submission and inspection
// run off the scheduler: Launch returns at once and a syncer goroutine
// (Run) refreshes cached observations that the returned handles read.
type Launcher struct {
	executor Executor
	cfg      LauncherConfig
	logger   *slog.Logger

	mu        sync.Mutex
	handles   map[trialKey]*handle
	available bool
	lastErr   error
}

func NewLauncher(executor Executor, cfg LauncherConfig, logger *slog.Logger) (*Launcher, error) {
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		executor:  executor,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "launcher", "executor", executor.Kind()),
		handles:   map[trialKey]*handle{},
		available: true,
	}, nil
}

func (l *Launcher) Launch(ctx context.Context, req sweep.LaunchRequest) (sweep.Execution, error) {
	if err := l.backendError(); err != nil {
		return nil, err
	}

	spec, err := l.jobSpec(req)
	if err != nil {
		return nil, err
	}

	key := trialKey{sweepID: req.SweepID, trialID: req.TrialID}
	h := &handle{launcher: l, key: key, status: StatusPending}

	l.mu.Lock()
	if prev, ok := l.handles[key]; ok && !prev.closed() {
		l.mu.Unlock()
		return nil, fmt.Errorf("trial %s/%d already has a live execution", key.sweepID, key.trialID)
	}
	l.handles[key] = h
	l.mu.Unlock()

	go l.submit(context.WithoutCancel(ctx), h, spec)
	return h, nil
}

func (l *Launcher) jobSpec(req sweep.LaunchRequest) (JobSpec, error) {
	res, err := ResourcesFor(req.CloudCompute)
	if err != nil {
		return JobSpec{}, err
	}

	spec := JobSpec{
		Name:         executionName(req.SweepID, req.TrialID, req.RestartCount),
		SweepID:      req.SweepID,
		TrialID:      req.TrialID,
		RestartCount: req.RestartCount,
		ImageRef:     l.cfg.ImageRef,
		Command:      l.cfg.Entrypoint,
		ScriptPath:   req.ScriptPath,
		Args:         append(append([]string{}, req.ScriptArgs...), paramArgs(req.Params)...),
		Params:       req.Params.Clone(),
		Framework:    req.Framework,
		Logger:       req.Logger,
		Monitor:      req.Monitor,
		Requirements: req.Requirements,
		CodeURL:      req.CodeURL,
		Resources:    res,
		NumNodes:     req.NumNodes,
		Env:          l.cfg.Env,
		Reporter:     l,
	}

	if base := strings.TrimRight(strings.TrimSpace(l.cfg.ReportBaseURL), "/"); base != "" {
		spec.ReportURL = base + "/sweeps/" + url.PathEscape(req.SweepID) + "/trials/" + strconv.Itoa(req.TrialID) + "/reports"
	}
	if l.cfg.Tokens != nil {
		token, err := l.cfg.Tokens.IssueTrialToken(req.SweepID, req.TrialID)
		if err != nil {
			return JobSpec{}, fmt.Errorf("issue trial token: %w", err)
		}
		spec.Token = token
	}
	return spec, nil
}

func (l *Launcher) submit(ctx context.Context, h *handle, spec JobSpec) {
	submitCtx, cancel := context.WithTimeout(ctx, l.cfg.SubmitTimeout)
	defer cancel()

	execution, err := l.executor.Submit(submitCtx, spec)
	if err != nil {
		h.fail("submit failed: " + err.Error())
		if !errors.Is(err, ErrInvalidJobSpec) {
			l.markDown(err)
		}
		l.log(ctx, slog.LevelWarn, "trial submit failed", "sweep_id", spec.SweepID, "trial_id", spec.TrialID, "error", err)
		return
	}
	h.submitted(execution)
	l.logger.Debug("trial submitted", "sweep_id", spec.SweepID, "trial_id", spec.TrialID, "execution", execution.Name)
}

// Deliver appends reports published by a trial. It fails for trials the
// Launcher no longer tracks.
func (l *Launcher) Deliver(sweepID string, trialID int, reports []domain.Report, bestModelScore *float64) error {
	l.mu.Lock()
	h, ok := l.handles[trialKey{sweepID: sweepID, trialID: trialID}]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrUnknownTrial, sweepID, trialID)
	}
	return h.deliver(reports, bestModelScore)
}

// Run refreshes observations every SyncInterval until ctx is done.
func (l *Launcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sync(ctx)
		}
	}
}

// Sync performs one inspection pass over submitted, live executions.
func (l *Launcher) Sync(ctx context.Context) {
	if err := l.backendError(); err != nil {
		pingCtx, cancel := context.WithTimeout(ctx, l.cfg.InspectTimeout)
		pingErr := l.executor.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			l.log(ctx, slog.LevelWarn, "executor still unavailable", "error", pingErr)
			return
		}
		l.markUp()
	}

	for _, h := range l.inspectable() {
		inspectCtx, cancel := context.WithTimeout(ctx, l.cfg.InspectTimeout)
		obs, err := l.executor.Inspect(inspectCtx, h.executionRef())
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures := h.inspectFailed(l.cfg.MaxInspectFailures)
			l.log(ctx, slog.LevelWarn, "inspect trial failed", "sweep_id", h.key.sweepID, "trial_id", h.key.trialID, "failures", failures, "error", err)
			continue
		}
		h.observe(obs)
	}
}

// Available reports whether the backend accepted its last request.
func (l *Launcher) Available() bool {
	return l.backendError() == nil
}

// Check is a readiness probe against the executor backend.
func (l *Launcher) Check(ctx context.Context) error {
	return l.executor.Ping(ctx)
}

func (l *Launcher) inspectable() []*handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*handle, 0, len(l.handles))
	for _, h := range l.handles {
		if h.needsInspect() {
			out = append(out, h)
		}
	}
	return out
}

func (l *Launcher) backendError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available {
		return nil
	}
	return fmt.Errorf("%w: %s executor: %v", sweep.ErrInfrastructure, l.executor.Kind(), l.lastErr)
}

func (l *Launcher) markDown(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = false
	l.lastErr = err
}

func (l *Launcher) markUp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.available {
		l.logger.Info("executor available again")
	}
	l.available = true
	l.lastErr = nil
}

func (l *Launcher) retire(h *handle) {
	l.mu.Lock()
	if cur, ok := l.handles[h.key]; ok && cur == h {
		delete(l.handles, h.key)
	}
	l.mu.Unlock()

	if f, ok := l.executor.(interface{ Forget(Execution) }); ok {
		f.Forget(h.executionRef())
	}
}

func (l *Launcher) stop(h *handle) {
	execution := h.executionRef()
	if execution.Name == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SubmitTimeout)
		defer cancel()
		if err := l.executor.Stop(ctx, execution); err != nil {
			l.logger.Warn("stop trial failed", "sweep_id", h.key.sweepID, "trial_id", h.key.trialID, "error", err)
		}
	}()
}

func (l *Launcher) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx.Err() != nil && level >= slog.LevelWarn {
		return
	}
	l.logger.Log(ctx, level, msg, args...)
}

// handle is the sweep.Execution for one launched trial.
type handle struct {
	launcher *Launcher
	key      trialKey

	mu             sync.Mutex
	execution      Execution
	status         string
	message        string
	inbox          []domain.Report
	bestModelScore *float64
	failures       int
	unreachable    bool
	stopped        bool
	retired        bool
}

func (h *handle) IsAlive() bool {
	h.mu.Lock()
	alive := !h.unreachable
	h.mu.Unlock()
	if !alive {
		h.launcher.stop(h)
		h.close()
	}
	return alive
}

func (h *handle) PollReports() []domain.Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.inbox
	h.inbox = nil
	return out
}

// TerminalStatus holds back a terminal observation while reports are still
// queued, so a trial's last reports are never dropped.
func (h *handle) TerminalStatus() domain.TerminalStatus {
	h.mu.Lock()
	var out domain.TerminalStatus
	if len(h.inbox) == 0 {
		switch h.status {
		case StatusSucceeded:
			out = domain.TerminalSucceeded
		case StatusFailed:
			out = domain.TerminalFailed
		}
	}
	h.mu.Unlock()
	if out != domain.TerminalNone {
		h.close()
	}
	return out
}

func (h *handle) BestModelScore() *float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bestModelScore == nil {
		return nil
	}
	v := *h.bestModelScore
	return &v
}

func (h *handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.launcher.stop(h)
	h.close()
}

func (h *handle) close() {
	h.mu.Lock()
	if h.retired {
		h.mu.Unlock()
		return
	}
	h.retired = true
	h.mu.Unlock()
	h.launcher.retire(h)
}

func (h *handle) closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired
}

func (h *handle) deliver(reports []domain.Report, bestModelScore *float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired || h.stopped {
		return fmt.Errorf("%w: %s/%d", ErrTrialClosed, h.key.sweepID, h.key.trialID)
	}
	h.inbox = append(h.inbox, reports...)
	if bestModelScore != nil {
		v := *bestModelScore
		h.bestModelScore = &v
	}
	return nil
}

func (h *handle) submitted(execution Execution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.execution = execution
	if h.status == StatusPending {
		h.status = StatusRunning
	}
}

func (h *handle) fail(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusFailed
	h.message = message
}

func (h *handle) observe(obs Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	if obs.Status != StatusPending {
		h.status = obs.Status
	}
	h.message = obs.Message
	if obs.BestModelScore != nil && h.bestModelScore == nil {
		v := *obs.BestModelScore
		h.bestModelScore = &v
	}
}

func (h *handle) inspectFailed(limit int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	if h.failures >= limit {
		h.unreachable = true
	}
	return h.failures
}

func (h *handle) needsInspect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execution.Name != "" && !h.retired && !h.unreachable && (h.status == StatusPending || h.status == StatusRunning)
}

func (h *handle) executionRef() Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execution
}
