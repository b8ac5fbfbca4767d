package sweeper

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-hpo/internal/algorithm"
	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/drive"
	"github.com/animus-labs/animus-hpo/internal/platform/auditlog"
	"github.com/animus-labs/animus-hpo/internal/platform/metrics"
	"github.com/animus-labs/animus-hpo/internal/repo"
	"github.com/animus-labs/animus-hpo/internal/sweep"
)

var (
	ErrNotFound    = errors.New("sweep not found")
	ErrSweepActive = errors.New("sweep is still active")
)

// Outcome tells apart the three answers to a create request.
type Outcome string

const (
	OutcomeLaunched  Outcome = "launched"
	OutcomeRestarted Outcome = "restarted"
	OutcomeRejected  Outcome = "rejected"
)

type Result struct {
	Outcome Outcome `json:"outcome"`
	SweepID string  `json:"sweep_id"`
	Message string  `json:"message"`
}

func launchedMessage(id string) string  { return "Launched a sweep " + id }
func restartedMessage(id string) string { return "Updated code for Sweep " + id + "." }
func rejectedMessage(id string) string {
	return "The current Sweep " + id + " is running. It couldn't be updated."
}

type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
	Service   string
}

type Auditor interface {
	Write(ctx context.Context, event auditlog.Event) (int64, error)
}

type AlgorithmFactory func(cfg domain.SweepConfig) (algorithm.Algorithm, error)

type Config struct {
	Launcher     sweep.Launcher
	Store        repo.TrialRecordStore
	Drive        drive.Drive
	Auditor      Auditor
	Metrics      *metrics.Sweeps
	Logger       *slog.Logger
	NewAlgorithm AlgorithmFactory
	Now          func() time.Time
}

// Sweeper multiplexes every sweep of the process behind one lock. Ticks,
// create requests and status reads never interleave; code upload, persistence
// and audit writes happen outside the lock.
type Sweeper struct {
	launcher     sweep.Launcher
	store        repo.TrialRecordStore
	drive        drive.Drive
	auditor      Auditor
	metrics      *metrics.Sweeps
	logger       *slog.Logger
	newAlgorithm AlgorithmFactory
	now          func() time.Time

	mu       sync.Mutex
	sweeps   map[string]*sweep.Sweep
	creating map[string]bool
	pending  []domain.TrialRecord

	forwardMu sync.Mutex
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if cfg.Drive == nil {
		cfg.Drive = drive.Nop{}
	}
	if cfg.NewAlgorithm == nil {
		cfg.NewAlgorithm = DefaultAlgorithm
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		launcher:     cfg.Launcher,
		store:        cfg.Store,
		drive:        cfg.Drive,
		auditor:      cfg.Auditor,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "sweeper"),
		newAlgorithm: cfg.NewAlgorithm,
		now:          cfg.Now,
		sweeps:       map[string]*sweep.Sweep{},
		creating:     map[string]bool{},
	}, nil
}

// DefaultAlgorithm builds the algorithm named in cfg. Without an explicit
// seed the seed is derived from the sweep id.
func DefaultAlgorithm(cfg domain.SweepConfig) (algorithm.Algorithm, error) {
	var seed int64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		h := fnv.New64a()
		_, _ = h.Write([]byte(cfg.SweepID))
		seed = int64(h.Sum64() >> 1)
	}
	alg, err := algorithm.New(algorithm.Options{
		Name:      cfg.Algorithm,
		Direction: cfg.Direction,
		Pruner:    cfg.Pruner,
		Seed:      seed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return alg, nil
}

// CreateSweep launches a new sweep, restarts a failed one in place, or rejects
// the request when the sweep is still live. Configuration errors are
// returned; a code drive outage leaves the sweep registered but failed.
func (s *Sweeper) CreateSweep(ctx context.Context, info AuditInfo, cfg domain.SweepConfig) (Result, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		s.metrics.Request("invalid")
		return Result{}, err
	}
	id := cfg.SweepID

	s.mu.Lock()
	existing, exists := s.sweeps[id]
	if s.creating[id] || (exists && !existing.HasFailed()) {
		s.mu.Unlock()
		res := Result{Outcome: OutcomeRejected, SweepID: id, Message: rejectedMessage(id)}
		s.metrics.Request(string(OutcomeRejected))
		s.audit(ctx, info, "sweep.rejected", id, map[string]any{"reason": "sweep is running"})
		s.logger.Info("sweep update rejected", "sweep_id", id)
		return res, nil
	}
	restartCount := 0
	if exists {
		restartCount = existing.RestartCount() + 1
	}
	s.creating[id] = true
	s.mu.Unlock()

	var created *sweep.Sweep
	if !exists {
		alg, err := s.newAlgorithm(cfg)
		if err != nil {
			s.release(id)
			s.metrics.Request("invalid")
			return Result{}, err
		}
		created, err = sweep.New(cfg, alg, s.launcher,
			sweep.WithLogger(s.logger),
			sweep.WithClock(s.now),
			sweep.WithGeneration(uuid.NewString()),
		)
		if err != nil {
			s.release(id)
			s.metrics.Request("invalid")
			return Result{}, err
		}
	}

	codeURL, uploadErr := s.drive.Upload(ctx, cfg, restartCount)
	if uploadErr != nil && !errors.Is(uploadErr, sweep.ErrInfrastructure) {
		s.release(id)
		s.metrics.Request("invalid")
		return Result{}, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, uploadErr)
	}

	s.mu.Lock()
	delete(s.creating, id)
	var res Result
	if created != nil {
		s.sweeps[id] = created
		res = Result{Outcome: OutcomeLaunched, SweepID: id, Message: launchedMessage(id)}
		s.applyUpload(created, codeURL, uploadErr)
	} else {
		current, ok := s.sweeps[id]
		if !ok {
			s.mu.Unlock()
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := current.Restart(cfg); err != nil {
			s.mu.Unlock()
			return Result{}, err
		}
		res = Result{Outcome: OutcomeRestarted, SweepID: id, Message: restartedMessage(id)}
		s.applyUpload(current, codeURL, uploadErr)
	}
	s.mu.Unlock()

	payload := map[string]any{"restart_count": restartCount, "n_trials": cfg.NumTrials, "algorithm": cfg.Algorithm}
	if uploadErr != nil {
		payload["code_upload_error"] = uploadErr.Error()
	}
	action := "sweep.launched"
	if res.Outcome == OutcomeRestarted {
		action = "sweep.restarted"
	}
	s.metrics.Request(string(res.Outcome))
	s.audit(ctx, info, action, id, payload)
	s.logger.Info(res.Message, "sweep_id", id, "restart_count", restartCount, "actor", info.Actor)
	return res, nil
}

func (s *Sweeper) applyUpload(sw *sweep.Sweep, codeURL string, uploadErr error) {
	if uploadErr != nil {
		sw.MarkFailed("code upload: " + uploadErr.Error())
		return
	}
	sw.SetCodeURL(codeURL)
}

func (s *Sweeper) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creating, id)
}

// Tick advances every sweep in sweep id order, then forwards the trial
// records that became terminal to the store.
func (s *Sweeper) Tick(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	ids := s.sortedIDs()
	phases := map[string]int{}
	var finished []domain.TrialRecord
	for _, id := range ids {
		sw := s.sweeps[id]
		sw.Tick(ctx)
		records := sw.DrainTerminal()
		finished = append(finished, records...)

		st := sw.Status()
		phases[st.Phase()]++
		s.metrics.SetTrials(id, map[string]int{
			string(domain.TrialStatePending):   st.Pending,
			string(domain.TrialStateRunning):   st.Running,
			string(domain.TrialStateSucceeded): st.Succeeded,
			string(domain.TrialStatePruned):    st.Pruned,
			string(domain.TrialStateFailed):    st.Failed,
		})
	}
	s.pending = append(s.pending, finished...)
	s.mu.Unlock()

	for _, rec := range finished {
		s.metrics.TrialFinished(string(rec.State))
	}
	s.metrics.SetPhases(phases)
	s.Flush(ctx)
	s.metrics.ObserveTick(time.Since(start))
}

// Flush forwards queued trial records. Records that fail to persist stay queued,
// in order, for the next call.
func (s *Sweeper) Flush(ctx context.Context) {
	s.forwardMu.Lock()
	defer s.forwardMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.store == nil {
		s.metrics.SetPending(0)
		return
	}

	for i, rec := range batch {
		_, inserted, err := s.store.InsertTrial(ctx, rec)
		if err != nil {
			s.metrics.StoreError()
			if ctx.Err() == nil {
				s.logger.Warn("persist trial record failed", "sweep_id", rec.SweepID, "trial_id", rec.TrialID, "error", err)
			}
			s.mu.Lock()
			s.pending = append(append([]domain.TrialRecord{}, batch[i:]...), s.pending...)
			n := len(s.pending)
			s.mu.Unlock()
			s.metrics.SetPending(n)
			return
		}
		if !inserted {
			s.logger.Debug("trial record already stored", "sweep_id", rec.SweepID, "generation", rec.Generation, "trial_id", rec.TrialID)
		}
	}

	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	s.metrics.SetPending(n)
}

// Pending returns the number of records waiting to be persisted.
func (s *Sweeper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Sweeper) Status(id string) (sweep.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.sweeps[strings.TrimSpace(id)]
	if !ok {
		return sweep.Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sw.Status(), nil
}

// Sweeps lists the status of every sweep ordered by sweep id.
func (s *Sweeper) Sweeps() []sweep.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sweep.Status, 0, len(s.sweeps))
	for _, id := range s.sortedIDs() {
		out = append(out, s.sweeps[id].Status())
	}
	return out
}

// Records reads persisted trial records. A filter naming a live sweep without
// a generation reads the live generation only; a removed sweep id reads every
// generation it ever had.
func (s *Sweeper) Records(ctx context.Context, filter repo.TrialFilter) ([]domain.TrialRecord, error) {
	if s.store == nil {
		return nil, errors.New("trial store not configured")
	}
	filter.SweepID = strings.TrimSpace(filter.SweepID)
	if filter.SweepID != "" && strings.TrimSpace(filter.Generation) == "" {
		s.mu.Lock()
		if sw, ok := s.sweeps[filter.SweepID]; ok {
			filter.Generation = sw.Generation()
		}
		s.mu.Unlock()
	}
	return s.store.ListTrials(ctx, filter)
}

// Remove forgets a failed or completed sweep and deletes its code.
func (s *Sweeper) Remove(ctx context.Context, info AuditInfo, id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	sw, ok := s.sweeps[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.creating[id] || (!sw.HasFailed() && !sw.Completed()) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSweepActive, id)
	}
	sw.Shutdown()
	records := sw.DrainTerminal()
	s.pending = append(s.pending, records...)
	delete(s.sweeps, id)
	s.mu.Unlock()

	s.metrics.ForgetSweep(id)
	if err := s.drive.Remove(ctx, id); err != nil {
		s.logger.Warn("remove sweep code failed", "sweep_id", id, "error", err)
	}
	s.audit(ctx, info, "sweep.removed", id, map[string]any{})
	s.logger.Info("sweep removed", "sweep_id", id)
	return nil
}

// Shutdown stops the live trials of every sweep.
func (s *Sweeper) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sortedIDs() {
		s.sweeps[id].Shutdown()
	}
}

// Run ticks every interval until ctx is done, then flushes what is queued.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Sweeper) sortedIDs() []string {
	ids := make([]string, 0, len(s.sweeps))
	for id := range s.sweeps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sweeper) audit(ctx context.Context, info AuditInfo, action, id string, payload map[string]any) {
	if s.auditor == nil {
		return
	}
	actor := strings.TrimSpace(info.Actor)
	if actor == "" {
		actor = "system"
	}
	if info.Service != "" {
		payload["service"] = info.Service
	}
	_, err := s.auditor.Write(ctx, auditlog.Event{
		OccurredAt:   s.now(),
		Actor:        actor,
		Action:       action,
		ResourceType: "sweep",
		ResourceID:   id,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload:      payload,
	})
	if err != nil {
		s.logger.Warn("audit write failed", "sweep_id", id, "action", action, "error", err)
	}
}
