package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/platform/auth"
	"github.com/animus-labs/animus-hpo/internal/repo"
	"github.com/animus-labs/animus-hpo/internal/runtimeexec"
	"github.com/animus-labs/animus-hpo/internal/sweep"
	"github.com/animus-labs/animus-hpo/internal/sweeper"
)

const maxBodyBytes = 1 << 20

// sweepService is the part of the sweeper the API drives.
type sweepService interface {
	CreateSweep(ctx context.Context, info sweeper.AuditInfo, cfg domain.SweepConfig) (sweeper.Result, error)
	Status(id string) (sweep.Status, error)
	Sweeps() []sweep.Status
	Records(ctx context.Context, filter repo.TrialFilter) ([]domain.TrialRecord, error)
	Remove(ctx context.Context, info sweeper.AuditInfo, id string) error
}

type sweepsAPI struct {
	logger   *slog.Logger
	service  string
	sweeps   sweepService
	reporter runtimeexec.Reporter
}

func newSweepsAPI(logger *slog.Logger, sweeps sweepService, reporter runtimeexec.Reporter) *sweepsAPI {
	return &sweepsAPI{logger: logger, service: "sweeps", sweeps: sweeps, reporter: reporter}
}

func (api *sweepsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /sweeps", api.handleListSweeps)
	mux.HandleFunc("POST /sweeps", api.handleCreateSweep)
	mux.HandleFunc("GET /sweeps/{sweep_id}", api.handleGetSweep)
	mux.HandleFunc("DELETE /sweeps/{sweep_id}", api.handleDeleteSweep)
	mux.HandleFunc("GET /sweeps/{sweep_id}/trials", api.handleListTrials)
	mux.HandleFunc("POST /sweeps/{sweep_id}/trials/{trial_id}/reports", api.handlePostReports)
}

func (api *sweepsAPI) handleCreateSweep(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body", "")
		return
	}
	if len(body) > maxBodyBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "")
		return
	}
	cfg, err := domain.DecodeSweepConfig(body)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if strings.TrimSpace(cfg.User) == "" {
		cfg.User = identity.Subject
	}

	res, err := api.sweeps.CreateSweep(r.Context(), api.auditInfo(r), cfg)
	if err != nil {
		if isConfigError(err) {
			api.writeError(w, r, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}
		api.logger.Error("create sweep failed", "sweep_id", cfg.SweepID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", "")
		return
	}

	status := http.StatusCreated
	switch res.Outcome {
	case sweeper.OutcomeRestarted:
		status = http.StatusOK
	case sweeper.OutcomeRejected:
		status = http.StatusConflict
	}
	api.writeJSON(w, status, res)
}

func (api *sweepsAPI) handleListSweeps(w http.ResponseWriter, r *http.Request) {
	statuses := api.sweeps.Sweeps()
	out := make([]sweepSummary, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, summarize(st))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"sweeps": out})
}

type sweepSummary struct {
	SweepID      string   `json:"sweep_id"`
	Phase        string   `json:"phase"`
	Created      int      `json:"created"`
	NumTrials    int      `json:"n_trials"`
	Running      int      `json:"running"`
	RestartCount int      `json:"restart_count"`
	HasFailed    bool     `json:"has_failed"`
	BestScore    *float64 `json:"best_score,omitempty"`
}

func summarize(st sweep.Status) sweepSummary {
	return sweepSummary{
		SweepID:      st.SweepID,
		Phase:        st.Phase(),
		Created:      st.Created,
		NumTrials:    st.NumTrials,
		Running:      st.Running,
		RestartCount: st.RestartCount,
		HasFailed:    st.HasFailed,
		BestScore:    st.BestScore,
	}
}

func (api *sweepsAPI) handleGetSweep(w http.ResponseWriter, r *http.Request) {
	st, err := api.sweeps.Status(r.PathValue("sweep_id"))
	if err != nil {
		api.writeSweepError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, struct {
		Phase string `json:"phase"`
		sweep.Status
	}{Phase: st.Phase(), Status: st})
}

func (api *sweepsAPI) handleDeleteSweep(w http.ResponseWriter, r *http.Request) {
	if err := api.sweeps.Remove(r.Context(), api.auditInfo(r), r.PathValue("sweep_id")); err != nil {
		api.writeSweepError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *sweepsAPI) handleListTrials(w http.ResponseWriter, r *http.Request) {
	filter := repo.TrialFilter{
		SweepID:    r.PathValue("sweep_id"),
		Generation: strings.TrimSpace(r.URL.Query().Get("generation")),
	}
	if v := strings.TrimSpace(r.URL.Query().Get("state")); v != "" {
		state := domain.TrialState(strings.ToLower(v))
		if !state.Terminal() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_state", "")
			return
		}
		filter.State = state
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 1000 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit", "")
			return
		}
		filter.Limit = limit
	}

	records, err := api.sweeps.Records(r.Context(), filter)
	if err != nil {
		api.logger.Error("list trials failed", "sweep_id", filter.SweepID, "error", err)
		api.writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"trials": records})
}

type reportsRequest struct {
	Reports        []domain.Report `json:"reports"`
	BestModelScore *float64        `json:"best_model_score,omitempty"`
}

func (api *sweepsAPI) handlePostReports(w http.ResponseWriter, r *http.Request) {
	sweepID := r.PathValue("sweep_id")
	trialID, err := strconv.Atoi(r.PathValue("trial_id"))
	if err != nil || trialID < 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_trial_id", "")
		return
	}
	if api.reporter == nil {
		api.writeError(w, r, http.StatusNotImplemented, "reports_not_supported", "")
		return
	}

	var req reportsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", "")
		return
	}
	if len(req.Reports) == 0 && req.BestModelScore == nil {
		api.writeError(w, r, http.StatusBadRequest, "reports_required", "")
		return
	}

	if err := api.reporter.Deliver(sweepID, trialID, req.Reports, req.BestModelScore); err != nil {
		switch {
		case errors.Is(err, runtimeexec.ErrUnknownTrial):
			api.writeError(w, r, http.StatusNotFound, "unknown_trial", "")
		case errors.Is(err, runtimeexec.ErrTrialClosed):
			api.writeError(w, r, http.StatusConflict, "trial_closed", "")
		default:
			api.logger.Error("deliver reports failed", "sweep_id", sweepID, "trial_id", trialID, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error", "")
		}
		return
	}
	api.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(req.Reports)})
}

func (api *sweepsAPI) writeSweepError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sweeper.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found", "")
	case errors.Is(err, sweeper.ErrSweepActive):
		api.writeError(w, r, http.StatusConflict, "sweep_active", "")
	default:
		api.logger.Error("sweep request failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

func (api *sweepsAPI) auditInfo(r *http.Request) sweeper.AuditInfo {
	identity, _ := auth.IdentityFromContext(r.Context())
	return sweeper.AuditInfo{
		Actor:     identity.Subject,
		RequestID: r.Header.Get("X-Request-Id"),
		UserAgent: r.UserAgent(),
		IP:        requestIP(r.RemoteAddr),
		Service:   api.service,
	}
}

func isConfigError(err error) bool {
	return errors.Is(err, domain.ErrInvalidConfig) || errors.Is(err, domain.ErrInvalidDistribution)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *sweepsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *sweepsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	body := map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	}
	if detail != "" {
		body["detail"] = detail
	}
	api.writeJSON(w, status, body)
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
