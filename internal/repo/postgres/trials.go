package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/repo"
)

// DB is the subset of *sql.DB the store needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TrialStore keeps terminal trial records in sweep_trials, one row per
// (sweep_id, generation, trial_id).
type TrialStore struct {
	db DB
}

const (
	trialColumns = `record_id, sweep_id, generation, trial_id, state, succeeded, params, monitor, reports, best_model_score, score, restart_count, message, started_at, ended_at`

	createTrialsTableQuery = `CREATE TABLE IF NOT EXISTS sweep_trials (
		record_id UUID PRIMARY KEY,
		sweep_id TEXT NOT NULL,
		generation TEXT NOT NULL DEFAULT '',
		trial_id INTEGER NOT NULL,
		state TEXT NOT NULL,
		succeeded BOOLEAN NOT NULL,
		params JSONB NOT NULL,
		monitor TEXT,
		reports JSONB NOT NULL,
		best_model_score DOUBLE PRECISION,
		score DOUBLE PRECISION,
		restart_count INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ NOT NULL,
		UNIQUE (sweep_id, generation, trial_id)
	)`

	insertTrialQuery = `INSERT INTO sweep_trials (` + trialColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (sweep_id, generation, trial_id) DO NOTHING
	RETURNING ` + trialColumns

	selectTrialQuery = `SELECT ` + trialColumns + `
	 FROM sweep_trials
	 WHERE sweep_id = $1 AND generation = $2 AND trial_id = $3`
)

func NewTrialStore(db DB) *TrialStore {
	if db == nil {
		return nil
	}
	return &TrialStore{db: db}
}

// EnsureSchema creates the sweep_trials table when it does not exist.
func (s *TrialStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("trial store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, createTrialsTableQuery); err != nil {
		return fmt.Errorf("create sweep_trials: %w", err)
	}
	return nil
}

func (s *TrialStore) InsertTrial(ctx context.Context, record domain.TrialRecord) (domain.TrialRecord, bool, error) {
	if s == nil || s.db == nil {
		return domain.TrialRecord{}, false, fmt.Errorf("trial store not initialized")
	}
	record.SweepID = strings.TrimSpace(record.SweepID)
	record.Generation = strings.TrimSpace(record.Generation)
	if err := record.Validate(); err != nil {
		return domain.TrialRecord{}, false, err
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}

	paramsJSON, err := encodeParams(record.Params)
	if err != nil {
		return domain.TrialRecord{}, false, fmt.Errorf("encode params: %w", err)
	}
	reports := record.Reports
	if reports == nil {
		reports = []domain.Report{}
	}
	reportsJSON, err := json.Marshal(reports)
	if err != nil {
		return domain.TrialRecord{}, false, fmt.Errorf("encode reports: %w", err)
	}

	var startedAt sql.NullTime
	if !record.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: record.StartedAt.UTC(), Valid: true}
	}
	endedAt := record.EndedAt.UTC()
	if record.EndedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(
		ctx,
		insertTrialQuery,
		record.ID,
		record.SweepID,
		record.Generation,
		record.TrialID,
		string(record.State),
		record.Succeeded,
		paramsJSON,
		nullString(record.Monitor),
		reportsJSON,
		nullFloat(record.BestModelScore),
		nullFloat(record.Score),
		record.RestartCount,
		nullString(record.Message),
		startedAt,
		endedAt,
	)
	inserted, err := scanTrial(row)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			existing, getErr := s.GetTrial(ctx, record.SweepID, record.Generation, record.TrialID)
			if getErr != nil {
				return domain.TrialRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return domain.TrialRecord{}, false, fmt.Errorf("insert trial: %w", err)
	}
	return inserted, true, nil
}

func (s *TrialStore) GetTrial(ctx context.Context, sweepID, generation string, trialID int) (domain.TrialRecord, error) {
	if s == nil || s.db == nil {
		return domain.TrialRecord{}, fmt.Errorf("trial store not initialized")
	}
	sweepID = strings.TrimSpace(sweepID)
	if sweepID == "" {
		return domain.TrialRecord{}, fmt.Errorf("sweep id is required")
	}
	return scanTrial(s.db.QueryRowContext(ctx, selectTrialQuery, sweepID, strings.TrimSpace(generation), trialID))
}

func (s *TrialStore) ListTrials(ctx context.Context, filter repo.TrialFilter) ([]domain.TrialRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("trial store not initialized")
	}
	query, args := listTrialsQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TrialRecord, 0)
	for rows.Next() {
		record, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	return records, nil
}

func listTrialsQuery(filter repo.TrialFilter) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if v := strings.TrimSpace(filter.SweepID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("sweep_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.Generation); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("generation = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + trialColumns + ` FROM sweep_trials`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY sweep_id ASC, trial_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

type trialScanner interface {
	Scan(dest ...any) error
}

func scanTrial(scanner trialScanner) (domain.TrialRecord, error) {
	var record domain.TrialRecord
	var state string
	var paramsJSON []byte
	var reportsJSON []byte
	var monitor sql.NullString
	var message sql.NullString
	var bestModelScore sql.NullFloat64
	var score sql.NullFloat64
	var startedAt sql.NullTime
	var endedAt time.Time
	if err := scanner.Scan(
		&record.ID,
		&record.SweepID,
		&record.Generation,
		&record.TrialID,
		&state,
		&record.Succeeded,
		&paramsJSON,
		&monitor,
		&reportsJSON,
		&bestModelScore,
		&score,
		&record.RestartCount,
		&message,
		&startedAt,
		&endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TrialRecord{}, repo.ErrNotFound
		}
		return domain.TrialRecord{}, err
	}
	record.State = domain.TrialState(state)
	record.Monitor = strings.TrimSpace(monitor.String)
	record.Message = strings.TrimSpace(message.String)
	if bestModelScore.Valid {
		v := bestModelScore.Float64
		record.BestModelScore = &v
	}
	if score.Valid {
		v := score.Float64
		record.Score = &v
	}
	if startedAt.Valid {
		record.StartedAt = startedAt.Time.UTC()
	}
	record.EndedAt = endedAt.UTC()

	params, err := decodeParams(paramsJSON)
	if err != nil {
		return domain.TrialRecord{}, fmt.Errorf("decode params: %w", err)
	}
	record.Params = params
	record.Reports = []domain.Report{}
	if len(reportsJSON) > 0 {
		if err := json.Unmarshal(reportsJSON, &record.Reports); err != nil {
			return domain.TrialRecord{}, fmt.Errorf("decode reports: %w", err)
		}
	}
	return record, nil
}

func encodeParams(params domain.Params) ([]byte, error) {
	if params == nil {
		params = domain.Params{}
	}
	return json.Marshal(params)
}

func decodeParams(raw []byte) (domain.Params, error) {
	if len(raw) == 0 {
		return domain.Params{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Params(out), nil
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
