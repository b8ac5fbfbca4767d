package repo

import (
	"context"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

type TrialFilter struct {
	SweepID    string
	Generation string
	State      domain.TrialState
	Limit      int
}

// TrialRecordStore persists terminal trial records. InsertTrial is idempotent
// on (sweep_id, generation, trial_id): a second insert of the same key keeps
// the first row and reports inserted=false.
type TrialRecordStore interface {
	InsertTrial(ctx context.Context, record domain.TrialRecord) (domain.TrialRecord, bool, error)
	GetTrial(ctx context.Context, sweepID, generation string, trialID int) (domain.TrialRecord, error)
	ListTrials(ctx context.Context, filter TrialFilter) ([]domain.TrialRecord, error)
}
