package drive

import (
	"context"
	"errors"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

// ErrCodeNotFound marks uploads whose script cannot be found under the code
// root. It is a configuration error of the sweep, not of the drive.
var ErrCodeNotFound = errors.New("sweep code not found")

// Drive distributes sweep code to trial workers.
type Drive interface {
	// Upload stores the code of cfg under {sweep_id}/{restart_count}/ and
	// returns a URL workers can fetch it from.
	Upload(ctx context.Context, cfg domain.SweepConfig, restartCount int) (string, error)
	// Remove deletes every object stored for the sweep.
	Remove(ctx context.Context, sweepID string) error
}

// Nop is a Drive for executors that need no code distribution, such as
// in-process objectives.
type Nop struct{}

func (Nop) Upload(ctx context.Context, cfg domain.SweepConfig, restartCount int) (string, error) {
	return "", nil
}

func (Nop) Remove(ctx context.Context, sweepID string) error {
	return nil
}
