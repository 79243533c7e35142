// Package store defines the run ledger: a durable record of agent runs and
// their trace events, kept under the workspace's memory/ directory.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nstogner/contextharness/pkg/domain"
)

// DefaultFile is the ledger's file name under memory/.
const DefaultFile = "runs.db"

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStore persists run records and their trace events.
type RunStore interface {
	// CreateRun persists a new run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, run *domain.RunRecord) error

	// FinishRun records the outcome fields of a run (status, counters,
	// result, error, finished time).
	FinishRun(ctx context.Context, run *domain.RunRecord) error

	// GetRun retrieves a run by ID. Returns ErrNotFound if it does not exist.
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRuns returns runs, most recently started first. If limit > 0, at
	// most limit runs are returned.
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)

	// AppendEvent adds a trace event to the end of a run's event log.
	AppendEvent(ctx context.Context, runID string, event domain.TraceEvent) error

	// ListEvents returns a run's events in the order they were appended.
	ListEvents(ctx context.Context, runID string) ([]domain.TraceEvent, error)
}

// Record appends every event received from events to the run's log until the
// channel is closed or ctx is done. The first append error stops recording.
func Record(ctx context.Context, s RunStore, runID string, events <-chan domain.TraceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.AppendEvent(ctx, runID, e); err != nil {
				return fmt.Errorf("recording %s event: %w", e.Event, err)
			}
		}
	}
}
