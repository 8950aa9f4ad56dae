package coord

import (
	"context"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// CancelManager reads and writes the per-task cancellation flag. The
// pipeline polls it at phase checkpoints; the intake cancel handler
// writes it.
type CancelManager struct {
	store  core.CoordinationStore
	logger *logging.Logger
}

// NewCancelManager creates a cancel manager over the store.
func NewCancelManager(store core.CoordinationStore, logger *logging.Logger) *CancelManager {
	return &CancelManager{store: store, logger: logger}
}

// IsCancelled reports whether the flag is set. Any failure reads as
// "not cancelled": the task continues and the user can click again.
func (m *CancelManager) IsCancelled(ctx context.Context, taskID string) bool {
	c, err := m.store.Cancellation(ctx, taskID)
	if err != nil {
		m.logger.Warn("cancellation check failed, continuing",
			"task_id", taskID, "error", err)
		return false
	}
	return c != nil
}

// Info returns who asked for the cancellation, or nil when the flag is
// not set.
func (m *CancelManager) Info(ctx context.Context, taskID string) (*core.Cancellation, error) {
	return m.store.Cancellation(ctx, taskID)
}

// Clear removes the flag. Idempotent.
func (m *CancelManager) Clear(ctx context.Context, taskID string) error {
	return m.store.ClearCancellation(ctx, taskID)
}

// Signal sets the flag on behalf of a user. The stamp comes from the
// store clock so checkpoint ordering does not depend on worker clock
// skew; local time is good enough when the store clock read fails but
// the write path still works.
func (m *CancelManager) Signal(ctx context.Context, taskID, by, byID string) error {
	ts, err := m.store.ServerTime(ctx)
	if err != nil {
		ts = time.Now()
	}
	return m.store.SetCancellation(ctx, taskID, core.Cancellation{
		CancelledBy:   by,
		CancelledByID: byID,
		Timestamp:     ts.Unix(),
	})
}
