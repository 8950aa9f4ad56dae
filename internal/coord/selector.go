package coord

import (
	"context"
	"sync/atomic"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// Selector assigns incoming tasks to the least busy dog. Load is the
// cardinality of the dog's active-task set; ties go to the earlier
// roster position so assignment is deterministic.
type Selector struct {
	roster core.Roster
	store  core.CoordinationStore
	logger *logging.Logger

	// cursor drives the round-robin fallback. Process-local: the
	// fallback only runs when the shared store is unreachable, so a
	// replicated cursor could not be read anyway.
	cursor atomic.Uint64
}

// NewSelector creates a selector over a validated roster.
func NewSelector(roster core.Roster, store core.CoordinationStore, logger *logging.Logger) *Selector {
	return &Selector{roster: roster, store: store, logger: logger}
}

// Select picks the dog for the next task.
func (s *Selector) Select(ctx context.Context) (core.Dog, error) {
	if len(s.roster) == 0 {
		return core.Dog{}, core.ErrValidation(core.CodeNoDogs, "no dogs configured")
	}
	if len(s.roster) == 1 {
		return s.roster[0], nil
	}

	if err := s.store.Ping(ctx); err != nil {
		dog := s.roundRobin()
		s.logger.Warn("store unreachable, selecting round-robin",
			"dog", dog.Name, "error", err)
		return dog, nil
	}

	best := s.roster[0]
	bestLoad := s.load(ctx, best)
	for _, dog := range s.roster[1:] {
		if n := s.load(ctx, dog); n < bestLoad {
			best, bestLoad = dog, n
		}
	}
	s.logger.Debug("selected dog", "dog", best.Name, "load", bestLoad)
	return best, nil
}

// MarkBusy records the assignment in the dog's active-task set.
func (s *Selector) MarkBusy(ctx context.Context, dog, taskID string) error {
	return s.store.AddActiveTask(ctx, dog, taskID)
}

// MarkFree releases the assignment. Freeing a task that is not in the
// set logs a warning and succeeds, so cleanup paths can run twice.
func (s *Selector) MarkFree(ctx context.Context, dog, taskID string) error {
	removed, err := s.store.RemoveActiveTask(ctx, dog, taskID)
	if err != nil {
		return err
	}
	if !removed {
		s.logger.Warn("freed task was not in active set",
			"dog", dog, "task_id", taskID)
	}
	return nil
}

func (s *Selector) load(ctx context.Context, dog core.Dog) int64 {
	n, err := s.store.ActiveTaskCount(ctx, dog.Name)
	if err != nil {
		s.logger.Warn("load read failed, assuming zero", "dog", dog.Name, "error", err)
		return 0
	}
	return n
}

func (s *Selector) roundRobin() core.Dog {
	idx := s.cursor.Add(1) - 1
	return s.roster[idx%uint64(len(s.roster))]
}
