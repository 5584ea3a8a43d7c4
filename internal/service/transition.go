package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/repository"
	"gorm.io/gorm"
)

// Patch carries the column changes that travel with a transition.
// Nil fields are left alone.
type Patch struct {
	ReplayState *domain.FileState
	LocalURI    *string
	GCDoneTime  *time.Time
	DLDoneTime  *time.Time

	// FailedGC and FailedDL increment the matching consecutive-failure counter.
	FailedGC bool
	FailedDL bool
}

// Apply moves a replay to state to with a conditional update on (id, state, version).
// Pass a transaction-bound store to combine it with other writes.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - store: store (or transaction) to write through.
//   - replayID: replay to move.
//   - to: target state.
//   - patch: columns updated in the same statement.
// Waiting states carry a queued job and are refused here; use the Dispatcher.
// Returns:
//   - *domain.Replay: the replay after the update.
//   - error: repository.ErrReplayNotFound, ErrIllegalTransition, ErrDispatchRequired, ErrInvariant or ErrTransitionConflict.
func Apply(ctx context.Context, store *repository.Store, replayID int64, to domain.ReplayStatus, patch Patch) (*domain.Replay, error) {
	if jobType, ok := domain.EntryJob(to); ok {
		return nil, fmt.Errorf("%w: replay %d -> %s needs a %s job", ErrDispatchRequired, replayID, to, jobType)
	}
	current, err := store.Replays.Get(ctx, replayID)
	if err != nil {
		return nil, err
	}
	return transition(ctx, store, current, to, patch)
}

// transition applies to against an already loaded row.
func transition(ctx context.Context, store *repository.Store, current *domain.Replay, to domain.ReplayStatus, patch Patch) (*domain.Replay, error) {
	if !domain.CanTransition(current.State, to) {
		return nil, fmt.Errorf("%w: replay %d %s -> %s (allowed: %v)",
			ErrIllegalTransition, current.ID, current.State, to, domain.NextStates(current.State))
	}

	updates, err := buildUpdates(current, to, patch)
	if err != nil {
		return nil, err
	}

	ok, err := store.Replays.CompareAndSwap(ctx, current.ID, current.State, current.Version, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: replay %d left %s (version %d)", ErrTransitionConflict, current.ID, current.State, current.Version)
	}
	return store.Replays.Get(ctx, current.ID)
}

func buildUpdates(current *domain.Replay, to domain.ReplayStatus, patch Patch) (map[string]interface{}, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{"state": to, "state_changed_at": now}

	switch {
	case to == domain.StatusArchived:
		if patch.LocalURI == nil || *patch.LocalURI == "" {
			return nil, fmt.Errorf("%w: replay %d cannot be ARCHIVED without local_uri", ErrInvariant, current.ID)
		}
		updates["local_uri"] = *patch.LocalURI
		done := now
		if patch.DLDoneTime != nil {
			done = *patch.DLDoneTime
		}
		updates["dl_done_time"] = done
	case patch.LocalURI != nil:
		return nil, fmt.Errorf("%w: replay %d cannot carry local_uri in %s", ErrInvariant, current.ID, to)
	case current.State == domain.StatusArchived:
		updates["local_uri"] = nil
		updates["dl_done_time"] = nil
	}

	switch to {
	case domain.StatusWaitingGC:
		updates["gc_fails"] = 0
	case domain.StatusWaitingDownload:
		updates["dl_fails"] = 0
	}
	if patch.FailedGC {
		updates["gc_fails"] = gorm.Expr("gc_fails + 1")
	}
	if patch.FailedDL {
		updates["dl_fails"] = gorm.Expr("dl_fails + 1")
	}

	if patch.ReplayState != nil {
		if !patch.ReplayState.Valid() {
			return nil, fmt.Errorf("unknown replay_state %q", *patch.ReplayState)
		}
		updates["replay_state"] = *patch.ReplayState
	}
	if patch.GCDoneTime != nil {
		updates["gc_done_time"] = *patch.GCDoneTime
	}
	if patch.DLDoneTime != nil && to != domain.StatusArchived {
		updates["dl_done_time"] = *patch.DLDoneTime
	}
	return updates, nil
}

func fileState(s domain.FileState) *domain.FileState {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
