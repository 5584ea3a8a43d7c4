package service

import (
	"errors"
	"fmt"

	"github.com/dotabank/dotabank/internal/domain"
)

var (
	// ErrIllegalTransition means the state graph has no edge between the two states.
	ErrIllegalTransition = errors.New("illegal replay transition")

	// ErrDispatchRequired means the target state must be entered through the
	// Dispatcher, which pairs it with a queued job. It wraps ErrIllegalTransition.
	ErrDispatchRequired = fmt.Errorf("%w: waiting states are entered by dispatch only", ErrIllegalTransition)

	// ErrTransitionConflict means the replay moved on since it was read.
	// A stale worker report gets this and should be dropped.
	ErrTransitionConflict = errors.New("replay state changed concurrently")

	// ErrInvariant means the update would break the local_uri/ARCHIVED pairing.
	ErrInvariant = errors.New("replay invariant violated")

	// ErrArchiveMissing means a download was reported but no object is stored.
	ErrArchiveMissing = errors.New("reported archive not found in object storage")

	ErrPersist    = errors.New("failed to persist job")
	ErrQueueWrite = errors.New("failed to write job to queue")
)

// EnqueueStage says which half of a dispatch failed.
type EnqueueStage string

const (
	StagePersist EnqueueStage = "persist"
	StageQueue   EnqueueStage = "queue"
)

// EnqueueError is returned by every Dispatcher operation. The replay keeps
// the state it had before the call.
type EnqueueError struct {
	ReplayID int64
	JobType  domain.JobType
	Stage    EnqueueStage
	Err      error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue %s for replay %d failed at %s: %v", e.JobType, e.ReplayID, e.Stage, e.Err)
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrPersist and ErrQueueWrite by stage.
func (e *EnqueueError) Is(target error) bool {
	switch target {
	case ErrPersist:
		return e.Stage == StagePersist
	case ErrQueueWrite:
		return e.Stage == StageQueue
	}
	return false
}
