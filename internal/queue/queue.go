// Package queue carries replay work to the external worker fleet.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
)

// ErrEmpty is returned by Pop when no message arrived before the wait expired.
var ErrEmpty = errors.New("queue empty")

// Message is the body workers receive. Delivery is at least once and unordered:
// a popped message stays leased until it is acked, and an expired lease puts
// it back on the queue. Workers must treat a message for an already advanced
// replay as a no-op.
type Message struct {
	ReplayID   int64          `json:"replay_id"`
	Type       domain.JobType `json:"type"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Queue is one logical work queue.
type Queue interface {
	Name() string
	Push(ctx context.Context, msg Message) error
	// Pop blocks up to wait for a message and returns ErrEmpty on timeout.
	// The message is leased to the caller until Ack or until the lease expires.
	Pop(ctx context.Context, wait time.Duration) (Message, error)
	// Ack releases the lease held for replayID. Acking an unleased id is a no-op.
	Ack(ctx context.Context, replayID int64) error
	// Reclaim requeues messages whose lease expired and returns how many.
	Reclaim(ctx context.Context) (int, error)
	Len(ctx context.Context) (int64, error)
	// Leased counts messages currently out on a lease.
	Leased(ctx context.Context) (int64, error)
}

// Set routes job types to their queue.
type Set struct {
	Metadata Queue
	Download Queue
}

// For returns the queue that carries jobType.
func (s Set) For(jobType domain.JobType) (Queue, bool) {
	switch jobType {
	case domain.JobMatchRequest:
		return s.Metadata, s.Metadata != nil
	case domain.JobDownloadRequest:
		return s.Download, s.Download != nil
	}
	return nil, false
}

// ByName finds a queue by its public name ("metadata" or "download").
func (s Set) ByName(name string) (Queue, domain.JobType, bool) {
	switch name {
	case "metadata", "gc":
		return s.Metadata, domain.JobMatchRequest, s.Metadata != nil
	case "download", "dl":
		return s.Download, domain.JobDownloadRequest, s.Download != nil
	}
	return nil, "", false
}
