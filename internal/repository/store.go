package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories over one database handle. A Store obtained
// inside Transaction is bound to that transaction.
type Store struct {
	db *gorm.DB

	Replays     *ReplayRepository
	Players     *PlayerRepository
	Workers     *WorkerRepository
	Jobs        *JobRepository
	FixAttempts *FixAttemptRepository
}

// NewStore creates a Store bound to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		Replays:     NewReplayRepository(db),
		Players:     NewPlayerRepository(db),
		Workers:     NewWorkerRepository(db),
		Jobs:        NewJobRepository(db),
		FixAttempts: NewFixAttemptRepository(db),
	}
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a transaction-bound Store. Returning an error
// from fn rolls back every write made through tx.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fn: unit of work.
// Returns:
//   - error: fn's error, or the commit error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
