package repository

import (
	"context"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"gorm.io/gorm"
)

// JobRepository appends to and counts the job log. Rows are never updated.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Append writes one job log row; a zero Timestamp means now.
func (r *JobRepository) Append(ctx context.Context, job *domain.Job) error {
	if job.Timestamp.IsZero() {
		job.Timestamp = time.Now().UTC()
	}
	if job.Type == "" {
		job.Type = domain.JobUnknown
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// CountForWorker counts jobs of jobType owned by workerID at or after since.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - workerID: owning worker.
//   - jobType: job type to count.
//   - since: start of the trailing window.
// Returns:
//   - int64: matching row count.
//   - error: non-nil if the query fails.
func (r *JobRepository) CountForWorker(ctx context.Context, workerID uint, jobType domain.JobType, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("worker_id = ? AND type = ? AND timestamp >= ?", workerID, jobType, since).
		Count(&count).Error
	return count, err
}

// CountPerWorker counts owned jobs of jobType since the cutoff, grouped by worker.
func (r *JobRepository) CountPerWorker(ctx context.Context, jobType domain.JobType, since time.Time) (map[uint]int64, error) {
	var rows []struct {
		WorkerID uint
		Count    int64
	}
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Select("worker_id, COUNT(*) AS count").
		Where("worker_id IS NOT NULL AND type = ? AND timestamp >= ?", jobType, since).
		Group("worker_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int64, len(rows))
	for _, row := range rows {
		out[row.WorkerID] = row.Count
	}
	return out, nil
}

// ListForReplay returns the job history of one replay, oldest first.
func (r *JobRepository) ListForReplay(ctx context.Context, replayID int64) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("replay_id = ?", replayID).
		Order("timestamp ASC, id ASC").
		Find(&jobs).Error
	return jobs, err
}
