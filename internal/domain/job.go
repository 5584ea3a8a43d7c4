package domain

import "time"

// JobType classifies a unit of work handed to the worker fleet.
type JobType string

const (
	JobMatchRequest    JobType = "MATCH_REQUEST"
	JobProfileRequest  JobType = "PROFILE_REQUEST"
	JobDownloadRequest JobType = "DOWNLOAD_REQUEST"
	JobUnknown         JobType = "UNKNOWN"
)

// ParseJobType maps free-form input onto a known type, defaulting to JobUnknown.
func ParseJobType(s string) JobType {
	switch JobType(s) {
	case JobMatchRequest, JobProfileRequest, JobDownloadRequest:
		return JobType(s)
	}
	return JobUnknown
}

// Job is an append-only log row. Rows without a worker record a dispatch;
// rows owned by a worker record a report and feed rate accounting.
type Job struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	WorkerID  *uint     `gorm:"index:idx_gc_jobs_worker_type_ts,priority:1" json:"worker_id,omitempty"`
	Type      JobType   `gorm:"type:varchar(32);not null;default:UNKNOWN;index:idx_gc_jobs_worker_type_ts,priority:2" json:"type"`
	ReplayID  *int64    `gorm:"index" json:"replay_id,omitempty"`
	Timestamp time.Time `gorm:"not null;index:idx_gc_jobs_worker_type_ts,priority:3" json:"timestamp"`
}

func (Job) TableName() string {
	return "gc_jobs"
}
