package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// CheckKind names a reconciliation check; it is also the error kind recorded on fix attempts.
type CheckKind string

const (
	CheckPlayerCountMismatch CheckKind = "PLAYER_COUNT_MISMATCH"
	CheckSmallReplay         CheckKind = "SMALL_REPLAY"
	CheckMissingFile         CheckKind = "MISSING_S3_FILE"
	CheckStuckDownload       CheckKind = "STUCK_WAITING_DOWNLOAD"
	CheckGCErrorRetry        CheckKind = "GC_ERROR_RETRY"
	CheckDownloadErrorRetry  CheckKind = "DOWNLOAD_ERROR_RETRY"
	CheckStaleMetadata       CheckKind = "STALE_WAITING_GC"
	CheckStaleDownload       CheckKind = "STALE_DOWNLOAD_IN_PROGRESS"
)

// AllChecks is the order RunAll executes checks in.
var AllChecks = []CheckKind{
	CheckPlayerCountMismatch,
	CheckSmallReplay,
	CheckMissingFile,
	CheckStuckDownload,
	CheckGCErrorRetry,
	CheckDownloadErrorRetry,
	CheckStaleMetadata,
	CheckStaleDownload,
}

// ParseCheckKind returns the matching kind and whether it is known.
func ParseCheckKind(s string) (CheckKind, bool) {
	for _, k := range AllChecks {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Extra is free-form diagnostic context stored as JSON text.
type Extra map[string]interface{}

// Value implements driver.Valuer.
func (e Extra) Value() (driver.Value, error) {
	if e == nil {
		return "{}", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (e *Extra) Scan(value interface{}) error {
	if value == nil {
		*e = Extra{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan Extra")
	}
	return json.Unmarshal(raw, e)
}

// FixAttempt records one automatic recovery action for a replay and check kind.
// Rows are append-only; their count per (replay, kind) bounds retries.
type FixAttempt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ReplayID  int64     `gorm:"not null;index:idx_autofix_replay_error,priority:1" json:"replay_id"`
	Error     CheckKind `gorm:"type:varchar(64);not null;index:idx_autofix_replay_error,priority:2" json:"error"`
	Extra     Extra     `gorm:"type:text" json:"extra,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (FixAttempt) TableName() string {
	return "replay_autofix"
}
