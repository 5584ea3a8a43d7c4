package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReplayStatus is the pipeline state of a replay.
type ReplayStatus string

const (
	StatusWaitingGC          ReplayStatus = "WAITING_GC"
	StatusWaitingDownload    ReplayStatus = "WAITING_DOWNLOAD"
	StatusDownloadInProgress ReplayStatus = "DOWNLOAD_IN_PROGRESS"
	StatusArchived           ReplayStatus = "ARCHIVED"
	StatusGCError            ReplayStatus = "GC_ERROR"
	StatusDownloadError      ReplayStatus = "DOWNLOAD_ERROR"
)

// AllStatuses lists every pipeline state in lifecycle order.
var AllStatuses = []ReplayStatus{
	StatusWaitingGC,
	StatusWaitingDownload,
	StatusDownloadInProgress,
	StatusArchived,
	StatusGCError,
	StatusDownloadError,
}

// Valid reports whether s is a known pipeline state.
func (s ReplayStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// FileState says whether the replay file is known to exist on the game network.
type FileState string

const (
	FileAvailable   FileState = "REPLAY_AVAILABLE"
	FileNotRecorded FileState = "REPLAY_NOT_RECORDED"
	FileExpired     FileState = "REPLAY_EXPIRED"
	FileUnknown     FileState = "UNKNOWN"
)

func (f FileState) Valid() bool {
	switch f {
	case FileAvailable, FileNotRecorded, FileExpired, FileUnknown:
		return true
	}
	return false
}

// Replay is a single match tracked by the acquisition pipeline.
// The ID is the match id assigned by the game network.
type Replay struct {
	ID          int64        `gorm:"primaryKey;autoIncrement:false" json:"id"`
	State       ReplayStatus `gorm:"type:varchar(32);not null;index" json:"state"`
	ReplayState FileState    `gorm:"type:varchar(32);not null" json:"replay_state"`
	GCFails     int          `gorm:"not null" json:"gc_fails"`
	DLFails     int          `gorm:"not null" json:"dl_fails"`
	Version     int64        `gorm:"not null" json:"version"`

	AddedToSiteTime time.Time  `gorm:"not null" json:"added_to_site_time"`
	GCDoneTime      *time.Time `gorm:"index" json:"gc_done_time,omitempty"`
	DLDoneTime      *time.Time `json:"dl_done_time,omitempty"`
	LocalURI        *string    `gorm:"type:text" json:"local_uri,omitempty"`

	// StateChangedAt is when the replay entered its current state.
	StateChangedAt time.Time `gorm:"index" json:"state_changed_at"`

	MatchMetadata `gorm:"embedded"`

	Players []ReplayPlayer `gorm:"foreignKey:ReplayID;constraint:OnDelete:CASCADE" json:"players,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (Replay) TableName() string {
	return "replays"
}

// IsArchived reports whether a durable copy of the file exists.
func (r *Replay) IsArchived() bool {
	return r.LocalURI != nil
}

// CheckInvariant verifies local_uri is set exactly when the replay is ARCHIVED.
func (r *Replay) CheckInvariant() error {
	archived := r.State == StatusArchived
	if archived != r.IsArchived() {
		return fmt.Errorf("replay %d: state %s with local_uri set=%t", r.ID, r.State, r.LocalURI != nil)
	}
	return nil
}

// MatchMetadata is copied from the match-data service once, when the replay is created.
type MatchMetadata struct {
	MatchSeqNum           int64      `json:"match_seq_num"`
	StartTime             *time.Time `json:"start_time,omitempty"`
	Duration              int        `json:"duration"`
	RadiantWin            *bool      `json:"radiant_win,omitempty"`
	GameMode              int        `json:"game_mode"`
	LobbyType             int        `json:"lobby_type"`
	LeagueID              int        `gorm:"index" json:"league_id"`
	HumanPlayers          int        `json:"human_players"`
	FirstBloodTime        int        `json:"first_blood_time"`
	Cluster               int        `json:"cluster"`
	TowerStatusRadiant    int        `json:"tower_status_radiant"`
	TowerStatusDire       int        `json:"tower_status_dire"`
	BarracksStatusRadiant int        `json:"barracks_status_radiant"`
	BarracksStatusDire    int        `json:"barracks_status_dire"`
}

// ReplayPlayer is one roster slot. Bots have no AccountID.
type ReplayPlayer struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ReplayID   int64  `gorm:"not null;index" json:"replay_id"`
	AccountID  *int64 `gorm:"index" json:"account_id,omitempty"`
	PlayerSlot int    `json:"player_slot"`
	HeroID     int    `json:"hero_id"`
	Kills      int    `json:"kills"`
	Deaths     int    `json:"deaths"`
	Assists    int    `json:"assists"`
	Level      int    `json:"level"`
}

func (ReplayPlayer) TableName() string {
	return "replay_players"
}

// IsBot reports whether the slot was filled by a bot.
func (p ReplayPlayer) IsBot() bool {
	return p.AccountID == nil
}

// ReplayKeyPrefix is the object storage prefix shared by every archive.
const ReplayKeyPrefix = "replays/"

const replayKeySuffix = ".dem.bz2"

// ReplayKey is the object storage key holding a replay's archive.
func ReplayKey(id int64) string {
	return fmt.Sprintf("%s%d%s", ReplayKeyPrefix, id, replayKeySuffix)
}

// ParseReplayKey extracts the match id from a key built by ReplayKey.
func ParseReplayKey(key string) (int64, bool) {
	if !strings.HasPrefix(key, ReplayKeyPrefix) || !strings.HasSuffix(key, replayKeySuffix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(key, ReplayKeyPrefix), replayKeySuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
