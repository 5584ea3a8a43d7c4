package steam

import (
	"time"

	"github.com/dotabank/dotabank/internal/domain"
)

// anonymousAccountID is reported for human players hiding their profile.
const anonymousAccountID = 4294967295

// MatchDetails is the GetMatchDetails result.
type MatchDetails struct {
	MatchID               int64    `json:"match_id"`
	MatchSeqNum           int64    `json:"match_seq_num"`
	RadiantWin            *bool    `json:"radiant_win"`
	Duration              int      `json:"duration"`
	StartTime             int64    `json:"start_time"`
	TowerStatusRadiant    int      `json:"tower_status_radiant"`
	TowerStatusDire       int      `json:"tower_status_dire"`
	BarracksStatusRadiant int      `json:"barracks_status_radiant"`
	BarracksStatusDire    int      `json:"barracks_status_dire"`
	Cluster               int      `json:"cluster"`
	FirstBloodTime        int      `json:"first_blood_time"`
	LobbyType             int      `json:"lobby_type"`
	HumanPlayers          int      `json:"human_players"`
	LeagueID              int      `json:"leagueid"`
	GameMode              int      `json:"game_mode"`
	Players               []Player `json:"players"`

	// Error is set instead of the fields above when the match is unknown.
	Error string `json:"error,omitempty"`
}

// Player is one roster entry. Bots carry no account id.
type Player struct {
	AccountID  *int64 `json:"account_id"`
	PlayerSlot int    `json:"player_slot"`
	HeroID     int    `json:"hero_id"`
	Kills      int    `json:"kills"`
	Deaths     int    `json:"deaths"`
	Assists    int    `json:"assists"`
	Level      int    `json:"level"`
}

// Metadata converts the payload into the denormalized replay columns.
func (m *MatchDetails) Metadata() domain.MatchMetadata {
	md := domain.MatchMetadata{
		MatchSeqNum:           m.MatchSeqNum,
		Duration:              m.Duration,
		RadiantWin:            m.RadiantWin,
		GameMode:              m.GameMode,
		LobbyType:             m.LobbyType,
		LeagueID:              m.LeagueID,
		HumanPlayers:          m.HumanPlayers,
		FirstBloodTime:        m.FirstBloodTime,
		Cluster:               m.Cluster,
		TowerStatusRadiant:    m.TowerStatusRadiant,
		TowerStatusDire:       m.TowerStatusDire,
		BarracksStatusRadiant: m.BarracksStatusRadiant,
		BarracksStatusDire:    m.BarracksStatusDire,
	}
	if m.StartTime > 0 {
		start := time.Unix(m.StartTime, 0).UTC()
		md.StartTime = &start
	}
	return md
}

// Roster converts players into roster rows for replayID.
func (m *MatchDetails) Roster(replayID int64) []domain.ReplayPlayer {
	out := make([]domain.ReplayPlayer, 0, len(m.Players))
	for _, p := range m.Players {
		out = append(out, domain.ReplayPlayer{
			ReplayID:   replayID,
			AccountID:  p.AccountID,
			PlayerSlot: p.PlayerSlot,
			HeroID:     p.HeroID,
			Kills:      p.Kills,
			Deaths:     p.Deaths,
			Assists:    p.Assists,
			Level:      p.Level,
		})
	}
	return out
}

// IsAnonymous reports whether the player is human but hides their account.
func (p Player) IsAnonymous() bool {
	return p.AccountID != nil && *p.AccountID == anonymousAccountID
}

// HistoryQuery filters GetMatchHistory. Zero fields are omitted.
type HistoryQuery struct {
	LeagueID       int
	AccountID      int64
	StartAtMatchID int64
	DateMin        time.Time
	MatchesMax     int
}

// MatchHistory is one page of GetMatchHistory.
type MatchHistory struct {
	Status           int            `json:"status"`
	StatusDetail     string         `json:"statusDetail,omitempty"`
	NumResults       int            `json:"num_results"`
	TotalResults     int            `json:"total_results"`
	ResultsRemaining int            `json:"results_remaining"`
	Matches          []MatchSummary `json:"matches"`
}

type MatchSummary struct {
	MatchID     int64 `json:"match_id"`
	MatchSeqNum int64 `json:"match_seq_num"`
	StartTime   int64 `json:"start_time"`
	LobbyType   int   `json:"lobby_type"`
}

// Hero is one entry of the hero reference list.
type Hero struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	LocalizedName string `json:"localized_name"`
}
