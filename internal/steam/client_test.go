package steam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dotabank/dotabank/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.SteamConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func TestGetMatchDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, matchDetailsPath, r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"match_id":999000111,"match_seq_num":5,"radiant_win":true,
			"duration":2400,"start_time":1400000000,"human_players":2,"leagueid":600,"game_mode":2,
			"players":[{"account_id":4294967295,"player_slot":0,"hero_id":1},{"player_slot":128,"hero_id":2}]}}`))
	})

	details, err := c.GetMatchDetails(context.Background(), 999000111)
	require.NoError(t, err)
	assert.Equal(t, int64(999000111), details.MatchID)

	md := details.Metadata()
	assert.Equal(t, 2, md.HumanPlayers)
	assert.Equal(t, 600, md.LeagueID)
	require.NotNil(t, md.StartTime)
	assert.Equal(t, int64(1400000000), md.StartTime.Unix())

	roster := details.Roster(999000111)
	require.Len(t, roster, 2)
	assert.False(t, roster[0].IsBot())
	assert.True(t, details.Players[0].IsAnonymous())
	assert.True(t, roster[1].IsBot())
}

func TestGetMatchDetailsErrorMarker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"error":"Match ID not found"}}`))
	})

	_, err := c.GetMatchDetails(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestGetMatchDetailsWrongID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"match_id":2}}`))
	})

	_, err := c.GetMatchDetails(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMatchMismatch)
}

func TestGetMatchDetailsServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.GetMatchDetails(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetMatchHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "600", r.URL.Query().Get("league_id"))
		assert.Equal(t, "41", r.URL.Query().Get("start_at_match_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"status":1,"num_results":2,"results_remaining":0,
			"matches":[{"match_id":41},{"match_id":40}]}}`))
	})

	page, err := c.GetMatchHistory(context.Background(), HistoryQuery{LeagueID: 600, StartAtMatchID: 41})
	require.NoError(t, err)
	assert.Len(t, page.Matches, 2)
	assert.Zero(t, page.ResultsRemaining)
}

func TestGetHeroes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"heroes":[{"id":1,"name":"npc_dota_hero_antimage","localized_name":"Anti-Mage"}]}}`))
	})

	heroes, err := c.GetHeroes(context.Background())
	require.NoError(t, err)
	require.Len(t, heroes, 1)
	assert.Equal(t, "Anti-Mage", heroes[0].LocalizedName)
}
