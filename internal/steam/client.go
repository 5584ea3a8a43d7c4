// Package steam talks to the game network's public match-data web API.
package steam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dotabank/dotabank/internal/config"
	"github.com/go-resty/resty/v2"
)

var (
	// ErrMatchNotFound means the API answered with an error marker for the id.
	ErrMatchNotFound = errors.New("match not found")

	// ErrMatchMismatch means the API returned a payload for a different match id.
	ErrMatchMismatch = errors.New("match data returned for a different match id")

	// ErrUnavailable wraps transport failures, timeouts and non-200 replies.
	ErrUnavailable = errors.New("match-data service unavailable")
)

const (
	matchDetailsPath = "/IDOTA2Match_570/GetMatchDetails/v1/"
	matchHistoryPath = "/IDOTA2Match_570/GetMatchHistory/v1/"
	heroesPath       = "/IEconDOTA2_570/GetHeroes/v1/"
)

// Client is a resty-backed WebAPI client.
type Client struct {
	client *resty.Client
	apiKey string
}

// NewClient builds a client from config. Every call is bounded by cfg.Timeout.
func NewClient(cfg *config.SteamConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{client: client, apiKey: cfg.APIKey}
}

type envelope[T any] struct {
	Result T `json:"result"`
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetQueryParams(params).
		SetResult(out)

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, resp.StatusCode())
	}
	return nil
}

// GetMatchDetails fetches one match and checks the payload belongs to it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - matchID: match id to look up.
// Returns:
//   - *MatchDetails: verified match payload.
//   - error: ErrMatchNotFound, ErrMatchMismatch or ErrUnavailable.
func (c *Client) GetMatchDetails(ctx context.Context, matchID int64) (*MatchDetails, error) {
	var env envelope[MatchDetails]
	err := c.get(ctx, matchDetailsPath, map[string]string{
		"match_id": strconv.FormatInt(matchID, 10),
	}, &env)
	if err != nil {
		return nil, err
	}

	details := env.Result
	if details.Error != "" {
		return nil, fmt.Errorf("%w: %d: %s", ErrMatchNotFound, matchID, details.Error)
	}
	if details.MatchID != matchID {
		return nil, fmt.Errorf("%w: requested %d, got %d", ErrMatchMismatch, matchID, details.MatchID)
	}
	return &details, nil
}

// GetMatchHistory fetches one page of match history.
func (c *Client) GetMatchHistory(ctx context.Context, q HistoryQuery) (*MatchHistory, error) {
	params := map[string]string{}
	if q.LeagueID > 0 {
		params["league_id"] = strconv.Itoa(q.LeagueID)
	}
	if q.AccountID > 0 {
		params["account_id"] = strconv.FormatInt(q.AccountID, 10)
	}
	if q.StartAtMatchID > 0 {
		params["start_at_match_id"] = strconv.FormatInt(q.StartAtMatchID, 10)
	}
	if !q.DateMin.IsZero() {
		params["date_min"] = strconv.FormatInt(q.DateMin.Unix(), 10)
	}
	if q.MatchesMax > 0 {
		params["matches_requested"] = strconv.Itoa(q.MatchesMax)
	}

	var env envelope[MatchHistory]
	if err := c.get(ctx, matchHistoryPath, params, &env); err != nil {
		return nil, err
	}
	// status 1 is success; anything else carries statusDetail.
	if env.Result.Status != 1 {
		return nil, fmt.Errorf("%w: match history status %d: %s", ErrUnavailable, env.Result.Status, env.Result.StatusDetail)
	}
	return &env.Result, nil
}

// GetHeroes fetches the hero reference list.
func (c *Client) GetHeroes(ctx context.Context) ([]Hero, error) {
	var env envelope[struct {
		Heroes []Hero `json:"heroes"`
	}]
	if err := c.get(ctx, heroesPath, map[string]string{"language": "en_us"}, &env); err != nil {
		return nil, err
	}
	return env.Result.Heroes, nil
}
