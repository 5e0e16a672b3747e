// Package clients holds thin HTTP clients for the downstream services
// the matchmaking core calls: live-game for board creation and rating
// for snapshot hydration.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

// CreateGameRequest is the payload sent to the live-game service once
// both sides of a proposal accepted.
type CreateGameRequest struct {
	MatchID     string             `json:"match_id"`
	TenantID    string             `json:"tenant_id"`
	WhiteUserID string             `json:"white_user_id"`
	BlackUserID string             `json:"black_user_id"`
	TimeControl models.TimeControl `json:"time_control"`
	Mode        models.Mode        `json:"mode"`
	Variant     string             `json:"variant"`
}

type createGameResponse struct {
	GameID string `json:"game_id"`
}

// LiveGameClient creates game shells on the live-game service.
type LiveGameClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewLiveGameClient(baseURL, serviceToken string) *LiveGameClient {
	return &LiveGameClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

// CreateGame asks the live-game service for a fresh game and returns
// its id. Failures are retried by the caller; the match record already
// exists, so a missing game_id is backfilled later.
func (c *LiveGameClient) CreateGame(ctx context.Context, req CreateGameRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal create game request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/games", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build create game request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("live-game request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("live-game returned status %d", resp.StatusCode)
	}

	var out createGameResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode live-game response: %w", err)
	}
	if out.GameID == "" {
		return "", fmt.Errorf("live-game returned empty game_id")
	}
	return out.GameID, nil
}
