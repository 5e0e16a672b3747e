package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRating seeds players the rating service does not know yet.
const DefaultRating = 1500

// RatingClient reads rating snapshots from the rating service. Tickets
// freeze the snapshot at enqueue time; later rating changes do not move
// a queued ticket.
type RatingClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewRatingClient(baseURL, serviceToken string) *RatingClient {
	return &RatingClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

type bulkRatingsResponse struct {
	Ratings map[string]int `json:"ratings"`
}

// GetBulkRatings fetches ratings for the given users in one call.
// Unknown users come back with DefaultRating so enqueue never blocks on
// an empty rating history.
func (c *RatingClient) GetBulkRatings(ctx context.Context, tenantID, pool string, userIDs []string) (map[string]int, error) {
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	q.Set("pool", pool)
	q.Set("user_ids", strings.Join(userIDs, ","))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/internal/ratings/bulk?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ratings request: %w", err)
	}
	httpReq.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rating request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rating service returned status %d", resp.StatusCode)
	}

	var out bulkRatingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ratings response: %w", err)
	}

	ratings := make(map[string]int, len(userIDs))
	for _, id := range userIDs {
		if r, ok := out.Ratings[id]; ok {
			ratings[id] = r
		} else {
			ratings[id] = DefaultRating
		}
	}
	return ratings, nil
}
