package places

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/practicepulse/ranking-cli/internal/resilience"
)

const defaultBaseURL = "https://api.scrapeworks.dev/v1"

// Client performs competitor discovery and detail enrichment against the
// scraping provider.
type Client interface {
	// Discover runs a text search (e.g. "orthodontics near Austin, TX") and
	// returns up to limit competitor identities. The provider sorts results
	// by (review count desc, rating desc, place id asc) so repeated
	// discoveries of the same market are reproducible.
	Discover(ctx context.Context, query string, limit int) ([]CompetitorIdentity, error)

	// Enrich fetches full profile details for the given place ids. Keywords
	// steer the provider's review sampling. Enrich may fail wholesale;
	// callers fall back to discovery-level data.
	Enrich(ctx context.Context, placeIDs []string, keywords []string) ([]CompetitorDetail, error)
}

// CompetitorIdentity is the discovery-level view of a competitor listing.
type CompetitorIdentity struct {
	PlaceID     string  `json:"place_id"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Category    string  `json:"category"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

// CompetitorDetail is the enriched view used for full factor scoring.
type CompetitorDetail struct {
	CompetitorIdentity
	Categories        []string `json:"categories,omitempty"`
	ReviewsLast30Days int      `json:"reviews_last_30_days"`
	HasWebsite        bool     `json:"has_website"`
	HasPhone          bool     `json:"has_phone"`
	HoursEntries      int      `json:"hours_entries"`
	PostsLast90Days   int      `json:"posts_last_90_days"`
	PhotoCount        int      `json:"photo_count"`
	DescriptionLength int      `json:"description_length"`
	SentimentScore    *float64 `json:"sentiment_score,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// WithRetryPolicy overrides the default exponential-backoff retry.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewClient creates a scraping-provider client. Requests retry with
// exponential backoff on transient failures (429/5xx, network timeouts).
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		retry:   resilience.Backoff(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type discoverRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type discoverResponse struct {
	Results []CompetitorIdentity `json:"results"`
}

func (c *httpClient) Discover(ctx context.Context, query string, limit int) ([]CompetitorIdentity, error) {
	var resp discoverResponse
	if err := c.post(ctx, "/places/search", discoverRequest{Query: query, Limit: limit}, &resp); err != nil {
		return nil, eris.Wrap(err, "places: discover")
	}
	if limit > 0 && len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return resp.Results, nil
}

type enrichRequest struct {
	PlaceIDs []string `json:"place_ids"`
	Keywords []string `json:"keywords,omitempty"`
}

type enrichResponse struct {
	Results []CompetitorDetail `json:"results"`
}

func (c *httpClient) Enrich(ctx context.Context, placeIDs []string, keywords []string) ([]CompetitorDetail, error) {
	if len(placeIDs) == 0 {
		return nil, nil
	}
	var resp enrichResponse
	if err := c.post(ctx, "/places/details", enrichRequest{PlaceIDs: placeIDs, Keywords: keywords}, &resp); err != nil {
		return nil, eris.Wrap(err, "places: enrich")
	}
	return resp.Results, nil
}

func (c *httpClient) post(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return eris.Wrap(err, "places: marshal request")
	}

	respBody, err := resilience.DoValue(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.doPost(ctx, path, body)
	})
	if err != nil {
		return err
	}
	return eris.Wrap(json.Unmarshal(respBody, out), "places: unmarshal response")
}

// doPost performs a single request attempt. Retryable provider responses
// come back as TransientError so the policy can tell them apart from
// permanent rejections.
func (c *httpClient) doPost(ctx context.Context, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "places: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "places: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}
	return respBody, nil
}
