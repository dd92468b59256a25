package gbp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

const defaultBaseURL = "https://mybusiness.googleapis.com/v4"

// AuthContext carries the tenant's OAuth state. Token refresh lives with the
// OAuth subsystem; callers hand us a live access token.
type AuthContext struct {
	AccountID   string
	AccessToken string
}

// LocationRef identifies one business-profile location at the provider.
type LocationRef struct {
	AccountID  string `json:"account_id"`
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
}

// MetricPoint is one day of the performance series.
type MetricPoint struct {
	Date     string `json:"date"`
	Searches int    `json:"searches"`
	Views    int    `json:"views"`
	Actions  int    `json:"actions"`
}

// Profile holds the signals the ranking engine consumes for one location.
type Profile struct {
	LocationID        string        `json:"location_id"`
	Name              string        `json:"name"`
	PrimaryCategory   string        `json:"primary_category"`
	Categories        []string      `json:"categories,omitempty"`
	TotalReviews      int           `json:"total_reviews"`
	AverageRating     float64       `json:"average_rating"`
	ReviewsLast30Days int           `json:"reviews_last_30_days"`
	HasWebsite        bool          `json:"has_website"`
	HasPhone          bool          `json:"has_phone"`
	HoursEntries      int           `json:"hours_entries"`
	PostsLast90Days   int           `json:"posts_last_90_days"`
	PhotoCount        int           `json:"photo_count"`
	DescriptionLength int           `json:"description_length"`
	Metrics           []MetricPoint `json:"metrics,omitempty"`
}

// ProfileData is the fetch result for a set of location refs.
type ProfileData struct {
	Profiles []Profile `json:"profiles"`
}

// Client fetches business-profile data.
type Client interface {
	FetchProfile(ctx context.Context, auth AuthContext, refs []LocationRef, from, to time.Time) (*ProfileData, error)
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

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a business-profile client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type profileResponse struct {
	Profiles []Profile `json:"profiles"`
}

type metricsResponse struct {
	Series map[string][]MetricPoint `json:"series"` // keyed by location id
}

// FetchProfile retrieves profile snapshots and the performance series for
// the given locations. The two endpoints are independent, so they are
// fetched in parallel.
func (c *httpClient) FetchProfile(ctx context.Context, auth AuthContext, refs []LocationRef, from, to time.Time) (*ProfileData, error) {
	if len(refs) == 0 {
		return &ProfileData{}, nil
	}

	q := url.Values{}
	for _, r := range refs {
		q.Add("location", fmt.Sprintf("%s/%s", r.AccountID, r.LocationID))
	}
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))

	var profiles profileResponse
	var metrics metricsResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.get(gctx, auth, "/locations:batchGet?"+q.Encode(), &profiles)
	})
	g.Go(func() error {
		return c.get(gctx, auth, "/locations:fetchMetrics?"+q.Encode(), &metrics)
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "gbp: fetch profile")
	}

	for i := range profiles.Profiles {
		if series, ok := metrics.Series[profiles.Profiles[i].LocationID]; ok {
			profiles.Profiles[i].Metrics = series
		}
	}
	return &ProfileData{Profiles: profiles.Profiles}, nil
}

func (c *httpClient) get(ctx context.Context, auth AuthContext, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "gbp: create request")
	}
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "gbp: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "gbp: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("gbp: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return eris.Wrap(json.Unmarshal(body, out), "gbp: unmarshal response")
}
