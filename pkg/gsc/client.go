package gsc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/practicepulse/ranking-cli/pkg/gbp"
)

const defaultBaseURL = "https://searchconsole.googleapis.com/v1"

// QueryStat is one search query's aggregate performance.
type QueryStat struct {
	Query       string  `json:"query"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	Position    float64 `json:"position"`
}

// SearchData is the search-performance summary for one site.
type SearchData struct {
	SiteRef     string      `json:"site_ref"`
	Clicks      int         `json:"clicks"`
	Impressions int         `json:"impressions"`
	CTR         float64     `json:"ctr"`
	AvgPosition float64     `json:"avg_position"`
	TopQueries  []QueryStat `json:"top_queries,omitempty"`
}

// Client fetches search-performance data. FetchSearch returns (nil, nil)
// when the site is not registered with the provider.
type Client interface {
	FetchSearch(ctx context.Context, auth gbp.AuthContext, siteRef string, from, to time.Time) (*SearchData, error)
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

// NewClient creates a search-console client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) FetchSearch(ctx context.Context, auth gbp.AuthContext, siteRef string, from, to time.Time) (*SearchData, error) {
	q := url.Values{}
	q.Set("site", siteRef)
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/searchanalytics:summary?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "gsc: create request")
	}
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "gsc: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gsc: read response")
	}

	// Site not verified for this tenant: not an error, just no data.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("gsc: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var data SearchData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, eris.Wrap(err, "gsc: unmarshal response")
	}
	data.SiteRef = siteRef
	return &data, nil
}
