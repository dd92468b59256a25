package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.siteaudit.dev/v1"

// Result is the website audit summary. Failures upstream are non-fatal;
// callers treat a nil Result as "no audit data".
type Result struct {
	URL               string  `json:"url"`
	PerformanceScore  float64 `json:"performance_score"`
	LCPMillis         int     `json:"lcp_ms"`
	CLS               float64 `json:"cls"`
	INPMillis         int     `json:"inp_ms"`
	MobileFriendly    bool    `json:"mobile_friendly"`
	HasStructuredData bool    `json:"has_structured_data"`
}

// Client runs website audits.
type Client interface {
	Audit(ctx context.Context, url string) (*Result, error)
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
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates an auditor client. A full audit can take well over a
// minute, hence the long default timeout.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type auditRequest struct {
	URL string `json:"url"`
}

func (c *httpClient) Audit(ctx context.Context, url string) (*Result, error) {
	body, err := json.Marshal(auditRequest{URL: url})
	if err != nil {
		return nil, eris.Wrap(err, "audit: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audits", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "audit: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "audit: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "audit: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("audit: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "audit: unmarshal response")
	}
	return &result, nil
}
