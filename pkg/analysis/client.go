package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Payload is the ranking evidence handed to the external analysis step.
type Payload struct {
	RunID            string          `json:"run_id"`
	BatchID          string          `json:"batch_id"`
	AccountID        string          `json:"account_id"`
	Domain           string          `json:"domain"`
	Specialty        string          `json:"specialty"`
	Location         string          `json:"location"`
	RankScore        float64         `json:"rank_score"`
	RankPosition     int             `json:"rank_position"`
	TotalCompetitors int             `json:"total_competitors"`
	Factors          json.RawMessage `json:"factors"`
	Evidence         json.RawMessage `json:"evidence"`
}

// Client hands ranking results to the external analysis webhook. Contract:
// one attempt with a long timeout, no retry at this layer; on failure the
// run completes without analysis.
type Client interface {
	Analyze(ctx context.Context, payload Payload) (json.RawMessage, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the webhook timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	webhookURL string
	http       *http.Client
}

// NewClient creates an analysis webhook client.
func NewClient(webhookURL string, opts ...Option) Client {
	c := &httpClient{
		webhookURL: webhookURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Analyze(ctx context.Context, payload Payload) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "analysis: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("analysis: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if !json.Valid(respBody) {
		return nil, eris.New("analysis: response is not valid JSON")
	}
	return json.RawMessage(respBody), nil
}
