package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func samplePayload() Payload {
	return Payload{
		RunID:            "run-1",
		BatchID:          "batch-1",
		AccountID:        "acct-1",
		Specialty:        "orthodontics",
		Location:         "Austin, TX",
		RankScore:        72.5,
		RankPosition:     3,
		TotalCompetitors: 9,
		Factors:          json.RawMessage(`{"category_match":25}`),
	}
}

func TestAnalyze(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "run-1", got.RunID)
		assert.InDelta(t, 72.5, got.RankScore, 0.001)

		w.Write([]byte(`{"summary":"strong category signal","actions":["post weekly"]}`)) //nolint:errcheck
	})

	result, err := c.Analyze(context.Background(), samplePayload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"strong category signal","actions":["post weekly"]}`, string(result))
}

func TestAnalyze_RejectsInvalidJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>")) //nolint:errcheck
	})

	_, err := c.Analyze(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestAnalyze_NonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Analyze(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}
