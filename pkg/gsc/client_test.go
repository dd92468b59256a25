package gsc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicepulse/ranking-cli/pkg/gbp"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL))
}

func window() (time.Time, time.Time) {
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	return to.AddDate(0, 0, -30), to
}

func TestFetchSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sc-domain:smileortho.com", r.URL.Query().Get("site"))
		assert.Equal(t, "2026-08-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2026-08-31", r.URL.Query().Get("to"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(SearchData{ //nolint:errcheck
			Clicks:      320,
			Impressions: 9100,
			CTR:         0.035,
			AvgPosition: 6.2,
		})
	})

	from, to := window()
	got, err := c.FetchSearch(context.Background(), gbp.AuthContext{AccessToken: "tok"}, "sc-domain:smileortho.com", from, to)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 320, got.Clicks)
	assert.Equal(t, "sc-domain:smileortho.com", got.SiteRef)
}

func TestFetchSearch_UnregisteredSite(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	from, to := window()
	got, err := c.FetchSearch(context.Background(), gbp.AuthContext{}, "sc-domain:nowhere.test", from, to)
	require.NoError(t, err, "an unregistered site is no data, not an error")
	assert.Nil(t, got)
}

func TestFetchSearch_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	from, to := window()
	_, err := c.FetchSearch(context.Background(), gbp.AuthContext{}, "sc-domain:smileortho.com", from, to)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}
