package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicepulse/ranking-cli/internal/cache"
	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/orchestrator"
	"github.com/practicepulse/ranking-cli/internal/ranking"
	"github.com/practicepulse/ranking-cli/internal/status"
	"github.com/practicepulse/ranking-cli/internal/store"
	"github.com/practicepulse/ranking-cli/pkg/places"
)

// stubPlaces is the only collaborator the serve tests need: locations
// without provider ids skip the profile and search fetches, so discovery
// drives the whole pipeline. The optional channels let a test pin the
// worker mid-batch.
type stubPlaces struct {
	started chan struct{}
	block   chan struct{}
}

func (s *stubPlaces) Discover(ctx context.Context, query string, limit int) ([]places.CompetitorIdentity, error) {
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []places.CompetitorIdentity{
		{PlaceID: "p1", Name: "Bright Dental", Rating: 4.2, ReviewCount: 50},
	}, nil
}

func (s *stubPlaces) Enrich(ctx context.Context, placeIDs, keywords []string) ([]places.CompetitorDetail, error) {
	return nil, nil // orchestrator degrades to discovery data
}

// newServeEnv builds a pipeline environment over a temp SQLite store, the
// same wiring initEnv produces minus the real API clients.
func newServeEnv(t *testing.T, pl places.Client, workers, queueSize int) *pipelineEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ranking.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	competitorCache := cache.New(st, time.Hour)
	batches := orchestrator.NewTracker(st)
	orch := orchestrator.New(orchestrator.Deps{
		Store:   st,
		Cache:   competitorCache,
		Steps:   status.NewTracker(st),
		Batches: batches,
		Engine:  ranking.NewEngine(ranking.Benchmarks{}),
		Places:  pl,
	}, orchestrator.Options{MaxRetries: 1, RetryDelay: time.Millisecond})

	pool := orchestrator.NewPool(orch, workers, queueSize)
	t.Cleanup(pool.Shutdown)

	return &pipelineEnv{
		Store:        st,
		Cache:        competitorCache,
		Orchestrator: orch,
		Batches:      batches,
		Pool:         pool,
	}
}

func postBatch(t *testing.T, router http.Handler, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/ranking/batches", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(newServeEnv(t, &stubPlaces{}, 1, 1))

	rr := get(t, router, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestTriggerBatch_AcceptedWithPendingPlaceholders(t *testing.T) {
	pl := &stubPlaces{
		started: make(chan struct{}, 4),
		block:   make(chan struct{}),
	}
	env := newServeEnv(t, pl, 1, 2)
	router := newRouter(env)

	rr := postBatch(t, router, map[string]any{
		"account_id": "acct-1",
		"domain":     "smileortho.com",
		"locations": []map[string]string{
			{"specialty": "orthodontics", "location": "Austin, TX"},
			{"specialty": "orthodontics", "location": "Dallas, TX"},
		},
	})
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp struct {
		BatchID string   `json:"batch_id"`
		Status  string   `json:"status"`
		RunIDs  []string `json:"run_ids"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.BatchID)
	require.Len(t, resp.RunIDs, 2)

	// The worker is pinned on the first location's discovery; the second
	// run must already exist as a pending placeholder.
	<-pl.started
	runRR := get(t, router, "/api/ranking/runs/"+resp.RunIDs[1])
	require.Equal(t, http.StatusOK, runRR.Code)
	var run model.RankingRun
	require.NoError(t, json.Unmarshal(runRR.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Equal(t, "Dallas, TX", run.Location)

	statusRR := get(t, router, "/api/ranking/batches/"+resp.BatchID)
	require.Equal(t, http.StatusOK, statusRR.Code)
	var state orchestrator.BatchState
	require.NoError(t, json.Unmarshal(statusRR.Body.Bytes(), &state))
	assert.Equal(t, model.RunStatusProcessing, state.Status)
	assert.Equal(t, 2, state.Total)
	assert.Equal(t, resp.RunIDs, state.RunIDs)

	close(pl.block)
}

func TestTriggerBatch_Validation(t *testing.T) {
	router := newRouter(newServeEnv(t, &stubPlaces{}, 1, 1))

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "invalid json",
			body:    "not json",
			wantMsg: "invalid request body",
		},
		{
			name:    "missing account id",
			body:    `{"locations":[{"specialty":"orthodontics","location":"Austin, TX"}]}`,
			wantMsg: "account_id is required",
		},
		{
			name:    "no locations",
			body:    `{"account_id":"acct-1","locations":[]}`,
			wantMsg: "at least one location is required",
		},
		{
			name:    "location missing specialty",
			body:    `{"account_id":"acct-1","locations":[{"location":"Austin, TX"}]}`,
			wantMsg: "each location needs specialty and location",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/ranking/batches", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantMsg)
		})
	}
}

func TestTriggerBatch_QueueFullRollsRunsToFailed(t *testing.T) {
	pl := &stubPlaces{
		started: make(chan struct{}, 4),
		block:   make(chan struct{}),
	}
	env := newServeEnv(t, pl, 1, 1)
	router := newRouter(env)

	batch := func(accountID string) map[string]any {
		return map[string]any{
			"account_id": accountID,
			"locations": []map[string]string{
				{"specialty": "orthodontics", "location": "Austin, TX"},
			},
		}
	}

	// First batch occupies the worker, second fills the queue slot.
	require.Equal(t, http.StatusAccepted, postBatch(t, router, batch("acct-a")).Code)
	<-pl.started
	require.Equal(t, http.StatusAccepted, postBatch(t, router, batch("acct-b")).Code)

	rr := postBatch(t, router, batch("acct-c"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "batch queue full")

	// The rejected batch's placeholders must not linger as pending.
	failed, err := env.Store.ListRuns(context.Background(), store.RunFilter{
		AccountID: "acct-c",
		Status:    model.RunStatusFailed,
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "batch queue full", failed[0].ErrorMessage)

	close(pl.block)
}

func TestBatchStatus_NotFound(t *testing.T) {
	router := newRouter(newServeEnv(t, &stubPlaces{}, 1, 1))

	rr := get(t, router, "/api/ranking/batches/no-such-batch")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "batch not found")
}

func TestGetRun_NotFound(t *testing.T) {
	router := newRouter(newServeEnv(t, &stubPlaces{}, 1, 1))

	rr := get(t, router, "/api/ranking/runs/no-such-run")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "run not found")
}

func TestServeCmd_Metadata(t *testing.T) {
	assert.Equal(t, "serve", serveCmd.Use)
	assert.NotEmpty(t, serveCmd.Short)

	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}
