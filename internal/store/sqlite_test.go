package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/ranking"
	"github.com/practicepulse/ranking-cli/pkg/places"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRun(batchID string) *model.RankingRun {
	return &model.RankingRun{
		BatchID:            batchID,
		AccountID:          "acct-1",
		Domain:             "smileortho.com",
		Specialty:          "orthodontics",
		Location:           "Austin, TX",
		ProviderAccountID:  "accounts/1",
		ProviderLocationID: "locations/42",
		LocationName:       "Smile Ortho",
		SiteRef:            "sc-domain:smileortho.com",
	}
}

// --- Runs ---

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateRun(ctx, testRun("batch-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.RunStatusPending, created.Status)

	got, err := st.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", got.BatchID)
	assert.Equal(t, "orthodontics", got.Specialty)
	assert.Equal(t, "Austin, TX", got.Location)
	assert.Equal(t, "Smile Ortho", got.LocationName)
	assert.Nil(t, got.RankScore)
	assert.Nil(t, got.Factors)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_UpdateRunStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateRun(ctx, testRun("batch-1"))
	require.NoError(t, err)

	require.NoError(t, st.UpdateRunStatus(ctx, created.ID, model.RunStatusProcessing, ""))

	got, err := st.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusProcessing, got.Status)

	err = st.UpdateRunStatus(ctx, "missing", model.RunStatusFailed, "boom")
	require.Error(t, err)
}

func TestSQLite_UpdateRunStatusDetail(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateRun(ctx, testRun("batch-1"))
	require.NoError(t, err)

	now := time.Now().UTC()
	detail := &model.StatusDetail{
		CurrentStep:    "discovering_competitors",
		Message:        "discovering competitors",
		Progress:       40,
		StepsCompleted: []string{"queued", "fetching_client_profile", "fetching_search_console"},
		StartedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, st.UpdateRunStatusDetail(ctx, created.ID, model.RunStatusProcessing, detail))

	got, err := st.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusProcessing, got.Status)
	require.NotNil(t, got.StatusDetail)
	assert.Equal(t, "discovering_competitors", got.StatusDetail.CurrentStep)
	assert.Equal(t, 40, got.StatusDetail.Progress)
	assert.Len(t, got.StatusDetail.StepsCompleted, 3)
}

func TestSQLite_UpdateRunResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateRun(ctx, testRun("batch-1"))
	require.NoError(t, err)

	score := 72.5
	position := 3
	total := 9
	outcome := &model.RunOutcome{
		RankScore:        &score,
		RankPosition:     &position,
		TotalCompetitors: &total,
		Factors: &ranking.Factors{
			CategoryMatch: ranking.FactorScore{Score: 25, Max: 25, Explanation: "exact match"},
		},
		Evidence: json.RawMessage(`{"competitors":[]}`),
	}
	require.NoError(t, st.UpdateRunResult(ctx, created.ID, outcome))

	got, err := st.GetRun(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RankScore)
	assert.Equal(t, 72.5, *got.RankScore)
	require.NotNil(t, got.RankPosition)
	assert.Equal(t, 3, *got.RankPosition)
	require.NotNil(t, got.TotalCompetitors)
	assert.Equal(t, 9, *got.TotalCompetitors)
	require.NotNil(t, got.Factors)
	assert.Equal(t, 25.0, got.Factors.CategoryMatch.Score)
	assert.JSONEq(t, `{"competitors":[]}`, string(got.Evidence))
}

func TestSQLite_UpdateRunAnalysis(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := st.CreateRun(ctx, testRun("batch-1"))
	require.NoError(t, err)

	require.NoError(t, st.UpdateRunAnalysis(ctx, created.ID, json.RawMessage(`{"summary":"strong"}`)))

	got, err := st.GetRun(ctx, created.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"strong"}`, string(got.Analysis))
}

func TestSQLite_ListRuns_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, testRun("batch-a"))
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, testRun("batch-a"))
	require.NoError(t, err)
	other := testRun("batch-b")
	other.AccountID = "acct-2"
	_, err = st.CreateRun(ctx, other)
	require.NoError(t, err)

	require.NoError(t, st.UpdateRunStatus(ctx, r1.ID, model.RunStatusCompleted, ""))

	byBatch, err := st.ListRuns(ctx, RunFilter{BatchID: "batch-a"})
	require.NoError(t, err)
	assert.Len(t, byBatch, 2)

	byAccount, err := st.ListRuns(ctx, RunFilter{AccountID: "acct-2"})
	require.NoError(t, err)
	assert.Len(t, byAccount, 1)

	byStatus, err := st.ListRuns(ctx, RunFilter{BatchID: "batch-a", Status: model.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, r1.ID, byStatus[0].ID)
}

func TestSQLite_FailBatch_OverwritesCompletedRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := st.CreateRun(ctx, testRun("batch-doomed"))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	// One run already completed; all-or-nothing overwrites it too.
	require.NoError(t, st.UpdateRunStatus(ctx, ids[0], model.RunStatusCompleted, ""))

	n, err := st.FailBatch(ctx, "batch-doomed", "location 2 exhausted retries")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range ids {
		got, err := st.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "location 2 exhausted retries", got.ErrorMessage)
	}
}

func TestSQLite_CountRunsByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		r, err := st.CreateRun(ctx, testRun("batch-counts"))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	require.NoError(t, st.UpdateRunStatus(ctx, ids[0], model.RunStatusCompleted, ""))
	require.NoError(t, st.UpdateRunStatus(ctx, ids[1], model.RunStatusCompleted, ""))
	require.NoError(t, st.UpdateRunStatus(ctx, ids[2], model.RunStatusProcessing, ""))

	counts, err := st.CountRunsByStatus(ctx, "batch-counts")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.RunStatusCompleted])
	assert.Equal(t, 1, counts[model.RunStatusProcessing])
	assert.Equal(t, 1, counts[model.RunStatusPending])
}

// --- Competitor cache ---

func testCacheEntry(key string, ttl time.Duration) *model.CompetitorCacheEntry {
	now := time.Now().UTC()
	return &model.CompetitorCacheEntry{
		Key:       key,
		Specialty: "orthodontics",
		Location:  "austin, tx",
		Competitors: []places.CompetitorIdentity{
			{PlaceID: "p1", Name: "Bright Smiles", Category: "Orthodontist", Rating: 4.8, ReviewCount: 120},
			{PlaceID: "p2", Name: "Austin Braces Co", Category: "Orthodontist", Rating: 4.6, ReviewCount: 85},
		},
		Count:     2,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestSQLite_CompetitorCache_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCompetitorCache(ctx, testCacheEntry("orthodontics:austin, tx", time.Hour)))

	got, err := st.GetCompetitorCache(ctx, "orthodontics:austin, tx")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Count)
	require.Len(t, got.Competitors, 2)
	assert.Equal(t, "Bright Smiles", got.Competitors[0].Name)
}

func TestSQLite_CompetitorCache_Miss(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetCompetitorCache(context.Background(), "never-set")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_CompetitorCache_Expired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCompetitorCache(ctx, testCacheEntry("expired:key", -time.Hour)))

	got, err := st.GetCompetitorCache(ctx, "expired:key")
	require.NoError(t, err)
	assert.Nil(t, got, "expired entry must read as a miss")
}

func TestSQLite_CompetitorCache_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCompetitorCache(ctx, testCacheEntry("k", time.Hour)))

	replacement := testCacheEntry("k", time.Hour)
	replacement.Competitors = replacement.Competitors[:1]
	replacement.Count = 1
	require.NoError(t, st.SetCompetitorCache(ctx, replacement))

	got, err := st.GetCompetitorCache(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Count)
	assert.Len(t, got.Competitors, 1)
}

func TestSQLite_DeleteCompetitorCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCompetitorCache(ctx, testCacheEntry("k", time.Hour)))

	existed, err := st.DeleteCompetitorCache(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = st.DeleteCompetitorCache(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSQLite_DeleteExpiredCompetitorCaches(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCompetitorCache(ctx, testCacheEntry("fresh", time.Hour)))
	require.NoError(t, st.SetCompetitorCache(ctx, testCacheEntry("stale-1", -time.Hour)))
	require.NoError(t, st.SetCompetitorCache(ctx, testCacheEntry("stale-2", -time.Minute)))

	n, err := st.DeleteExpiredCompetitorCaches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.GetCompetitorCache(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
