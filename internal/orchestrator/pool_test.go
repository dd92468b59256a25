package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/store"
)

func prepare(t *testing.T, env *testEnv, batchID string) (BatchRequest, []model.RankingRun) {
	t.Helper()
	req := testRequest(loc("l1"))
	req.BatchID = batchID
	runs, err := env.orch.PrepareBatch(context.Background(), req)
	require.NoError(t, err)
	return req, runs
}

func TestPool_QueueFullBackpressure(t *testing.T) {
	env := newTestEnv(t)
	env.gbp.started = make(chan struct{}, 1)
	env.gbp.block = make(chan struct{})

	pool := NewPool(env.orch, 1, 1)

	// First batch occupies the single worker.
	req1, runs1 := prepare(t, env, "pool-1")
	require.NoError(t, pool.Enqueue(req1, runs1))
	select {
	case <-env.gbp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the first batch")
	}

	// Second batch fills the queue slot; third must be rejected.
	req2, runs2 := prepare(t, env, "pool-2")
	require.NoError(t, pool.Enqueue(req2, runs2))

	req3, runs3 := prepare(t, env, "pool-3")
	require.ErrorIs(t, pool.Enqueue(req3, runs3), ErrQueueFull)

	close(env.gbp.block)
	pool.Shutdown()

	// The accepted batches drained to completion.
	for _, batchID := range []string{"pool-1", "pool-2"} {
		runs, err := env.store.ListRuns(context.Background(), store.RunFilter{BatchID: batchID})
		require.NoError(t, err)
		require.Len(t, runs, 1, "batch %s", batchID)
		assert.Equal(t, model.RunStatusCompleted, runs[0].Status, "batch %s", batchID)
	}
}

func TestPool_PanicFailsBatchNotPool(t *testing.T) {
	env := newTestEnv(t)
	env.gbp.panicOnce = true

	pool := NewPool(env.orch, 1, 2)

	req1, runs1 := prepare(t, env, "pool-1")
	require.NoError(t, pool.Enqueue(req1, runs1))
	req2, runs2 := prepare(t, env, "pool-2")
	require.NoError(t, pool.Enqueue(req2, runs2))

	pool.Shutdown()

	// The panicking batch is marked failed.
	failed, err := env.store.ListRuns(context.Background(), store.RunFilter{BatchID: "pool-1"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, model.RunStatusFailed, failed[0].Status)
	assert.Contains(t, failed[0].ErrorMessage, "internal error")

	// The worker survives to process the next batch.
	ok, err := env.store.ListRuns(context.Background(), store.RunFilter{BatchID: "pool-2"})
	require.NoError(t, err)
	require.Len(t, ok, 1)
	assert.Equal(t, model.RunStatusCompleted, ok[0].Status)
}
