package store

import (
	"context"
	"encoding/json"

	"github.com/practicepulse/ranking-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	BatchID   string          `json:"batch_id,omitempty"`
	AccountID string          `json:"account_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ranking pipeline. Run
// rows are the durable source of truth for batch progress; in-memory batch
// state is only a cache on top of them.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.RankingRun) (*model.RankingRun, error)
	GetRun(ctx context.Context, runID string) (*model.RankingRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RankingRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error
	// UpdateRunStatusDetail persists status and the progress snapshot as a
	// single atomic update.
	UpdateRunStatusDetail(ctx context.Context, runID string, status model.RunStatus, detail *model.StatusDetail) error
	UpdateRunResult(ctx context.Context, runID string, outcome *model.RunOutcome) error
	UpdateRunAnalysis(ctx context.Context, runID string, analysis json.RawMessage) error
	// FailBatch overwrites every run in the batch (completed ones included)
	// to failed with the given message; returns the number of runs touched.
	FailBatch(ctx context.Context, batchID string, message string) (int, error)
	// CountRunsByStatus aggregates run statuses for one batch; it backs the
	// status-polling fallback after a process restart.
	CountRunsByStatus(ctx context.Context, batchID string) (map[model.RunStatus]int, error)

	// Competitor cache
	GetCompetitorCache(ctx context.Context, key string) (*model.CompetitorCacheEntry, error)
	SetCompetitorCache(ctx context.Context, entry *model.CompetitorCacheEntry) error
	DeleteCompetitorCache(ctx context.Context, key string) (bool, error)
	DeleteExpiredCompetitorCaches(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
