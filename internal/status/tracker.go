package status

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/store"
)

// Tracker persists per-run step transitions. Each transition writes the run
// status and the progress snapshot in one store update so pollers never see
// the two disagree.
type Tracker struct {
	store store.Store

	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	startedAt time.Time
	progress  int
}

// NewTracker creates a step tracker over the store.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{
		store: s,
		runs:  make(map[string]*runState),
	}
}

// Transition moves a run to the given step and persists the snapshot.
// Progress never decreases for a run, even if steps are reported out of
// order after a retry.
func (t *Tracker) Transition(ctx context.Context, runID string, step Step, message string) error {
	if Index(step) < 0 {
		return eris.Errorf("status: unknown step %q", step)
	}

	now := time.Now().UTC()

	t.mu.Lock()
	state, ok := t.runs[runID]
	if !ok {
		state = &runState{startedAt: now}
		t.runs[runID] = state
	}
	progress := Progress(step)
	if progress < state.progress {
		progress = state.progress
	}
	state.progress = progress
	startedAt := state.startedAt
	t.mu.Unlock()

	detail := &model.StatusDetail{
		CurrentStep:    string(step),
		Message:        message,
		Progress:       progress,
		StepsCompleted: Completed(step),
		StartedAt:      startedAt,
		UpdatedAt:      now,
	}

	runStatus := model.RunStatusProcessing
	if step == StepDone {
		runStatus = model.RunStatusCompleted
	}

	if err := t.store.UpdateRunStatusDetail(ctx, runID, runStatus, detail); err != nil {
		return eris.Wrapf(err, "status: persist transition to %s", step)
	}

	zap.L().Info("run step transition",
		zap.String("run_id", runID),
		zap.String("step", string(step)),
		zap.Int("progress", progress),
	)
	return nil
}

// Fail marks a run failed while keeping its last progress snapshot in the
// status detail.
func (t *Tracker) Fail(ctx context.Context, runID string, message string) error {
	t.Forget(runID)
	if err := t.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed, message); err != nil {
		return eris.Wrapf(err, "status: mark run %s failed", runID)
	}
	return nil
}

// Forget drops the in-memory state for a finished run.
func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	delete(t.runs, runID)
	t.mu.Unlock()
}
