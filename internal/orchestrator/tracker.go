package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/store"
)

// LocationFailure records one failed attempt for a location in a batch.
type LocationFailure struct {
	Location string    `json:"location"`
	Error    string    `json:"error"`
	Attempt  int       `json:"attempt"`
	At       time.Time `json:"at"`
}

// BatchState is the live progress view of one batch. Persisted run rows are
// the source of truth; this struct only caches their aggregate for
// low-latency polling while the batch is in flight.
type BatchState struct {
	BatchID         string            `json:"batch_id"`
	AccountID       string            `json:"account_id"`
	Status          model.RunStatus   `json:"status"`
	Total           int               `json:"total"`
	Completed       int               `json:"completed"`
	Failed          int               `json:"failed"`
	CurrentIndex    int               `json:"current_index"`
	CurrentLocation string            `json:"current_location,omitempty"`
	RunIDs          []string          `json:"run_ids,omitempty"`
	Failures        []LocationFailure `json:"failures,omitempty"`
	Message         string            `json:"message,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// Tracker holds in-memory batch state and answers status queries, falling
// back to aggregating persisted runs for batches started before a restart.
type Tracker struct {
	store store.Store

	mu      sync.RWMutex
	batches map[string]*BatchState
}

// NewTracker creates a batch tracker over the store.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{
		store:   s,
		batches: make(map[string]*BatchState),
	}
}

// Register records a new in-flight batch and its pre-created run ids.
func (t *Tracker) Register(batchID, accountID string, runIDs []string) {
	now := time.Now().UTC()
	t.mu.Lock()
	t.batches[batchID] = &BatchState{
		BatchID:   batchID,
		AccountID: accountID,
		Status:    model.RunStatusProcessing,
		Total:     len(runIDs),
		RunIDs:    append([]string(nil), runIDs...),
		StartedAt: now,
		UpdatedAt: now,
	}
	t.mu.Unlock()
}

// LocationStarted records which location the batch is currently processing.
func (t *Tracker) LocationStarted(batchID string, index int, location string) {
	t.mu.Lock()
	if s, ok := t.batches[batchID]; ok {
		s.CurrentIndex = index
		s.CurrentLocation = location
		s.UpdatedAt = time.Now().UTC()
	}
	t.mu.Unlock()
}

// RecordFailure appends one failed attempt for the current location.
func (t *Tracker) RecordFailure(batchID, location, message string, attempt int) {
	now := time.Now().UTC()
	t.mu.Lock()
	if s, ok := t.batches[batchID]; ok {
		s.Failures = append(s.Failures, LocationFailure{
			Location: location,
			Error:    message,
			Attempt:  attempt,
			At:       now,
		})
		s.UpdatedAt = now
	}
	t.mu.Unlock()
}

// LocationDone increments the completed counter.
func (t *Tracker) LocationDone(batchID string) {
	t.mu.Lock()
	if s, ok := t.batches[batchID]; ok {
		s.Completed++
		s.UpdatedAt = time.Now().UTC()
	}
	t.mu.Unlock()
}

// Complete marks the batch finished.
func (t *Tracker) Complete(batchID string) {
	now := time.Now().UTC()
	t.mu.Lock()
	if s, ok := t.batches[batchID]; ok {
		s.Status = model.RunStatusCompleted
		s.CurrentLocation = ""
		s.UpdatedAt = now
		s.CompletedAt = &now
	}
	t.mu.Unlock()
}

// Fail marks the batch failed with the root-cause message. The failure
// policy overwrites every run in the batch, completed ones included, so the
// counters reflect that.
func (t *Tracker) Fail(batchID, message string) {
	now := time.Now().UTC()
	t.mu.Lock()
	if s, ok := t.batches[batchID]; ok {
		s.Status = model.RunStatusFailed
		s.Failed = s.Total
		s.Completed = 0
		s.Message = message
		s.UpdatedAt = now
		s.CompletedAt = &now
	}
	t.mu.Unlock()
}

// Forget drops a batch from memory once callers no longer need low-latency
// polling; the persisted runs remain queryable.
func (t *Tracker) Forget(batchID string) {
	t.mu.Lock()
	delete(t.batches, batchID)
	t.mu.Unlock()
}

// Status returns the batch's current state. In-memory state wins when
// present; otherwise the persisted runs are aggregated, which is what makes
// status queries survive a process restart.
func (t *Tracker) Status(ctx context.Context, batchID string) (*BatchState, error) {
	t.mu.RLock()
	if s, ok := t.batches[batchID]; ok {
		snapshot := *s
		snapshot.RunIDs = append([]string(nil), s.RunIDs...)
		snapshot.Failures = append([]LocationFailure(nil), s.Failures...)
		t.mu.RUnlock()
		return &snapshot, nil
	}
	t.mu.RUnlock()

	counts, err := t.store.CountRunsByStatus(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: batch status %s", batchID)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil, nil
	}

	state := &BatchState{
		BatchID:   batchID,
		Total:     total,
		Completed: counts[model.RunStatusCompleted],
		Failed:    counts[model.RunStatusFailed],
	}
	switch {
	case counts[model.RunStatusFailed] > 0:
		state.Status = model.RunStatusFailed
	case counts[model.RunStatusCompleted] == total:
		state.Status = model.RunStatusCompleted
	case counts[model.RunStatusProcessing] > 0:
		state.Status = model.RunStatusProcessing
	default:
		state.Status = model.RunStatusPending
	}
	return state, nil
}
