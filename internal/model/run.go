package model

import (
	"encoding/json"
	"time"

	"github.com/practicepulse/ranking-cli/internal/ranking"
	"github.com/practicepulse/ranking-cli/pkg/places"
)

// RunStatus represents the lifecycle state of a ranking run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// LocationSpec identifies one practice location inside a batch request.
type LocationSpec struct {
	Specialty          string `json:"specialty"`
	Location           string `json:"location"`
	ProviderAccountID  string `json:"provider_account_id,omitempty"`
	ProviderLocationID string `json:"provider_location_id,omitempty"`
	Name               string `json:"name,omitempty"`
	SiteRef            string `json:"site_ref,omitempty"`
}

// StatusDetail is the fine-grained progress snapshot persisted alongside the
// coarse run status. CurrentStep names the pipeline step in flight; Progress
// is a monotonic percentage.
type StatusDetail struct {
	CurrentStep    string    `json:"current_step"`
	Message        string    `json:"message,omitempty"`
	Progress       int       `json:"progress"`
	StepsCompleted []string  `json:"steps_completed,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RankingRun is one location's pass through the pipeline. Run rows are the
// durable record of batch progress.
type RankingRun struct {
	ID                 string `json:"id"`
	BatchID            string `json:"batch_id"`
	AccountID          string `json:"account_id"`
	Domain             string `json:"domain,omitempty"`
	Specialty          string `json:"specialty"`
	Location           string `json:"location"`
	ProviderAccountID  string `json:"provider_account_id,omitempty"`
	ProviderLocationID string `json:"provider_location_id,omitempty"`
	LocationName       string `json:"location_name,omitempty"`
	SiteRef            string `json:"site_ref,omitempty"`

	Status       RunStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`

	RankScore        *float64         `json:"rank_score,omitempty"`
	RankPosition     *int             `json:"rank_position,omitempty"`
	TotalCompetitors *int             `json:"total_competitors,omitempty"`
	Factors          *ranking.Factors `json:"factors,omitempty"`
	Evidence         json.RawMessage  `json:"evidence,omitempty"`
	Analysis         json.RawMessage  `json:"analysis,omitempty"`

	StatusDetail *StatusDetail `json:"status_detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Spec reconstructs the location spec this run was created from.
func (r *RankingRun) Spec() LocationSpec {
	return LocationSpec{
		Specialty:          r.Specialty,
		Location:           r.Location,
		ProviderAccountID:  r.ProviderAccountID,
		ProviderLocationID: r.ProviderLocationID,
		Name:               r.LocationName,
		SiteRef:            r.SiteRef,
	}
}

// RunOutcome carries the scoring results written back to a run when the
// calculation stage finishes.
type RunOutcome struct {
	RankScore        *float64         `json:"rank_score,omitempty"`
	RankPosition     *int             `json:"rank_position,omitempty"`
	TotalCompetitors *int             `json:"total_competitors,omitempty"`
	Factors          *ranking.Factors `json:"factors,omitempty"`
	Evidence         json.RawMessage  `json:"evidence,omitempty"`
}

// CompetitorCacheEntry is a cached competitor discovery for one
// specialty/location market.
type CompetitorCacheEntry struct {
	Key         string                      `json:"key"`
	Specialty   string                      `json:"specialty"`
	Location    string                      `json:"location"`
	Competitors []places.CompetitorIdentity `json:"competitors"`
	Count       int                         `json:"count"`
	CreatedAt   time.Time                   `json:"created_at"`
	ExpiresAt   time.Time                   `json:"expires_at"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *CompetitorCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
