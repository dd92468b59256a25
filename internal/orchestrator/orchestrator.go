package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/practicepulse/ranking-cli/internal/cache"
	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/notify"
	"github.com/practicepulse/ranking-cli/internal/ranking"
	"github.com/practicepulse/ranking-cli/internal/resilience"
	"github.com/practicepulse/ranking-cli/internal/status"
	"github.com/practicepulse/ranking-cli/internal/store"
	"github.com/practicepulse/ranking-cli/pkg/analysis"
	"github.com/practicepulse/ranking-cli/pkg/audit"
	"github.com/practicepulse/ranking-cli/pkg/gbp"
	"github.com/practicepulse/ranking-cli/pkg/gsc"
	"github.com/practicepulse/ranking-cli/pkg/places"
)

// metricsWindowDays is the lookback window for profile and search data.
const metricsWindowDays = 30

// BatchRequest describes one batch trigger: a tenant account and the
// locations to rank.
type BatchRequest struct {
	BatchID   string               `json:"batch_id"`
	AccountID string               `json:"account_id"`
	Domain    string               `json:"domain,omitempty"`
	Auth      gbp.AuthContext      `json:"-"`
	Locations []model.LocationSpec `json:"locations"`
}

// Deps bundles the orchestrator's collaborators. Analysis and Notifier may
// be nil; the corresponding stages are skipped.
type Deps struct {
	Store    store.Store
	Cache    *cache.Competitors
	Steps    *status.Tracker
	Batches  *Tracker
	Engine   *ranking.Engine
	GBP      gbp.Client
	GSC      gsc.Client
	Places   places.Client
	Audit    audit.Client
	Analysis analysis.Client
	Notifier *notify.Notifier
}

// Options tunes the batch loop.
type Options struct {
	MaxRetries     int
	RetryDelay     time.Duration
	DiscoveryLimit int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.DiscoveryLimit <= 0 {
		o.DiscoveryLimit = 10
	}
	return o
}

// Orchestrator drives batches of locations through the ranking pipeline.
// Locations within one batch run strictly sequentially; the all-or-nothing
// failure policy and the shared competitor cache both assume one location's
// completion is fully observed before the next begins.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{deps: deps, opts: opts.withDefaults()}
}

// PrepareBatch pre-creates one pending run per location, so a status poll
// immediately after the trigger sees every placeholder. It also registers
// the batch with the tracker.
func (o *Orchestrator) PrepareBatch(ctx context.Context, req BatchRequest) ([]model.RankingRun, error) {
	if len(req.Locations) == 0 {
		return nil, eris.New("orchestrator: batch has no locations")
	}

	runs := make([]model.RankingRun, 0, len(req.Locations))
	for _, loc := range req.Locations {
		run, err := o.deps.Store.CreateRun(ctx, &model.RankingRun{
			BatchID:            req.BatchID,
			AccountID:          req.AccountID,
			Domain:             req.Domain,
			Specialty:          loc.Specialty,
			Location:           loc.Location,
			ProviderAccountID:  loc.ProviderAccountID,
			ProviderLocationID: loc.ProviderLocationID,
			LocationName:       loc.Name,
			SiteRef:            loc.SiteRef,
			Status:             model.RunStatusPending,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "orchestrator: create run for %s/%s", loc.Specialty, loc.Location)
		}
		runs = append(runs, *run)
	}

	runIDs := make([]string, 0, len(runs))
	for i := range runs {
		runIDs = append(runIDs, runs[i].ID)
	}
	o.deps.Batches.Register(req.BatchID, req.AccountID, runIDs)
	return runs, nil
}

// Run prepares and processes the batch in one call.
func (o *Orchestrator) Run(ctx context.Context, req BatchRequest) error {
	runs, err := o.PrepareBatch(ctx, req)
	if err != nil {
		return err
	}
	return o.RunPrepared(ctx, req, runs)
}

// RunPrepared processes pre-created runs sequentially. One location
// exhausting its retries fails the whole batch: every run, completed ones
// included, is overwritten to failed so callers never mistake a partial
// batch for a finished one.
func (o *Orchestrator) RunPrepared(ctx context.Context, req BatchRequest, runs []model.RankingRun) error {
	log := zap.L().With(
		zap.String("batch_id", req.BatchID),
		zap.String("account_id", req.AccountID),
	)
	log.Info("batch started", zap.Int("locations", len(runs)))

	policy := resilience.Fixed(o.opts.MaxRetries, o.opts.RetryDelay)

	for i := range runs {
		run := &runs[i]
		o.deps.Batches.LocationStarted(req.BatchID, i, run.Location)

		attemptLog := resilience.Logged("orchestrator", fmt.Sprintf("location %s/%s", run.Specialty, run.Location))
		policy.OnAttempt = func(attempt int, err error) {
			attemptLog(attempt, err)
			o.deps.Batches.RecordFailure(req.BatchID, run.Location, err.Error(), attempt)
		}

		attempts := 0
		outcome, err := resilience.DoValue(ctx, policy, func(ctx context.Context) (*model.RunOutcome, error) {
			attempts++
			return o.processLocation(ctx, req, run)
		})
		if err != nil {
			// The retry policy only reports attempts it is about to retry;
			// the final attempt is recorded here so the batch state
			// reflects every attempt made.
			o.deps.Batches.RecordFailure(req.BatchID, run.Location, err.Error(), attempts)

			message := fmt.Sprintf("location %s/%s failed after %d attempts: %s",
				run.Specialty, run.Location, attempts, err.Error())
			o.failBatch(ctx, req, runs, message)
			return eris.Wrap(err, "orchestrator: batch failed")
		}

		// The analysis handoff sits outside the retry boundary: a failure
		// here completes the run without analysis instead of burning the
		// batch's retry budget.
		o.handoffAnalysis(ctx, req, run, outcome)

		if err := o.deps.Steps.Transition(ctx, run.ID, status.StepDone, "ranking complete"); err != nil {
			message := fmt.Sprintf("persist completion for %s/%s: %s", run.Specialty, run.Location, err.Error())
			o.failBatch(ctx, req, runs, message)
			return eris.Wrap(err, "orchestrator: batch failed")
		}
		o.deps.Steps.Forget(run.ID)
		o.deps.Batches.LocationDone(req.BatchID)
	}

	o.deps.Batches.Complete(req.BatchID)
	log.Info("batch completed")

	if o.deps.Notifier != nil {
		o.deps.Notifier.Send(ctx, notify.Notification{
			Tenant:   req.AccountID,
			Title:    "Ranking batch completed",
			Body:     fmt.Sprintf("%d location(s) ranked", len(runs)),
			Category: notify.CategoryBatchCompleted,
			Metadata: map[string]any{"batch_id": req.BatchID, "locations": len(runs)},
		})
	}
	return nil
}

// failBatch overwrites every run in the batch to failed and records the
// batch failure.
func (o *Orchestrator) failBatch(ctx context.Context, req BatchRequest, runs []model.RankingRun, message string) {
	n, err := o.deps.Store.FailBatch(ctx, req.BatchID, message)
	if err != nil {
		zap.L().Error("failed to mark batch runs failed",
			zap.String("batch_id", req.BatchID),
			zap.Error(err),
		)
	}
	for i := range runs {
		o.deps.Steps.Forget(runs[i].ID)
	}
	o.deps.Batches.Fail(req.BatchID, message)

	zap.L().Error("batch failed",
		zap.String("batch_id", req.BatchID),
		zap.Int("runs_marked_failed", n),
		zap.String("message", message),
	)

	if o.deps.Notifier != nil {
		o.deps.Notifier.Send(ctx, notify.Notification{
			Tenant:   req.AccountID,
			Title:    "Ranking batch failed",
			Body:     message,
			Category: notify.CategoryBatchFailed,
			Metadata: map[string]any{"batch_id": req.BatchID},
		})
	}
}

// evidence is the raw per-stage data persisted with a run for the dashboard
// and the analysis webhook.
type evidence struct {
	Profile     *gbp.Profile            `json:"profile,omitempty"`
	Search      *gsc.SearchData         `json:"search,omitempty"`
	Audit       *audit.Result           `json:"audit,omitempty"`
	Competitors []ranking.Ranked        `json:"competitors"`
	Benchmarks  *ranking.BenchmarkStats `json:"benchmarks,omitempty"`
}

// processLocation runs the gathering and scoring stages for one location.
// It is the retry unit: any error returned here counts as a failed attempt.
func (o *Orchestrator) processLocation(ctx context.Context, req BatchRequest, run *model.RankingRun) (*model.RunOutcome, error) {
	steps := o.deps.Steps

	// Business profile.
	if err := steps.Transition(ctx, run.ID, status.StepFetchingProfile, "fetching business profile"); err != nil {
		return nil, err
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -metricsWindowDays)
	profile, err := o.fetchProfile(ctx, req, run, from, to)
	if err != nil {
		return nil, err
	}

	// Search performance, when the site is registered.
	if err := steps.Transition(ctx, run.ID, status.StepFetchingSearch, "fetching search performance"); err != nil {
		return nil, err
	}
	var search *gsc.SearchData
	if run.SiteRef != "" && o.deps.GSC != nil {
		search, err = o.deps.GSC.FetchSearch(ctx, req.Auth, run.SiteRef, from, to)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: fetch search data")
		}
	}

	// Competitor discovery, cache first.
	if err := steps.Transition(ctx, run.ID, status.StepDiscovering, "discovering competitors"); err != nil {
		return nil, err
	}
	identities, err := o.discoverCompetitors(ctx, run)
	if err != nil {
		return nil, err
	}

	// Detail enrichment; a wholesale failure degrades to discovery data.
	if err := steps.Transition(ctx, run.ID, status.StepScraping, "collecting competitor details"); err != nil {
		return nil, err
	}
	details := o.enrichCompetitors(ctx, run, identities)

	// The client's own listing must not compete against itself.
	clientName := run.LocationName
	if clientName == "" && profile != nil {
		clientName = profile.Name
	}
	details = filterClientListing(details, clientName)

	// Website audit is best-effort.
	if err := steps.Transition(ctx, run.ID, status.StepAuditing, "auditing website"); err != nil {
		return nil, err
	}
	auditResult := o.auditWebsite(ctx, req, run)

	// Scoring.
	if err := steps.Transition(ctx, run.ID, status.StepCalculating, "calculating ranking scores"); err != nil {
		return nil, err
	}
	outcome, ev, err := o.score(run, profile, details)
	if err != nil {
		return nil, err
	}
	ev.Profile = profile
	ev.Search = search
	ev.Audit = auditResult

	evidenceJSON, err := json.Marshal(ev)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: marshal evidence")
	}
	outcome.Evidence = evidenceJSON

	if err := o.deps.Store.UpdateRunResult(ctx, run.ID, outcome); err != nil {
		return nil, eris.Wrap(err, "orchestrator: persist run result")
	}
	return outcome, nil
}

func (o *Orchestrator) fetchProfile(ctx context.Context, req BatchRequest, run *model.RankingRun, from, to time.Time) (*gbp.Profile, error) {
	if run.ProviderAccountID == "" || run.ProviderLocationID == "" {
		return nil, nil
	}
	refs := []gbp.LocationRef{{
		AccountID:  run.ProviderAccountID,
		LocationID: run.ProviderLocationID,
		Name:       run.LocationName,
	}}
	data, err := o.deps.GBP.FetchProfile(ctx, req.Auth, refs, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: fetch business profile")
	}
	if len(data.Profiles) == 0 {
		return nil, eris.Errorf("orchestrator: no profile returned for location %s", run.ProviderLocationID)
	}
	return &data.Profiles[0], nil
}

func (o *Orchestrator) discoverCompetitors(ctx context.Context, run *model.RankingRun) ([]places.CompetitorIdentity, error) {
	if cached := o.deps.Cache.Get(ctx, run.Specialty, run.Location); cached != nil {
		return cached, nil
	}

	query := fmt.Sprintf("%s near %s", run.Specialty, run.Location)
	identities, err := o.deps.Places.Discover(ctx, query, o.opts.DiscoveryLimit)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: discover competitors")
	}
	o.deps.Cache.Set(ctx, run.Specialty, run.Location, identities)
	return identities, nil
}

// enrichCompetitors fetches full competitor details, degrading to
// discovery-level data when enrichment fails wholesale.
func (o *Orchestrator) enrichCompetitors(ctx context.Context, run *model.RankingRun, identities []places.CompetitorIdentity) []places.CompetitorDetail {
	if len(identities) == 0 {
		return nil
	}

	placeIDs := make([]string, 0, len(identities))
	for _, id := range identities {
		placeIDs = append(placeIDs, id.PlaceID)
	}

	details, err := o.deps.Places.Enrich(ctx, placeIDs, ranking.SpecialtyKeywords(run.Specialty))
	if err != nil || len(details) == 0 {
		if err != nil {
			zap.L().Warn("competitor enrichment failed, using discovery data",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
		fallback := make([]places.CompetitorDetail, 0, len(identities))
		for _, id := range identities {
			fallback = append(fallback, places.CompetitorDetail{CompetitorIdentity: id})
		}
		return fallback
	}
	return details
}

func (o *Orchestrator) auditWebsite(ctx context.Context, req BatchRequest, run *model.RankingRun) *audit.Result {
	if o.deps.Audit == nil || req.Domain == "" {
		return nil
	}
	url := req.Domain
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	result, err := o.deps.Audit.Audit(ctx, url)
	if err != nil {
		zap.L().Warn("website audit failed, continuing without audit data",
			zap.String("run_id", run.ID),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil
	}
	return result
}

// score ranks the client against its filtered competitor set.
func (o *Orchestrator) score(run *model.RankingRun, profile *gbp.Profile, competitors []places.CompetitorDetail) (*model.RunOutcome, *evidence, error) {
	client := practiceFromProfile(run, profile)

	practices := make([]ranking.PracticeData, 0, len(competitors)+1)
	practices = append(practices, client)
	for _, c := range competitors {
		practices = append(practices, practiceFromDetail(c))
	}

	ranked := o.deps.Engine.Rank(practices, run.Specialty)
	entry := ranking.PositionOf(ranked, client.PlaceID, client.Name)
	if entry == nil {
		return nil, nil, eris.New("orchestrator: client missing from ranked set")
	}

	stats := ranking.ComputeBenchmarks(practices[1:])

	score := entry.Result.TotalScore
	position := entry.Position
	total := len(competitors)
	outcome := &model.RunOutcome{
		RankScore:        &score,
		RankPosition:     &position,
		TotalCompetitors: &total,
		Factors:          &entry.Result.Factors,
	}
	ev := &evidence{
		Competitors: ranked,
		Benchmarks:  &stats,
	}
	return outcome, ev, nil
}

// handoffAnalysis posts the run's evidence to the external analysis
// webhook. Single attempt; failure leaves the analysis field empty.
func (o *Orchestrator) handoffAnalysis(ctx context.Context, req BatchRequest, run *model.RankingRun, outcome *model.RunOutcome) {
	if o.deps.Analysis == nil || outcome == nil {
		return
	}
	if err := o.deps.Steps.Transition(ctx, run.ID, status.StepAwaitingAnalysis, "awaiting external analysis"); err != nil {
		zap.L().Warn("failed to record analysis step", zap.String("run_id", run.ID), zap.Error(err))
	}

	factorsJSON, err := json.Marshal(outcome.Factors)
	if err != nil {
		zap.L().Warn("marshal factors for analysis", zap.String("run_id", run.ID), zap.Error(err))
		return
	}

	payload := analysis.Payload{
		RunID:     run.ID,
		BatchID:   req.BatchID,
		AccountID: req.AccountID,
		Domain:    req.Domain,
		Specialty: run.Specialty,
		Location:  run.Location,
		Factors:   factorsJSON,
		Evidence:  outcome.Evidence,
	}
	if outcome.RankScore != nil {
		payload.RankScore = *outcome.RankScore
	}
	if outcome.RankPosition != nil {
		payload.RankPosition = *outcome.RankPosition
	}
	if outcome.TotalCompetitors != nil {
		payload.TotalCompetitors = *outcome.TotalCompetitors
	}

	result, err := resilience.DoValue(ctx, resilience.Once(), func(ctx context.Context) (json.RawMessage, error) {
		return o.deps.Analysis.Analyze(ctx, payload)
	})
	if err != nil {
		zap.L().Warn("analysis handoff failed, run completes without analysis",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
		return
	}
	if err := o.deps.Store.UpdateRunAnalysis(ctx, run.ID, result); err != nil {
		zap.L().Error("failed to persist analysis result",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

// practiceFromProfile builds the client's scoring input. A missing profile
// degrades to worst-case factor inputs rather than failing the run.
func practiceFromProfile(run *model.RankingRun, profile *gbp.Profile) ranking.PracticeData {
	if profile == nil {
		name := run.LocationName
		if name == "" {
			name = run.Domain
		}
		return ranking.PracticeData{Name: name}
	}
	return ranking.PracticeData{
		PlaceID:           profile.LocationID,
		Name:              profile.Name,
		PrimaryCategory:   profile.PrimaryCategory,
		Categories:        profile.Categories,
		TotalReviews:      profile.TotalReviews,
		AverageRating:     profile.AverageRating,
		ReviewsLast30Days: profile.ReviewsLast30Days,
		HasWebsite:        profile.HasWebsite,
		HasPhone:          profile.HasPhone,
		HoursEntries:      profile.HoursEntries,
		PostsLast90Days:   profile.PostsLast90Days,
		PhotoCount:        profile.PhotoCount,
		DescriptionLength: profile.DescriptionLength,
	}
}

func practiceFromDetail(d places.CompetitorDetail) ranking.PracticeData {
	return ranking.PracticeData{
		PlaceID:           d.PlaceID,
		Name:              d.Name,
		PrimaryCategory:   d.Category,
		Categories:        d.Categories,
		TotalReviews:      d.ReviewCount,
		AverageRating:     d.Rating,
		ReviewsLast30Days: d.ReviewsLast30Days,
		HasWebsite:        d.HasWebsite,
		HasPhone:          d.HasPhone,
		HoursEntries:      d.HoursEntries,
		PostsLast90Days:   d.PostsLast90Days,
		PhotoCount:        d.PhotoCount,
		DescriptionLength: d.DescriptionLength,
		SentimentScore:    d.SentimentScore,
	}
}

// filterClientListing drops the client's own listing from the competitor
// set. Best-effort heuristic: exact name equality, or containment where the
// shorter name covers more than half the longer one.
func filterClientListing(competitors []places.CompetitorDetail, clientName string) []places.CompetitorDetail {
	if clientName == "" {
		return competitors
	}
	client := strings.ToLower(strings.TrimSpace(clientName))

	out := competitors[:0]
	for _, c := range competitors {
		if !matchesClient(strings.ToLower(strings.TrimSpace(c.Name)), client) {
			out = append(out, c)
		}
	}
	return out
}

func matchesClient(name, client string) bool {
	if name == "" {
		return false
	}
	if name == client {
		return true
	}
	shorter, longer := name, client
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	return strings.Contains(longer, shorter) && len(shorter)*2 > len(longer)
}
