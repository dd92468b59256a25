package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/practicepulse/ranking-cli/internal/cache"
	"github.com/practicepulse/ranking-cli/internal/config"
	"github.com/practicepulse/ranking-cli/internal/notify"
	"github.com/practicepulse/ranking-cli/internal/orchestrator"
	"github.com/practicepulse/ranking-cli/internal/ranking"
	"github.com/practicepulse/ranking-cli/internal/status"
	"github.com/practicepulse/ranking-cli/internal/store"
	"github.com/practicepulse/ranking-cli/pkg/analysis"
	"github.com/practicepulse/ranking-cli/pkg/audit"
	"github.com/practicepulse/ranking-cli/pkg/gbp"
	"github.com/practicepulse/ranking-cli/pkg/gsc"
	"github.com/practicepulse/ranking-cli/pkg/places"
)

// pipelineEnv holds the initialized store, clients, and orchestrator shared
// by the analyze/serve/cache commands.
type pipelineEnv struct {
	Store        store.Store
	Cache        *cache.Competitors
	Orchestrator *orchestrator.Orchestrator
	Batches      *orchestrator.Tracker
	Pool         *orchestrator.Pool
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Pool != nil {
		pe.Pool.Shutdown()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, all API clients, and the orchestrator. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	competitorCache := cache.New(st, time.Duration(cfg.Cache.CompetitorTTLDays)*24*time.Hour)
	steps := status.NewTracker(st)
	batches := orchestrator.NewTracker(st)

	engine := ranking.NewEngine(ranking.Benchmarks{
		ReviewCountMax:   cfg.Ranking.ReviewBenchmarkMax,
		VelocityPerMonth: cfg.Ranking.VelocityBenchmark,
		PostsPer90Days:   cfg.Ranking.PostBenchmark,
		PhotoCap:         cfg.Ranking.PhotoCap,
		DescriptionCap:   cfg.Ranking.DescriptionCap,
	})

	gbpClient := initGBP(cfg.GBP)
	gscClient := initGSC(cfg.GSC)
	placesClient := initPlaces(cfg.Places)
	auditClient := initAudit(cfg.Audit)
	analysisClient := initAnalysis(cfg.Analysis)

	orch := orchestrator.New(orchestrator.Deps{
		Store:    st,
		Cache:    competitorCache,
		Steps:    steps,
		Batches:  batches,
		Engine:   engine,
		GBP:      gbpClient,
		GSC:      gscClient,
		Places:   placesClient,
		Audit:    auditClient,
		Analysis: analysisClient,
		Notifier: notify.New(cfg.Notify.WebhookURL),
	}, orchestrator.Options{
		MaxRetries:     cfg.Batch.MaxRetries,
		RetryDelay:     time.Duration(cfg.Batch.RetryDelaySecs) * time.Second,
		DiscoveryLimit: cfg.Places.DiscoveryLimit,
	})

	pool := orchestrator.NewPool(orch, cfg.Batch.MaxConcurrentBatches, cfg.Batch.QueueSize)

	return &pipelineEnv{
		Store:        st,
		Cache:        competitorCache,
		Orchestrator: orch,
		Batches:      batches,
		Pool:         pool,
	}, nil
}

func httpClientFor(timeoutSecs int) *http.Client {
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}

func initGBP(c config.GBPConfig) gbp.Client {
	var opts []gbp.Option
	if c.BaseURL != "" {
		opts = append(opts, gbp.WithBaseURL(c.BaseURL))
	}
	if c.TimeoutSecs > 0 {
		opts = append(opts, gbp.WithHTTPClient(httpClientFor(c.TimeoutSecs)))
	}
	return gbp.NewClient(opts...)
}

func initGSC(c config.GSCConfig) gsc.Client {
	var opts []gsc.Option
	if c.BaseURL != "" {
		opts = append(opts, gsc.WithBaseURL(c.BaseURL))
	}
	if c.TimeoutSecs > 0 {
		opts = append(opts, gsc.WithHTTPClient(httpClientFor(c.TimeoutSecs)))
	}
	return gsc.NewClient(opts...)
}

func initPlaces(c config.PlacesConfig) places.Client {
	opts := []places.Option{places.WithRateLimit(c.RatePerSec)}
	if c.BaseURL != "" {
		opts = append(opts, places.WithBaseURL(c.BaseURL))
	}
	if c.TimeoutSecs > 0 {
		opts = append(opts, places.WithHTTPClient(httpClientFor(c.TimeoutSecs)))
	}
	return places.NewClient(c.Key, opts...)
}

func initAudit(c config.AuditConfig) audit.Client {
	var opts []audit.Option
	if c.BaseURL != "" {
		opts = append(opts, audit.WithBaseURL(c.BaseURL))
	}
	if c.TimeoutSecs > 0 {
		opts = append(opts, audit.WithHTTPClient(httpClientFor(c.TimeoutSecs)))
	}
	return audit.NewClient(c.Key, opts...)
}

// initAnalysis returns nil when no webhook is configured; the orchestrator
// then skips the analysis stage.
func initAnalysis(c config.AnalysisConfig) analysis.Client {
	if c.WebhookURL == "" {
		zap.L().Debug("RANK_ANALYSIS_WEBHOOK_URL not set, analysis stage disabled")
		return nil
	}
	return analysis.NewClient(c.WebhookURL,
		analysis.WithTimeout(time.Duration(c.TimeoutSecs)*time.Second))
}
