package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/orchestrator"
	"github.com/practicepulse/ranking-cli/pkg/gbp"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for batch triggers and status polling",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := newRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API over an initialized environment.
func newRouter(env *pipelineEnv) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/ranking/batches", handleTriggerBatch(env))
	r.Get("/api/ranking/batches/{batchID}", handleBatchStatus(env))
	r.Get("/api/ranking/runs/{runID}", handleGetRun(env))
	return r
}

type triggerBatchRequest struct {
	AccountID   string               `json:"account_id"`
	Domain      string               `json:"domain,omitempty"`
	AccessToken string               `json:"access_token,omitempty"`
	Locations   []model.LocationSpec `json:"locations"`
}

// handleTriggerBatch pre-creates the pending runs synchronously so the
// caller's first status poll already sees every placeholder, then queues the
// batch for processing.
func handleTriggerBatch(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.AccountID == "" {
			writeError(w, http.StatusBadRequest, "account_id is required")
			return
		}
		if len(req.Locations) == 0 {
			writeError(w, http.StatusBadRequest, "at least one location is required")
			return
		}
		for _, loc := range req.Locations {
			if loc.Specialty == "" || loc.Location == "" {
				writeError(w, http.StatusBadRequest, "each location needs specialty and location")
				return
			}
		}

		batchReq := orchestrator.BatchRequest{
			BatchID:   uuid.New().String(),
			AccountID: req.AccountID,
			Domain:    req.Domain,
			Auth: gbp.AuthContext{
				AccountID:   req.AccountID,
				AccessToken: req.AccessToken,
			},
			Locations: req.Locations,
		}

		runs, err := env.Orchestrator.PrepareBatch(r.Context(), batchReq)
		if err != nil {
			zap.L().Error("batch preparation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create batch")
			return
		}

		if err := env.Pool.Enqueue(batchReq, runs); err != nil {
			if errors.Is(err, orchestrator.ErrQueueFull) {
				// Roll the placeholders over to failed so they don't linger
				// as pending forever.
				_, _ = env.Store.FailBatch(r.Context(), batchReq.BatchID, "batch queue full")
				env.Batches.Fail(batchReq.BatchID, "batch queue full")
				writeError(w, http.StatusServiceUnavailable, "batch queue full, retry later")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to queue batch")
			return
		}

		runIDs := make([]string, 0, len(runs))
		for _, run := range runs {
			runIDs = append(runIDs, run.ID)
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"batch_id": batchReq.BatchID,
			"status":   "accepted",
			"run_ids":  runIDs,
		})
	}
}

func handleBatchStatus(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")

		state, err := env.Batches.Status(r.Context(), batchID)
		if err != nil {
			zap.L().Error("batch status query failed", zap.String("batch_id", batchID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to query batch status")
			return
		}
		if state == nil {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func handleGetRun(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")

		run, err := env.Store.GetRun(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
