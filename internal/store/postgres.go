package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/practicepulse/ranking-cli/internal/config"
	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/ranking"
)

// PgxPool is the subset of pgxpool.Pool the store uses. Tests satisfy it
// with pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool PgxPool
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_run":              `SELECT ` + pgRunColumns + ` FROM ranking_runs WHERE id = $1`,
	"update_run_status":    `UPDATE ranking_runs SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
	"update_run_detail":    `UPDATE ranking_runs SET status = $1, status_detail = $2, updated_at = $3 WHERE id = $4`,
	"get_competitor_cache": `SELECT key, specialty, location, competitors, count, created_at, expires_at FROM competitor_cache WHERE key = $1 AND expires_at > now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *config.PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Tests use it with pgxmock.
func NewPostgresFromPool(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ranking_runs (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch_id             TEXT NOT NULL,
	account_id           TEXT NOT NULL,
	domain               TEXT NOT NULL DEFAULT '',
	specialty            TEXT NOT NULL,
	location             TEXT NOT NULL,
	provider_account_id  TEXT NOT NULL DEFAULT '',
	provider_location_id TEXT NOT NULL DEFAULT '',
	location_name        TEXT NOT NULL DEFAULT '',
	site_ref             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	rank_score           DOUBLE PRECISION,
	rank_position        INTEGER,
	total_competitors    INTEGER,
	factors              JSONB,
	evidence             JSONB,
	analysis             JSONB,
	status_detail        JSONB,
	error_message        TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS competitor_cache (
	key         TEXT PRIMARY KEY,
	specialty   TEXT NOT NULL,
	location    TEXT NOT NULL,
	competitors JSONB NOT NULL,
	count       INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ranking_runs_batch_id ON ranking_runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_ranking_runs_status ON ranking_runs(status);
CREATE INDEX IF NOT EXISTS idx_ranking_runs_account_id ON ranking_runs(account_id);
CREATE INDEX IF NOT EXISTS idx_competitor_cache_expires_at ON competitor_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

const pgRunColumns = `id, batch_id, account_id, domain, specialty, location,
	provider_account_id, provider_location_id, location_name, site_ref,
	status, rank_score, rank_position, total_competitors,
	factors, evidence, analysis, status_detail, error_message,
	created_at, updated_at`

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.RankingRun) (*model.RankingRun, error) {
	created := *run
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	if created.Status == "" {
		created.Status = model.RunStatusPending
	}
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now

	detailJSON, err := marshalDetail(created.StatusDetail)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal status detail")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ranking_runs (
			id, batch_id, account_id, domain, specialty, location,
			provider_account_id, provider_location_id, location_name, site_ref,
			status, status_detail, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		created.ID, created.BatchID, created.AccountID, created.Domain,
		created.Specialty, created.Location, created.ProviderAccountID,
		created.ProviderLocationID, created.LocationName, created.SiteRef,
		string(created.Status), detailJSON, created.ErrorMessage, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &created, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RankingRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM ranking_runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RankingRun, error) {
	query := `SELECT ` + pgRunColumns + ` FROM ranking_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.BatchID != "" {
		query += fmt.Sprintf(` AND batch_id = $%d`, argIdx)
		args = append(args, filter.BatchID)
		argIdx++
	}
	if filter.AccountID != "" {
		query += fmt.Sprintf(` AND account_id = $%d`, argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at ASC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RankingRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), errorMessage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunStatusDetail(ctx context.Context, runID string, status model.RunStatus, detail *model.StatusDetail) error {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal status detail")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs SET status = $1, status_detail = $2, updated_at = $3 WHERE id = $4`,
		string(status), detailJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status detail %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, outcome *model.RunOutcome) error {
	var factorsJSON []byte
	if outcome.Factors != nil {
		var err error
		factorsJSON, err = json.Marshal(outcome.Factors)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal factors")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs
		 SET rank_score = $1, rank_position = $2, total_competitors = $3,
		     factors = $4, evidence = $5, updated_at = $6
		 WHERE id = $7`,
		outcome.RankScore, outcome.RankPosition, outcome.TotalCompetitors,
		factorsJSON, []byte(outcome.Evidence), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunAnalysis(ctx context.Context, runID string, analysis json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs SET analysis = $1, updated_at = $2 WHERE id = $3`,
		[]byte(analysis), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run analysis %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailBatch(ctx context.Context, batchID string, message string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ranking_runs SET status = $1, error_message = $2, updated_at = $3 WHERE batch_id = $4`,
		string(model.RunStatusFailed), message, time.Now().UTC(), batchID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: fail batch %s", batchID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountRunsByStatus(ctx context.Context, batchID string) (map[model.RunStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM ranking_runs WHERE batch_id = $1 GROUP BY status`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: count runs for batch %s", batchID)
	}
	defer rows.Close()

	counts := make(map[model.RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.RunStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count runs iterate")
}

func (s *PostgresStore) GetCompetitorCache(ctx context.Context, key string) (*model.CompetitorCacheEntry, error) {
	var entry model.CompetitorCacheEntry
	var competitorsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT key, specialty, location, competitors, count, created_at, expires_at
		 FROM competitor_cache
		 WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&entry.Key, &entry.Specialty, &entry.Location, &competitorsJSON,
		&entry.Count, &entry.CreatedAt, &entry.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get competitor cache")
	}
	if err := json.Unmarshal(competitorsJSON, &entry.Competitors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached competitors")
	}
	return &entry, nil
}

func (s *PostgresStore) SetCompetitorCache(ctx context.Context, entry *model.CompetitorCacheEntry) error {
	competitorsJSON, err := json.Marshal(entry.Competitors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal competitors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO competitor_cache (key, specialty, location, competitors, count, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (key) DO UPDATE SET
			specialty = $2, location = $3, competitors = $4, count = $5,
			created_at = $6, expires_at = $7`,
		entry.Key, entry.Specialty, entry.Location, competitorsJSON,
		entry.Count, entry.CreatedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: set competitor cache")
}

func (s *PostgresStore) DeleteCompetitorCache(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM competitor_cache WHERE key = $1`, key)
	if err != nil {
		return false, eris.Wrap(err, "postgres: delete competitor cache")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteExpiredCompetitorCaches(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM competitor_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired competitor caches")
	}
	return int(tag.RowsAffected()), nil
}

func marshalDetail(detail *model.StatusDetail) ([]byte, error) {
	if detail == nil {
		return nil, nil
	}
	return json.Marshal(detail)
}

func scanPgRun(row pgx.Row) (*model.RankingRun, error) {
	var r model.RankingRun
	var status string
	var rankScore *float64
	var rankPosition, totalCompetitors *int
	var factorsJSON, evidenceJSON, analysisJSON, detailJSON []byte

	err := row.Scan(
		&r.ID, &r.BatchID, &r.AccountID, &r.Domain, &r.Specialty, &r.Location,
		&r.ProviderAccountID, &r.ProviderLocationID, &r.LocationName, &r.SiteRef,
		&status, &rankScore, &rankPosition, &totalCompetitors,
		&factorsJSON, &evidenceJSON, &analysisJSON, &detailJSON, &r.ErrorMessage,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = model.RunStatus(status)
	r.RankScore = rankScore
	r.RankPosition = rankPosition
	r.TotalCompetitors = totalCompetitors
	if len(factorsJSON) > 0 {
		r.Factors = &ranking.Factors{}
		if err := json.Unmarshal(factorsJSON, r.Factors); err != nil {
			return nil, eris.Wrap(err, "unmarshal factors")
		}
	}
	if len(evidenceJSON) > 0 {
		r.Evidence = json.RawMessage(evidenceJSON)
	}
	if len(analysisJSON) > 0 {
		r.Analysis = json.RawMessage(analysisJSON)
	}
	if len(detailJSON) > 0 {
		r.StatusDetail = &model.StatusDetail{}
		if err := json.Unmarshal(detailJSON, r.StatusDetail); err != nil {
			return nil, eris.Wrap(err, "unmarshal status detail")
		}
	}
	return &r, nil
}
