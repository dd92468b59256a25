package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/ranking"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ranking_runs (
	id                   TEXT PRIMARY KEY,
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
	rank_score           REAL,
	rank_position        INTEGER,
	total_competitors    INTEGER,
	factors              TEXT,
	evidence             TEXT,
	analysis             TEXT,
	status_detail        TEXT,
	error_message        TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS competitor_cache (
	key         TEXT PRIMARY KEY,
	specialty   TEXT NOT NULL,
	location    TEXT NOT NULL,
	competitors TEXT NOT NULL,
	count       INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ranking_runs_batch_id ON ranking_runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_ranking_runs_status ON ranking_runs(status);
CREATE INDEX IF NOT EXISTS idx_ranking_runs_account_id ON ranking_runs(account_id);
CREATE INDEX IF NOT EXISTS idx_competitor_cache_expires_at ON competitor_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.RankingRun) (*model.RankingRun, error) {
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

	detailJSON, err := marshalNullable(created.StatusDetail)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal status detail")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ranking_runs (
			id, batch_id, account_id, domain, specialty, location,
			provider_account_id, provider_location_id, location_name, site_ref,
			status, status_detail, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.BatchID, created.AccountID, created.Domain,
		created.Specialty, created.Location, created.ProviderAccountID,
		created.ProviderLocationID, created.LocationName, created.SiteRef,
		string(created.Status), detailJSON, created.ErrorMessage, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &created, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RankingRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ranking_runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RankingRun, error) {
	query := `SELECT ` + runColumns + ` FROM ranking_runs WHERE 1=1`
	var args []any

	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RankingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ranking_runs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errorMessage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunStatusDetail(ctx context.Context, runID string, status model.RunStatus, detail *model.StatusDetail) error {
	detailJSON, err := marshalNullable(detail)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal status detail")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ranking_runs SET status = ?, status_detail = ?, updated_at = ? WHERE id = ?`,
		string(status), detailJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status detail %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, outcome *model.RunOutcome) error {
	factorsJSON, err := marshalNullable(outcome.Factors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal factors")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ranking_runs
		 SET rank_score = ?, rank_position = ?, total_competitors = ?,
		     factors = ?, evidence = ?, updated_at = ?
		 WHERE id = ?`,
		outcome.RankScore, outcome.RankPosition, outcome.TotalCompetitors,
		factorsJSON, nullableRaw(outcome.Evidence), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunAnalysis(ctx context.Context, runID string, analysis json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ranking_runs SET analysis = ?, updated_at = ? WHERE id = ?`,
		nullableRaw(analysis), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run analysis %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailBatch(ctx context.Context, batchID string, message string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ranking_runs SET status = ?, error_message = ?, updated_at = ? WHERE batch_id = ?`,
		string(model.RunStatusFailed), message, time.Now().UTC(), batchID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: fail batch %s", batchID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CountRunsByStatus(ctx context.Context, batchID string) (map[model.RunStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM ranking_runs WHERE batch_id = ? GROUP BY status`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: count runs for batch %s", batchID)
	}
	defer rows.Close()

	counts := make(map[model.RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.RunStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count runs iterate")
}

func (s *SQLiteStore) GetCompetitorCache(ctx context.Context, key string) (*model.CompetitorCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, specialty, location, competitors, count, created_at, expires_at
		 FROM competitor_cache
		 WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	)

	var entry model.CompetitorCacheEntry
	var competitorsJSON string
	err := row.Scan(&entry.Key, &entry.Specialty, &entry.Location, &competitorsJSON,
		&entry.Count, &entry.CreatedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get competitor cache")
	}
	if err := json.Unmarshal([]byte(competitorsJSON), &entry.Competitors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached competitors")
	}
	return &entry, nil
}

func (s *SQLiteStore) SetCompetitorCache(ctx context.Context, entry *model.CompetitorCacheEntry) error {
	competitorsJSON, err := json.Marshal(entry.Competitors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal competitors")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO competitor_cache (key, specialty, location, competitors, count, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			specialty = excluded.specialty,
			location = excluded.location,
			competitors = excluded.competitors,
			count = excluded.count,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.Key, entry.Specialty, entry.Location, string(competitorsJSON),
		entry.Count, entry.CreatedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "sqlite: set competitor cache")
}

func (s *SQLiteStore) DeleteCompetitorCache(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM competitor_cache WHERE key = ?`, key)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: delete competitor cache")
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DeleteExpiredCompetitorCaches(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM competitor_cache WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired competitor caches")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

const runColumns = `id, batch_id, account_id, domain, specialty, location,
	provider_account_id, provider_location_id, location_name, site_ref,
	status, rank_score, rank_position, total_competitors,
	factors, evidence, analysis, status_detail, error_message,
	created_at, updated_at`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	// Typed nil pointers marshal to "null"; store SQL NULL instead.
	switch t := v.(type) {
	case *model.StatusDetail:
		if t == nil {
			return nil, nil
		}
	case *ranking.Factors:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.RankingRun, error) {
	var r model.RankingRun
	var status string
	var rankScore sql.NullFloat64
	var rankPosition, totalCompetitors sql.NullInt64
	var factorsJSON, evidenceJSON, analysisJSON, detailJSON, errorMessage sql.NullString

	err := row.Scan(
		&r.ID, &r.BatchID, &r.AccountID, &r.Domain, &r.Specialty, &r.Location,
		&r.ProviderAccountID, &r.ProviderLocationID, &r.LocationName, &r.SiteRef,
		&status, &rankScore, &rankPosition, &totalCompetitors,
		&factorsJSON, &evidenceJSON, &analysisJSON, &detailJSON, &errorMessage,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	r.Status = model.RunStatus(status)
	if rankScore.Valid {
		r.RankScore = &rankScore.Float64
	}
	if rankPosition.Valid {
		pos := int(rankPosition.Int64)
		r.RankPosition = &pos
	}
	if totalCompetitors.Valid {
		total := int(totalCompetitors.Int64)
		r.TotalCompetitors = &total
	}
	if errorMessage.Valid {
		r.ErrorMessage = errorMessage.String
	}
	if factorsJSON.Valid && factorsJSON.String != "" {
		r.Factors = &ranking.Factors{}
		if err := json.Unmarshal([]byte(factorsJSON.String), r.Factors); err != nil {
			return nil, eris.Wrap(err, "unmarshal factors")
		}
	}
	if evidenceJSON.Valid && evidenceJSON.String != "" {
		r.Evidence = json.RawMessage(evidenceJSON.String)
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		r.Analysis = json.RawMessage(analysisJSON.String)
	}
	if detailJSON.Valid && detailJSON.String != "" {
		r.StatusDetail = &model.StatusDetail{}
		if err := json.Unmarshal([]byte(detailJSON.String), r.StatusDetail); err != nil {
			return nil, eris.Wrap(err, "unmarshal status detail")
		}
	}
	return &r, nil
}
