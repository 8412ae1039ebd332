package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fundscan/internal/domain"
)

// errorMessageLimit bounds the error_message column; longer messages truncate.
const errorMessageLimit = 500

// Schema is the DDL this subsystem relies on. The unique index on dedup_key
// is the authoritative duplicate guard (see internal/dedup).
const Schema = `
CREATE TABLE IF NOT EXISTS deals (
    id               BIGSERIAL PRIMARY KEY,
    company          TEXT NOT NULL,
    category         TEXT NOT NULL,
    amount_usd       BIGINT NOT NULL DEFAULT 0,
    announced_date   DATE,
    investors        TEXT[],
    dedup_key        TEXT NOT NULL,
    amount_dedup_key TEXT,
    source_url       TEXT,
    source_tag       TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS deals_dedup_key_uq ON deals (dedup_key);
CREATE INDEX IF NOT EXISTS deals_amount_dedup_key_idx ON deals (amount_dedup_key);

CREATE TABLE IF NOT EXISTS deal_sources (
    deal_id    BIGINT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
    url        TEXT NOT NULL,
    source_tag TEXT,
    added_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (deal_id, url)
);
CREATE INDEX IF NOT EXISTS deal_sources_url_idx ON deal_sources (url);

CREATE TABLE IF NOT EXISTS scan_jobs (
    id             UUID PRIMARY KEY,
    label          TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'running',
    started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at   TIMESTAMPTZ,
    last_heartbeat TIMESTAMPTZ,
    error_message  TEXT
);
CREATE INDEX IF NOT EXISTS scan_jobs_status_idx ON scan_jobs (status);
`

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore opens a pool with the given connection ceiling. The job
// guard and the reaper open their own small pools so liveness writes cannot
// be starved by the orchestrator's workload.
func NewPostgresStore(ctx context.Context, connStr string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// EnsureSchema applies the DDL. Idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

// ExistingSourceURLs reports which of the given URLs already belong to a
// stored deal. Empty input returns an empty map with no round trip.
func (s *PostgresStore) ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(urls) == 0 {
		return result, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT url FROM deal_sources WHERE url = ANY($1)`, urls)
	if err != nil {
		return nil, fmt.Errorf("query existing urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		result[u] = true
	}
	return result, rows.Err()
}

// FindDealByKeys returns one stored deal whose primary or amount key matches
// any of the given keys, or nil when none does.
func (s *PostgresStore) FindDealByKeys(ctx context.Context, keys []string) (*domain.Deal, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var d domain.Deal
	err := s.db.QueryRow(ctx,
		`SELECT id, company, category, amount_usd, announced_date, dedup_key,
		        COALESCE(amount_dedup_key, ''), COALESCE(source_url, ''), COALESCE(source_tag, '')
		   FROM deals
		  WHERE dedup_key = ANY($1) OR amount_dedup_key = ANY($1)
		  LIMIT 1`, keys,
	).Scan(&d.ID, &d.Company, &d.Category, &d.AmountUSD, &d.AnnouncedDate,
		&d.DedupKey, &d.AmountDedupKey, &d.SourceURL, &d.SourceTag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find deal by keys: %w", err)
	}
	return &d, nil
}

// InsertDeal writes the deal with insert-or-ignore semantics on dedup_key.
// A conflicting insert is silently dropped and the existing row's id is
// returned with inserted=false. The deal's own source link is recorded in the
// same transaction so the URL pre-filter sees it next run.
func (s *PostgresStore) InsertDeal(ctx context.Context, deal *domain.Deal) (int64, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	var id int64
	inserted := true
	err = tx.QueryRow(ctx,
		`INSERT INTO deals (company, category, amount_usd, announced_date, investors,
		                    dedup_key, amount_dedup_key, source_url, source_tag)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
		 ON CONFLICT (dedup_key) DO NOTHING
		 RETURNING id`,
		deal.Company, deal.Category, deal.AmountUSD, deal.AnnouncedDate, deal.Investors,
		deal.DedupKey, deal.AmountDedupKey, deal.SourceURL, deal.SourceTag,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		inserted = false
		err = tx.QueryRow(ctx,
			`SELECT id FROM deals WHERE dedup_key = $1`, deal.DedupKey).Scan(&id)
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert deal: %w", err)
	}

	if deal.SourceURL != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO deal_sources (deal_id, url, source_tag) VALUES ($1, $2, $3)
			 ON CONFLICT (deal_id, url) DO NOTHING`,
			id, deal.SourceURL, deal.SourceTag)
		if err != nil {
			return 0, false, fmt.Errorf("insert deal source: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	deal.ID = id
	return id, inserted, nil
}

// AttachSourceLink records an additional provenance URL on an existing deal.
func (s *PostgresStore) AttachSourceLink(ctx context.Context, dealID int64, url, sourceTag string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deal_sources (deal_id, url, source_tag) VALUES ($1, $2, $3)
		 ON CONFLICT (deal_id, url) DO NOTHING`,
		dealID, url, sourceTag)
	return err
}

// CreateJob inserts a running job row with an initial heartbeat.
func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.ScanJob) error {
	now := time.Now().UTC()
	job.Status = domain.JobRunning
	job.StartedAt = now
	job.LastHeartbeat = &now
	_, err := s.db.Exec(ctx,
		`INSERT INTO scan_jobs (id, label, status, started_at, last_heartbeat)
		 VALUES ($1, $2, $3, $4, $4)`,
		job.ID, job.Label, job.Status, now)
	return err
}

// Heartbeat refreshes the job's liveness timestamp. A job that has already
// reached a terminal status is left untouched.
func (s *PostgresStore) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scan_jobs SET last_heartbeat = now()
		  WHERE id = $1 AND status = $2`,
		jobID, domain.JobRunning)
	return err
}

// FinishJob performs the idempotent terminal transition. Only a still-running
// row is updated; the returned bool reports whether this call made the
// transition.
func (s *PostgresStore) FinishJob(ctx context.Context, jobID, status, errMsg string) (bool, error) {
	if len(errMsg) > errorMessageLimit {
		errMsg = errMsg[:errorMessageLimit]
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE scan_jobs
		    SET status = $2, completed_at = now(), error_message = NULLIF($3, '')
		  WHERE id = $1 AND status = $4`,
		jobID, status, errMsg, domain.JobRunning)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReapStale fails every running job whose heartbeat (or start time, for jobs
// that never wrote one) is older than the threshold. Idempotent: reaped rows
// are no longer running.
func (s *PostgresStore) ReapStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE scan_jobs
		    SET status = $1,
		        completed_at = now(),
		        error_message = 'reaped: heartbeat stale for ' ||
		            (now() - COALESCE(last_heartbeat, started_at))::text
		  WHERE status = $2
		    AND COALESCE(last_heartbeat, started_at) < now() - make_interval(secs => $3)`,
		domain.JobFailed, domain.JobRunning, staleAfter.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LatestJob returns the most recently started job, or nil when none exists.
func (s *PostgresStore) LatestJob(ctx context.Context) (*domain.ScanJob, error) {
	var (
		j      domain.ScanJob
		errMsg *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, label, status, started_at, completed_at, last_heartbeat, error_message
		   FROM scan_jobs
		  ORDER BY started_at DESC
		  LIMIT 1`,
	).Scan(&j.ID, &j.Label, &j.Status, &j.StartedAt, &j.CompletedAt, &j.LastHeartbeat, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	return &j, nil
}
