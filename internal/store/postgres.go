package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/discovery-pipeline/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_listings (
	external_id   TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	company       TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	applicants    INTEGER,
	posted_label  TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	match_score   INTEGER NOT NULL DEFAULT 0,
	raw_data      JSONB,
	discovered_at TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const selectColumns = `external_id, title, company, location, description, applicants,
	posted_label, source, url, is_active, match_score, raw_data, discovered_at`

// PostgresStore upserts jobs into the job_listings table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates job_listings when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create job_listings: %w", err)
	}
	return nil
}

// Upsert merges each record in its own transaction so one bad row cannot
// fail the batch.
func (s *PostgresStore) Upsert(ctx context.Context, jobs []model.ValidatedJob) model.UpsertOutcome {
	var out model.UpsertOutcome
	for _, j := range jobs {
		action, err := s.upsertOne(ctx, j)
		if err != nil {
			slog.Warn("upsert failed", "external_id", j.ExternalID, "err", err)
			out.Add(model.RecordOutcome{ExternalID: j.ExternalID, Action: model.ActionFailed, Err: err})
			continue
		}
		out.Add(model.RecordOutcome{ExternalID: j.ExternalID, Action: action})
	}
	return out
}

func (s *PostgresStore) upsertOne(ctx context.Context, j model.ValidatedJob) (model.UpsertAction, error) {
	if j.ExternalID == "" {
		return model.ActionFailed, errors.New("empty external_id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.ActionFailed, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM job_listings WHERE external_id = $1 FOR UPDATE`, j.ExternalID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		tag, err := tx.Exec(ctx,
			`INSERT INTO job_listings (`+selectColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (external_id) DO NOTHING`,
			jobArgs(j)...,
		)
		if err != nil {
			return model.ActionFailed, fmt.Errorf("insert: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Lost a race with a concurrent insert; merge on the next run.
			return model.ActionUnchanged, tx.Commit(ctx)
		}
		if err := tx.Commit(ctx); err != nil {
			return model.ActionFailed, fmt.Errorf("commit: %w", err)
		}
		return model.ActionInserted, nil
	case err != nil:
		return model.ActionFailed, fmt.Errorf("select: %w", err)
	}

	merged, changed := Merge(existing, j)
	if !changed {
		return model.ActionUnchanged, nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE job_listings
		 SET title = $2, company = $3, location = $4, description = $5, applicants = $6,
		     posted_label = $7, source = $8, url = $9, is_active = $10, match_score = $11,
		     raw_data = $12, discovered_at = $13, updated_at = NOW()
		 WHERE external_id = $1`,
		jobArgs(merged)...,
	); err != nil {
		return model.ActionFailed, fmt.Errorf("update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.ActionFailed, fmt.Errorf("commit: %w", err)
	}
	return model.ActionUpdated, nil
}

// Get returns the stored record for externalID.
func (s *PostgresStore) Get(ctx context.Context, externalID string) (model.ValidatedJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM job_listings WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ValidatedJob{}, ErrNotFound
	}
	if err != nil {
		return model.ValidatedJob{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func jobArgs(j model.ValidatedJob) []any {
	var raw []byte
	if len(j.RawData) > 0 {
		raw = j.RawData
	}
	discovered := j.DiscoveredAt
	if discovered.IsZero() {
		discovered = time.Now().UTC()
	}
	return []any{
		j.ExternalID, j.Title, j.Company, j.Location, j.Description, j.Applicants,
		j.PostedLabel, string(j.Source), j.URL, j.IsActive, j.MatchScore, raw, discovered,
	}
}

func scanJob(row pgx.Row) (model.ValidatedJob, error) {
	var (
		j      model.ValidatedJob
		source string
		raw    []byte
	)
	err := row.Scan(
		&j.ExternalID, &j.Title, &j.Company, &j.Location, &j.Description, &j.Applicants,
		&j.PostedLabel, &source, &j.URL, &j.IsActive, &j.MatchScore, &raw, &j.DiscoveredAt,
	)
	if err != nil {
		return model.ValidatedJob{}, err
	}
	j.Source = model.SourceTier(source)
	if len(raw) > 0 {
		j.RawData = raw
	}
	return j, nil
}
