package stats

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store for deployments
// that need the archive to survive restarts.
//
// Expected schema:
//
//	CREATE TABLE usage_records (
//	    id            BIGSERIAL PRIMARY KEY,
//	    lease_id      TEXT NOT NULL,
//	    requester     TEXT NOT NULL,
//	    credential_id TEXT NOT NULL,
//	    success       BOOLEAN NOT NULL,
//	    duration_ms   BIGINT NOT NULL,
//	    units         BIGINT NOT NULL,
//	    error_detail  TEXT NOT NULL DEFAULT '',
//	    recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX usage_records_recorded_at_idx ON usage_records (recorded_at);
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed usage archive.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Record implements Store.Record.
func (s *PostgresStore) Record(ctx context.Context, rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	query := `
		INSERT INTO usage_records (lease_id, requester, credential_id, success, duration_ms, units, error_detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query,
		rec.LeaseID, rec.Requester, rec.CredentialID, rec.Success,
		rec.Duration.Milliseconds(), rec.Units, rec.ErrorDetail, rec.RecordedAt)
	return err
}

// Summarize implements Store.Summarize.
func (s *PostgresStore) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	query := `
		SELECT requester,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COUNT(*) FILTER (WHERE NOT success),
		       COALESCE(SUM(units), 0),
		       COALESCE(SUM(duration_ms), 0),
		       MAX(recorded_at)
		FROM usage_records
		WHERE recorded_at >= $1
		GROUP BY requester
		ORDER BY COUNT(*) DESC, requester ASC
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &Summary{Since: since}
	for rows.Next() {
		var agg RequesterSummary
		var durationMS int64
		if err := rows.Scan(&agg.Requester, &agg.Requests, &agg.Successes, &agg.Failures,
			&agg.UnitsConsumed, &durationMS, &agg.LastUsed); err != nil {
			return nil, err
		}
		agg.TotalDuration = time.Duration(durationMS) * time.Millisecond
		summary.Requesters = append(summary.Requesters, agg)
		summary.TotalRequests += agg.Requests
		summary.TotalUnits += agg.UnitsConsumed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}

// Cleanup implements Store.Cleanup.
func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, "DELETE FROM usage_records WHERE recorded_at < $1", olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
