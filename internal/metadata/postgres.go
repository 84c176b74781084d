package metadata

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const renderJobsSchema = `
	CREATE TABLE IF NOT EXISTS render_jobs (
		job_id      UUID        NOT NULL,
		start_time  TIMESTAMPTZ NOT NULL,
		ttl_seconds BIGINT      NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		source_file TEXT        NOT NULL,
		frame_count INTEGER     NOT NULL CHECK (frame_count > 0),
		output_path TEXT        NOT NULL,
		PRIMARY KEY (job_id, start_time)
	);
	CREATE INDEX IF NOT EXISTS render_jobs_expires_at_idx ON render_jobs (expires_at);
`

// jobRow is the render_jobs table row
type jobRow struct {
	JobID      string    `db:"job_id"`
	StartTime  time.Time `db:"start_time"`
	TTLSeconds int64     `db:"ttl_seconds"`
	ExpiresAt  time.Time `db:"expires_at"`
	SourceFile string    `db:"source_file"`
	FrameCount int       `db:"frame_count"`
	OutputPath string    `db:"output_path"`
}

func toRow(rec *domain.JobRecord) jobRow {
	return jobRow{
		JobID:      rec.JobID,
		StartTime:  rec.StartTime.UTC(),
		TTLSeconds: rec.TTLSeconds(),
		ExpiresAt:  rec.ExpiresAt().UTC(),
		SourceFile: rec.SourceFile,
		FrameCount: rec.FrameCount,
		OutputPath: rec.OutputPath,
	}
}

func (r jobRow) record() *domain.JobRecord {
	return &domain.JobRecord{
		JobID:      r.JobID,
		StartTime:  r.StartTime.UTC(),
		TTL:        time.Duration(r.TTLSeconds) * time.Second,
		SourceFile: r.SourceFile,
		FrameCount: r.FrameCount,
		OutputPath: r.OutputPath,
	}
}

// PostgresStore keeps job records in the render_jobs table.
// Rows are not removed by the database itself; PurgeExpired reclaims them.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed store
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the render_jobs table if needed
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, renderJobsSchema); err != nil {
		return pgDependencyError("metadata.ensure_schema", err)
	}
	return nil
}

// PutJob inserts a job record
func (s *PostgresStore) PutJob(ctx context.Context, rec *domain.JobRecord) error {
	query := `
		INSERT INTO render_jobs (
			job_id, start_time, ttl_seconds, expires_at,
			source_file, frame_count, output_path
		) VALUES (
			:job_id, :start_time, :ttl_seconds, :expires_at,
			:source_file, :frame_count, :output_path
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, toRow(rec)); err != nil {
		return pgDependencyError("metadata.put_job", err)
	}

	s.logger.Debug("Job record stored",
		slog.String("job_id", rec.JobID),
		slog.Int64("ttl_seconds", rec.TTLSeconds()),
	)
	return nil
}

// GetJob returns the latest unexpired record for jobID
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	query := `
		SELECT
			job_id, start_time, ttl_seconds, expires_at,
			source_file, frame_count, output_path
		FROM render_jobs
		WHERE job_id = $1 AND expires_at > NOW()
		ORDER BY start_time DESC
		LIMIT 1
	`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, pgDependencyError("metadata.get_job", err)
	}

	return row.record(), nil
}

// PurgeExpired deletes rows whose TTL has elapsed
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM render_jobs WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, pgDependencyError("metadata.purge_expired", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, pgDependencyError("metadata.purge_expired", err)
	}

	if purged > 0 {
		s.logger.Info("Expired job records purged",
			slog.Int64("count", purged),
		)
	}
	return purged, nil
}

func pgDependencyError(op string, err error) error {
	depErr := domain.NewDependencyError(op, err)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		depErr.Code = string(pqErr.Code)
	}
	return depErr
}
