package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/resized/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	transforms JSONB NOT NULL,
	output JSONB NOT NULL DEFAULT '{}',
	result JSONB,
	object_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, status, source_type, webhook_url, transforms, output, result, object_key, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

var _ JobStore = (*PostgresJobStore)(nil)

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	transformsJSON, err := json.Marshal(job.Transforms)
	if err != nil {
		return fmt.Errorf("marshal job transforms: %w", err)
	}
	outputJSON, err := json.Marshal(job.Output)
	if err != nil {
		return fmt.Errorf("marshal job output: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, status, source_type, webhook_url, transforms, output, object_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		transformsJSON,
		outputJSON,
		job.ObjectKey,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3
		 RETURNING `+jobColumns,
		status,
		time.Now().UTC(),
		id,
	)
	return updatedJob(row, "update job status")
}

func (s *PostgresJobStore) Finish(ctx context.Context, id, status string, result domain.JobResult) (domain.Job, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job result: %w", err)
	}

	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, result = $2, updated_at = $3
		 WHERE id = $4
		 RETURNING `+jobColumns,
		status,
		resultJSON,
		time.Now().UTC(),
		id,
	)
	return updatedJob(row, "finish job")
}

func updatedJob(row *sql.Row, op string) (domain.Job, error) {
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func scanJob(row *sql.Row) (domain.Job, error) {
	var (
		job            domain.Job
		transformsJSON []byte
		outputJSON     []byte
		resultJSON     []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&transformsJSON,
		&outputJSON,
		&resultJSON,
		&job.ObjectKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, err
		}
		return domain.Job{}, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(transformsJSON, &job.Transforms); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job transforms: %w", err)
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &job.Output); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal job output: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result domain.JobResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
