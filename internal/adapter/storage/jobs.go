package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibrahimkeyboad/gowallet/internal/core/worker"
)

// JobRepository is the webhook outbox read by the worker.
type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Enqueue(ctx context.Context, url string, payload []byte) error {
	_, err := r.db.Exec(ctx, `INSERT INTO webhook_jobs (url, payload) VALUES ($1, $2)`, url, payload)
	return err
}

// Next locks the oldest due job with SKIP LOCKED so several API instances
// can run workers against the same table. A PROCESSING job whose lease ran
// out belonged to a worker that died, so it is due again.
func (r *JobRepository) Next(ctx context.Context) (*worker.Job, error) {
	query := `
		UPDATE webhook_jobs
		SET status = 'PROCESSING', locked_until = NOW() + $1::interval
		WHERE id = (
			SELECT id FROM webhook_jobs
			WHERE (status = 'PENDING' AND next_run_at <= NOW())
			   OR (status = 'PROCESSING' AND locked_until <= NOW())
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, url, payload, attempts
	`
	var job worker.Job
	err := r.db.QueryRow(ctx, query, worker.ProcessingLease).Scan(&job.ID, &job.URL, &job.Payload, &job.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) Complete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE webhook_jobs SET status = 'COMPLETED' WHERE id = $1`, id)
	return err
}

func (r *JobRepository) Retry(ctx context.Context, id string, nextRun time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE webhook_jobs
		SET status = 'PENDING', attempts = attempts + 1, next_run_at = $2
		WHERE id = $1`, id, nextRun)
	return err
}

func (r *JobRepository) Fail(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE webhook_jobs SET status = 'FAILED' WHERE id = $1`, id)
	return err
}
