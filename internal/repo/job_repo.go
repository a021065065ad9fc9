package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/backoff"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
)

type JobRepo struct {
	db         *sql.DB
	maxRetries int
}

func NewJobRepo(db *sql.DB, maxRetries int) *JobRepo {
	if maxRetries <= 0 {
		maxRetries = backoff.DefaultMaxRetries
	}
	return &JobRepo{db: db, maxRetries: maxRetries}
}

const jobColumns = `id, document_id, job_type, status, priority, retry_count, max_retries,
		scheduled_at, started_at, completed_at, error_message, payload_json, ctime, mtime`

func scanJob(scanner interface{ Scan(...interface{}) error }) (*model.Job, error) {
	var job model.Job
	var jobType, status string
	var payloadJSON string
	if err := scanner.Scan(
		&job.ID,
		&job.DocumentID,
		&jobType,
		&status,
		&job.Priority,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ErrorMessage,
		&payloadJSON,
		&job.Ctime,
		&job.Mtime,
	); err != nil {
		return nil, err
	}
	job.Type = model.JobType(jobType)
	job.Status = model.JobStatus(status)
	if payloadJSON != "" {
		_ = json.Unmarshal([]byte(payloadJSON), &job.Payload)
	}
	return &job, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *JobRepo) insertJob(ctx context.Context, db execer, documentID string, jobType model.JobType,
	payload model.JobPayload, priority int, delay time.Duration) (string, error) {
	if !jobType.Valid() {
		return "", appErr.ErrInvalid
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	now := timeutil.NowUnix()
	id := newID()
	const query = `
		INSERT INTO jobs (id, document_id, job_type, status, priority, retry_count, max_retries,
			scheduled_at, started_at, completed_at, error_message, payload_json, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, 0, 0, '', $8, $9, $10)
	`
	_, err = db.ExecContext(ctx, query,
		id,
		documentID,
		string(jobType),
		string(model.JobStatusQueued),
		priority,
		r.maxRetries,
		now+int64(delay/time.Second),
		string(payloadJSON),
		now,
		now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Enqueue inserts a queued job due after the given delay.
func (r *JobRepo) Enqueue(ctx context.Context, documentID string, jobType model.JobType,
	payload model.JobPayload, priority int, delay time.Duration) (string, error) {
	return r.insertJob(ctx, r.db, documentID, jobType, payload, priority, delay)
}

// ClaimDue atomically moves up to capacity due jobs to running and returns
// them. The conditional update over a locked subselect is the only
// synchronization point between workers; two workers can never claim the
// same row.
func (r *JobRepo) ClaimDue(ctx context.Context, capacity int) ([]*model.Job, error) {
	if capacity <= 0 {
		return nil, nil
	}
	now := timeutil.NowUnix()
	const query = `
		UPDATE jobs SET status = 'running', started_at = $1, mtime = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('queued', 'retrying') AND scheduled_at <= $1
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AND status IN ('queued', 'retrying')
		RETURNING ` + jobColumns
	rows, err := r.db.QueryContext(ctx, query, now, capacity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Complete transitions running -> completed. A job no longer running (a
// lost race with the watchdog or a duplicate execution) is a silent no-op.
func (r *JobRepo) Complete(ctx context.Context, jobID string) (bool, error) {
	now := timeutil.NowUnix()
	const query = `
		UPDATE jobs SET status = 'completed', completed_at = $1, mtime = $1
		WHERE id = $2 AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query, now, jobID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompleteAndEnqueue finishes a running job and inserts its successor in
// one transaction, so a failure between the two writes can never leave a
// mid-pipeline document with no live job. An empty nextType completes the
// job without a successor. Returns false without writing anything when
// the job is no longer running.
func (r *JobRepo) CompleteAndEnqueue(ctx context.Context, jobID string, documentID string,
	nextType model.JobType, payload model.JobPayload, priority int, delay time.Duration) (bool, string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", err
	}
	defer tx.Rollback()
	now := timeutil.NowUnix()
	const query = `
		UPDATE jobs SET status = 'completed', completed_at = $1, mtime = $1
		WHERE id = $2 AND status = 'running'
	`
	res, err := tx.ExecContext(ctx, query, now, jobID)
	if err != nil {
		return false, "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if affected == 0 {
		return false, "", nil
	}
	var nextID string
	if nextType != "" {
		nextID, err = r.insertJob(ctx, tx, documentID, nextType, payload, priority, delay)
		if err != nil {
			return false, "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, "", err
	}
	return true, nextID, nil
}

// Fail moves a running job to retrying with backoff, or to terminal failed
// once retries are exhausted or the error is not retryable. Returns the
// status the job ended up in; JobStatusRunning means the CAS lost a race
// and nothing was changed.
func (r *JobRepo) Fail(ctx context.Context, jobID string, errMsg string, retryable bool) (model.JobStatus, error) {
	job, err := r.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusRunning {
		return job.Status, nil
	}
	now := timeutil.NowUnix()
	next := model.JobStatusFailed
	scheduledAt := job.ScheduledAt
	retryCount := job.RetryCount
	if retryable && job.RetryCount < job.MaxRetries {
		next = model.JobStatusRetrying
		scheduledAt = now + int64(backoff.Delay(job.RetryCount)/time.Second)
		retryCount = job.RetryCount + 1
	}
	const query = `
		UPDATE jobs SET status = $1, retry_count = $2, scheduled_at = $3, error_message = $4, mtime = $5
		WHERE id = $6 AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query,
		string(next), retryCount, scheduledAt, errMsg, now, jobID)
	if err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return model.JobStatusRunning, nil
	}
	return next, nil
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// FindByCorrelation maps a parsing-service job id back to the internal job
// carrying it in its payload.
func (r *JobRepo) FindByCorrelation(ctx context.Context, externalJobID string) (*model.Job, error) {
	const query = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE payload_json::jsonb ->> 'external_job_id' = $1
		ORDER BY ctime DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, externalJobID)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdatePayload rewrites the job payload; wake additionally pulls the next
// attempt forward to now so a webhook result is picked up immediately.
func (r *JobRepo) UpdatePayload(ctx context.Context, jobID string, payload model.JobPayload, wake bool) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := timeutil.NowUnix()
	query := `UPDATE jobs SET payload_json = $1, mtime = $2 WHERE id = $3`
	args := []interface{}{string(payloadJSON), now, jobID}
	if wake {
		query = `
			UPDATE jobs SET payload_json = $1, mtime = $2,
				scheduled_at = CASE WHEN status IN ('queued', 'retrying') THEN $2 ELSE scheduled_at END
			WHERE id = $3
		`
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// ListStuck returns running jobs started before the cutoff, for the
// watchdog sweep.
func (r *JobRepo) ListStuck(ctx context.Context, startedBefore int64) ([]*model.Job, error) {
	const query = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'running' AND started_at < $1
	`
	rows, err := r.db.QueryContext(ctx, query, startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.JobStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[model.JobStatus(status)] = count
	}
	return out, rows.Err()
}

func (r *JobRepo) CountStuck(ctx context.Context, startedBefore int64) (int64, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE status = 'running' AND started_at < $1`, startedBefore)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *JobRepo) AvgCompletionSeconds(ctx context.Context) (float64, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(completed_at - started_at), 0)
		FROM jobs WHERE status = 'completed' AND started_at > 0
	`)
	var avg float64
	if err := row.Scan(&avg); err != nil {
		return 0, err
	}
	return avg, nil
}
