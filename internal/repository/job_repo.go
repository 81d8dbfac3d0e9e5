package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agncf/netbackup/internal/models"
)

// listJobsLimit caps the job listing. History beyond the cap is reachable
// through per-device history, not the global list.
const listJobsLimit = 100

// JobRepository defines the interface for backup job and result persistence.
// Counter updates are additive in SQL so concurrent writers never lose an
// increment.
type JobRepository interface {
	Create(ctx context.Context, job *models.BackupJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BackupJob, error)
	List(ctx context.Context) ([]*models.BackupJob, error)
	CountRunning(ctx context.Context) (int, error)
	MarkStarted(ctx context.Context, jobID uuid.UUID) error
	MarkTerminal(ctx context.Context, jobID uuid.UUID, state models.JobState) error
	IncrementCompleted(ctx context.Context, jobID uuid.UUID) error
	IncrementFailed(ctx context.Context, jobID uuid.UUID) error

	CreateResult(ctx context.Context, result *models.BackupResult) error
	GetResult(ctx context.Context, id uuid.UUID) (*models.BackupResult, error)
	ListResultsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.BackupResult, error)
	ListResultsByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*models.BackupResult, error)
	LatestSuccessfulResult(ctx context.Context, deviceID uuid.UUID) (*models.BackupResult, error)
}

type jobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Create(ctx context.Context, job *models.BackupJob) error {
	query := `
		INSERT INTO backup_jobs (id, triggered_by, state, total)
		VALUES ($1, $2, $3, $4)
		RETURNING triggered_at`

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.State == "" {
		job.State = models.JobStateRunning
	}
	return r.pool.QueryRow(ctx, query,
		job.ID,
		job.TriggeredBy,
		job.State,
		job.Total,
	).Scan(&job.TriggeredAt)
}

func (r *jobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.BackupJob, error) {
	query := `
		SELECT id, triggered_at, triggered_by, state, total, completed, failed, started_at, completed_at
		FROM backup_jobs WHERE id = $1`

	var job models.BackupJob
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.TriggeredAt,
		&job.TriggeredBy,
		&job.State,
		&job.Total,
		&job.Completed,
		&job.Failed,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) List(ctx context.Context) ([]*models.BackupJob, error) {
	query := `
		SELECT id, triggered_at, triggered_by, state, total, completed, failed, started_at, completed_at
		FROM backup_jobs
		ORDER BY triggered_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, listJobsLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.BackupJob
	for rows.Next() {
		var job models.BackupJob
		if err := rows.Scan(
			&job.ID,
			&job.TriggeredAt,
			&job.TriggeredBy,
			&job.State,
			&job.Total,
			&job.Completed,
			&job.Failed,
			&job.StartedAt,
			&job.CompletedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) CountRunning(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM backup_jobs WHERE state = $1`,
		models.JobStateRunning,
	).Scan(&count)
	return count, err
}

func (r *jobRepo) MarkStarted(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE backup_jobs SET started_at = now() WHERE id = $1 AND started_at IS NULL`,
		jobID)
	return err
}

func (r *jobRepo) MarkTerminal(ctx context.Context, jobID uuid.UUID, state models.JobState) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE backup_jobs SET state = $2, completed_at = now() WHERE id = $1 AND completed_at IS NULL`,
		jobID, state)
	return err
}

func (r *jobRepo) IncrementCompleted(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE backup_jobs SET completed = completed + 1 WHERE id = $1`, jobID)
	return err
}

func (r *jobRepo) IncrementFailed(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE backup_jobs SET failed = failed + 1 WHERE id = $1`, jobID)
	return err
}

func (r *jobRepo) CreateResult(ctx context.Context, result *models.BackupResult) error {
	query := `
		INSERT INTO backup_results (id, job_id, device_id, state, content_hash, commit_id, error_message, duration_ms, backed_up_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, query,
		result.ID,
		result.JobID,
		result.DeviceID,
		result.State,
		result.ContentHash,
		result.CommitID,
		result.Error,
		result.DurationMS,
		result.BackedUpAt,
	)
	return err
}

func (r *jobRepo) GetResult(ctx context.Context, id uuid.UUID) (*models.BackupResult, error) {
	query := resultSelect + ` WHERE id = $1`

	var result models.BackupResult
	err := r.pool.QueryRow(ctx, query, id).Scan(resultFields(&result)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *jobRepo) ListResultsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.BackupResult, error) {
	query := resultSelect + ` WHERE job_id = $1 ORDER BY backed_up_at`
	return r.queryResults(ctx, query, jobID)
}

func (r *jobRepo) ListResultsByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*models.BackupResult, error) {
	query := resultSelect + ` WHERE device_id = $1 ORDER BY backed_up_at DESC LIMIT $2`
	return r.queryResults(ctx, query, deviceID, limit)
}

func (r *jobRepo) LatestSuccessfulResult(ctx context.Context, deviceID uuid.UUID) (*models.BackupResult, error) {
	query := resultSelect + ` WHERE device_id = $1 AND state = $2 ORDER BY backed_up_at DESC LIMIT 1`

	var result models.BackupResult
	err := r.pool.QueryRow(ctx, query, deviceID, models.ResultSuccess).Scan(resultFields(&result)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

const resultSelect = `
	SELECT id, job_id, device_id, state, content_hash, commit_id, error_message, duration_ms, backed_up_at
	FROM backup_results`

func resultFields(result *models.BackupResult) []any {
	return []any{
		&result.ID,
		&result.JobID,
		&result.DeviceID,
		&result.State,
		&result.ContentHash,
		&result.CommitID,
		&result.Error,
		&result.DurationMS,
		&result.BackedUpAt,
	}
}

func (r *jobRepo) queryResults(ctx context.Context, query string, args ...any) ([]*models.BackupResult, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.BackupResult
	for rows.Next() {
		var result models.BackupResult
		if err := rows.Scan(resultFields(&result)...); err != nil {
			return nil, err
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}
