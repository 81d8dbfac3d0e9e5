// Package backup contains the job engine and the per-platform retrieval
// pools. A job fans targets out to the CLI and API pools, funnels every
// outcome through a single consumer, and commits scrubbed configurations
// to the per-site repository.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agncf/netbackup/internal/models"
	"github.com/agncf/netbackup/internal/scrub"
)

// fetcher is what the engine needs from a retrieval pool.
type fetcher interface {
	Run(ctx context.Context, targets []models.BackupTarget, out chan<- outcome)
}

// repoClient is what the engine needs from the repository service.
type repoClient interface {
	EnsureRepo(ctx context.Context, repo, description string) error
	CommitFile(ctx context.Context, repo, path string, content []byte, message string) (string, error)
}

// jobStore persists job counters and per-device results. Counter updates
// are additive on the database side, so the engine never reads-modifies-
// writes a counter.
type jobStore interface {
	MarkStarted(ctx context.Context, jobID uuid.UUID) error
	MarkTerminal(ctx context.Context, jobID uuid.UUID, state models.JobState) error
	IncrementCompleted(ctx context.Context, jobID uuid.UUID) error
	IncrementFailed(ctx context.Context, jobID uuid.UUID) error
	CreateResult(ctx context.Context, result *models.BackupResult) error
	LatestSuccessfulResult(ctx context.Context, deviceID uuid.UUID) (*models.BackupResult, error)
}

// Engine runs backup jobs to completion.
type Engine struct {
	cli    fetcher
	api    fetcher
	repo   repoClient
	store  jobStore
	hub    *ProgressHub
	logger *slog.Logger
}

func NewEngine(cli, api fetcher, repo repoClient, store jobStore, hub *ProgressHub, logger *slog.Logger) *Engine {
	return &Engine{
		cli:    cli,
		api:    api,
		repo:   repo,
		store:  store,
		hub:    hub,
		logger: logger,
	}
}

// RunJob executes one backup job. It blocks until every target has a
// recorded result and the job row is terminal. Cancelling ctx stops new
// device attempts; devices not yet attempted are recorded as skipped and the
// job still ends complete. The failed state is reserved for jobs the engine
// could not run at all.
func (e *Engine) RunJob(ctx context.Context, job *models.BackupJob, targets []models.BackupTarget) {
	start := time.Now()
	e.hub.Open(job.ID)
	jobsStarted.Inc()

	if err := e.store.MarkStarted(ctx, job.ID); err != nil {
		e.logger.Error("cannot mark job started", "job_id", job.ID, "error", err)
		e.finish(job, models.JobStateFailed, 0, 0, len(targets), start)
		return
	}
	e.hub.Publish(job.ID, ProgressEvent{
		Type:  "job_started",
		JobID: job.ID,
		Total: len(targets),
		At:    time.Now().UTC(),
	})
	e.logger.Info("backup job started",
		"job_id", job.ID,
		"devices", len(targets),
		"triggered_by", job.TriggeredBy)

	var cliTargets, apiTargets []models.BackupTarget
	for _, target := range targets {
		if target.Platform.IsAPI() {
			apiTargets = append(apiTargets, target)
		} else {
			cliTargets = append(cliTargets, target)
		}
	}

	outcomes := make(chan outcome)
	var pools sync.WaitGroup
	pools.Add(2)
	go func() {
		defer pools.Done()
		e.cli.Run(ctx, cliTargets, outcomes)
	}()
	go func() {
		defer pools.Done()
		e.api.Run(ctx, apiTargets, outcomes)
	}()
	go func() {
		pools.Wait()
		close(outcomes)
	}()

	// Single consumer: all commits, result rows, counter updates, and
	// progress events for this job happen here, in arrival order.
	var completed, failed int
	ensured := make(map[string]error)
	for result := range outcomes {
		switch e.consume(ctx, job, result, ensured) {
		case models.ResultSuccess:
			completed++
		case models.ResultFailed:
			failed++
		}
		e.hub.Publish(job.ID, e.progressFor(job, result, completed, failed, len(targets)))
	}

	// Skipped devices have terminal result rows too, so even a cancelled
	// job ends complete.
	e.finish(job, models.JobStateComplete, completed, failed, len(targets), start)
}

// finish writes the terminal job row, emits metrics, and closes the progress
// stream. It uses a fresh context so a cancelled job still gets closed out.
func (e *Engine) finish(job *models.BackupJob, state models.JobState, completed, failed, total int, start time.Time) {
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.MarkTerminal(finalCtx, job.ID, state); err != nil {
		e.logger.Error("cannot mark job terminal", "job_id", job.ID, "error", err)
	}

	jobsFinished.WithLabelValues(string(state)).Inc()
	jobDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("backup job finished",
		"job_id", job.ID,
		"state", string(state),
		"completed", completed,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())

	eventType := "job_complete"
	if state == models.JobStateFailed {
		eventType = "job_failed"
	}
	e.hub.Close(job.ID, ProgressEvent{
		Type:      eventType,
		JobID:     job.ID,
		State:     string(state),
		Completed: completed,
		Failed:    failed,
		Total:     total,
		At:        time.Now().UTC(),
	})
}

// consume records one outcome and reports the result state it produced.
// Only success and failed move the job counters; skipped rows leave them
// untouched so completed+failed never exceeds total.
func (e *Engine) consume(ctx context.Context, job *models.BackupJob, result outcome, ensured map[string]error) models.ResultState {
	target := result.target

	if result.skipped {
		e.recordSkipped(job, target, result.duration)
		return models.ResultSkipped
	}
	if result.err != nil {
		e.recordFailure(job, target, result.err.Kind, result.err.Message, result.duration)
		return models.ResultFailed
	}

	text, hash := scrub.Scrub(result.raw, target.Platform)

	// The commit happens either way; an unchanged hash is only worth a note
	// in the log, since the commit history is the record of "we checked".
	if prior, err := e.store.LatestSuccessfulResult(ctx, target.DeviceID); err == nil &&
		prior != nil && prior.ContentHash == hash {
		e.logger.Debug("configuration unchanged",
			"job_id", job.ID, "hostname", target.Hostname, "content_hash", hash)
	}

	commitID, devErr := e.commit(ctx, job.ID, target, text, ensured)
	if devErr != nil {
		e.recordFailure(job, target, devErr.Kind, devErr.Message, result.duration)
		return models.ResultFailed
	}

	row := &models.BackupResult{
		ID:          uuid.New(),
		JobID:       job.ID,
		DeviceID:    target.DeviceID,
		State:       models.ResultSuccess,
		ContentHash: hash,
		CommitID:    commitID,
		DurationMS:  result.duration.Milliseconds(),
		BackedUpAt:  time.Now().UTC(),
	}
	if err := e.store.CreateResult(ctx, row); err != nil {
		e.logger.Error("cannot persist result", "job_id", job.ID, "device_id", target.DeviceID, "error", err)
	}
	if err := e.store.IncrementCompleted(ctx, job.ID); err != nil {
		e.logger.Error("cannot increment completed", "job_id", job.ID, "error", err)
	}

	deviceBackups.WithLabelValues(string(models.ResultSuccess), string(target.Platform)).Inc()
	deviceDuration.WithLabelValues(string(target.Platform)).Observe(result.duration.Seconds())
	return models.ResultSuccess
}

// commit ensures the site repository exists and writes the scrubbed config.
// EnsureRepo is memoized per repository for the lifetime of the job. The
// commit is made even when the content hash is unchanged, so the history
// records every successful poll.
func (e *Engine) commit(ctx context.Context, jobID uuid.UUID, target models.BackupTarget, text string, ensured map[string]error) (string, *DeviceError) {
	if _, done := ensured[target.RepoName]; !done {
		ensured[target.RepoName] = e.repo.EnsureRepo(ctx, target.RepoName,
			fmt.Sprintf("Configuration backups for site %s", target.SiteCode))
	}
	if err := ensured[target.RepoName]; err != nil {
		return "", newDeviceError(KindRepositoryUnavailable,
			"repository %s unavailable: %v", target.RepoName, err)
	}

	message := fmt.Sprintf("backup job %s: %s", jobID, target.Hostname)
	commitID, err := e.repo.CommitFile(ctx, target.RepoName, target.Hostname+".txt", []byte(text), message)
	if err != nil {
		return "", newDeviceError(KindRepositoryUnavailable,
			"commit for %s failed: %v", target.Hostname, err)
	}
	return commitID, nil
}

func (e *Engine) recordFailure(job *models.BackupJob, target models.BackupTarget, kind ErrorKind, message string, duration time.Duration) {
	// Failure bookkeeping must survive job cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	row := &models.BackupResult{
		ID:         uuid.New(),
		JobID:      job.ID,
		DeviceID:   target.DeviceID,
		State:      models.ResultFailed,
		Error:      string(kind) + ": " + message,
		DurationMS: duration.Milliseconds(),
		BackedUpAt: time.Now().UTC(),
	}
	if err := e.store.CreateResult(ctx, row); err != nil {
		e.logger.Error("cannot persist result", "job_id", job.ID, "device_id", target.DeviceID, "error", err)
	}
	if err := e.store.IncrementFailed(ctx, job.ID); err != nil {
		e.logger.Error("cannot increment failed", "job_id", job.ID, "error", err)
	}

	deviceBackups.WithLabelValues(string(models.ResultFailed), string(target.Platform)).Inc()
	deviceFailures.WithLabelValues(string(kind)).Inc()
}

// recordSkipped writes a terminal skipped row. Skipped devices carry no
// error and move no job counter.
func (e *Engine) recordSkipped(job *models.BackupJob, target models.BackupTarget, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	row := &models.BackupResult{
		ID:         uuid.New(),
		JobID:      job.ID,
		DeviceID:   target.DeviceID,
		State:      models.ResultSkipped,
		DurationMS: duration.Milliseconds(),
		BackedUpAt: time.Now().UTC(),
	}
	if err := e.store.CreateResult(ctx, row); err != nil {
		e.logger.Error("cannot persist result", "job_id", job.ID, "device_id", target.DeviceID, "error", err)
	}
	deviceBackups.WithLabelValues(string(models.ResultSkipped), string(target.Platform)).Inc()
}

func (e *Engine) progressFor(job *models.BackupJob, result outcome, completed, failed, total int) ProgressEvent {
	deviceID := result.target.DeviceID
	ev := ProgressEvent{
		Type:      "device_result",
		JobID:     job.ID,
		DeviceID:  &deviceID,
		Hostname:  result.target.Hostname,
		Completed: completed,
		Failed:    failed,
		Total:     total,
		At:        time.Now().UTC(),
	}
	switch {
	case result.skipped:
		ev.State = string(models.ResultSkipped)
	case result.err != nil:
		ev.State = string(models.ResultFailed)
		ev.Error = result.err.Error()
	default:
		ev.State = string(models.ResultSuccess)
	}
	return ev
}
