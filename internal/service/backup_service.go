// Package service implements the business logic between handlers and storage.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agncf/netbackup/internal/gitea"
	"github.com/agncf/netbackup/internal/models"
	apierrors "github.com/agncf/netbackup/internal/pkg/errors"
	"github.com/agncf/netbackup/internal/repository"
)

// deviceHistoryLimit is how many recent results the per-device history
// endpoint returns.
const deviceHistoryLimit = 5

// jobRunner executes one backup job to completion.
type jobRunner interface {
	RunJob(ctx context.Context, job *models.BackupJob, targets []models.BackupTarget)
}

// differ produces the diff between the last two revisions of a file.
type differ interface {
	Diff(ctx context.Context, repo, path string) (string, error)
}

// StartJobRequest selects which devices a backup job covers. Empty selectors
// mean every enabled device. SiteID is a single-site shorthand; SiteIDs is
// the general form and the two are merged.
type StartJobRequest struct {
	DeviceIDs   []uuid.UUID `json:"device_ids" validate:"omitempty,dive,required"`
	SiteID      *uuid.UUID  `json:"site_id" validate:"omitempty"`
	SiteIDs     []uuid.UUID `json:"site_ids" validate:"omitempty,dive,required"`
	Platforms   []string    `json:"platforms" validate:"omitempty,dive,required"`
	TriggeredBy string      `json:"triggered_by" validate:"omitempty,max=128"`
}

// JobDetail is a job together with its per-device results.
type JobDetail struct {
	Job     *models.BackupJob      `json:"job"`
	Results []*models.BackupResult `json:"results"`
}

// BackupService starts and inspects backup jobs.
type BackupService interface {
	StartJob(ctx context.Context, req StartJobRequest) (*models.BackupJob, error)
	ListJobs(ctx context.Context) ([]*models.BackupJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*JobDetail, error)
	DeviceHistory(ctx context.Context, deviceID uuid.UUID) ([]*models.BackupResult, error)
	ResultDiff(ctx context.Context, resultID uuid.UUID) (string, error)
	Shutdown()
}

type backupService struct {
	devices    repository.DeviceRepository
	sites      repository.SiteRepository
	jobs       repository.JobRepository
	engine     jobRunner
	diffs      differ
	validate   *validator.Validate
	logger     *slog.Logger
	maxRunning int

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	running sync.WaitGroup
}

// NewBackupService creates a new backup service. maxRunning bounds how many
// jobs may be in flight at once.
func NewBackupService(
	devices repository.DeviceRepository,
	sites repository.SiteRepository,
	jobs repository.JobRepository,
	engine jobRunner,
	diffs differ,
	maxRunning int,
	logger *slog.Logger,
) BackupService {
	return &backupService{
		devices:    devices,
		sites:      sites,
		jobs:       jobs,
		engine:     engine,
		diffs:      diffs,
		validate:   validator.New(),
		logger:     logger,
		maxRunning: maxRunning,
		cancels:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartJob resolves the selector to concrete targets, persists the job row,
// and runs the engine in the background. The selectors intersect: a device
// must match every non-empty dimension to be included.
func (s *backupService) StartJob(ctx context.Context, req StartJobRequest) (*models.BackupJob, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apierrors.NewValidationError("request", err.Error())
	}

	filter := repository.TargetFilter{
		DeviceIDs: req.DeviceIDs,
		SiteIDs:   req.SiteIDs,
	}
	if req.SiteID != nil {
		filter.SiteIDs = append(filter.SiteIDs, *req.SiteID)
	}
	for _, raw := range req.Platforms {
		platform := models.Platform(raw)
		if !platform.Valid() {
			return nil, apierrors.NewValidationError("platforms", "unknown platform: "+raw)
		}
		filter.Platforms = append(filter.Platforms, platform)
	}

	targets, err := s.devices.ListTargets(ctx, filter)
	if err != nil {
		s.logger.Error("cannot load backup targets", "error", err)
		return nil, apierrors.ErrInternal
	}
	if len(targets) == 0 {
		return nil, apierrors.ErrBadRequest.WithMessage("selection matches no enabled devices")
	}

	running, err := s.jobs.CountRunning(ctx)
	if err != nil {
		s.logger.Error("cannot count running jobs", "error", err)
		return nil, apierrors.ErrInternal
	}
	if running >= s.maxRunning {
		return nil, apierrors.NewConflictError("another backup job is already running")
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}
	job := &models.BackupJob{
		ID:          uuid.New(),
		TriggeredBy: triggeredBy,
		State:       models.JobStateRunning,
		Total:       len(targets),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.logger.Error("cannot create job", "error", err)
		return nil, apierrors.ErrInternal
	}

	// The job outlives the HTTP request; it is cancelled only by Shutdown.
	jobCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, job.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.engine.RunJob(jobCtx, job, targets)
	}()

	return job, nil
}

func (s *backupService) ListJobs(ctx context.Context) ([]*models.BackupJob, error) {
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		s.logger.Error("cannot list jobs", "error", err)
		return nil, apierrors.ErrInternal
	}
	return jobs, nil
}

func (s *backupService) GetJob(ctx context.Context, id uuid.UUID) (*JobDetail, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("cannot load job", "job_id", id, "error", err)
		return nil, apierrors.ErrInternal
	}
	if job == nil {
		return nil, apierrors.NewNotFoundError("Job")
	}

	results, err := s.jobs.ListResultsByJob(ctx, id)
	if err != nil {
		s.logger.Error("cannot load job results", "job_id", id, "error", err)
		return nil, apierrors.ErrInternal
	}
	return &JobDetail{Job: job, Results: results}, nil
}

func (s *backupService) DeviceHistory(ctx context.Context, deviceID uuid.UUID) ([]*models.BackupResult, error) {
	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		s.logger.Error("cannot load device", "device_id", deviceID, "error", err)
		return nil, apierrors.ErrInternal
	}
	if device == nil {
		return nil, apierrors.NewNotFoundError("Device")
	}

	results, err := s.jobs.ListResultsByDevice(ctx, deviceID, deviceHistoryLimit)
	if err != nil {
		s.logger.Error("cannot load device history", "device_id", deviceID, "error", err)
		return nil, apierrors.ErrInternal
	}
	return results, nil
}

// ResultDiff returns the unified diff between the backup recorded by
// resultID and the previous revision of the same device's file.
func (s *backupService) ResultDiff(ctx context.Context, resultID uuid.UUID) (string, error) {
	result, err := s.jobs.GetResult(ctx, resultID)
	if err != nil {
		s.logger.Error("cannot load result", "result_id", resultID, "error", err)
		return "", apierrors.ErrInternal
	}
	if result == nil {
		return "", apierrors.NewNotFoundError("Backup result")
	}
	if result.State != models.ResultSuccess {
		return "", apierrors.NewConflictError("backup result has no committed configuration")
	}

	device, err := s.devices.GetByID(ctx, result.DeviceID)
	if err != nil {
		s.logger.Error("cannot load device", "device_id", result.DeviceID, "error", err)
		return "", apierrors.ErrInternal
	}
	if device == nil {
		return "", apierrors.NewNotFoundError("Device")
	}
	site, err := s.sites.GetByID(ctx, device.SiteID)
	if err != nil || site == nil {
		s.logger.Error("cannot load site", "site_id", device.SiteID, "error", err)
		return "", apierrors.ErrInternal
	}

	diff, err := s.diffs.Diff(ctx, site.RepoName, device.Hostname+".txt")
	if errors.Is(err, gitea.ErrSingleRevision) {
		return "", apierrors.NewConflictError("only one revision exists; nothing to compare")
	}
	if err != nil {
		s.logger.Error("cannot diff revisions", "device_id", device.ID, "error", err)
		return "", apierrors.ErrServiceUnavailable.WithMessage("repository service unavailable")
	}
	return diff, nil
}

// Shutdown cancels every running job and waits for their engines to record
// terminal state.
func (s *backupService) Shutdown() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		s.logger.Info("cancelling job for shutdown", "job_id", id)
		cancel()
	}
	s.mu.Unlock()
	s.running.Wait()
}
