package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agncf/netbackup/internal/crypto"
	"github.com/agncf/netbackup/internal/models"
	apierrors "github.com/agncf/netbackup/internal/pkg/errors"
	"github.com/agncf/netbackup/internal/repository"
)

// CreateSiteRequest creates a site. RepoName defaults to "site-<code>".
type CreateSiteRequest struct {
	Code     string `json:"code" validate:"required,max=32,lowercase,alphanum"`
	Name     string `json:"name" validate:"required,max=128"`
	RepoName string `json:"repo_name" validate:"omitempty,max=100"`
}

// CreateCredentialRequest creates a credential set. The password is sealed
// before it reaches storage and is never returned by any endpoint.
type CreateCredentialRequest struct {
	Label    string `json:"label" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

// CreateDeviceRequest registers a device in the inventory.
type CreateDeviceRequest struct {
	Hostname     string     `json:"hostname" validate:"required,hostname_rfc1123"`
	Address      string     `json:"address" validate:"required,max=255"`
	Platform     string     `json:"platform" validate:"required"`
	SiteID       uuid.UUID  `json:"site_id" validate:"required"`
	CredentialID *uuid.UUID `json:"credential_id"`
	Enabled      *bool      `json:"enabled"`
}

// UpdateDeviceRequest changes mutable device fields. Nil fields are left
// untouched.
type UpdateDeviceRequest struct {
	Address      *string    `json:"address" validate:"omitempty,max=255"`
	CredentialID *uuid.UUID `json:"credential_id"`
	Enabled      *bool      `json:"enabled"`
}

// InventoryService manages sites, credential sets, and devices.
type InventoryService interface {
	CreateSite(ctx context.Context, req CreateSiteRequest) (*models.Site, error)
	ListSites(ctx context.Context) ([]*models.Site, error)
	GetSite(ctx context.Context, id uuid.UUID) (*models.Site, error)
	DeleteSite(ctx context.Context, id uuid.UUID) error

	CreateCredential(ctx context.Context, req CreateCredentialRequest) (*models.CredentialSet, error)
	ListCredentials(ctx context.Context) ([]*models.CredentialSet, error)
	DeleteCredential(ctx context.Context, id uuid.UUID) error

	CreateDevice(ctx context.Context, req CreateDeviceRequest) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	UpdateDevice(ctx context.Context, id uuid.UUID, req UpdateDeviceRequest) (*models.Device, error)
	DeleteDevice(ctx context.Context, id uuid.UUID) error
}

type inventoryService struct {
	sites    repository.SiteRepository
	creds    repository.CredentialRepository
	devices  repository.DeviceRepository
	sealer   *crypto.Sealer
	validate *validator.Validate
	logger   *slog.Logger
}

// NewInventoryService creates a new inventory service.
func NewInventoryService(
	sites repository.SiteRepository,
	creds repository.CredentialRepository,
	devices repository.DeviceRepository,
	sealer *crypto.Sealer,
	logger *slog.Logger,
) InventoryService {
	return &inventoryService{
		sites:    sites,
		creds:    creds,
		devices:  devices,
		sealer:   sealer,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *inventoryService) CreateSite(ctx context.Context, req CreateSiteRequest) (*models.Site, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apierrors.NewValidationError("request", err.Error())
	}

	repoName := req.RepoName
	if repoName == "" {
		repoName = "site-" + req.Code
	}
	site := &models.Site{
		ID:       uuid.New(),
		Code:     req.Code,
		Name:     req.Name,
		RepoName: repoName,
	}
	if err := s.sites.Create(ctx, site); err != nil {
		if isUniqueViolation(err) {
			return nil, apierrors.NewConflictError("a site with this code already exists")
		}
		s.logger.Error("cannot create site", "error", err)
		return nil, apierrors.ErrInternal
	}
	return site, nil
}

func (s *inventoryService) ListSites(ctx context.Context) ([]*models.Site, error) {
	sites, err := s.sites.List(ctx)
	if err != nil {
		s.logger.Error("cannot list sites", "error", err)
		return nil, apierrors.ErrInternal
	}
	return sites, nil
}

func (s *inventoryService) GetSite(ctx context.Context, id uuid.UUID) (*models.Site, error) {
	site, err := s.sites.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("cannot load site", "site_id", id, "error", err)
		return nil, apierrors.ErrInternal
	}
	if site == nil {
		return nil, apierrors.NewNotFoundError("Site")
	}
	return site, nil
}

func (s *inventoryService) DeleteSite(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetSite(ctx, id); err != nil {
		return err
	}
	if err := s.sites.Delete(ctx, id); err != nil {
		s.logger.Error("cannot delete site", "site_id", id, "error", err)
		return apierrors.ErrInternal
	}
	return nil
}

func (s *inventoryService) CreateCredential(ctx context.Context, req CreateCredentialRequest) (*models.CredentialSet, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apierrors.NewValidationError("request", err.Error())
	}

	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		s.logger.Error("cannot seal credential password", "label", req.Label, "error", err)
		return nil, apierrors.ErrInternal
	}
	cred := &models.CredentialSet{
		ID:             uuid.New(),
		Label:          req.Label,
		Username:       req.Username,
		SealedPassword: sealed,
	}
	if err := s.creds.Create(ctx, cred); err != nil {
		if isUniqueViolation(err) {
			return nil, apierrors.NewConflictError("a credential set with this label already exists")
		}
		s.logger.Error("cannot create credential set", "error", err)
		return nil, apierrors.ErrInternal
	}
	return cred, nil
}

func (s *inventoryService) ListCredentials(ctx context.Context) ([]*models.CredentialSet, error) {
	creds, err := s.creds.List(ctx)
	if err != nil {
		s.logger.Error("cannot list credential sets", "error", err)
		return nil, apierrors.ErrInternal
	}
	return creds, nil
}

func (s *inventoryService) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	cred, err := s.creds.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("cannot load credential set", "credential_id", id, "error", err)
		return apierrors.ErrInternal
	}
	if cred == nil {
		return apierrors.NewNotFoundError("Credential set")
	}
	if err := s.creds.Delete(ctx, id); err != nil {
		s.logger.Error("cannot delete credential set", "credential_id", id, "error", err)
		return apierrors.ErrInternal
	}
	return nil
}

func (s *inventoryService) CreateDevice(ctx context.Context, req CreateDeviceRequest) (*models.Device, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apierrors.NewValidationError("request", err.Error())
	}
	platform := models.Platform(req.Platform)
	if !platform.Valid() {
		return nil, apierrors.NewValidationError("platform", "unknown platform: "+req.Platform)
	}
	if _, err := s.GetSite(ctx, req.SiteID); err != nil {
		return nil, err
	}
	if req.CredentialID != nil {
		cred, err := s.creds.GetByID(ctx, *req.CredentialID)
		if err != nil {
			s.logger.Error("cannot load credential set", "credential_id", *req.CredentialID, "error", err)
			return nil, apierrors.ErrInternal
		}
		if cred == nil {
			return nil, apierrors.NewNotFoundError("Credential set")
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	device := &models.Device{
		ID:           uuid.New(),
		Hostname:     req.Hostname,
		Address:      req.Address,
		Platform:     platform,
		SiteID:       req.SiteID,
		CredentialID: req.CredentialID,
		Enabled:      enabled,
	}
	if err := s.devices.Create(ctx, device); err != nil {
		if isUniqueViolation(err) {
			return nil, apierrors.NewConflictError("a device with this hostname already exists at the site")
		}
		s.logger.Error("cannot create device", "error", err)
		return nil, apierrors.ErrInternal
	}
	return device, nil
}

func (s *inventoryService) ListDevices(ctx context.Context) ([]*models.Device, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		s.logger.Error("cannot list devices", "error", err)
		return nil, apierrors.ErrInternal
	}
	return devices, nil
}

func (s *inventoryService) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	device, err := s.devices.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("cannot load device", "device_id", id, "error", err)
		return nil, apierrors.ErrInternal
	}
	if device == nil {
		return nil, apierrors.NewNotFoundError("Device")
	}
	return device, nil
}

func (s *inventoryService) UpdateDevice(ctx context.Context, id uuid.UUID, req UpdateDeviceRequest) (*models.Device, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apierrors.NewValidationError("request", err.Error())
	}
	device, err := s.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Address != nil {
		device.Address = *req.Address
	}
	if req.CredentialID != nil {
		device.CredentialID = req.CredentialID
	}
	if req.Enabled != nil {
		device.Enabled = *req.Enabled
	}
	if err := s.devices.Update(ctx, device); err != nil {
		s.logger.Error("cannot update device", "device_id", id, "error", err)
		return nil, apierrors.ErrInternal
	}
	return device, nil
}

func (s *inventoryService) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetDevice(ctx, id); err != nil {
		return err
	}
	if err := s.devices.Delete(ctx, id); err != nil {
		s.logger.Error("cannot delete device", "device_id", id, "error", err)
		return apierrors.ErrInternal
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
