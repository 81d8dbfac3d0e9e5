package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agncf/netbackup/internal/models"
)

// TargetFilter narrows which enabled devices a backup job covers. Empty
// slices mean "no restriction" for that dimension.
type TargetFilter struct {
	DeviceIDs []uuid.UUID
	SiteIDs   []uuid.UUID
	Platforms []models.Platform
}

// DeviceRepository defines the interface for device inventory operations.
type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
	ListBySite(ctx context.Context, siteID uuid.UUID) ([]*models.Device, error)
	Update(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListTargets loads the backup snapshot for every enabled device that
	// matches the filter, joined with site and credential data, so pool
	// workers never touch the database mid-job.
	ListTargets(ctx context.Context, filter TargetFilter) ([]models.BackupTarget, error)
}

type deviceRepo struct {
	pool *pgxpool.Pool
}

// NewDeviceRepository creates a new device repository.
func NewDeviceRepository(pool *pgxpool.Pool) DeviceRepository {
	return &deviceRepo{pool: pool}
}

func (r *deviceRepo) Create(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, hostname, address, platform, site_id, credential_id, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, query,
		device.ID,
		device.Hostname,
		device.Address,
		device.Platform,
		device.SiteID,
		device.CredentialID,
		device.Enabled,
	).Scan(&device.CreatedAt, &device.UpdatedAt)
}

func (r *deviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `
		SELECT id, hostname, address, platform, site_id, credential_id, enabled, created_at, updated_at
		FROM devices WHERE id = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.Hostname,
		&device.Address,
		&device.Platform,
		&device.SiteID,
		&device.CredentialID,
		&device.Enabled,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) List(ctx context.Context) ([]*models.Device, error) {
	query := `
		SELECT id, hostname, address, platform, site_id, credential_id, enabled, created_at, updated_at
		FROM devices ORDER BY hostname`
	return r.queryDevices(ctx, query)
}

func (r *deviceRepo) ListBySite(ctx context.Context, siteID uuid.UUID) ([]*models.Device, error) {
	query := `
		SELECT id, hostname, address, platform, site_id, credential_id, enabled, created_at, updated_at
		FROM devices WHERE site_id = $1 ORDER BY hostname`
	return r.queryDevices(ctx, query, siteID)
}

func (r *deviceRepo) queryDevices(ctx context.Context, query string, args ...any) ([]*models.Device, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(
			&device.ID,
			&device.Hostname,
			&device.Address,
			&device.Platform,
			&device.SiteID,
			&device.CredentialID,
			&device.Enabled,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, err
		}
		devices = append(devices, &device)
	}
	return devices, rows.Err()
}

func (r *deviceRepo) Update(ctx context.Context, device *models.Device) error {
	query := `
		UPDATE devices
		SET hostname = $2, address = $3, platform = $4, site_id = $5,
		    credential_id = $6, enabled = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		device.ID,
		device.Hostname,
		device.Address,
		device.Platform,
		device.SiteID,
		device.CredentialID,
		device.Enabled,
	).Scan(&device.UpdatedAt)
}

func (r *deviceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	return err
}

func (r *deviceRepo) ListTargets(ctx context.Context, filter TargetFilter) ([]models.BackupTarget, error) {
	query := `
		SELECT d.id, d.hostname, d.address, d.platform,
		       s.code, s.repo_name,
		       COALESCE(c.username, ''), COALESCE(c.sealed_password, ''),
		       d.credential_id IS NOT NULL
		FROM devices d
		JOIN sites s ON s.id = d.site_id
		LEFT JOIN credential_sets c ON c.id = d.credential_id
		WHERE d.enabled
		  AND (cardinality($1::uuid[]) = 0 OR d.id = ANY($1))
		  AND (cardinality($2::uuid[]) = 0 OR d.site_id = ANY($2))
		  AND (cardinality($3::text[]) = 0 OR d.platform = ANY($3))
		ORDER BY d.hostname`

	// nil slices would encode as NULL arrays and void the cardinality guard.
	deviceIDs := filter.DeviceIDs
	if deviceIDs == nil {
		deviceIDs = []uuid.UUID{}
	}
	siteIDs := filter.SiteIDs
	if siteIDs == nil {
		siteIDs = []uuid.UUID{}
	}
	platforms := make([]string, len(filter.Platforms))
	for i, p := range filter.Platforms {
		platforms[i] = string(p)
	}

	rows, err := r.pool.Query(ctx, query, deviceIDs, siteIDs, platforms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.BackupTarget
	for rows.Next() {
		var target models.BackupTarget
		if err := rows.Scan(
			&target.DeviceID,
			&target.Hostname,
			&target.Address,
			&target.Platform,
			&target.SiteCode,
			&target.RepoName,
			&target.CredentialUser,
			&target.SealedPassword,
			&target.HasCredential,
		); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}
