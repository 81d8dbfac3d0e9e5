// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agncf/netbackup/internal/models"
)

// SiteRepository defines the interface for site inventory operations.
type SiteRepository interface {
	Create(ctx context.Context, site *models.Site) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Site, error)
	GetByCode(ctx context.Context, code string) (*models.Site, error)
	List(ctx context.Context) ([]*models.Site, error)
	Update(ctx context.Context, site *models.Site) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type siteRepo struct {
	pool *pgxpool.Pool
}

// NewSiteRepository creates a new site repository.
func NewSiteRepository(pool *pgxpool.Pool) SiteRepository {
	return &siteRepo{pool: pool}
}

func (r *siteRepo) Create(ctx context.Context, site *models.Site) error {
	query := `
		INSERT INTO sites (id, code, name, repo_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	if site.ID == uuid.Nil {
		site.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, query,
		site.ID,
		site.Code,
		site.Name,
		site.RepoName,
	).Scan(&site.CreatedAt, &site.UpdatedAt)
}

func (r *siteRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Site, error) {
	query := `
		SELECT id, code, name, repo_name, created_at, updated_at
		FROM sites WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *siteRepo) GetByCode(ctx context.Context, code string) (*models.Site, error) {
	query := `
		SELECT id, code, name, repo_name, created_at, updated_at
		FROM sites WHERE code = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, code))
}

func (r *siteRepo) List(ctx context.Context) ([]*models.Site, error) {
	query := `
		SELECT id, code, name, repo_name, created_at, updated_at
		FROM sites ORDER BY code`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []*models.Site
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(
			&site.ID,
			&site.Code,
			&site.Name,
			&site.RepoName,
			&site.CreatedAt,
			&site.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sites = append(sites, &site)
	}
	return sites, rows.Err()
}

func (r *siteRepo) Update(ctx context.Context, site *models.Site) error {
	query := `
		UPDATE sites
		SET code = $2, name = $3, repo_name = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		site.ID,
		site.Code,
		site.Name,
		site.RepoName,
	).Scan(&site.UpdatedAt)
}

func (r *siteRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	return err
}

func (r *siteRepo) scanOne(row pgx.Row) (*models.Site, error) {
	var site models.Site
	err := row.Scan(
		&site.ID,
		&site.Code,
		&site.Name,
		&site.RepoName,
		&site.CreatedAt,
		&site.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}
