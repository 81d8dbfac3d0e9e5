package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agncf/netbackup/internal/models"
)

// CredentialRepository defines the interface for credential set operations.
// Sealed passwords go in and out as opaque envelopes; this layer never sees
// plaintext.
type CredentialRepository interface {
	Create(ctx context.Context, cred *models.CredentialSet) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CredentialSet, error)
	List(ctx context.Context) ([]*models.CredentialSet, error)
	Update(ctx context.Context, cred *models.CredentialSet) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type credentialRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepo{pool: pool}
}

func (r *credentialRepo) Create(ctx context.Context, cred *models.CredentialSet) error {
	query := `
		INSERT INTO credential_sets (id, label, username, sealed_password)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, query,
		cred.ID,
		cred.Label,
		cred.Username,
		cred.SealedPassword,
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)
}

func (r *credentialRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CredentialSet, error) {
	query := `
		SELECT id, label, username, sealed_password, created_at, updated_at
		FROM credential_sets WHERE id = $1`

	var cred models.CredentialSet
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&cred.ID,
		&cred.Label,
		&cred.Username,
		&cred.SealedPassword,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepo) List(ctx context.Context) ([]*models.CredentialSet, error) {
	query := `
		SELECT id, label, username, sealed_password, created_at, updated_at
		FROM credential_sets ORDER BY label`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*models.CredentialSet
	for rows.Next() {
		var cred models.CredentialSet
		if err := rows.Scan(
			&cred.ID,
			&cred.Label,
			&cred.Username,
			&cred.SealedPassword,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		); err != nil {
			return nil, err
		}
		creds = append(creds, &cred)
	}
	return creds, rows.Err()
}

func (r *credentialRepo) Update(ctx context.Context, cred *models.CredentialSet) error {
	query := `
		UPDATE credential_sets
		SET label = $2, username = $3, sealed_password = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		cred.ID,
		cred.Label,
		cred.Username,
		cred.SealedPassword,
	).Scan(&cred.UpdatedAt)
}

func (r *credentialRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM credential_sets WHERE id = $1`, id)
	return err
}
