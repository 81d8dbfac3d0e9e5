package models

import (
	"time"

	"github.com/google/uuid"
)

// Site represents a physical location whose device configs share one repository.
type Site struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	RepoName  string    `json:"repo_name" db:"repo_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CredentialSet holds a device login. The password is sealed with the
// process unseal key and never leaves the database in plaintext.
type CredentialSet struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Label          string    `json:"label" db:"label"`
	Username       string    `json:"username" db:"username"`
	SealedPassword string    `json:"-" db:"sealed_password"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Device is a network device inventory entry.
type Device struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Hostname     string     `json:"hostname" db:"hostname"`
	Address      string     `json:"address" db:"address"`
	Platform     Platform   `json:"platform" db:"platform"`
	SiteID       uuid.UUID  `json:"site_id" db:"site_id"`
	CredentialID *uuid.UUID `json:"credential_id,omitempty" db:"credential_id"`
	Enabled      bool       `json:"enabled" db:"enabled"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// BackupTarget is a plain snapshot of a device row joined with its site and
// credential set, loaded once per job so pool workers never touch the database.
type BackupTarget struct {
	DeviceID       uuid.UUID
	Hostname       string
	Address        string
	Platform       Platform
	SiteCode       string
	RepoName       string
	CredentialUser string
	SealedPassword string
	HasCredential  bool
}
