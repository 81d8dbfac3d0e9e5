// Package config provides configuration loading for the backup service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Gitea    GiteaConfig    `mapstructure:"gitea"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GiteaConfig holds the repository-service connection settings.
type GiteaConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	Org   string `mapstructure:"org"`
}

// BackupConfig holds orchestration and credential settings.
type BackupConfig struct {
	// UnsealKey is the 32-byte base64 key that opens sealed credential
	// passwords. Required at boot.
	UnsealKey string `mapstructure:"unseal_key"`

	// FallbackUser/FallbackPass are the optional process-wide credentials
	// used for devices without a credential set.
	FallbackUser string `mapstructure:"fallback_user"`
	FallbackPass string `mapstructure:"fallback_pass"`

	CLIWorkers int           `mapstructure:"cli_workers"`
	APIWorkers int           `mapstructure:"api_workers"`
	CLITimeout time.Duration `mapstructure:"cli_timeout"`
	APITimeout time.Duration `mapstructure:"api_timeout"`

	// APITLSVerify enables TLS certificate verification for API-transport
	// devices. Off by default: the target fleet presents self-signed certs.
	APITLSVerify bool `mapstructure:"api_tls_verify"`

	// MaxConcurrentJobs caps simultaneously running jobs; job creation
	// beyond the cap is rejected with 409.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/netbackup")

	v.SetEnvPrefix("NETBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Explicitly bind secret-bearing variables (nested struct issue with viper)
	v.BindEnv("gitea.url", "NETBACKUP_GITEA_URL")
	v.BindEnv("gitea.token", "NETBACKUP_GITEA_TOKEN")
	v.BindEnv("gitea.org", "NETBACKUP_GITEA_ORG")
	v.BindEnv("backup.unseal_key", "NETBACKUP_BACKUP_UNSEAL_KEY")
	v.BindEnv("backup.fallback_user", "NETBACKUP_BACKUP_FALLBACK_USER")
	v.BindEnv("backup.fallback_pass", "NETBACKUP_BACKUP_FALLBACK_PASS")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Backup.UnsealKey == "" {
		return nil, fmt.Errorf("backup.unseal_key is required")
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "netbackup")
	v.SetDefault("database.password", "netbackup")
	v.SetDefault("database.database", "netbackup")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Gitea defaults
	v.SetDefault("gitea.url", "http://localhost:3000")
	v.SetDefault("gitea.org", "agncf")

	// Backup defaults
	v.SetDefault("backup.cli_workers", 50)
	v.SetDefault("backup.api_workers", 30)
	v.SetDefault("backup.cli_timeout", "120s")
	v.SetDefault("backup.api_timeout", "60s")
	v.SetDefault("backup.api_tls_verify", false)
	v.SetDefault("backup.max_concurrent_jobs", 1)

	// Log defaults
	v.SetDefault("log.level", "info")
}
