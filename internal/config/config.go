// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath           = "config.toml"
	DefaultHTTPAddr             = ":8080"
	DefaultNodeID               = 1
	DefaultJWTExpiresIn         = "24h"
	DefaultPGHost               = "127.0.0.1"
	DefaultPGPort               = 5432
	DefaultPGUser               = "postgres"
	DefaultPGDatabase           = "audioflow"
	DefaultPGSSLMode            = "disable"
	DefaultStorageActive        = "local"
	DefaultLocalDir             = "data/songs"
	DefaultLocalURLPrefix       = "/files/"
	DefaultS3Region             = "us-east-1"
	DefaultPresignExpirySeconds = 3600
	DefaultUploadMaxBytes       = 64 << 20
	DefaultReconcileSchedule    = "@every 1h"
	DefaultReconcileGrace       = "1h"
	DefaultReconcileRate        = 20
	DefaultReconcileBatchSize   = 200
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Admin     AdminConfig     `toml:"admin"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Storage   StorageConfig   `toml:"storage"`
	Upload    UploadConfig    `toml:"upload"`
	Reconcile ReconcileConfig `toml:"reconcile"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP listen address and the snowflake node id of this instance.
type ServerConfig struct {
	Addr   string `toml:"addr"`
	NodeID int64  `toml:"node_id"`
}

// AdminConfig holds the bootstrap admin account created on first start.
type AdminConfig struct {
	Name     string `toml:"name"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	Database    string `toml:"database"`
	SSLMode     string `toml:"sslmode"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// StorageConfig selects the active backend for new uploads and configures every backend.
// Backends stay registered after they stop being active so old songs keep resolving.
type StorageConfig struct {
	Active string             `toml:"active"`
	Local  LocalStorageConfig `toml:"local"`
	S3     S3StorageConfig    `toml:"s3"`
}

// LocalStorageConfig holds the storage directory and the public URL prefix.
type LocalStorageConfig struct {
	Dir       string `toml:"dir"`
	URLPrefix string `toml:"url_prefix"`
}

// S3StorageConfig holds the S3-compatible endpoint, credentials and bucket.
type S3StorageConfig struct {
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	Bucket               string `toml:"bucket"`
	UseSSL               bool   `toml:"use_ssl"`
	PathStyle            bool   `toml:"path_style"`
	PresignExpirySeconds int    `toml:"presign_expiry_seconds"`
}

// Enabled reports whether enough is configured to build an S3 client.
func (c S3StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxBytes int64 `toml:"max_bytes"`
}

// ReconcileConfig controls the orphaned-object sweep. Scheduled sweeps delete
// data, so they stay off unless enabled explicitly.
type ReconcileConfig struct {
	Enabled          bool   `toml:"enabled"`
	Schedule         string `toml:"schedule"`
	GracePeriod      string `toml:"grace_period"`
	DeletesPerSecond int    `toml:"deletes_per_second"`
	BatchSize        int    `toml:"batch_size"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:   DefaultHTTPAddr,
			NodeID: DefaultNodeID,
		},
		Admin: AdminConfig{
			Name:     "admin",
			Email:    "admin@example.com",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:        DefaultPGHost,
			Port:        DefaultPGPort,
			User:        DefaultPGUser,
			Database:    DefaultPGDatabase,
			SSLMode:     DefaultPGSSLMode,
			AutoMigrate: true,
		},
		Storage: StorageConfig{
			Active: DefaultStorageActive,
			Local: LocalStorageConfig{
				Dir:       DefaultLocalDir,
				URLPrefix: DefaultLocalURLPrefix,
			},
			S3: S3StorageConfig{
				Region:               DefaultS3Region,
				PathStyle:            true,
				PresignExpirySeconds: DefaultPresignExpirySeconds,
			},
		},
		Upload: UploadConfig{
			MaxBytes: DefaultUploadMaxBytes,
		},
		Reconcile: ReconcileConfig{
			Schedule:         DefaultReconcileSchedule,
			GracePeriod:      DefaultReconcileGrace,
			DeletesPerSecond: DefaultReconcileRate,
			BatchSize:        DefaultReconcileBatchSize,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
