// Package boot provides runtime configuration and dependency wiring for the server.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/audioflow/audioflow/internal/config"
	"github.com/audioflow/audioflow/internal/reconcile"
	"github.com/audioflow/audioflow/internal/storage"
	"github.com/audioflow/audioflow/internal/storage/s3"
)

// multipartOverhead is added to the upload limit for the form boundaries and text fields.
const multipartOverhead = 1 << 20

// RuntimeConfig holds parsed runtime settings (JWT, server address, storage, reconcile).
// Values may be overridden by environment variables (HTTP_ADDR, STORAGE_ACTIVE, JWT_SECRET).
type RuntimeConfig struct {
	JwtSecret      string
	JwtExpiresIn   time.Duration
	ServerAddr     string
	StorageActive  string
	UploadMaxBytes int64
	// BodyLimit is the request body cap in the form echo's BodyLimit middleware accepts.
	BodyLimit string
	S3        *s3.Config
	Reconcile reconcile.Options
	// ReconcileEnabled schedules periodic sweeps in the server process.
	ReconcileEnabled bool
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	secret := cfg.Auth.JWTSecret
	if value := os.Getenv("JWT_SECRET"); value != "" {
		secret = value
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	jwtExpiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}
	if jwtExpiresIn <= 0 {
		return nil, fmt.Errorf("jwt expires in must be positive: %s", jwtExpiresIn)
	}

	grace, err := time.ParseDuration(cfg.Reconcile.GracePeriod)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile grace period: %w", err)
	}
	if grace < 0 {
		return nil, fmt.Errorf("reconcile grace period must not be negative: %s", grace)
	}

	ret := &RuntimeConfig{
		JwtSecret:      secret,
		JwtExpiresIn:   jwtExpiresIn,
		ServerAddr:     cfg.Server.Addr,
		StorageActive:  strings.ToLower(strings.TrimSpace(cfg.Storage.Active)),
		UploadMaxBytes: cfg.Upload.MaxBytes,
		Reconcile: reconcile.Options{
			Schedule:         cfg.Reconcile.Schedule,
			GracePeriod:      grace,
			DeletesPerSecond: cfg.Reconcile.DeletesPerSecond,
			BatchSize:        cfg.Reconcile.BatchSize,
		},
		ReconcileEnabled: cfg.Reconcile.Enabled,
	}
	if ret.UploadMaxBytes > 0 {
		ret.BodyLimit = fmt.Sprintf("%d", ret.UploadMaxBytes+multipartOverhead)
	}
	if s3cfg := cfg.Storage.S3; s3cfg.Enabled() {
		ret.S3 = &s3.Config{
			Endpoint:      s3cfg.Endpoint,
			Region:        s3cfg.Region,
			Bucket:        s3cfg.Bucket,
			AccessKey:     s3cfg.AccessKey,
			SecretKey:     s3cfg.SecretKey,
			UseSSL:        s3cfg.UseSSL,
			PathStyle:     s3cfg.PathStyle,
			PresignExpiry: time.Duration(s3cfg.PresignExpirySeconds) * time.Second,
		}
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("STORAGE_ACTIVE"); value != "" {
		ret.StorageActive = strings.ToLower(strings.TrimSpace(value))
	}

	switch ret.StorageActive {
	case storage.KindLocal:
	case storage.KindS3:
		if ret.S3 == nil {
			return nil, fmt.Errorf("%w: storage.active is %q but storage.s3 is incomplete", storage.ErrBackendNotConfigured, storage.KindS3)
		}
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", storage.ErrBackendNotConfigured, ret.StorageActive)
	}
	return ret, nil
}
