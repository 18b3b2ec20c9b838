// Package s3 implements the storage strategy for S3-compatible object stores.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/audioflow/audioflow/internal/storage"
)

// DefaultPresignExpiry is used when Config.PresignExpiry is not positive.
const DefaultPresignExpiry = time.Hour

// Config holds the connection settings of one bucket.
type Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PathStyle     bool
	PresignExpiry time.Duration
}

// Strategy stores songs as objects in a single bucket.
type Strategy struct {
	cl     *minio.Client
	bucket string
	expiry time.Duration
	logger *slog.Logger
}

// New builds a minio client for cfg. No request is made until first use.
func New(log *slog.Logger, cfg Config) (*Strategy, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	if log == nil {
		log = slog.Default()
	}
	return &Strategy{
		cl:     cl,
		bucket: cfg.Bucket,
		expiry: expiry,
		logger: log.With(slog.String("storage", storage.KindS3), slog.String("bucket", cfg.Bucket)),
	}, nil
}

// Kind implements storage.Strategy.
func (s *Strategy) Kind() string { return storage.KindS3 }

// Save uploads content in a single PutObject; the object is visible only once the upload completes.
func (s *Strategy) Save(ctx context.Context, name string, content io.Reader, size int64, mimeType string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	if size < 0 {
		size = -1
	}
	start := time.Now()
	info, err := s.cl.PutObject(ctx, s.bucket, name, content, size, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return storage.IOError("put", name, err)
	}
	s.logger.Debug("object stored",
		slog.String("object", name),
		slog.Int64("size", info.Size),
		slog.Duration("took", time.Since(start)))
	return nil
}

// URL returns a presigned GET URL.
func (s *Strategy) URL(ctx context.Context, name string) (string, error) {
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}
	u, err := s.cl.PresignedGetObject(ctx, s.bucket, name, s.expiry, url.Values{})
	if err != nil {
		return "", storage.IOError("presign", name, err)
	}
	return u.String(), nil
}

// Delete removes the object. RemoveObject succeeds on missing keys, so existence is checked first.
func (s *Strategy) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	if _, err := s.cl.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, name)
		}
		return storage.IOError("stat", name, err)
	}
	if err := s.cl.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return storage.IOError("remove", name, err)
	}
	return nil
}

// Walk implements storage.Walker over the song objects in the bucket. Keys that are
// not stored song names belong to someone else and are skipped.
func (s *Strategy) Walk(ctx context.Context, fn func(storage.Object) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range s.cl.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return storage.IOError("list", s.bucket, obj.Err)
		}
		if !storage.IsStoredName(obj.Key) {
			continue
		}
		if err := fn(storage.Object{Name: obj.Key, Size: obj.Size, ModTime: obj.LastModified}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
