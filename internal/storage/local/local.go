// Package local implements the disk-backed storage strategy.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audioflow/audioflow/internal/storage"
)

const tempMarker = ".tmp"

// Strategy stores songs as files under a single directory.
type Strategy struct {
	dir       string
	urlPrefix string
	logger    *slog.Logger
}

// New creates a local strategy rooted at dir. urlPrefix is prepended to names by URL.
func New(log *slog.Logger, dir, urlPrefix string) (*Strategy, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("local storage dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve local storage dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Strategy{
		dir:       abs,
		urlPrefix: urlPrefix,
		logger:    log.With(slog.String("storage", storage.KindLocal)),
	}, nil
}

// Kind implements storage.Strategy.
func (s *Strategy) Kind() string { return storage.KindLocal }

// Dir returns the absolute storage directory.
func (s *Strategy) Dir() string { return s.dir }

// URLPrefix returns the configured public prefix.
func (s *Strategy) URLPrefix() string { return s.urlPrefix }

// Save writes content to a temp file next to the target and renames it into place.
// The target is either untouched or fully replaced; no temp file survives the call.
func (s *Strategy) Save(ctx context.Context, name string, content io.Reader, _ int64, _ string) (err error) {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return storage.IOError("mkdir", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+tempMarker+"*")
	if err != nil {
		return storage.IOError("create temp", name, err)
	}
	tmpPath := tmp.Name()
	closed := false
	renamed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if renamed {
			return
		}
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Error("remove temp file failed",
				slog.String("temp", tmpPath), slog.Any("error", rmErr))
		}
	}()

	if _, err := io.Copy(tmp, readerWithCtx(ctx, content)); err != nil {
		return storage.IOError("write", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return storage.IOError("sync", name, err)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return storage.IOError("close", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return storage.IOError("rename", name, err)
	}
	renamed = true
	return nil
}

// URL implements storage.Strategy.
func (s *Strategy) URL(_ context.Context, name string) (string, error) {
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}
	return s.urlPrefix + name, nil
}

// Delete removes a regular file. Missing paths and non-regular files are reported as not found.
func (s *Strategy) Delete(_ context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, name)
		}
		return storage.IOError("stat", name, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", storage.ErrObjectNotFound, name)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, name)
		}
		return storage.IOError("remove", name, err)
	}
	return nil
}

// Walk implements storage.Walker. Only regular files named like stored songs are visited;
// temp artifacts and foreign files are skipped.
func (s *Strategy) Walk(ctx context.Context, fn func(storage.Object) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return storage.IOError("list", s.dir, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.Type().IsRegular() || !storage.IsStoredName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return storage.IOError("stat", e.Name(), err)
		}
		if err := fn(storage.Object{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()}); err != nil {
			return err
		}
	}
	return nil
}

// PurgeTemp implements storage.TempPurger. It removes temp artifacts older than olderThan.
func (s *Strategy) PurgeTemp(ctx context.Context, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, storage.IOError("list", s.dir, err)
	}
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.Type().IsRegular() || !isTemp(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("purge temp file failed", slog.String("temp", e.Name()), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}

// isTemp matches CreateTemp artifacts of Save: a stored name followed by the temp marker.
func isTemp(name string) bool {
	idx := strings.Index(name, tempMarker)
	return idx > 0 && storage.IsStoredName(name[:idx])
}

func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	if ctx == nil {
		return r
	}
	return ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
