// Package storage defines the Strategy interface for song file backends and
// the Router that dispatches to them by backend key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/audioflow/audioflow/internal/apperr"
)

// Backend keys persisted as a song's source type.
const (
	KindLocal = "local"
	KindS3    = "s3"
)

var (
	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = fmt.Errorf("%w: invalid object name", apperr.ErrValidation)
	// ErrObjectNotFound is returned by Delete when nothing is stored under the name.
	ErrObjectNotFound = fmt.Errorf("%w: object not found", apperr.ErrNotFound)
	// ErrIO wraps every backend failure (disk, network, permissions).
	ErrIO = fmt.Errorf("%w: storage io", apperr.ErrIOFailure)
	// ErrBackendNotConfigured is returned when no strategy is registered for a key.
	ErrBackendNotConfigured = fmt.Errorf("%w: storage backend not configured", apperr.ErrBackendUnavailable)
)

// Strategy abstracts a song file backend.
type Strategy interface {
	// Kind returns the backend key ("local", "s3").
	Kind() string
	// Save stores content under name. The object becomes visible only once fully written.
	// size is -1 when unknown.
	Save(ctx context.Context, name string, content io.Reader, size int64, mimeType string) error
	// URL returns a client-facing URL for name.
	URL(ctx context.Context, name string) (string, error)
	// Delete removes name. Missing objects yield ErrObjectNotFound.
	Delete(ctx context.Context, name string) error
}

// Object describes a stored object as seen by a Walker.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Walker is an optional interface that strategies can implement
// to enumerate their stored objects.
type Walker interface {
	Walk(ctx context.Context, fn func(Object) error) error
}

// TempPurger is an optional interface for strategies that leave temp
// artifacts behind after a crash.
type TempPurger interface {
	PurgeTemp(ctx context.Context, olderThan time.Time) (int, error)
}

// ValidateName rejects names that could escape the backend namespace.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

var storedExtensions = map[string]struct{}{"mp3": {}, "wav": {}, "ogg": {}, "flac": {}}

// IsStoredName reports whether name has the "{id}.{ext}" shape of an uploaded song
// file. Sweeps leave every other object alone.
func IsStoredName(name string) bool {
	id, ext, ok := strings.Cut(name, ".")
	if !ok || id == "" {
		return false
	}
	if _, known := storedExtensions[ext]; !known {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IOError wraps err with ErrIO unless it already carries a storage sentinel.
func IOError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrInvalidName) || errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, name, err)
}
