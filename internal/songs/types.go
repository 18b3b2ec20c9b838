package songs

import (
	"fmt"
	"io"
	"time"

	"github.com/audioflow/audioflow/internal/apperr"
)

// Field limits for user-edited metadata.
const (
	MaxNameRunes        = 64
	MaxDescriptionRunes = 128
	MaxKeywordRunes     = 64
	// MaxDerivedNameRunes bounds names derived from an uploaded filename.
	MaxDerivedNameRunes = 128

	DefaultPageSize = 10
	MaxPageSize     = 100
)

var (
	ErrEmptyFile        = fmt.Errorf("%w: empty file", apperr.ErrValidation)
	ErrFileTooLarge     = fmt.Errorf("%w: file too large", apperr.ErrValidation)
	ErrUserNotFound     = fmt.Errorf("%w: uploader not found", apperr.ErrNotFound)
	ErrSongNotFound     = fmt.Errorf("%w: song not found", apperr.ErrNotFound)
	ErrForbidden        = fmt.Errorf("%w: song belongs to another user", apperr.ErrForbidden)
	ErrNoFile           = fmt.Errorf("%w: song has no playable file", apperr.ErrNotFound)
	ErrInvalidName      = fmt.Errorf("%w: name must be 1-%d characters", apperr.ErrValidation, MaxNameRunes)
	ErrInvalidDesc      = fmt.Errorf("%w: description must be 1-%d characters", apperr.ErrValidation, MaxDescriptionRunes)
	ErrInvalidKeyword   = fmt.Errorf("%w: keyword must be at most %d characters", apperr.ErrValidation, MaxKeywordRunes)
	ErrNothingToUpdate  = fmt.Errorf("%w: nothing to update", apperr.ErrValidation)
	ErrInvalidPageQuery = fmt.Errorf("%w: invalid page", apperr.ErrValidation)
)

// Song is the persisted metadata of one uploaded audio file.
type Song struct {
	ID          int64
	Name        string
	Description string
	FileName    string
	SourceType  string
	Size        int64
	Duration    time.Duration
	UploaderID  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SongRecord is a Song joined with its uploader's display name.
type SongRecord struct {
	Song
	UploaderName string
}

// SongView is what callers see. Storage internals are replaced by a fresh URL.
type SongView struct {
	ID           int64     `json:"id,string"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	FileURL      string    `json:"file_url"`
	Size         int64     `json:"size"`
	DurationMS   int64     `json:"duration_ms"`
	UploaderID   int64     `json:"uploader_id,string"`
	UploaderName string    `json:"uploader_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UploadInput is the input of Service.Upload. Content is read through fresh
// section readers, so every step starts at offset 0.
type UploadInput struct {
	UploaderID       int64
	Name             *string
	Description      string
	OriginalFilename string
	Content          io.ReaderAt
	Size             int64
}

// UpdateInput patches name and/or description; nil fields are left unchanged.
type UpdateInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// PageQuery selects one page of songs. Keywords match a name substring
// (case-insensitive) or, when numeric, an exact id.
type PageQuery struct {
	UploaderKeyword string
	SongKeyword     string
	Asc             bool
	PageIndex       int
	PageSize        int
}

// Page is one page of results plus the total number of matches.
type Page[T any] struct {
	Items     []T   `json:"items"`
	Total     int64 `json:"total"`
	PageIndex int   `json:"page_index"`
	PageSize  int   `json:"page_size"`
}

// Offset returns the row offset of the page.
func (q PageQuery) Offset() uint64 {
	if q.PageIndex <= 1 {
		return 0
	}
	return uint64(q.PageIndex-1) * uint64(q.PageSize)
}
