// Package songs implements the song upload, removal and search workflows.
package songs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/audioflow/audioflow/internal/ids"
	"github.com/audioflow/audioflow/internal/media"
	"github.com/audioflow/audioflow/internal/storage"
	"github.com/audioflow/audioflow/internal/users"
)

// UserLookup resolves uploaders.
type UserLookup interface {
	Get(ctx context.Context, userID int64) (users.User, error)
}

// Service coordinates the storage router and the metadata store.
type Service struct {
	store    Store
	users    UserLookup
	router   *storage.Router
	ids      ids.Generator
	maxBytes int64
	logger   *slog.Logger
}

// NewService wires a Service. maxBytes <= 0 disables the size limit.
func NewService(log *slog.Logger, store Store, userLookup UserLookup, router *storage.Router, gen ids.Generator, maxBytes int64) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		users:    userLookup,
		router:   router,
		ids:      gen,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("service", "songs")),
	}
}

// Upload stores the file on the active backend and records it. If the record
// cannot be inserted the stored object is deleted again before returning.
func (s *Service) Upload(ctx context.Context, in UploadInput) (SongView, error) {
	if in.Content == nil || in.Size <= 0 {
		return SongView{}, ErrEmptyFile
	}
	if s.maxBytes > 0 && in.Size > s.maxBytes {
		return SongView{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, in.Size, s.maxBytes)
	}

	uploader, err := s.users.Get(ctx, in.UploaderID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return SongView{}, ErrUserNotFound
		}
		return SongView{}, fmt.Errorf("load uploader: %w", err)
	}

	id := s.ids.Next()
	name := DisplayName(in.Name, in.OriginalFilename, id)

	detected, _, err := media.Sniff(s.section(in))
	if err != nil {
		return SongView{}, err
	}

	fileName := fmt.Sprintf("%d.%s", id, detected.Extension)
	log := s.logger.With(slog.Int64("song_id", id), slog.String("file", fileName))

	kind, err := s.router.Save(ctx, fileName, s.section(in), in.Size, detected.Mime)
	if err != nil {
		return SongView{}, fmt.Errorf("save %s: %w", fileName, err)
	}

	duration, err := media.ProbeDuration(s.section(in), detected.Extension)
	if err != nil {
		log.Warn("probe duration failed", slog.Any("error", err))
		duration = 0
	}

	song, err := s.store.Insert(ctx, Song{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		FileName:    fileName,
		SourceType:  kind,
		Size:        in.Size,
		Duration:    duration,
		UploaderID:  uploader.ID,
	})
	if err != nil {
		// Compensation must run even when the caller has gone away.
		if delErr := s.router.Delete(context.WithoutCancel(ctx), fileName, kind); delErr != nil {
			log.Error("compensating delete failed; object orphaned",
				slog.String("backend", kind), slog.Any("error", delErr), slog.Any("insert_error", err))
		} else {
			log.Warn("insert failed; stored object removed", slog.String("backend", kind), slog.Any("error", err))
		}
		return SongView{}, fmt.Errorf("record song %d: %w", id, err)
	}

	log.Info("song uploaded", slog.String("backend", kind), slog.Int64("size", song.Size))
	return s.view(ctx, SongRecord{Song: song, UploaderName: uploader.Name}), nil
}

// Remove deletes a song owned by userID.
func (s *Service) Remove(ctx context.Context, songID, userID int64) error {
	rec, err := s.store.GetByID(ctx, songID)
	if err != nil {
		return err
	}
	if rec.UploaderID != userID {
		return ErrForbidden
	}
	return s.remove(ctx, rec.Song)
}

// RemoveForce deletes a song regardless of its owner. Authorization happens upstream.
func (s *Service) RemoveForce(ctx context.Context, songID int64) error {
	rec, err := s.store.GetByID(ctx, songID)
	if err != nil {
		return err
	}
	return s.remove(ctx, rec.Song)
}

// remove drops the row first; the stored object is deleted afterwards and a
// failure there is only logged. The reconcile sweep collects such orphans.
func (s *Service) remove(ctx context.Context, song Song) error {
	if err := s.store.DeleteByID(ctx, song.ID); err != nil {
		return fmt.Errorf("delete song %d: %w", song.ID, err)
	}
	log := s.logger.With(slog.Int64("song_id", song.ID), slog.String("file", song.FileName), slog.String("backend", song.SourceType))
	if err := s.router.Delete(context.WithoutCancel(ctx), song.FileName, song.SourceType); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn("stored object already gone")
		} else {
			log.Error("delete stored object failed; object orphaned", slog.Any("error", err))
		}
		return nil
	}
	log.Info("song removed")
	return nil
}

// Get returns one song with a fresh URL.
func (s *Service) Get(ctx context.Context, songID int64) (SongView, error) {
	rec, err := s.store.GetByID(ctx, songID)
	if err != nil {
		return SongView{}, err
	}
	return s.view(ctx, rec), nil
}

// PlayURL resolves the access URL of a song through the backend that stored it.
func (s *Service) PlayURL(ctx context.Context, songID int64) (string, error) {
	rec, err := s.store.GetByID(ctx, songID)
	if err != nil {
		return "", err
	}
	url, err := s.router.URL(ctx, rec.FileName, rec.SourceType)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", ErrNoFile
	}
	return url, nil
}

// Update patches a song owned by userID.
func (s *Service) Update(ctx context.Context, songID, userID int64, in UpdateInput) (SongView, error) {
	in, err := normalizeUpdate(in)
	if err != nil {
		return SongView{}, err
	}
	rec, err := s.store.GetByID(ctx, songID)
	if err != nil {
		return SongView{}, err
	}
	if rec.UploaderID != userID {
		return SongView{}, ErrForbidden
	}
	return s.update(ctx, rec, in)
}

// UpdateForce patches a song regardless of its owner.
func (s *Service) UpdateForce(ctx context.Context, songID int64, in UpdateInput) (SongView, error) {
	in, err := normalizeUpdate(in)
	if err != nil {
		return SongView{}, err
	}
	rec, err := s.store.GetByID(ctx, songID)
	if err != nil {
		return SongView{}, err
	}
	return s.update(ctx, rec, in)
}

func (s *Service) update(ctx context.Context, rec SongRecord, in UpdateInput) (SongView, error) {
	song, err := s.store.UpdateByID(ctx, rec.ID, in)
	if err != nil {
		return SongView{}, fmt.Errorf("update song %d: %w", rec.ID, err)
	}
	return s.view(ctx, SongRecord{Song: song, UploaderName: rec.UploaderName}), nil
}

// Page searches songs and resolves a URL for each result.
func (s *Service) Page(ctx context.Context, q PageQuery) (Page[SongView], error) {
	q, err := NormalizePageQuery(q)
	if err != nil {
		return Page[SongView]{}, err
	}
	page, err := s.store.Page(ctx, q)
	if err != nil {
		return Page[SongView]{}, fmt.Errorf("search songs: %w", err)
	}
	views := make([]SongView, 0, len(page.Items))
	for _, rec := range page.Items {
		views = append(views, s.view(ctx, rec))
	}
	return Page[SongView]{Items: views, Total: page.Total, PageIndex: page.PageIndex, PageSize: page.PageSize}, nil
}

// NormalizePageQuery applies defaults and bounds.
func NormalizePageQuery(q PageQuery) (PageQuery, error) {
	q.SongKeyword = strings.TrimSpace(q.SongKeyword)
	q.UploaderKeyword = strings.TrimSpace(q.UploaderKeyword)
	if utf8.RuneCountInString(q.SongKeyword) > MaxKeywordRunes || utf8.RuneCountInString(q.UploaderKeyword) > MaxKeywordRunes {
		return PageQuery{}, ErrInvalidKeyword
	}
	if q.PageIndex == 0 {
		q.PageIndex = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageIndex < 1 || q.PageSize < 1 || q.PageSize > MaxPageSize {
		return PageQuery{}, fmt.Errorf("%w: page_index %d, page_size %d (max %d)", ErrInvalidPageQuery, q.PageIndex, q.PageSize, MaxPageSize)
	}
	return q, nil
}

func normalizeUpdate(in UpdateInput) (UpdateInput, error) {
	if in.Name == nil && in.Description == nil {
		return UpdateInput{}, ErrNothingToUpdate
	}
	var out UpdateInput
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameRunes {
			return UpdateInput{}, ErrInvalidName
		}
		out.Name = &name
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if n := utf8.RuneCountInString(desc); n == 0 || n > MaxDescriptionRunes {
			return UpdateInput{}, ErrInvalidDesc
		}
		out.Description = &desc
	}
	return out, nil
}

func (s *Service) section(in UploadInput) io.ReadSeeker {
	return io.NewSectionReader(in.Content, 0, in.Size)
}

// view resolves the access URL; a failure leaves it empty rather than failing the call.
func (s *Service) view(ctx context.Context, rec SongRecord) SongView {
	url, err := s.router.URL(ctx, rec.FileName, rec.SourceType)
	if err != nil {
		s.logger.Warn("resolve song url failed",
			slog.Int64("song_id", rec.ID), slog.String("backend", rec.SourceType), slog.Any("error", err))
		url = ""
	}
	return SongView{
		ID:           rec.ID,
		Name:         rec.Name,
		Description:  rec.Description,
		FileURL:      url,
		Size:         rec.Size,
		DurationMS:   rec.Duration.Milliseconds(),
		UploaderID:   rec.UploaderID,
		UploaderName: rec.UploaderName,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
