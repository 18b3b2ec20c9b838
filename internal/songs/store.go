package songs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/audioflow/audioflow/internal/apperr"
	"github.com/audioflow/audioflow/internal/db"
	"github.com/audioflow/audioflow/internal/ids"
)

// Store persists song metadata.
type Store interface {
	GetByID(ctx context.Context, id int64) (SongRecord, error)
	Insert(ctx context.Context, s Song) (Song, error)
	UpdateByID(ctx context.Context, id int64, in UpdateInput) (Song, error)
	DeleteByID(ctx context.Context, id int64) error
	Page(ctx context.Context, q PageQuery) (Page[SongRecord], error)
	// ExistingFileNames returns the subset of names that have a row for the given backend.
	ExistingFileNames(ctx context.Context, kind string, names []string) (map[string]struct{}, error)
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	q      db.Querier
	logger *slog.Logger
}

// NewPGStore creates a store on q (usually a *pgxpool.Pool).
func NewPGStore(log *slog.Logger, q db.Querier) *PGStore {
	if log == nil {
		log = slog.Default()
	}
	return &PGStore{q: q, logger: log.With(slog.String("store", "songs"))}
}

var songColumns = []string{
	"s.id", "s.name", "s.description", "s.file_name", "s.source_type",
	"s.size_bytes", "s.duration_ms", "s.uploader_id", "s.created_at", "s.updated_at",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSong(row scanner, extra ...any) (Song, error) {
	var (
		s  Song
		ms int64
	)
	dest := append([]any{
		&s.ID, &s.Name, &s.Description, &s.FileName, &s.SourceType,
		&s.Size, &ms, &s.UploaderID, &s.CreatedAt, &s.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Song{}, err
	}
	s.Duration = time.Duration(ms) * time.Millisecond
	return s, nil
}

func (p *PGStore) selectRecords() sq.SelectBuilder {
	return db.Builder().
		Select(append(songColumns, "u.name")...).
		From("songs s").
		Join("users u ON u.id = s.uploader_id")
}

func (p *PGStore) GetByID(ctx context.Context, id int64) (SongRecord, error) {
	sqlStr, args, err := p.selectRecords().Where(sq.Eq{"s.id": id}).ToSql()
	if err != nil {
		return SongRecord{}, fmt.Errorf("build GetByID: %w", err)
	}
	db.LogSQL(p.logger, "GetByID", sqlStr, args)

	var rec SongRecord
	song, err := scanSong(p.q.QueryRow(ctx, sqlStr, args...), &rec.UploaderName)
	if err != nil {
		if db.IsNoRows(err) {
			return SongRecord{}, ErrSongNotFound
		}
		return SongRecord{}, fmt.Errorf("songs GetByID: %w", err)
	}
	rec.Song = song
	return rec, nil
}

func (p *PGStore) Insert(ctx context.Context, s Song) (Song, error) {
	now := time.Now().UTC()
	sqlStr, args, err := db.Builder().Insert("songs").
		Columns("id", "name", "description", "file_name", "source_type",
			"size_bytes", "duration_ms", "uploader_id", "created_at", "updated_at").
		Values(s.ID, s.Name, s.Description, s.FileName, s.SourceType,
			s.Size, s.Duration.Milliseconds(), s.UploaderID, now, now).
		Suffix("RETURNING " + unqualified(songColumns)).
		ToSql()
	if err != nil {
		return Song{}, fmt.Errorf("build Insert: %w", err)
	}
	db.LogSQL(p.logger, "Insert", sqlStr, args)

	start := time.Now()
	out, err := scanSong(p.q.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		switch {
		case db.IsForeignKeyViolation(err):
			return Song{}, fmt.Errorf("%w: %w", ErrUserNotFound, err)
		case db.IsUniqueViolation(err):
			return Song{}, fmt.Errorf("%w: song file %s already recorded", apperr.ErrConflict, s.FileName)
		}
		return Song{}, fmt.Errorf("songs Insert: %w", err)
	}
	p.logger.Debug("song inserted", slog.Int64("id", out.ID), slog.Duration("took", time.Since(start)))
	return out, nil
}

// UpdateByID changes name and description only; file_name and source_type are immutable.
func (p *PGStore) UpdateByID(ctx context.Context, id int64, in UpdateInput) (Song, error) {
	b := db.Builder().Update("songs").Set("updated_at", time.Now().UTC())
	if in.Name != nil {
		b = b.Set("name", *in.Name)
	}
	if in.Description != nil {
		b = b.Set("description", *in.Description)
	}
	sqlStr, args, err := b.Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + unqualified(songColumns)).
		ToSql()
	if err != nil {
		return Song{}, fmt.Errorf("build UpdateByID: %w", err)
	}
	db.LogSQL(p.logger, "UpdateByID", sqlStr, args)

	out, err := scanSong(p.q.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return Song{}, ErrSongNotFound
		}
		return Song{}, fmt.Errorf("songs UpdateByID: %w", err)
	}
	return out, nil
}

func (p *PGStore) DeleteByID(ctx context.Context, id int64) error {
	sqlStr, args, err := db.Builder().Delete("songs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build DeleteByID: %w", err)
	}
	db.LogSQL(p.logger, "DeleteByID", sqlStr, args)

	start := time.Now()
	tag, err := p.q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("songs DeleteByID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSongNotFound
	}
	p.logger.Debug("song deleted", slog.Int64("id", id), slog.Duration("took", time.Since(start)))
	return nil
}

func (p *PGStore) Page(ctx context.Context, q PageQuery) (Page[SongRecord], error) {
	where := sq.And{}
	if pred := keywordPredicate("s", q.SongKeyword); pred != nil {
		where = append(where, pred)
	}
	if pred := keywordPredicate("u", q.UploaderKeyword); pred != nil {
		where = append(where, pred)
	}

	countSQL, countArgs, err := db.Builder().Select("count(*)").
		From("songs s").
		Join("users u ON u.id = s.uploader_id").
		Where(where).
		ToSql()
	if err != nil {
		return Page[SongRecord]{}, fmt.Errorf("build Page count: %w", err)
	}
	db.LogSQL(p.logger, "Page.count", countSQL, countArgs)

	var total int64
	if err := p.q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return Page[SongRecord]{}, fmt.Errorf("songs Page count: %w", err)
	}

	order := "DESC"
	if q.Asc {
		order = "ASC"
	}
	sqlStr, args, err := p.selectRecords().
		Where(where).
		OrderBy("s.created_at "+order, "s.id "+order).
		Limit(uint64(q.PageSize)).
		Offset(q.Offset()).
		ToSql()
	if err != nil {
		return Page[SongRecord]{}, fmt.Errorf("build Page: %w", err)
	}
	db.LogSQL(p.logger, "Page", sqlStr, args)

	rows, err := p.q.Query(ctx, sqlStr, args...)
	if err != nil {
		return Page[SongRecord]{}, fmt.Errorf("songs Page: %w", err)
	}
	defer rows.Close()

	items := make([]SongRecord, 0, q.PageSize)
	for rows.Next() {
		var rec SongRecord
		song, err := scanSong(rows, &rec.UploaderName)
		if err != nil {
			return Page[SongRecord]{}, fmt.Errorf("songs Page scan: %w", err)
		}
		rec.Song = song
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return Page[SongRecord]{}, fmt.Errorf("songs Page rows: %w", err)
	}
	return Page[SongRecord]{Items: items, Total: total, PageIndex: q.PageIndex, PageSize: q.PageSize}, nil
}

func (p *PGStore) ExistingFileNames(ctx context.Context, kind string, names []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(names))
	if len(names) == 0 {
		return found, nil
	}
	sqlStr, args, err := db.Builder().Select("file_name").
		From("songs").
		Where(sq.Eq{"source_type": kind, "file_name": names}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ExistingFileNames: %w", err)
	}
	db.LogSQL(p.logger, "ExistingFileNames", sqlStr, args)

	rows, err := p.q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("songs ExistingFileNames: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("songs ExistingFileNames scan: %w", err)
		}
		found[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("songs ExistingFileNames rows: %w", err)
	}
	return found, nil
}

// keywordPredicate matches alias.name by substring or alias.id exactly when kw is numeric.
func keywordPredicate(alias, kw string) sq.Sqlizer {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return nil
	}
	byName := sq.ILike{alias + ".name": "%" + escapeLike(kw) + "%"}
	if id, ok := ids.Parse(kw); ok {
		return sq.Or{byName, sq.Eq{alias + ".id": id}}
	}
	return byName
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func unqualified(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimPrefix(c, "s.")
	}
	return strings.Join(out, ", ")
}
