package songs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/audioflow/audioflow/internal/storage"
	"github.com/audioflow/audioflow/internal/storage/local"
	"github.com/audioflow/audioflow/internal/users"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Next() int64 { return 1000 + s.n.Add(1) }

type fakeUsers map[int64]users.User

func (f fakeUsers) Get(_ context.Context, id int64) (users.User, error) {
	u, ok := f[id]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

type memStore struct {
	mu        sync.Mutex
	songs     map[int64]Song
	names     map[int64]string
	insertErr error
	deleteErr error
	onInsert  func()
}

func newMemStore(u fakeUsers) *memStore {
	names := make(map[int64]string, len(u))
	for id, usr := range u {
		names[id] = usr.Name
	}
	return &memStore{songs: map[int64]Song{}, names: names}
}

func (m *memStore) GetByID(_ context.Context, id int64) (SongRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return SongRecord{}, ErrSongNotFound
	}
	return SongRecord{Song: s, UploaderName: m.names[s.UploaderID]}, nil
}

func (m *memStore) Insert(_ context.Context, s Song) (Song, error) {
	if m.onInsert != nil {
		m.onInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return Song{}, m.insertErr
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.songs[s.ID] = s
	return s, nil
}

func (m *memStore) UpdateByID(_ context.Context, id int64, in UpdateInput) (Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return Song{}, ErrSongNotFound
	}
	if in.Name != nil {
		s.Name = *in.Name
	}
	if in.Description != nil {
		s.Description = *in.Description
	}
	s.UpdatedAt = time.Now()
	m.songs[id] = s
	return s, nil
}

func (m *memStore) DeleteByID(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.songs[id]; !ok {
		return ErrSongNotFound
	}
	delete(m.songs, id)
	return nil
}

func (m *memStore) Page(_ context.Context, q PageQuery) (Page[SongRecord], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]SongRecord, 0, len(m.songs))
	for _, s := range m.songs {
		if q.SongKeyword != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(q.SongKeyword)) {
			continue
		}
		all = append(all, SongRecord{Song: s, UploaderName: m.names[s.UploaderID]})
	}
	sort.Slice(all, func(i, j int) bool {
		if q.Asc {
			return all[i].ID < all[j].ID
		}
		return all[i].ID > all[j].ID
	})
	start := int(q.Offset())
	if start > len(all) {
		start = len(all)
	}
	end := start + q.PageSize
	if end > len(all) {
		end = len(all)
	}
	return Page[SongRecord]{Items: all[start:end], Total: int64(len(all)), PageIndex: q.PageIndex, PageSize: q.PageSize}, nil
}

func (m *memStore) ExistingFileNames(_ context.Context, kind string, names []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]struct{}{}
	for _, s := range m.songs {
		if s.SourceType != kind {
			continue
		}
		for _, n := range names {
			if n == s.FileName {
				out[n] = struct{}{}
			}
		}
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.songs)
}

// flakyStrategy wraps a strategy and fails selected operations.
type flakyStrategy struct {
	storage.Strategy
	kind      string
	saveErr   error
	deleteErr error
	urlErr    error
}

func (f *flakyStrategy) Kind() string {
	if f.kind != "" {
		return f.kind
	}
	return f.Strategy.Kind()
}

func (f *flakyStrategy) Save(ctx context.Context, name string, content io.Reader, size int64, mime string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Strategy.Save(ctx, name, content, size, mime)
}

func (f *flakyStrategy) Delete(ctx context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Strategy.Delete(ctx, name)
}

func (f *flakyStrategy) URL(ctx context.Context, name string) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return f.Strategy.URL(ctx, name)
}

var errInjected = errors.New("injected failure")

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	svc    *Service
	store  *memStore
	local  *local.Strategy
	flaky  *flakyStrategy
	router *storage.Router
	logs   *syncBuffer
	dir    string
}

const (
	alice int64 = 1
	bob   int64 = 2
	admin int64 = 3
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "songs")
	logs := &syncBuffer{}
	log := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	loc, err := local.New(log, dir, "/files/")
	require.NoError(t, err)
	flaky := &flakyStrategy{Strategy: loc}
	router, err := storage.NewRouter(storage.KindLocal, flaky)
	require.NoError(t, err)

	u := fakeUsers{
		alice: {ID: alice, Name: "alice", Role: users.RoleUser},
		bob:   {ID: bob, Name: "bob", Role: users.RoleUser},
		admin: {ID: admin, Name: "root", Role: users.RoleAdmin},
	}
	store := newMemStore(u)
	svc := NewService(log, store, u, router, &seqIDs{}, 1<<20)
	return &harness{svc: svc, store: store, local: loc, flaky: flaky, router: router, logs: logs, dir: dir}
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

// mp3Bytes is an ID3v2 tag followed by MPEG-1 Layer III frames.
func mp3Bytes(frames int) []byte {
	var b bytes.Buffer
	b.Write([]byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 0})
	frame := make([]byte, 417)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x64})
	for i := 0; i < frames; i++ {
		b.Write(frame)
	}
	return b.Bytes()
}

func uploadInput(uploader int64, data []byte, name *string, filename string) UploadInput {
	return UploadInput{
		UploaderID:       uploader,
		Name:             name,
		OriginalFilename: filename,
		Content:          bytes.NewReader(data),
		Size:             int64(len(data)),
	}
}
