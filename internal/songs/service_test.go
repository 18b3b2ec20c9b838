package songs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audioflow/audioflow/internal/apperr"
	"github.com/audioflow/audioflow/internal/media"
	"github.com/audioflow/audioflow/internal/storage"
)

func TestUploadStoresFileAndRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.svc.Upload(ctx, uploadInput(alice, mp3Bytes(20), nil, ""))
	require.NoError(t, err)

	fileName := fmt.Sprintf("%d.mp3", view.ID)
	assert.Equal(t, []string{fileName}, h.files(t))

	rec, err := h.store.GetByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, fileName, rec.FileName)
	assert.Equal(t, storage.KindLocal, rec.SourceType)
	assert.Equal(t, alice, rec.UploaderID)
	assert.Equal(t, int64(len(mp3Bytes(20))), rec.Size)
	assert.Greater(t, rec.Duration, time.Duration(0))

	assert.Equal(t, strconv.FormatInt(view.ID, 10), view.Name, "no name and no filename falls back to the id")
	assert.Equal(t, "/files/"+fileName, view.FileURL)
	assert.Equal(t, "alice", view.UploaderName)

	stored, err := os.ReadFile(filepath.Join(h.dir, fileName))
	require.NoError(t, err)
	assert.Equal(t, mp3Bytes(20), stored)
}

func TestUploadDerivesNameFromFilename(t *testing.T) {
	h := newHarness(t)
	view, err := h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4), nil, "C:\\music\\Night: Drive?.MP3"))
	require.NoError(t, err)
	assert.Equal(t, "Night  Drive", view.Name)

	named := "  Explicit  "
	view, err = h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4), &named, "ignored.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "Explicit", view.Name)
}

func TestUploadInsertFailureCompensates(t *testing.T) {
	h := newHarness(t)
	h.store.insertErr = errInjected

	_, err := h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4), nil, "a.mp3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	assert.Empty(t, h.files(t), "stored object must not outlive a failed insert")
	assert.Equal(t, 0, h.store.count())
	assert.Contains(t, h.logs.String(), "stored object removed")
}

func TestUploadCompensationFailureKeepsInsertError(t *testing.T) {
	h := newHarness(t)
	h.store.insertErr = errInjected
	h.flaky.deleteErr = storage.IOError("remove", "x", fmt.Errorf("permission denied"))

	_, err := h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4), nil, "a.mp3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.NotErrorIs(t, err, storage.ErrIO)

	logs := h.logs.String()
	assert.Contains(t, logs, "compensating delete failed")
	assert.Contains(t, logs, "backend=local")
	assert.Len(t, h.files(t), 1, "the orphan is logged, not hidden")
}

func TestUploadCompensationRunsAfterCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.store.onInsert = cancel
	h.store.insertErr = context.Canceled

	_, err := h.svc.Upload(ctx, uploadInput(alice, mp3Bytes(4), nil, ""))
	require.Error(t, err)
	assert.Empty(t, h.files(t))
}

func TestUploadEmptyInputHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, uploadInput(alice, nil, nil, "empty.mp3"))
	assert.ErrorIs(t, err, ErrEmptyFile)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.svc.Upload(ctx, UploadInput{UploaderID: alice, Size: 10})
	assert.ErrorIs(t, err, ErrEmptyFile)

	assert.Empty(t, h.files(t))
	assert.Equal(t, 0, h.store.count())
}

func TestUploadTooLarge(t *testing.T) {
	h := newHarness(t)
	data := mp3Bytes(4)
	in := uploadInput(alice, data, nil, "")
	in.Size = 2 << 20

	_, err := h.svc.Upload(context.Background(), in)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, h.files(t))
}

func TestUploadUnknownUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Upload(context.Background(), uploadInput(99, mp3Bytes(4), nil, ""))
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, h.files(t))
}

func TestUploadUnsupportedContentWritesNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Upload(context.Background(), uploadInput(alice, []byte("just some text pretending to be audio"), nil, "fake.mp3"))
	assert.ErrorIs(t, err, media.ErrUnsupportedMediaType)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, h.files(t))
	assert.Equal(t, 0, h.store.count())
}

func TestUploadSaveFailureCreatesNoRecord(t *testing.T) {
	h := newHarness(t)
	h.flaky.saveErr = storage.IOError("put", "x", errInjected)

	_, err := h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4), nil, ""))
	assert.ErrorIs(t, err, storage.ErrIO)
	assert.ErrorIs(t, err, apperr.ErrIOFailure)
	assert.Equal(t, 0, h.store.count())
}

func TestUploadDurationIsAdvisory(t *testing.T) {
	h := newHarness(t)
	// An ID3 tag alone sniffs as mp3 but holds no frames.
	data := append([]byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 0}, bytes.Repeat([]byte{0}, 64)...)

	view, err := h.svc.Upload(context.Background(), uploadInput(alice, data, nil, ""))
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.DurationMS)
	assert.Contains(t, h.logs.String(), "probe duration failed")
}

func TestUploadURLFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.flaky.urlErr = storage.IOError("presign", "x", errInjected)

	view, err := h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4), nil, ""))
	require.NoError(t, err)
	assert.Empty(t, view.FileURL)
	assert.Equal(t, 1, h.store.count())
}

func TestConcurrentUploadsAreDistinct(t *testing.T) {
	h := newHarness(t)
	const n = 16

	var wg sync.WaitGroup
	views := make([]SongView, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i], errs[i] = h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4+i), nil, fmt.Sprintf("track-%d.mp3", i)))
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[views[i].ID])
		seen[views[i].ID] = true
		assert.Equal(t, fmt.Sprintf("track-%d", i), views[i].Name)
	}
	assert.Len(t, h.files(t), n)
	assert.Equal(t, n, h.store.count())
	for _, name := range h.files(t) {
		assert.False(t, strings.Contains(name, ".tmp"), name)
	}
}

func TestUploadUsesActiveBackendKind(t *testing.T) {
	h := newHarness(t)
	other := &flakyStrategy{Strategy: h.local, kind: "archive"}
	router, err := storage.NewRouter("archive", h.flaky, other)
	require.NoError(t, err)
	h.svc.router = router

	view, err := h.svc.Upload(context.Background(), uploadInput(alice, mp3Bytes(4), nil, ""))
	require.NoError(t, err)
	rec, err := h.store.GetByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "archive", rec.SourceType)
}

func upload(t *testing.T, h *harness, owner int64) SongView {
	t.Helper()
	view, err := h.svc.Upload(context.Background(), uploadInput(owner, mp3Bytes(4), nil, "song.mp3"))
	require.NoError(t, err)
	return view
}

func TestRemoveByOwner(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)

	require.NoError(t, h.svc.Remove(context.Background(), view.ID, alice))
	assert.Equal(t, 0, h.store.count())
	assert.Empty(t, h.files(t))
}

func TestRemoveByOtherUserIsForbidden(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)

	err := h.svc.Remove(context.Background(), view.ID, bob)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	assert.Equal(t, 1, h.store.count())
	assert.Len(t, h.files(t), 1)
}

func TestRemoveMissingSong(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.svc.Remove(context.Background(), 12345, alice), ErrSongNotFound)
	assert.ErrorIs(t, h.svc.RemoveForce(context.Background(), 12345), apperr.ErrNotFound)
}

func TestRemoveStoreFailureLeavesFile(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)
	h.store.deleteErr = errInjected

	err := h.svc.Remove(context.Background(), view.ID, alice)
	assert.ErrorIs(t, err, errInjected)
	assert.Len(t, h.files(t), 1)
	assert.Equal(t, 1, h.store.count())
}

func TestRemoveForceIgnoresOwnerAndSwallowsStorageFailure(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)
	h.flaky.deleteErr = storage.IOError("remove", "x", errInjected)

	require.NoError(t, h.svc.RemoveForce(context.Background(), view.ID))
	assert.Equal(t, 0, h.store.count())
	assert.Len(t, h.files(t), 1)
	assert.Contains(t, h.logs.String(), "delete stored object failed")
}

func TestRemoveAlreadyGoneObject(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)
	require.NoError(t, os.Remove(filepath.Join(h.dir, fmt.Sprintf("%d.mp3", view.ID))))

	require.NoError(t, h.svc.Remove(context.Background(), view.ID, alice))
	assert.Contains(t, h.logs.String(), "stored object already gone")
}

func TestPlayURL(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)

	url, err := h.svc.PlayURL(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.FileURL, url)

	_, err = h.svc.PlayURL(context.Background(), 777)
	assert.ErrorIs(t, err, ErrSongNotFound)
}

func TestPlayURLUnregisteredBackend(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Insert(context.Background(), Song{ID: 5, FileName: "5.mp3", SourceType: "ftp", UploaderID: alice})
	require.NoError(t, err)

	_, err = h.svc.PlayURL(context.Background(), 5)
	assert.ErrorIs(t, err, storage.ErrBackendNotConfigured)
	assert.ErrorIs(t, err, apperr.ErrBackendUnavailable)
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)
	ctx := context.Background()

	name, desc := " New name ", "fresh description"
	updated, err := h.svc.Update(ctx, view.ID, alice, UpdateInput{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "New name", updated.Name)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, view.FileURL, updated.FileURL)

	_, err = h.svc.Update(ctx, view.ID, bob, UpdateInput{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	forced := "by admin"
	updated, err = h.svc.UpdateForce(ctx, view.ID, UpdateInput{Name: &forced})
	require.NoError(t, err)
	assert.Equal(t, forced, updated.Name)
	assert.Equal(t, desc, updated.Description)

	rec, err := h.store.GetByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d.mp3", view.ID), rec.FileName)
	assert.Equal(t, storage.KindLocal, rec.SourceType)
}

func TestUpdateValidation(t *testing.T) {
	h := newHarness(t)
	view := upload(t, h, alice)
	ctx := context.Background()

	blank := "   "
	long := strings.Repeat("n", MaxNameRunes+1)
	longDesc := strings.Repeat("d", MaxDescriptionRunes+1)

	_, err := h.svc.Update(ctx, view.ID, alice, UpdateInput{})
	assert.ErrorIs(t, err, ErrNothingToUpdate)
	_, err = h.svc.Update(ctx, view.ID, alice, UpdateInput{Name: &blank})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = h.svc.Update(ctx, view.ID, alice, UpdateInput{Name: &long})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = h.svc.UpdateForce(ctx, view.ID, UpdateInput{Description: &longDesc})
	assert.ErrorIs(t, err, ErrInvalidDesc)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPage(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		upload(t, h, alice)
	}

	page, err := h.svc.Page(context.Background(), PageQuery{PageSize: 2, PageIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 2, page.PageIndex)
	require.Len(t, page.Items, 2)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID, "newest first by default")
	for _, item := range page.Items {
		assert.NotEmpty(t, item.FileURL)
		assert.Equal(t, "alice", item.UploaderName)
	}
}

func TestNormalizePageQuery(t *testing.T) {
	q, err := NormalizePageQuery(PageQuery{SongKeyword: "  rock "})
	require.NoError(t, err)
	assert.Equal(t, 1, q.PageIndex)
	assert.Equal(t, DefaultPageSize, q.PageSize)
	assert.Equal(t, "rock", q.SongKeyword)
	assert.Equal(t, uint64(0), q.Offset())

	q, err = NormalizePageQuery(PageQuery{PageIndex: 3, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, uint64(40), q.Offset())

	_, err = NormalizePageQuery(PageQuery{PageSize: MaxPageSize + 1})
	assert.ErrorIs(t, err, ErrInvalidPageQuery)
	_, err = NormalizePageQuery(PageQuery{PageIndex: -1})
	assert.ErrorIs(t, err, ErrInvalidPageQuery)
	_, err = NormalizePageQuery(PageQuery{UploaderKeyword: strings.Repeat("k", MaxKeywordRunes+1)})
	assert.ErrorIs(t, err, ErrInvalidKeyword)
}
