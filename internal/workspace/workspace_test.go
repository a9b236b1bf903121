package workspace

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/epub2md-web/internal/storage"
	"github.com/unalkalkan/epub2md-web/internal/util"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

func newTestWorkspace(t *testing.T, artifacts storage.Adapter) *Workspace {
	t.Helper()
	root := t.TempDir()
	ws, err := New(Options{
		UploadsDir: filepath.Join(root, "uploads"),
		OutputsDir: filepath.Join(root, "outputs"),
		Retention:  time.Hour,
		Artifacts:  artifacts,
	})
	require.NoError(t, err)
	return ws
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, util.TokenOf(a+"-book.epub"))
}

func TestStoreUpload(t *testing.T) {
	ws := newTestWorkspace(t, nil)

	up, err := ws.StoreUpload("../My Book.epub", strings.NewReader("epub bytes"))
	require.NoError(t, err)
	assert.Equal(t, types.ModeForward, up.Mode)
	assert.Equal(t, int64(10), up.Size)
	assert.True(t, strings.HasSuffix(up.FileName, "-My Book.epub"), up.FileName)

	path, err := ws.UploadPath(up.FileName)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "epub bytes", string(data))

	zipUp, err := ws.StoreUpload("notes.ZIP", strings.NewReader("zip"))
	require.NoError(t, err)
	assert.Equal(t, types.ModeReverse, zipUp.Mode)

	_, err = ws.StoreUpload("notes.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = ws.StoreUpload("", strings.NewReader("x"))
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestPathResolution(t *testing.T) {
	ws := newTestWorkspace(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(ws.OutputsDir(), "1-a-book", "images"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.OutputsDir(), "1-a-book", "images", "cover.jpg"), []byte("x"), 0644))

	_, err := ws.ResultPath("1-a-book")
	assert.NoError(t, err)
	_, err = ws.ResultFile("1-a-book", "images/cover.jpg")
	assert.NoError(t, err)

	_, err = ws.ResultPath("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = ws.ResultFile("1-a-book", "images")
	assert.ErrorIs(t, err, types.ErrNotFound)

	for _, bad := range []string{"..", "../uploads", "a/b", `..\x`} {
		_, err = ws.ResultPath(bad)
		assert.ErrorIs(t, err, types.ErrPathSecurity, bad)
	}
	_, err = ws.ResultFile("1-a-book", "../../uploads/secret")
	assert.ErrorIs(t, err, types.ErrPathSecurity)
	_, err = ws.UploadPath("../outputs/1-a-book")
	assert.ErrorIs(t, err, types.ErrPathSecurity)
}

func TestAcquire(t *testing.T) {
	ws := newTestWorkspace(t, nil)

	release := ws.Acquire("1-a-book")
	assert.True(t, ws.InUse("1-a-other.epub"), "same token counts as in use")
	release2 := ws.Acquire("1-a-book")
	release()
	release() // idempotent
	assert.True(t, ws.InUse("1-a-book"))
	release2()
	assert.False(t, ws.InUse("1-a-book"))
}

func TestBeginConversion(t *testing.T) {
	ws := newTestWorkspace(t, nil)

	end, err := ws.BeginConversion("1-a-book")
	require.NoError(t, err)
	_, err = ws.BeginConversion("1-a-book")
	assert.ErrorIs(t, err, types.ErrValidation)
	end()
	end2, err := ws.BeginConversion("1-a-book")
	require.NoError(t, err)
	end2()
}

func TestRemoveResult(t *testing.T) {
	ws := newTestWorkspace(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(ws.OutputsDir(), "1-a-book"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.UploadsDir(), "1-a-book.epub"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.UploadsDir(), "2-b-other.epub"), nil, 0644))

	release := ws.Acquire("1-a-book")
	require.NoError(t, ws.RemoveResult("1-a-book"))
	assert.DirExists(t, filepath.Join(ws.OutputsDir(), "1-a-book"), "in-use result survives")
	release()

	require.NoError(t, ws.RemoveResult("1-a-book"))
	assert.NoDirExists(t, filepath.Join(ws.OutputsDir(), "1-a-book"))
	assert.NoFileExists(t, filepath.Join(ws.UploadsDir(), "1-a-book.epub"))
	assert.FileExists(t, filepath.Join(ws.UploadsDir(), "2-b-other.epub"))
}

func TestScheduleCleanup(t *testing.T) {
	ws := newTestWorkspace(t, nil)
	ws.cleanupDelay = 10 * time.Millisecond
	dir := filepath.Join(ws.OutputsDir(), "1-a-book")
	require.NoError(t, os.MkdirAll(dir, 0755))

	ws.ScheduleCleanup("1-a-book")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestSweep(t *testing.T) {
	artifacts, err := storage.NewLocalAdapter(t.TempDir())
	require.NoError(t, err)
	ws := newTestWorkspace(t, artifacts)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	mk := func(path string, dir bool, mtime time.Time) {
		t.Helper()
		if dir {
			require.NoError(t, os.MkdirAll(path, 0755))
		} else {
			require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		}
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	mk(filepath.Join(ws.UploadsDir(), KeepFile), false, old)
	mk(filepath.Join(ws.UploadsDir(), "1-a-old.epub"), false, old)
	mk(filepath.Join(ws.UploadsDir(), "2-b-fresh.epub"), false, time.Now())
	mk(filepath.Join(ws.OutputsDir(), "1-a-old"), true, old)
	mk(filepath.Join(ws.OutputsDir(), "3-c-busy"), true, old)

	require.NoError(t, artifacts.Put(ctx, "epubs/1-a-old/old.epub", bytes.NewReader([]byte("epub"))))
	require.NoError(t, artifacts.Put(ctx, "epubs/2-b-fresh/fresh.epub", bytes.NewReader([]byte("epub"))))

	release := ws.Acquire("3-c-busy")
	defer release()

	// Artifacts were just written, so move the clock instead of their mtimes.
	ws.now = func() time.Time { return time.Now().Add(30 * time.Minute) }
	report := ws.Sweep(ctx)
	assert.Len(t, report.Removed, 2)
	assert.Empty(t, report.Artifacts)
	assert.Equal(t, 1, report.Skipped)

	assert.FileExists(t, filepath.Join(ws.UploadsDir(), KeepFile))
	assert.FileExists(t, filepath.Join(ws.UploadsDir(), "2-b-fresh.epub"))
	assert.DirExists(t, filepath.Join(ws.OutputsDir(), "3-c-busy"))
	assert.NoDirExists(t, filepath.Join(ws.OutputsDir(), "1-a-old"))

	ws.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	report = ws.Sweep(ctx)
	assert.ElementsMatch(t, []string{"epubs/1-a-old/old.epub", "epubs/2-b-fresh/fresh.epub"}, report.Artifacts)
	assert.DirExists(t, filepath.Join(ws.OutputsDir(), "3-c-busy"))
}

func TestRunStopsOnCancel(t *testing.T) {
	ws := newTestWorkspace(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
