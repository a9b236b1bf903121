package convert

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/epub2md-web/internal/cover"
	"github.com/unalkalkan/epub2md-web/internal/epubgen"
	"github.com/unalkalkan/epub2md-web/internal/storage"
	"github.com/unalkalkan/epub2md-web/internal/workspace"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// fakeRunner imitates the converter: it records the call and runs fn against the
// source path, which is always the last argument.
type fakeRunner struct {
	calls [][]string
	fn    func(ctx context.Context, source string) (string, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.fn(ctx, args[len(args)-1])
}

type fixture struct {
	ws        *workspace.Workspace
	artifacts *storage.LocalAdapter
	runner    *fakeRunner
	orch      *Orchestrator
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New(workspace.Options{
		UploadsDir: filepath.Join(root, "uploads"),
		OutputsDir: filepath.Join(root, "outputs"),
	})
	require.NoError(t, err)
	artifacts, err := storage.NewLocalAdapter(filepath.Join(root, "artifacts"))
	require.NoError(t, err)

	runner := &fakeRunner{}
	orch := NewOrchestrator(ws,
		cover.NewReconciler("", 90, nil),
		epubgen.NewGenerator(epubgen.Options{}, nil),
		artifacts,
		Options{Command: "epub2md", Args: []string{"cli.cjs"}, Timeout: timeout, Runner: runner},
		nil)
	return &fixture{ws: ws, artifacts: artifacts, runner: runner, orch: orch}
}

func (f *fixture) upload(t *testing.T, name, content string) string {
	t.Helper()
	up, err := f.ws.StoreUpload(name, strings.NewReader(content))
	require.NoError(t, err)
	path, err := f.ws.UploadPath(up.FileName)
	require.NoError(t, err)
	return path
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func stemDir(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source))
}

func TestConvert_ReportedDirectory(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "My Book.epub", "epub")
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		dir := stemDir(source)
		writeTree(t, dir, map[string]string{
			"chapter1.md":      "# One\n",
			"images/cover.jpg": "JPEG",
			"notes.txt":        "ignored in file list",
		})
		return "Converting...\nOutput: " + dir + "\n", nil
	}

	res, err := f.orch.Convert(context.Background(), types.ConversionRequest{
		SourcePath: source,
		Mode:       types.ModeForward,
		Options:    types.ConversionOptions{Localize: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"epub2md", "cli.cjs", "-c", "--localize", source}, f.runner.calls[0])
	assert.Equal(t, filepath.Base(stemDir(source)), res.ResultID)
	assert.Equal(t, types.LocationDirectory, res.Location)
	assert.False(t, res.Degraded())
	assert.True(t, res.CoverReconciled)
	assert.Equal(t, []string{"chapter1.md", "images/cover.jpg"}, res.Files)
	assert.Equal(t, filepath.Join(f.ws.OutputsDir(), res.ResultID), res.OutputDir)
	assert.NoDirExists(t, stemDir(source), "result moved out of uploads")

	data, err := os.ReadFile(filepath.Join(res.OutputDir, "chapter1.md"))
	require.NoError(t, err)
	assert.Equal(t, cover.Block("cover.jpg")+"# One\n", string(data))
	assert.False(t, f.ws.InUse(res.ResultID), "conversion releases its token")
}

func TestConvert_MergedFile(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "book.epub", "epub")
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		dir := stemDir(source)
		writeTree(t, dir, map[string]string{
			"whole.md":               "![Cover](images/cover-image.png)\ntext\n",
			"other.md":               "untouched\n",
			"images/cover-image.png": "PNG?",
		})
		return "Output file: " + filepath.Join(dir, "whole.md") + "\n", nil
	}

	res, err := f.orch.Convert(context.Background(), types.ConversionRequest{
		SourcePath: source,
		Options:    types.ConversionOptions{Merge: true, MergeFileName: "whole.md", Autocorrect: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"epub2md", "cli.cjs", "-a", "--merge=whole.md", source}, f.runner.calls[0])
	assert.Equal(t, types.LocationMerged, res.Location)
	assert.Equal(t, filepath.Join(res.OutputDir, "whole.md"), res.OutputFile)

	whole, err := os.ReadFile(filepath.Join(res.OutputDir, "whole.md"))
	require.NoError(t, err)
	assert.Equal(t, "![Cover](./images/cover.jpg)\ntext\n", string(whole))
	other, err := os.ReadFile(filepath.Join(res.OutputDir, "other.md"))
	require.NoError(t, err)
	assert.Equal(t, "untouched\n", string(other), "only the merged document is reconciled")
	assert.FileExists(t, filepath.Join(res.OutputDir, "images", "cover.jpg"))
}

func TestConvert_DerivedLocationIsDegraded(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "book.epub", "epub")
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		writeTree(t, stemDir(source), map[string]string{"a.md": "a"})
		return "done\n", nil
	}

	res, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: source})
	require.NoError(t, err)
	assert.Equal(t, types.LocationDerived, res.Location)
	assert.True(t, res.Degraded())
	assert.False(t, res.CoverReconciled)
}

func TestConvert_ReportedPathOutsideSourceDirIsNotMoved(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "book.epub", "epub")
	elsewhere := filepath.Join(t.TempDir(), "precious")
	require.NoError(t, os.MkdirAll(elsewhere, 0755))
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		writeTree(t, stemDir(source), map[string]string{"a.md": "a"})
		return "Output: " + elsewhere + "\n", nil
	}

	res, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: source})
	require.NoError(t, err)
	assert.Equal(t, types.LocationDerived, res.Location)
	assert.DirExists(t, elsewhere)
}

func TestConvert_NoOutputDirectory(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "book.epub", "epub")
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		return "nothing written", nil
	}

	_, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: source})
	var toolErr *types.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "nothing written", toolErr.Output)
}

func TestConvert_ToolFailure(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "book.epub", "epub")
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		return "Error: bad epub", errors.New("exit status 1")
	}

	res, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: source})
	assert.Nil(t, res)
	var toolErr *types.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	assert.False(t, toolErr.TimedOut)
	assert.Equal(t, "Error: bad epub", toolErr.Output)
}

func TestConvert_Timeout(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	source := f.upload(t, "book.epub", "epub")
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		<-ctx.Done()
		return "partial", ctx.Err()
	}

	res, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: source})
	assert.Nil(t, res, "a timed out conversion references no output directory")
	var toolErr *types.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	assert.True(t, toolErr.TimedOut)
	assert.Equal(t, 20*time.Millisecond, toolErr.Timeout)
	assert.Contains(t, err.Error(), "20ms")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConvert_ClientCancelDoesNotAbortTool(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "book.epub", "epub")
	ctx, cancel := context.WithCancel(context.Background())
	f.runner.fn = func(runCtx context.Context, source string) (string, error) {
		cancel()
		if runCtx.Err() != nil {
			return "", runCtx.Err()
		}
		writeTree(t, stemDir(source), map[string]string{"a.md": "a"})
		return "", nil
	}

	_, err := f.orch.Convert(ctx, types.ConversionRequest{SourcePath: source})
	assert.NoError(t, err)
}

func TestConvert_ReplacesPreviousResult(t *testing.T) {
	f := newFixture(t, time.Minute)
	source := f.upload(t, "book.epub", "epub")
	run := 0
	f.runner.fn = func(ctx context.Context, source string) (string, error) {
		run++
		name := "first.md"
		if run == 2 {
			name = "second.md"
		}
		writeTree(t, stemDir(source), map[string]string{name: "x"})
		return "", nil
	}

	_, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: source})
	require.NoError(t, err)
	res, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: source})
	require.NoError(t, err)
	assert.Equal(t, []string{"second.md"}, res.Files)
}

func TestConvert_Validation(t *testing.T) {
	f := newFixture(t, time.Minute)
	_, err := f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: "/x/book.zip"})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.orch.Convert(context.Background(), types.ConversionRequest{SourcePath: "/x/book.epub", Mode: types.ModeReverse})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		opts types.ConversionOptions
		want []string
	}{
		{name: "defaults", want: []string{"-c", "/u/a b.epub"}},
		{name: "autocorrect", opts: types.ConversionOptions{Autocorrect: true}, want: []string{"-a", "/u/a b.epub"}},
		{name: "merge default name", opts: types.ConversionOptions{Merge: true, MergeFileName: "merged.md"}, want: []string{"-c", "--merge", "/u/a b.epub"}},
		{name: "merge custom name", opts: types.ConversionOptions{Merge: true, MergeFileName: "我的 书.md"}, want: []string{"-c", "--merge=我的 书.md", "/u/a b.epub"}},
		{name: "merge name ignored without merge", opts: types.ConversionOptions{MergeFileName: "x.md"}, want: []string{"-c", "/u/a b.epub"}},
		{name: "all", opts: types.ConversionOptions{Merge: true, Autocorrect: true, Localize: true}, want: []string{"-a", "--merge", "--localize", "/u/a b.epub"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs(tt.opts, "/u/a b.epub"))
		})
	}
}

func TestParseToolOutput(t *testing.T) {
	tests := []struct {
		name string
		text string
		want ToolOutput
	}{
		{name: "directory", text: "Parsing\nOutput: /tmp/up/book\n", want: ToolOutput{Kind: OutputDirectory, Path: "/tmp/up/book"}},
		{name: "output directory", text: "output directory: 'book dir'", want: ToolOutput{Kind: OutputDirectory, Path: "book dir"}},
		{name: "merged wins", text: "Output: /tmp/up/book\nOutput file: /tmp/up/book/merged.md\n", want: ToolOutput{Kind: OutputMergedFile, Path: "/tmp/up/book/merged.md"}},
		{name: "merged alone", text: "✔ Output file: /tmp/up/book/merged.md", want: ToolOutput{Kind: OutputMergedFile, Path: "/tmp/up/book/merged.md"}},
		{name: "ansi colours", text: "\x1b[32mOutput:\x1b[0m /tmp/up/book\r\n", want: ToolOutput{Kind: OutputDirectory, Path: "/tmp/up/book"}},
		{name: "unknown", text: "all done", want: ToolOutput{Kind: OutputUnknown}},
		{name: "empty", text: "", want: ToolOutput{Kind: OutputUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseToolOutput(tt.text))
		})
	}
}

func TestCheckTool(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.runner.fn = func(ctx context.Context, last string) (string, error) {
		return "Usage: epub2md [options] <file>", nil
	}
	require.NoError(t, f.orch.CheckTool(context.Background()))
	assert.Equal(t, []string{"epub2md", "cli.cjs", "-h"}, f.runner.calls[0])

	f.runner.fn = func(ctx context.Context, last string) (string, error) {
		return "something else", nil
	}
	assert.Error(t, f.orch.CheckTool(context.Background()))
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

func TestConvertReverse(t *testing.T) {
	f := newFixture(t, time.Minute)
	src := filepath.Join(t.TempDir(), "notes.zip")
	writeZip(t, src, map[string]string{
		"__MACOSX/._notes.md": "junk",
		"notes/notes.md":      "# My Notes\n\nHello\n",
	})
	source := f.upload(t, "notes.zip", mustRead(t, src))

	res, err := f.orch.ConvertReverse(context.Background(), types.ConversionRequest{
		SourcePath: source,
		Mode:       types.ModeReverse,
		OutputName: "Final.epub",
	})
	require.NoError(t, err)
	assert.Equal(t, "Final.epub", res.FileName)
	assert.Equal(t, "My Notes", res.Title)
	assert.Positive(t, res.Size)

	name, err := f.orch.ArtifactName(context.Background(), res.DownloadID)
	require.NoError(t, err)
	assert.Equal(t, "Final.epub", name)

	exists, err := f.artifacts.Exists(context.Background(), "epubs/"+res.DownloadID+"/Final.epub")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoDirExists(t, filepath.Join(f.ws.OutputsDir(), res.DownloadID), "work directory removed")
}

func TestConvertReverse_NoMarkdown(t *testing.T) {
	f := newFixture(t, time.Minute)
	src := filepath.Join(t.TempDir(), "x.zip")
	writeZip(t, src, map[string]string{"images/a.png": "x", ".hidden.md": "x"})
	source := f.upload(t, "x.zip", mustRead(t, src))

	_, err := f.orch.ConvertReverse(context.Background(), types.ConversionRequest{SourcePath: source})
	assert.ErrorIs(t, err, types.ErrNoMarkdownFound)
}

func TestConvertReverse_ZipSlip(t *testing.T) {
	f := newFixture(t, time.Minute)
	src := filepath.Join(t.TempDir(), "evil.zip")
	writeZip(t, src, map[string]string{"../../evil.md": "# x"})
	source := f.upload(t, "evil.zip", mustRead(t, src))

	_, err := f.orch.ConvertReverse(context.Background(), types.ConversionRequest{SourcePath: source})
	assert.ErrorIs(t, err, types.ErrPathSecurity)
}

func TestArtifactName_Rejects(t *testing.T) {
	f := newFixture(t, time.Minute)
	_, err := f.orch.ArtifactName(context.Background(), "../x")
	assert.ErrorIs(t, err, types.ErrPathSecurity)
	_, err = f.orch.ArtifactName(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestOutputFileName(t *testing.T) {
	assert.Equal(t, "Book.epub", outputFileName("Book.EPUB", "/w/notes.md"))
	assert.Equal(t, "notes.epub", outputFileName("  ", "/w/notes.md"))
	assert.Equal(t, "evil.epub", outputFileName("../evil", "/w/notes.md"))
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
