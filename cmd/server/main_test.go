package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/epub2md-web/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "epub2md-web "+version+"\n", out)
}

func TestReconcileAndBundleCommands(t *testing.T) {
	root := t.TempDir()
	t.Setenv("E2M_WORKSPACE_UPLOADS_DIR", filepath.Join(root, "uploads"))
	t.Setenv("E2M_WORKSPACE_OUTPUTS_DIR", filepath.Join(root, "outputs"))
	t.Setenv("E2M_STORAGE_LOCAL_BASE_PATH", filepath.Join(root, "artifacts"))

	dir := filepath.Join(root, "Book")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chapter1.md"), []byte("# One\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "cover.jpg"), []byte("jpg"), 0644))

	out, err := execute(t, "reconcile", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "prepended")

	content, err := os.ReadFile(filepath.Join(dir, "chapter1.md"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "![Cover](./images/cover.jpg)"))

	output := filepath.Join(root, "out.zip")
	_, err = execute(t, "bundle", dir, "-o", output, "--name", "Renamed.md")
	require.NoError(t, err)

	zr, err := zip.OpenReader(output)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"Renamed/chapter1.md", "Renamed/images/cover.jpg"}, names)
}

func TestBundleCommandRemovesPartialOutput(t *testing.T) {
	root := t.TempDir()
	output := filepath.Join(root, "out.zip")

	_, err := execute(t, "bundle", filepath.Join(root, "missing"), "-o", output)
	require.Error(t, err)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "partial bundle must be removed")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(types.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
